package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"progression-system/middleware"
	"progression-system/models"

	"github.com/gofiber/fiber/v2"
)

// Stream pushes the caller's progress record as server-sent events: once on
// connect, then whenever the record changes.
func (h *ProgressionHandler) Stream(c *fiber.Ctx) error {
	userID := middleware.CurrentUserID(c)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "not authenticated",
		})
	}

	interval := h.StreamInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		ctx := context.Background()
		var last time.Time
		sent := false

		push := func() bool {
			prog, err := h.Engine.Progression.GetProgress(ctx, userID)
			if err != nil {
				log.Printf("SSE query error for user %s: %v", userID, err)
				return true
			}
			if sent && !prog.UpdatedAt.After(last) {
				return true
			}
			sent = true
			last = prog.UpdatedAt
			if err := writeProgressEvent(w, prog); err != nil {
				log.Printf("SSE encode error for user %s: %v", userID, err)
				return true
			}
			// Flush error means the client went away
			return w.Flush() == nil
		}

		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}
		if !push() {
			return
		}

		for {
			select {
			case <-ticker.C:
				if !push() {
					return
				}
			case <-done:
				return
			}
		}
	})

	return nil
}

func writeProgressEvent(w io.Writer, prog *models.UserProgress) error {
	payload, err := json.Marshal(prog)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload)
	return err
}
