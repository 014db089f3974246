// handlers/progression_routes.go
package handlers

import (
	"errors"
	"log"
	"time"

	"progression-system/middleware"
	"progression-system/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// ProgressionHandler exposes the progression engine over HTTP.
type ProgressionHandler struct {
	Engine         *services.Engine
	StreakLocation *time.Location
	StreamInterval time.Duration
	validate       *validator.Validate
}

func NewProgressionHandler(engine *services.Engine, streakLoc *time.Location) *ProgressionHandler {
	if streakLoc == nil {
		streakLoc = time.UTC
	}
	return &ProgressionHandler{
		Engine:         engine,
		StreakLocation: streakLoc,
		StreamInterval: 2 * time.Second,
		validate:       validator.New(),
	}
}

type touchStreakRequest struct {
	// Now overrides the server clock; RFC3339.
	Now string `json:"now" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type videoProgressRequest struct {
	Title          string  `json:"title" validate:"max=255"`
	Percent        float64 `json:"percent" validate:"gte=0,lte=100"`
	SecondsWatched float64 `json:"seconds_watched" validate:"gte=0"`
}

type grantXPRequest struct {
	UserID string `json:"user_id" validate:"required"`
	XP     int64  `json:"xp" validate:"required,min=1,max=1000000000"`
	Reason string `json:"reason" validate:"max=255"`
}

// SetupProgressionRoutes registers the user and admin routes. streamAuth
// authenticates the SSE stream; nil falls back to the gateway headers.
func SetupProgressionRoutes(app *fiber.App, h *ProgressionHandler, streamAuth fiber.Handler) {
	if streamAuth == nil {
		streamAuth = middleware.UserContextMiddleware()
	}
	app.Get("/user/progress/stream", streamAuth, h.Stream)

	// The gateway forwards /api/v1/progress/s/user/progress -> /user/progress
	user := app.Group("/user/progress", middleware.UserContextMiddleware())
	user.Get("/", h.GetProgress)
	user.Get("/videos", h.ListVideos)
	user.Get("/badges", h.ListBadges)
	user.Post("/streak", h.TouchStreak)
	user.Post("/videos/:videoId", h.RecordVideoProgress)
	user.Post("/badges/evaluate", h.EvaluateBadges)

	admin := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireRole(middleware.RoleAdmin))
	admin.Post("/xp/grant", h.GrantXP)
}

func (h *ProgressionHandler) GetProgress(c *fiber.Ctx) error {
	prog, err := h.Engine.Progression.GetProgress(c.UserContext(), middleware.CurrentUserID(c))
	if err != nil {
		return respondError(c, "failed to get progress", err)
	}
	return c.JSON(prog)
}

func (h *ProgressionHandler) ListVideos(c *fiber.Ctx) error {
	videos, err := h.Engine.Videos.ListVideos(c.UserContext(), middleware.CurrentUserID(c))
	if err != nil {
		return respondError(c, "failed to get videos", err)
	}
	return c.JSON(videos)
}

func (h *ProgressionHandler) ListBadges(c *fiber.Ctx) error {
	userID := middleware.CurrentUserID(c)
	if userID == "" {
		return respondError(c, "failed to get badges", services.ErrNotAuthenticated)
	}
	badges, err := h.Engine.Store.ListBadges(c.UserContext(), userID)
	if err != nil {
		return respondError(c, "failed to get badges", err)
	}
	return c.JSON(badges)
}

func (h *ProgressionHandler) TouchStreak(c *fiber.Ctx) error {
	var req touchStreakRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
	}
	if err := h.validate.Struct(req); err != nil {
		return respondError(c, "invalid streak request", errors.Join(services.ErrValidation, err))
	}

	now := time.Now().In(h.StreakLocation)
	if req.Now != "" {
		parsed, err := time.Parse(time.RFC3339, req.Now)
		if err != nil {
			return respondError(c, "invalid streak request", errors.Join(services.ErrValidation, err))
		}
		now = parsed.In(h.StreakLocation)
	}

	res, err := h.Engine.Streaks.TouchStreak(c.UserContext(), middleware.CurrentUserID(c), now)
	if res == nil {
		return respondError(c, "streak update failed", err)
	}
	if err != nil {
		// The streak moved; only the bonus failed.
		return c.JSON(fiber.Map{"result": res, "partial": true, "failed_steps": []string{"xp"}, "cause": err.Error()})
	}
	return c.JSON(fiber.Map{"result": res, "partial": false})
}

func (h *ProgressionHandler) RecordVideoProgress(c *fiber.Ctx) error {
	var req videoProgressRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid JSON",
			"cause": err.Error(),
		})
	}
	if err := h.validate.Struct(req); err != nil {
		return respondError(c, "invalid video progress", errors.Join(services.ErrValidation, err))
	}

	res, err := h.Engine.Videos.RecordVideoProgress(c.UserContext(), middleware.CurrentUserID(c), services.VideoProgressInput{
		VideoID:        c.Params("videoId"),
		Title:          req.Title,
		Percent:        req.Percent,
		SecondsWatched: req.SecondsWatched,
	})
	if res == nil {
		return respondError(c, "failed to record video progress", err)
	}
	if err != nil {
		log.Printf("⚠️ [VIDEO] Partial completion for %s: steps=%v", middleware.CurrentUserID(c), res.FailedSteps())
		return c.JSON(fiber.Map{"result": res, "partial": true, "failed_steps": res.FailedSteps(), "cause": err.Error()})
	}
	return c.JSON(fiber.Map{"result": res, "partial": false})
}

func (h *ProgressionHandler) EvaluateBadges(c *fiber.Ctx) error {
	res, err := h.Engine.Badges.RefreshAndEvaluate(c.UserContext(), middleware.CurrentUserID(c))
	if res == nil {
		return respondError(c, "badge evaluation failed", err)
	}
	if err != nil {
		return c.JSON(fiber.Map{"result": res, "partial": true, "failed_steps": []string{"xp"}, "cause": err.Error()})
	}
	return c.JSON(fiber.Map{"result": res, "partial": false})
}

func (h *ProgressionHandler) GrantXP(c *fiber.Ctx) error {
	var req grantXPRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid JSON",
			"cause": err.Error(),
		})
	}
	if err := h.validate.Struct(req); err != nil {
		return respondError(c, "invalid XP grant", errors.Join(services.ErrValidation, err))
	}

	reason := req.Reason
	if reason == "" {
		reason = "admin_grant"
	}
	res, err := h.Engine.Progression.AwardXP(c.UserContext(), req.UserID, req.XP, reason)
	if err != nil {
		return respondError(c, "XP award failed", err)
	}
	log.Printf("🛡️ [ADMIN] %s granted %d XP to %s", middleware.CurrentUserID(c), req.XP, req.UserID)

	return c.JSON(fiber.Map{
		"message":       "XP granted successfully",
		"user_id":       req.UserID,
		"xp":            req.XP,
		"levels_gained": res.LevelsGained,
		"progress":      res.Progress,
	})
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *fiber.Ctx, msg string, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error": msg,
		"cause": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotAuthenticated):
		return fiber.StatusUnauthorized
	case errors.Is(err, services.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrRecordNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrTransactionAborted):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrNotImplemented):
		return fiber.StatusNotImplemented
	default:
		return fiber.StatusInternalServerError
	}
}
