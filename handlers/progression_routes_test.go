package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"progression-system/models"
	"progression-system/services"
	"progression-system/store"

	"github.com/gofiber/fiber/v2"
)

func newTestApp(t *testing.T) (*fiber.App, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(store.Options{Backoff: time.Millisecond})
	eng, err := services.NewEngine(st, services.DefaultEngineConfig())
	if err != nil {
		t.Fatal(err)
	}
	app := fiber.New()
	SetupProgressionRoutes(app, NewProgressionHandler(eng, time.UTC), nil)
	return app, st
}

func doJSON(t *testing.T, app *fiber.App, method, path, userID, roles string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestGetProgress_RequiresUser(t *testing.T) {
	app, _ := newTestApp(t)
	status, body := doJSON(t, app, http.MethodGet, "/user/progress", "", "", nil)
	if status != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401 (%v)", status, body)
	}
}

func TestGetProgress_Defaults(t *testing.T) {
	app, _ := newTestApp(t)
	status, body := doJSON(t, app, http.MethodGet, "/user/progress", "u1", "", nil)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 (%v)", status, body)
	}
	if body["level"] != float64(1) || body["next_level_xp"] != float64(100) {
		t.Errorf("body = %v", body)
	}
}

func TestRecordVideoProgress_Route(t *testing.T) {
	app, st := newTestApp(t)

	status, body := doJSON(t, app, http.MethodPost, "/user/progress/videos/v1", "u1", "",
		map[string]any{"title": "Intro", "percent": 100, "seconds_watched": 120})
	if status != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 (%v)", status, body)
	}
	if body["partial"] != false {
		t.Errorf("partial = %v, want false", body["partial"])
	}
	result, _ := body["result"].(map[string]any)
	if result["first_completion"] != true {
		t.Errorf("result = %v, want first completion", result)
	}

	status, body = doJSON(t, app, http.MethodGet, "/user/progress/badges", "u1", "", nil)
	if status != fiber.StatusOK {
		t.Fatalf("badges status = %d (%v)", status, body)
	}
	badges, _ := st.ListBadges(context.Background(), "u1")
	if len(badges) != 1 {
		t.Errorf("badges = %d, want 1", len(badges))
	}
}

func TestRecordVideoProgress_RouteValidation(t *testing.T) {
	app, _ := newTestApp(t)
	tests := []struct {
		name string
		body any
	}{
		{"percent too high", map[string]any{"percent": 150}},
		{"negative seconds", map[string]any{"percent": 10, "seconds_watched": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doJSON(t, app, http.MethodPost, "/user/progress/videos/v1", "u1", "", tt.body)
			if status != fiber.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%v)", status, body)
			}
		})
	}
}

func TestRecordVideoProgress_PartialFailure(t *testing.T) {
	app, st := newTestApp(t)
	st.FailOn("ListBadges", errors.New("unavailable"))

	status, body := doJSON(t, app, http.MethodPost, "/user/progress/videos/v1", "u1", "",
		map[string]any{"percent": 100, "seconds_watched": 60})
	if status != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 (%v)", status, body)
	}
	if body["partial"] != true {
		t.Errorf("partial = %v, want true", body["partial"])
	}
	steps, _ := body["failed_steps"].([]any)
	if len(steps) != 1 || steps[0] != "badges" {
		t.Errorf("failed_steps = %v, want [badges]", steps)
	}
}

func TestTouchStreak_Route(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := doJSON(t, app, http.MethodPost, "/user/progress/streak", "u1", "",
		map[string]any{"now": "2026-03-01T08:00:00Z"})
	if status != fiber.StatusOK {
		t.Fatalf("status = %d (%v)", status, body)
	}
	result, _ := body["result"].(map[string]any)
	if result["outcome"] != string(services.StreakStarted) {
		t.Errorf("outcome = %v, want started", result["outcome"])
	}

	status, body = doJSON(t, app, http.MethodPost, "/user/progress/streak", "u1", "",
		map[string]any{"now": "2026-03-02T08:00:00Z"})
	result, _ = body["result"].(map[string]any)
	if status != fiber.StatusOK || result["outcome"] != string(services.StreakContinued) {
		t.Errorf("status %d outcome %v, want continued", status, result["outcome"])
	}

	status, _ = doJSON(t, app, http.MethodPost, "/user/progress/streak", "u1", "", map[string]any{"now": "yesterday"})
	if status != fiber.StatusBadRequest {
		t.Errorf("bad timestamp status = %d, want 400", status)
	}
}

func TestTouchStreak_EmptyBodyUsesClock(t *testing.T) {
	app, _ := newTestApp(t)
	req := httptest.NewRequest(http.MethodPost, "/user/progress/streak", nil)
	req.Header.Set("X-User-ID", "u1")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestEvaluateBadges_Route(t *testing.T) {
	app, st := newTestApp(t)
	if err := st.IncrementField(context.Background(), "u1", "videos_watched", 10); err != nil {
		t.Fatal(err)
	}

	status, body := doJSON(t, app, http.MethodPost, "/user/progress/badges/evaluate", "u1", "", nil)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d (%v)", status, body)
	}
	result, _ := body["result"].(map[string]any)
	unlocked, _ := result["unlocked"].([]any)
	if len(unlocked) != 2 {
		t.Errorf("unlocked = %v, want first_video and videos_10", unlocked)
	}
}

func TestGrantXP_AdminOnly(t *testing.T) {
	app, st := newTestApp(t)
	grant := map[string]any{"user_id": "learner-1", "xp": 150, "reason": "contest"}

	if status, _ := doJSON(t, app, http.MethodPost, "/s/admin/xp/grant", "", "", grant); status != fiber.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", status)
	}
	if status, _ := doJSON(t, app, http.MethodPost, "/s/admin/xp/grant", "mod-1", "learner", grant); status != fiber.StatusForbidden {
		t.Errorf("non-admin status = %d, want 403", status)
	}

	status, body := doJSON(t, app, http.MethodPost, "/s/admin/xp/grant", "admin-1", "learner, admin", grant)
	if status != fiber.StatusOK {
		t.Fatalf("admin status = %d (%v)", status, body)
	}
	if body["levels_gained"] != float64(1) {
		t.Errorf("levels_gained = %v, want 1", body["levels_gained"])
	}
	p, _ := st.GetProgress(context.Background(), "learner-1")
	if p.Level != 2 || p.CurrentXP != 50 {
		t.Errorf("progress = (lvl %d, xp %d), want (2, 50)", p.Level, p.CurrentXP)
	}

	if status, _ := doJSON(t, app, http.MethodPost, "/s/admin/xp/grant", "admin-1", "admin",
		map[string]any{"user_id": "learner-1", "xp": 0}); status != fiber.StatusBadRequest {
		t.Errorf("zero XP status = %d, want 400", status)
	}
	if status, _ := doJSON(t, app, http.MethodPost, "/s/admin/xp/grant", "admin-1", "admin",
		map[string]any{"user_id": "learner-1", "xp": int64(1) << 62}); status != fiber.StatusBadRequest {
		t.Errorf("oversized XP status = %d, want 400", status)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrNotAuthenticated, fiber.StatusUnauthorized},
		{fmt.Errorf("wrap: %w", services.ErrValidation), fiber.StatusBadRequest},
		{fmt.Errorf("award: %w", services.ErrTransactionAborted), fiber.StatusConflict},
		{services.ErrRecordNotFound, fiber.StatusNotFound},
		{services.ErrNotImplemented, fiber.StatusNotImplemented},
		{errors.New("disk on fire"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteProgressEvent(t *testing.T) {
	var buf bytes.Buffer
	p := models.NewUserProgress("u1")
	if err := writeProgressEvent(&buf, &p); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "event: progress\ndata: {") || !strings.HasSuffix(out, "}\n\n") {
		t.Errorf("event = %q", out)
	}
	if strings.Count(out, "\n") != 3 {
		t.Errorf("payload must stay on one data line: %q", out)
	}
}

func TestStream_RequiresUser(t *testing.T) {
	app, _ := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/user/progress/stream", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
