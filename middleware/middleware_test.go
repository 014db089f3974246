package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"progression-system/services"

	"github.com/gofiber/fiber/v2"
)

func echoUser(c *fiber.Ctx) error {
	return c.SendString(CurrentUserID(c))
}

func status(t *testing.T, app *fiber.App, req *http.Request) int {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode
}

func TestGatewayAuthMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("secret", "/open"))
	app.Get("/private", echoUser)
	app.Get("/open/stream", echoUser)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing header", "/private", "", fiber.StatusUnauthorized},
		{"wrong token", "/private", "Bearer nope", fiber.StatusUnauthorized},
		{"bearer token", "/private", "Bearer secret", fiber.StatusOK},
		{"raw token", "/private", "secret", fiber.StatusOK},
		{"skipped prefix", "/open/stream", "", fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := status(t, app, req); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUserContextMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(UserContextMiddleware())
	app.Get("/s/thing", echoUser)
	app.Get("/public", echoUser)

	if got := status(t, app, httptest.NewRequest(http.MethodGet, "/s/thing", nil)); got != fiber.StatusUnauthorized {
		t.Errorf("secured without user = %d, want 401", got)
	}
	if got := status(t, app, httptest.NewRequest(http.MethodGet, "/public", nil)); got != fiber.StatusOK {
		t.Errorf("public without user = %d, want 200", got)
	}
	req := httptest.NewRequest(http.MethodGet, "/s/thing", nil)
	req.Header.Set("X-User-ID", "u1")
	if got := status(t, app, req); got != fiber.StatusOK {
		t.Errorf("secured with user = %d, want 200", got)
	}
}

func TestRequireRole(t *testing.T) {
	app := fiber.New()
	app.Use(UserContextMiddleware(), RequireRole(RoleAdmin))
	app.Get("/s/admin/x", echoUser)

	tests := []struct {
		roles string
		want  int
	}{
		{"", fiber.StatusForbidden},
		{"learner", fiber.StatusForbidden},
		{"learner,Admin", fiber.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/s/admin/x", nil)
		req.Header.Set("X-User-ID", "u1")
		req.Header.Set("X-User-Roles", tt.roles)
		if got := status(t, app, req); got != tt.want {
			t.Errorf("roles %q: status = %d, want %d", tt.roles, got, tt.want)
		}
	}
}

type fakeValidator struct{}

func (fakeValidator) ValidateToken(ctx context.Context, token, deviceID string) (*services.ValidateResponse, error) {
	if token != "good" {
		return nil, errors.New("rejected")
	}
	return &services.ValidateResponse{UserID: "u1", DeviceID: deviceID}, nil
}

func TestSSEAuthMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/stream", SSEAuthMiddleware(fakeValidator{}), echoUser)

	tests := []struct {
		query string
		want  int
	}{
		{"", fiber.StatusBadRequest},
		{"?token=good", fiber.StatusBadRequest},
		{"?token=bad&device_id=d1", fiber.StatusUnauthorized},
		{"?token=good&device_id=d1", fiber.StatusOK},
	}
	for _, tt := range tests {
		if got := status(t, app, httptest.NewRequest(http.MethodGet, "/stream"+tt.query, nil)); got != tt.want {
			t.Errorf("query %q: status = %d, want %d", tt.query, got, tt.want)
		}
	}
}
