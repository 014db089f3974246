// middleware/sse_auth.go
package middleware

import (
	"context"
	"log"
	"strings"

	"progression-system/services"

	"github.com/gofiber/fiber/v2"
)

// TokenValidator resolves an access token to its owner.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken, deviceID string) (*services.ValidateResponse, error)
}

// SSEAuthMiddleware validates `token` and `device_id` from query params,
// since EventSource clients cannot set headers.
//
// Usage:
//
//	app.Get("/user/progress/stream", middleware.SSEAuthMiddleware(authClient), h.Stream)
func SSEAuthMiddleware(auth TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		deviceID := strings.TrimSpace(c.Query("device_id"))

		if accessToken == "" || deviceID == "" {
			log.Printf("[SSEAuth] ❌ Missing query params on %s (token len=%d, device_id=%q)", c.Path(), len(accessToken), deviceID)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing token or device_id in query",
			})
		}

		resp, err := auth.ValidateToken(c.UserContext(), accessToken, deviceID)
		if err != nil {
			log.Printf("[SSEAuth] ❌ Validation failed for token (prefix: %.10s...), device %s: %v", accessToken, deviceID, err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		c.Locals(UserIDKey, resp.UserID)
		c.Locals(UserRolesKey, resp.Roles)
		c.Locals(DeviceIDKey, resp.DeviceID)

		log.Printf("[SSEAuth] ✅ Authenticated user %s (device %s)", resp.UserID, resp.DeviceID)
		return c.Next()
	}
}
