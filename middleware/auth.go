// middleware/auth.go
package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	UserIDKey    = "user_id"
	UserRolesKey = "user_roles"
	DeviceIDKey  = "device_id"

	RoleAdmin = "admin"
)

// UserContextMiddleware extracts user identity and roles set by Gateway.
// Secured paths (/s/...) reject requests without X-User-ID; elsewhere the
// handler decides what an anonymous caller may do.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))

		path := c.Path()
		if strings.HasPrefix(path, "/s/") && userID == "" {
			log.Printf("❌ [USER_CTX] X-User-ID required but missing on secured route: %s", path)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		roles := parseRoles(c.Get("X-User-Roles"))
		c.Locals(UserIDKey, userID)
		c.Locals(UserRolesKey, roles)

		log.Printf("👤 [USER_CTX] UserID=%s, Roles=%v | Path: %s", userID, roles, path)
		return c.Next()
	}
}

// RequireRole rejects callers lacking role with 403.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !HasRole(c, role) {
			log.Printf("🚫 [USER_CTX] %s lacks role %q for %s", CurrentUserID(c), role, c.Path())
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "forbidden",
				"cause": "role " + role + " required",
			})
		}
		return c.Next()
	}
}

// CurrentUserID is the caller's external user id, or "" when anonymous.
func CurrentUserID(c *fiber.Ctx) string {
	id, _ := c.Locals(UserIDKey).(string)
	return id
}

func HasRole(c *fiber.Ctx, role string) bool {
	roles, _ := c.Locals(UserRolesKey).([]string)
	for _, r := range roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func parseRoles(raw string) []string {
	var roles []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
