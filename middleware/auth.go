// middleware/auth.go
package middleware

import (
	"errors"
	"strings"

	"event-passport/services"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// AdminAuthMiddleware validates the Bearer token issued by /admin/login.
func AdminAuthMiddleware(auth *services.AdminAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !auth.Enabled() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": services.ErrAdminDisabled.Error(),
			})
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			log.Printf("🚫 [ADMIN_AUTH] Missing Authorization header for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "admin token missing",
			})
		}

		// Parse "Bearer <token>"
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		if err := auth.Validate(token); err != nil {
			if !errors.Is(err, services.ErrInvalidToken) {
				log.Errorf("❌ [ADMIN_AUTH] %v", err)
			}
			log.Printf("❌ [ADMIN_AUTH] Invalid token for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired admin token",
			})
		}

		return c.Next()
	}
}
