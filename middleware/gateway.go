// middleware/gateway.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	VisitorIDHeader = "X-Visitor-ID"
	visitorIDLocal  = "visitor_id"
)

// VisitorContextMiddleware attaches the visitor identity. Visitors are
// anonymous: a missing id is minted and echoed back so the client can keep
// it; a malformed one is rejected.
func VisitorContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		visitorID := strings.TrimSpace(c.Get(VisitorIDHeader))
		if visitorID == "" {
			visitorID = uuid.NewString()
			log.Debugf("👤 [VISITOR] minted %s for %s", visitorID, c.Path())
		} else if _, err := uuid.Parse(visitorID); err != nil {
			log.Warnf("❌ [VISITOR] malformed %s on %s", VisitorIDHeader, c.Path())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "X-Visitor-ID must be a UUID",
			})
		}

		c.Set(VisitorIDHeader, visitorID)
		c.Locals(visitorIDLocal, visitorID)
		return c.Next()
	}
}

// VisitorID returns the id set by the visitor middlewares.
func VisitorID(c *fiber.Ctx) string {
	id, _ := c.Locals(visitorIDLocal).(string)
	return id
}
