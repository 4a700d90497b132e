// middleware/sse_auth.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// SSEVisitorMiddleware reads the visitor id from the `visitor_id` query
// param, since EventSource cannot send custom headers. Streams never mint
// ids: the visitor must already exist.
//
// Usage:
//
//	progress.Get("/notifications/stream", middleware.SSEVisitorMiddleware(), h.Stream)
func SSEVisitorMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		visitorID := strings.TrimSpace(c.Query("visitor_id"))
		if visitorID == "" {
			visitorID = strings.TrimSpace(c.Get(VisitorIDHeader))
		}

		if _, err := uuid.Parse(visitorID); err != nil {
			log.Warnf("[SSE] ❌ missing or malformed visitor_id on %s", c.Path())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing or invalid visitor_id in query",
			})
		}

		c.Locals(visitorIDLocal, visitorID)
		return c.Next()
	}
}
