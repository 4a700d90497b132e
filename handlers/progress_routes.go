// handlers/progress_routes.go
package handlers

import (
	"fmt"
	"strings"

	"event-passport/middleware"
	"event-passport/services"

	"github.com/gofiber/fiber/v2"
)

// ProgressHandler serves a visitor's progress on one passport.
type ProgressHandler struct {
	Sessions *services.SessionManager
	Streams  *services.NotificationStreamService
}

func SetupProgressRoutes(app *fiber.App, h *ProgressHandler, scanLimiter fiber.Handler) {
	if scanLimiter == nil {
		scanLimiter = func(c *fiber.Ctx) error { return c.Next() }
	}

	// SSE: identity comes from the query string
	app.Get("/passports/:id/progress/notifications/stream", middleware.SSEVisitorMiddleware(), h.Stream)

	// 🔐 Visitor routes: X-Visitor-ID required or minted
	progress := app.Group("/passports/:id/progress", middleware.VisitorContextMiddleware())

	progress.Get("/", h.withSession(func(c *fiber.Ctx, s *services.Session) error {
		return respond(c)(s.Snapshot())
	}))

	progress.Put("/name", h.withSession(func(c *fiber.Ctx, s *services.Session) error {
		var body struct {
			Name string `json:"name"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		name := strings.TrimSpace(body.Name)
		if name == "" || len([]rune(name)) > 64 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name must be 1-64 characters"})
		}
		return respond(c)(s.SetName(c.UserContext(), name))
	}))

	badges := progress.Group("/badges/:badgeId")

	badges.Post("/claim", h.withSession(func(c *fiber.Ctx, s *services.Session) error {
		var req services.ClaimRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
			}
		}
		return respond(c)(s.Claim(c.UserContext(), c.Params("badgeId"), req))
	}))

	badges.Post("/unclaim", h.withSession(func(c *fiber.Ctx, s *services.Session) error {
		return respond(c)(s.Unclaim(c.UserContext(), c.Params("badgeId")))
	}))

	badges.Post("/toggle", h.withSession(func(c *fiber.Ctx, s *services.Session) error {
		return respond(c)(s.Toggle(c.UserContext(), c.Params("badgeId")))
	}))

	badges.Post("/scan", scanLimiter, h.withSession(func(c *fiber.Ctx, s *services.Session) error {
		var body struct {
			Data string `json:"data"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		return respond(c)(s.ScanClaim(c.UserContext(), c.Params("badgeId"), body.Data))
	}))

	progress.Post("/honor-system/dismiss", h.withSession(func(c *fiber.Ctx, s *services.Session) error {
		return respond(c)(s.DismissHonorSystem(c.UserContext()))
	}))

	progress.Post("/reset", h.withSession(func(c *fiber.Ctx, s *services.Session) error {
		return respond(c)(s.ResetAll(c.UserContext()))
	}))

	progress.Get("/notifications/current", h.withSession(func(c *fiber.Ctx, s *services.Session) error {
		n, err := s.CurrentNotification()
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"notification": n})
	}))

	// Polling clients without the stream take pending sound cues here.
	// Draining consumes them, so use either this or the stream, not both.
	progress.Post("/sounds/drain", h.withSession(func(c *fiber.Ctx, s *services.Session) error {
		cues, err := s.DrainSoundCues()
		if err != nil {
			return writeError(c, err)
		}
		if cues == nil {
			cues = []string{}
		}
		return c.JSON(fiber.Map{"sounds": cues})
	}))

	progress.Post("/notifications/dismiss", h.withSession(func(c *fiber.Ctx, s *services.Session) error {
		return respond(c)(s.DismissNotification())
	}))

	progress.Get("/certificate", h.withSession(func(c *fiber.Ctx, s *services.Session) error {
		cert, err := s.Certificate()
		if err != nil {
			return writeError(c, err)
		}
		if c.Query("download") != "" {
			c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`,
				strings.TrimSuffix(cert.FileName, ".png")+".json"))
		}
		return c.JSON(cert)
	}))
}

// withSession resolves the visitor's session before calling fn.
func (h *ProgressHandler) withSession(fn func(*fiber.Ctx, *services.Session) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, err := h.Sessions.Get(c.UserContext(), c.Params("id"), middleware.VisitorID(c))
		if err != nil {
			return writeError(c, err)
		}
		return fn(c, session)
	}
}

func (h *ProgressHandler) Stream(c *fiber.Ctx) error {
	if err := h.Streams.StreamNotificationsSSE(c, c.Params("id"), middleware.VisitorID(c)); err != nil {
		return writeError(c, err)
	}
	return nil
}

// respond writes a snapshot or the error that replaced it.
func respond(c *fiber.Ctx) func(services.Snapshot, error) error {
	return func(snap services.Snapshot, err error) error {
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(snap)
	}
}
