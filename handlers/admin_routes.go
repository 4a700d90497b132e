// handlers/admin_routes.go
package handlers

import (
	"strconv"

	"event-passport/middleware"
	"event-passport/services"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

func SetupAdminRoutes(app *fiber.App, auth *services.AdminAuth, editor *services.AdminEditor) {
	app.Post("/admin/login", func(c *fiber.Ctx) error {
		var body struct {
			Password string `json:"password"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		token, expires, err := auth.Login(body.Password)
		if err != nil {
			log.Warnf("🚫 [ADMIN] login failed from %s: %v", c.IP(), err)
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"token": token, "expiresAt": expires})
	})

	// 🔐 Admin routes: Bearer token from /admin/login
	admin := app.Group("/admin/passports/:id", middleware.AdminAuthMiddleware(auth))

	// Full document, secrets included
	admin.Get("/", func(c *fiber.Ctx) error {
		passport, err := editor.Catalog.Load(c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(passport)
	})

	admin.Put("/", func(c *fiber.Ctx) error {
		passport, err := editor.SavePassport(c.UserContext(), c.Params("id"), c.Body())
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(passport)
	})

	admin.Post("/upload", func(c *fiber.Ctx) error {
		file, err := c.FormFile("file")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
		}
		upload, err := editor.UploadAsset(c.UserContext(), c.Params("id"), file, c.FormValue("assetType", "image"))
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(upload)
	})

	admin.Post("/bundle", func(c *fiber.Ctx) error {
		file, err := c.FormFile("bundle")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bundle is required"})
		}
		passport, err := editor.ImportBundle(c.UserContext(), c.Params("id"), file)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(passport)
	})

	admin.Post("/badges/:badgeId/secret", func(c *fiber.Ctx) error {
		confirm, _ := strconv.ParseBool(c.Query("confirm", "false"))
		badge, err := editor.RegenerateClaimSecret(c.UserContext(), c.Params("id"), c.Params("badgeId"), confirm)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(badge)
	})

	admin.Post("/badges/:badgeId/qr", func(c *fiber.Ctx) error {
		badge, upload, err := editor.GenerateQrImage(c.UserContext(), c.Params("id"), c.Params("badgeId"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"badge": badge, "qrImage": upload})
	})
}
