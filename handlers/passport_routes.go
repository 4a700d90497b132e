// handlers/passport_routes.go
package handlers

import (
	"os"
	"path/filepath"
	"strings"

	"event-passport/services"

	"github.com/gofiber/fiber/v2"
)

func SetupPassportRoutes(app *fiber.App, catalog *services.PassportCatalog) {
	// 🔓 Public routes: no visitor context
	app.Get("/passports", func(c *fiber.Ctx) error {
		index, err := catalog.ListPassports()
		if err != nil {
			return writeError(c, err)
		}
		enabled := index.Passports[:0:0]
		for _, p := range index.Passports {
			if p.Enabled {
				enabled = append(enabled, p)
			}
		}
		return c.JSON(fiber.Map{"passports": enabled})
	})

	app.Get("/passports/default", func(c *fiber.Ctx) error {
		listing, err := catalog.DefaultPassport()
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(listing)
	})

	app.Get("/passports/:id", func(c *fiber.Ctx) error {
		passport, err := catalog.Load(c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		// ✅ claim secrets never leave the server
		return c.JSON(passport.Public())
	})

	app.Get("/passports/:id/assets/*", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if !services.ValidPassportID(id) {
			return writeError(c, services.ErrPassportNotFound)
		}
		rel := filepath.Clean("/" + c.Params("*"))
		if rel == "/" || strings.Contains(rel, "..") {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "asset not found"})
		}
		path := filepath.Join(catalog.Dir(id), "assets", rel)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "asset not found"})
		}
		c.Set(fiber.HeaderCacheControl, "public, max-age=3600")
		return c.SendFile(path)
	})
}
