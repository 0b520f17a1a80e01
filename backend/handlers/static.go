package handlers

import (
	"os"
	"path/filepath"
	"strings"

	"ids-dashboard/backend/system"

	"github.com/gofiber/fiber/v2"
)

// ServeFrontend serves the built SPA from dir. Unknown non-API paths fall
// back to index.html so client-side routes survive a reload.
func ServeFrontend(app *fiber.App, dir string) {
	if _, err := os.Stat(filepath.Join(dir, "index.html")); err != nil {
		system.Warn("Frontend not found at %s, serving API only", dir)
		return
	}

	app.Static("/", dir, fiber.Static{
		ByteRange: true,
		Browse:    false,
		MaxAge:    3600,
	})

	app.Get("/*", func(c *fiber.Ctx) error {
		if strings.HasPrefix(c.Path(), "/api/") {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
		}
		return c.SendFile(filepath.Join(dir, "index.html"))
	})
}
