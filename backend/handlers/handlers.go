package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"ids-dashboard/backend/gateway"
	"ids-dashboard/backend/services"
	"ids-dashboard/backend/system"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type Handler struct {
	DB      *gorm.DB
	Coord   *services.Coordinator
	Geo     *services.GeoRollupService
	Locator *services.CachedLocator
	Webhook *services.WebhookService

	jwtSecret []byte
	now       func() time.Time
}

func NewHandler(db *gorm.DB, coord *services.Coordinator, geo *services.GeoRollupService, loc *services.CachedLocator, webhook *services.WebhookService, jwtSecret string) *Handler {
	return &Handler{
		DB:        db,
		Coord:     coord,
		Geo:       geo,
		Locator:   loc,
		Webhook:   webhook,
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

// Register mounts every /api route on router.
func (h *Handler) Register(router fiber.Router) {
	api := router.Group("/api")

	// ===== Public Routes (No Auth Required) =====
	api.Post("/login", h.Login)

	// ===== Protected Routes (JWT Required) =====
	protected := api.Group("", h.JWTAuthMiddleware())

	// Auth
	protected.Put("/auth/password", h.ChangePassword)

	// Operators
	protected.Get("/users", h.GetUsers)
	protected.Post("/users", h.CreateUser)
	protected.Delete("/users/:id", h.DeleteUser)

	// Resource state
	protected.Get("/state", h.GetState)
	protected.Get("/alerts", h.GetAlerts)
	protected.Put("/alerts/limit", h.SetAlertLimit)
	protected.Get("/blocks", h.GetActiveBlocks)
	protected.Get("/blocks/history", h.GetBlockHistory)
	protected.Post("/blocks", h.BlockIP)
	protected.Delete("/blocks/:ip", h.UnblockIP)
	protected.Get("/whitelist", h.GetWhitelist)
	protected.Post("/whitelist", h.AddWhitelist)
	protected.Delete("/whitelist/:ip", h.RemoveWhitelist)
	protected.Get("/status", h.GetSystemStatus)
	protected.Get("/events", h.GetEvents)
	protected.Get("/training/stats", h.GetTrainingStats)
	protected.Post("/detect/preview", h.PreviewDetection)

	// Config and draft
	protected.Get("/config", h.GetConfig)
	protected.Put("/config", h.SaveConfig)
	protected.Get("/config/draft", h.GetDraft)
	protected.Patch("/config/draft", h.UpdateDraft)
	protected.Post("/config/draft/submit", h.SubmitDraft)
	protected.Delete("/config/draft", h.DiscardDraft)

	// Analytics
	analytics := protected.Group("/analytics")
	analytics.Get("/overview", h.GetOverview)
	analytics.Get("/trend", h.GetTrend)
	analytics.Get("/attack-types", h.GetAttackTypes)
	analytics.Get("/attack-types/catalog", h.GetAttackTypeCatalog)
	analytics.Get("/reputation", h.GetReputation)
	analytics.Get("/countries", h.GetCountries)
	analytics.Get("/sources", h.GetSources)

	// IP intelligence
	protected.Get("/ip/:ip", h.GetIPInfo)
	protected.Post("/geo/refresh", h.RefreshCountries)
	protected.Delete("/geo/cache", h.PurgeGeoCache)

	// Webhook
	protected.Post("/webhook/test", h.TestWebhook)
}

// fail maps an error to a JSON response. Validation problems are the
// caller's fault; backend failures are reported as a bad gateway with the
// backend's own message and status.
func fail(c *fiber.Ctx, err error) error {
	var verr *services.ValidationError
	var gerr *gateway.Error
	switch {
	case errors.As(err, &verr):
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, services.ErrDraftNotReady):
		return c.Status(http.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.As(err, &gerr):
		return c.Status(http.StatusBadGateway).JSON(fiber.Map{
			"error":          gerr.Message,
			"op":             gerr.Op,
			"backend_status": gerr.HTTPStatus,
		})
	case errors.Is(err, context.DeadlineExceeded):
		return c.Status(http.StatusGatewayTimeout).JSON(fiber.Map{"error": "Backend timed out"})
	default:
		system.Error("Request %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

// ipParam returns the :ip path parameter, unescaped.
func ipParam(c *fiber.Ctx) string {
	ip := c.Params("ip")
	if un, err := url.PathUnescape(ip); err == nil {
		return un
	}
	return ip
}
