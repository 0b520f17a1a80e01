package handlers

import (
	"context"
	"net/http"
	"time"

	"ids-dashboard/backend/analytics"
	"ids-dashboard/backend/models"
	"ids-dashboard/backend/services"

	"github.com/gofiber/fiber/v2"
)

// parseRange maps ?range= to a lookback. "all" means no cutoff.
func parseRange(s string) (time.Duration, bool) {
	switch s {
	case "1h":
		return time.Hour, true
	case "6h":
		return 6 * time.Hour, true
	case "", "24h":
		return 24 * time.Hour, true
	case "7d":
		return 7 * 24 * time.Hour, true
	case "all":
		return 0, true
	}
	return 0, false
}

func (h *Handler) GetOverview(c *fiber.Ctx) error {
	st := h.Coord.State()
	return c.JSON(analytics.Summarize(st.Alerts.Data, st.ActiveBlocks.Data, st.BlockHistory.Data, st.Whitelist.Data))
}

// GetTrend returns attack/benign counts per bucket
// GET /api/analytics/trend?window=1h|6h|24h|7d
func (h *Handler) GetTrend(c *fiber.Ctx) error {
	w, err := analytics.ParseWindow(c.Query("window"))
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(analytics.Trend(h.Coord.Alerts(), w, h.now()))
}

// GetAttackTypes returns the attack type breakdown
// GET /api/analytics/attack-types?range=1h|6h|24h|7d|all
func (h *Handler) GetAttackTypes(c *fiber.Ctx) error {
	rangeParam := c.Query("range", "24h")
	d, ok := parseRange(rangeParam)
	if !ok {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "range must be one of 1h, 6h, 24h, 7d, all"})
	}
	breakdown := analytics.AttackTypes(h.Coord.Alerts(), d, h.now())
	return c.JSON(fiber.Map{
		"range":         rangeParam,
		"total_attacks": breakdown.TotalAttacks,
		"types":         breakdown.Types,
	})
}

// GetAttackTypeCatalog lists the labels the classifier can emit with their
// chart colors.
func (h *Handler) GetAttackTypeCatalog(c *fiber.Ctx) error {
	return c.JSON(models.KnownAttackTypes())
}

func (h *Handler) GetReputation(c *fiber.Ctx) error {
	rows := analytics.Reputation(h.Coord.BlockHistory())
	if limit := c.QueryInt("limit", 0); limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return c.JSON(rows)
}

func (h *Handler) GetSources(c *fiber.Ctx) error {
	rows := analytics.NetworkRollup(h.Coord.Alerts())
	if limit := c.QueryInt("limit", 0); limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return c.JSON(rows)
}

// GetCountries returns the last completed country rollup. It is computed in
// the background, so a request never waits on geolocation.
func (h *Handler) GetCountries(c *fiber.Ctx) error {
	if h.Geo == nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "Geolocation is disabled"})
	}
	return c.JSON(services.SlotOf(h.Geo.Snapshot()))
}

func (h *Handler) RefreshCountries(c *fiber.Ctx) error {
	if h.Geo == nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "Geolocation is disabled"})
	}
	h.Geo.Refresh()
	AddEvent("info", "Country rollup refresh requested by "+currentUser(c))
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"message": "Refresh started"})
}

func (h *Handler) PurgeGeoCache(c *fiber.Ctx) error {
	if h.Locator == nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "Geolocation is disabled"})
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
	defer cancel()
	n, err := h.Locator.Purge(ctx)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"purged": n})
}
