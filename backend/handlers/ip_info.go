package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"sort"
	"time"

	"ids-dashboard/backend/analytics"
	"ids-dashboard/backend/models"

	"github.com/gofiber/fiber/v2"
)

// IPInfoResponse aggregates all knowledge about an IP
type IPInfoResponse struct {
	IP           string                  `json:"ip"`
	Public       bool                    `json:"public"`
	CountryCode  string                  `json:"country_code,omitempty"`
	CountryName  string                  `json:"country_name"`
	Status       string                  `json:"status"` // "allowed", "blocked", "neutral"
	BlockReason  string                  `json:"block_reason,omitempty"`
	BlockTTL     int64                   `json:"block_ttl,omitempty"` // Seconds remaining
	Reputation   *analytics.IPReputation `json:"reputation,omitempty"`
	RecentAlerts []models.Alert          `json:"recent_alerts,omitempty"`
	WhoisLink    string                  `json:"whois_link"`
}

const recentAlertsPerIP = 5

// GetIPInfo returns everything the dashboard knows about an IP
// GET /api/ip/:ip
func (h *Handler) GetIPInfo(c *fiber.Ctx) error {
	raw := ipParam(c)
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid IP address"})
	}
	ip := addr.String()
	now := h.now()

	response := IPInfoResponse{
		IP:          ip,
		Public:      !(addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified() || addr.IsMulticast()),
		CountryName: analytics.UnknownCountry,
		Status:      "neutral",
		WhoisLink:   fmt.Sprintf("https://ipinfo.io/%s", ip),
	}

	// 1. Geolocation, cached; a provider failure leaves it Unknown
	if response.Public && h.Locator != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		if name, err := h.Locator.Country(ctx, ip); err == nil {
			response.CountryName = name
			if e, ok := h.Locator.Lookup(ip); ok {
				response.CountryCode = e.CountryCode
			}
		}
		cancel()
	}

	// 2. Whitelist, then active block
	for _, w := range h.Coord.Whitelist() {
		if w.IP == ip {
			response.Status = "allowed"
			response.BlockReason = "Whitelisted"
			if w.Note != "" {
				response.BlockReason += ": " + w.Note
			}
			break
		}
	}
	for _, b := range h.Coord.ActiveBlocks() {
		if b.IP != ip || b.Expired(now) {
			continue
		}
		response.Status = "blocked"
		response.BlockReason = fmt.Sprintf("Blocked by %s", b.Actor)
		if b.Reason != "" {
			response.BlockReason += ": " + b.Reason
		}
		if b.UnblockAt != nil {
			response.BlockTTL = int64(b.UnblockAt.Sub(now).Seconds())
		}
		break
	}

	// 3. Block history
	for _, r := range analytics.Reputation(h.Coord.BlockHistory()) {
		if r.IP == ip {
			rep := r
			response.Reputation = &rep
			break
		}
	}

	// 4. Recent alerts, newest first
	var matches []models.Alert
	for _, a := range h.Coord.Alerts() {
		if a.SrcIP == ip {
			matches = append(matches, a)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].DetectedAt.Equal(matches[j].DetectedAt) {
			return matches[i].DetectedAt.After(matches[j].DetectedAt)
		}
		return matches[i].ID > matches[j].ID
	})
	if len(matches) > recentAlertsPerIP {
		matches = matches[:recentAlertsPerIP]
	}
	response.RecentAlerts = matches

	return c.JSON(response)
}
