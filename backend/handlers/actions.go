package handlers

import (
	"fmt"
	"net/http"

	"ids-dashboard/backend/models"

	"github.com/gofiber/fiber/v2"
)

func badBody(c *fiber.Ctx) error {
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
}

// BlockIP issues a manual block
// POST /api/blocks {"ip": "...", "duration_sec": 600, "note": "..."}
func (h *Handler) BlockIP(c *fiber.Ctx) error {
	var req models.BlockRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if err := h.Coord.BlockIP(c.UserContext(), req); err != nil {
		return fail(c, err)
	}
	msg := "Blocked " + req.IP
	if req.DurationSec != nil {
		msg += fmt.Sprintf(" for %ds", *req.DurationSec)
	}
	AddEvent("warning", msg+" by "+currentUser(c))
	return c.Status(http.StatusCreated).JSON(h.Coord.State().ActiveBlocks)
}

func (h *Handler) UnblockIP(c *fiber.Ctx) error {
	ip := ipParam(c)
	if err := h.Coord.UnblockIP(c.UserContext(), ip); err != nil {
		return fail(c, err)
	}
	AddEvent("info", "Unblocked "+ip+" by "+currentUser(c))
	return c.JSON(h.Coord.State().ActiveBlocks)
}

func (h *Handler) AddWhitelist(c *fiber.Ctx) error {
	var req struct {
		IP   string `json:"ip"`
		Note string `json:"note"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if err := h.Coord.AddWhitelist(c.UserContext(), req.IP, req.Note); err != nil {
		return fail(c, err)
	}
	AddEvent("info", "Whitelisted "+req.IP+" by "+currentUser(c))
	return c.Status(http.StatusCreated).JSON(h.Coord.State().Whitelist)
}

func (h *Handler) RemoveWhitelist(c *fiber.Ctx) error {
	ip := ipParam(c)
	if err := h.Coord.RemoveWhitelist(c.UserContext(), ip); err != nil {
		return fail(c, err)
	}
	AddEvent("info", "Removed "+ip+" from whitelist by "+currentUser(c))
	return c.JSON(h.Coord.State().Whitelist)
}

// SetAlertLimit changes how many recent alerts are polled
// PUT /api/alerts/limit {"limit": 500}
func (h *Handler) SetAlertLimit(c *fiber.Ctx) error {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if err := h.Coord.SetAlertLimit(req.Limit); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"alert_limit": req.Limit})
}

// PreviewDetection scores a feature vector without recording anything
func (h *Handler) PreviewDetection(c *fiber.Ctx) error {
	var fv models.FeatureVector
	if err := c.BodyParser(&fv); err != nil {
		return badBody(c)
	}
	preview, err := h.Coord.PreviewDetection(c.UserContext(), fv)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(preview)
}
