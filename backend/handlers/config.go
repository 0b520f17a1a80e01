package handlers

import (
	"fmt"
	"net/http"

	"ids-dashboard/backend/models"

	"github.com/gofiber/fiber/v2"
)

// SaveConfig sends a partial config update straight to the backend
// PUT /api/config {"threshold": 0.8}
func (h *Handler) SaveConfig(c *fiber.Ctx) error {
	var update models.ConfigUpdate
	if err := c.BodyParser(&update); err != nil {
		return badBody(c)
	}
	if update.Empty() {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "No config fields to update"})
	}
	doc, err := h.Coord.SaveConfig(c.UserContext(), update)
	if err != nil {
		return fail(c, err)
	}
	AddEvent("success", configMessage(doc)+" by "+currentUser(c))
	return c.JSON(doc)
}

func (h *Handler) GetDraft(c *fiber.Ctx) error {
	return c.JSON(h.Coord.Draft())
}

// UpdateDraft edits the local draft only
func (h *Handler) UpdateDraft(c *fiber.Ctx) error {
	var update models.ConfigUpdate
	if err := c.BodyParser(&update); err != nil {
		return badBody(c)
	}
	draft, err := h.Coord.UpdateDraft(update)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(draft)
}

func (h *Handler) SubmitDraft(c *fiber.Ctx) error {
	doc, err := h.Coord.SubmitDraft(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	AddEvent("success", configMessage(doc)+" by "+currentUser(c))
	return c.JSON(h.Coord.Draft())
}

func (h *Handler) DiscardDraft(c *fiber.Ctx) error {
	return c.JSON(h.Coord.DiscardDraft())
}

func configMessage(doc models.ConfigDoc) string {
	state := "off"
	if doc.BlockingEnabled {
		state = "on"
	}
	return fmt.Sprintf("Config saved (threshold %.2f, block %ds, blocking %s)", doc.Threshold, doc.BlockDurationSec, state)
}
