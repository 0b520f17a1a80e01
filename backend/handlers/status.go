package handlers

import (
	"net/http"
	"sync"
	"time"

	"ids-dashboard/backend/services"
	"ids-dashboard/backend/system"

	"github.com/gofiber/fiber/v2"
)

type SystemEvent struct {
	Time    string `json:"time"`
	Type    string `json:"type"` // info, warning, error, success
	Message string `json:"message"`
}

const maxEvents = 100

// Event log storage with mutex for thread safety
var (
	eventLog   []SystemEvent
	eventMutex sync.RWMutex
)

// AddEvent records an operator-visible event, newest first.
func AddEvent(eventType, message string) {
	eventMutex.Lock()
	defer eventMutex.Unlock()

	event := SystemEvent{
		Time:    time.Now().Format("15:04:05"),
		Type:    eventType,
		Message: message,
	}
	eventLog = append([]SystemEvent{event}, eventLog...)
	if len(eventLog) > maxEvents {
		eventLog = eventLog[:maxEvents]
	}

	switch eventType {
	case "error":
		system.Error("%s", message)
	case "warning":
		system.Warn("%s", message)
	default:
		system.Info("%s", message)
	}
}

// GetEventLog returns a copy of the event log
func GetEventLog() []SystemEvent {
	eventMutex.RLock()
	defer eventMutex.RUnlock()

	result := make([]SystemEvent, len(eventLog))
	copy(result, eventLog)
	return result
}

func (h *Handler) GetEvents(c *fiber.Ctx) error {
	return c.JSON(GetEventLog())
}

// GetState returns every resource slot plus the draft in one payload.
func (h *Handler) GetState(c *fiber.Ctx) error {
	return c.JSON(h.Coord.State())
}

func (h *Handler) GetAlerts(c *fiber.Ctx) error {
	return c.JSON(h.Coord.State().Alerts)
}

func (h *Handler) GetActiveBlocks(c *fiber.Ctx) error {
	return c.JSON(h.Coord.State().ActiveBlocks)
}

func (h *Handler) GetBlockHistory(c *fiber.Ctx) error {
	return c.JSON(h.Coord.State().BlockHistory)
}

func (h *Handler) GetWhitelist(c *fiber.Ctx) error {
	return c.JSON(h.Coord.State().Whitelist)
}

func (h *Handler) GetConfig(c *fiber.Ctx) error {
	return c.JSON(h.Coord.State().Config)
}

// GetSystemStatus returns the status slot with a derived health flag.
func (h *Handler) GetSystemStatus(c *fiber.Ctx) error {
	snap := h.Coord.Status()
	return c.JSON(fiber.Map{
		"slot":    services.SlotOf(snap),
		"healthy": snap.HasData && snap.Err == nil && snap.Data.Healthy(),
	})
}

func (h *Handler) GetTrainingStats(c *fiber.Ctx) error {
	stats, err := h.Coord.TrainingStats(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(stats)
}

// TestWebhook sends a test notification to the configured Discord webhook.
func (h *Handler) TestWebhook(c *fiber.Ctx) error {
	if !h.Webhook.IsEnabled() {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Discord webhook URL not configured"})
	}
	if err := h.Webhook.SendTestAlert(c.UserContext()); err != nil {
		return c.Status(http.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "Test notification sent successfully"})
}
