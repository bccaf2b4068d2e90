package instrument

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// EventHandler exposes the recorder over HTTP.
type EventHandler struct {
	recorder *Recorder
}

// NewEventHandler creates an EventHandler backed by the given recorder.
func NewEventHandler(recorder *Recorder) *EventHandler {
	return &EventHandler{recorder: recorder}
}

// Emit handles POST /_events, recording a custom business event.
func (h *EventHandler) Emit(c *fiber.Ctx) error {
	var body struct {
		Action   string         `json:"action"`
		Entity   string         `json:"entity"`
		RecordID string         `json:"record_id"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": fiber.Map{"code": "INVALID_PAYLOAD", "message": "Invalid JSON body"}})
	}
	if body.Action == "" {
		return c.Status(400).JSON(fiber.Map{"error": fiber.Map{"code": "VALIDATION_FAILED", "message": "action is required"}})
	}

	GetInstrumenter(c.UserContext()).EmitBusinessEvent(c.UserContext(), body.Action, body.Entity, body.RecordID, body.Metadata)
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "ok"}})
}

// List handles GET /_events with optional source, action, status and limit filters.
func (h *EventHandler) List(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit < 1 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	events := h.recorder.Recent(Filter{
		Source: c.Query("source"),
		Action: c.Query("action"),
		Status: c.Query("status"),
		Limit:  limit,
	})
	return c.JSON(fiber.Map{"data": events, "meta": fiber.Map{"buffered": h.recorder.Len()}})
}
