package engine

import (
	"github.com/gofiber/fiber/v2"

	"storefront-hooks/internal/metadata"
)

// AutomationHandler exposes the runner over HTTP.
type AutomationHandler struct {
	runner    *Runner
	flows     FlowStore
	validator *PayloadValidator
}

func NewAutomationHandler(runner *Runner, flows FlowStore, validator *PayloadValidator) *AutomationHandler {
	return &AutomationHandler{runner: runner, flows: flows, validator: validator}
}

// RegisterAutomationRoutes adds the admin-guarded /automations routes.
func RegisterAutomationRoutes(app fiber.Router, h *AutomationHandler, adminMiddleware ...fiber.Handler) {
	g := app.Group("/automations", adminMiddleware...)
	g.Post("/run", h.Run)
	g.Get("/flows", h.ListFlows)
}

// Run handles POST /automations/run. The walk happens in the background.
func (h *AutomationHandler) Run(c *fiber.Ctx) error {
	evt, _, err := parseEvent(h.validator, c.Body())
	if err != nil {
		return err
	}
	h.runner.RunAsync(c.UserContext(), evt)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true, "id": evt.ID})
}

// ListFlows handles GET /automations/flows.
func (h *AutomationHandler) ListFlows(c *fiber.Ctx) error {
	flows, err := h.flows.ListFlows(c.UserContext())
	if err != nil {
		return UpstreamError("Failed to list automation flows", err)
	}
	if flows == nil {
		flows = []*metadata.AutomationFlow{}
	}
	return c.JSON(fiber.Map{"data": flows})
}
