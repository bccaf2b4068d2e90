package engine

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"storefront-hooks/internal/instrument"
	"storefront-hooks/internal/metadata"
)

// WebhookHandler serves event emission and subscription management.
type WebhookHandler struct {
	store      SubscriptionStore
	dispatcher *Dispatcher
	validator  *PayloadValidator
	evaluator  *ExprLangEvaluator

	defaultTimeoutMs int
	defaultRetries   int
}

func NewWebhookHandler(store SubscriptionStore, dispatcher *Dispatcher, validator *PayloadValidator, defaultTimeoutMs, defaultRetries int) *WebhookHandler {
	if defaultTimeoutMs <= 0 {
		defaultTimeoutMs = metadata.DefaultWebhookTimeoutMs
	}
	if defaultRetries < 0 {
		defaultRetries = metadata.DefaultWebhookRetries
	}
	return &WebhookHandler{
		store:            store,
		dispatcher:       dispatcher,
		validator:        validator,
		evaluator:        NewExprLangEvaluator(),
		defaultTimeoutMs: defaultTimeoutMs,
		defaultRetries:   defaultRetries,
	}
}

// RegisterWebhookRoutes adds /emit and the admin-guarded /subscriptions routes.
func RegisterWebhookRoutes(app fiber.Router, h *WebhookHandler, adminMiddleware ...fiber.Handler) {
	app.Post("/emit", h.Emit)

	subs := app.Group("/subscriptions", adminMiddleware...)
	subs.Get("/", h.List)
	subs.Post("/", h.Create)
	subs.Put("/:id", h.Update)
	subs.Delete("/:id", h.Delete)
	subs.Get("/:id/failures", h.Failures)
}

// EventRequest is the body of POST /emit and POST /automations/run.
type EventRequest struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata"`
	Targets   []string       `json:"targets"`
}

// parseEvent validates the raw body and builds the outgoing event.
func parseEvent(v *PayloadValidator, body []byte) (*metadata.OutgoingEvent, *EventRequest, error) {
	if appErr := v.ValidateEvent(body); appErr != nil {
		return nil, nil, appErr
	}
	var req EventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if strings.TrimSpace(req.Type) == "" {
		return nil, nil, ValidationError("type is required", []ErrorDetail{{Field: "type", Rule: "required", Message: "type is required"}})
	}
	evt := metadata.NewOutgoingEvent(req.ID, req.Type, req.Timestamp, req.Source, req.Data, req.Metadata)
	return evt, &req, nil
}

// Emit handles POST /emit. Delivery problems never fail the request.
func (h *WebhookHandler) Emit(c *fiber.Ctx) error {
	ctx := c.UserContext()
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "webhook", "handler", "webhook.emit_request")
	defer span.End()

	evt, req, err := parseEvent(h.validator, c.Body())
	if err != nil {
		span.SetStatus("error")
		return err
	}
	span.SetEntity("event", evt.ID)

	var subs []*metadata.WebhookSubscription
	if len(req.Targets) > 0 {
		subs = NewTargetSubscriptions(req.Targets, evt.Type)
	}
	if err := h.dispatcher.Emit(ctx, evt, subs); err != nil {
		log.Printf("ERROR: emit %s (%s): %v", evt.ID, evt.Type, err)
		span.SetMetadata("error", err.Error())
	}

	span.SetStatus("ok")
	return c.JSON(fiber.Map{"ok": true, "id": evt.ID})
}

func (h *WebhookHandler) List(c *fiber.Ctx) error {
	subs, err := h.store.List(c.UserContext())
	if err != nil {
		return UpstreamError("Failed to list subscriptions", err)
	}
	if subs == nil {
		subs = []*metadata.WebhookSubscription{}
	}
	return c.JSON(fiber.Map{"data": subs})
}

type createSubscriptionRequest struct {
	URL         string             `json:"url"`
	Events      metadata.EventList `json:"events"`
	Secret      string             `json:"secret"`
	Active      *bool              `json:"active"`
	TimeoutMs   *int               `json:"timeout_ms"`
	Retries     *int               `json:"retries"`
	Description string             `json:"description"`
	Condition   string             `json:"condition"`
	Headers     map[string]string  `json:"headers"`
}

func (h *WebhookHandler) Create(c *fiber.Ctx) error {
	body := c.Body()
	if appErr := h.validator.ValidateSubscription(body); appErr != nil {
		return appErr
	}
	var req createSubscriptionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	sub := &metadata.WebhookSubscription{
		URL:         strings.TrimSpace(req.URL),
		Events:      metadata.NormalizeEvents(req.Events),
		Secret:      req.Secret,
		Active:      true,
		TimeoutMs:   h.defaultTimeoutMs,
		Retries:     h.defaultRetries,
		Description: req.Description,
		Condition:   strings.TrimSpace(req.Condition),
		Headers:     req.Headers,
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	if req.TimeoutMs != nil {
		sub.TimeoutMs = *req.TimeoutMs
	}
	if req.Retries != nil {
		sub.Retries = *req.Retries
	}

	if sub.URL == "" || len(sub.Events) == 0 {
		return ValidationError("url and events are required", nil)
	}
	if sub.Condition != "" {
		if err := h.evaluator.Compile(sub.Condition); err != nil {
			return ValidationError("Invalid condition", []ErrorDetail{{Field: "condition", Rule: "expression", Message: err.Error()}})
		}
	}

	created, err := h.store.Create(c.UserContext(), sub)
	if err != nil {
		return UpstreamError("Failed to create subscription", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": created})
}

func (h *WebhookHandler) Update(c *fiber.Ctx) error {
	id := c.Params("id")
	if appErr := h.validator.ValidateSubscriptionPatch(c.Body()); appErr != nil {
		return appErr
	}
	var patch metadata.SubscriptionPatch
	if err := json.Unmarshal(c.Body(), &patch); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if patch.Condition != nil && strings.TrimSpace(*patch.Condition) != "" {
		if err := h.evaluator.Compile(*patch.Condition); err != nil {
			return ValidationError("Invalid condition", []ErrorDetail{{Field: "condition", Rule: "expression", Message: err.Error()}})
		}
	}

	if err := h.store.Update(c.UserContext(), id, patch); err != nil {
		if IsNotFound(err) {
			return NotFoundError("Subscription", id)
		}
		return UpstreamError("Failed to update subscription", err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"updated": true}})
}

func (h *WebhookHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.store.Delete(c.UserContext(), id); err != nil {
		if IsNotFound(err) {
			return NotFoundError("Subscription", id)
		}
		return UpstreamError("Failed to delete subscription", err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"deleted": true}})
}

// Failures handles GET /subscriptions/:id/failures.
func (h *WebhookHandler) Failures(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	recs, err := h.store.ListFailures(c.UserContext(), c.Params("id"), limit)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return UpstreamError("Failed to list failures", err)
	}
	if recs == nil {
		recs = []*metadata.WebhookFailureRecord{}
	}
	return c.JSON(fiber.Map{"data": recs})
}
