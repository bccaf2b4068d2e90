package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront-hooks/internal/instrument"
	"storefront-hooks/internal/metadata"
)

// DeliveryState tracks one subscriber's delivery of one event.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryBackoff   DeliveryState = "backoff"
	DeliveryExhausted DeliveryState = "exhausted"
)

const (
	backoffBase = 500 * time.Millisecond
	backoffMax  = 15 * time.Second
)

// Backoff returns the delay after the given failed attempt (1-based):
// 500ms, 1s, 2s, ... capped at 15s.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatcher fans a business event out to matching subscriptions.
type Dispatcher struct {
	store     SubscriptionStore
	client    *http.Client
	userAgent string
	evaluator ExpressionEvaluator
	sleep     Sleeper
}

type DispatcherOption func(*Dispatcher)

// WithHTTPClient replaces the outbound client. Per-attempt timeouts come from
// each subscription, so the client itself should not set one.
func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.client = c }
}

func WithUserAgent(ua string) DispatcherOption {
	return func(d *Dispatcher) {
		if ua != "" {
			d.userAgent = ua
		}
	}
}

func WithSleeper(s Sleeper) DispatcherOption {
	return func(d *Dispatcher) { d.sleep = s }
}

func WithEvaluator(e ExpressionEvaluator) DispatcherOption {
	return func(d *Dispatcher) { d.evaluator = e }
}

func NewDispatcher(store SubscriptionStore, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		client:    &http.Client{},
		userAgent: DefaultUserAgent,
		evaluator: NewExprLangEvaluator(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Emit delivers evt to subs, or to every active subscription listening for
// evt.Type when subs is nil. It waits for all deliveries to settle and only
// fails when the subscription list cannot be read.
func (d *Dispatcher) Emit(ctx context.Context, evt *metadata.OutgoingEvent, subs []*metadata.WebhookSubscription) error {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "webhook", "dispatcher", "webhook.emit")
	defer span.End()
	span.SetEntity("event", evt.ID)
	span.SetMetadata("event_type", evt.Type)

	if subs == nil {
		matched, err := d.matching(ctx, evt)
		if err != nil {
			span.SetStatus("error")
			return err
		}
		subs = matched
	}
	span.SetMetadata("subscribers", len(subs))
	if len(subs) == 0 {
		span.SetStatus("ok")
		return nil
	}

	body, err := evt.Canonical()
	if err != nil {
		span.SetStatus("error")
		return fmt.Errorf("serialize event %s: %w", evt.ID, err)
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *metadata.WebhookSubscription) {
			defer wg.Done()
			if err := d.deliver(ctx, sub, evt, body); err != nil {
				log.Printf("WARN: webhook %s gave up on %s: %v", sub.ID, evt.ID, err)
			}
		}(sub)
	}
	wg.Wait()

	span.SetStatus("ok")
	return nil
}

func (d *Dispatcher) matching(ctx context.Context, evt *metadata.OutgoingEvent) ([]*metadata.WebhookSubscription, error) {
	if d.store == nil {
		return nil, nil
	}
	all, err := d.store.List(ctx)
	if err != nil {
		if IsNotFound(err) {
			log.Printf("WARN: webhook subscriptions not found, skipping %s: %v", evt.Type, err)
			return nil, nil
		}
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	var out []*metadata.WebhookSubscription
	for _, sub := range all {
		if !sub.Wants(evt.Type) {
			continue
		}
		if strings.TrimSpace(sub.Condition) != "" {
			fire, err := d.evaluator.EvaluateBool(sub.Condition, conditionEnv(evt))
			if err != nil {
				log.Printf("ERROR: webhook %s condition evaluation: %v", sub.ID, err)
				continue
			}
			if !fire {
				continue
			}
		}
		out = append(out, sub)
	}
	return out, nil
}

// deliver runs attempts 1..retries+1 for one subscriber, recording every failure.
func (d *Dispatcher) deliver(ctx context.Context, sub *metadata.WebhookSubscription, evt *metadata.OutgoingEvent, body []byte) error {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "webhook", "dispatcher", "webhook.deliver")
	defer span.End()
	span.SetEntity("subscription", sub.ID)

	retries := sub.Retries
	if retries < 0 {
		retries = 0
	}
	timeout := time.Duration(sub.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = metadata.DefaultWebhookTimeoutMs * time.Millisecond
	}

	headers := ResolveHeaders(sub.Headers)
	headers["User-Agent"] = d.userAgent
	headers[HeaderSignature] = Sign(body, sub.Secret)
	headers[HeaderIdempotencyKey] = evt.ID

	var lastErr error
	for attempt := 1; attempt <= retries+1; attempt++ {
		span.SetMetadata("delivery_state", string(DeliveryPending))
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		res := DispatchWebhook(attemptCtx, d.client, sub.URL, http.MethodPost, headers, body)
		cancel()

		if res.OK() {
			span.SetMetadata("attempts", attempt)
			span.SetMetadata("delivery_state", string(DeliveryDelivered))
			span.SetStatus("ok")
			instrument.GetInstrumenter(ctx).EmitBusinessEvent(ctx, "webhook.delivered", "subscription", sub.ID,
				map[string]any{"event_id": evt.ID, "attempt": attempt})
			return nil
		}

		lastErr = errors.New(res.Error())
		d.recordFailure(ctx, sub, evt, attempt, res)

		if attempt <= retries {
			span.SetMetadata("delivery_state", string(DeliveryBackoff))
			if err := d.sleep(ctx, Backoff(attempt)); err != nil {
				lastErr = err
				break
			}
		}
	}

	span.SetMetadata("attempts", retries+1)
	span.SetMetadata("delivery_state", string(DeliveryExhausted))
	span.SetStatus("error")
	return fmt.Errorf("%s after %d attempts: %w", DeliveryExhausted, retries+1, lastErr)
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *metadata.WebhookSubscription, evt *metadata.OutgoingEvent, attempt int, res *DispatchResult) {
	if d.store == nil {
		return
	}
	rec := &metadata.WebhookFailureRecord{
		SubscriptionID: sub.ID,
		URL:            sub.URL,
		EventType:      evt.Type,
		Payload:        evt,
		Status:         res.StatusCode,
		ResponseBody:   res.ResponseBody,
		Attempt:        attempt,
		ErrorMessage:   res.Error(),
		Timestamp:      now(),
	}
	if err := d.store.RecordFailure(ctx, rec); err != nil {
		log.Printf("ERROR: record webhook failure for %s attempt %d: %v", sub.ID, attempt, err)
	}
}

// NewTargetSubscriptions builds ephemeral, zero-retry subscriptions for the
// given URLs. They are never persisted.
func NewTargetSubscriptions(urls []string, eventType string) []*metadata.WebhookSubscription {
	subs := make([]*metadata.WebhookSubscription, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		subs = append(subs, &metadata.WebhookSubscription{
			ID:        "target_" + uuid.New().String(),
			URL:       u,
			Events:    metadata.EventList{eventType},
			Active:    true,
			TimeoutMs: metadata.DefaultWebhookTimeoutMs,
			Retries:   0,
		})
	}
	return subs
}
