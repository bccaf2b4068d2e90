package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"storefront-hooks/internal/metadata"
	"storefront-hooks/internal/recordstore"
)

// RemoteSubscriptionStore keeps subscriptions and failures in record-store collections.
type RemoteSubscriptionStore struct {
	client        *recordstore.Client
	subscriptions string
	failures      string
}

var _ SubscriptionStore = (*RemoteSubscriptionStore)(nil)

func NewRemoteSubscriptionStore(client *recordstore.Client, subscriptions, failures string) *RemoteSubscriptionStore {
	return &RemoteSubscriptionStore{client: client, subscriptions: subscriptions, failures: failures}
}

// subscriptionRecord tolerates the loose field types the record store hands back.
type subscriptionRecord struct {
	metadata.WebhookSubscription
	Retries *int            `json:"retries"`
	Headers json.RawMessage `json:"headers"`
}

func (r *subscriptionRecord) toSubscription() *metadata.WebhookSubscription {
	sub := r.WebhookSubscription
	sub.Retries = metadata.DefaultWebhookRetries
	if r.Retries != nil {
		sub.Retries = *r.Retries
	}
	sub.Headers = nil
	if len(r.Headers) > 0 {
		raw := []byte(r.Headers)
		// JSON fields stored as text come back as an encoded string.
		var encoded string
		if json.Unmarshal(raw, &encoded) == nil {
			raw = []byte(encoded)
		}
		var headers map[string]string
		if json.Unmarshal(raw, &headers) == nil {
			sub.Headers = headers
		}
	}
	sub.ApplyDefaults()
	return &sub
}

func decodeSubscription(raw []byte) (*metadata.WebhookSubscription, error) {
	var rec subscriptionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	return rec.toSubscription(), nil
}

func (s *RemoteSubscriptionStore) List(ctx context.Context) ([]*metadata.WebhookSubscription, error) {
	items, err := s.client.List(ctx, s.subscriptions, recordstore.ListOptions{Sort: "-created"})
	if err != nil {
		return nil, err
	}
	subs := make([]*metadata.WebhookSubscription, 0, len(items))
	for _, item := range items {
		sub, err := decodeSubscription(item)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *RemoteSubscriptionStore) Create(ctx context.Context, sub *metadata.WebhookSubscription) (*metadata.WebhookSubscription, error) {
	cp := *sub
	cp.ApplyDefaults()
	body := map[string]any{
		"url":         cp.URL,
		"events":      []string(cp.Events),
		"secret":      cp.Secret,
		"active":      cp.Active,
		"timeout_ms":  cp.TimeoutMs,
		"retries":     cp.Retries,
		"description": cp.Description,
	}
	if cp.Condition != "" {
		body["condition"] = cp.Condition
	}
	if len(cp.Headers) > 0 {
		body["headers"] = cp.Headers
	}

	var raw json.RawMessage
	if err := s.client.Create(ctx, s.subscriptions, body, &raw); err != nil {
		return nil, err
	}
	return decodeSubscription(raw)
}

func (s *RemoteSubscriptionStore) Update(ctx context.Context, id string, patch metadata.SubscriptionPatch) error {
	return s.client.Update(ctx, s.subscriptions, id, patch.Fields())
}

func (s *RemoteSubscriptionStore) Delete(ctx context.Context, id string) error {
	return s.client.Delete(ctx, s.subscriptions, id)
}

func (s *RemoteSubscriptionStore) RecordFailure(ctx context.Context, rec *metadata.WebhookFailureRecord) error {
	body := map[string]any{
		"subscription_id": rec.SubscriptionID,
		"url":             rec.URL,
		"event_type":      rec.EventType,
		"payload":         rec.Payload,
		"attempt":         rec.Attempt,
		"error_message":   rec.ErrorMessage,
		"timestamp":       rec.Timestamp,
	}
	if rec.Status != 0 {
		body["status"] = rec.Status
	}
	if rec.ResponseBody != "" {
		body["response_body"] = rec.ResponseBody
	}
	return s.client.Create(ctx, s.failures, body, nil)
}

func (s *RemoteSubscriptionStore) ListFailures(ctx context.Context, subscriptionID string, limit int) ([]*metadata.WebhookFailureRecord, error) {
	opts := recordstore.ListOptions{Sort: "-created"}
	if id := strings.TrimSpace(subscriptionID); id != "" {
		opts.Filter = "subscription_id=" + recordstore.Quote(id)
	}
	items, err := s.client.List(ctx, s.failures, opts)
	if err != nil {
		return nil, err
	}
	recs := make([]*metadata.WebhookFailureRecord, 0, len(items))
	for _, item := range items {
		var rec metadata.WebhookFailureRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, fmt.Errorf("decode failure record: %w", err)
		}
		recs = append(recs, &rec)
	}
	sortFailuresNewestFirst(recs)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}
