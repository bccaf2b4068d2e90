package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"storefront-hooks/internal/metadata"
	"storefront-hooks/internal/store"
)

const subscriptionColumns = "id, url, events, secret, active, timeout_ms, retries, description, condition, headers, created, updated"

const failureColumns = "id, subscription_id, url, event_type, payload, status, response_body, attempt, error_message, timestamp"

// SQLSubscriptionStore keeps subscriptions in _webhook_subscriptions and
// failures in _webhook_failures on Postgres or SQLite.
type SQLSubscriptionStore struct {
	store *store.Store
}

var _ SubscriptionStore = (*SQLSubscriptionStore)(nil)

func NewSQLSubscriptionStore(s *store.Store) *SQLSubscriptionStore {
	return &SQLSubscriptionStore{store: s}
}

func (s *SQLSubscriptionStore) List(ctx context.Context) ([]*metadata.WebhookSubscription, error) {
	rows, err := store.QueryRows(ctx, s.store.DB,
		"SELECT "+subscriptionColumns+" FROM _webhook_subscriptions ORDER BY created DESC")
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	if s.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, "active")
	}
	subs := make([]*metadata.WebhookSubscription, 0, len(rows))
	for _, row := range rows {
		sub, err := s.subscriptionFromRow(row)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *SQLSubscriptionStore) Create(ctx context.Context, sub *metadata.WebhookSubscription) (*metadata.WebhookSubscription, error) {
	cp := *sub
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.ApplyDefaults()
	cp.Created = now()
	cp.Updated = cp.Created

	headers, err := marshalHeaders(cp.Headers)
	if err != nil {
		return nil, err
	}

	pb := s.store.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, s.store.DB,
		fmt.Sprintf("INSERT INTO _webhook_subscriptions (%s) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)",
			subscriptionColumns,
			pb.Add(cp.ID), pb.Add(cp.URL), pb.Add(s.store.Dialect.ArrayParam(cp.Events)), pb.Add(cp.Secret),
			pb.Add(cp.Active), pb.Add(cp.TimeoutMs), pb.Add(cp.Retries), pb.Add(cp.Description),
			pb.Add(cp.Condition), pb.Add(headers), pb.Add(cp.Created), pb.Add(cp.Updated)),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", store.MapError(s.store.Dialect, err))
	}
	return &cp, nil
}

func (s *SQLSubscriptionStore) Update(ctx context.Context, id string, patch metadata.SubscriptionPatch) error {
	pb := s.store.Dialect.NewParamBuilder()
	var sets []string
	set := func(col string, v any) {
		sets = append(sets, col+" = "+pb.Add(v))
	}

	if patch.URL != nil {
		set("url", strings.TrimSpace(*patch.URL))
	}
	if patch.Events != nil {
		set("events", s.store.Dialect.ArrayParam(metadata.NormalizeEvents(*patch.Events)))
	}
	if patch.Secret != nil {
		set("secret", *patch.Secret)
	}
	if patch.Active != nil {
		set("active", *patch.Active)
	}
	if patch.TimeoutMs != nil {
		set("timeout_ms", *patch.TimeoutMs)
	}
	if patch.Retries != nil {
		set("retries", *patch.Retries)
	}
	if patch.Description != nil {
		set("description", *patch.Description)
	}
	if patch.Condition != nil {
		set("condition", *patch.Condition)
	}
	if patch.Headers != nil {
		headers, err := marshalHeaders(*patch.Headers)
		if err != nil {
			return err
		}
		set("headers", headers)
	}
	set("updated", now())

	_, err := store.QueryRow(ctx, s.store.DB,
		fmt.Sprintf("UPDATE _webhook_subscriptions SET %s WHERE id = %s RETURNING id", strings.Join(sets, ", "), pb.Add(id)),
		pb.Params()...)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSubscriptionNotFound
	}
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", id, err)
	}
	return nil
}

func (s *SQLSubscriptionStore) Delete(ctx context.Context, id string) error {
	pb := s.store.Dialect.NewParamBuilder()
	_, err := store.QueryRow(ctx, s.store.DB,
		fmt.Sprintf("DELETE FROM _webhook_subscriptions WHERE id = %s RETURNING id", pb.Add(id)), pb.Params()...)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSubscriptionNotFound
	}
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	return nil
}

func (s *SQLSubscriptionStore) RecordFailure(ctx context.Context, rec *metadata.WebhookFailureRecord) error {
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal failure payload: %w", err)
	}
	var status any
	if rec.Status != 0 {
		status = rec.Status
	}

	pb := s.store.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, s.store.DB,
		fmt.Sprintf("INSERT INTO _webhook_failures (%s) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)",
			failureColumns,
			pb.Add(id), pb.Add(rec.SubscriptionID), pb.Add(rec.URL), pb.Add(rec.EventType), pb.Add(string(payload)),
			pb.Add(status), pb.Add(rec.ResponseBody), pb.Add(rec.Attempt), pb.Add(rec.ErrorMessage), pb.Add(rec.Timestamp)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

func (s *SQLSubscriptionStore) ListFailures(ctx context.Context, subscriptionID string, limit int) ([]*metadata.WebhookFailureRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	pb := s.store.Dialect.NewParamBuilder()
	where := ""
	if subscriptionID != "" {
		where = " WHERE subscription_id = " + pb.Add(subscriptionID)
	}
	rows, err := store.QueryRows(ctx, s.store.DB,
		fmt.Sprintf("SELECT %s FROM _webhook_failures%s ORDER BY timestamp DESC LIMIT %s", failureColumns, where, pb.Add(limit)),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}

	recs := make([]*metadata.WebhookFailureRecord, 0, len(rows))
	for _, row := range rows {
		rec := &metadata.WebhookFailureRecord{
			ID:             toString(row["id"]),
			SubscriptionID: toString(row["subscription_id"]),
			URL:            toString(row["url"]),
			EventType:      toString(row["event_type"]),
			Status:         toInt(row["status"]),
			ResponseBody:   toString(row["response_body"]),
			Attempt:        toInt(row["attempt"]),
			ErrorMessage:   toString(row["error_message"]),
			Timestamp:      toString(row["timestamp"]),
		}
		if raw := toString(row["payload"]); raw != "" {
			var evt metadata.OutgoingEvent
			if err := json.Unmarshal([]byte(raw), &evt); err == nil {
				rec.Payload = &evt
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *SQLSubscriptionStore) subscriptionFromRow(row map[string]any) (*metadata.WebhookSubscription, error) {
	events, err := s.store.Dialect.ScanArray(row["events"])
	if err != nil {
		return nil, fmt.Errorf("subscription %v events: %w", row["id"], err)
	}
	sub := &metadata.WebhookSubscription{
		ID:          toString(row["id"]),
		URL:         toString(row["url"]),
		Events:      metadata.NormalizeEvents(events),
		Secret:      toString(row["secret"]),
		Active:      row["active"] == true,
		TimeoutMs:   toInt(row["timeout_ms"]),
		Retries:     toInt(row["retries"]),
		Description: toString(row["description"]),
		Condition:   toString(row["condition"]),
		Created:     toString(row["created"]),
		Updated:     toString(row["updated"]),
	}
	if raw := toString(row["headers"]); raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &sub.Headers); err != nil {
			return nil, fmt.Errorf("subscription %s headers: %w", sub.ID, err)
		}
	}
	sub.ApplyDefaults()
	return sub, nil
}

func marshalHeaders(h map[string]string) (string, error) {
	if len(h) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}
	return string(b), nil
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func toInt(v any) int {
	switch val := v.(type) {
	case int64:
		return int(val)
	case int32:
		return int(val)
	case int:
		return val
	case float64:
		return int(val)
	default:
		return 0
	}
}
