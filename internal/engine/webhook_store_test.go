package engine

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"storefront-hooks/internal/config"
	"storefront-hooks/internal/metadata"
	"storefront-hooks/internal/recordstore"
	"storefront-hooks/internal/store"
)

func TestMemorySubscriptionStoreCRUD(t *testing.T) {
	ctx := context.Background()
	st := NewMemorySubscriptionStore()

	a, err := st.Create(ctx, &metadata.WebhookSubscription{URL: "http://a", Events: metadata.EventList{" order.paid ", ""}, Active: true, Retries: -1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID == "" || a.Created == "" {
		t.Errorf("expected id and created to be assigned: %+v", a)
	}
	if a.TimeoutMs != metadata.DefaultWebhookTimeoutMs || a.Retries != metadata.DefaultWebhookRetries {
		t.Errorf("defaults not applied: timeout=%d retries=%d", a.TimeoutMs, a.Retries)
	}
	if len(a.Events) != 1 || a.Events[0] != "order.paid" {
		t.Errorf("events not normalized: %v", a.Events)
	}
	b, _ := st.Create(ctx, &metadata.WebhookSubscription{URL: "http://b", Events: metadata.EventList{"cart.abandoned"}, Active: true})

	subs, _ := st.List(ctx)
	if len(subs) != 2 || subs[0].ID != b.ID {
		t.Fatalf("expected newest first, got %+v", subs)
	}

	inactive := false
	if err := st.Update(ctx, a.ID, metadata.SubscriptionPatch{Active: &inactive}); err != nil {
		t.Fatalf("update: %v", err)
	}
	subs, _ = st.List(ctx)
	if subs[1].Active || subs[1].URL != "http://a" {
		t.Errorf("patch should only touch active: %+v", subs[1])
	}

	if err := st.Update(ctx, "missing", metadata.SubscriptionPatch{}); !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := st.Delete(ctx, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.Delete(ctx, b.ID); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("second delete should be not found, got %v", err)
	}
}

func TestMemoryListFailuresNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := NewMemorySubscriptionStore()
	for i := 1; i <= 3; i++ {
		st.RecordFailure(ctx, &metadata.WebhookFailureRecord{SubscriptionID: "s1", Attempt: i})
	}
	st.RecordFailure(ctx, &metadata.WebhookFailureRecord{SubscriptionID: "s2", Attempt: 1})

	recs, _ := st.ListFailures(ctx, "s1", 2)
	if len(recs) != 2 || recs[0].Attempt != 3 || recs[1].Attempt != 2 {
		t.Errorf("unexpected failures %+v", recs)
	}
	if all, _ := st.ListFailures(ctx, "", 0); len(all) != 4 {
		t.Errorf("expected 4 failures without filter, got %d", len(all))
	}
}

func TestShouldFallback(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not configured", recordstore.ErrNotConfigured, true},
		{"404", &recordstore.ResponseError{Status: 404}, true},
		{"401 wrapped", fmt.Errorf("list: %w", &recordstore.ResponseError{Status: 401}), true},
		{"403", &recordstore.ResponseError{Status: 403}, true},
		{"400", &recordstore.ResponseError{Status: 400, Message: "bad filter"}, false},
		{"500", &recordstore.ResponseError{Status: 500}, false},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"deadline", context.DeadlineExceeded, true},
		{"missing collection message", errors.New("Missing collection context"), true},
		{"no such host", errors.New("dial tcp: lookup pb.local: no such host"), true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldFallback(tt.err); got != tt.want {
				t.Errorf("ShouldFallback(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// failingStore returns err from every call.
type failingStore struct {
	err   error
	calls int
}

func (f *failingStore) List(context.Context) ([]*metadata.WebhookSubscription, error) {
	f.calls++
	return nil, f.err
}
func (f *failingStore) Create(context.Context, *metadata.WebhookSubscription) (*metadata.WebhookSubscription, error) {
	f.calls++
	return nil, f.err
}
func (f *failingStore) Update(context.Context, string, metadata.SubscriptionPatch) error {
	f.calls++
	return f.err
}
func (f *failingStore) Delete(context.Context, string) error {
	f.calls++
	return f.err
}
func (f *failingStore) RecordFailure(context.Context, *metadata.WebhookFailureRecord) error {
	f.calls++
	return f.err
}
func (f *failingStore) ListFailures(context.Context, string, int) ([]*metadata.WebhookFailureRecord, error) {
	f.calls++
	return nil, f.err
}

func TestFallbackStoreUsesFallbackOnMissingCollection(t *testing.T) {
	ctx := context.Background()
	primary := &failingStore{err: &recordstore.ResponseError{Status: 404, Message: "Missing collection context."}}
	mem := NewMemorySubscriptionStore()
	st := NewFallbackSubscriptionStore(primary, mem)

	created, err := st.Create(ctx, &metadata.WebhookSubscription{URL: "http://x", Events: metadata.EventList{"order.paid"}, Active: true})
	if err != nil {
		t.Fatalf("create should fall back: %v", err)
	}
	subs, err := st.List(ctx)
	if err != nil || len(subs) != 1 || subs[0].ID != created.ID {
		t.Fatalf("list should come from fallback: %v %+v", err, subs)
	}
	if err := st.RecordFailure(ctx, &metadata.WebhookFailureRecord{SubscriptionID: created.ID, Attempt: 1}); err != nil {
		t.Errorf("record failure never errors: %v", err)
	}
	if len(allFailures(mem)) != 1 {
		t.Errorf("failure should land in fallback")
	}
}

func TestFallbackStorePropagatesRequestErrors(t *testing.T) {
	ctx := context.Background()
	primary := &failingStore{err: &recordstore.ResponseError{Status: 400, Message: "invalid"}}
	mem := NewMemorySubscriptionStore()
	st := NewFallbackSubscriptionStore(primary, mem)

	if _, err := st.Create(ctx, &metadata.WebhookSubscription{URL: "http://x"}); recordstore.StatusCode(err) != 400 {
		t.Errorf("expected 400 to propagate, got %v", err)
	}
	if subs, _ := mem.List(ctx); len(subs) != 0 {
		t.Error("fallback must not be written on request errors")
	}
	if _, err := st.List(ctx); err == nil {
		t.Error("expected list error to propagate")
	}
	if err := st.RecordFailure(ctx, &metadata.WebhookFailureRecord{}); err != nil {
		t.Errorf("record failure never errors: %v", err)
	}
}

func TestFallbackListNeverFails(t *testing.T) {
	st := NewFallbackSubscriptionStore(
		&failingStore{err: recordstore.ErrNotConfigured},
		&failingStore{err: errors.New("disk full")},
	)
	subs, err := st.List(context.Background())
	if err != nil || subs == nil || len(subs) != 0 {
		t.Errorf("expected empty list and no error, got %v %v", subs, err)
	}
}

func TestRemoteSubscriptionStore(t *testing.T) {
	var authCalls int
	var created map[string]any
	var gotFilter string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/collections/_superusers/auth-with-password":
			authCalls++
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
		case r.Header.Get("Authorization") != "tok":
			w.WriteHeader(401)
		case r.Method == http.MethodGet && r.URL.Path == "/api/collections/webhook_subscriptions/records":
			w.Write([]byte(`{"page":1,"perPage":200,"totalPages":1,"items":[
				{"id":"s1","url":"http://a","events":"order.paid, order.created","active":true,"secret":"x","headers":"{\"X-A\":\"1\"}"},
				{"id":"s2","url":"http://b","events":["cart.abandoned"],"active":false,"retries":0,"headers":""}
			]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/collections/webhook_subscriptions/records":
			json.NewDecoder(r.Body).Decode(&created)
			created["id"] = "s3"
			json.NewEncoder(w).Encode(created)
		case r.Method == http.MethodGet && r.URL.Path == "/api/collections/webhook_failures/records":
			gotFilter = r.URL.Query().Get("filter")
			w.Write([]byte(`{"page":1,"totalPages":1,"items":[
				{"subscription_id":"s1","attempt":1,"timestamp":"2026-01-01T00:00:00.000Z"},
				{"subscription_id":"s1","attempt":2,"timestamp":"2026-01-01T00:00:01.000Z"}
			]}`))
		case r.Method == http.MethodPatch:
			w.WriteHeader(404)
			w.Write([]byte(`{"status":404,"message":"The requested resource wasn't found."}`))
		default:
			w.WriteHeader(500)
		}
	}))
	defer srv.Close()

	client := recordstore.New(config.RecordStoreConfig{URL: srv.URL, AdminEmail: "a@b.c", AdminPassword: "pw"})
	st := NewRemoteSubscriptionStore(client, "webhook_subscriptions", "webhook_failures")
	ctx := context.Background()

	subs, err := st.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}
	if !subs[0].Wants("order.created") || subs[0].Retries != metadata.DefaultWebhookRetries || subs[0].Headers["X-A"] != "1" {
		t.Errorf("first subscription decoded wrong: %+v", subs[0])
	}
	if subs[1].Retries != 0 || subs[1].Active {
		t.Errorf("explicit zero retries must be kept: %+v", subs[1])
	}

	sub, err := st.Create(ctx, &metadata.WebhookSubscription{URL: "http://c", Events: metadata.EventList{"order.paid"}, Active: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.ID != "s3" || created["timeout_ms"] != float64(metadata.DefaultWebhookTimeoutMs) {
		t.Errorf("unexpected create: %+v body=%v", sub, created)
	}

	recs, err := st.ListFailures(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list failures: %v", err)
	}
	if gotFilter != `subscription_id="s1"` {
		t.Errorf("unexpected filter %q", gotFilter)
	}
	if len(recs) != 2 || recs[0].Attempt != 2 {
		t.Errorf("failures should be newest first: %+v", recs)
	}

	if err := st.Update(ctx, "nope", metadata.SubscriptionPatch{}); !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if authCalls != 4 {
		t.Errorf("expected a fresh token per operation (4), got %d", authCalls)
	}
}

func TestSQLSubscriptionStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	st := NewSQLSubscriptionStore(store.Wrap(db, &store.SQLiteDialect{}))
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO _webhook_subscriptions`).
		WithArgs(anyArgs(12)...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	sub, err := st.Create(ctx, &metadata.WebhookSubscription{URL: "http://a", Events: metadata.EventList{"order.paid"}, Active: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.ID == "" || sub.TimeoutMs != metadata.DefaultWebhookTimeoutMs {
		t.Errorf("unexpected created subscription %+v", sub)
	}

	cols := strings.Split(strings.ReplaceAll(subscriptionColumns, " ", ""), ",")
	mock.ExpectQuery(`SELECT .* FROM _webhook_subscriptions ORDER BY created DESC`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("s1", "http://a", `["order.paid","order.created"]`, "sec", int64(1), int64(5000), int64(2), "", "", `{"X-A":"1"}`, "t1", "t1"))
	subs, err := st.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 || !subs[0].Wants("order.created") || subs[0].Retries != 2 || subs[0].Headers["X-A"] != "1" {
		t.Errorf("unexpected subscriptions %+v", subs)
	}

	mock.ExpectQuery(`UPDATE _webhook_subscriptions SET active = \?1, updated = \?2 WHERE id = \?3 RETURNING id`).
		WithArgs(false, sqlmock.AnyArg(), "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	inactive := false
	if err := st.Update(ctx, "missing", metadata.SubscriptionPatch{Active: &inactive}); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	mock.ExpectQuery(`UPDATE _webhook_subscriptions SET retries = \?1, updated = \?2 WHERE id = \?3 RETURNING id`).
		WithArgs(5, sqlmock.AnyArg(), "s1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	retries := 5
	if err := st.Update(ctx, "s1", metadata.SubscriptionPatch{Retries: &retries}); err != nil {
		t.Errorf("update: %v", err)
	}

	mock.ExpectQuery(`DELETE FROM _webhook_subscriptions WHERE id = \?1 RETURNING id`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	if err := st.Delete(ctx, "s1"); err != nil {
		t.Errorf("delete: %v", err)
	}
	mock.ExpectQuery(`DELETE FROM _webhook_subscriptions WHERE id = \?1 RETURNING id`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if err := st.Delete(ctx, "s1"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}

	mock.ExpectExec(`INSERT INTO _webhook_failures`).
		WithArgs(anyArgs(10)...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := st.RecordFailure(ctx, &metadata.WebhookFailureRecord{SubscriptionID: "s1", Attempt: 1, Payload: testEvent()}); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	fcols := strings.Split(strings.ReplaceAll(failureColumns, " ", ""), ",")
	mock.ExpectQuery(`SELECT .* FROM _webhook_failures WHERE subscription_id = \?1 ORDER BY timestamp DESC LIMIT \?2`).
		WithArgs("s1", 5).
		WillReturnRows(sqlmock.NewRows(fcols).
			AddRow("f1", "s1", "http://a", "order.paid", `{"id":"evt_1","type":"order.paid"}`, int64(500), "oops", int64(1), "HTTP 500", "t2"))
	recs, err := st.ListFailures(ctx, "s1", 5)
	if err != nil {
		t.Fatalf("list failures: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != 500 || recs[0].Payload == nil || recs[0].Payload.ID != "evt_1" {
		t.Errorf("unexpected failures %+v", recs)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}
