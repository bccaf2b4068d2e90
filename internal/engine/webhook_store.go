package engine

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"storefront-hooks/internal/metadata"
	"storefront-hooks/internal/recordstore"
	"storefront-hooks/internal/store"
)

var ErrSubscriptionNotFound = errors.New("webhook subscription not found")

// SubscriptionStore persists webhook subscriptions and their failure audit trail.
type SubscriptionStore interface {
	List(ctx context.Context) ([]*metadata.WebhookSubscription, error)
	Create(ctx context.Context, sub *metadata.WebhookSubscription) (*metadata.WebhookSubscription, error)
	Update(ctx context.Context, id string, patch metadata.SubscriptionPatch) error
	Delete(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, rec *metadata.WebhookFailureRecord) error
	ListFailures(ctx context.Context, subscriptionID string, limit int) ([]*metadata.WebhookFailureRecord, error)
}

// IsNotFound reports whether err means the subscription or its collection does not exist.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, store.ErrNotFound) ||
		recordstore.StatusCode(err) == http.StatusNotFound
}

// ShouldFallback reports whether a primary-store error means the backend is
// unusable (missing, unauthorized, unreachable) rather than the request being wrong.
func ShouldFallback(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, recordstore.ErrNotConfigured) {
		return true
	}
	switch recordstore.StatusCode(err) {
	case http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"missing collection", "collection not found", "connection refused", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func now() string {
	return time.Now().UTC().Format(metadata.TimestampLayout)
}

// MemorySubscriptionStore keeps subscriptions for the life of the process.
type MemorySubscriptionStore struct {
	mu       sync.RWMutex
	subs     []*metadata.WebhookSubscription // newest first
	failures []*metadata.WebhookFailureRecord
}

var _ SubscriptionStore = (*MemorySubscriptionStore)(nil)

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{}
}

func (m *MemorySubscriptionStore) List(_ context.Context) ([]*metadata.WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*metadata.WebhookSubscription, len(m.subs))
	for i, s := range m.subs {
		cp := *s
		out[i] = &cp
	}
	return out, nil
}

func (m *MemorySubscriptionStore) Create(_ context.Context, sub *metadata.WebhookSubscription) (*metadata.WebhookSubscription, error) {
	cp := *sub
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.ApplyDefaults()
	cp.Created = now()
	cp.Updated = cp.Created

	m.mu.Lock()
	m.subs = append([]*metadata.WebhookSubscription{&cp}, m.subs...)
	m.mu.Unlock()

	out := cp
	return &out, nil
}

func (m *MemorySubscriptionStore) Update(_ context.Context, id string, patch metadata.SubscriptionPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.ID == id {
			patch.Apply(s)
			s.Updated = now()
			return nil
		}
	}
	return ErrSubscriptionNotFound
}

func (m *MemorySubscriptionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.ID == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return nil
		}
	}
	return ErrSubscriptionNotFound
}

func (m *MemorySubscriptionStore) RecordFailure(_ context.Context, rec *metadata.WebhookFailureRecord) error {
	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	m.mu.Lock()
	m.failures = append(m.failures, &cp)
	m.mu.Unlock()
	return nil
}

func (m *MemorySubscriptionStore) ListFailures(_ context.Context, subscriptionID string, limit int) ([]*metadata.WebhookFailureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*metadata.WebhookFailureRecord
	for i := len(m.failures) - 1; i >= 0; i-- {
		f := m.failures[i]
		if subscriptionID != "" && f.SubscriptionID != subscriptionID {
			continue
		}
		cp := *f
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// FallbackSubscriptionStore routes to primary and drops to fallback whenever
// the primary backend is unusable.
type FallbackSubscriptionStore struct {
	primary  SubscriptionStore
	fallback SubscriptionStore
}

var _ SubscriptionStore = (*FallbackSubscriptionStore)(nil)

func NewFallbackSubscriptionStore(primary, fallback SubscriptionStore) *FallbackSubscriptionStore {
	return &FallbackSubscriptionStore{primary: primary, fallback: fallback}
}

// List never fails: a broken fallback yields an empty list.
func (f *FallbackSubscriptionStore) List(ctx context.Context) ([]*metadata.WebhookSubscription, error) {
	subs, err := f.primary.List(ctx)
	if err == nil {
		return subs, nil
	}
	if !ShouldFallback(err) {
		return nil, err
	}
	log.Printf("WARN: subscription store unavailable, using fallback for list: %v", err)
	subs, err = f.fallback.List(ctx)
	if err != nil {
		log.Printf("ERROR: fallback subscription list: %v", err)
		return []*metadata.WebhookSubscription{}, nil
	}
	return subs, nil
}

func (f *FallbackSubscriptionStore) Create(ctx context.Context, sub *metadata.WebhookSubscription) (*metadata.WebhookSubscription, error) {
	created, err := f.primary.Create(ctx, sub)
	if err == nil || !ShouldFallback(err) {
		return created, err
	}
	log.Printf("WARN: subscription store unavailable, using fallback for create: %v", err)
	return f.fallback.Create(ctx, sub)
}

func (f *FallbackSubscriptionStore) Update(ctx context.Context, id string, patch metadata.SubscriptionPatch) error {
	err := f.primary.Update(ctx, id, patch)
	if err == nil || !ShouldFallback(err) {
		return err
	}
	log.Printf("WARN: subscription store unavailable, using fallback for update %s: %v", id, err)
	return f.fallback.Update(ctx, id, patch)
}

func (f *FallbackSubscriptionStore) Delete(ctx context.Context, id string) error {
	err := f.primary.Delete(ctx, id)
	if err == nil || !ShouldFallback(err) {
		return err
	}
	log.Printf("WARN: subscription store unavailable, using fallback for delete %s: %v", id, err)
	return f.fallback.Delete(ctx, id)
}

// RecordFailure never returns an error; audit writes are best-effort.
func (f *FallbackSubscriptionStore) RecordFailure(ctx context.Context, rec *metadata.WebhookFailureRecord) error {
	err := f.primary.RecordFailure(ctx, rec)
	if err != nil && ShouldFallback(err) {
		log.Printf("WARN: failure store unavailable, using fallback: %v", err)
		err = f.fallback.RecordFailure(ctx, rec)
	}
	if err != nil {
		log.Printf("ERROR: record webhook failure for %s attempt %d: %v", rec.SubscriptionID, rec.Attempt, err)
	}
	return nil
}

func (f *FallbackSubscriptionStore) ListFailures(ctx context.Context, subscriptionID string, limit int) ([]*metadata.WebhookFailureRecord, error) {
	recs, err := f.primary.ListFailures(ctx, subscriptionID, limit)
	if err == nil || !ShouldFallback(err) {
		return recs, err
	}
	log.Printf("WARN: failure store unavailable, using fallback for list: %v", err)
	return f.fallback.ListFailures(ctx, subscriptionID, limit)
}

// sortFailuresNewestFirst orders records by timestamp, newest first.
func sortFailuresNewestFirst(recs []*metadata.WebhookFailureRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp > recs[j].Timestamp
	})
}
