package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"storefront-hooks/internal/config"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestNotConfigured(t *testing.T) {
	c := New(config.RecordStoreConfig{})
	if c.Configured() {
		t.Fatal("expected unconfigured client")
	}
	if _, err := c.List(context.Background(), "x", ListOptions{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("List: expected ErrNotConfigured, got %v", err)
	}
	if err := c.Delete(context.Background(), "x", "1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Delete: expected ErrNotConfigured, got %v", err)
	}
}

func TestAuthenticatesEveryOperation(t *testing.T) {
	var auths, lists int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/collections/_superusers/auth-with-password":
			atomic.AddInt32(&auths, 1)
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["identity"] != "admin@shop.test" || body["password"] != "pw" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
		case r.URL.Path == "/api/collections/hooks/records":
			atomic.AddInt32(&lists, 1)
			if r.Header.Get("Authorization") != "tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.URL.Query().Get("sort") != "-created" {
				t.Errorf("expected sort=-created, got %q", r.URL.Query().Get("sort"))
			}
			json.NewEncoder(w).Encode(map[string]any{"page": 1, "totalPages": 1, "items": []any{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	c := New(config.RecordStoreConfig{URL: srv.URL, AdminEmail: "admin@shop.test", AdminPassword: "pw"})
	for i := 0; i < 2; i++ {
		if _, err := c.List(context.Background(), "hooks", ListOptions{Sort: "-created"}); err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
	}
	if auths != 2 || lists != 2 {
		t.Errorf("expected 2 auths and 2 lists, got %d and %d", auths, lists)
	}
}

func TestListFetchesAllPages(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("expected no auth header without credentials")
		}
		page := r.URL.Query().Get("page")
		items := []map[string]string{{"id": "p" + page + "a"}, {"id": "p" + page + "b"}}
		json.NewEncoder(w).Encode(map[string]any{"page": page, "totalPages": 3, "items": items})
	})

	c := New(config.RecordStoreConfig{URL: srv.URL + "/"})
	items, err := c.List(context.Background(), "orders", ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 6 {
		t.Fatalf("expected 6 items across 3 pages, got %d", len(items))
	}
	var last struct{ ID string }
	json.Unmarshal(items[5], &last)
	if last.ID != "p3b" {
		t.Errorf("unexpected last item %q", last.ID)
	}
}

func TestResponseError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":404,"message":"Missing collection context.","data":{}}`))
	})

	c := New(config.RecordStoreConfig{URL: srv.URL})
	_, err := c.GetRecord(context.Background(), "orders", "o1")
	if StatusCode(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if !strings.Contains(err.Error(), "Missing collection") {
		t.Errorf("expected message in error, got %v", err)
	}
}

func TestCreateUpdateDelete(t *testing.T) {
	var methods []string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"id":"rec1","url":"http://x"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	c := New(config.RecordStoreConfig{URL: srv.URL})
	ctx := context.Background()
	var created map[string]any
	if err := c.Create(ctx, "hooks", map[string]any{"url": "http://x"}, &created); err != nil {
		t.Fatalf("create: %v", err)
	}
	if created["id"] != "rec1" {
		t.Errorf("expected id rec1, got %v", created["id"])
	}
	if err := c.Update(ctx, "hooks", "rec1", map[string]any{"active": false}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.Delete(ctx, "hooks", "rec1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []string{
		"POST /api/collections/hooks/records",
		"PATCH /api/collections/hooks/records/rec1",
		"DELETE /api/collections/hooks/records/rec1",
	}
	if strings.Join(methods, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", methods, want)
	}
}

func TestQuote(t *testing.T) {
	if got := Quote(`a"b\c`); got != `"a\"b\\c"` {
		t.Errorf("Quote: got %s", got)
	}
}
