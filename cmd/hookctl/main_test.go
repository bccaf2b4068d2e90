package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"storefront-hooks/internal/auth"
	"storefront-hooks/internal/engine"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSignAndVerifyCommands(t *testing.T) {
	body := `{"id":"evt_1","type":"order.paid"}`
	out, err := execute(t, body, "sign", "--secret", "s")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig := strings.TrimSpace(out)
	if sig != engine.Sign([]byte(body), "s") {
		t.Errorf("sign printed %q", sig)
	}

	if _, err := execute(t, body, "verify", "--secret", "s", sig); err != nil {
		t.Errorf("verify: %v", err)
	}
	if _, err := execute(t, body, "verify", "--secret", "wrong", sig); !errors.Is(err, errSignatureMismatch) {
		t.Errorf("expected mismatch, got %v", err)
	}
}

func TestTokenCommand(t *testing.T) {
	out, err := execute(t, "", "token", "--secret", "jwt", "--subject", "ops")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := auth.ParseAccessToken(strings.TrimSpace(out), "jwt")
	if err != nil || claims.Subject != "ops" || len(claims.Roles) != 1 || claims.Roles[0] != auth.AdminRole {
		t.Errorf("unexpected token claims %+v %v", claims, err)
	}
}

func TestEmitCommandPostsEvent(t *testing.T) {
	var got map[string]any
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("x-api-key")
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "id": got["id"]})
	}))
	defer srv.Close()

	out, err := execute(t, "", "emit", "order.paid", "--server", srv.URL, "--api-key", "k",
		"--id", "evt_cli", "--data", `{"order_id":"o1"}`, "--target", "http://a,http://b", "--nats", "")
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if !strings.Contains(out, "evt_cli") {
		t.Errorf("unexpected output %q", out)
	}
	if key != "k" || got["type"] != "order.paid" {
		t.Errorf("unexpected request key=%q body=%v", key, got)
	}
	if targets, _ := got["targets"].([]any); len(targets) != 2 {
		t.Errorf("targets not sent: %v", got["targets"])
	}

	if _, err := execute(t, "", "emit", "order.paid", "--server", srv.URL, "--data", "[1]", "--nats", ""); err == nil {
		t.Error("expected error for non-object data")
	}
}
