package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := decode(v)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if cfg.Webhook.DefaultTimeoutMs != 8000 {
		t.Errorf("expected default timeout 8000, got %d", cfg.Webhook.DefaultTimeoutMs)
	}
	if cfg.Webhook.DefaultRetries != 3 {
		t.Errorf("expected default retries 3, got %d", cfg.Webhook.DefaultRetries)
	}
	if cfg.Collections.Subscriptions != "webhook_subscriptions" {
		t.Errorf("unexpected subscriptions collection %q", cfg.Collections.Subscriptions)
	}
	if cfg.Collections.Failures != "webhook_failures" {
		t.Errorf("unexpected failures collection %q", cfg.Collections.Failures)
	}
	if cfg.NATS.Subject != "storefront.events.>" {
		t.Errorf("unexpected nats subject %q", cfg.NATS.Subject)
	}
	if cfg.Server.IsProduction() {
		t.Error("default env should not be production")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COLLECTIONS_SUBSCRIPTIONS", "hooks")
	t.Setenv("RECORDSTORE_URL", "http://pb.local:8090/ ")
	t.Setenv("WEBHOOK_ADMIN_API_KEY", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Collections.Subscriptions != "hooks" {
		t.Errorf("expected collection override, got %q", cfg.Collections.Subscriptions)
	}
	if cfg.RecordStore.URL != "http://pb.local:8090" {
		t.Errorf("expected trimmed url, got %q", cfg.RecordStore.URL)
	}
	if cfg.Webhook.AdminAPIKey != "s3cret" {
		t.Errorf("expected admin key override, got %q", cfg.Webhook.AdminAPIKey)
	}
}

func TestDatabaseDSN(t *testing.T) {
	sqlite := DatabaseConfig{Driver: "sqlite", Path: "./data", Name: "hooks"}
	if got := sqlite.DSN(); got != "./data/hooks.db" {
		t.Errorf("sqlite dsn: got %s", got)
	}
	if !sqlite.IsSQLite() {
		t.Error("expected IsSQLite")
	}

	pg := DatabaseConfig{Driver: "postgres", User: "u", Password: "p", Host: "db", Port: 5432, Name: "hooks"}
	if got := pg.DSN(); got != "postgres://u:p@db:5432/hooks?sslmode=disable" {
		t.Errorf("postgres dsn: got %s", got)
	}
}
