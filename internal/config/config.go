package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	RecordStore RecordStoreConfig `mapstructure:"recordstore"`
	Collections CollectionsConfig `mapstructure:"collections"`
	Webhook     WebhookConfig     `mapstructure:"webhook"`
	Messaging   MessagingConfig   `mapstructure:"messaging"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Database    DatabaseConfig    `mapstructure:"database"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

// IsProduction reports whether error details should be hidden from responses.
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Env, "production")
}

// RecordStoreConfig points at the hosted record store (PocketBase) and the
// admin credentials used for every privileged call.
type RecordStoreConfig struct {
	URL           string `mapstructure:"url"`
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
	AuthPath      string `mapstructure:"auth_path"`
	TimeoutMs     int    `mapstructure:"timeout_ms"`
}

type CollectionsConfig struct {
	Subscriptions string `mapstructure:"subscriptions"`
	Failures      string `mapstructure:"failures"`
	Flows         string `mapstructure:"flows"`
	Orders        string `mapstructure:"orders"`
	Customers     string `mapstructure:"customers"`
}

type WebhookConfig struct {
	AdminAPIKey      string `mapstructure:"admin_api_key"`
	AdminAPIKeyHash  string `mapstructure:"admin_api_key_hash"` // bcrypt hash, alternative to the plain key
	UserAgent        string `mapstructure:"user_agent"`
	DefaultTimeoutMs int    `mapstructure:"default_timeout_ms"`
	DefaultRetries   int    `mapstructure:"default_retries"`
}

// MessagingConfig configures the WhatsApp-style messaging gateway.
type MessagingConfig struct {
	URL       string `mapstructure:"url"`
	APIKey    string `mapstructure:"api_key"`
	Instance  string `mapstructure:"instance"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Recent  int  `mapstructure:"recent"` // finished spans kept for GET /_events
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

// Load reads app.yaml (if present), applies defaults and environment overrides.
// A missing config file is not an error; every key has a default or an env var.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../..")

	SetDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return decode(v)
}

// SetDefaults registers every known key so AutomaticEnv can override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.env", "development")

	v.SetDefault("recordstore.url", "")
	v.SetDefault("recordstore.admin_email", "")
	v.SetDefault("recordstore.admin_password", "")
	v.SetDefault("recordstore.auth_path", "/api/collections/_superusers/auth-with-password")
	v.SetDefault("recordstore.timeout_ms", 10000)

	v.SetDefault("collections.subscriptions", "webhook_subscriptions")
	v.SetDefault("collections.failures", "webhook_failures")
	v.SetDefault("collections.flows", "automation_flows")
	v.SetDefault("collections.orders", "orders")
	v.SetDefault("collections.customers", "customers")

	v.SetDefault("webhook.admin_api_key", "")
	v.SetDefault("webhook.admin_api_key_hash", "")
	v.SetDefault("webhook.user_agent", "StorefrontWebhooks/1.0")
	v.SetDefault("webhook.default_timeout_ms", 8000)
	v.SetDefault("webhook.default_retries", 3)

	v.SetDefault("messaging.url", "")
	v.SetDefault("messaging.api_key", "")
	v.SetDefault("messaging.instance", "")
	v.SetDefault("messaging.timeout_ms", 15000)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "hooks")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "storefront.events.>")

	v.SetDefault("tracing.enabled", true)
	v.SetDefault("tracing.recent", 500)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.RecordStore.URL = strings.TrimRight(strings.TrimSpace(cfg.RecordStore.URL), "/")
	cfg.Messaging.URL = strings.TrimRight(strings.TrimSpace(cfg.Messaging.URL), "/")
	return &cfg, nil
}
