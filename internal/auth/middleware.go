package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"storefront-hooks/internal/config"
	"storefront-hooks/internal/engine"
	"storefront-hooks/internal/metadata"
)

const (
	HeaderAPIKey = "x-api-key"
	QueryAPIKey  = "api_key"
)

// GuardConfig holds the admin credentials. Any empty field disables that method.
type GuardConfig struct {
	APIKey     string
	APIKeyHash string
	JWTSecret  string
}

func GuardConfigFrom(cfg *config.Config) GuardConfig {
	return GuardConfig{
		APIKey:     cfg.Webhook.AdminAPIKey,
		APIKeyHash: cfg.Webhook.AdminAPIKeyHash,
		JWTSecret:  cfg.Auth.JWTSecret,
	}
}

// Open reports whether no credential of any kind is configured.
func (g GuardConfig) Open() bool {
	return g.APIKey == "" && g.APIKeyHash == "" && g.JWTSecret == ""
}

// AdminGuard returns a Fiber middleware that admits admin callers and sets the
// UserContext on the request. With nothing configured every caller is admitted.
func AdminGuard(g GuardConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if g.Open() {
			c.Locals("user", &metadata.UserContext{ID: "anonymous", Roles: []string{AdminRole}, Credential: metadata.CredentialOpen})
			return c.Next()
		}

		if key := apiKey(c); key != "" {
			if !g.checkAPIKey(key) {
				return engine.UnauthorizedError("Invalid API key")
			}
			c.Locals("user", &metadata.UserContext{ID: "api_key", Roles: []string{AdminRole}, Credential: metadata.CredentialAPIKey})
			return c.Next()
		}

		header := c.Get("Authorization")
		if header == "" {
			return engine.UnauthorizedError("Missing credentials")
		}
		if g.JWTSecret == "" {
			return engine.UnauthorizedError("Bearer tokens are not accepted")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseAccessToken(strings.TrimSpace(parts[1]), g.JWTSecret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		user := &metadata.UserContext{ID: claims.Subject, Roles: claims.Roles, Credential: metadata.CredentialJWT}
		if !user.IsAdmin() {
			return engine.ForbiddenError("Admin access required")
		}
		c.Locals("user", user)
		return c.Next()
	}
}

func apiKey(c *fiber.Ctx) string {
	if key := strings.TrimSpace(c.Get(HeaderAPIKey)); key != "" {
		return key
	}
	return strings.TrimSpace(c.Query(QueryAPIKey))
}

func (g GuardConfig) checkAPIKey(key string) bool {
	if g.APIKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(g.APIKey)) == 1 {
		return true
	}
	return g.APIKeyHash != "" && CheckKey(key, g.APIKeyHash)
}

// GetUser extracts the UserContext from a Fiber context.
func GetUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}
