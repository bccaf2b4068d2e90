package auth

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"storefront-hooks/internal/engine"
)

// TokenHandler issues short-lived admin JWTs to callers already holding an
// admin credential, so integrations need not carry the raw API key.
type TokenHandler struct {
	jwtSecret string
}

func NewTokenHandler(jwtSecret string) *TokenHandler {
	return &TokenHandler{jwtSecret: jwtSecret}
}

// Issue handles POST /auth/token.
func (h *TokenHandler) Issue(c *fiber.Ctx) error {
	if h.jwtSecret == "" {
		return engine.NewAppError("NOT_CONFIGURED", 501, "auth.jwt_secret is not set")
	}

	var body struct {
		Subject    string `json:"subject"`
		TTLSeconds int    `json:"ttl_seconds"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
		}
	}

	ttl := time.Duration(body.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if ttl > MaxTokenTTL {
		ttl = MaxTokenTTL
	}
	subject := body.Subject
	if subject == "" {
		if user := GetUser(c); user != nil {
			subject = user.ID
		}
	}

	token, err := GenerateAccessToken(subject, []string{AdminRole}, h.jwtSecret, ttl)
	if err != nil {
		return engine.NewAppError("INTERNAL_ERROR", 500, "Failed to generate access token")
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(ttl.Seconds()),
	}})
}

// RegisterAuthRoutes registers the token route behind the admin guard.
func RegisterAuthRoutes(app fiber.Router, h *TokenHandler, guard fiber.Handler) {
	app.Post("/auth/token", guard, h.Issue)
}
