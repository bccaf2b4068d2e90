package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront-hooks/internal/config"
	"storefront-hooks/internal/instrument"
)

var ErrNotConfigured = errors.New("messaging gateway not configured")

// Sender is what the automation runner needs from a messaging gateway.
type Sender interface {
	SendText(ctx context.Context, number, text string) error
	SendMedia(ctx context.Context, number string, media Media) error
}

// Media describes an outbound media message.
type Media struct {
	URL      string
	Caption  string
	Type     string // image, video, document, audio
	FileName string
}

// Client is an Evolution-API compatible WhatsApp gateway client.
type Client struct {
	baseURL  string
	apiKey   string
	instance string
	client   *http.Client
}

// NewClient returns a client; unconfigured clients fail every send with ErrNotConfigured.
func NewClient(cfg config.MessagingConfig) *Client {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		apiKey:   cfg.APIKey,
		instance: cfg.Instance,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) configured() bool {
	return c.baseURL != "" && c.instance != ""
}

type textRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type mediaRequest struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

type apiError struct {
	Message  any `json:"message"`
	Response struct {
		Message any `json:"message"`
	} `json:"response"`
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, number, text string) error {
	return c.post(ctx, "sendText", textRequest{Number: NormalizeNumber(number), Text: text})
}

// SendMedia sends an image, video or document by URL.
func (c *Client) SendMedia(ctx context.Context, number string, m Media) error {
	mediaType := m.Type
	if mediaType == "" {
		mediaType = "image"
	}
	return c.post(ctx, "sendMedia", mediaRequest{
		Number:    NormalizeNumber(number),
		MediaType: mediaType,
		Media:     m.URL,
		Caption:   m.Caption,
		FileName:  m.FileName,
	})
}

func (c *Client) post(ctx context.Context, op string, body any) error {
	if !c.configured() {
		return ErrNotConfigured
	}

	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "automation", "messaging", "messaging."+op)
	defer span.End()

	payload, err := json.Marshal(body)
	if err != nil {
		span.SetStatus("error")
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	u := fmt.Sprintf("%s/message/%s/%s", c.baseURL, op, url.PathEscape(c.instance))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		span.SetStatus("error")
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		span.SetStatus("error")
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	span.SetMetadata("status_code", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		span.SetStatus("error")
		detail := strings.TrimSpace(string(respBody))
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil {
			if m := apiErr.Response.Message; m != nil {
				detail = fmt.Sprint(m)
			} else if apiErr.Message != nil {
				detail = fmt.Sprint(apiErr.Message)
			}
		}
		return fmt.Errorf("%s returned %d: %s", op, resp.StatusCode, detail)
	}
	span.SetStatus("ok")
	return nil
}

// NormalizeNumber strips everything but digits from a phone number. A value
// that already carries a JID suffix (…@s.whatsapp.net, …@g.us) is kept as is.
func NormalizeNumber(number string) string {
	number = strings.TrimSpace(number)
	if strings.Contains(number, "@") {
		return number
	}
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
