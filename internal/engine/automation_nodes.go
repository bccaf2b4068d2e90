package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"storefront-hooks/internal/messaging"
	"storefront-hooks/internal/metadata"
)

const automationWebhookTimeout = 10 * time.Second

// recipientCandidates are tried in order when a message node names no recipient.
var recipientCandidates = []string{
	"data.customer_phone",
	"data.phone",
	"data.customer.phone",
	"order.customer_phone",
	"order.phone",
	"order.shipping_address.phone",
	"customer.phone",
	"customer.whatsapp",
}

var ErrNoRecipient = errors.New("no recipient resolved")

// NodeEnv is what a node executor can see and use.
type NodeEnv struct {
	Event      *metadata.OutgoingEvent
	Context    map[string]any
	Messenger  messaging.Sender
	HTTPClient *http.Client
	UserAgent  string
	Sleep      Sleeper
}

// NodeExecutor handles execution of a single node kind.
type NodeExecutor interface {
	Execute(ctx context.Context, env *NodeEnv, action metadata.NodeAction) error
}

// DefaultNodeExecutors returns the built-in executors keyed by node kind.
func DefaultNodeExecutors() map[string]NodeExecutor {
	return map[string]NodeExecutor{
		metadata.NodeTypeMessage: &MessageNodeExecutor{},
		metadata.NodeTypeWait:    &WaitNodeExecutor{},
		metadata.NodeTypeWebhook: &WebhookNodeExecutor{},
	}
}

// MessageNodeExecutor sends text or media through the messaging gateway.
type MessageNodeExecutor struct{}

func (e *MessageNodeExecutor) Execute(ctx context.Context, env *NodeEnv, action metadata.NodeAction) error {
	a, ok := action.(metadata.MessageAction)
	if !ok {
		return fmt.Errorf("message executor got %T", action)
	}

	switch a.Channel {
	case metadata.ChannelEvolutionText, metadata.ChannelEvolutionMedia:
	default:
		log.Printf("WARN: message channel %q not supported, skipping", a.Channel)
		return nil
	}

	number := resolveRecipient(a, env.Context)
	if number == "" {
		return ErrNoRecipient
	}
	if env.Messenger == nil {
		return messaging.ErrNotConfigured
	}

	if a.Channel == metadata.ChannelEvolutionText {
		return env.Messenger.SendText(ctx, number, Render(a.Text, env.Context))
	}

	mediaURL := strings.TrimSpace(Render(a.MediaURL, env.Context))
	if mediaURL == "" {
		return fmt.Errorf("media message has no mediaUrl")
	}
	return env.Messenger.SendMedia(ctx, number, messaging.Media{
		URL:      mediaURL,
		Caption:  Render(a.Caption, env.Context),
		Type:     a.MediaType,
		FileName: a.FileName,
	})
}

// resolveRecipient applies recipientPath, then the rendered fallback, then
// the candidate paths.
func resolveRecipient(a metadata.MessageAction, ctx map[string]any) string {
	if p := strings.Trim(a.RecipientPath, "{} "); p != "" {
		if v := strings.TrimSpace(stringify(resolveContextPath(ctx, p))); v != "" {
			return v
		}
	}
	if a.RecipientFallback != "" {
		if v := strings.TrimSpace(Render(a.RecipientFallback, ctx)); v != "" {
			return v
		}
	}
	for _, p := range recipientCandidates {
		if v := strings.TrimSpace(stringify(resolveContextPath(ctx, p))); v != "" {
			return v
		}
	}
	return ""
}

// WaitNodeExecutor pauses the walk.
type WaitNodeExecutor struct{}

func (e *WaitNodeExecutor) Execute(ctx context.Context, env *NodeEnv, action metadata.NodeAction) error {
	a, ok := action.(metadata.WaitAction)
	if !ok {
		return fmt.Errorf("wait executor got %T", action)
	}
	d := a.Duration()
	if d <= 0 {
		return nil
	}
	return env.Sleep(ctx, d)
}

// WebhookNodeExecutor performs one unretried HTTP call with {event, context}.
type WebhookNodeExecutor struct{}

func (e *WebhookNodeExecutor) Execute(ctx context.Context, env *NodeEnv, action metadata.NodeAction) error {
	a, ok := action.(metadata.WebhookAction)
	if !ok {
		return fmt.Errorf("webhook executor got %T", action)
	}
	if a.URL == "" {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"event":   env.Event.Map(),
		"context": env.Context,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook node body: %w", err)
	}

	client := env.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	headers := map[string]string{"User-Agent": env.UserAgent}

	callCtx, cancel := context.WithTimeout(ctx, automationWebhookTimeout)
	defer cancel()
	res := DispatchWebhook(callCtx, client, a.URL, a.Method, headers, body)
	if !res.OK() {
		return fmt.Errorf("webhook node %s %s: %s", a.Method, a.URL, res.Error())
	}
	return nil
}
