package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"storefront-hooks/internal/instrument"
	"storefront-hooks/internal/metadata"
)

const (
	DefaultUserAgent = "StorefrontWebhooks/1.0"
	maxResponseBody  = 64 * 1024
)

// ResolveHeaders replaces {{env.VAR_NAME}} in header values with os env values.
func ResolveHeaders(headers map[string]string) map[string]string {
	resolved := make(map[string]string, len(headers))
	for k, v := range headers {
		resolved[k] = resolveEnvVars(v)
	}
	return resolved
}

func resolveEnvVars(s string) string {
	for {
		start := strings.Index(s, "{{env.")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return s
		}
		end += start
		varName := strings.TrimSpace(s[start+6 : end])
		s = s[:start] + os.Getenv(varName) + s[end+2:]
	}
}

// conditionEnv is the expression environment a subscription condition sees.
func conditionEnv(evt *metadata.OutgoingEvent) map[string]any {
	return map[string]any{
		"event":    evt.Map(),
		"type":     evt.Type,
		"data":     evt.Data,
		"metadata": evt.Metadata,
		"source":   evt.Source,
	}
}

// DispatchResult holds the outcome of a single webhook HTTP call.
type DispatchResult struct {
	StatusCode   int
	ResponseBody string
	Err          error
}

// OK reports a 2xx response.
func (r *DispatchResult) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Error describes a failed result.
func (r *DispatchResult) Error() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return fmt.Sprintf("HTTP %d", r.StatusCode)
}

// DispatchWebhook performs one HTTP call. url/method/headers are resolved values.
func DispatchWebhook(ctx context.Context, client *http.Client, url, method string, headers map[string]string, body []byte) *DispatchResult {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "webhook", "dispatcher", "webhook.dispatch")
	defer span.End()
	span.SetMetadata("url", url)
	span.SetMetadata("method", method)

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		span.SetStatus("error")
		span.SetMetadata("error", err.Error())
		return &DispatchResult{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		span.SetStatus("error")
		span.SetMetadata("error", err.Error())
		return &DispatchResult{Err: fmt.Errorf("http call: %w", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		span.SetStatus("ok")
	} else {
		span.SetStatus("error")
		span.SetMetadata("error", fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	span.SetMetadata("status_code", resp.StatusCode)

	return &DispatchResult{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(respBody),
	}
}
