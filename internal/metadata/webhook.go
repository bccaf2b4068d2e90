package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	DefaultWebhookTimeoutMs = 8000
	DefaultWebhookRetries   = 3
)

// EventList is the set of event types a subscription wants. It decodes from a
// JSON array or a comma-separated string and is always normalized.
type EventList []string

func (e *EventList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*e = NormalizeEvents(list)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("events must be an array or a comma-separated string")
	}
	*e = NormalizeEvents(strings.Split(str, ","))
	return nil
}

// Contains reports whether eventType is subscribed. Matching is case-sensitive.
func (e EventList) Contains(eventType string) bool {
	for _, ev := range e {
		if ev == eventType {
			return true
		}
	}
	return false
}

// NormalizeEvents trims every entry and drops empty ones.
func NormalizeEvents(events []string) EventList {
	out := make(EventList, 0, len(events))
	for _, ev := range events {
		ev = strings.TrimSpace(ev)
		if ev != "" {
			out = append(out, ev)
		}
	}
	return out
}

// WebhookSubscription is an outbound delivery target registered by an admin.
type WebhookSubscription struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Events      EventList         `json:"events"`
	Secret      string            `json:"secret"`
	Active      bool              `json:"active"`
	TimeoutMs   int               `json:"timeout_ms"`
	Retries     int               `json:"retries"`
	Description string            `json:"description"`
	Condition   string            `json:"condition,omitempty"` // expression; empty = always fire
	Headers     map[string]string `json:"headers,omitempty"`
	Created     string            `json:"created,omitempty"`
	Updated     string            `json:"updated,omitempty"`
}

// ApplyDefaults fills the timeout and retry policy when unset.
func (s *WebhookSubscription) ApplyDefaults() {
	if s.TimeoutMs <= 0 {
		s.TimeoutMs = DefaultWebhookTimeoutMs
	}
	if s.Retries < 0 {
		s.Retries = DefaultWebhookRetries
	}
	s.Events = NormalizeEvents(s.Events)
}

// Wants reports whether the subscription should receive the given event type.
func (s *WebhookSubscription) Wants(eventType string) bool {
	return s.Active && s.Events.Contains(eventType)
}

// SubscriptionPatch carries the fields of a partial update. Nil means unchanged.
type SubscriptionPatch struct {
	URL         *string            `json:"url,omitempty"`
	Events      *EventList         `json:"events,omitempty"`
	Secret      *string            `json:"secret,omitempty"`
	Active      *bool              `json:"active,omitempty"`
	TimeoutMs   *int               `json:"timeout_ms,omitempty"`
	Retries     *int               `json:"retries,omitempty"`
	Description *string            `json:"description,omitempty"`
	Condition   *string            `json:"condition,omitempty"`
	Headers     *map[string]string `json:"headers,omitempty"`
}

// Apply copies the set fields onto sub.
func (p SubscriptionPatch) Apply(sub *WebhookSubscription) {
	if p.URL != nil {
		sub.URL = strings.TrimSpace(*p.URL)
	}
	if p.Events != nil {
		sub.Events = NormalizeEvents(*p.Events)
	}
	if p.Secret != nil {
		sub.Secret = *p.Secret
	}
	if p.Active != nil {
		sub.Active = *p.Active
	}
	if p.TimeoutMs != nil {
		sub.TimeoutMs = *p.TimeoutMs
	}
	if p.Retries != nil {
		sub.Retries = *p.Retries
	}
	if p.Description != nil {
		sub.Description = *p.Description
	}
	if p.Condition != nil {
		sub.Condition = *p.Condition
	}
	if p.Headers != nil {
		sub.Headers = *p.Headers
	}
}

// Fields returns the patch as a record-store field map.
func (p SubscriptionPatch) Fields() map[string]any {
	fields := map[string]any{}
	if p.URL != nil {
		fields["url"] = strings.TrimSpace(*p.URL)
	}
	if p.Events != nil {
		fields["events"] = []string(NormalizeEvents(*p.Events))
	}
	if p.Secret != nil {
		fields["secret"] = *p.Secret
	}
	if p.Active != nil {
		fields["active"] = *p.Active
	}
	if p.TimeoutMs != nil {
		fields["timeout_ms"] = *p.TimeoutMs
	}
	if p.Retries != nil {
		fields["retries"] = *p.Retries
	}
	if p.Description != nil {
		fields["description"] = *p.Description
	}
	if p.Condition != nil {
		fields["condition"] = *p.Condition
	}
	if p.Headers != nil {
		fields["headers"] = *p.Headers
	}
	return fields
}

// WebhookFailureRecord is one failed delivery attempt. Append-only.
type WebhookFailureRecord struct {
	ID             string         `json:"id,omitempty"`
	SubscriptionID string         `json:"subscription_id"`
	URL            string         `json:"url"`
	EventType      string         `json:"event_type"`
	Payload        *OutgoingEvent `json:"payload"`
	Status         int            `json:"status,omitempty"`
	ResponseBody   string         `json:"response_body,omitempty"`
	Attempt        int            `json:"attempt"`
	ErrorMessage   string         `json:"error_message"`
	Timestamp      string         `json:"timestamp"`
}
