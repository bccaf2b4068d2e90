package metadata

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is ISO-8601 with millisecond precision in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// DefaultEventSource is used when a producer does not name itself.
const DefaultEventSource = "storefront"

// OutgoingEvent is a business event delivered to webhook subscribers and fed
// to automation flows. The field order here is the canonical JSON encoding.
type OutgoingEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata"`
}

// NewOutgoingEvent builds an event, assigning id, timestamp and source when empty.
func NewOutgoingEvent(id, eventType, timestamp, source string, data, meta map[string]any) *OutgoingEvent {
	evt := &OutgoingEvent{
		ID:        strings.TrimSpace(id),
		Type:      strings.TrimSpace(eventType),
		Timestamp: strings.TrimSpace(timestamp),
		Source:    strings.TrimSpace(source),
		Data:      data,
		Metadata:  meta,
	}
	if evt.ID == "" {
		evt.ID = "evt_" + uuid.New().String()
	}
	if evt.Timestamp == "" {
		evt.Timestamp = time.Now().UTC().Format(TimestampLayout)
	}
	if evt.Source == "" {
		evt.Source = DefaultEventSource
	}
	if evt.Data == nil {
		evt.Data = map[string]any{}
	}
	if evt.Metadata == nil {
		evt.Metadata = map[string]any{}
	}
	return evt
}

// Canonical returns the exact bytes that are signed and sent.
func (e *OutgoingEvent) Canonical() ([]byte, error) {
	return json.Marshal(e)
}

// Map returns the event envelope as a template/expression environment.
func (e *OutgoingEvent) Map() map[string]any {
	return map[string]any{
		"id":        e.ID,
		"type":      e.Type,
		"timestamp": e.Timestamp,
		"source":    e.Source,
		"data":      e.Data,
		"metadata":  e.Metadata,
	}
}
