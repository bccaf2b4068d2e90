package instrument

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "storefront-hooks"

type ctxKey int

const instrumenterKey ctxKey = iota

// Instrumenter interface defines the tracing API.
type Instrumenter interface {
	StartSpan(ctx context.Context, source, component, action string) (context.Context, Span)
	EmitBusinessEvent(ctx context.Context, action, entity, recordID string, metadata map[string]any)
}

// Span interface represents a timed operation span.
type Span interface {
	End()
	SetStatus(status string)
	SetMetadata(key string, value any)
	SetEntity(entity, recordID string)
	TraceID() string
	SpanID() string
}

// Event is a finished span or business event as kept by the Recorder.
type Event struct {
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	EventType  string         `json:"event_type"` // system | business
	Source     string         `json:"source"`
	Component  string         `json:"component"`
	Action     string         `json:"action"`
	Entity     string         `json:"entity,omitempty"`
	RecordID   string         `json:"record_id,omitempty"`
	DurationMs float64        `json:"duration_ms"`
	Status     string         `json:"status,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// WithInstrumenter sets the instrumenter in the context.
func WithInstrumenter(ctx context.Context, inst Instrumenter) context.Context {
	return context.WithValue(ctx, instrumenterKey, inst)
}

// GetInstrumenter returns the instrumenter from the context,
// or a NoopInstrumenter if none is set.
func GetInstrumenter(ctx context.Context) Instrumenter {
	if v, ok := ctx.Value(instrumenterKey).(Instrumenter); ok {
		return v
	}
	return &NoopInstrumenter{}
}

// OtelInstrumenter starts OpenTelemetry spans and, when a Recorder is
// attached, keeps a copy of every finished span for the debug endpoint.
type OtelInstrumenter struct {
	tracer   trace.Tracer
	recorder *Recorder
}

// NewOtelInstrumenter uses the global tracer provider. recorder may be nil.
func NewOtelInstrumenter(recorder *Recorder) *OtelInstrumenter {
	return &OtelInstrumenter{tracer: otel.Tracer(tracerName), recorder: recorder}
}

// StartSpan creates a new span and returns the updated context.
func (i *OtelInstrumenter) StartSpan(ctx context.Context, source, component, action string) (context.Context, Span) {
	ctx, s := i.tracer.Start(ctx, action,
		trace.WithAttributes(
			attribute.String("source", source),
			attribute.String("component", component),
		),
	)
	return ctx, &otelSpan{
		span:      s,
		source:    source,
		component: component,
		action:    action,
		startTime: time.Now(),
		metadata:  make(map[string]any),
		recorder:  i.recorder,
	}
}

// EmitBusinessEvent attaches a one-shot event to the current span.
func (i *OtelInstrumenter) EmitBusinessEvent(ctx context.Context, action, entity, recordID string, metadata map[string]any) {
	attrs := []attribute.KeyValue{
		attribute.String("entity", entity),
		attribute.String("record_id", recordID),
	}
	for k, v := range metadata {
		attrs = append(attrs, toAttribute(k, v))
	}
	parent := trace.SpanFromContext(ctx)
	parent.AddEvent(action, trace.WithAttributes(attrs...))

	if i.recorder == nil {
		return
	}
	sc := parent.SpanContext()
	i.recorder.Enqueue(Event{
		TraceID:   traceIDString(sc),
		SpanID:    spanIDString(sc),
		EventType: "business",
		Source:    "business",
		Component: "api",
		Action:    action,
		Entity:    entity,
		RecordID:  recordID,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})
}

type otelSpan struct {
	span      trace.Span
	source    string
	component string
	action    string
	entity    string
	recordID  string
	status    string
	startTime time.Time
	metadata  map[string]any
	recorder  *Recorder

	mu    sync.Mutex
	ended bool
}

func (s *otelSpan) TraceID() string { return traceIDString(s.span.SpanContext()) }
func (s *otelSpan) SpanID() string  { return spanIDString(s.span.SpanContext()) }

func (s *otelSpan) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	if status == "error" {
		s.span.SetStatus(codes.Error, "")
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
}

func (s *otelSpan) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
	s.span.SetAttributes(toAttribute(key, value))
}

func (s *otelSpan) SetEntity(entity, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entity = entity
	s.recordID = recordID
	s.span.SetAttributes(attribute.String("entity", entity), attribute.String("record_id", recordID))
}

func (s *otelSpan) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.span.End()

	if s.recorder == nil {
		return
	}
	s.recorder.Enqueue(Event{
		TraceID:    s.TraceID(),
		SpanID:     s.SpanID(),
		EventType:  "system",
		Source:     s.source,
		Component:  s.component,
		Action:     s.action,
		Entity:     s.entity,
		RecordID:   s.recordID,
		DurationMs: float64(time.Since(s.startTime).Microseconds()) / 1000.0,
		Status:     s.status,
		Metadata:   s.metadata,
		CreatedAt:  s.startTime.UTC(),
	})
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

func traceIDString(sc trace.SpanContext) string {
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func spanIDString(sc trace.SpanContext) string {
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}
