package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"storefront-hooks/internal/instrument"
	"storefront-hooks/internal/metadata"
)

// DefaultSubject is the wildcard the ingress listens on when none is configured.
const DefaultSubject = "storefront.events.>"

// Emitter fans an event out to webhook subscribers.
type Emitter interface {
	Emit(ctx context.Context, evt *metadata.OutgoingEvent, subs []*metadata.WebhookSubscription) error
}

// FlowRunner starts automation flows for an event in the background.
type FlowRunner interface {
	RunAsync(ctx context.Context, evt *metadata.OutgoingEvent)
}

// Ingress consumes business events from NATS and hands each one to the
// dispatcher and the automation runner.
type Ingress struct {
	conn    *nats.Conn
	subject string
	emitter Emitter
	runner  FlowRunner
	inst    instrument.Instrumenter

	mu       sync.Mutex
	sub      *nats.Subscription
	inflight sync.WaitGroup
}

// NewIngress connects to NATS with automatic reconnection. Extra options are
// appended to the defaults.
func NewIngress(url, subject string, emitter Emitter, runner FlowRunner, opts ...nats.Option) (*Ingress, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	defaults := []nats.Option{
		nats.Name("storefront-hooks"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("WARN: NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &Ingress{
		conn:    nc,
		subject: subject,
		emitter: emitter,
		runner:  runner,
		inst:    &instrument.NoopInstrumenter{},
	}, nil
}

// WithInstrumenter sets the instrumenter placed on each message's context.
func (i *Ingress) WithInstrumenter(inst instrument.Instrumenter) *Ingress {
	if inst != nil {
		i.inst = inst
	}
	return i
}

// Start subscribes to the configured subject. Messages are handled
// concurrently, one goroutine per message.
func (i *Ingress) Start() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.sub != nil {
		return nil
	}
	sub, err := i.conn.Subscribe(i.subject, func(msg *nats.Msg) {
		i.inflight.Add(1)
		go func() {
			defer i.inflight.Done()
			i.handle(msg.Subject, msg.Data)
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", i.subject, err)
	}
	// Flush so the subscription is registered before Start returns.
	if err := i.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flushing subscription: %w", err)
	}
	i.sub = sub
	log.Printf("Listening for events on NATS subject %s", i.subject)
	return nil
}

func (i *Ingress) handle(subject string, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: NATS event handler panic on %s: %v", subject, r)
		}
	}()

	var raw metadata.OutgoingEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("WARN: dropping undecodable event on %s: %v", subject, err)
		return
	}
	eventType := raw.Type
	if strings.TrimSpace(eventType) == "" {
		eventType = EventType(i.subject, subject)
	}
	if strings.TrimSpace(eventType) == "" {
		log.Printf("WARN: dropping event without type on %s", subject)
		return
	}
	evt := metadata.NewOutgoingEvent(raw.ID, eventType, raw.Timestamp, raw.Source, raw.Data, raw.Metadata)

	ctx := instrument.WithInstrumenter(context.Background(), i.inst)
	ctx, span := i.inst.StartSpan(ctx, "nats", "ingress", "event.received")
	defer span.End()
	span.SetEntity("event", evt.ID)
	span.SetMetadata("subject", subject)
	span.SetMetadata("event_type", evt.Type)

	if i.emitter != nil {
		if err := i.emitter.Emit(ctx, evt, nil); err != nil {
			log.Printf("ERROR: emit %s from NATS: %v", evt.ID, err)
			span.SetMetadata("error", err.Error())
		}
	}
	if i.runner != nil {
		i.runner.RunAsync(ctx, evt)
	}
	span.SetStatus("ok")
}

// EventType derives an event type from a concrete subject given the wildcard
// pattern it matched: "storefront.events.>" + "storefront.events.order.paid"
// yields "order.paid".
func EventType(pattern, subject string) string {
	prefix := strings.TrimSuffix(strings.TrimSuffix(pattern, ">"), "*")
	if prefix == pattern || !strings.HasPrefix(subject, prefix) {
		return ""
	}
	return strings.TrimPrefix(subject, prefix)
}

// Close unsubscribes, waits for in-flight messages until ctx is done, and
// closes the connection.
func (i *Ingress) Close(ctx context.Context) error {
	i.mu.Lock()
	if i.sub != nil {
		_ = i.sub.Unsubscribe()
		i.sub = nil
	}
	i.mu.Unlock()

	done := make(chan struct{})
	go func() {
		i.inflight.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for in-flight events: %w", ctx.Err())
	}
	i.conn.Close()
	return err
}

// Publisher sends events to NATS on "<prefix>.<type>".
type Publisher struct {
	conn   *nats.Conn
	prefix string
}

// NewPublisher connects to NATS. prefix defaults to the ingress subject's prefix.
func NewPublisher(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	if prefix == "" {
		prefix = strings.TrimSuffix(DefaultSubject, ".>")
	}
	return &Publisher{conn: nc, prefix: strings.TrimSuffix(prefix, ".")}, nil
}

// Publish encodes evt and publishes it, flushing before returning.
func (p *Publisher) Publish(ctx context.Context, evt *metadata.OutgoingEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := p.conn.Publish(p.prefix+"."+evt.Type, data); err != nil {
		return fmt.Errorf("publishing %s: %w", evt.ID, err)
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *Publisher) Close() error {
	p.conn.Close()
	return nil
}
