package metadata

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFlowGraphDecodesStringAndObject(t *testing.T) {
	obj := `{"id":"f1","status":"active","graph":{"nodes":[{"id":"a","data":{"type":"start"}}],"edges":[{"source":"a","target":"b"}]}}`
	str := `{"id":"f2","status":"active","graph":"{\"nodes\":[{\"id\":\"a\",\"data\":{\"type\":\"start\"}}],\"edges\":[]}"}`

	var f1, f2 AutomationFlow
	if err := json.Unmarshal([]byte(obj), &f1); err != nil {
		t.Fatalf("object graph: %v", err)
	}
	if err := json.Unmarshal([]byte(str), &f2); err != nil {
		t.Fatalf("string graph: %v", err)
	}
	if len(f1.Graph.Nodes) != 1 || len(f1.Graph.Edges) != 1 {
		t.Errorf("object graph: got %d nodes %d edges", len(f1.Graph.Nodes), len(f1.Graph.Edges))
	}
	if len(f2.Graph.Nodes) != 1 || f2.Graph.Nodes[0].Type() != NodeTypeStart {
		t.Errorf("string graph not decoded: %+v", f2.Graph)
	}
	if !f1.IsActive() {
		t.Error("expected f1 active")
	}
}

func TestTriggerMatches(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]any
		event string
		want  bool
	}{
		{"order trigger", map[string]any{"type": "order", "orderTrigger": "paid"}, "order.paid", true},
		{"order trigger other event", map[string]any{"type": "order", "orderTrigger": "paid"}, "order.created", false},
		{"order trigger already prefixed", map[string]any{"type": "order", "orderTrigger": "order.paid"}, "order.paid", true},
		{"cart trigger", map[string]any{"type": " Cart ", "cartTrigger": "abandoned"}, "cart.abandoned", true},
		{"event key", map[string]any{"type": "start", "activityEventKey": " Order.Paid "}, "order.paid", true},
		{"event key alias", map[string]any{"type": "start", "eventKey": "customer.created"}, "customer.created", true},
		{"start without key", map[string]any{"type": "start"}, "order.paid", false},
		{"order trigger on start node", map[string]any{"type": "start", "orderTrigger": "paid"}, "order.paid", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := FlowNode{ID: "n", Data: tt.data}
			trig, ok := node.Trigger()
			if !ok {
				t.Fatalf("expected trigger node, got %T", node.Action())
			}
			if got := trig.Matches(tt.event); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestNodeActionDecoding(t *testing.T) {
	msg := FlowNode{Data: map[string]any{
		"type":              "message",
		"channel":           "Evolution_Media",
		"mediaUrl":          "https://cdn/x.png",
		"caption":           "hi {{customer.name}}",
		"fallbackRecipient": "5511999",
	}}
	m, ok := msg.Action().(MessageAction)
	if !ok {
		t.Fatalf("expected MessageAction, got %T", msg.Action())
	}
	if m.Channel != ChannelEvolutionMedia {
		t.Errorf("channel: got %q", m.Channel)
	}
	if m.MediaType != "image" {
		t.Errorf("media type default: got %q", m.MediaType)
	}
	if m.RecipientFallback != "5511999" {
		t.Errorf("fallback: got %q", m.RecipientFallback)
	}

	for _, raw := range []any{float64(2), "2", " 2 "} {
		w, ok := FlowNode{Data: map[string]any{"type": "wait", "waitMinutes": raw}}.Action().(WaitAction)
		if !ok {
			t.Fatalf("expected WaitAction for %v", raw)
		}
		if w.Duration() != 2*time.Minute {
			t.Errorf("waitMinutes %v: got %v", raw, w.Duration())
		}
	}
	if d := (WaitAction{Minutes: -1}).Duration(); d != 0 {
		t.Errorf("negative wait: got %v", d)
	}

	wh, ok := FlowNode{Data: map[string]any{"type": "webhook", "webhookUrl": "http://x", "webhookMethod": "put"}}.Action().(WebhookAction)
	if !ok || wh.Method != "PUT" || wh.URL != "http://x" {
		t.Errorf("webhook action: %+v", wh)
	}
	wh, _ = FlowNode{Data: map[string]any{"type": "webhook"}}.Action().(WebhookAction)
	if wh.Method != "POST" {
		t.Errorf("default method: got %q", wh.Method)
	}

	noop := FlowNode{Data: map[string]any{"type": "Condition"}}.Action()
	if _, ok := noop.(NoopAction); !ok || noop.Kind() != "condition" {
		t.Errorf("unknown type: got %T %q", noop, noop.Kind())
	}
}
