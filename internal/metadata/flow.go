package metadata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Node type discriminators. start/order/cart are triggers; the rest are actions.
const (
	NodeTypeStart   = "start"
	NodeTypeOrder   = "order"
	NodeTypeCart    = "cart"
	NodeTypeMessage = "message"
	NodeTypeWait    = "wait"
	NodeTypeWebhook = "webhook"
)

// Message channels.
const (
	ChannelEvolutionText  = "evolution_text"
	ChannelEvolutionMedia = "evolution_media"
)

const FlowStatusActive = "active"

// AutomationFlow is an authored automation graph.
type AutomationFlow struct {
	ID     string    `json:"id"`
	Name   string    `json:"name,omitempty"`
	Status string    `json:"status"`
	Graph  FlowGraph `json:"graph"`
}

// IsActive reports whether the flow participates in event evaluation.
func (f *AutomationFlow) IsActive() bool {
	return strings.TrimSpace(f.Status) == FlowStatusActive
}

// FlowGraph holds nodes and directed edges. Cycles are allowed.
type FlowGraph struct {
	Nodes []FlowNode `json:"nodes"`
	Edges []FlowEdge `json:"edges"`
}

// UnmarshalJSON accepts the graph as an object or as a JSON-encoded string,
// both of which the record store produces depending on the field type.
func (g *FlowGraph) UnmarshalJSON(data []byte) error {
	type plain FlowGraph
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if strings.TrimSpace(str) == "" {
			*g = FlowGraph{}
			return nil
		}
		data = []byte(str)
	}
	if string(data) == "null" {
		*g = FlowGraph{}
		return nil
	}
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode flow graph: %w", err)
	}
	*g = FlowGraph(p)
	return nil
}

// FlowNode is a graph vertex; Data carries the type discriminator and fields.
type FlowNode struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// FlowEdge is a plain directed adjacency from Source to Target.
type FlowEdge struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// NodeAction is the decoded, typed form of a node's data.
type NodeAction interface {
	Kind() string
}

// TriggerAction is a start/order/cart node.
type TriggerAction struct {
	Type         string
	EventKey     string
	OrderTrigger string
	CartTrigger  string
}

func (t TriggerAction) Kind() string { return t.Type }

// Matches reports whether this trigger fires for eventType.
func (t TriggerAction) Matches(eventType string) bool {
	want := Normalize(eventType)
	if want == "" {
		return false
	}
	if key := Normalize(t.EventKey); key != "" && key == want {
		return true
	}
	switch t.Type {
	case NodeTypeOrder:
		return prefixedTrigger("order.", t.OrderTrigger) == want
	case NodeTypeCart:
		return prefixedTrigger("cart.", t.CartTrigger) == want
	}
	return false
}

func prefixedTrigger(prefix, trigger string) string {
	trigger = Normalize(trigger)
	if trigger == "" {
		return ""
	}
	if strings.HasPrefix(trigger, prefix) {
		return trigger
	}
	return prefix + trigger
}

// MessageAction sends a text or media message through the messaging gateway.
type MessageAction struct {
	Channel           string
	Text              string
	MediaURL          string
	Caption           string
	MediaType         string
	FileName          string
	RecipientPath     string
	RecipientFallback string
}

func (MessageAction) Kind() string { return NodeTypeMessage }

// WaitAction suspends the walk for Minutes.
type WaitAction struct {
	Minutes float64
}

func (WaitAction) Kind() string { return NodeTypeWait }

// Duration returns the wait as a time.Duration; zero when not positive.
func (w WaitAction) Duration() time.Duration {
	if w.Minutes <= 0 {
		return 0
	}
	return time.Duration(w.Minutes * float64(time.Minute))
}

// WebhookAction issues a single, unretried HTTP request.
type WebhookAction struct {
	URL    string
	Method string
}

func (WebhookAction) Kind() string { return NodeTypeWebhook }

// NoopAction is any node type outside the known vocabulary.
type NoopAction struct {
	Type string
}

func (n NoopAction) Kind() string { return n.Type }

// Type returns the normalized type discriminator.
func (n FlowNode) Type() string {
	return Normalize(n.str("type"))
}

// Action decodes the node's data into its typed variant.
func (n FlowNode) Action() NodeAction {
	switch t := n.Type(); t {
	case NodeTypeStart, NodeTypeOrder, NodeTypeCart:
		return TriggerAction{
			Type:         t,
			EventKey:     n.str("activityEventKey", "eventKey"),
			OrderTrigger: n.str("orderTrigger"),
			CartTrigger:  n.str("cartTrigger"),
		}
	case NodeTypeMessage:
		mediaType := n.str("mediaType", "media_type")
		if mediaType == "" {
			mediaType = "image"
		}
		return MessageAction{
			Channel:           Normalize(n.str("channel")),
			Text:              n.str("message", "text", "body"),
			MediaURL:          n.str("mediaUrl", "media_url"),
			Caption:           n.str("caption"),
			MediaType:         mediaType,
			FileName:          n.str("fileName", "file_name"),
			RecipientPath:     n.str("recipientPath", "recipient_path"),
			RecipientFallback: n.str("recipientFallback", "fallbackRecipient", "recipient"),
		}
	case NodeTypeWait:
		return WaitAction{Minutes: n.float("waitMinutes")}
	case NodeTypeWebhook:
		method := strings.ToUpper(n.str("webhookMethod"))
		if method == "" {
			method = "POST"
		}
		return WebhookAction{URL: n.str("webhookUrl"), Method: method}
	default:
		return NoopAction{Type: t}
	}
}

// Trigger returns the trigger variant when the node is a trigger node.
func (n FlowNode) Trigger() (TriggerAction, bool) {
	t, ok := n.Action().(TriggerAction)
	return t, ok
}

// str returns the first non-empty trimmed string among keys.
func (n FlowNode) str(keys ...string) string {
	for _, k := range keys {
		v, ok := n.Data[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case float64:
			s = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			s = fmt.Sprintf("%v", val)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func (n FlowNode) float(key string) float64 {
	switch v := n.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// Normalize trims and lowercases a discriminator.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
