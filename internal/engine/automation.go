package engine

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"strings"

	"storefront-hooks/internal/instrument"
	"storefront-hooks/internal/messaging"
	"storefront-hooks/internal/metadata"
)

// Runner evaluates active automation flows against business events.
type Runner struct {
	flows      FlowStore
	records    RecordLookup
	orders     string
	customers  string
	executors  map[string]NodeExecutor
	messenger  messaging.Sender
	httpClient *http.Client
	userAgent  string
	sleep      Sleeper
}

type RunnerOption func(*Runner)

// WithRecordLookup enables order/customer enrichment from the given collections.
func WithRecordLookup(lookup RecordLookup, orders, customers string) RunnerOption {
	return func(r *Runner) {
		r.records = lookup
		r.orders = orders
		r.customers = customers
	}
}

func WithMessenger(m messaging.Sender) RunnerOption {
	return func(r *Runner) { r.messenger = m }
}

func WithNodeExecutors(executors map[string]NodeExecutor) RunnerOption {
	return func(r *Runner) { r.executors = executors }
}

func WithRunnerSleeper(s Sleeper) RunnerOption {
	return func(r *Runner) { r.sleep = s }
}

func WithRunnerHTTPClient(c *http.Client) RunnerOption {
	return func(r *Runner) { r.httpClient = c }
}

func WithRunnerUserAgent(ua string) RunnerOption {
	return func(r *Runner) {
		if ua != "" {
			r.userAgent = ua
		}
	}
}

func NewRunner(flows FlowStore, opts ...RunnerOption) *Runner {
	r := &Runner{
		flows:      flows,
		orders:     "orders",
		customers:  "customers",
		executors:  DefaultNodeExecutors(),
		httpClient: &http.Client{},
		userAgent:  DefaultUserAgent,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunAsync starts RunForEvent in the background, detached from ctx's cancellation.
func (r *Runner) RunAsync(ctx context.Context, evt *metadata.OutgoingEvent) {
	go r.RunForEvent(context.WithoutCancel(ctx), evt)
}

// RunForEvent walks every active flow whose trigger matches evt. It never
// fails; problems are logged.
func (r *Runner) RunForEvent(ctx context.Context, evt *metadata.OutgoingEvent) {
	if evt == nil || strings.TrimSpace(evt.Type) == "" {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("ERROR: automation runner panic for %s: %v\n%s", evt.ID, rec, debug.Stack())
		}
	}()

	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "automation", "runner", "automation.run")
	defer span.End()
	span.SetEntity("event", evt.ID)
	span.SetMetadata("event_type", evt.Type)

	flows, err := r.flows.ListFlows(ctx)
	if err != nil {
		if IsNotFound(err) || ShouldFallback(err) {
			log.Printf("WARN: automation flows unavailable, skipping %s: %v", evt.Type, err)
		} else {
			log.Printf("ERROR: list automation flows: %v", err)
		}
		span.SetStatus("error")
		return
	}

	var active []*metadata.AutomationFlow
	for _, f := range flows {
		if f.IsActive() {
			active = append(active, f)
		}
	}
	span.SetMetadata("active_flows", len(active))
	if len(active) == 0 {
		span.SetStatus("ok")
		return
	}

	env := &NodeEnv{
		Event:      evt,
		Context:    r.buildContext(ctx, evt),
		Messenger:  r.messenger,
		HTTPClient: r.httpClient,
		UserAgent:  r.userAgent,
		Sleep:      r.sleep,
	}

	for _, flow := range active {
		r.runFlow(ctx, flow, env)
	}
	span.SetStatus("ok")
}

// buildContext assembles {event, data, metadata, order?, customer?}.
func (r *Runner) buildContext(ctx context.Context, evt *metadata.OutgoingEvent) map[string]any {
	rc := map[string]any{
		"event":    evt.Map(),
		"data":     evt.Data,
		"metadata": evt.Metadata,
	}
	if r.records == nil {
		return rc
	}

	lookup := func(key, collection string, paths ...string) {
		var id string
		for _, p := range paths {
			if id = strings.TrimSpace(stringify(resolveContextPath(evt.Data, p))); id != "" {
				break
			}
		}
		if id == "" {
			return
		}
		rec, err := r.records.GetRecord(ctx, collection, id)
		if err != nil {
			log.Printf("WARN: automation context: load %s %s: %v", key, id, err)
			return
		}
		rc[key] = rec
	}
	lookup("order", r.orders, "order_id", "order.id")
	lookup("customer", r.customers, "customer_id", "customer.id")
	return rc
}

func (r *Runner) runFlow(ctx context.Context, flow *metadata.AutomationFlow, env *NodeEnv) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("ERROR: automation flow %s panic: %v\n%s", flow.ID, rec, debug.Stack())
		}
	}()

	nodes := make(map[string]metadata.FlowNode, len(flow.Graph.Nodes))
	for _, n := range flow.Graph.Nodes {
		nodes[n.ID] = n
	}
	adjacency := make(map[string][]string)
	for _, e := range flow.Graph.Edges {
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
	}

	for _, n := range flow.Graph.Nodes {
		trig, ok := n.Trigger()
		if !ok || !trig.Matches(env.Event.Type) {
			continue
		}
		r.walk(ctx, flow, n.ID, nodes, adjacency, env)
	}
}

// walk runs a breadth-first traversal from start. Each node runs at most once
// per walk; a failing node does not stop its successors.
func (r *Runner) walk(ctx context.Context, flow *metadata.AutomationFlow, start string,
	nodes map[string]metadata.FlowNode, adjacency map[string][]string, env *NodeEnv) {

	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if node, ok := nodes[id]; ok {
			if err := r.execute(ctx, flow, node, env); err != nil {
				log.Printf("ERROR: automation flow %s node %s: %v", flow.ID, id, err)
			}
		}

		for _, next := range adjacency[id] {
			if visited[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, next)
		}
	}
}

func (r *Runner) execute(ctx context.Context, flow *metadata.AutomationFlow, node metadata.FlowNode, env *NodeEnv) error {
	action := node.Action()
	executor, ok := r.executors[action.Kind()]
	if !ok {
		return nil
	}

	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "automation", "runner", "automation.node."+action.Kind())
	defer span.End()
	span.SetEntity("flow", flow.ID)
	span.SetMetadata("node_id", node.ID)

	if err := executor.Execute(ctx, env, action); err != nil {
		span.SetStatus("error")
		span.SetMetadata("error", err.Error())
		return fmt.Errorf("%s: %w", action.Kind(), err)
	}
	span.SetStatus("ok")
	return nil
}
