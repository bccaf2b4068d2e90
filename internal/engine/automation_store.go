package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"storefront-hooks/internal/metadata"
	"storefront-hooks/internal/recordstore"
)

// FlowStore lists authored automation flows.
type FlowStore interface {
	ListFlows(ctx context.Context) ([]*metadata.AutomationFlow, error)
}

// RecordLookup fetches a single record by collection and id.
type RecordLookup interface {
	GetRecord(ctx context.Context, collection, id string) (map[string]any, error)
}

// RemoteFlowStore reads flows from a record-store collection.
type RemoteFlowStore struct {
	client     *recordstore.Client
	collection string
}

var _ FlowStore = (*RemoteFlowStore)(nil)

func NewRemoteFlowStore(client *recordstore.Client, collection string) *RemoteFlowStore {
	return &RemoteFlowStore{client: client, collection: collection}
}

// flowRecord accepts the graph nested under "graph" or spread at the top level.
type flowRecord struct {
	metadata.AutomationFlow
	Nodes []metadata.FlowNode `json:"nodes"`
	Edges []metadata.FlowEdge `json:"edges"`
}

func (s *RemoteFlowStore) ListFlows(ctx context.Context) ([]*metadata.AutomationFlow, error) {
	items, err := s.client.List(ctx, s.collection, recordstore.ListOptions{Sort: "-created"})
	if err != nil {
		return nil, err
	}
	flows := make([]*metadata.AutomationFlow, 0, len(items))
	for _, item := range items {
		var rec flowRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, fmt.Errorf("decode flow: %w", err)
		}
		flow := rec.AutomationFlow
		if len(flow.Graph.Nodes) == 0 && len(rec.Nodes) > 0 {
			flow.Graph = metadata.FlowGraph{Nodes: rec.Nodes, Edges: rec.Edges}
		}
		flows = append(flows, &flow)
	}
	return flows, nil
}

// MemoryFlowStore holds flows in process; used in tests and when no record
// store is configured.
type MemoryFlowStore struct {
	mu    sync.RWMutex
	flows []*metadata.AutomationFlow
}

var _ FlowStore = (*MemoryFlowStore)(nil)

func NewMemoryFlowStore(flows ...*metadata.AutomationFlow) *MemoryFlowStore {
	return &MemoryFlowStore{flows: flows}
}

func (m *MemoryFlowStore) ListFlows(_ context.Context) ([]*metadata.AutomationFlow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*metadata.AutomationFlow, len(m.flows))
	copy(out, m.flows)
	return out, nil
}
