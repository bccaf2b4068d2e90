package engine

import "storefront-hooks/internal/metadata"

// allFailures returns every failure recorded in m, in insertion order.
func allFailures(m *MemorySubscriptionStore) []*metadata.WebhookFailureRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*metadata.WebhookFailureRecord, len(m.failures))
	copy(out, m.failures)
	return out
}

// putFlow adds flow to m, replacing any flow with the same id.
func putFlow(m *MemoryFlowStore, flow *metadata.AutomationFlow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.flows {
		if f.ID == flow.ID {
			m.flows[i] = flow
			return
		}
	}
	m.flows = append(m.flows, flow)
}
