package metadata

import (
	"encoding/json"
	"testing"
)

func TestEventListDecoding(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{`["order.paid"," order.created ",""]`, []string{"order.paid", "order.created"}},
		{`"order.paid, cart.abandoned,,"`, []string{"order.paid", "cart.abandoned"}},
		{`""`, []string{}},
	}
	for _, tt := range tests {
		var got EventList
		if err := json.Unmarshal([]byte(tt.raw), &got); err != nil {
			t.Fatalf("%s: %v", tt.raw, err)
		}
		if len(got) != len(tt.want) {
			t.Errorf("%s: got %v, want %v", tt.raw, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: got %v, want %v", tt.raw, got, tt.want)
			}
		}
	}

	var bad EventList
	if err := json.Unmarshal([]byte(`42`), &bad); err == nil {
		t.Error("expected error for numeric events")
	}
}

func TestSubscriptionWants(t *testing.T) {
	sub := WebhookSubscription{Active: true, Events: EventList{"order.paid"}}
	if !sub.Wants("order.paid") {
		t.Error("active subscription should want its event")
	}
	if sub.Wants("Order.Paid") {
		t.Error("event matching is case-sensitive")
	}
	sub.Active = false
	if sub.Wants("order.paid") {
		t.Error("inactive subscription must not want anything")
	}
}

func TestSubscriptionPatch(t *testing.T) {
	var patch SubscriptionPatch
	if err := json.Unmarshal([]byte(`{"url":" http://new ","events":"a,b","retries":0}`), &patch); err != nil {
		t.Fatalf("decode patch: %v", err)
	}
	sub := WebhookSubscription{URL: "http://old", Secret: "keep", Retries: 3, Active: true}
	patch.Apply(&sub)

	if sub.URL != "http://new" || sub.Retries != 0 || len(sub.Events) != 2 {
		t.Errorf("patch not applied: %+v", sub)
	}
	if sub.Secret != "keep" || !sub.Active {
		t.Errorf("unset fields changed: %+v", sub)
	}

	fields := patch.Fields()
	if len(fields) != 3 || fields["retries"] != 0 {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestApplyDefaults(t *testing.T) {
	sub := WebhookSubscription{Retries: -1}
	sub.ApplyDefaults()
	if sub.TimeoutMs != DefaultWebhookTimeoutMs || sub.Retries != DefaultWebhookRetries {
		t.Errorf("defaults not applied: %+v", sub)
	}
	zero := WebhookSubscription{Retries: 0, TimeoutMs: 100}
	zero.ApplyDefaults()
	if zero.Retries != 0 || zero.TimeoutMs != 100 {
		t.Errorf("explicit values overwritten: %+v", zero)
	}
}
