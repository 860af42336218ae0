package message

import "testing"

func TestAdvanceForwardOnly(t *testing.T) {
	tests := []struct {
		name    string
		cur     Status
		next    Status
		want    Status
		applied bool
	}{
		{"sending to sent", StatusSending, StatusSent, StatusSent, true},
		{"sent to delivered", StatusSent, StatusDelivered, StatusDelivered, true},
		{"delivered to seen", StatusDelivered, StatusSeen, StatusSeen, true},
		{"sent to seen skips delivered", StatusSent, StatusSeen, StatusSeen, true},
		{"delivered after seen ignored", StatusSeen, StatusDelivered, StatusSeen, false},
		{"sent after delivered ignored", StatusDelivered, StatusSent, StatusDelivered, false},
		{"sending after sent ignored", StatusSent, StatusSending, StatusSent, false},
		{"repeated seen is no-op", StatusSeen, StatusSeen, StatusSeen, false},
		{"sending to failed", StatusSending, StatusFailed, StatusFailed, true},
		{"sent to failed", StatusSent, StatusFailed, StatusFailed, true},
		{"failed to sending via retry", StatusFailed, StatusSending, StatusSending, true},
		{"failed to sent rejected", StatusFailed, StatusSent, StatusFailed, false},
		{"failed to seen rejected", StatusFailed, StatusSeen, StatusFailed, false},
		{"repeated failed is no-op", StatusFailed, StatusFailed, StatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, applied := Advance(tt.cur, tt.next)
			if got != tt.want || applied != tt.applied {
				t.Errorf("Advance(%s, %s) = (%s, %v), want (%s, %v)",
					tt.cur, tt.next, got, applied, tt.want, tt.applied)
			}
		})
	}
}

// TestAdvanceConverges verifies the final status is the maximum under the
// delivery order regardless of event arrival order.
func TestAdvanceConverges(t *testing.T) {
	orders := [][]Status{
		{StatusSent, StatusDelivered, StatusSeen},
		{StatusSent, StatusSeen, StatusDelivered},
		{StatusSeen, StatusSent, StatusDelivered},
		{StatusDelivered, StatusSent, StatusSeen},
	}
	for _, events := range orders {
		cur := StatusSending
		for _, ev := range events {
			cur, _ = Advance(cur, ev)
		}
		if cur != StatusSeen {
			t.Errorf("events %v converged to %s, want seen", events, cur)
		}
	}
}

func TestClientIDs(t *testing.T) {
	id := NewClientID()
	if !IsClientID(id) {
		t.Errorf("NewClientID() = %q, not recognized as client id", id)
	}
	if IsClientID("srv_456") {
		t.Error("srv_456 should not be a client id")
	}
	if NewClientID() == id {
		t.Error("two generated client ids collided")
	}
}

func TestCanonicalID(t *testing.T) {
	m := Message{ClientID: "temp_1"}
	if m.CanonicalID() != "temp_1" {
		t.Errorf("canonical = %q, want temp_1", m.CanonicalID())
	}
	m.ServerID = "srv_1"
	if m.CanonicalID() != "srv_1" {
		t.Errorf("canonical = %q, want srv_1", m.CanonicalID())
	}
	if !m.HasID("temp_1") || !m.HasID("srv_1") {
		t.Error("message must resolve via both ids after reconciliation")
	}
	if m.HasID("") {
		t.Error("empty id must not match")
	}
}
