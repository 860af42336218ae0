package message

// Status is a message delivery status.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
	StatusFailed    Status = "failed"
)

// statusRank orders the forward-only delivery progression. Failed sits
// outside the order and is handled explicitly.
var statusRank = map[Status]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusSeen:      3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusFailed
}

// Advance applies a status event to the current status. It returns the
// resulting status and whether the event changed anything.
//
// Rules:
//   - progression only moves forward in sending < sent < delivered < seen;
//     a late event for an earlier stage is discarded
//   - any non-terminal progression state may transition to failed
//   - the only way out of failed is an explicit retry back to sending
//   - repeated events for the current stage (e.g. seen receipts from
//     several group members) are no-ops
func Advance(cur, next Status) (Status, bool) {
	if next == cur {
		return cur, false
	}
	if next == StatusFailed {
		if cur == StatusFailed {
			return cur, false
		}
		return StatusFailed, true
	}
	if cur == StatusFailed {
		if next == StatusSending {
			return StatusSending, true
		}
		return cur, false
	}
	curRank, ok := statusRank[cur]
	if !ok {
		return cur, false
	}
	nextRank, ok := statusRank[next]
	if !ok {
		return cur, false
	}
	if nextRank <= curRank {
		return cur, false
	}
	return next, true
}
