// Package reconcile links optimistic client-generated message ids to the
// server-assigned ids reported back by the backend.
package reconcile

import (
	"errors"

	"go.uber.org/zap"

	"chatcore/internal/store"
)

// Reconciler applies temp-id to server-id mappings against the store.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// New creates a reconciler.
func New(db *store.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

// Apply records that the message created under tempID was accepted by the
// server as serverID. After a successful apply the message resolves via
// both identifiers. Reapplying the same pair is a no-op; the transport
// ack and the API response may both deliver the confirmation.
//
// attached reports whether this call added the mapping. A conflicting
// second server id for the same temp id is a data-integrity warning: the
// first-seen mapping is kept and attached is false.
func (r *Reconciler) Apply(tempID, serverID, chatID string) (attached bool, err error) {
	if tempID == "" || serverID == "" {
		return false, errors.New("reconcile: empty id")
	}
	attached, prior, err := r.db.AttachServerID(tempID, serverID)
	if err != nil {
		return false, err
	}
	if prior != "" {
		r.logger.Warn("conflicting server id for message, keeping first mapping",
			zap.String("client_id", tempID),
			zap.String("kept_server_id", prior),
			zap.String("rejected_server_id", serverID),
			zap.String("chat_id", chatID))
		return false, nil
	}
	return attached, nil
}
