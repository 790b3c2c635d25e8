package broker

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	chat "jobchat/internal/pkg/chat/domain"
	"jobchat/internal/pkg/chat/persistence/repository/port"
)

const defaultAckGrace = 10 * time.Second

// Reconciler keeps the pending-ack ledger in sync with what senders have
// confirmed. Delivery is at-least-once: every publish is tracked here and the
// entry survives until the sender's AckConfirm, so a reconnecting client can
// ask which of its sends might need a retry.
type Reconciler struct {
	store port.HistoryStore
	grace time.Duration
	log   *zap.Logger
}

// NewReconciler reads the grace window from CHAT_ACK_GRACE (a Go duration
// string, default 10s). Entries younger than the window are considered
// in-flight and excluded from SyncPending.
func NewReconciler(store port.HistoryStore, log *zap.Logger) *Reconciler {
	grace := defaultAckGrace
	if v := os.Getenv("CHAT_ACK_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			grace = d
		}
	}
	return &Reconciler{store: store, grace: grace, log: log}
}

// Track records a publish as unconfirmed under its client msg ref. Failures
// are logged, never surfaced: losing a ledger entry only costs the client one
// redundant retry.
func (r *Reconciler) Track(ctx context.Context, msg *chat.Message) {
	ack := &chat.PendingAck{
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		ClientID:  msg.MsgRefID,
		CreatedAt: msg.CreatedAt,
	}
	if err := r.store.InsertPendingAcks(ctx, []*chat.PendingAck{ack}); err != nil {
		r.log.Warn("pending ack insert failed",
			zap.String("room_id", msg.RoomID), zap.Error(err))
	}
}

// AckConfirm removes confirmed entries and reports how many were found.
func (r *Reconciler) AckConfirm(ctx context.Context, roomID string, senderID int32, clientIDs []string) (int64, error) {
	return r.store.DeletePendingAcks(ctx, roomID, senderID, clientIDs)
}

// SyncPending lists the sender's entries older than the grace window,
// oldest first. These are the sends the client should assume undelivered.
// An empty roomID lists across all rooms.
func (r *Reconciler) SyncPending(ctx context.Context, roomID string, senderID int32) ([]*chat.PendingAck, error) {
	return r.store.ListPendingAcks(ctx, roomID, senderID, time.Now().Add(-r.grace))
}
