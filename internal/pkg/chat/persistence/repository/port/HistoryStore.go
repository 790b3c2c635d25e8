package port

import (
	"context"
	"time"

	chat "jobchat/internal/pkg/chat/domain"
)

// HistoryQuery describes one keyset page of room history.
// Limit is clamped by callers to [1, 100] with a default of 20. A nil Cursor
// means "start from the newest message". PageBack pages toward older messages.
type HistoryQuery struct {
	RoomID   string
	Limit    int
	Cursor   *chat.Cursor
	PageBack bool
}

// HistoryStore is the durable side of the chat subsystem: rooms, the message
// log, read pointers, unread counters and the pending-ack ledger.
//
// Writes that touch counters are transactional so a crash never leaves a
// message persisted without its unread bump (or vice versa).
type HistoryStore interface {
	// EnsureRoom idempotently creates the room row and its participant rows.
	EnsureRoom(ctx context.Context, room *chat.Room, memberIDs []int32) error

	// IsParticipant reports room membership for one user.
	IsParticipant(ctx context.Context, roomID string, userID int32) (bool, error)

	// Participants lists the member ids of a room.
	Participants(ctx context.Context, roomID string) ([]int32, error)

	// InsertMessages bulk-persists buffered messages, skipping rows whose
	// (room_id, sender_id, msg_ref_id) already exists. For each row actually
	// inserted, the unread counter of every other participant is incremented
	// in the same transaction. Returns the number of rows inserted.
	InsertMessages(ctx context.Context, msgs []*chat.Message) (int, error)

	// ListMessages returns one history page, newest first.
	ListMessages(ctx context.Context, q HistoryQuery) ([]*chat.Message, error)

	// UpsertLastRead records the read pointer and resets the unread counter
	// for that (user, room) in one transaction.
	UpsertLastRead(ctx context.Context, lr *chat.LastRead) error

	// GetLastRead returns the read pointer, or nil if none was ever recorded.
	GetLastRead(ctx context.Context, userID int32, roomID string) (*chat.LastRead, error)

	// UnreadSnapshot lists unread counters across all rooms the user belongs to.
	UnreadSnapshot(ctx context.Context, userID int32) ([]*chat.UnreadRow, error)

	// InsertPendingAcks records unconfirmed sends; duplicates are ignored.
	InsertPendingAcks(ctx context.Context, acks []*chat.PendingAck) error

	// DeletePendingAcks removes confirmed entries and reports how many matched.
	DeletePendingAcks(ctx context.Context, roomID string, senderID int32, clientIDs []string) (int64, error)

	// ListPendingAcks returns the sender's entries created before olderThan,
	// oldest first, capped at 100. An empty roomID matches every room.
	ListPendingAcks(ctx context.Context, roomID string, senderID int32, olderThan time.Time) ([]*chat.PendingAck, error)
}
