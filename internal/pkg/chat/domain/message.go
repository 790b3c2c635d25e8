package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageStatus mirrors the persisted status column.
// Buffered messages are "sending" until drained; persisted rows default to "delivered".
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Message is an append-only log entry in a room. MsgRefID is the client-chosen
// idempotency key: unique per (room, sender), so a retried send persists at most once.
type Message struct {
	ID        int64         `db:"id"`
	MsgRefID  string        `db:"msg_ref_id"`
	RoomID    string        `db:"room_id"`
	SenderID  int32         `db:"sender_id"`
	Content   string        `db:"content"`
	Status    MessageStatus `db:"status"`
	Seq       uint64        `db:"-"` // server-assigned order within the room buffer
	CreatedAt time.Time     `db:"created_at"`
	UpdatedAt time.Time     `db:"updated_at"`
}

func NewMessage(roomID string, senderID int32, content, msgRefID string) (*Message, error) {
	if roomID == "" {
		return nil, ErrMalformedRoomID
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if msgRefID == "" {
		msgRefID = uuid.NewString()
	}
	return &Message{
		MsgRefID:  msgRefID,
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		Status:    MessageStatusSending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Room is one conversation scope per (user-pair, job post).
// Its ID is the compact RoomKey encoding, see roomid.go.
type Room struct {
	ID        string    `db:"id"`
	PostID    int32     `db:"post_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Participant captures room membership. Primary key: (RoomID, MemberID).
// Rows are created idempotently on first join.
type Participant struct {
	RoomID   string    `db:"room_id"`
	MemberID int32     `db:"member_id"`
	JoinedAt time.Time `db:"joined_at"`
}

// PendingAck is one unconfirmed outbound send, deleted when the sender
// confirms. ClientID is the sender's msg_ref_id.
type PendingAck struct {
	ID        int64     `db:"id"`
	RoomID    string    `db:"room_id"`
	SenderID  int32     `db:"sender_id"`
	ClientID  string    `db:"client_id"`
	CreatedAt time.Time `db:"created_at"`
}

// LastRead is the per-(user, room) read pointer, upserted on each read receipt.
type LastRead struct {
	UserID        int32     `db:"user_id"`
	RoomID        string    `db:"room_id"`
	LastReadMsgID string    `db:"last_read_msg_id"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// UnreadRow is the denormalized badge counter for one (user, room) pair.
type UnreadRow struct {
	RoomID        string     `db:"room_id"`
	UnreadCount   int32      `db:"unread_count"`
	LastMessageID *string    `db:"last_message_id"`
	LastMessageAt *time.Time `db:"last_message_at"`
}
