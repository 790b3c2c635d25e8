package chat

import "errors"

// Typed errors surfaced across the chat subsystem. I/O failures are caught at
// the broker boundary and converted to one of these; sessions never crash on them.
var (
	// ErrNotAMember is returned when a user fails the room membership check.
	ErrNotAMember = errors.New("chat: user is not a member of this room")

	// ErrMalformedRoomID is returned when a compact room id cannot be decoded.
	ErrMalformedRoomID = errors.New("chat: malformed room id")

	// ErrInvalidCursor is returned for pagination cursors that fail to decode.
	ErrInvalidCursor = errors.New("chat: invalid pagination cursor")

	// ErrDownstreamUnavailable signals that the downstream broker connection is
	// not established. Live fan-out degrades; nothing crashes.
	ErrDownstreamUnavailable = errors.New("chat: downstream broker unavailable")

	// ErrBufferFull is returned when a room's write buffer is at capacity.
	// A drain is triggered; the client retries with the same msg_ref_id.
	ErrBufferFull = errors.New("chat: room buffer full")

	// ErrEmptyMessage rejects sends with no content after trimming.
	ErrEmptyMessage = errors.New("chat: message content is empty")
)
