package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor is a keyset pagination position: the (created_at, id) pair of the last
// row the client has seen. The encoded form is opaque to clients.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

const cursorPrefix = "M"

// Encode renders the cursor as an opaque token.
func (c Cursor) Encode() string {
	return fmt.Sprintf("%s%s-%s",
		cursorPrefix,
		strconv.FormatInt(c.CreatedAt.UnixMicro(), 36),
		strconv.FormatInt(c.ID, 36),
	)
}

// ParseCursor decodes a cursor token, returning ErrInvalidCursor on any
// malformed input.
func ParseCursor(s string) (Cursor, error) {
	if !strings.HasPrefix(s, cursorPrefix) {
		return Cursor{}, ErrInvalidCursor
	}
	parts := strings.SplitN(s[len(cursorPrefix):], "-", 2)
	if len(parts) != 2 {
		return Cursor{}, ErrInvalidCursor
	}
	micros, err := strconv.ParseInt(parts[0], 36, 64)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(parts[1], 36, 64)
	if err != nil || id < 0 {
		return Cursor{}, ErrInvalidCursor
	}
	return Cursor{CreatedAt: time.UnixMicro(micros).UTC(), ID: id}, nil
}
