package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	orig := Cursor{CreatedAt: time.Date(2025, 6, 1, 12, 30, 0, 123456000, time.UTC), ID: 987654}
	got, err := ParseCursor(orig.Encode())
	require.NoError(t, err)
	assert.True(t, orig.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, orig.ID, got.ID)
}

func TestParseCursorInvalid(t *testing.T) {
	for _, s := range []string{"", "M", "Mabc", "X123-456", "M123-", "M-456", "M12!-9", "M1-2-3-"} {
		_, err := ParseCursor(s)
		assert.ErrorIs(t, err, ErrInvalidCursor, "input %q", s)
	}
}

func TestParseCursorRejectsNegativeID(t *testing.T) {
	_, err := ParseCursor("M10--5")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}
