package broker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chat "jobchat/internal/pkg/chat/domain"
)

func newBufMsg(t *testing.T, i int) *chat.Message {
	t.Helper()
	m, err := chat.NewMessage("room", 1, fmt.Sprintf("msg %d", i), fmt.Sprintf("ref-%d", i))
	require.NoError(t, err)
	return m
}

func TestRoomBufferSeqIsMonotonic(t *testing.T) {
	buf := &roomBuffer{}
	for i := 0; i < 5; i++ {
		require.NoError(t, buf.push(newBufMsg(t, i)))
	}
	taken := buf.take()
	require.Len(t, taken, 5)
	for i, m := range taken {
		assert.Equal(t, uint64(i+1), m.Seq)
	}

	// Sequence continues across drains.
	require.NoError(t, buf.push(newBufMsg(t, 5)))
	assert.Equal(t, uint64(6), buf.take()[0].Seq)
}

func TestRoomBufferRejectsAtCapacity(t *testing.T) {
	buf := &roomBuffer{}
	for i := 0; i < bufferCap; i++ {
		require.NoError(t, buf.push(newBufMsg(t, i)))
	}
	err := buf.push(newBufMsg(t, bufferCap))
	assert.ErrorIs(t, err, chat.ErrBufferFull)
	assert.Equal(t, bufferCap, buf.len())
}

func TestRoomBufferRequeuePreservesOrder(t *testing.T) {
	buf := &roomBuffer{}
	for i := 0; i < 3; i++ {
		require.NoError(t, buf.push(newBufMsg(t, i)))
	}
	batch := buf.take()
	require.NoError(t, buf.push(newBufMsg(t, 3)))

	buf.requeue(batch)
	got := buf.take()
	require.Len(t, got, 4)
	for i, m := range got {
		assert.Equal(t, fmt.Sprintf("msg %d", i), m.Content)
	}
}

func TestRoomBufferDrainThreshold(t *testing.T) {
	buf := &roomBuffer{}
	for i := 0; i < drainThreshold-1; i++ {
		require.NoError(t, buf.push(newBufMsg(t, i)))
	}
	assert.False(t, buf.needsDrain())
	require.NoError(t, buf.push(newBufMsg(t, drainThreshold)))
	assert.True(t, buf.needsDrain())
}
