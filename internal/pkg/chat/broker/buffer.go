package broker

import (
	chat "jobchat/internal/pkg/chat/domain"
)

const (
	// bufferCap bounds how many undrained messages a room may hold in memory.
	bufferCap = 256
	// drainThreshold is the buffer size at which a drain is scheduled eagerly
	// instead of waiting for the periodic flush.
	drainThreshold = 64
)

// roomBuffer is the write-behind staging area for one room. It is owned by the
// broker loop and never touched concurrently.
type roomBuffer struct {
	msgs []*chat.Message
	seq  uint64
}

// push appends a message, assigning its order within the room.
// The sequence counter survives drains so ordering is monotonic per room.
func (b *roomBuffer) push(m *chat.Message) error {
	if len(b.msgs) >= bufferCap {
		return chat.ErrBufferFull
	}
	b.seq++
	m.Seq = b.seq
	b.msgs = append(b.msgs, m)
	return nil
}

// take hands the buffered batch to a drain and leaves the buffer empty.
func (b *roomBuffer) take() []*chat.Message {
	msgs := b.msgs
	b.msgs = nil
	return msgs
}

// requeue puts a failed drain batch back in front of anything buffered since.
// The cap may be exceeded transiently; push enforces it on the next send.
func (b *roomBuffer) requeue(msgs []*chat.Message) {
	if len(msgs) == 0 {
		return
	}
	b.msgs = append(msgs, b.msgs...)
}

func (b *roomBuffer) len() int { return len(b.msgs) }

func (b *roomBuffer) needsDrain() bool { return len(b.msgs) >= drainThreshold }
