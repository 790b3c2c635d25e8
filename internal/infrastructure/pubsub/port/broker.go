package port

import (
	"context"
	"errors"
)

// Event is one message delivered on a joined topic.
type Event struct {
	Topic   string
	Name    string
	Payload []byte
}

// Channel is a joined topic handle. Events() yields the downstream fan-out for
// that topic until the channel is closed.
type Channel interface {
	Topic() string
	Events() <-chan Event
	Close() error
}

// Broker is the minimal contract for the downstream pub/sub collaborator.
// Implementations must be concurrency-safe; Connect must respect the caller's
// context deadline and never retry internally — reconnect policy belongs to
// the layer above.
type Broker interface {
	// Connect establishes the underlying connection. It is an error to call
	// Join or Push before a successful Connect.
	Connect(ctx context.Context) error

	// Join subscribes to a topic and returns a live channel handle.
	Join(ctx context.Context, topic string) (Channel, error)

	// Push publishes an event onto a topic. The returned error reports the
	// publish handshake only; delivery to subscribers is best-effort.
	Push(ctx context.Context, topic string, event string, payload []byte) error

	// Close tears down the connection and all joined channels.
	Close() error
}

// ErrNotConnected is returned by Join/Push before a successful Connect.
var ErrNotConnected = errors.New("pubsub: not connected")
