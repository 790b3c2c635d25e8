package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobchat/internal/infrastructure/pubsub/port"
)

// RedisBroker satisfies port.Broker over Redis pub/sub. Each Push wraps the
// payload in a small JSON envelope carrying the event name, so subscribers can
// demultiplex events on a single topic.
type RedisBroker struct {
	client *redis.Client
	log    *zap.Logger

	mu        sync.Mutex
	connected bool
	channels  map[string]*redisChannel
}

// wireFrame is the on-the-wire envelope for one published event.
type wireFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewRedisBrokerFromEnv constructs a broker using the REDIS_URL environment variable.
// The connection itself is deferred to Connect.
func NewRedisBrokerFromEnv(log *zap.Logger) (*RedisBroker, error) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		return nil, errors.New("pubsub: REDIS_URL environment variable is not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("pubsub: parse url: %w", err)
	}
	return &RedisBroker{
		client:   redis.NewClient(opt),
		log:      log,
		channels: make(map[string]*redisChannel),
	}, nil
}

// Ensure interface compliance at compile time
var _ port.Broker = (*RedisBroker)(nil)

// Connect verifies connectivity with a ping. The caller owns the deadline; a
// failure leaves the broker disconnected for the caller to retry.
func (b *RedisBroker) Connect(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pubsub: connect: %w", err)
	}
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

func (b *RedisBroker) Join(ctx context.Context, topic string) (port.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, port.ErrNotConnected
	}
	if ch, ok := b.cached(topic); ok {
		return ch, nil
	}

	sub := b.client.Subscribe(ctx, topic)
	// Receive forces the SUBSCRIBE handshake so a join failure is reported
	// here rather than silently on the event stream.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("pubsub: join %s: %w", topic, err)
	}

	ch := &redisChannel{
		topic:  topic,
		sub:    sub,
		events: make(chan port.Event, 64),
		done:   make(chan struct{}),
	}
	go ch.pump(b.log)
	b.channels[topic] = ch
	return ch, nil
}

// cached returns the live channel for topic, evicting a closed one so a
// re-join after the last subscriber left gets a fresh subscription instead of
// a dead handle. Caller holds b.mu.
func (b *RedisBroker) cached(topic string) (*redisChannel, bool) {
	ch, ok := b.channels[topic]
	if !ok {
		return nil, false
	}
	select {
	case <-ch.done:
		delete(b.channels, topic)
		return nil, false
	default:
		return ch, true
	}
}

func (b *RedisBroker) Push(ctx context.Context, topic string, event string, payload []byte) error {
	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		return port.ErrNotConnected
	}

	frame, err := json.Marshal(wireFrame{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("pubsub: encode frame: %w", err)
	}
	if err := b.client.Publish(ctx, topic, frame).Err(); err != nil {
		return fmt.Errorf("pubsub: push %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	for _, ch := range b.channels {
		_ = ch.Close()
	}
	b.channels = make(map[string]*redisChannel)
	b.connected = false
	b.mu.Unlock()
	return b.client.Close()
}

type redisChannel struct {
	topic  string
	sub    *redis.PubSub
	events chan port.Event
	once   sync.Once
	done   chan struct{}
}

func (c *redisChannel) Topic() string             { return c.topic }
func (c *redisChannel) Events() <-chan port.Event { return c.events }

func (c *redisChannel) Close() error {
	c.once.Do(func() {
		close(c.done)
		_ = c.sub.Close()
	})
	return nil
}

// pump converts raw redis messages into port.Events. Slow consumers drop
// events rather than block the subscription reader.
func (c *redisChannel) pump(log *zap.Logger) {
	defer close(c.events)
	for msg := range c.sub.Channel() {
		var frame wireFrame
		if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
			log.Warn("pubsub: dropping undecodable frame",
				zap.String("topic", c.topic), zap.Error(err))
			continue
		}
		ev := port.Event{Topic: msg.Channel, Name: frame.Event, Payload: frame.Payload}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		default:
			log.Warn("pubsub: event channel full, dropping", zap.String("topic", c.topic))
		}
	}
}
