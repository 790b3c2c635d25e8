package task

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"jobchat/internal/infrastructure/queue/port"
)

// TypeDrainRoom flushes one room's write buffer to durable storage.
const TypeDrainRoom = "chat:drain_room"

// DrainPayload is the JSON body of a drain task.
type DrainPayload struct {
	RoomID string `json:"room_id"`
}

// Drainer is the slice of the broker the worker needs.
type Drainer interface {
	DrainRoom(ctx context.Context, roomID string) error
}

// NewDrainRoomHandler returns the worker handler for TypeDrainRoom.
// A returned error makes the queue retry, which is safe: drains are
// idempotent thanks to the message dedup key.
func NewDrainRoomHandler(d Drainer, log *zap.Logger) port.Handler {
	return func(ctx context.Context, t port.Task) error {
		var p DrainPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			// A malformed payload will never succeed; drop instead of retrying.
			log.Error("drain task payload undecodable", zap.Error(err))
			return nil
		}
		if p.RoomID == "" {
			return nil
		}
		if err := d.DrainRoom(ctx, p.RoomID); err != nil {
			return fmt.Errorf("drain room %s: %w", p.RoomID, err)
		}
		return nil
	}
}
