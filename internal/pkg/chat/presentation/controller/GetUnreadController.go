package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jobchat/internal/pkg/chat/broker"
)

// GetUnreadController lists unread counters across the caller's rooms
// (one controller per endpoint).
type GetUnreadController struct {
	broker *broker.Broker
}

func NewGetUnreadController(b *broker.Broker) *GetUnreadController {
	return &GetUnreadController{broker: b}
}

func (ctl *GetUnreadController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := int32Query(c, "user_id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		rows, err := ctl.broker.UnreadSnapshot(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		out := make([]gin.H, 0, len(rows))
		for _, r := range rows {
			out = append(out, gin.H{
				"room_id":         r.RoomID,
				"unread_count":    r.UnreadCount,
				"last_message_id": r.LastMessageID,
				"last_message_at": r.LastMessageAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"rooms": out, "count": len(out)})
	}
}
