package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jobchat/internal/pkg/chat/broker"
	chat "jobchat/internal/pkg/chat/domain"
)

// GetLastReadController returns the caller's read pointer for a room
// (one controller per endpoint).
type GetLastReadController struct {
	broker *broker.Broker
}

func NewGetLastReadController(b *broker.Broker) *GetLastReadController {
	return &GetLastReadController{broker: b}
}

func (ctl *GetLastReadController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		userID, ok := int32Query(c, "user_id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		lr, err := ctl.broker.GetLastRead(ctx, userID, roomID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, chat.ErrNotAMember) {
				status = http.StatusForbidden
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		if lr == nil {
			c.JSON(http.StatusOK, gin.H{"last_read": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"last_read": gin.H{
			"room_id":          lr.RoomID,
			"last_read_msg_id": lr.LastReadMsgID,
			"updated_at":       lr.UpdatedAt,
		}})
	}
}
