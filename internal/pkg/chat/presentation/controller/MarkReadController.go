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

// MarkReadController records a read receipt and resets the unread counter
// (one controller per endpoint).
type MarkReadController struct {
	broker *broker.Broker
}

func NewMarkReadController(b *broker.Broker) *MarkReadController {
	return &MarkReadController{broker: b}
}

type markReadRequest struct {
	UserID   int32  `json:"user_id" binding:"required"`
	MsgRefID string `json:"msg_ref_id" binding:"required"`
}

func (ctl *MarkReadController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		var req markReadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and msg_ref_id are required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if err := ctl.broker.MarkRead(ctx, req.UserID, roomID, req.MsgRefID); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, chat.ErrNotAMember) {
				status = http.StatusForbidden
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
