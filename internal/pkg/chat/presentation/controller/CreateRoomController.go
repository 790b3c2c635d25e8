package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jobchat/internal/pkg/chat/broker"
)

// CreateRoomController provisions a room for a user pair and a job post
// (one controller per endpoint).
type CreateRoomController struct {
	broker *broker.Broker
}

func NewCreateRoomController(b *broker.Broker) *CreateRoomController {
	return &CreateRoomController{broker: b}
}

type createRoomRequest struct {
	UserID int32 `json:"user_id" binding:"required"`
	PeerID int32 `json:"peer_id" binding:"required"`
	PostID int32 `json:"post_id"`
}

func (ctl *CreateRoomController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRoomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and peer_id are required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		roomID, err := ctl.broker.CreateRoom(ctx, req.UserID, req.PeerID, req.PostID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"room_id": roomID})
	}
}
