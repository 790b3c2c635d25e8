package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jobchat/internal/pkg/chat/broker"
)

// AckConfirmController removes delivery-confirmed entries from the
// pending-ack ledger (one controller per endpoint).
type AckConfirmController struct {
	recon *broker.Reconciler
}

func NewAckConfirmController(recon *broker.Reconciler) *AckConfirmController {
	return &AckConfirmController{recon: recon}
}

type ackConfirmRequest struct {
	RoomID    string   `json:"room_id" binding:"required"`
	SenderID  int32    `json:"sender_id" binding:"required"`
	ClientIDs []string `json:"client_ids" binding:"required,min=1"`
}

func (ctl *AckConfirmController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ackConfirmRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "room_id, sender_id and client_ids are required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		removed, err := ctl.recon.AckConfirm(ctx, req.RoomID, req.SenderID, req.ClientIDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"confirmed": removed,
			"not_found": int64(len(req.ClientIDs)) - removed,
		})
	}
}
