package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jobchat/internal/pkg/chat/broker"
)

// SyncPendingController lists the caller's unconfirmed sends so a
// reconnecting client knows what to retry (one controller per endpoint).
type SyncPendingController struct {
	recon *broker.Reconciler
}

func NewSyncPendingController(recon *broker.Reconciler) *SyncPendingController {
	return &SyncPendingController{recon: recon}
}

func (ctl *SyncPendingController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := int32Query(c, "user_id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		pending, err := ctl.recon.SyncPending(ctx, c.Query("room_id"), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		out := make([]gin.H, 0, len(pending))
		for _, a := range pending {
			out = append(out, gin.H{
				"room_id":    a.RoomID,
				"client_id":  a.ClientID,
				"created_at": a.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"pending": out, "count": len(out)})
	}
}
