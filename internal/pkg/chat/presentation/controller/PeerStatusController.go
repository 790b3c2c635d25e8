package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"jobchat/internal/pkg/chat/broker"
)

// PeerStatusController reports whether a user currently has a live
// connection on this node (one controller per endpoint).
type PeerStatusController struct {
	broker *broker.Broker
}

func NewPeerStatusController(b *broker.Broker) *PeerStatusController {
	return &PeerStatusController{broker: b}
}

func (ctl *PeerStatusController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param("userId")
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId must be an integer"})
			return
		}
		userID := int32(n)
		c.JSON(http.StatusOK, gin.H{
			"user_id": userID,
			"online":  ctl.broker.IsOnline(userID),
		})
	}
}
