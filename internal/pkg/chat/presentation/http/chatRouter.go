package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jobchat/internal/pkg/chat/broker"
	"jobchat/internal/pkg/chat/presentation/controller"
)

// RegisterRoutes registers chat-related HTTP endpoints under the given router group.
// It constructs per-endpoint controllers and binds them directly to routes.
func RegisterRoutes(g *gin.RouterGroup, b *broker.Broker, recon *broker.Reconciler, log *zap.Logger) {
	socketCtl := controller.NewChatSocketController(b, log)
	createCtl := controller.NewCreateRoomController(b)
	historyCtl := controller.NewGetHistoryController(b)
	markReadCtl := controller.NewMarkReadController(b)
	lastReadCtl := controller.NewGetLastReadController(b)
	unreadCtl := controller.NewGetUnreadController(b)
	ackCtl := controller.NewAckConfirmController(recon)
	pendingCtl := controller.NewSyncPendingController(recon)
	presenceCtl := controller.NewPeerStatusController(b)

	// GET /api/v1/chat/ws -> websocket endpoint for realtime chat
	g.GET("/chat/ws", socketCtl.Handle())

	// POST /api/v1/chat/rooms -> provision a room for a user pair and job post
	g.POST("/chat/rooms", createCtl.Handle())

	// GET /api/v1/chat/rooms/:roomId/messages -> one keyset page of history
	g.GET("/chat/rooms/:roomId/messages", historyCtl.Handle())

	// POST /api/v1/chat/rooms/:roomId/read -> record a read receipt
	g.POST("/chat/rooms/:roomId/read", markReadCtl.Handle())

	// GET /api/v1/chat/rooms/:roomId/last-read -> the caller's read pointer
	g.GET("/chat/rooms/:roomId/last-read", lastReadCtl.Handle())

	// GET /api/v1/chat/unread -> unread counters across the caller's rooms
	g.GET("/chat/unread", unreadCtl.Handle())

	// POST /api/v1/chat/acks/confirm -> confirm delivered sends
	g.POST("/chat/acks/confirm", ackCtl.Handle())

	// GET /api/v1/chat/acks/pending -> unconfirmed sends older than the grace window
	g.GET("/chat/acks/pending", pendingCtl.Handle())

	// GET /api/v1/chat/presence/:userId -> live-connection status of a user
	g.GET("/chat/presence/:userId", presenceCtl.Handle())
}
