package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"jobchat/internal/infrastructure/realtime"
	"jobchat/internal/pkg/chat/broker"
	"jobchat/internal/pkg/chat/crypto"
	chat "jobchat/internal/pkg/chat/domain"
	"jobchat/internal/pkg/chat/session"
)

// ChatSocketController handles the websocket endpoint for realtime chat traffic.
// The conversation is identified either by room_id or by the (peer_id, post_id)
// pair; an optional hex key enables protected message content.
type ChatSocketController struct {
	broker *broker.Broker
	log    *zap.Logger
}

func NewChatSocketController(b *broker.Broker, log *zap.Logger) *ChatSocketController {
	return &ChatSocketController{broker: b, log: log}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now; plug a proper checker when auth is added.
		return true
	},
}

const defaultReadTimeout = 60 * time.Second

// Handle upgrades the connection and runs the session until the client leaves.
func (ctl *ChatSocketController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := int32Query(c, "user_id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		params := session.Params{UserID: userID, RoomID: c.Query("room_id")}
		if params.RoomID == "" {
			peerID, ok := int32Query(c, "peer_id")
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "room_id or peer_id is required"})
				return
			}
			postID, ok := int32Query(c, "post_id")
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "post_id is required"})
				return
			}
			params.PeerID, params.PostID = peerID, postID
		}
		if k := c.Query("key"); k != "" {
			key, err := crypto.ParseKeyHex(k)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "key must be 64 hex characters"})
				return
			}
			params.Key = key
		}

		ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response; just log and return.
			ctl.log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}

		conn := realtime.NewConnection(userID, ws)
		conn.Start()
		params.ConnID = conn.ID

		ws.SetReadLimit(1 << 20) // 1MB payload cap
		_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		})

		sess := session.New(params, ctl.broker, ws, conn, ctl.log)
		err = sess.Run(c.Request.Context())
		switch {
		case err == nil:
			conn.Close(websocket.CloseNormalClosure, "session closed")
		case errors.Is(err, chat.ErrNotAMember):
			conn.Close(4403, "not a member of this room")
		case errors.Is(err, chat.ErrMalformedRoomID):
			conn.Close(4400, "malformed room id")
		default:
			ctl.log.Warn("session ended with error",
				zap.Int32("user_id", userID), zap.Error(err))
			conn.Close(websocket.CloseInternalServerErr, "internal error")
		}
	}
}
