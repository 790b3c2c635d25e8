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

// GetHistoryController serves one keyset page of room history
// (one controller per endpoint).
type GetHistoryController struct {
	broker *broker.Broker
}

func NewGetHistoryController(b *broker.Broker) *GetHistoryController {
	return &GetHistoryController{broker: b}
}

func (ctl *GetHistoryController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		userID, ok := int32Query(c, "user_id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		req := broker.HistoryRequest{
			RoomID:   roomID,
			UserID:   userID,
			Limit:    intQueryDefault(c, "limit", 0),
			Cursor:   c.Query("cursor"),
			PageBack: boolQueryPtr(c, "page_back"),
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		page, err := ctl.broker.FetchHistory(ctx, req)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, chat.ErrNotAMember):
				status = http.StatusForbidden
			case errors.Is(err, chat.ErrInvalidCursor):
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		out := make([]gin.H, 0, len(page.Messages))
		for _, m := range page.Messages {
			out = append(out, gin.H{
				"id":         m.ID,
				"msg_ref_id": m.MsgRefID,
				"room_id":    m.RoomID,
				"sender_id":  m.SenderID,
				"content":    m.Content,
				"status":     m.Status,
				"created_at": m.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"messages":    out,
			"count":       len(out),
			"next_cursor": page.NextCursor,
			"prev_cursor": page.PrevCursor,
		})
	}
}
