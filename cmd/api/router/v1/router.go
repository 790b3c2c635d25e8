package v1

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jobchat/internal/pkg/chat/broker"
	httpHandler "jobchat/internal/pkg/chat/presentation/http"
)

// RegisterRoutes mounts all version 1 API routes under /api/v1
func RegisterRoutes(r *gin.Engine, b *broker.Broker, recon *broker.Reconciler, log *zap.Logger) {
	v1 := r.Group("/api/v1")
	httpHandler.RegisterRoutes(v1, b, recon, log)
}
