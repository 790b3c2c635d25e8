package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"jobchat/cmd/api/router/v1"
	"jobchat/internal/infrastructure/database"
	pubsubadapter "jobchat/internal/infrastructure/pubsub/adapter"
	queueadapter "jobchat/internal/infrastructure/queue/adapter"
	"jobchat/internal/pkg/chat/application/task"
	"jobchat/internal/pkg/chat/broker"
	repoadapter "jobchat/internal/pkg/chat/persistence/repository/adapter"
)

func main() {
	// Load .env file; absence is fine in production where env vars are injected.
	_ = godotenv.Load()

	log, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable storage
	dbCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
	pool, err := database.NewPoolFromEnv(dbCtx)
	cancel()
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	store := repoadapter.NewPgHistoryStore(pool)

	// Downstream pub/sub fabric
	downstream, err := pubsubadapter.NewRedisBrokerFromEnv(log)
	if err != nil {
		log.Fatal("pubsub setup failed", zap.Error(err))
	}
	defer func() { _ = downstream.Close() }()

	// Background task queue for buffer drains
	queueClient, err := queueadapter.NewAsynqClientFromEnv()
	if err != nil {
		log.Fatal("queue client setup failed", zap.Error(err))
	}
	defer func() { _ = queueClient.Close() }()

	queueServer, err := queueadapter.NewAsynqServer(log)
	if err != nil {
		log.Fatal("queue server setup failed", zap.Error(err))
	}

	recon := broker.NewReconciler(store, log)
	b := broker.New(store, downstream, queueClient, recon, log)

	// A failed connect degrades cross-node delivery but the node still serves.
	if err := b.Connect(rootCtx); err != nil {
		log.Warn("downstream connect failed, running degraded", zap.Error(err))
	}
	go b.Run(rootCtx)

	queueServer.Register(task.TypeDrainRoom, task.NewDrainRoomHandler(b, log))
	go func() {
		if err := queueServer.Run(rootCtx); err != nil {
			log.Error("queue server stopped", zap.Error(err))
		}
	}()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	v1.RegisterRoutes(r, b, recon, log)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	// Broker and queue server drain on rootCtx cancellation; give them a moment.
	time.Sleep(time.Second)
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
