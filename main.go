package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"collabtext/internal/broadcast"
	"collabtext/internal/config"
	deliveryhttp "collabtext/internal/delivery/http"
	"collabtext/internal/delivery/ws"
	"collabtext/internal/domain"
	"collabtext/internal/hub"
	"collabtext/internal/session"
	"collabtext/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		opStore     store.OperationStore
		snapStore   store.SnapshotStore
		mongoClient *mongo.Client
	)
	if cfg.MongoURI != "" {
		mongoClient, err = mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			logger.Fatal("failed to connect to mongodb", zap.Error(err))
		}
		opStore, err = store.NewMongoOperationStore(ctx, mongoClient, cfg.MongoDatabase, "operations", logger)
		if err != nil {
			logger.Fatal("failed to initialize operation store", zap.Error(err))
		}
		snapStore, err = store.NewMongoSnapshotStore(ctx, mongoClient, cfg.MongoDatabase, "snapshots", logger)
		if err != nil {
			logger.Fatal("failed to initialize snapshot store", zap.Error(err))
		}
		logger.Info("using mongodb stores", zap.String("database", cfg.MongoDatabase))
	} else {
		opStore = store.NewMemoryOperationStore()
		snapStore = store.NewMemorySnapshotStore()
		logger.Info("using in-memory stores")
	}

	var caster broadcast.Broadcaster
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		caster, err = broadcast.NewRedisBroadcaster(client, logger)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		logger.Info("using redis relay", zap.String("addr", cfg.RedisAddr))
	} else {
		caster = broadcast.NewMemoryBroadcaster()
	}

	nodeID := uuid.NewString()
	registry := hub.NewRegistry(nodeID, opStore, snapStore, caster, &hub.Options{
		QueueSize:     cfg.HubQueueSize,
		HistoryWindow: cfg.HistoryWindow,
		IdleGrace:     cfg.HubIdleGrace,
	}, logger)

	sessions := session.NewManager(&session.Options{
		IdleTimeout:   cfg.SessionIdleTimeout,
		SweepInterval: session.DefaultSweepInterval,
	}, func(sess *domain.Session) {
		docHub, err := registry.Get(sess.DocumentID)
		if err != nil {
			return
		}
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer leaveCancel()
		if err := docHub.Leave(leaveCtx, sess.ID); err != nil {
			logger.Warn("failed to evict idle session",
				zap.String("session_id", sess.ID),
				zap.String("document_id", sess.DocumentID),
				zap.Error(err))
		}
	}, logger)
	sessions.StartSweeper()

	compactor := store.NewCompactor(opStore, snapStore, &store.CompactorOptions{
		Interval: cfg.CompactionInterval,
	}, logger)
	compactor.Schedule()

	router := mux.NewRouter()
	ws.NewHandler(registry, sessions, cfg.SessionQueueSize, cfg.SubmitTimeout, logger).Register(router)
	deliveryhttp.NewHandler(registry, sessions, cfg.SubmitTimeout, logger).Register(router)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("node_id", nodeID))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	registry.Close(shutdownCtx)
	sessions.Stop()
	compactor.Stop()
	if err := caster.Close(); err != nil {
		logger.Error("relay close failed", zap.Error(err))
	}
	if err := opStore.Close(shutdownCtx); err != nil {
		logger.Error("operation store close failed", zap.Error(err))
	}
	if err := snapStore.Close(shutdownCtx); err != nil {
		logger.Error("snapshot store close failed", zap.Error(err))
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(shutdownCtx); err != nil {
			logger.Error("mongodb disconnect failed", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
