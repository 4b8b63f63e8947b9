package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"storyscene-server/config"
	"storyscene-server/logger"
	"storyscene-server/models"
	"storyscene-server/routers"
	"storyscene-server/routers/api"
	"storyscene-server/service"
	"storyscene-server/service/ai"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

func main() {
	config.InitConfig()
	cfg := config.AppConfig

	slogger, err := logger.Init(cfg.Log)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	gin.SetMode(cfg.Server.Mode)
	slogger.Info("server starting", "port", cfg.Server.Port, "worker", cfg.WorkerEnabled())

	db, err := models.InitDB(cfg.MySQL.DSN, slogger)
	if err != nil {
		slogger.Error("database init failed", "error", err)
		os.Exit(1)
	}

	blobs, err := service.NewMinIOStore(cfg.MinIO, slogger)
	if err != nil {
		slogger.Error("minio init failed", "error", err)
		os.Exit(1)
	}
	slogger.Info("minio initialized", "endpoint", cfg.MinIO.Endpoint, "bucket", cfg.MinIO.Bucket)

	ctx := context.Background()
	decomposer, err := ai.NewDecomposer(ctx, ai.DecomposerConfig{
		APIKey:  cfg.AI.Chat.APIKey,
		BaseURL: cfg.AI.Chat.BaseURL,
		Model:   cfg.AI.Chat.Model,
	})
	if err != nil {
		slogger.Error("chat model init failed", "error", err)
		os.Exit(1)
	}
	videos := ai.NewVideoClient(ai.VideoConfig{
		APIKey:  cfg.AI.Video.APIKey,
		BaseURL: cfg.AI.Video.BaseURL,
		Model:   cfg.AI.Video.Model,
	})
	if cfg.AI.Chat.APIKey == "" || cfg.AI.Image.APIKey == "" {
		// 缺少 key 时对应接口返回 503，服务照常启动
		slogger.Warn("ai api keys missing, generation endpoints will be unavailable")
	}

	images := ai.NewImageClient(ai.ImageConfig{
		APIKey:  cfg.AI.Image.APIKey,
		BaseURL: cfg.AI.Image.BaseURL,
		Model:   cfg.AI.Image.Model,
		Size:    cfg.AI.Image.Size,
	})

	coord := service.NewCoordinator(service.Deps{
		Projects:        models.NewProjectRepository(db),
		Scenes:          models.NewSceneRepository(db),
		Media:           models.NewMediaRepository(db),
		Blobs:           blobs,
		Decomposer:      decomposer,
		Images:          images,
		Videos:          videos,
		Logger:          slogger,
		SignedURLTTL:    cfg.MinIO.URLExpiry,
		ProcessingLease: cfg.Worker.ProcessingLease,
	})

	var (
		queue      *service.Queue
		worker     *asynq.Server
		reconciler *service.Reconciler
	)
	if cfg.WorkerEnabled() {
		redis := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		queue = service.NewQueue(redis, cfg.Worker.JobTimeout, slogger)
		coord.SetTracker(queue)

		processor := service.NewProcessor(coord, videos, ai.WaitOptions{
			Interval: cfg.Worker.WaitInterval,
			MaxWait:  cfg.Worker.WaitMax,
		}, slogger)
		worker, err = processor.Start(redis, cfg.Worker.Concurrency)
		if err != nil {
			slogger.Error("processor start failed", "error", err)
			os.Exit(1)
		}

		reconciler = service.NewReconciler(coord, queue, service.ReconcilerConfig{
			Interval:  cfg.Worker.ReconcileInterval,
			OlderThan: cfg.Worker.StalledAfter,
		}, slogger)
		if err := reconciler.Start(); err != nil {
			slogger.Error("reconciler start failed", "error", err)
			os.Exit(1)
		}
	}

	r := routers.InitRouter(api.NewHandler(coord), cfg.Auth.JWTSecret, slogger)
	srv := &http.Server{Addr: cfg.Server.Port, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slogger.Error("http shutdown failed", "error", err)
	}
	if reconciler != nil {
		reconciler.Stop()
	}
	if worker != nil {
		worker.Shutdown()
	}
	if queue != nil {
		_ = queue.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	slogger.Info("server stopped")
}
