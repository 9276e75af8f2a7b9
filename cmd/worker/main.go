package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vitacare-erp/vitacare/internal/app"
	"github.com/vitacare-erp/vitacare/internal/catalog"
	"github.com/vitacare-erp/vitacare/internal/platform/db"
	"github.com/vitacare-erp/vitacare/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, cfg.ReferenceWarehouseID, logger)

	sweepTask, err := jobs.NewStockRecomputeAllTask(time.Now())
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers:  jobs.StockRecomputeHandlers(catalogService, logger),
		Cron: []jobs.CronRegistration{
			// Nightly full sweep keeps summaries honest even when targeted
			// recomputes were lost.
			{Spec: "0 2 * * *", Task: sweepTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
