package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vitacare-erp/vitacare/internal/app"
	"github.com/vitacare-erp/vitacare/internal/catalog"
	"github.com/vitacare-erp/vitacare/internal/inventory"
	"github.com/vitacare-erp/vitacare/internal/observability"
	"github.com/vitacare-erp/vitacare/internal/platform/cache"
	"github.com/vitacare-erp/vitacare/internal/platform/db"
	"github.com/vitacare-erp/vitacare/internal/sales"
	"github.com/vitacare-erp/vitacare/internal/shared"
	"github.com/vitacare-erp/vitacare/jobs"
)

// inventoryConverter adapts the catalog service to the ledger's converter
// port.
type inventoryConverter struct {
	catalog *catalog.Service
}

func (c inventoryConverter) ConvertToBase(ctx context.Context, productID, quantity int64, unit string) (int64, string, error) {
	conv, err := c.catalog.ConvertToBase(ctx, productID, quantity, unit)
	if err != nil {
		return 0, "", err
	}
	return conv.BaseQuantity, conv.BaseUnit, nil
}

// salesConverter adapts the catalog service to the fulfillment converter
// port.
type salesConverter struct {
	catalog *catalog.Service
}

func (c salesConverter) Convert(ctx context.Context, productID, quantity int64, unit string) (sales.Conversion, error) {
	conv, err := c.catalog.ConvertToBase(ctx, productID, quantity, unit)
	if err != nil {
		return sales.Conversion{}, err
	}
	return sales.Conversion{
		ProductName:  conv.ProductName,
		BaseUnit:     conv.BaseUnit,
		Ratio:        conv.Ratio,
		BaseQuantity: conv.BaseQuantity,
	}, nil
}

func main() {
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, warehouse stock cache disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, cfg.ReferenceWarehouseID, logger)
	catalogHandler := catalog.NewHandler(catalogService, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	var jobsClient *jobs.Client
	if redisClient != nil {
		jobsClient, err = jobs.NewClient(redisOpts)
		if err != nil {
			logger.Warn("jobs client unavailable", slog.Any("error", err))
			jobsClient = nil
		} else {
			defer func() {
				if err := jobsClient.Close(); err != nil {
					logger.Warn("jobs client close", slog.Any("error", err))
				}
			}()
		}
	}
	recomputeQueue := jobs.NewRecomputeQueue(jobsClient, catalogService, logger)

	var stockCache *inventory.WarehouseStockCache
	if redisClient != nil {
		stockCache = inventory.NewWarehouseStockCache(redisClient, cfg.WarehouseStockTTL, logger)
	}

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, inventoryConverter{catalog: catalogService},
		auditLogger, recomputeQueue, stockCache, metrics, logger)
	inventoryHandler := inventory.NewHandler(inventoryService, logger)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, salesConverter{catalog: catalogService},
		auditLogger, recomputeQueue, metrics, logger, cfg.ReferenceWarehouseID)
	salesHandler := sales.NewHandler(salesService, logger)
	paymentHandler := sales.NewPaymentHandler(salesService, idempotency, cfg.PaymentWebhookSecret, logger)

	var jobHandler *jobs.Handler
	if redisClient != nil {
		jobHandler = jobs.NewHandler(asynq.NewInspector(redisOpts), logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		CatalogHandler:   catalogHandler,
		InventoryHandler: inventoryHandler,
		SalesHandler:     salesHandler,
		PaymentHandler:   paymentHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
