package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Recomputer refreshes product stock summaries from the batch ledger.
type Recomputer interface {
	RecomputeStockSummary(ctx context.Context, productID int64) error
	RecomputeAll(ctx context.Context) error
}

// StockRecomputeHandlers builds the Asynq handlers for both recompute
// tasks.
func StockRecomputeHandlers(recomputer Recomputer, logger *slog.Logger) []TaskHandler {
	return []TaskHandler{
		{
			Type: TaskStockRecompute,
			Handler: func(ctx context.Context, t *asynq.Task) error {
				var payload StockRecomputePayload
				if err := json.Unmarshal(t.Payload(), &payload); err != nil {
					return asynq.SkipRetry
				}
				for _, id := range payload.ProductIDs {
					if err := recomputer.RecomputeStockSummary(ctx, id); err != nil {
						logger.Warn("stock recompute failed",
							slog.Int64("product_id", id), slog.Any("error", err))
					}
				}
				return nil
			},
		},
		{
			Type: TaskStockRecomputeAll,
			Handler: func(ctx context.Context, t *asynq.Task) error {
				var payload StockRecomputeAllPayload
				if err := json.Unmarshal(t.Payload(), &payload); err != nil {
					return asynq.SkipRetry
				}
				logger.Info("stock recompute sweep",
					slog.Time("scheduled_for", payload.ScheduledFor))
				return recomputer.RecomputeAll(ctx)
			},
		},
	}
}

// RecomputeQueue satisfies the services' recompute port. Enqueue failures
// fall back to a synchronous recompute so the cached summary never stays
// stale just because Redis is down.
type RecomputeQueue struct {
	client     *Client
	recomputer Recomputer
	logger     *slog.Logger
}

// NewRecomputeQueue constructs the adapter.
func NewRecomputeQueue(client *Client, recomputer Recomputer, logger *slog.Logger) *RecomputeQueue {
	return &RecomputeQueue{client: client, recomputer: recomputer, logger: logger}
}

// EnqueueRecompute schedules a refresh for the given products.
func (q *RecomputeQueue) EnqueueRecompute(ctx context.Context, productIDs ...int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	if q.client != nil {
		if _, err := q.client.EnqueueStockRecompute(ctx, productIDs); err == nil {
			return nil
		} else if q.logger != nil {
			q.logger.Warn("recompute enqueue failed, falling back to sync", slog.Any("error", err))
		}
	}

	// Bound the inline fallback; a wedged ledger must not hang the caller.
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for _, id := range productIDs {
		if err := q.recomputer.RecomputeStockSummary(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
