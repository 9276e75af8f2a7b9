package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockRecompute refreshes the cached stock summary of specific products.
	TaskStockRecompute = "stock:recompute"
	// TaskStockRecomputeAll refreshes every product, scheduled nightly.
	TaskStockRecomputeAll = "stock:recompute_all"
)

// StockRecomputePayload names the products whose summaries went stale.
type StockRecomputePayload struct {
	ProductIDs []int64 `json:"product_ids"`
}

// NewStockRecomputeTask constructs an Asynq task for targeted recomputes.
func NewStockRecomputeTask(productIDs []int64) (*asynq.Task, error) {
	data, err := json.Marshal(StockRecomputePayload{ProductIDs: productIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockRecompute, data, asynq.Queue(QueueDefault)), nil
}

// StockRecomputeAllPayload carries scheduling metadata.
type StockRecomputeAllPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewStockRecomputeAllTask constructs the full-sweep task.
func NewStockRecomputeAllTask(at time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(StockRecomputeAllPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockRecomputeAll, data, asynq.Queue(QueueDefault)), nil
}
