package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog is one row of the mutation trail. Every write that changes the
// ledger (order fulfillment, batch receipt or correction, transfer state
// changes, restorations) records one, keyed by the entity it touched.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger appends to audit_logs. Services call it after their
// transaction commits; a failed append is logged by the caller and never
// fails the operation it describes.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns an AuditLogger backed by the given pool.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record appends one entry. A zero At is stamped with the current time.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action, entity and entity_id")
	}
	if log.At.IsZero() {
		log.At = time.Now()
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `
INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, log.At)
	return err
}
