package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// StoredRollover is a persisted RolloverRecord.
type StoredRollover struct {
	RolloverRecord
	CreatedAt time.Time `json:"createdAt"`
}

// StoredArbitrage is a persisted ArbitrageResult.
type StoredArbitrage struct {
	ArbitrageResult
	CreatedAt time.Time `json:"createdAt"`
}

// RolloverStore is the append-only sink for rollover transaction records.
// Recording the same transaction hash twice is a no-op.
type RolloverStore interface {
	RecordRollover(ctx context.Context, rec RolloverRecord) error
	ListRollovers(ctx context.Context, opts ListOpts) ([]StoredRollover, error)
}

// ArbitrageStore is the append-only sink for executed arbitrage results.
type ArbitrageStore interface {
	RecordArbitrage(ctx context.Context, res ArbitrageResult) error
	ListArbitrages(ctx context.Context, opts ListOpts) ([]StoredArbitrage, error)
}

// AuditSink bundles every audit recorder the engines write to.
type AuditSink interface {
	RolloverStore
	ArbitrageStore
	AuditStore
}
