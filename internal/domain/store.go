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

// TransactionStore persists transaction records. Update must be atomic per
// id and must refuse to touch a terminal record.
type TransactionStore interface {
	Insert(ctx context.Context, rec TransactionRecord) error
	// Update applies patch and returns the merged record. It returns
	// ErrNotFound for an unknown id and ErrRecordTerminal when the stored
	// record is already confirmed or failed.
	Update(ctx context.Context, id string, patch RecordPatch, at time.Time) (TransactionRecord, error)
	Get(ctx context.Context, id string) (TransactionRecord, error)
	// List returns records newest first.
	List(ctx context.Context, opts ListOpts) ([]TransactionRecord, error)
	ListByStatus(ctx context.Context, status TxStatus) ([]TransactionRecord, error)
	ListByFlow(ctx context.Context, flowID string) ([]TransactionRecord, error)
	// Evictable returns the oldest terminal records that push the table
	// over keep rows, oldest first.
	Evictable(ctx context.Context, keep int) ([]TransactionRecord, error)
	Delete(ctx context.Context, ids []string) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
