package domain

import (
	"context"
	"io"
)

// BlobWriter stores one object at path, replacing any existing object.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// RecordArchiver receives the records the ledger evicts once it reaches
// its capacity. It returns the object path the batch was written to.
type RecordArchiver interface {
	ArchiveRecords(ctx context.Context, records []TransactionRecord) (string, error)
}
