package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

// RecordArchiver writes evicted transaction records to object storage as
// JSONL before the ledger deletes them. Each batch lands in its own object:
//
//	archive/transactions/2026-01-02/1767323045000000000.jsonl
type RecordArchiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
	now    func() time.Time
}

// NewRecordArchiver creates a RecordArchiver. audit may be nil.
func NewRecordArchiver(writer domain.BlobWriter, audit domain.AuditStore) *RecordArchiver {
	return &RecordArchiver{writer: writer, audit: audit, now: time.Now}
}

// ArchiveRecords uploads records and returns the object path. An empty batch
// writes nothing and returns "".
func (a *RecordArchiver) ArchiveRecords(ctx context.Context, records []domain.TransactionRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive records marshal: %w", err)
	}

	path := archivePath(a.now().UTC())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive records upload: %w", err)
	}

	if a.audit != nil {
		ids := make([]string, len(records))
		for i, r := range records {
			ids[i] = r.ID
		}
		if err := a.audit.Log(ctx, "archive.transactions", map[string]any{
			"path":  path,
			"count": len(records),
			"ids":   ids,
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive records audit log: %w", err)
		}
	}

	return path, nil
}

func archivePath(at time.Time) string {
	return fmt.Sprintf("archive/transactions/%s/%d.jsonl", at.Format("2006-01-02"), at.UnixNano())
}

// marshalJSONL encodes one JSON document per line.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

var _ domain.RecordArchiver = (*RecordArchiver)(nil)
