// Package memory implements the domain stores in process memory. It backs
// the "memory" ledger backend and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

// TransactionStore keeps records in a map guarded by a mutex.
type TransactionStore struct {
	mu      sync.RWMutex
	records map[string]domain.TransactionRecord
	seq     map[string]int64 // insertion order, breaks CreatedAt ties
	next    int64
}

// NewTransactionStore returns an empty store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		records: make(map[string]domain.TransactionRecord),
		seq:     make(map[string]int64),
	}
}

// Insert adds rec. It returns ErrAlreadyExists for a duplicate id.
func (s *TransactionStore) Insert(_ context.Context, rec domain.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.records[rec.ID] = rec
	s.next++
	s.seq[rec.ID] = s.next
	return nil
}

// Update applies patch under the write lock. A terminal record is returned
// unchanged with ErrRecordTerminal.
func (s *TransactionStore) Update(_ context.Context, id string, patch domain.RecordPatch, at time.Time) (domain.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.TransactionRecord{}, domain.ErrNotFound
	}
	if rec.IsTerminal() {
		return rec, domain.ErrRecordTerminal
	}
	patch.Apply(&rec)
	rec.UpdatedAt = at
	s.records[id] = rec
	return rec, nil
}

// Get returns the record with id or ErrNotFound.
func (s *TransactionStore) Get(_ context.Context, id string) (domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.TransactionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// List returns records newest first, filtered by the time window in opts
// and then paged.
func (s *TransactionStore) List(_ context.Context, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	out := s.filter(func(r domain.TransactionRecord) bool {
		if opts.Since != nil && r.CreatedAt.Before(*opts.Since) {
			return false
		}
		if opts.Until != nil && r.CreatedAt.After(*opts.Until) {
			return false
		}
		return true
	})
	s.sortNewestFirst(out)

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// ListByStatus returns records in status, newest first.
func (s *TransactionStore) ListByStatus(_ context.Context, status domain.TxStatus) ([]domain.TransactionRecord, error) {
	out := s.filter(func(r domain.TransactionRecord) bool { return r.Status == status })
	s.sortNewestFirst(out)
	return out, nil
}

// ListByFlow returns a flow's records in insertion order.
func (s *TransactionStore) ListByFlow(_ context.Context, flowID string) ([]domain.TransactionRecord, error) {
	out := s.filter(func(r domain.TransactionRecord) bool { return r.FlowID == flowID })
	s.mu.RLock()
	defer s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out, nil
}

// Evictable returns the oldest terminal records beyond keep. Pending
// records are never returned, so the store may stay above keep.
func (s *TransactionStore) Evictable(_ context.Context, keep int) ([]domain.TransactionRecord, error) {
	s.mu.RLock()
	total := len(s.records)
	s.mu.RUnlock()

	excess := total - keep
	if keep <= 0 || excess <= 0 {
		return nil, nil
	}

	terminal := s.filter(domain.TransactionRecord.IsTerminal)
	s.mu.RLock()
	sort.SliceStable(terminal, func(i, j int) bool {
		if terminal[i].CreatedAt.Equal(terminal[j].CreatedAt) {
			return s.seq[terminal[i].ID] < s.seq[terminal[j].ID]
		}
		return terminal[i].CreatedAt.Before(terminal[j].CreatedAt)
	})
	s.mu.RUnlock()
	if len(terminal) > excess {
		terminal = terminal[:excess]
	}
	return terminal, nil
}

// Delete removes ids and reports how many existed.
func (s *TransactionStore) Delete(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			delete(s.seq, id)
			n++
		}
	}
	return n, nil
}

func (s *TransactionStore) filter(keep func(domain.TransactionRecord) bool) []domain.TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TransactionRecord, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *TransactionStore) sortNewestFirst(recs []domain.TransactionRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return s.seq[recs[i].ID] > s.seq[recs[j].ID]
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}

var _ domain.TransactionStore = (*TransactionStore)(nil)
