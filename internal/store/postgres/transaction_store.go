package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const txSelectCols = `id, flow_id, kind, asset, amount::text, status,
	source_tx_proof, destination_tx_proof, source_address, destination_address,
	error_message, created_at, updated_at`

// Insert stores a new record.
func (s *TransactionStore) Insert(ctx context.Context, rec domain.TransactionRecord) error {
	const query = `
		INSERT INTO transactions (
			id, flow_id, kind, asset, amount, status,
			source_tx_proof, destination_tx_proof, source_address, destination_address,
			error_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.FlowID, string(rec.Kind), rec.Asset, rec.Amount.String(), string(rec.Status),
		rec.SourceTxProof, rec.DestinationTxProof, rec.SourceAddress, rec.DestinationAddress,
		rec.ErrorMessage, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert transaction %s: %w", rec.ID, err)
	}
	return nil
}

// Update merges patch into a pending record in a single statement. A record
// that is already terminal is left untouched.
func (s *TransactionStore) Update(ctx context.Context, id string, patch domain.RecordPatch, at time.Time) (domain.TransactionRecord, error) {
	var status, amount *string
	if patch.Status != nil {
		v := string(*patch.Status)
		status = &v
	}
	if patch.Amount != nil {
		v := patch.Amount.String()
		amount = &v
	}

	query := `
		UPDATE transactions SET
			status               = COALESCE($2, status),
			amount               = COALESCE($3::numeric, amount),
			source_tx_proof      = COALESCE($4, source_tx_proof),
			destination_tx_proof = COALESCE($5, destination_tx_proof),
			error_message        = COALESCE($6, error_message),
			updated_at           = $7
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + txSelectCols

	row := s.pool.QueryRow(ctx, query,
		id, status, amount, patch.SourceTxProof, patch.DestinationTxProof, patch.ErrorMessage, at,
	)
	rec, err := scanTransaction(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.TransactionRecord{}, fmt.Errorf("postgres: update transaction %s: %w", id, err)
	}

	// Nothing matched: either the id is unknown or the record is terminal.
	existing, getErr := s.Get(ctx, id)
	if getErr != nil {
		return domain.TransactionRecord{}, getErr
	}
	return existing, domain.ErrRecordTerminal
}

// Get returns a single record by id.
func (s *TransactionStore) Get(ctx context.Context, id string) (domain.TransactionRecord, error) {
	query := `SELECT ` + txSelectCols + ` FROM transactions WHERE id = $1`
	rec, err := scanTransaction(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TransactionRecord{}, domain.ErrNotFound
		}
		return domain.TransactionRecord{}, fmt.Errorf("postgres: get transaction %s: %w", id, err)
	}
	return rec, nil
}

// List returns records newest first.
func (s *TransactionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	query := `SELECT ` + txSelectCols + ` FROM transactions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.query(ctx, "list transactions", query, args...)
}

// ListByStatus returns every record with the given status, newest first.
func (s *TransactionStore) ListByStatus(ctx context.Context, status domain.TxStatus) ([]domain.TransactionRecord, error) {
	query := `SELECT ` + txSelectCols + ` FROM transactions WHERE status = $1 ORDER BY created_at DESC, id DESC`
	return s.query(ctx, "list transactions by status", query, string(status))
}

// ListByFlow returns the records of one flow in creation order.
func (s *TransactionStore) ListByFlow(ctx context.Context, flowID string) ([]domain.TransactionRecord, error) {
	query := `SELECT ` + txSelectCols + ` FROM transactions WHERE flow_id = $1 ORDER BY created_at ASC, id ASC`
	return s.query(ctx, "list transactions by flow", query, flowID)
}

// Evictable returns the oldest terminal records beyond the retention cap.
func (s *TransactionStore) Evictable(ctx context.Context, keep int) ([]domain.TransactionRecord, error) {
	if keep <= 0 {
		return nil, nil
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: count transactions: %w", err)
	}
	excess := total - keep
	if excess <= 0 {
		return nil, nil
	}

	query := `SELECT ` + txSelectCols + ` FROM transactions
		WHERE status IN ('confirmed', 'failed')
		ORDER BY created_at ASC, id ASC
		LIMIT $1`
	return s.query(ctx, "list evictable transactions", query, excess)
}

// Delete removes the given records and returns how many were removed.
func (s *TransactionStore) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM transactions WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *TransactionStore) query(ctx context.Context, op, query string, args ...any) ([]domain.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.TransactionRecord
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

func scanTransaction(scanner interface{ Scan(dest ...any) error }) (domain.TransactionRecord, error) {
	var r domain.TransactionRecord
	var kind, status, amount string

	err := scanner.Scan(
		&r.ID, &r.FlowID, &kind, &r.Asset, &amount, &status,
		&r.SourceTxProof, &r.DestinationTxProof, &r.SourceAddress, &r.DestinationAddress,
		&r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return domain.TransactionRecord{}, err
	}

	r.Kind = domain.TxKind(kind)
	r.Status = domain.TxStatus(status)
	r.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

var _ domain.TransactionStore = (*TransactionStore)(nil)
