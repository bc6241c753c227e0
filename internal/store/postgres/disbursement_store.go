package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// DisbursementStore implements domain.DisbursementStore using PostgreSQL.
// The primary key on key makes each journal leg write-once.
type DisbursementStore struct {
	pool *pgxpool.Pool
}

// NewDisbursementStore creates a new DisbursementStore.
func NewDisbursementStore(pool *pgxpool.Pool) *DisbursementStore {
	return &DisbursementStore{pool: pool}
}

const disbursementColumns = `key, request_id, kind, from_addr, to_addr, amount, tx_ref, status, created_at`

// Record inserts d, returning domain.ErrAlreadyExists on a duplicate key.
func (s *DisbursementStore) Record(ctx context.Context, d domain.Disbursement) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO disbursements (`+disbursementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.Key, d.RequestID, string(d.Kind), d.From, d.To, int64(d.Amount), d.TxRef, statusOrConfirmed(d.Status), d.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: record disbursement %s: %w", d.Key, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: record disbursement %s: %w", d.Key, err)
	}
	return nil
}

// Get returns the entry for key.
func (s *DisbursementStore) Get(ctx context.Context, key string) (domain.Disbursement, error) {
	d, err := scanDisbursement(s.pool.QueryRow(ctx,
		`SELECT `+disbursementColumns+` FROM disbursements WHERE key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Disbursement{}, fmt.Errorf("postgres: get disbursement %s: %w", key, domain.ErrNotFound)
		}
		return domain.Disbursement{}, fmt.Errorf("postgres: get disbursement %s: %w", key, err)
	}
	return d, nil
}

// Resolve updates a pending entry. Confirmed rows never change.
func (s *DisbursementStore) Resolve(ctx context.Context, key string, status domain.DisbursementStatus, txRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE disbursements SET status = $2, tx_ref = $3
		WHERE key = $1 AND status = 'pending'`,
		key, string(status), txRef,
	)
	if err != nil {
		return fmt.Errorf("postgres: resolve disbursement %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: resolve disbursement %s: %w", key, domain.ErrNotFound)
	}
	return nil
}

// Discard deletes a pending entry. A confirmed row yields
// domain.ErrInvalidStatus; a missing one is not an error.
func (s *DisbursementStore) Discard(ctx context.Context, key string) error {
	var status string
	err := s.pool.QueryRow(ctx, `
		WITH gone AS (
			DELETE FROM disbursements WHERE key = $1 AND status = 'pending' RETURNING status
		)
		SELECT COALESCE((SELECT status FROM gone),
		                (SELECT status FROM disbursements WHERE key = $1), '')`,
		key,
	).Scan(&status)
	if err != nil {
		return fmt.Errorf("postgres: discard disbursement %s: %w", key, err)
	}
	if status == string(domain.DisbursementConfirmed) {
		return fmt.Errorf("postgres: discard confirmed disbursement %s: %w", key, domain.ErrInvalidStatus)
	}
	return nil
}

// ListByRequest returns a request's journal in record order.
func (s *DisbursementStore) ListByRequest(ctx context.Context, requestID int64) ([]domain.Disbursement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+disbursementColumns+` FROM disbursements
		WHERE request_id = $1 ORDER BY created_at, key`, requestID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list disbursements %d: %w", requestID, err)
	}
	defer rows.Close()

	var out []domain.Disbursement
	for rows.Next() {
		d, err := scanDisbursement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan disbursement: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list disbursements rows: %w", err)
	}
	return out, nil
}

func scanDisbursement(row pgx.Row) (domain.Disbursement, error) {
	var (
		d      domain.Disbursement
		kind   string
		status string
		amount int64
	)
	if err := row.Scan(&d.Key, &d.RequestID, &kind, &d.From, &d.To, &amount, &d.TxRef, &status, &d.CreatedAt); err != nil {
		return domain.Disbursement{}, err
	}
	d.Kind = domain.DisbursementKind(kind)
	d.Status = domain.DisbursementStatus(status)
	d.Amount = domain.Amount(amount)
	return d, nil
}

func statusOrConfirmed(s domain.DisbursementStatus) string {
	if s == "" {
		return string(domain.DisbursementConfirmed)
	}
	return string(s)
}

var _ domain.DisbursementStore = (*DisbursementStore)(nil)
