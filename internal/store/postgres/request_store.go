package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const requestColumns = `id, requester, title, description, location, coverage_amount,
	window_start, window_end, status, selected_offer, total_funded, payout,
	observations, created_at, updated_at, settled_at, version`

type observationJSON struct {
	Aggregate int64  `json:"aggregate"`
	Sub       *int64 `json:"sub,omitempty"`
}

// RequestStore implements domain.RequestStore using PostgreSQL. Conditions,
// offers and investments live in child tables keyed by (request_id, idx).
type RequestStore struct {
	pool *pgxpool.Pool
}

// NewRequestStore creates a new RequestStore backed by the given pool.
func NewRequestStore(pool *pgxpool.Pool) *RequestStore {
	return &RequestStore{pool: pool}
}

// Create inserts req and its conditions in one transaction and returns the
// sequence-assigned id.
func (s *RequestStore) Create(ctx context.Context, req domain.InsuranceRequest) (int64, error) {
	var id int64
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		const insert = `
			INSERT INTO insurance_requests
				(requester, title, description, location, coverage_amount, window_start, window_end,
				 status, total_funded, created_at, updated_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
			RETURNING id`
		if err := tx.QueryRow(ctx, insert,
			req.Requester, req.Title, req.Description, req.Location, int64(req.CoverageAmount),
			req.Window.Start, req.Window.End, string(req.Status), int64(req.TotalFunded),
			req.CreatedAt, req.UpdatedAt,
		).Scan(&id); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, c := range req.Conditions {
			var subOp *string
			var subThreshold *int64
			if c.Sub != nil {
				op := string(c.Sub.Op)
				subOp, subThreshold = &op, &c.Sub.Threshold
			}
			batch.Queue(`
				INSERT INTO request_conditions (request_id, idx, weather_type, op, aggregate_value, sub_op, sub_threshold)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				id, i, string(c.Type), string(c.Op), c.AggregateValue, subOp, subThreshold)
		}
		queueChildren(batch, id, req)
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: create request: %w", err)
	}
	return id, nil
}

// queueChildren inserts offers and investments not yet stored. Existing
// indexes are left untouched so child rows are never rewritten.
func queueChildren(batch *pgx.Batch, id int64, req domain.InsuranceRequest) {
	for i, o := range req.Offers {
		batch.Queue(`
			INSERT INTO request_offers (request_id, idx, expert, premium, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (request_id, idx) DO NOTHING`,
			id, i, o.Expert, int64(o.Premium), o.Description, o.Timestamp)
	}
	for i, inv := range req.Investments {
		batch.Queue(`
			INSERT INTO request_investments (request_id, idx, investor, amount, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (request_id, idx) DO NOTHING`,
			id, i, inv.Investor, int64(inv.Amount), inv.Timestamp)
	}
}

// Get loads a request with all child rows from a single snapshot.
func (s *RequestStore) Get(ctx context.Context, id int64) (domain.InsuranceRequest, error) {
	var reqs []domain.InsuranceRequest
	err := withTxOptions(ctx, s.pool, snapshotRead, func(tx pgx.Tx) error {
		req, err := scanRequest(tx.QueryRow(ctx,
			`SELECT `+requestColumns+` FROM insurance_requests WHERE id = $1`, id))
		if err != nil {
			return err
		}
		reqs = []domain.InsuranceRequest{req}
		return loadChildren(ctx, tx, reqs)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InsuranceRequest{}, fmt.Errorf("postgres: get request %d: %w", id, domain.ErrNotFound)
		}
		return domain.InsuranceRequest{}, fmt.Errorf("postgres: get request %d: %w", id, err)
	}
	return reqs[0], nil
}

// Save locks the row, checks the version and writes mutable fields plus any
// appended offers and investments.
func (s *RequestStore) Save(ctx context.Context, req domain.InsuranceRequest) (int64, error) {
	var next int64
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var cur int64
		if err := tx.QueryRow(ctx,
			`SELECT version FROM insurance_requests WHERE id = $1 FOR UPDATE`, req.ID,
		).Scan(&cur); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		if cur != req.Version {
			return fmt.Errorf("have v%d, stored v%d: %w", req.Version, cur, domain.ErrConflict)
		}

		obs, err := marshalObservations(req.Observations)
		if err != nil {
			return err
		}
		var selected *int32
		if req.SelectedOffer != nil {
			v := int32(*req.SelectedOffer)
			selected = &v
		}

		const update = `
			UPDATE insurance_requests SET
				status = $2, selected_offer = $3, total_funded = $4, payout = $5,
				observations = $6, updated_at = $7, settled_at = $8, version = version + 1
			WHERE id = $1`
		if _, err := tx.Exec(ctx, update,
			req.ID, string(req.Status), selected, int64(req.TotalFunded), req.Payout,
			obs, req.UpdatedAt, req.SettledAt,
		); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		queueChildren(batch, req.ID, req)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		next = cur + 1
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: save request %d: %w", req.ID, err)
	}
	return next, nil
}

// ListIDs returns all ids in creation order.
func (s *RequestStore) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM insurance_requests ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list request ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("postgres: list request ids: %w", err)
	}
	return ids, nil
}

// List returns requests matching filter, newest first.
func (s *RequestStore) List(ctx context.Context, filter domain.RequestFilter) ([]domain.InsuranceRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM insurance_requests r WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND r.status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Requester != "" {
		query += fmt.Sprintf(" AND lower(r.requester) = lower($%d)", argIdx)
		args = append(args, filter.Requester)
		argIdx++
	}
	if filter.Participant != "" {
		query += fmt.Sprintf(` AND (lower(r.requester) = lower($%[1]d)
			OR EXISTS (SELECT 1 FROM request_offers o WHERE o.request_id = r.id AND lower(o.expert) = lower($%[1]d))
			OR EXISTS (SELECT 1 FROM request_investments i WHERE i.request_id = r.id AND lower(i.investor) = lower($%[1]d)))`, argIdx)
		args = append(args, filter.Participant)
		argIdx++
	}

	query += " ORDER BY r.id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	var reqs []domain.InsuranceRequest
	err := withTxOptions(ctx, s.pool, snapshotRead, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			req, err := scanRequest(rows)
			if err != nil {
				return fmt.Errorf("scan request: %w", err)
			}
			reqs = append(reqs, req)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows: %w", err)
		}
		rows.Close()
		return loadChildren(ctx, tx, reqs)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list requests: %w", err)
	}
	return reqs, nil
}

// ListDue returns active requests whose window ended at or before now.
func (s *RequestStore) ListDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM insurance_requests
		WHERE status = $1 AND window_end <= $2
		ORDER BY window_end LIMIT $3`,
		string(domain.StatusActive), now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due requests: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("postgres: list due requests: %w", err)
	}
	return ids, nil
}

// Count returns the number of stored requests.
func (s *RequestStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM insurance_requests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count requests: %w", err)
	}
	return n, nil
}

func scanRequest(row pgx.Row) (domain.InsuranceRequest, error) {
	var (
		r                domain.InsuranceRequest
		coverage, funded int64
		status           string
		selected         *int32
		obs              []byte
	)
	err := row.Scan(
		&r.ID, &r.Requester, &r.Title, &r.Description, &r.Location, &coverage,
		&r.Window.Start, &r.Window.End, &status, &selected, &funded, &r.Payout,
		&obs, &r.CreatedAt, &r.UpdatedAt, &r.SettledAt, &r.Version,
	)
	if err != nil {
		return domain.InsuranceRequest{}, err
	}
	r.CoverageAmount = domain.Amount(coverage)
	r.TotalFunded = domain.Amount(funded)
	r.Status = domain.RequestStatus(status)
	if selected != nil {
		idx := int(*selected)
		r.SelectedOffer = &idx
	}
	if r.Observations, err = unmarshalObservations(obs); err != nil {
		return domain.InsuranceRequest{}, err
	}
	return r, nil
}

// loadChildren fills conditions, offers and investments for reqs in place.
func loadChildren(ctx context.Context, q querier, reqs []domain.InsuranceRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	ids := make([]int64, len(reqs))
	pos := make(map[int64]int, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ID
		pos[r.ID] = i
	}

	rows, err := q.Query(ctx, `
		SELECT request_id, weather_type, op, aggregate_value, sub_op, sub_threshold
		FROM request_conditions WHERE request_id = ANY($1) ORDER BY request_id, idx`, ids)
	if err != nil {
		return fmt.Errorf("load conditions: %w", err)
	}
	for rows.Next() {
		var (
			rid          int64
			typ, op      string
			c            domain.WeatherCondition
			subOp        *string
			subThreshold *int64
		)
		if err := rows.Scan(&rid, &typ, &op, &c.AggregateValue, &subOp, &subThreshold); err != nil {
			rows.Close()
			return fmt.Errorf("scan condition: %w", err)
		}
		c.Type, c.Op = domain.WeatherType(typ), domain.Operator(op)
		if subOp != nil && subThreshold != nil {
			c.Sub = &domain.SubCondition{Op: domain.Operator(*subOp), Threshold: *subThreshold}
		}
		reqs[pos[rid]].Conditions = append(reqs[pos[rid]].Conditions, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load conditions: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT request_id, expert, premium, description, created_at
		FROM request_offers WHERE request_id = ANY($1) ORDER BY request_id, idx`, ids)
	if err != nil {
		return fmt.Errorf("load offers: %w", err)
	}
	for rows.Next() {
		var (
			rid     int64
			premium int64
			o       domain.Offer
		)
		if err := rows.Scan(&rid, &o.Expert, &premium, &o.Description, &o.Timestamp); err != nil {
			rows.Close()
			return fmt.Errorf("scan offer: %w", err)
		}
		o.Premium = domain.Amount(premium)
		reqs[pos[rid]].Offers = append(reqs[pos[rid]].Offers, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load offers: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT request_id, investor, amount, created_at
		FROM request_investments WHERE request_id = ANY($1) ORDER BY request_id, idx`, ids)
	if err != nil {
		return fmt.Errorf("load investments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rid    int64
			amount int64
			inv    domain.Investment
		)
		if err := rows.Scan(&rid, &inv.Investor, &amount, &inv.Timestamp); err != nil {
			return fmt.Errorf("scan investment: %w", err)
		}
		inv.Amount = domain.Amount(amount)
		reqs[pos[rid]].Investments = append(reqs[pos[rid]].Investments, inv)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load investments: %w", err)
	}
	return nil
}

func marshalObservations(obs map[domain.WeatherType]domain.Observation) ([]byte, error) {
	if len(obs) == 0 {
		return nil, nil
	}
	out := make(map[string]observationJSON, len(obs))
	for t, o := range obs {
		out[string(t)] = observationJSON{Aggregate: o.Aggregate, Sub: o.Sub}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal observations: %w", err)
	}
	return data, nil
}

func unmarshalObservations(data []byte) (map[domain.WeatherType]domain.Observation, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var raw map[string]observationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal observations: %w", err)
	}
	out := make(map[domain.WeatherType]domain.Observation, len(raw))
	for t, o := range raw {
		out[domain.WeatherType(t)] = domain.Observation{Aggregate: o.Aggregate, Sub: o.Sub}
	}
	return out, nil
}

var _ domain.RequestStore = (*RequestStore)(nil)
