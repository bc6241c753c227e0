package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RequestFilter narrows request listings. Zero fields are ignored.
type RequestFilter struct {
	Status      RequestStatus
	Requester   string
	Participant string // requester, expert or investor
	Limit       int
	Offset      int
}

// RequestStore persists insurance requests. Conditions, offers and investments
// are kept as ordered child collections keyed by insertion index.
type RequestStore interface {
	// Create assigns the next sequential id and stores req with Version 1.
	Create(ctx context.Context, req InsuranceRequest) (int64, error)
	Get(ctx context.Context, id int64) (InsuranceRequest, error)
	// Save writes req if the stored version still equals req.Version and
	// returns the new version. A stale version yields ErrConflict.
	Save(ctx context.Context, req InsuranceRequest) (int64, error)
	// ListIDs returns every request id in creation order.
	ListIDs(ctx context.Context) ([]int64, error)
	List(ctx context.Context, filter RequestFilter) ([]InsuranceRequest, error)
	// ListDue returns ids of active requests whose window ended at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]int64, error)
	Count(ctx context.Context) (int64, error)
}

// DisbursementStore is the journal of money movements. Keys are unique; a
// confirmed key means that leg already moved funds, a pending key means it
// may have.
type DisbursementStore interface {
	Record(ctx context.Context, d Disbursement) error
	Get(ctx context.Context, key string) (Disbursement, error)
	// Resolve updates the status and tx ref of a pending entry. It returns
	// ErrNotFound when key is missing or already confirmed.
	Resolve(ctx context.Context, key string, status DisbursementStatus, txRef string) error
	// Discard removes a pending entry whose transfer is known not to have
	// moved funds. Confirmed entries are never removed.
	Discard(ctx context.Context, key string) error
	ListByRequest(ctx context.Context, requestID int64) ([]Disbursement, error)
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
