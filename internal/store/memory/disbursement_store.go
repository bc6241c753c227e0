package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// DisbursementStore is an in-process disbursement journal.
type DisbursementStore struct {
	mu    sync.RWMutex
	byKey map[string]domain.Disbursement
	order []string
}

// NewDisbursementStore creates an empty journal.
func NewDisbursementStore() *DisbursementStore {
	return &DisbursementStore{byKey: make(map[string]domain.Disbursement)}
}

// Record appends d. A duplicate key yields domain.ErrAlreadyExists.
func (s *DisbursementStore) Record(_ context.Context, d domain.Disbursement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[d.Key]; ok {
		return fmt.Errorf("memory: record disbursement %s: %w", d.Key, domain.ErrAlreadyExists)
	}
	s.byKey[d.Key] = d
	s.order = append(s.order, d.Key)
	return nil
}

// Get returns the journal entry for key.
func (s *DisbursementStore) Get(_ context.Context, key string) (domain.Disbursement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byKey[key]
	if !ok {
		return domain.Disbursement{}, fmt.Errorf("memory: get disbursement %s: %w", key, domain.ErrNotFound)
	}
	return d, nil
}

// Resolve sets the status and tx ref of a pending entry.
func (s *DisbursementStore) Resolve(_ context.Context, key string, status domain.DisbursementStatus, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byKey[key]
	if !ok || d.Confirmed() {
		return fmt.Errorf("memory: resolve disbursement %s: %w", key, domain.ErrNotFound)
	}
	d.Status = status
	d.TxRef = txRef
	s.byKey[key] = d
	return nil
}

// Discard removes a pending entry. Missing keys are not an error.
func (s *DisbursementStore) Discard(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byKey[key]
	if !ok {
		return nil
	}
	if d.Confirmed() {
		return fmt.Errorf("memory: discard confirmed disbursement %s: %w", key, domain.ErrInvalidStatus)
	}
	delete(s.byKey, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListByRequest returns a request's entries in record order.
func (s *DisbursementStore) ListByRequest(_ context.Context, requestID int64) ([]domain.Disbursement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Disbursement
	for _, k := range s.order {
		if d := s.byKey[k]; d.RequestID == requestID {
			out = append(out, d)
		}
	}
	return out, nil
}

var _ domain.DisbursementStore = (*DisbursementStore)(nil)
