// Package memory implements the domain store interfaces in process for
// development mode and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// RequestStore keeps requests in a map with a creation-ordered index.
type RequestStore struct {
	mu     sync.RWMutex
	nextID int64
	order  []int64
	byID   map[int64]domain.InsuranceRequest
}

// NewRequestStore creates an empty RequestStore. Ids start at 1.
func NewRequestStore() *RequestStore {
	return &RequestStore{byID: make(map[int64]domain.InsuranceRequest)}
}

// Create assigns the next id and stores a copy of req with Version 1.
func (s *RequestStore) Create(_ context.Context, req domain.InsuranceRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	req = req.Clone()
	req.ID = s.nextID
	req.Version = 1
	s.byID[req.ID] = req
	s.order = append(s.order, req.ID)
	return req.ID, nil
}

// Get returns a copy of the request.
func (s *RequestStore) Get(_ context.Context, id int64) (domain.InsuranceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.byID[id]
	if !ok {
		return domain.InsuranceRequest{}, fmt.Errorf("memory: get request %d: %w", id, domain.ErrNotFound)
	}
	return req.Clone(), nil
}

// Save replaces the stored request when versions match.
func (s *RequestStore) Save(_ context.Context, req domain.InsuranceRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[req.ID]
	if !ok {
		return 0, fmt.Errorf("memory: save request %d: %w", req.ID, domain.ErrNotFound)
	}
	if cur.Version != req.Version {
		return 0, fmt.Errorf("memory: save request %d (have v%d, stored v%d): %w", req.ID, req.Version, cur.Version, domain.ErrConflict)
	}
	req = req.Clone()
	req.Version++
	s.byID[req.ID] = req
	return req.Version, nil
}

// ListIDs returns ids in creation order.
func (s *RequestStore) ListIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64(nil), s.order...), nil
}

// List returns requests matching filter, newest first.
func (s *RequestStore) List(_ context.Context, filter domain.RequestFilter) ([]domain.InsuranceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.InsuranceRequest
	for i := len(s.order) - 1; i >= 0; i-- {
		req := s.byID[s.order[i]]
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.Requester != "" && !req.IsRequester(filter.Requester) {
			continue
		}
		if filter.Participant != "" && !req.IsParticipant(filter.Participant) {
			continue
		}
		out = append(out, req.Clone())
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListDue returns active requests whose window has ended, earliest end first.
func (s *RequestStore) ListDue(_ context.Context, now time.Time, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []domain.InsuranceRequest
	for _, id := range s.order {
		if req := s.byID[id]; req.SettlementDue(now) {
			due = append(due, req)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Window.End.Before(due[j].Window.End)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]int64, len(due))
	for i, r := range due {
		ids[i] = r.ID
	}
	return ids, nil
}

// Count returns the number of stored requests.
func (s *RequestStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.order)), nil
}

var _ domain.RequestStore = (*RequestStore)(nil)
