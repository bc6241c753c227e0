package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// CreateRequest validates n and stores a new Pending request. No funds move.
func (s *InsuranceService) CreateRequest(ctx context.Context, n domain.NewRequest) (domain.InsuranceRequest, error) {
	if n.Requester == "" {
		return domain.InsuranceRequest{}, fmt.Errorf("service: create request: %w", domain.ErrUnauthorized)
	}
	now := s.now().UTC()
	if err := n.Validate(now); err != nil {
		return domain.InsuranceRequest{}, fmt.Errorf("service: create request: %w", err)
	}

	req := domain.InsuranceRequest{
		Requester:      n.Requester,
		Title:          n.Title,
		Description:    n.Description,
		Location:       n.Location,
		CoverageAmount: n.CoverageAmount,
		Conditions:     n.Conditions,
		Window:         domain.Window{Start: n.Start.UTC(), End: n.End.UTC()},
		Status:         domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	id, err := s.requests.Create(ctx, req)
	if err != nil {
		return domain.InsuranceRequest{}, fmt.Errorf("service: create request: %w", err)
	}
	req.ID = id
	req.Version = 1

	s.logger.InfoContext(ctx, "request created",
		slog.Int64("request_id", id),
		slog.String("requester", req.Requester),
		slog.String("coverage", req.CoverageAmount.String()),
		slog.Int("conditions", len(req.Conditions)),
	)
	s.emit(ctx, domain.EventRequestCreated, req, req.Requester, req.CoverageAmount, map[string]any{
		"title":    req.Title,
		"location": req.Location,
	})
	return req, nil
}

// GetRequest returns the full request, reading through the cache if one is set.
func (s *InsuranceService) GetRequest(ctx context.Context, id int64) (domain.InsuranceRequest, error) {
	if s.cache != nil {
		if req, err := s.cache.Get(ctx, id); err == nil {
			return req, nil
		}
	}
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return domain.InsuranceRequest{}, fmt.Errorf("service: get request %d: %w", id, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, req); err != nil {
			s.logger.DebugContext(ctx, "cache set failed", slog.Int64("request_id", id), slog.String("error", err.Error()))
		}
	}
	return req, nil
}

// GetConditions returns the request's conditions in creation order.
func (s *InsuranceService) GetConditions(ctx context.Context, id int64) ([]domain.WeatherCondition, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return req.Conditions, nil
}

// GetOffers returns the request's offers in submission order.
func (s *InsuranceService) GetOffers(ctx context.Context, id int64) ([]domain.Offer, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return req.Offers, nil
}

// GetInvestments returns the request's investments in funding order.
func (s *InsuranceService) GetInvestments(ctx context.Context, id int64) ([]domain.Investment, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return req.Investments, nil
}

// ListRequestIDs returns every request id in creation order.
func (s *InsuranceService) ListRequestIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.requests.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: list request ids: %w", err)
	}
	return ids, nil
}

// ListRequests returns requests matching filter.
func (s *InsuranceService) ListRequests(ctx context.Context, filter domain.RequestFilter) ([]domain.InsuranceRequest, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("service: list requests: %w: unknown status %q", domain.ErrInvalidStatus, filter.Status)
	}
	reqs, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service: list requests: %w", err)
	}
	return reqs, nil
}

// Disbursements returns every money movement recorded for request id.
func (s *InsuranceService) Disbursements(ctx context.Context, id int64) ([]domain.Disbursement, error) {
	if _, err := s.GetRequest(ctx, id); err != nil {
		return nil, err
	}
	ds, err := s.journal.ListByRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service: list disbursements %d: %w", id, err)
	}
	return ds, nil
}

// MarketplaceStatus summarises the marketplace for the status endpoint.
type MarketplaceStatus struct {
	Requests      int64
	Escrow        string
	EscrowBalance domain.Amount
	ExpertFeeBps  uint64
}

// Status reports request count and escrow holdings.
func (s *InsuranceService) Status(ctx context.Context) (MarketplaceStatus, error) {
	n, err := s.requests.Count(ctx)
	if err != nil {
		return MarketplaceStatus{}, fmt.Errorf("service: count requests: %w", err)
	}
	bal, err := s.ledger.BalanceOf(ctx, s.ledger.Escrow())
	if err != nil {
		return MarketplaceStatus{}, fmt.Errorf("service: escrow balance: %w", err)
	}
	return MarketplaceStatus{
		Requests:      n,
		Escrow:        s.ledger.Escrow(),
		EscrowBalance: bal,
		ExpertFeeBps:  s.feeBps,
	}, nil
}
