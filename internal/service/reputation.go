package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// ExpertReputation aggregates an expert's offers, selections, policy outcomes
// and collected fees across every request they quoted on.
func (s *InsuranceService) ExpertReputation(ctx context.Context, expert string) (domain.ExpertReputation, error) {
	rep := domain.ExpertReputation{Expert: expert}
	reqs, err := s.requests.List(ctx, domain.RequestFilter{Participant: expert})
	if err != nil {
		return rep, fmt.Errorf("service: expert reputation: %w", err)
	}

	for _, req := range reqs {
		for _, o := range req.Offers {
			if domain.SameAddress(o.Expert, expert) {
				rep.OffersSubmitted++
			}
		}
		offer, ok := req.Selected()
		if !ok || !domain.SameAddress(offer.Expert, expert) {
			continue
		}
		rep.OffersSelected++

		switch req.Status {
		case domain.StatusActive:
			rep.PoliciesActive++
		case domain.StatusExpired:
			if req.Payout != nil && *req.Payout {
				rep.PaidOut++
			} else {
				rep.Refunded++
			}
		}

		fee, err := s.journal.Get(ctx, domain.ExpertFeeKey(req.ID))
		switch {
		case err == nil:
			rep.PremiumEarned += fee.Amount
		case !errors.Is(err, domain.ErrNotFound):
			return rep, fmt.Errorf("service: expert reputation: fee for %d: %w", req.ID, err)
		}
	}
	return rep, nil
}
