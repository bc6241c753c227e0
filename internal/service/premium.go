package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// PayPremium collects the selected offer's premium from the requester, pays
// the expert fee and the investors' pro-rata shares, and activates the policy.
// Each leg is journaled; after a partial failure a retry pays only the
// remaining legs.
func (s *InsuranceService) PayPremium(ctx context.Context, id int64, caller string, premium domain.Amount) (domain.InsuranceRequest, error) {
	var out domain.InsuranceRequest
	err := s.withRequest(ctx, id, func(req domain.InsuranceRequest) error {
		if !req.IsRequester(caller) {
			return domain.ErrUnauthorized
		}
		if req.Status != domain.StatusPremiumDue {
			return fmt.Errorf("%w: request is %s", domain.ErrInvalidStatus, req.Status)
		}
		offer, ok := req.Selected()
		if !ok {
			return fmt.Errorf("%w: no selected offer", domain.ErrInvalidStatus)
		}
		if premium != offer.Premium {
			return fmt.Errorf("%w: got %s, offer is %s", domain.ErrAmountMismatch, premium, offer.Premium)
		}

		split, err := splitPremium(premium, s.feeBps, req.Investments, req.TotalFunded)
		if err != nil {
			return err
		}

		escrow := s.ledger.Escrow()
		legs := []leg{
			{key: domain.PremiumPullKey(id), kind: domain.KindPremiumIn, from: req.Requester, to: escrow, amount: premium, pull: true},
			{key: domain.ExpertFeeKey(id), kind: domain.KindExpertFee, from: escrow, to: offer.Expert, amount: split.ExpertFee},
		}
		for i, inv := range req.Investments {
			legs = append(legs, leg{
				key:    domain.InvestorShareKey(id, i),
				kind:   domain.KindInvestorShare,
				from:   escrow,
				to:     inv.Investor,
				amount: split.Shares[i],
			})
		}
		if _, err := s.runLegs(ctx, id, legs); err != nil {
			return err
		}

		req.Status = domain.StatusActive
		if err := s.commit(ctx, domain.StatusPremiumDue, &req); err != nil {
			return err
		}
		out = req

		s.logger.InfoContext(ctx, "premium paid, policy active",
			slog.Int64("request_id", id),
			slog.String("premium", premium.String()),
			slog.String("expert_fee", split.ExpertFee.String()),
			slog.String("expert", offer.Expert),
		)
		s.emit(ctx, domain.EventPremiumPaid, req, caller, premium, map[string]any{
			"expert":     offer.Expert,
			"expert_fee": uint64(split.ExpertFee),
			"investors":  len(req.Investments),
		})
		return nil
	})
	if err != nil {
		return domain.InsuranceRequest{}, fmt.Errorf("service: pay premium on %d: %w", id, err)
	}
	return out, nil
}
