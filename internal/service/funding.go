package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// FundPool pulls amount from investor into escrow and appends an Investment.
// When the pool reaches the coverage amount the request moves to PremiumDue
// in the same operation. If the state cannot be saved after the pull, the
// amount is sent back to the investor.
func (s *InsuranceService) FundPool(ctx context.Context, id int64, investor string, amount domain.Amount) (domain.InsuranceRequest, error) {
	if investor == "" {
		return domain.InsuranceRequest{}, fmt.Errorf("service: fund pool: %w", domain.ErrUnauthorized)
	}

	var out domain.InsuranceRequest
	err := s.withRequest(ctx, id, func(req domain.InsuranceRequest) error {
		if req.Status != domain.StatusFunding {
			return fmt.Errorf("%w: request is %s", domain.ErrInvalidStatus, req.Status)
		}
		if amount == 0 {
			return domain.ErrInvalidAmount
		}
		if amount > req.Remaining() {
			return fmt.Errorf("%w: %s requested, %s remaining", domain.ErrFundingCapExceeded, amount, req.Remaining())
		}

		l := leg{
			key:    domain.FundingKey(id, uuid.NewString()),
			kind:   domain.KindFunding,
			from:   investor,
			to:     s.ledger.Escrow(),
			amount: amount,
			pull:   true,
		}
		d, err := s.runLeg(ctx, id, l)
		if err != nil {
			if !d.Confirmed() {
				return err
			}
			s.logger.WarnContext(ctx, "funding pull not journaled", slog.Int64("request_id", id), slog.String("tx_ref", d.TxRef))
		}

		req.Investments = append(req.Investments, domain.Investment{
			Investor:  investor,
			Amount:    amount,
			Timestamp: s.now().UTC(),
		})
		req.TotalFunded += amount
		if req.TotalFunded == req.CoverageAmount {
			req.Status = domain.StatusPremiumDue
		}

		if err := s.commit(ctx, domain.StatusFunding, &req); err != nil {
			return errors.Join(err, s.reverseFunding(ctx, id, investor, amount))
		}
		out = req

		s.logger.InfoContext(ctx, "pool funded",
			slog.Int64("request_id", id),
			slog.String("investor", investor),
			slog.String("amount", amount.String()),
			slog.String("total_funded", req.TotalFunded.String()),
			slog.String("status", string(req.Status)),
		)
		s.emit(ctx, domain.EventPoolFunded, req, investor, amount, map[string]any{
			"total_funded": uint64(req.TotalFunded),
			"remaining":    uint64(req.Remaining()),
		})
		return nil
	})
	if err != nil {
		return domain.InsuranceRequest{}, fmt.Errorf("service: fund pool %d: %w", id, err)
	}
	return out, nil
}

// reverseFunding returns a pulled amount after a failed save. It returns nil
// when the reversal succeeded.
func (s *InsuranceService) reverseFunding(ctx context.Context, id int64, investor string, amount domain.Amount) error {
	l := leg{
		key:    domain.FundingKey(id, "reversal-"+uuid.NewString()),
		kind:   domain.KindFundingReversal,
		from:   s.ledger.Escrow(),
		to:     investor,
		amount: amount,
	}
	d, err := s.runLeg(ctx, id, l)
	if err != nil && !d.Confirmed() {
		s.logger.ErrorContext(ctx, "funding reversal failed, reconcile manually",
			slog.Int64("request_id", id),
			slog.String("investor", investor),
			slog.String("amount", amount.String()),
			slog.String("tx_ref", d.TxRef),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("reverse funding: %w", err)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "funding reversal not journaled", slog.Int64("request_id", id), slog.String("tx_ref", d.TxRef))
	}
	s.logger.WarnContext(ctx, "funding reversed after failed save",
		slog.Int64("request_id", id),
		slog.String("investor", investor),
		slog.String("tx_ref", d.TxRef),
	)
	return nil
}
