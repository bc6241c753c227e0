package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/weathercover/internal/condition"
	"github.com/alanyoungcy/weathercover/internal/domain"
)

// SettlePolicy settles an Active request whose window has ended. Any caller
// may invoke it; caller is recorded for the audit trail only. The oracle is
// queried once. If every condition holds the requester receives the coverage
// amount, otherwise each investment's principal is refunded. Oracle failures
// leave the request Active so a later call can retry.
func (s *InsuranceService) SettlePolicy(ctx context.Context, id int64, caller string) (domain.InsuranceRequest, error) {
	var out domain.InsuranceRequest
	err := s.withRequest(ctx, id, func(req domain.InsuranceRequest) error {
		if req.Status != domain.StatusActive {
			return fmt.Errorf("%w: request is %s", domain.ErrInvalidStatus, req.Status)
		}
		now := s.now().UTC()
		if now.Before(req.Window.End) {
			return fmt.Errorf("%w: window ends %s", domain.ErrTooEarly, req.Window.End.Format(time.RFC3339))
		}

		obs, err := s.oracle.Observe(ctx, domain.ObservationQuery{
			Location: req.Location,
			Start:    req.Window.Start,
			End:      req.Window.End,
			Types:    domain.ConditionTypes(req.Conditions),
		})
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrOracle, err)
		}
		triggered := condition.EvaluateAll(req.Conditions, obs)

		triggered, err = s.resumeOutcome(ctx, req, triggered)
		if err != nil {
			return err
		}

		escrow := s.ledger.Escrow()
		var legs []leg
		if triggered {
			legs = []leg{{key: domain.PayoutKey(id), kind: domain.KindPayout, from: escrow, to: req.Requester, amount: req.CoverageAmount}}
		} else {
			for i, inv := range req.Investments {
				legs = append(legs, leg{key: domain.RefundKey(id, i), kind: domain.KindRefund, from: escrow, to: inv.Investor, amount: inv.Amount})
			}
		}
		if _, err := s.runLegs(ctx, id, legs); err != nil {
			return err
		}

		req.Payout = &triggered
		req.Status = domain.StatusExpired
		req.Observations = obs
		req.SettledAt = &now
		if err := s.commit(ctx, domain.StatusActive, &req); err != nil {
			return err
		}
		out = req

		s.logger.InfoContext(ctx, "policy settled",
			slog.Int64("request_id", id),
			slog.Bool("payout", triggered),
			slog.String("settled_by", caller),
		)
		s.emit(ctx, domain.EventPolicySettled, req, caller, settledAmount(req, triggered), map[string]any{
			"payout": triggered,
		})
		s.archiveReceipt(ctx, req, caller)
		return nil
	})
	if err != nil {
		return domain.InsuranceRequest{}, fmt.Errorf("service: settle policy %d: %w", id, err)
	}
	return out, nil
}

// resumeOutcome keeps a retried settlement on the branch an earlier attempt
// started paying, so funds never leave escrow on both branches.
func (s *InsuranceService) resumeOutcome(ctx context.Context, req domain.InsuranceRequest, triggered bool) (bool, error) {
	prior, err := s.journal.ListByRequest(ctx, req.ID)
	if err != nil {
		return triggered, fmt.Errorf("journal lookup: %w", err)
	}
	refundPrefix := domain.RefundKeyPrefix(req.ID)
	payoutKey := domain.PayoutKey(req.ID)
	for _, d := range prior {
		switch {
		case d.Key == payoutKey && !triggered:
			s.logger.WarnContext(ctx, "oracle now reports no trigger but payout already sent, completing payout",
				slog.Int64("request_id", req.ID))
			return true, nil
		case strings.HasPrefix(d.Key, refundPrefix) && triggered:
			s.logger.WarnContext(ctx, "oracle now reports trigger but refunds already started, completing refunds",
				slog.Int64("request_id", req.ID))
			return false, nil
		}
	}
	return triggered, nil
}

func settledAmount(req domain.InsuranceRequest, payout bool) domain.Amount {
	if payout {
		return req.CoverageAmount
	}
	return req.TotalFunded
}

func (s *InsuranceService) archiveReceipt(ctx context.Context, req domain.InsuranceRequest, caller string) {
	if s.archiver == nil {
		return
	}
	ds, err := s.journal.ListByRequest(ctx, req.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "receipt skipped, journal unavailable", slog.Int64("request_id", req.ID), slog.String("error", err.Error()))
		return
	}
	receipt := domain.SettlementReceipt{
		Request:       req,
		Disbursements: ds,
		SettledBy:     caller,
		SettledAt:     *req.SettledAt,
	}
	path, err := s.archiver.Archive(ctx, receipt)
	if err != nil {
		s.logger.WarnContext(ctx, "receipt archive failed", slog.Int64("request_id", req.ID), slog.String("error", err.Error()))
		return
	}
	s.logger.InfoContext(ctx, "receipt archived", slog.Int64("request_id", req.ID), slog.String("path", path))
}

// DueRequestIDs lists Active requests whose window has ended.
func (s *InsuranceService) DueRequestIDs(ctx context.Context, limit int) ([]int64, error) {
	ids, err := s.requests.ListDue(ctx, s.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("service: list due requests: %w", err)
	}
	return ids, nil
}

// Receipt returns the archived settlement receipt of an Expired request.
func (s *InsuranceService) Receipt(ctx context.Context, id int64) (domain.SettlementReceipt, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return domain.SettlementReceipt{}, err
	}
	if req.Status != domain.StatusExpired || req.SettledAt == nil {
		return domain.SettlementReceipt{}, fmt.Errorf("service: receipt %d: %w: status is %s", id, domain.ErrInvalidStatus, req.Status)
	}
	if s.archiver == nil {
		return domain.SettlementReceipt{}, fmt.Errorf("service: receipt %d: archive disabled: %w", id, domain.ErrNotFound)
	}
	r, err := s.archiver.Fetch(ctx, id, *req.SettledAt)
	if err != nil {
		return domain.SettlementReceipt{}, fmt.Errorf("service: receipt %d: %w", id, err)
	}
	return r, nil
}
