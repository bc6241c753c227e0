package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// leg is one planned ledger movement. Pull legs spend the escrow's allowance
// on From; the rest pay out of escrow.
type leg struct {
	key    string
	kind   domain.DisbursementKind
	from   string
	to     string
	amount domain.Amount
	pull   bool
}

// pull moves amount from owner into escrow after checking the allowance. A
// broadcast transfer reports its ref even when err is set.
func (s *InsuranceService) pull(ctx context.Context, from string, amount domain.Amount) (string, error) {
	escrow := s.ledger.Escrow()
	allowed, err := s.ledger.Allowance(ctx, from, escrow)
	if err != nil {
		return "", fmt.Errorf("%w: allowance of %s: %w", domain.ErrTransfer, from, err)
	}
	if allowed < amount {
		return "", fmt.Errorf("%w: allowance of %s is %s, need %s", domain.ErrTransfer, from, allowed, amount)
	}
	ref, err := s.ledger.TransferFrom(ctx, from, escrow, amount)
	if err != nil {
		return ref, fmt.Errorf("%w: pull %s from %s: %w", domain.ErrTransfer, amount, from, err)
	}
	return ref, nil
}

// push pays amount out of escrow.
func (s *InsuranceService) push(ctx context.Context, to string, amount domain.Amount) (string, error) {
	ref, err := s.ledger.Transfer(ctx, to, amount)
	if err != nil {
		return ref, fmt.Errorf("%w: pay %s to %s: %w", domain.ErrTransfer, amount, to, err)
	}
	return ref, nil
}

// runLegs executes legs in order. A leg whose key is confirmed in the journal
// is skipped; a pending one is confirmed by its tx ref instead of being sent
// again. It stops at the first leg that fails or stays pending; earlier legs
// stay journaled so a retry resumes where this call stopped.
func (s *InsuranceService) runLegs(ctx context.Context, requestID int64, legs []leg) ([]domain.Disbursement, error) {
	done := make([]domain.Disbursement, 0, len(legs))
	for _, l := range legs {
		if l.amount == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return done, fmt.Errorf("stopped before leg %s: %w", l.key, context.Cause(ctx))
		}

		prior, err := s.journal.Get(ctx, l.key)
		switch {
		case err == nil && prior.Confirmed():
			done = append(done, prior)
			continue
		case err == nil:
			resend, err := s.resumeLeg(ctx, &prior)
			if err != nil {
				return done, err
			}
			if !resend {
				done = append(done, prior)
				continue
			}
			d, err := s.transferLeg(ctx, prior, l)
			if err != nil {
				return done, err
			}
			done = append(done, d)
			continue
		case !errors.Is(err, domain.ErrNotFound):
			return done, fmt.Errorf("journal lookup %s: %w", l.key, err)
		}

		d, err := s.runLeg(ctx, requestID, l)
		if err != nil {
			return done, err
		}
		done = append(done, d)
	}
	return done, nil
}

// runLeg journals l as pending, moves its funds and confirms the entry. The
// returned entry is confirmed whenever funds are known to have moved, even if
// err reports a journal failure.
func (s *InsuranceService) runLeg(ctx context.Context, requestID int64, l leg) (domain.Disbursement, error) {
	d := domain.Disbursement{
		Key:       l.key,
		RequestID: requestID,
		Kind:      l.kind,
		From:      l.from,
		To:        l.to,
		Amount:    l.amount,
		Status:    domain.DisbursementPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.journal.Record(ctx, d); err != nil {
		return d, fmt.Errorf("journal %s: %w", l.key, err)
	}
	return s.transferLeg(ctx, d, l)
}

// transferLeg sends l for its pending journal entry d and records the outcome.
// An unknown outcome keeps d pending with the tx ref; a definite failure
// removes d so the leg can be sent again.
func (s *InsuranceService) transferLeg(ctx context.Context, d domain.Disbursement, l leg) (domain.Disbursement, error) {
	var (
		ref string
		err error
	)
	if l.pull {
		ref, err = s.pull(ctx, l.from, l.amount)
	} else {
		ref, err = s.push(ctx, l.to, l.amount)
	}

	switch {
	case err == nil:
		d.TxRef = ref
		d.Status = domain.DisbursementConfirmed
		if jerr := s.journal.Resolve(ctx, d.Key, domain.DisbursementConfirmed, ref); jerr != nil {
			s.logger.ErrorContext(ctx, "transfer not journaled, reconcile manually",
				slog.Int64("request_id", d.RequestID),
				slog.String("leg", d.Key),
				slog.String("tx_ref", ref),
				slog.String("amount", l.amount.String()),
				slog.String("error", jerr.Error()),
			)
			return d, fmt.Errorf("journal %s (tx %s): %w", d.Key, ref, jerr)
		}
		s.logger.DebugContext(ctx, "disbursement recorded",
			slog.Int64("request_id", d.RequestID),
			slog.String("leg", d.Key),
			slog.String("tx_ref", ref),
		)
		return d, nil

	case errors.Is(err, domain.ErrTransferPending):
		d.TxRef = ref
		if jerr := s.journal.Resolve(ctx, d.Key, domain.DisbursementPending, ref); jerr != nil {
			s.logger.ErrorContext(ctx, "pending transfer ref not journaled, reconcile manually",
				slog.Int64("request_id", d.RequestID),
				slog.String("leg", d.Key),
				slog.String("tx_ref", ref),
				slog.String("error", jerr.Error()),
			)
		}
		s.logger.WarnContext(ctx, "disbursement leg awaiting confirmation",
			slog.Int64("request_id", d.RequestID),
			slog.String("leg", d.Key),
			slog.String("tx_ref", ref),
			slog.String("error", err.Error()),
		)
		return d, err

	default:
		if jerr := s.journal.Discard(ctx, d.Key); jerr != nil {
			s.logger.WarnContext(ctx, "failed leg left pending in journal",
				slog.Int64("request_id", d.RequestID),
				slog.String("leg", d.Key),
				slog.String("error", jerr.Error()),
			)
		}
		s.logger.WarnContext(ctx, "disbursement leg failed",
			slog.Int64("request_id", d.RequestID),
			slog.String("leg", d.Key),
			slog.String("error", err.Error()),
		)
		return d, err
	}
}

// resumeLeg checks a pending entry left by an earlier attempt against the
// ledger. On success d is confirmed in place. resend is true only when the
// earlier transfer is known never to move funds.
func (s *InsuranceService) resumeLeg(ctx context.Context, d *domain.Disbursement) (resend bool, err error) {
	if d.TxRef == "" {
		s.logger.ErrorContext(ctx, "pending disbursement has no tx ref, reconcile manually",
			slog.Int64("request_id", d.RequestID),
			slog.String("leg", d.Key),
		)
		return false, fmt.Errorf("%w: leg %s: %w: no tx ref recorded", domain.ErrTransfer, d.Key, domain.ErrTransferPending)
	}

	err = s.ledger.Confirm(ctx, d.TxRef)
	switch {
	case err == nil:
		if err := s.journal.Resolve(ctx, d.Key, domain.DisbursementConfirmed, d.TxRef); err != nil {
			return false, fmt.Errorf("journal %s (tx %s): %w", d.Key, d.TxRef, err)
		}
		d.Status = domain.DisbursementConfirmed
		s.logger.InfoContext(ctx, "pending disbursement confirmed",
			slog.Int64("request_id", d.RequestID),
			slog.String("leg", d.Key),
			slog.String("tx_ref", d.TxRef),
		)
		return false, nil
	case errors.Is(err, domain.ErrTransferPending):
		return false, fmt.Errorf("%w: leg %s tx %s: %w", domain.ErrTransfer, d.Key, d.TxRef, err)
	default:
		s.logger.WarnContext(ctx, "pending disbursement never landed, sending again",
			slog.Int64("request_id", d.RequestID),
			slog.String("leg", d.Key),
			slog.String("tx_ref", d.TxRef),
			slog.String("error", err.Error()),
		)
		return true, nil
	}
}
