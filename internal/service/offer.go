package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// SubmitOffer appends an expert's premium quote to a Pending request and
// returns the offer with its index.
func (s *InsuranceService) SubmitOffer(ctx context.Context, id int64, expert string, premium domain.Amount, description string) (domain.Offer, int, error) {
	if expert == "" {
		return domain.Offer{}, 0, fmt.Errorf("service: submit offer: %w", domain.ErrUnauthorized)
	}

	var (
		offer domain.Offer
		index int
	)
	err := s.withRequest(ctx, id, func(req domain.InsuranceRequest) error {
		if req.Status != domain.StatusPending {
			return fmt.Errorf("%w: request is %s", domain.ErrInvalidStatus, req.Status)
		}
		if premium == 0 {
			return domain.ErrInvalidAmount
		}

		offer = domain.Offer{
			Expert:      expert,
			Premium:     premium,
			Description: description,
			Timestamp:   s.now().UTC(),
		}
		req.Offers = append(req.Offers, offer)
		index = len(req.Offers) - 1
		if err := s.commit(ctx, domain.StatusPending, &req); err != nil {
			return err
		}

		s.logger.InfoContext(ctx, "offer submitted",
			slog.Int64("request_id", id),
			slog.String("expert", expert),
			slog.Int("offer_index", index),
			slog.String("premium", premium.String()),
		)
		s.emit(ctx, domain.EventOfferSubmitted, req, expert, premium, map[string]any{"offer_index": index})
		return nil
	})
	if err != nil {
		return domain.Offer{}, 0, fmt.Errorf("service: submit offer on %d: %w", id, err)
	}
	return offer, index, nil
}

// SelectOffer lets the requester pick one offer, moving the request to Funding.
// Selection happens once; a second call fails with ErrInvalidStatus.
func (s *InsuranceService) SelectOffer(ctx context.Context, id int64, caller string, index int) (domain.Offer, error) {
	var selected domain.Offer
	err := s.withRequest(ctx, id, func(req domain.InsuranceRequest) error {
		if !req.IsRequester(caller) {
			return domain.ErrUnauthorized
		}
		if req.Status != domain.StatusPending {
			return fmt.Errorf("%w: request is %s", domain.ErrInvalidStatus, req.Status)
		}
		if index < 0 || index >= len(req.Offers) {
			return fmt.Errorf("%w: index %d of %d", domain.ErrOfferNotFound, index, len(req.Offers))
		}

		idx := index
		req.SelectedOffer = &idx
		req.Status = domain.StatusFunding
		if err := s.commit(ctx, domain.StatusPending, &req); err != nil {
			return err
		}
		selected = req.Offers[index]

		s.logger.InfoContext(ctx, "offer selected",
			slog.Int64("request_id", id),
			slog.Int("offer_index", index),
			slog.String("expert", selected.Expert),
		)
		s.emit(ctx, domain.EventOfferSelected, req, caller, selected.Premium, map[string]any{
			"offer_index": index,
			"expert":      selected.Expert,
		})
		return nil
	})
	if err != nil {
		return domain.Offer{}, fmt.Errorf("service: select offer on %d: %w", id, err)
	}
	return selected, nil
}
