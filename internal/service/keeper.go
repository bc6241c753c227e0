package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// Keeper periodically settles Active requests whose window has ended. It calls
// the same permissionless SettlePolicy any other caller would.
type Keeper struct {
	svc      *InsuranceService
	interval time.Duration
	batch    int
	identity string
	logger   *slog.Logger
}

// NewKeeper creates a Keeper. identity is recorded as the settling caller.
func NewKeeper(svc *InsuranceService, interval time.Duration, batch int, identity string, logger *slog.Logger) *Keeper {
	if interval < time.Second {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	if identity == "" {
		identity = "keeper"
	}
	return &Keeper{
		svc:      svc,
		interval: interval,
		batch:    batch,
		identity: identity,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run schedules SettleDue every interval until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	_, err := s.Every(int(k.interval.Seconds())).Seconds().Do(func() {
		settled, err := k.SettleDue(ctx)
		if err != nil {
			k.logger.ErrorContext(ctx, "settlement sweep failed", slog.String("error", err.Error()))
			return
		}
		if settled > 0 {
			k.logger.InfoContext(ctx, "settlement sweep complete", slog.Int("settled", settled))
		}
	})
	if err != nil {
		return fmt.Errorf("keeper: schedule: %w", err)
	}

	k.logger.InfoContext(ctx, "keeper started", slog.Duration("interval", k.interval))
	s.StartAsync()
	<-ctx.Done()
	s.Stop()
	k.logger.Info("keeper stopped")
	return ctx.Err()
}

// SettleDue settles up to batch due requests and returns how many settled.
// Per-request failures are logged and skipped.
func (k *Keeper) SettleDue(ctx context.Context) (int, error) {
	ids, err := k.svc.DueRequestIDs(ctx, k.batch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		_, err := k.svc.SettlePolicy(ctx, id, k.identity)
		switch {
		case err == nil:
			settled++
		case errors.Is(err, domain.ErrInvalidStatus), errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrTooEarly):
			k.logger.DebugContext(ctx, "request skipped", slog.Int64("request_id", id), slog.String("reason", err.Error()))
		default:
			k.logger.WarnContext(ctx, "settlement failed", slog.Int64("request_id", id), slog.String("error", err.Error()))
		}
	}
	return settled, nil
}
