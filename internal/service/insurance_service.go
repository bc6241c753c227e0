package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

const (
	// DefaultExpertFeeBps is the expert's cut of the premium (5%).
	DefaultExpertFeeBps = 500
	bpsDenominator      = 10_000

	defaultLockTTL  = 5 * time.Minute
	defaultLockWait = 5 * time.Second
)

// Notifier forwards committed lifecycle events to operators.
type Notifier interface {
	NotifyEvent(ctx context.Context, ev domain.LifecycleEvent) error
}

// Options tunes an InsuranceService. Zero values take defaults.
type Options struct {
	ExpertFeeBps uint64
	LockTTL      time.Duration
	LockWait     time.Duration
	Now          func() time.Time
}

// InsuranceService runs the request lifecycle: creation, offers, funding,
// premium split and settlement. Every mutation of an existing request runs
// under a per-request lock and follows validate, transfer, mutate, save.
type InsuranceService struct {
	requests domain.RequestStore
	journal  domain.DisbursementStore
	ledger   domain.Ledger
	oracle   domain.Oracle
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	cache    domain.RequestCache
	notifier Notifier
	archiver domain.ReceiptArchiver

	feeBps   uint64
	lockTTL  time.Duration
	lockWait time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewInsuranceService creates an InsuranceService with all required dependencies.
func NewInsuranceService(
	requests domain.RequestStore,
	journal domain.DisbursementStore,
	ledger domain.Ledger,
	oracle domain.Oracle,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	opts Options,
	logger *slog.Logger,
) *InsuranceService {
	if opts.ExpertFeeBps == 0 {
		opts.ExpertFeeBps = DefaultExpertFeeBps
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.LockWait <= 0 {
		opts.LockWait = defaultLockWait
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &InsuranceService{
		requests: requests,
		journal:  journal,
		ledger:   ledger,
		oracle:   oracle,
		locks:    locks,
		bus:      bus,
		audit:    audit,
		feeBps:   opts.ExpertFeeBps,
		lockTTL:  opts.LockTTL,
		lockWait: opts.LockWait,
		now:      opts.Now,
		logger:   logger.With(slog.String("component", "insurance_service")),
	}
}

// WithCache attaches a read-through cache for request projections.
func (s *InsuranceService) WithCache(c domain.RequestCache) *InsuranceService {
	s.cache = c
	return s
}

// WithNotifier attaches an operator notifier for lifecycle events.
func (s *InsuranceService) WithNotifier(n Notifier) *InsuranceService {
	s.notifier = n
	return s
}

// WithArchiver attaches object storage for settlement receipts.
func (s *InsuranceService) WithArchiver(a domain.ReceiptArchiver) *InsuranceService {
	s.archiver = a
	return s
}

// ExpertFeeBps returns the configured expert share in basis points.
func (s *InsuranceService) ExpertFeeBps() uint64 { return s.feeBps }

// Escrow returns the ledger account holding pooled funds.
func (s *InsuranceService) Escrow() string { return s.ledger.Escrow() }

func requestLockKey(id int64) string {
	return fmt.Sprintf("request:%d", id)
}

// acquire takes the lock for key, retrying with backoff while another holder
// owns it, for at most lockWait.
func (s *InsuranceService) acquire(ctx context.Context, key string) (domain.Lease, error) {
	deadline := time.Now().Add(s.lockWait)
	backoff := 10 * time.Millisecond
	for {
		lease, err := s.locks.Acquire(ctx, key, s.lockTTL)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("service: lock %s: %w", key, err)
		}
		if time.Now().Add(backoff).After(deadline) {
			return nil, fmt.Errorf("service: lock %s: %w", key, domain.ErrLockHeld)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("service: lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

// withRequest loads request id under its lock and passes it to fn. The lock
// is renewed while fn runs; if a renewal fails the context given to fn is
// cancelled with a cause wrapping domain.ErrLockHeld.
func (s *InsuranceService) withRequest(ctx context.Context, id int64, fn func(req domain.InsuranceRequest) error) error {
	key := requestLockKey(id)
	lease, err := s.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer lease.Release()

	ctx, stop := s.keepAlive(ctx, key, lease)
	defer stop()

	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return err
	}
	return fn(req)
}

// keepAlive extends lease every third of the lock TTL until stop is called.
func (s *InsuranceService) keepAlive(ctx context.Context, key string, lease domain.Lease) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.lockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if err := lease.Extend(ctx, s.lockTTL); err != nil {
				s.logger.ErrorContext(ctx, "lock renewal failed, stopping operation",
					slog.String("lock", key),
					slog.String("error", err.Error()),
				)
				cancel(fmt.Errorf("%w: lost %s: %w", domain.ErrLockHeld, key, err))
				return
			}
		}
	}()
	return ctx, func() {
		close(done)
		wg.Wait()
		cancel(nil)
	}
}

// commit saves req and bumps its version in place. from is the status req was
// loaded with; the status may stay or move one step forward.
func (s *InsuranceService) commit(ctx context.Context, from domain.RequestStatus, req *domain.InsuranceRequest) error {
	if req.Status != from && !from.CanAdvanceTo(req.Status) {
		return fmt.Errorf("%w: %s cannot move to %s", domain.ErrInvalidStatus, from, req.Status)
	}
	req.UpdatedAt = s.now().UTC()
	v, err := s.requests.Save(ctx, *req)
	if err != nil {
		return err
	}
	req.Version = v
	return nil
}

// emit publishes a committed transition to the bus, the audit log, the
// notifier and the cache. Failures are logged; the transition already happened.
func (s *InsuranceService) emit(ctx context.Context, typ domain.EventType, req domain.InsuranceRequest, actor string, amount domain.Amount, detail map[string]any) {
	ev := domain.LifecycleEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		RequestID: req.ID,
		Actor:     actor,
		Status:    req.Status,
		Amount:    amount,
		Detail:    detail,
		At:        s.now().UTC(),
	}
	log := s.logger.With(slog.Int64("request_id", req.ID), slog.String("event", string(typ)))

	payload, err := json.Marshal(ev)
	if err != nil {
		log.ErrorContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	if s.bus != nil {
		if err := s.bus.Publish(ctx, domain.ChannelRequests, payload); err != nil {
			log.WarnContext(ctx, "publish event failed", slog.String("error", err.Error()))
		}
		if err := s.bus.StreamAppend(ctx, domain.StreamRequests, payload); err != nil {
			log.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
		}
	}

	if s.audit != nil {
		entry := map[string]any{
			"request_id": req.ID,
			"status":     string(req.Status),
			"version":    req.Version,
		}
		if actor != "" {
			entry["actor"] = actor
		}
		if amount > 0 {
			entry["amount"] = uint64(amount)
		}
		for k, v := range detail {
			entry[k] = v
		}
		if err := s.audit.Log(ctx, string(typ), entry); err != nil {
			log.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, req.ID, req.Version); err != nil {
			log.WarnContext(ctx, "cache invalidate failed", slog.String("error", err.Error()))
		}
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyEvent(ctx, ev); err != nil {
			log.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
}
