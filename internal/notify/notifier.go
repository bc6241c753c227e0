// Package notify delivers marketplace lifecycle events to operator channels
// (Telegram, Discord). Event types can be filtered so operators only hear
// about the transitions they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a message out to every Sender.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every type.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyEvent formats ev and sends it when its type passes the filter.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.LifecycleEvent) error {
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", string(ev.Type)))
		return nil
	}
	title, msg := FormatEvent(ev)
	return n.dispatch(ctx, title, msg)
}

// NotifyAll sends a free-form message regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

var eventTitles = map[domain.EventType]string{
	domain.EventRequestCreated: "New insurance request",
	domain.EventOfferSubmitted: "Offer submitted",
	domain.EventOfferSelected:  "Offer selected",
	domain.EventPoolFunded:     "Pool funded",
	domain.EventPremiumPaid:    "Premium paid, policy active",
	domain.EventPolicySettled:  "Policy settled",
}

// FormatEvent renders ev as a title and a plain multi-line body.
func FormatEvent(ev domain.LifecycleEvent) (string, string) {
	title, ok := eventTitles[ev.Type]
	if !ok {
		title = string(ev.Type)
	}
	title = fmt.Sprintf("%s #%d", title, ev.RequestID)

	var b strings.Builder
	fmt.Fprintf(&b, "status: %s\n", ev.Status)
	if ev.Actor != "" {
		fmt.Fprintf(&b, "by: %s\n", ev.Actor)
	}
	if ev.Amount > 0 {
		fmt.Fprintf(&b, "amount: %s USDC\n", ev.Amount)
	}
	if ev.Type == domain.EventPolicySettled {
		if paid, ok := ev.Detail["payout"].(bool); ok {
			outcome := "refunded to investors"
			if paid {
				outcome = "paid out to requester"
			}
			fmt.Fprintf(&b, "outcome: %s\n", outcome)
		}
	}

	keys := make([]string, 0, len(ev.Detail))
	for k := range ev.Detail {
		if ev.Type == domain.EventPolicySettled && k == "payout" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, ev.Detail[k])
	}
	return title, strings.TrimRight(b.String(), "\n")
}
