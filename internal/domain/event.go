package domain

import "time"

// Bus channel and stream for lifecycle events.
const (
	ChannelRequests = "requests"
	StreamRequests  = "stream:requests"
)

// EventType names a committed lifecycle transition.
type EventType string

const (
	EventRequestCreated EventType = "request_created"
	EventOfferSubmitted EventType = "offer_submitted"
	EventOfferSelected  EventType = "offer_selected"
	EventPoolFunded     EventType = "pool_funded"
	EventPremiumPaid    EventType = "premium_paid"
	EventPolicySettled  EventType = "policy_settled"
)

// LifecycleEvent is published after every committed mutation.
type LifecycleEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	RequestID int64          `json:"request_id"`
	Actor     string         `json:"actor,omitempty"`
	Status    RequestStatus  `json:"status"`
	Amount    Amount         `json:"amount,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}

// ExpertReputation aggregates an expert's track record across requests.
type ExpertReputation struct {
	Expert          string
	OffersSubmitted int
	OffersSelected  int
	PoliciesActive  int
	PaidOut         int
	Refunded        int
	PremiumEarned   Amount
}
