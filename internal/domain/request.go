package domain

import (
	"fmt"
	"strings"
	"time"
)

// RequestStatus is the lifecycle phase of an insurance request.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusFunding    RequestStatus = "funding"
	StatusPremiumDue RequestStatus = "premium_due"
	StatusActive     RequestStatus = "active"
	StatusExpired    RequestStatus = "expired"
)

var statusRank = map[RequestStatus]int{
	StatusPending:    0,
	StatusFunding:    1,
	StatusPremiumDue: 2,
	StatusActive:     3,
	StatusExpired:    4,
}

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvanceTo reports whether next is the immediate successor of s.
func (s RequestStatus) CanAdvanceTo(next RequestStatus) bool {
	cur, ok1 := statusRank[s]
	nxt, ok2 := statusRank[next]
	return ok1 && ok2 && nxt == cur+1
}

// Window is the coverage period. Start is inclusive, End exclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

// Offer is an expert's premium quote. Immutable once submitted.
type Offer struct {
	Expert      string
	Premium     Amount
	Description string
	Timestamp   time.Time
}

// Investment is one contribution to the funding pool. Repeated contributions
// by the same investor are kept as separate entries.
type Investment struct {
	Investor  string
	Amount    Amount
	Timestamp time.Time
}

// InsuranceRequest is the aggregate root for one coverage application.
type InsuranceRequest struct {
	ID             int64
	Requester      string
	Title          string
	Description    string
	Location       string
	CoverageAmount Amount
	Conditions     []WeatherCondition
	Window         Window
	Status         RequestStatus
	Offers         []Offer
	SelectedOffer  *int
	Investments    []Investment
	TotalFunded    Amount
	Payout         *bool
	Observations   map[WeatherType]Observation
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SettledAt      *time.Time
	Version        int64
}

// NewRequest carries the caller-supplied fields for Create.
type NewRequest struct {
	Requester      string
	Title          string
	Description    string
	Location       string
	CoverageAmount Amount
	Conditions     []WeatherCondition
	Start          time.Time
	End            time.Time
}

// Validate checks creation preconditions against the current time.
func (n NewRequest) Validate(now time.Time) error {
	if !n.Start.Before(n.End) || !n.End.After(now) {
		return ErrInvalidWindow
	}
	if len(n.Conditions) == 0 {
		return ErrEmptyConditions
	}
	if n.CoverageAmount == 0 {
		return ErrInvalidAmount
	}
	for i, c := range n.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// Selected returns the selected offer, if any.
func (r InsuranceRequest) Selected() (Offer, bool) {
	if r.SelectedOffer == nil {
		return Offer{}, false
	}
	idx := *r.SelectedOffer
	if idx < 0 || idx >= len(r.Offers) {
		return Offer{}, false
	}
	return r.Offers[idx], true
}

// SumInvestments recomputes the pool total from its entries.
func (r InsuranceRequest) SumInvestments() Amount {
	var total Amount
	for _, inv := range r.Investments {
		total += inv.Amount
	}
	return total
}

// Remaining is the amount still needed to fully fund the pool.
func (r InsuranceRequest) Remaining() Amount {
	if r.TotalFunded >= r.CoverageAmount {
		return 0
	}
	return r.CoverageAmount - r.TotalFunded
}

// IsRequester reports whether addr created the request.
func (r InsuranceRequest) IsRequester(addr string) bool {
	return SameAddress(r.Requester, addr)
}

// IsParticipant reports whether addr is the requester, an offering expert or an investor.
func (r InsuranceRequest) IsParticipant(addr string) bool {
	if r.IsRequester(addr) {
		return true
	}
	for _, o := range r.Offers {
		if SameAddress(o.Expert, addr) {
			return true
		}
	}
	for _, inv := range r.Investments {
		if SameAddress(inv.Investor, addr) {
			return true
		}
	}
	return false
}

// SettlementDue reports whether the request can be settled at now.
func (r InsuranceRequest) SettlementDue(now time.Time) bool {
	return r.Status == StatusActive && !now.Before(r.Window.End)
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (r InsuranceRequest) Clone() InsuranceRequest {
	out := r
	out.Conditions = make([]WeatherCondition, len(r.Conditions))
	for i, c := range r.Conditions {
		if c.Sub != nil {
			sub := *c.Sub
			c.Sub = &sub
		}
		out.Conditions[i] = c
	}
	out.Offers = append([]Offer(nil), r.Offers...)
	out.Investments = append([]Investment(nil), r.Investments...)
	if r.SelectedOffer != nil {
		idx := *r.SelectedOffer
		out.SelectedOffer = &idx
	}
	if r.Payout != nil {
		p := *r.Payout
		out.Payout = &p
	}
	if r.SettledAt != nil {
		t := *r.SettledAt
		out.SettledAt = &t
	}
	if r.Observations != nil {
		out.Observations = make(map[WeatherType]Observation, len(r.Observations))
		for k, v := range r.Observations {
			if v.Sub != nil {
				s := *v.Sub
				v.Sub = &s
			}
			out.Observations[k] = v
		}
	}
	return out
}

// SameAddress compares two wallet identities case-insensitively.
func SameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
