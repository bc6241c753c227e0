package handler

import (
	"time"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// Amounts cross the API as decimal USDC strings ("12.500000").

type subConditionBody struct {
	Operator  string `json:"operator" validate:"required,oneof=lt gt eq"`
	Threshold int64  `json:"threshold"`
}

type conditionBody struct {
	Type      string            `json:"type" validate:"required,oneof=rain wind tornado flood hail"`
	Operator  string            `json:"operator" validate:"required,oneof=lt gt eq"`
	Aggregate int64             `json:"aggregate"`
	Sub       *subConditionBody `json:"sub,omitempty"`
}

func (c conditionBody) toDomain() domain.WeatherCondition {
	wc := domain.WeatherCondition{
		Type:           domain.WeatherType(c.Type),
		Op:             domain.Operator(c.Operator),
		AggregateValue: c.Aggregate,
	}
	if c.Sub != nil {
		wc.Sub = &domain.SubCondition{Op: domain.Operator(c.Sub.Operator), Threshold: c.Sub.Threshold}
	}
	return wc
}

type createRequestBody struct {
	Title          string          `json:"title" validate:"required,max=200"`
	Description    string          `json:"description" validate:"max=4000"`
	Location       string          `json:"location" validate:"required,max=200"`
	CoverageAmount string          `json:"coverage_amount" validate:"required"`
	Conditions     []conditionBody `json:"conditions" validate:"dive"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
}

type submitOfferBody struct {
	Premium     string `json:"premium" validate:"required"`
	Description string `json:"description" validate:"max=4000"`
}

type selectOfferBody struct {
	OfferIndex *int `json:"offer_index" validate:"required,gte=0"`
}

type amountBody struct {
	Amount string `json:"amount" validate:"required"`
}

type conditionView struct {
	Type      string            `json:"type"`
	Operator  string            `json:"operator"`
	Aggregate int64             `json:"aggregate"`
	Sub       *subConditionBody `json:"sub,omitempty"`
}

type observationView struct {
	Aggregate int64  `json:"aggregate"`
	Sub       *int64 `json:"sub,omitempty"`
}

type requestView struct {
	ID             int64                      `json:"id"`
	Requester      string                     `json:"requester"`
	Title          string                     `json:"title"`
	Description    string                     `json:"description"`
	Location       string                     `json:"location"`
	CoverageAmount string                     `json:"coverage_amount"`
	Start          time.Time                  `json:"start"`
	End            time.Time                  `json:"end"`
	Status         string                     `json:"status"`
	OfferCount     int                        `json:"offer_count"`
	SelectedOffer  *int                       `json:"selected_offer,omitempty"`
	TotalFunded    string                     `json:"total_funded"`
	Remaining      string                     `json:"remaining"`
	Payout         *bool                      `json:"payout,omitempty"`
	Observations   map[string]observationView `json:"observations,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
	SettledAt      *time.Time                 `json:"settled_at,omitempty"`
}

type offerView struct {
	Index       int       `json:"index"`
	Expert      string    `json:"expert"`
	Premium     string    `json:"premium"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Selected    bool      `json:"selected"`
}

type investmentView struct {
	Index     int       `json:"index"`
	Investor  string    `json:"investor"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

type disbursementView struct {
	Key       string    `json:"key"`
	Kind      string    `json:"kind"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Amount    string    `json:"amount"`
	TxRef     string    `json:"tx_ref"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type receiptView struct {
	Request       requestView        `json:"request"`
	Disbursements []disbursementView `json:"disbursements"`
	SettledBy     string             `json:"settled_by"`
	SettledAt     time.Time          `json:"settled_at"`
}

type reputationView struct {
	Expert          string `json:"expert"`
	OffersSubmitted int    `json:"offers_submitted"`
	OffersSelected  int    `json:"offers_selected"`
	PoliciesActive  int    `json:"policies_active"`
	PaidOut         int    `json:"policies_paid_out"`
	Refunded        int    `json:"policies_refunded"`
	PremiumEarned   string `json:"premium_earned"`
}

func toRequestView(r domain.InsuranceRequest) requestView {
	v := requestView{
		ID:             r.ID,
		Requester:      r.Requester,
		Title:          r.Title,
		Description:    r.Description,
		Location:       r.Location,
		CoverageAmount: r.CoverageAmount.String(),
		Start:          r.Window.Start,
		End:            r.Window.End,
		Status:         string(r.Status),
		OfferCount:     len(r.Offers),
		SelectedOffer:  r.SelectedOffer,
		TotalFunded:    r.TotalFunded.String(),
		Remaining:      r.Remaining().String(),
		Payout:         r.Payout,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		SettledAt:      r.SettledAt,
	}
	if len(r.Observations) > 0 {
		v.Observations = make(map[string]observationView, len(r.Observations))
		for t, o := range r.Observations {
			v.Observations[string(t)] = observationView{Aggregate: o.Aggregate, Sub: o.Sub}
		}
	}
	return v
}

func toConditionViews(cs []domain.WeatherCondition) []conditionView {
	out := make([]conditionView, 0, len(cs))
	for _, c := range cs {
		cv := conditionView{Type: string(c.Type), Operator: string(c.Op), Aggregate: c.AggregateValue}
		if c.Sub != nil {
			cv.Sub = &subConditionBody{Operator: string(c.Sub.Op), Threshold: c.Sub.Threshold}
		}
		out = append(out, cv)
	}
	return out
}

func toOfferView(i int, o domain.Offer, selected *int) offerView {
	return offerView{
		Index:       i,
		Expert:      o.Expert,
		Premium:     o.Premium.String(),
		Description: o.Description,
		Timestamp:   o.Timestamp,
		Selected:    selected != nil && *selected == i,
	}
}

func toDisbursementViews(ds []domain.Disbursement) []disbursementView {
	out := make([]disbursementView, 0, len(ds))
	for _, d := range ds {
		out = append(out, disbursementView{
			Key:       d.Key,
			Kind:      string(d.Kind),
			From:      d.From,
			To:        d.To,
			Amount:    d.Amount.String(),
			TxRef:     d.TxRef,
			Status:    disbursementStatus(d),
			CreatedAt: d.CreatedAt,
		})
	}
	return out
}

func disbursementStatus(d domain.Disbursement) string {
	if d.Confirmed() {
		return string(domain.DisbursementConfirmed)
	}
	return string(domain.DisbursementPending)
}
