package domain

import (
	"fmt"
	"time"
)

// DisbursementKind classifies a journal entry.
type DisbursementKind string

const (
	KindFunding         DisbursementKind = "funding"
	KindFundingReversal DisbursementKind = "funding_reversal"
	KindPremiumIn       DisbursementKind = "premium_in"
	KindExpertFee       DisbursementKind = "expert_fee"
	KindInvestorShare   DisbursementKind = "investor_share"
	KindPayout          DisbursementKind = "payout"
	KindRefund          DisbursementKind = "refund"
)

// DisbursementStatus tracks whether a journaled leg is known to have moved
// funds. A pending leg was (or may have been) broadcast and must be confirmed
// by its TxRef before it is ever sent again.
type DisbursementStatus string

const (
	DisbursementPending   DisbursementStatus = "pending"
	DisbursementConfirmed DisbursementStatus = "confirmed"
)

// Disbursement is one ledger movement attributed to a request.
type Disbursement struct {
	Key       string
	RequestID int64
	Kind      DisbursementKind
	From      string
	To        string
	Amount    Amount
	TxRef     string
	Status    DisbursementStatus
	CreatedAt time.Time
}

// Confirmed reports whether the leg is known to have moved funds. Entries
// written before statuses existed have an empty status and count as confirmed.
func (d Disbursement) Confirmed() bool {
	return d.Status != DisbursementPending
}

// Journal keys. A leg key is stable across retries of the same operation.

func PremiumPullKey(id int64) string { return fmt.Sprintf("premium:%d:pull", id) }

func ExpertFeeKey(id int64) string { return fmt.Sprintf("premium:%d:expert", id) }

func InvestorShareKey(id int64, idx int) string {
	return fmt.Sprintf("premium:%d:investor:%d", id, idx)
}

func PayoutKey(id int64) string { return fmt.Sprintf("settle:%d:payout", id) }

func RefundKeyPrefix(id int64) string { return fmt.Sprintf("settle:%d:refund:", id) }

func RefundKey(id int64, idx int) string {
	return fmt.Sprintf("%s%d", RefundKeyPrefix(id), idx)
}

// FundingKey is unique per pull; ref is a fresh id minted by the caller.
func FundingKey(id int64, ref string) string {
	return fmt.Sprintf("fund:%d:%s", id, ref)
}

// SettlementReceipt is the archived record of a settled request.
type SettlementReceipt struct {
	Request       InsuranceRequest
	Disbursements []Disbursement
	SettledBy     string
	SettledAt     time.Time
}
