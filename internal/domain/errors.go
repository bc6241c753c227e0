package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrConflict      = errors.New("version conflict")

	ErrInvalidWindow      = errors.New("invalid coverage window")
	ErrEmptyConditions    = errors.New("at least one weather condition is required")
	ErrInvalidCondition   = errors.New("invalid weather condition")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidStatus      = errors.New("operation not allowed in current status")
	ErrOfferNotFound      = errors.New("offer not found")
	ErrFundingCapExceeded = errors.New("funding would exceed coverage amount")
	ErrAmountMismatch     = errors.New("premium does not match selected offer")
	ErrTooEarly           = errors.New("coverage window has not ended")
	ErrTransfer           = errors.New("ledger transfer failed")
	ErrTransferPending    = errors.New("ledger transfer outcome not yet known")
	ErrOracle             = errors.New("oracle query failed")
)
