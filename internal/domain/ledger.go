package domain

import "context"

// Ledger is the stablecoin the marketplace moves funds with. Transfers return
// a reference (tx hash or journal id) for the disbursement journal. A transfer
// that was broadcast but whose outcome is unknown returns its reference
// together with an error wrapping ErrTransferPending.
type Ledger interface {
	// Escrow is the account that holds pooled funds and premiums in transit.
	Escrow() string
	// TransferFrom pulls amount from an owner who approved the escrow.
	TransferFrom(ctx context.Context, from, to string, amount Amount) (string, error)
	// Transfer sends amount out of the escrow account.
	Transfer(ctx context.Context, to string, amount Amount) (string, error)
	// Confirm reports the outcome of an earlier transfer by its reference:
	// nil once it moved funds, an error wrapping ErrTransferPending while the
	// outcome is still unknown, and any other error when it never will.
	Confirm(ctx context.Context, ref string) error
	Allowance(ctx context.Context, owner, spender string) (Amount, error)
	BalanceOf(ctx context.Context, account string) (Amount, error)
}

// Oracle reports observed weather aggregates for a window.
type Oracle interface {
	Observe(ctx context.Context, q ObservationQuery) (map[WeatherType]Observation, error)
}
