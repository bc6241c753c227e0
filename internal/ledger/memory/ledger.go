// Package memory implements domain.Ledger in process. It backs local
// development and tests; balances are lost on restart.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrUnknownTransfer       = errors.New("unknown transfer ref")
)

// Transfer is one executed movement, kept for inspection.
type Transfer struct {
	Ref    string
	From   string
	To     string
	Amount domain.Amount
}

// Ledger is a mutex-guarded balance sheet with ERC-20 style allowances.
type Ledger struct {
	mu         sync.Mutex
	escrow     string
	balances   map[string]domain.Amount
	allowances map[string]map[string]domain.Amount
	failTo     map[string]error
	lagTo      map[string]int
	history    []Transfer
	seq        int64
}

// New creates a Ledger whose escrow account is escrow.
func New(escrow string) *Ledger {
	return &Ledger{
		escrow:     escrow,
		balances:   make(map[string]domain.Amount),
		allowances: make(map[string]map[string]domain.Amount),
		failTo:     make(map[string]error),
		lagTo:      make(map[string]int),
	}
}

func norm(addr string) string { return strings.ToLower(strings.TrimSpace(addr)) }

// Escrow returns the pool account.
func (l *Ledger) Escrow() string { return l.escrow }

// Mint credits amount to account.
func (l *Ledger) Mint(account string, amount domain.Amount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[norm(account)] += amount
}

// Approve sets the amount spender may pull from owner.
func (l *Ledger) Approve(owner, spender string, amount domain.Amount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o := norm(owner)
	if l.allowances[o] == nil {
		l.allowances[o] = make(map[string]domain.Amount)
	}
	l.allowances[o][norm(spender)] = amount
}

// FailTransfersTo makes every transfer credited to addr return err. A nil err
// clears the failure.
func (l *Ledger) FailTransfersTo(addr string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.failTo, norm(addr))
		return
	}
	l.failTo[norm(addr)] = err
}

// LagConfirmationsTo makes the next n transfers credited to addr move funds
// but report domain.ErrTransferPending, as a node does when a receipt is late.
func (l *Ledger) LagConfirmationsTo(addr string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lagTo[norm(addr)] = n
}

// Confirm reports nil for any ref this ledger executed.
func (l *Ledger) Confirm(_ context.Context, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.history {
		if t.Ref == ref {
			return nil
		}
	}
	return fmt.Errorf("memory ledger: confirm %s: %w", ref, ErrUnknownTransfer)
}

// History returns a copy of all executed transfers in order.
func (l *Ledger) History() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transfer(nil), l.history...)
}

// TransferFrom moves amount from owner to to, spending the escrow's allowance.
func (l *Ledger) TransferFrom(_ context.Context, from, to string, amount domain.Amount) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, spender := norm(from), norm(l.escrow)
	if allowed := l.allowances[f][spender]; allowed < amount {
		return "", fmt.Errorf("memory ledger: transferFrom %s: %w (have %d, need %d)", from, ErrInsufficientAllowance, allowed, amount)
	}
	ref, err := l.move(from, to, amount)
	if ref == "" {
		return "", err
	}
	if amount > 0 {
		l.allowances[f][spender] -= amount
	}
	return ref, err
}

// Transfer sends amount from escrow to to.
func (l *Ledger) Transfer(_ context.Context, to string, amount domain.Amount) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(l.escrow, to, amount)
}

// Allowance returns what spender may pull from owner.
func (l *Ledger) Allowance(_ context.Context, owner, spender string) (domain.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[norm(owner)][norm(spender)], nil
}

// BalanceOf returns the balance of account.
func (l *Ledger) BalanceOf(_ context.Context, account string) (domain.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[norm(account)], nil
}

// move must be called with l.mu held.
func (l *Ledger) move(from, to string, amount domain.Amount) (string, error) {
	if err := l.failTo[norm(to)]; err != nil {
		return "", fmt.Errorf("memory ledger: transfer to %s: %w", to, err)
	}
	f, t := norm(from), norm(to)
	if l.balances[f] < amount {
		return "", fmt.Errorf("memory ledger: transfer from %s: %w (have %d, need %d)", from, ErrInsufficientBalance, l.balances[f], amount)
	}
	l.balances[f] -= amount
	l.balances[t] += amount
	l.seq++
	ref := fmt.Sprintf("mem-%d", l.seq)
	l.history = append(l.history, Transfer{Ref: ref, From: from, To: to, Amount: amount})
	if n := l.lagTo[t]; n > 0 {
		l.lagTo[t] = n - 1
		return ref, fmt.Errorf("memory ledger: transfer %s: waiting for receipt: %w", ref, domain.ErrTransferPending)
	}
	return ref, nil
}

var _ domain.Ledger = (*Ledger)(nil)
