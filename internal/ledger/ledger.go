// Package ledger owns the per-account credit balance.
//
// All mutating operations resolve to single conditional updates in the store,
// so concurrent requests against the same account serialize at the database
// and the balance can never be observed negative.
package ledger

import (
	"context"
	"errors"

	"github.com/pixelmint-ai/pixelmint/internal/store"
)

var (
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrAccountNotFound    = errors.New("account not found")
)

// Reservation is a logical permit to attempt one metered call. It records the
// balance observed at check time; it is not a counter and carries no
// guarantee. The final CommitDebit re-checks the balance atomically.
type Reservation struct {
	AccountID string
	Balance   int // balance observed at reservation time
}

// Ledger provides atomic credit operations on top of the store.
type Ledger struct {
	store store.Store
}

// New creates a Ledger backed by the given store.
func New(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// CheckAndReserve grants a reservation iff the account's balance is positive.
// It performs no mutation; it exists so a request with no credit is rejected
// before any provider quota is spent.
func (l *Ledger) CheckAndReserve(ctx context.Context, accountID string) (*Reservation, error) {
	a, err := l.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}
	if a.CreditBalance <= 0 {
		return nil, ErrInsufficientCredit
	}
	return &Reservation{AccountID: accountID, Balance: a.CreditBalance}, nil
}

// CommitDebit atomically decrements the balance by amount and returns the new
// balance. The decrement is guarded at the storage layer: if the balance
// dropped below amount since the reservation, ErrInsufficientCredit is
// returned and nothing changes. The balance never goes negative.
func (l *Ledger) CommitDebit(ctx context.Context, accountID string, amount int) (int, error) {
	balance, ok, err := l.store.DebitBalance(ctx, accountID, amount)
	if err != nil {
		return 0, err
	}
	if ok {
		return balance, nil
	}
	// The guard failed: distinguish a missing account from an empty balance.
	a, err := l.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if a == nil {
		return 0, ErrAccountNotFound
	}
	return a.CreditBalance, ErrInsufficientCredit
}

// Credit atomically increments the balance by amount and returns the new
// balance. Used by payment settlement and the admin grant command.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount int) (int, error) {
	balance, ok, err := l.store.CreditBalance(ctx, accountID, amount)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrAccountNotFound
	}
	return balance, nil
}

// Balance returns the current credit balance.
func (l *Ledger) Balance(ctx context.Context, accountID string) (int, error) {
	a, err := l.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if a == nil {
		return 0, ErrAccountNotFound
	}
	return a.CreditBalance, nil
}
