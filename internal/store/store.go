// Package store defines the storage interface for pixelmint and provides
// SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the persistence interface for accounts, transactions and usage events.
//
// The balance and settlement operations are the only pieces of cross-request
// shared state; both are implemented as single conditional updates at the
// storage layer so concurrent callers can never overspend a balance or
// double-settle a transaction.
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, a *Account) error
	GetAccountByID(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByExternalID(ctx context.Context, externalID string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)

	// DebitBalance atomically decrements the balance by amount, guarded by
	// balance >= amount. Returns the new balance and whether the guard held.
	// ok == false means the account is missing or the balance was too low;
	// the balance is never driven below zero.
	DebitBalance(ctx context.Context, accountID string, amount int) (balance int, ok bool, err error)

	// CreditBalance atomically increments the balance by amount. ok == false
	// means the account does not exist.
	CreditBalance(ctx context.Context, accountID string, amount int) (balance int, ok bool, err error)

	// Transactions
	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	ListTransactionsByAccount(ctx context.Context, accountID string) ([]Transaction, error)

	// SettleTransaction flips settled false→true and credits the owning
	// account with the transaction's credit quantity in a single storage
	// transaction. Returns (nil, false, nil) when the id is unknown,
	// (tx, false, nil) when the transaction was already settled, and
	// (tx, true, nil) when this call performed the settlement.
	SettleTransaction(ctx context.Context, id string) (*Transaction, bool, error)

	// Usage events
	LogUsageEvent(ctx context.Context, ev *UsageEvent) error
	ListUsageEvents(ctx context.Context, accountID string, limit, offset int) ([]UsageEvent, error)
	PurgeOldUsageEvents(ctx context.Context, before time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Account represents a registered account and its credit balance.
type Account struct {
	ID            string    `json:"id"`
	ExternalID    string    `json:"external_id,omitempty"` // federated subject or empty
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	CreditBalance int       `json:"credit_balance"`
	CreatedAt     time.Time `json:"created_at"`
}

// Transaction represents one credit-purchase intent. Settled transitions
// false→true at most once; after that no balance mutation may be attributed
// to this transaction id.
type Transaction struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Plan      string    `json:"plan"`
	Amount    int       `json:"amount"`  // monetary amount in whole currency units
	Credits   int       `json:"credits"` // credit quantity granted on settlement
	Settled   bool      `json:"settled"`
	CreatedAt time.Time `json:"created_at"`
	SettledAt time.Time `json:"settled_at,omitzero"`
}

// UsageEvent is an append-only record of a metered call or a ledger mutation.
type UsageEvent struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Kind      string          `json:"kind"` // "generate", "moderate", "settlement", "grant"
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
