package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pixelmint-ai/pixelmint/internal/store"
)

var ErrTransactionNotFound = errors.New("transaction not found")

// SettlementStatus describes the outcome of a settlement attempt.
type SettlementStatus string

const (
	StatusSettled        SettlementStatus = "settled"
	StatusAlreadySettled SettlementStatus = "already_settled"
	StatusPaymentFailed  SettlementStatus = "payment_failed"
)

// SettlementResult reports what a Settle call did.
type SettlementResult struct {
	Status      SettlementStatus
	Transaction *store.Transaction // nil for payment_failed
}

// Reconciler converts payment confirmations into one-time credit grants.
type Reconciler struct {
	store  store.Store
	logger *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(s store.Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: s, logger: logger.With("component", "payment")}
}

// Settle finalizes a transaction. Confirmations may be re-delivered: the
// settled-flag transition and the credit are one storage transaction, so a
// transaction id credits its account exactly once no matter how many times or
// how concurrently this is called. An already-settled id is a benign
// idempotent result, not an error.
func (r *Reconciler) Settle(ctx context.Context, transactionID string, confirmed bool) (*SettlementResult, error) {
	if !confirmed {
		r.logger.Info("payment not confirmed", "transaction", transactionID)
		return &SettlementResult{Status: StatusPaymentFailed}, nil
	}

	tx, settled, err := r.store.SettleTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("settle transaction: %w", err)
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	if !settled {
		r.logger.Info("settlement replay ignored", "transaction", transactionID)
		return &SettlementResult{Status: StatusAlreadySettled, Transaction: tx}, nil
	}

	r.logger.Info("transaction settled",
		"transaction", tx.ID, "account", tx.AccountID, "plan", tx.Plan, "credits", tx.Credits)

	if err := r.store.LogUsageEvent(ctx, &store.UsageEvent{
		ID:        uuid.New().String(),
		AccountID: tx.AccountID,
		Kind:      "settlement",
		Detail:    json.RawMessage(fmt.Sprintf(`{"transaction":%q,"plan":%q,"credits":%d}`, tx.ID, tx.Plan, tx.Credits)),
		CreatedAt: time.Now(),
	}); err != nil {
		r.logger.Warn("failed to log usage event", "kind", "settlement", "error", err)
	}

	return &SettlementResult{Status: StatusSettled, Transaction: tx}, nil
}
