// Package payment turns purchases into credited balance: checkout initiation
// creates an unsettled transaction, and the reconciler converts a payment
// confirmation into a one-time credit grant.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pixelmint-ai/pixelmint/internal/store"
)

var (
	ErrPlanNotFound    = errors.New("plan not found")
	ErrAccountNotFound = errors.New("account not found")
)

// Processor creates hosted checkout sessions with the payment provider.
// Concrete payment integrations implement this interface.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, tx *store.Transaction, currency, returnURL string) (string, error)
}

// HostedProcessor is a Processor that redirects to a hosted payment page,
// carrying the transaction reference in the query string. The page reports
// the outcome back through the payment-confirmation callback.
type HostedProcessor struct {
	baseURL string
}

// NewHostedProcessor creates a HostedProcessor for the given checkout page.
func NewHostedProcessor(baseURL string) *HostedProcessor {
	return &HostedProcessor{baseURL: baseURL}
}

func (p *HostedProcessor) CreateCheckoutSession(ctx context.Context, tx *store.Transaction, currency, returnURL string) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse checkout url: %w", err)
	}
	q := u.Query()
	q.Set("transaction_id", tx.ID)
	q.Set("amount", strconv.Itoa(tx.Amount))
	q.Set("currency", currency)
	if returnURL != "" {
		q.Set("return_url", returnURL)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CheckoutSession is the result of a checkout initiation.
type CheckoutSession struct {
	TransactionID string `json:"transaction_id"`
	URL           string `json:"checkout_url"`
}

// Checkout initiates credit purchases.
type Checkout struct {
	store     store.Store
	processor Processor
	currency  string
	returnURL string
}

// NewCheckout creates a Checkout service.
func NewCheckout(s store.Store, p Processor, currency, returnURL string) *Checkout {
	return &Checkout{store: s, processor: p, currency: currency, returnURL: returnURL}
}

// Create records an unsettled transaction for the plan and returns the
// checkout redirect. The transaction is only converted into balance by the
// reconciler once the processor confirms payment.
func (c *Checkout) Create(ctx context.Context, accountID, planID string) (*CheckoutSession, error) {
	plan, ok := GetPlan(planID)
	if !ok {
		return nil, ErrPlanNotFound
	}

	a, err := c.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}

	tx := &store.Transaction{
		ID:        uuid.New().String(),
		AccountID: a.ID,
		Plan:      plan.ID,
		Amount:    plan.Amount,
		Credits:   plan.Credits,
		CreatedAt: time.Now(),
	}
	if err := c.store.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	checkoutURL, err := c.processor.CreateCheckoutSession(ctx, tx, c.currency, c.returnURL)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &CheckoutSession{TransactionID: tx.ID, URL: checkoutURL}, nil
}
