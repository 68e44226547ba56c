package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pixelmint-ai/pixelmint/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createAccount(t *testing.T, s *store.SQLiteStore, balance int) *store.Account {
	t.Helper()
	a := &store.Account{
		ID:            uuid.New().String(),
		Name:          "Test",
		Email:         uuid.New().String() + "@example.com",
		CreditBalance: balance,
		CreatedAt:     time.Now(),
	}
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return a
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetPlan(t *testing.T) {
	p, ok := GetPlan("Basic")
	if !ok {
		t.Fatal("Basic plan missing")
	}
	if p.Credits != 100 || p.Amount != 49 {
		t.Errorf("Basic: got %+v, want 100 credits for 49", p)
	}
	if _, ok := GetPlan("Enterprise"); ok {
		t.Error("unknown plan should not resolve")
	}
}

func TestCheckoutCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s, 0)

	co := NewCheckout(s, NewHostedProcessor("https://pay.example.com/checkout"), "inr", "https://app.example.com/done")

	sess, err := co.Create(ctx, a.ID, "Advanced")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.TransactionID == "" {
		t.Fatal("empty transaction id")
	}

	// The transaction is recorded unsettled with the plan's terms.
	tx, err := s.GetTransaction(ctx, sess.TransactionID)
	if err != nil || tx == nil {
		t.Fatalf("GetTransaction: %v, %+v", err, tx)
	}
	if tx.Settled {
		t.Error("checkout transaction must start unsettled")
	}
	if tx.Credits != 250 || tx.Amount != 99 {
		t.Errorf("transaction terms: got %d credits / %d, want 250 / 99", tx.Credits, tx.Amount)
	}

	// No credit before settlement.
	acc, _ := s.GetAccountByID(ctx, a.ID)
	if acc.CreditBalance != 0 {
		t.Errorf("balance after checkout: got %d, want 0", acc.CreditBalance)
	}

	// Redirect carries the transaction reference.
	u, err := url.Parse(sess.URL)
	if err != nil {
		t.Fatalf("parse checkout url: %v", err)
	}
	q := u.Query()
	if q.Get("transaction_id") != sess.TransactionID {
		t.Errorf("transaction_id param: got %q, want %q", q.Get("transaction_id"), sess.TransactionID)
	}
	if q.Get("amount") != "99" {
		t.Errorf("amount param: got %q, want %q", q.Get("amount"), "99")
	}
	if q.Get("currency") != "inr" {
		t.Errorf("currency param: got %q, want %q", q.Get("currency"), "inr")
	}
	if q.Get("return_url") != "https://app.example.com/done" {
		t.Errorf("return_url param: got %q", q.Get("return_url"))
	}
}

func TestCheckoutCreateRejections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s, 0)

	co := NewCheckout(s, NewHostedProcessor("https://pay.example.com/checkout"), "inr", "")

	if _, err := co.Create(ctx, a.ID, "Enterprise"); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("unknown plan: got %v, want ErrPlanNotFound", err)
	}
	if _, err := co.Create(ctx, "nope", "Basic"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("unknown account: got %v, want ErrAccountNotFound", err)
	}
}

func TestSettle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s, 5)

	co := NewCheckout(s, NewHostedProcessor("https://pay.example.com/checkout"), "inr", "")
	sess, err := co.Create(ctx, a.ID, "Basic")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r := NewReconciler(s, discardLogger())

	result, err := r.Settle(ctx, sess.TransactionID, true)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if result.Status != StatusSettled {
		t.Fatalf("status: got %q, want %q", result.Status, StatusSettled)
	}
	if result.Transaction == nil || result.Transaction.Credits != 100 {
		t.Fatalf("transaction: got %+v", result.Transaction)
	}

	acc, _ := s.GetAccountByID(ctx, a.ID)
	if acc.CreditBalance != 105 {
		t.Errorf("balance after settle: got %d, want 105", acc.CreditBalance)
	}
}

func TestSettleIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s, 0)

	co := NewCheckout(s, NewHostedProcessor("https://pay.example.com/checkout"), "inr", "")
	sess, err := co.Create(ctx, a.ID, "Premium")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r := NewReconciler(s, discardLogger())

	if _, err := r.Settle(ctx, sess.TransactionID, true); err != nil {
		t.Fatalf("first settle: %v", err)
	}

	// Webhook redelivery: benign, no second credit.
	result, err := r.Settle(ctx, sess.TransactionID, true)
	if err != nil {
		t.Fatalf("replayed settle: %v", err)
	}
	if result.Status != StatusAlreadySettled {
		t.Fatalf("replay status: got %q, want %q", result.Status, StatusAlreadySettled)
	}

	acc, _ := s.GetAccountByID(ctx, a.ID)
	if acc.CreditBalance != 2500 {
		t.Errorf("balance after replay: got %d, want 2500", acc.CreditBalance)
	}
}

func TestSettleFailedPayment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s, 0)

	co := NewCheckout(s, NewHostedProcessor("https://pay.example.com/checkout"), "inr", "")
	sess, err := co.Create(ctx, a.ID, "Basic")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r := NewReconciler(s, discardLogger())

	result, err := r.Settle(ctx, sess.TransactionID, false)
	if err != nil {
		t.Fatalf("Settle(confirmed=false): %v", err)
	}
	if result.Status != StatusPaymentFailed {
		t.Fatalf("status: got %q, want %q", result.Status, StatusPaymentFailed)
	}

	// Unconfirmed payments leave everything untouched; the transaction can
	// still settle later.
	tx, _ := s.GetTransaction(ctx, sess.TransactionID)
	if tx.Settled {
		t.Error("failed payment must not settle the transaction")
	}
	acc, _ := s.GetAccountByID(ctx, a.ID)
	if acc.CreditBalance != 0 {
		t.Errorf("balance: got %d, want 0", acc.CreditBalance)
	}
}

func TestSettleUnknownTransaction(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s, discardLogger())

	if _, err := r.Settle(context.Background(), "nope", true); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("got %v, want ErrTransactionNotFound", err)
	}
}
