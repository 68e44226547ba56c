package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pixelmint-ai/pixelmint/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s), s
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

func TestCheckAndReserve(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	a := createAccount(t, s, 3)

	res, err := l.CheckAndReserve(ctx, a.ID)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if res.Balance != 3 {
		t.Errorf("reservation balance: got %d, want 3", res.Balance)
	}

	// Reservation is read-only: the balance must be unchanged.
	got, _ := s.GetAccountByID(ctx, a.ID)
	if got.CreditBalance != 3 {
		t.Errorf("balance after reserve: got %d, want 3", got.CreditBalance)
	}
}

func TestCheckAndReserveRejections(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	broke := createAccount(t, s, 0)

	if _, err := l.CheckAndReserve(ctx, broke.ID); !errors.Is(err, ErrInsufficientCredit) {
		t.Errorf("zero balance: got %v, want ErrInsufficientCredit", err)
	}
	if _, err := l.CheckAndReserve(ctx, "nope"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("missing account: got %v, want ErrAccountNotFound", err)
	}
}

func TestCommitDebit(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	a := createAccount(t, s, 2)

	balance, err := l.CommitDebit(ctx, a.ID, 1)
	if err != nil {
		t.Fatalf("CommitDebit: %v", err)
	}
	if balance != 1 {
		t.Errorf("balance: got %d, want 1", balance)
	}

	if _, err := l.CommitDebit(ctx, a.ID, 1); err != nil {
		t.Fatalf("CommitDebit to zero: %v", err)
	}

	balance, err = l.CommitDebit(ctx, a.ID, 1)
	if !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("CommitDebit at zero: got %v, want ErrInsufficientCredit", err)
	}
	if balance != 0 {
		t.Errorf("balance carried with rejection: got %d, want 0", balance)
	}

	if _, err := l.CommitDebit(ctx, "nope", 1); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("missing account: got %v, want ErrAccountNotFound", err)
	}
}

// Two requests can both pass the reserve check on a balance of one; only one
// commit may win.
func TestReserveCommitRace(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	a := createAccount(t, s, 1)

	// Both reservations succeed against the same balance.
	if _, err := l.CheckAndReserve(ctx, a.ID); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if _, err := l.CheckAndReserve(ctx, a.ID); err != nil {
		t.Fatalf("second reserve: %v", err)
	}

	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.CommitDebit(ctx, a.ID, 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	won := 0
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrInsufficientCredit):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("commits won: got %d, want exactly 1", won)
	}

	got, _ := s.GetAccountByID(ctx, a.ID)
	if got.CreditBalance != 0 {
		t.Errorf("final balance: got %d, want 0", got.CreditBalance)
	}
}

func TestCredit(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	a := createAccount(t, s, 5)

	balance, err := l.Credit(ctx, a.ID, 100)
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if balance != 105 {
		t.Errorf("balance: got %d, want 105", balance)
	}

	if _, err := l.Credit(ctx, "nope", 100); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("missing account: got %v, want ErrAccountNotFound", err)
	}
}

func TestBalance(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	a := createAccount(t, s, 7)

	balance, err := l.Balance(ctx, a.ID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 7 {
		t.Errorf("balance: got %d, want 7", balance)
	}

	if _, err := l.Balance(ctx, "nope"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("missing account: got %v, want ErrAccountNotFound", err)
	}
}
