package metered

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pixelmint-ai/pixelmint/internal/classify"
	"github.com/pixelmint-ai/pixelmint/internal/ledger"
	"github.com/pixelmint-ai/pixelmint/internal/provider"
	"github.com/pixelmint-ai/pixelmint/internal/store"
)

type stubGeneration struct {
	image string
	err   error
	calls int
}

func (g *stubGeneration) Generate(ctx context.Context, prompt, style string) (string, error) {
	g.calls++
	return g.image, g.err
}

type stubModeration struct {
	scores *classify.Scores
	err    error
	calls  int
}

func (m *stubModeration) Check(ctx context.Context, in provider.ModerationInput) (*classify.Scores, error) {
	m.calls++
	return m.scores, m.err
}

func newTestService(t *testing.T, gen GenerationProvider, mod ModerationProvider) (*Service, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(s, ledger.New(s), gen, mod, "Sightengine", logger), s
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

func balance(t *testing.T, s *store.SQLiteStore, id string) int {
	t.Helper()
	a, err := s.GetAccountByID(context.Background(), id)
	if err != nil || a == nil {
		t.Fatalf("GetAccountByID: %v, %+v", err, a)
	}
	return a.CreditBalance
}

func TestGenerateDebitsOnSuccess(t *testing.T) {
	gen := &stubGeneration{image: "data:image/png;base64,aGk="}
	svc, s := newTestService(t, gen, &stubModeration{})
	a := createAccount(t, s, 3)

	res, err := svc.Generate(context.Background(), a.ID, "a red fox", "anime")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Image != gen.image {
		t.Errorf("image: got %q, want %q", res.Image, gen.image)
	}
	if res.Balance != 2 {
		t.Errorf("result balance: got %d, want 2", res.Balance)
	}
	if got := balance(t, s, a.ID); got != 2 {
		t.Errorf("stored balance: got %d, want 2", got)
	}

	// One usage event recorded.
	events, _ := s.ListUsageEvents(context.Background(), a.ID, 10, 0)
	if len(events) != 1 || events[0].Kind != "generate" {
		t.Errorf("usage events: got %+v, want one generate event", events)
	}
}

func TestGenerateNoDebitOnProviderFailure(t *testing.T) {
	gen := &stubGeneration{err: provider.ErrTimeout}
	svc, s := newTestService(t, gen, &stubModeration{})
	a := createAccount(t, s, 3)

	_, err := svc.Generate(context.Background(), a.ID, "a red fox", "anime")
	if !errors.Is(err, provider.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if got := balance(t, s, a.ID); got != 3 {
		t.Errorf("balance after failed call: got %d, want 3 (no debit)", got)
	}
}

func TestGenerateRejectsEmptyBalanceBeforeProviderCall(t *testing.T) {
	gen := &stubGeneration{image: "data:image/png;base64,aGk="}
	svc, s := newTestService(t, gen, &stubModeration{})
	a := createAccount(t, s, 0)

	_, err := svc.Generate(context.Background(), a.ID, "a red fox", "anime")
	if !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("got %v, want ErrInsufficientCredit", err)
	}
	if gen.calls != 0 {
		t.Errorf("provider called %d times on empty balance, want 0", gen.calls)
	}
}

func TestGenerateInvalidInput(t *testing.T) {
	gen := &stubGeneration{}
	svc, s := newTestService(t, gen, &stubModeration{})
	a := createAccount(t, s, 3)

	for _, tc := range []struct{ prompt, style string }{
		{"", "anime"},
		{"a red fox", ""},
	} {
		if _, err := svc.Generate(context.Background(), a.ID, tc.prompt, tc.style); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("(%q, %q): got %v, want ErrInvalidInput", tc.prompt, tc.style, err)
		}
	}
	if gen.calls != 0 {
		t.Errorf("provider called on invalid input")
	}
	if got := balance(t, s, a.ID); got != 3 {
		t.Errorf("balance: got %d, want 3", got)
	}
}

func TestGenerateUnknownAccount(t *testing.T) {
	svc, _ := newTestService(t, &stubGeneration{}, &stubModeration{})

	if _, err := svc.Generate(context.Background(), "nope", "x", "y"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Errorf("got %v, want ErrAccountNotFound", err)
	}
}

func TestModerate(t *testing.T) {
	raw := 0.9
	mod := &stubModeration{scores: &classify.Scores{Raw: &raw}}
	svc, s := newTestService(t, &stubGeneration{}, mod)
	a := createAccount(t, s, 2)

	res, err := svc.Moderate(context.Background(), a.ID, provider.ModerationInput{
		Media:    []byte("fake"),
		Filename: "pic.jpg",
	})
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if res.Verdict.Status != "Nudity" || res.Verdict.Category != classify.CategoryNude {
		t.Errorf("verdict: got %+v", res.Verdict)
	}
	if res.Verdict.Percentage != 90 {
		t.Errorf("percentage: got %d, want 90", res.Verdict.Percentage)
	}
	if res.Verdict.APIUsed != "Sightengine" {
		t.Errorf("api used: got %q", res.Verdict.APIUsed)
	}
	if res.Balance != 1 {
		t.Errorf("balance: got %d, want 1", res.Balance)
	}
}

func TestModerateNoDebitOnProviderFailure(t *testing.T) {
	mod := &stubModeration{err: provider.ErrBadUpstream}
	svc, s := newTestService(t, &stubGeneration{}, mod)
	a := createAccount(t, s, 2)

	_, err := svc.Moderate(context.Background(), a.ID, provider.ModerationInput{URL: "https://example.com/p.png"})
	if !errors.Is(err, provider.ErrBadUpstream) {
		t.Fatalf("got %v, want ErrBadUpstream", err)
	}
	if got := balance(t, s, a.ID); got != 2 {
		t.Errorf("balance: got %d, want 2 (no debit)", got)
	}
}

func TestModerateInvalidInput(t *testing.T) {
	mod := &stubModeration{}
	svc, s := newTestService(t, &stubGeneration{}, mod)
	a := createAccount(t, s, 2)

	if _, err := svc.Moderate(context.Background(), a.ID, provider.ModerationInput{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
	if mod.calls != 0 {
		t.Error("provider called on invalid input")
	}
}
