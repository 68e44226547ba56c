// Package metered orchestrates one metered provider call: reserve a credit,
// invoke the provider, classify if needed, and debit only on success.
package metered

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pixelmint-ai/pixelmint/internal/classify"
	"github.com/pixelmint-ai/pixelmint/internal/ledger"
	"github.com/pixelmint-ai/pixelmint/internal/provider"
	"github.com/pixelmint-ai/pixelmint/internal/store"
)

var ErrInvalidInput = errors.New("invalid input")

// GenerationProvider produces an image data URI from a prompt and style.
type GenerationProvider interface {
	Generate(ctx context.Context, prompt, style string) (string, error)
}

// ModerationProvider scores an image for moderation.
type ModerationProvider interface {
	Check(ctx context.Context, in provider.ModerationInput) (*classify.Scores, error)
}

// GenerateResult is the success payload of a generation request.
type GenerateResult struct {
	Image   string `json:"image"` // data URI
	Balance int    `json:"balance"`
}

// ModerateResult is the success payload of a moderation request.
type ModerateResult struct {
	Verdict classify.Verdict `json:"verdict"`
	Balance int              `json:"balance"`
}

// Service runs metered operations against the ledger and the providers.
//
// Each request walks reserve → invoke → (classify) → debit. The reserve
// check rejects empty balances before any provider quota is spent; the debit
// happens only after provider success, so a failed or timed-out call never
// costs a credit. The debit itself is conditional, which closes the race
// where two concurrent requests both pass the reserve check on a balance
// of one.
type Service struct {
	store          store.Store
	ledger         *ledger.Ledger
	generation     GenerationProvider
	moderation     ModerationProvider
	moderationName string // provider name surfaced in verdicts
	logger         *slog.Logger
}

// NewService creates a metered-operation service.
func NewService(s store.Store, l *ledger.Ledger, gen GenerationProvider, mod ModerationProvider, moderationName string, logger *slog.Logger) *Service {
	return &Service{
		store:          s,
		ledger:         l,
		generation:     gen,
		moderation:     mod,
		moderationName: moderationName,
		logger:         logger.With("component", "metered"),
	}
}

// Generate runs one metered image-generation request.
func (s *Service) Generate(ctx context.Context, accountID, prompt, style string) (*GenerateResult, error) {
	if prompt == "" || style == "" {
		return nil, fmt.Errorf("%w: prompt and style are required", ErrInvalidInput)
	}

	res, err := s.ledger.CheckAndReserve(ctx, accountID)
	if err != nil {
		return nil, err
	}

	image, err := s.generation.Generate(ctx, prompt, style)
	if err != nil {
		// No debit: the reservation is simply discarded.
		s.logger.Warn("generation failed", "account", accountID, "error", err)
		return nil, err
	}

	balance, err := s.ledger.CommitDebit(ctx, res.AccountID, 1)
	if err != nil {
		return nil, err
	}

	s.logUsage(ctx, accountID, "generate", fmt.Sprintf(`{"style":%q}`, style))
	s.logger.Info("image generated", "account", accountID, "balance", balance)

	return &GenerateResult{Image: image, Balance: balance}, nil
}

// Moderate runs one metered image-moderation request.
func (s *Service) Moderate(ctx context.Context, accountID string, in provider.ModerationInput) (*ModerateResult, error) {
	if in.URL == "" && len(in.Media) == 0 {
		return nil, fmt.Errorf("%w: image or url is required", ErrInvalidInput)
	}

	res, err := s.ledger.CheckAndReserve(ctx, accountID)
	if err != nil {
		return nil, err
	}

	scores, err := s.moderation.Check(ctx, in)
	if err != nil {
		s.logger.Warn("moderation failed", "account", accountID, "error", err)
		return nil, err
	}

	verdict := classify.Classify(*scores, s.moderationName)

	balance, err := s.ledger.CommitDebit(ctx, res.AccountID, 1)
	if err != nil {
		return nil, err
	}

	s.logUsage(ctx, accountID, "moderate", fmt.Sprintf(`{"status":%q,"category":%q}`, verdict.Status, verdict.Category))
	s.logger.Info("image moderated",
		"account", accountID, "status", verdict.Status, "category", verdict.Category, "balance", balance)

	return &ModerateResult{Verdict: verdict, Balance: balance}, nil
}

func (s *Service) logUsage(ctx context.Context, accountID, kind, detail string) {
	if err := s.store.LogUsageEvent(ctx, &store.UsageEvent{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Kind:      kind,
		Detail:    json.RawMessage(detail),
		CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Warn("failed to log usage event", "kind", kind, "error", err)
	}
}
