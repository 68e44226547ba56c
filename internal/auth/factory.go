package auth

import (
	"fmt"

	"github.com/pixelmint-ai/pixelmint/internal/config"
	"github.com/pixelmint-ai/pixelmint/internal/store"
)

// NewProvider creates an auth Provider based on configuration.
func NewProvider(cfg config.AuthConfig, s store.Store) (Provider, error) {
	switch cfg.Provider {
	case "", "builtin":
		return NewService(s, cfg), nil
	case "federated":
		return NewFederatedProvider(cfg.FederatedIssuer, s, cfg.SignupCredits)
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}
}
