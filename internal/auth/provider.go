package auth

import (
	"context"
)

// Identity is the resolved account identity handed to the metered core.
type Identity struct {
	AccountID string // internal account id
	Name      string
	Email     string
}

// Provider validates bearer credentials and returns identities.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
	Name() string
}

// LoginProvider is implemented by providers that support email/password
// registration and login.
type LoginProvider interface {
	Register(ctx context.Context, name, email, password string) (*Session, error)
	Login(ctx context.Context, email, password string) (*Session, error)
}

// Session is the result of a successful registration or login.
type Session struct {
	Token     string
	AccountID string
	Name      string
	Email     string
}
