package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pixelmint-ai/pixelmint/internal/store"
)

// FederatedProvider validates tokens issued by an external identity provider
// using its published JWKS. Accounts are provisioned on first successful
// federated login and keyed by the token's subject claim.
type FederatedProvider struct {
	issuer        string
	jwks          keyfunc.Keyfunc
	store         store.Store
	signupCredits int
}

// NewFederatedProvider creates a FederatedProvider that fetches JWKS from the issuer.
func NewFederatedProvider(issuer string, s store.Store, signupCredits int) (*FederatedProvider, error) {
	if issuer == "" {
		return nil, fmt.Errorf("federated issuer URL is required")
	}

	jwksURL := issuer + "/.well-known/jwks.json"
	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &FederatedProvider{
		issuer:        issuer,
		jwks:          jwks,
		store:         s,
		signupCredits: signupCredits,
	}, nil
}

// ValidateToken parses a federated JWT and returns the identity of the local
// account it maps to, creating the account on first login.
func (p *FederatedProvider) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.Parse(tokenStr, p.jwks.KeyfuncCtx(ctx),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthenticated
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrUnauthenticated
	}

	a, err := p.store.GetAccountByExternalID(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("resolve federated account: %w", err)
	}
	if a == nil {
		a, err = p.provision(ctx, sub, claims)
		if err != nil {
			return nil, fmt.Errorf("provision federated account: %w", err)
		}
	}

	return &Identity{AccountID: a.ID, Name: a.Name, Email: a.Email}, nil
}

// provision creates a local account for a federated subject seen for the
// first time.
func (p *FederatedProvider) provision(ctx context.Context, sub string, claims jwt.MapClaims) (*store.Account, error) {
	name := claimStr(claims, "name")
	if name == "" {
		name = claimStr(claims, "email")
	}
	if name == "" {
		name = sub
	}

	a := &store.Account{
		ID:            uuid.New().String(),
		ExternalID:    sub,
		Name:          name,
		Email:         claimStr(claims, "email"),
		CreditBalance: p.signupCredits,
		CreatedAt:     time.Now(),
	}
	if err := p.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// claimStr extracts a string claim or returns "".
func claimStr(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}

// Name returns the provider name.
func (p *FederatedProvider) Name() string { return "federated" }
