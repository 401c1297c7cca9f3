package auth

import (
	"context"

	"ads-console/internal/config"
)

// Identity is the acting operator recorded on every audit record.
type Identity struct {
	UserID    string
	AccountID string
	Role      string
}

// Credentials are the opaque tokens presented to the external ads platform.
// Refresh and storage of the OAuth token are the responsibility of the
// upstream auth collaborator; this process only forwards what it was given.
type Credentials struct {
	DeveloperToken  string
	LoginCustomerID string
}

// Provider supplies the authenticated operator identity and API credentials.
type Provider interface {
	CurrentActor(ctx context.Context) (Identity, error)
	Credentials() Credentials
}

// ContextProvider reads the actor from request context (populated by the JWT
// middleware) and serves static platform credentials from config.
type ContextProvider struct {
	creds Credentials
}

func NewContextProvider(cfg config.AdsConfig) *ContextProvider {
	return &ContextProvider{creds: Credentials{
		DeveloperToken:  cfg.DeveloperToken,
		LoginCustomerID: cfg.LoginCustomerID,
	}}
}

func (p *ContextProvider) CurrentActor(ctx context.Context) (Identity, error) {
	uid, err := UserID(ctx)
	if err != nil {
		return Identity{}, err
	}
	aid, err := AccountID(ctx)
	if err != nil {
		return Identity{}, err
	}
	role, err := Role(ctx)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: uid, AccountID: aid, Role: role}, nil
}

func (p *ContextProvider) Credentials() Credentials { return p.creds }
