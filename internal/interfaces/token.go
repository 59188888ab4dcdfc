package interfaces

import (
	"context"

	"llm-trading-gateway/internal/types"
)

// TokenSource serves valid brokerage access tokens to callers.
type TokenSource interface {
	// Token returns a currently-unexpired access token, refreshing first
	// when the stored one is inside the safety margin.
	Token(ctx context.Context) (string, error)

	// Refresh exchanges the current refresh token for a new pair and
	// persists it. Safe under concurrent calls from multiple replicas:
	// losers of the store race adopt the winner's credential.
	Refresh(ctx context.Context) (types.Credential, error)

	// Seed installs the first credential after an interactive OAuth
	// completion (admin flow).
	Seed(ctx context.Context, cred types.Credential, force bool) error

	// Status reports credential freshness for introspection endpoints.
	Status(ctx context.Context) types.CredentialStatus
}

// TokenExchanger is the brokerage OAuth endpoint. Exchange consumes the
// given refresh token and returns a fresh access+refresh pair.
type TokenExchanger interface {
	Exchange(ctx context.Context, refreshToken string) (types.Credential, error)
}
