package tokenobs

import (
	"context"

	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/logger"
	"llm-trading-gateway/internal/trace"
	"llm-trading-gateway/internal/types"
)

// observableTokenSource wraps a TokenSource with observability (logging & tracing)
type observableTokenSource struct {
	source interfaces.TokenSource
}

// Compile-time interface check
var _ interfaces.TokenSource = (*observableTokenSource)(nil)

// Wrap wraps a token source with observability middleware
func Wrap(source interfaces.TokenSource) interfaces.TokenSource {
	return &observableTokenSource{source: source}
}

// Token returns a valid access token with observability
func (ots *observableTokenSource) Token(ctx context.Context) (string, error) {
	ctx, span := trace.StartSpan(ctx, "token.Token")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching access token")

	tok, err := ots.source.Token(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to obtain access token", err)
		return "", err
	}

	logger.DebugSkip(ctx, 1, "Access token obtained")
	return tok, nil
}

// Refresh rotates the credential with observability
func (ots *observableTokenSource) Refresh(ctx context.Context) (types.Credential, error) {
	ctx, span := trace.StartSpan(ctx, "token.Refresh")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Refreshing credential")

	cred, err := ots.source.Refresh(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Credential refresh failed", err)
		return types.Credential{}, err
	}

	logger.InfoSkip(ctx, 1, "Credential refreshed",
		"version", cred.Version,
		"access_expires_at", cred.AccessExpiresAt,
	)
	return cred, nil
}

// Seed installs the first credential with observability
func (ots *observableTokenSource) Seed(ctx context.Context, cred types.Credential, force bool) error {
	ctx, span := trace.StartSpan(ctx, "token.Seed")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Seeding credential", "force", force)

	if err := ots.source.Seed(ctx, cred, force); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Credential seed failed", err, "force", force)
		return err
	}

	logger.InfoSkip(ctx, 1, "Credential seeded")
	return nil
}

// Status reports credential freshness with observability
func (ots *observableTokenSource) Status(ctx context.Context) types.CredentialStatus {
	ctx, span := trace.StartSpan(ctx, "token.Status")
	defer span.End()

	status := ots.source.Status(ctx)
	logger.DebugSkip(ctx, 1, "Credential status read",
		"seeded", status.Seeded,
		"refresh_expired", status.RefreshExpired,
	)
	return status
}
