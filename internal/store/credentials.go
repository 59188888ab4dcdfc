package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/types"
)

// CredentialStore persists one versioned credential row per account in
// Postgres. All writes are conditional on the version the writer observed,
// which keeps concurrent replicas from double-consuming a refresh token.
type CredentialStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ interfaces.CredentialStore = (*CredentialStore)(nil)

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db, now: time.Now}
}

func (s *CredentialStore) Load(ctx context.Context, accountKey string) (types.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, issued_at, access_expires_at, refresh_expires_at, version
		FROM broker_credentials WHERE account_key = $1
	`, accountKey)

	var c types.Credential
	err := row.Scan(&c.AccessToken, &c.RefreshToken, &c.IssuedAt,
		&c.AccessExpiresAt, &c.RefreshExpiresAt, &c.Version)
	if err == sql.ErrNoRows {
		return types.Credential{}, ErrNotSeeded
	}
	if err != nil {
		return types.Credential{}, fmt.Errorf("failed to load credential: %w", err)
	}
	return c, nil
}

func (s *CredentialStore) CompareAndSwap(ctx context.Context, accountKey string, expectedVersion int64, cred types.Credential) (types.Credential, error) {
	cred.Version = expectedVersion + 1

	res, err := s.db.ExecContext(ctx, `
		UPDATE broker_credentials
		SET access_token = $1, refresh_token = $2, issued_at = $3,
			access_expires_at = $4, refresh_expires_at = $5,
			version = $6, updated_at = NOW()
		WHERE account_key = $7 AND version = $8
	`, cred.AccessToken, cred.RefreshToken, cred.IssuedAt,
		cred.AccessExpiresAt, cred.RefreshExpiresAt,
		cred.Version, accountKey, expectedVersion)
	if err != nil {
		return types.Credential{}, fmt.Errorf("failed to update credential: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return types.Credential{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return types.Credential{}, ErrVersionConflict
	}
	return cred, nil
}

func (s *CredentialStore) Seed(ctx context.Context, accountKey string, cred types.Credential, force bool) (types.Credential, error) {
	if !force {
		existing, err := s.Load(ctx, accountKey)
		if err == nil && !existing.RefreshExpired(s.now()) {
			return types.Credential{}, ErrAlreadySeeded
		}
		if err != nil && err != ErrNotSeeded {
			return types.Credential{}, err
		}
	}

	cred.Version = 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO broker_credentials
			(account_key, access_token, refresh_token, issued_at, access_expires_at, refresh_expires_at, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (account_key) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			issued_at = EXCLUDED.issued_at,
			access_expires_at = EXCLUDED.access_expires_at,
			refresh_expires_at = EXCLUDED.refresh_expires_at,
			version = broker_credentials.version + 1,
			updated_at = NOW()
	`, accountKey, cred.AccessToken, cred.RefreshToken, cred.IssuedAt,
		cred.AccessExpiresAt, cred.RefreshExpiresAt, cred.Version)
	if err != nil {
		return types.Credential{}, fmt.Errorf("failed to seed credential: %w", err)
	}

	// Re-read so the caller sees the version the upsert actually produced.
	return s.Load(ctx, accountKey)
}
