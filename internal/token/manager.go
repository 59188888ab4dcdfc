package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"llm-trading-gateway/internal/backoff"
	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/logger"
	"llm-trading-gateway/internal/store"
	"llm-trading-gateway/internal/types"
)

// Params configures a Manager.
type Params struct {
	AccountKey    string
	Margin        time.Duration // access-token safety margin before expiry
	CacheTTL      time.Duration // how long a loaded credential is trusted without a store read
	RetryAttempts int
	RetryPolicy   backoff.Policy
}

func (p *Params) defaults() {
	if p.AccountKey == "" {
		p.AccountKey = "default"
	}
	if p.Margin == 0 {
		p.Margin = 60 * time.Second
	}
	if p.CacheTTL == 0 {
		p.CacheTTL = 5 * time.Minute
	}
	if p.RetryAttempts == 0 {
		p.RetryAttempts = 3
	}
	if p.RetryPolicy == (backoff.Policy{}) {
		p.RetryPolicy = backoff.DefaultPolicy()
	}
}

// Manager maintains the single logical OAuth credential shared by all
// service replicas. Cross-replica coordination happens only through the
// credential store's version-checked writes; within a replica a mutex
// single-flights refreshes so concurrent callers share one exchange.
type Manager struct {
	store     interfaces.CredentialStore
	exchanger interfaces.TokenExchanger
	p         Params
	now       func() time.Time

	mu       chan struct{} // acquired for the whole load/exchange/persist cycle
	cached   types.Credential
	cachedAt time.Time
	hasCache bool
}

var _ interfaces.TokenSource = (*Manager)(nil)

func NewManager(credStore interfaces.CredentialStore, exchanger interfaces.TokenExchanger, p Params) *Manager {
	p.defaults()
	m := &Manager{
		store:     credStore,
		exchanger: exchanger,
		p:         p,
		now:       time.Now,
		mu:        make(chan struct{}, 1),
	}
	m.mu <- struct{}{}
	return m
}

// lock acquires the manager's critical section, honoring ctx.
func (m *Manager) lock(ctx context.Context) error {
	select {
	case <-m.mu:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) unlock() {
	m.mu <- struct{}{}
}

// Token returns a currently-unexpired access token, refreshing first when
// the credential is inside the safety margin.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if err := m.lock(ctx); err != nil {
		return "", err
	}

	now := m.now()
	if m.hasCache && now.Sub(m.cachedAt) < m.p.CacheTTL && !m.cached.AccessExpired(now, m.p.Margin) {
		tok := m.cached.AccessToken
		m.unlock()
		return tok, nil
	}

	cred, err := m.refreshLocked(ctx)
	m.unlock()
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// Refresh exchanges the current refresh token for a new pair and persists
// it. If another replica already refreshed, the winning credential is
// adopted without touching the OAuth endpoint. Refresh tokens rotate on
// use, so a duplicate exchange would invalidate the winner's token.
func (m *Manager) Refresh(ctx context.Context) (types.Credential, error) {
	if err := m.lock(ctx); err != nil {
		return types.Credential{}, err
	}
	defer m.unlock()
	return m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) (types.Credential, error) {
	now := m.now()

	// Check-then-refresh: always re-read the store first. Another replica
	// may have already rotated the credential.
	cur, err := m.store.Load(ctx, m.p.AccountKey)
	if errors.Is(err, store.ErrNotSeeded) {
		return types.Credential{}, ErrCredentialUnavailable
	}
	if err != nil {
		return types.Credential{}, err
	}

	if !cur.AccessExpired(now, m.p.Margin) {
		m.adopt(cur)
		return cur, nil
	}

	if cur.RefreshExpired(now) {
		return types.Credential{}, ErrRefreshTokenExpired
	}

	// From here the refresh runs to completion even if the original caller
	// goes away: a half-done exchange would strand the credential.
	detached := context.WithoutCancel(ctx)

	fresh, err := backoff.Retry(detached, m.p.RetryPolicy, m.p.RetryAttempts, IsTransient, func() (types.Credential, error) {
		return m.exchanger.Exchange(detached, cur.RefreshToken)
	})
	if err != nil {
		return types.Credential{}, fmt.Errorf("oauth refresh failed: %w", err)
	}

	saved, err := m.store.CompareAndSwap(detached, m.p.AccountKey, cur.Version, fresh)
	if errors.Is(err, store.ErrVersionConflict) {
		// Lost the cross-replica race. Adopt the winner; never re-exchange.
		winner, loadErr := m.store.Load(detached, m.p.AccountKey)
		if loadErr != nil {
			return types.Credential{}, loadErr
		}
		logger.TokenEvent(ctx, "refresh_race_lost", winner.Version, "account", m.p.AccountKey)
		m.adopt(winner)
		return winner, nil
	}
	if err != nil {
		return types.Credential{}, err
	}

	logger.TokenEvent(ctx, "refreshed", saved.Version, "account", m.p.AccountKey,
		"access_expires_at", saved.AccessExpiresAt)
	m.adopt(saved)
	return saved, nil
}

// Seed installs the first credential after an interactive OAuth completion.
func (m *Manager) Seed(ctx context.Context, cred types.Credential, force bool) error {
	if cred.AccessToken == "" || cred.RefreshToken == "" {
		return errors.New("seed credential must carry both tokens")
	}

	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	saved, err := m.store.Seed(ctx, m.p.AccountKey, cred, force)
	if err != nil {
		return err
	}

	logger.TokenEvent(ctx, "seeded", saved.Version, "account", m.p.AccountKey, "force", force)
	m.adopt(saved)
	return nil
}

// Status reports credential freshness without mutating anything.
func (m *Manager) Status(ctx context.Context) types.CredentialStatus {
	cred, err := m.store.Load(ctx, m.p.AccountKey)
	if err != nil {
		return types.CredentialStatus{Seeded: false}
	}
	return types.CredentialStatus{
		Seeded:           true,
		Version:          cred.Version,
		IssuedAt:         cred.IssuedAt,
		AccessExpiresAt:  cred.AccessExpiresAt,
		RefreshExpiresAt: cred.RefreshExpiresAt,
		RefreshExpired:   cred.RefreshExpired(m.now()),
	}
}

// adopt caches a credential for margin-window reuse. Caller holds the lock.
func (m *Manager) adopt(cred types.Credential) {
	m.cached = cred
	m.cachedAt = m.now()
	m.hasCache = true
}
