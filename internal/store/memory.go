package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/types"
)

// MemoryCredentialStore is an in-process CredentialStore with the same CAS
// semantics as the Postgres one. Used in DRY_RUN mode and tests.
type MemoryCredentialStore struct {
	mu   sync.Mutex
	rows map[string]types.Credential
	now  func() time.Time
}

var _ interfaces.CredentialStore = (*MemoryCredentialStore)(nil)

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		rows: make(map[string]types.Credential),
		now:  time.Now,
	}
}

func (s *MemoryCredentialStore) Load(ctx context.Context, accountKey string) (types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[accountKey]
	if !ok {
		return types.Credential{}, ErrNotSeeded
	}
	return c, nil
}

func (s *MemoryCredentialStore) CompareAndSwap(ctx context.Context, accountKey string, expectedVersion int64, cred types.Credential) (types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rows[accountKey]
	if !ok || current.Version != expectedVersion {
		return types.Credential{}, ErrVersionConflict
	}
	cred.Version = expectedVersion + 1
	s.rows[accountKey] = cred
	return cred, nil
}

func (s *MemoryCredentialStore) Seed(ctx context.Context, accountKey string, cred types.Credential, force bool) (types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.rows[accountKey]; ok {
		if !force && !current.RefreshExpired(s.now()) {
			return types.Credential{}, ErrAlreadySeeded
		}
		cred.Version = current.Version + 1
	} else {
		cred.Version = 1
	}
	s.rows[accountKey] = cred
	return cred, nil
}

// MemoryApprovalStore is an in-process ApprovalStore used in DRY_RUN mode
// and tests. Status transitions follow the same conditional-write rules as
// the Postgres store.
type MemoryApprovalStore struct {
	mu   sync.Mutex
	rows map[string]types.ApprovalRequest
	now  func() time.Time
}

var _ interfaces.ApprovalStore = (*MemoryApprovalStore)(nil)

func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{
		rows: make(map[string]types.ApprovalRequest),
		now:  time.Now,
	}
}

func (s *MemoryApprovalStore) Create(ctx context.Context, req types.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[req.ID] = req
	return nil
}

func (s *MemoryApprovalStore) Get(ctx context.Context, id string) (types.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.rows[id]
	if !ok {
		return types.ApprovalRequest{}, ErrRequestNotFound
	}
	return req, nil
}

func (s *MemoryApprovalStore) CompareAndSwapStatus(ctx context.Context, id string, expected, next types.ApprovalStatus, decidedBy string) (types.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.rows[id]
	if !ok {
		return types.ApprovalRequest{}, ErrRequestNotFound
	}
	if req.Status != expected {
		return types.ApprovalRequest{}, ErrStatusConflict
	}
	req.Status = next
	req.DecidedBy = decidedBy
	t := s.now()
	req.DecidedAt = &t
	s.rows[id] = req
	return req, nil
}

func (s *MemoryApprovalStore) ListRecent(ctx context.Context, n int) ([]types.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ApprovalRequest, 0, len(s.rows))
	for _, req := range s.rows {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}
