package interfaces

import (
	"context"

	"llm-trading-gateway/internal/types"
)

// CredentialStore is durable, versioned persistence for one Credential row
// per account. Writers use CompareAndSwap so that concurrent replicas can
// never both consume a refresh token.
type CredentialStore interface {
	// Load returns the current credential for the account.
	// Returns ErrNotSeeded from the implementing package when no row exists.
	Load(ctx context.Context, accountKey string) (types.Credential, error)

	// CompareAndSwap writes cred only if the stored row is still at
	// expectedVersion. The stored version becomes expectedVersion+1.
	// A version conflict is reported as a distinct error so the caller can
	// re-read and adopt the winner.
	CompareAndSwap(ctx context.Context, accountKey string, expectedVersion int64, cred types.Credential) (types.Credential, error)

	// Seed installs the first credential. When force is false and a live
	// credential already exists the write is rejected.
	Seed(ctx context.Context, accountKey string, cred types.Credential, force bool) (types.Credential, error)
}

// ApprovalStore is durable persistence for approval-request records.
// Status transitions out of PENDING go through CompareAndSwapStatus, which
// is the gate's concurrency boundary across replicas.
type ApprovalStore interface {
	Create(ctx context.Context, req types.ApprovalRequest) error
	Get(ctx context.Context, id string) (types.ApprovalRequest, error)

	// CompareAndSwapStatus transitions id from expected to next, recording
	// decidedBy and the decision time. It fails with a distinct conflict
	// error when the row is no longer in the expected status.
	CompareAndSwapStatus(ctx context.Context, id string, expected, next types.ApprovalStatus, decidedBy string) (types.ApprovalRequest, error)

	// ListRecent returns the most recently created requests, newest first.
	ListRecent(ctx context.Context, n int) ([]types.ApprovalRequest, error)
}
