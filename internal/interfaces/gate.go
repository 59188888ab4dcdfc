package interfaces

import (
	"context"
	"time"

	"llm-trading-gateway/internal/types"
)

// Gate intercepts mutating actions and blocks them until a human decides
// or the request times out.
type Gate interface {
	// Request persists a new PENDING approval request and notifies the
	// decision transport. Notification failure does not fail the request.
	Request(ctx context.Context, action types.ActionDescriptor, requestedBy string, timeout time.Duration) (types.ApprovalRequest, error)

	// Await blocks until the request reaches a terminal status or ctx is
	// cancelled. On cancellation the request is marked CANCELLED if still
	// PENDING and ctx.Err() is returned.
	Await(ctx context.Context, id string) (types.ApprovalStatus, error)

	// Bypassed reports whether the operator-level bypass switch is on.
	Bypassed() bool
}

// DecisionRecorder is the transport-facing half of the gate: the entry
// point invoked when a human responds out of band.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, id string, decision types.ApprovalStatus, decidedBy string) error
}

// DecisionTransport delivers approval requests to a human and reports the
// decision back through a DecisionRecorder. Implementations wrap a chat
// platform or similar out-of-band channel.
type DecisionTransport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)

	// Notify delivers req to the configured approvers.
	Notify(ctx context.Context, req types.ApprovalRequest) error
}
