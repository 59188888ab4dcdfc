package approvalobs

import (
	"context"
	"time"

	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/logger"
	"llm-trading-gateway/internal/trace"
	"llm-trading-gateway/internal/types"
)

// observableGate wraps a Gate with observability (logging & tracing)
type observableGate struct {
	gate interfaces.Gate
}

// Compile-time interface check
var _ interfaces.Gate = (*observableGate)(nil)

// Wrap wraps an approval gate with observability middleware
func Wrap(gate interfaces.Gate) interfaces.Gate {
	return &observableGate{gate: gate}
}

// Request creates an approval request with observability
func (og *observableGate) Request(ctx context.Context, action types.ActionDescriptor, requestedBy string, timeout time.Duration) (types.ApprovalRequest, error) {
	ctx, span := trace.StartSpan(ctx, "approval.Request")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Creating approval request",
		"tool", action.Tool,
		"requested_by", requestedBy,
	)

	req, err := og.gate.Request(ctx, action, requestedBy, timeout)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to create approval request", err, "tool", action.Tool)
		return types.ApprovalRequest{}, err
	}

	logger.InfoSkip(ctx, 1, "Approval request created",
		"approval_id", req.ID,
		"expires_at", req.ExpiresAt,
	)
	return req, nil
}

// Await blocks for a decision with observability
func (og *observableGate) Await(ctx context.Context, id string) (types.ApprovalStatus, error) {
	ctx, span := trace.StartSpan(ctx, "approval.Await")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Awaiting approval decision", "approval_id", id)

	status, err := og.gate.Await(ctx, id)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Approval wait ended with error", err, "approval_id", id)
		return status, err
	}

	logger.InfoSkip(ctx, 1, "Approval resolved", "approval_id", id, "status", string(status))
	return status, nil
}

// Bypassed reports the bypass switch
func (og *observableGate) Bypassed() bool {
	return og.gate.Bypassed()
}
