package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/logger"
	"llm-trading-gateway/internal/store"
	"llm-trading-gateway/internal/types"
)

// Params configures a Gate.
type Params struct {
	Approvers      []string
	DefaultTimeout time.Duration
	PollInterval   time.Duration // store poll backstop for cross-replica wake-ups
	Bypass         bool
}

func (p *Params) defaults() {
	if p.DefaultTimeout == 0 {
		p.DefaultTimeout = 600 * time.Second
	}
	if p.PollInterval == 0 {
		p.PollInterval = 2 * time.Second
	}
}

// Gate blocks state-mutating trading actions until a configured human
// approves them out of band, or the request times out. The requester side
// (Request/Await) and the transport side (RecordDecision) meet only through
// the approval store's conditional status transitions, so a decision is
// honored exactly once even when it arrives at a different replica than the
// one that asked, or after the asking replica is gone.
type Gate struct {
	store     interfaces.ApprovalStore
	transport interfaces.DecisionTransport
	p         Params
	approvers map[string]bool
	now       func() time.Time

	mu      sync.Mutex
	waiters map[string]chan types.ApprovalStatus
}

var (
	_ interfaces.Gate             = (*Gate)(nil)
	_ interfaces.DecisionRecorder = (*Gate)(nil)
)

// NewGate builds a gate. transport may be nil, in which case requests are
// only resolvable through the manual decision path or timeout.
func NewGate(approvalStore interfaces.ApprovalStore, transport interfaces.DecisionTransport, p Params) *Gate {
	p.defaults()
	approvers := make(map[string]bool, len(p.Approvers))
	for _, a := range p.Approvers {
		approvers[a] = true
	}
	g := &Gate{
		store:     approvalStore,
		transport: transport,
		p:         p,
		approvers: approvers,
		now:       time.Now,
		waiters:   make(map[string]chan types.ApprovalStatus),
	}
	if p.Bypass {
		logger.Warn(context.Background(), "APPROVAL BYPASS ENABLED - mutating actions will execute without human review")
	}
	return g
}

// SetTransport installs the decision transport after construction. The
// transport needs the gate as its DecisionRecorder, so wiring happens in two
// steps at startup, before any request is made.
func (g *Gate) SetTransport(t interfaces.DecisionTransport) {
	g.transport = t
}

// Bypassed reports whether the operator-level bypass switch is on.
func (g *Gate) Bypassed() bool {
	return g.p.Bypass
}

// Request persists a new PENDING approval request and notifies the decision
// transport. Notification is fire-and-forget: a failed notify only reduces
// the chance a human sees the request before it times out.
func (g *Gate) Request(ctx context.Context, action types.ActionDescriptor, requestedBy string, timeout time.Duration) (types.ApprovalRequest, error) {
	if timeout <= 0 {
		timeout = g.p.DefaultTimeout
	}

	now := g.now()
	req := types.ApprovalRequest{
		ID:          uuid.NewString(),
		Action:      action,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		ExpiresAt:   now.Add(timeout),
		Status:      types.ApprovalPending,
	}

	if err := g.store.Create(ctx, req); err != nil {
		return types.ApprovalRequest{}, err
	}

	logger.Approval(ctx, req.ID, action.Tool, string(types.ApprovalPending), "",
		"requested_by", requestedBy, "expires_at", req.ExpiresAt)

	if g.transport != nil {
		notifyCtx := context.WithoutCancel(ctx)
		go func() {
			if err := g.transport.Notify(notifyCtx, req); err != nil {
				logger.ErrorWithErr(notifyCtx, "Failed to notify decision transport", err,
					"approval_id", req.ID)
			}
		}()
	}

	return req, nil
}

// Await blocks until the request reaches a terminal status. It wakes on a
// local decision, on the expiry timer, on the coarse store poll (covering
// decisions recorded by other replicas), or on ctx cancellation, in which
// case the request is marked CANCELLED if still PENDING.
func (g *Gate) Await(ctx context.Context, id string) (types.ApprovalStatus, error) {
	req, err := g.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if req.Status.Terminal() {
		return req.Status, nil
	}

	waiter := g.addWaiter(id)
	defer g.removeWaiter(id)

	expiry := time.NewTimer(time.Until(req.ExpiresAt))
	defer expiry.Stop()
	poll := time.NewTicker(g.p.PollInterval)
	defer poll.Stop()

	for {
		select {
		case status := <-waiter:
			return status, nil

		case <-expiry.C:
			return g.expire(ctx, id)

		case <-poll.C:
			r, err := g.store.Get(ctx, id)
			if err != nil {
				continue
			}
			if r.Status.Terminal() {
				return r.Status, nil
			}

		case <-ctx.Done():
			g.cancel(id)
			return types.ApprovalCancelled, ctx.Err()
		}
	}
}

// RecordDecision is the transport-side entry point. The conditional status
// write is the gate's concurrency boundary: whichever transition observes
// PENDING first wins, the loser gets ErrAlreadyDecided.
func (g *Gate) RecordDecision(ctx context.Context, id string, decision types.ApprovalStatus, decidedBy string) error {
	if decision != types.ApprovalApproved && decision != types.ApprovalDenied {
		return ErrInvalidDecision
	}
	if len(g.approvers) > 0 && !g.approvers[decidedBy] {
		logger.Warn(ctx, "Rejected decision from unauthorized approver",
			"approval_id", id, "decided_by", decidedBy)
		return ErrUnauthorizedApprover
	}

	req, err := g.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Status.Terminal() {
		return ErrAlreadyDecided
	}

	// A decision landing after the deadline loses to the timeout path even
	// when no replica was awaiting the request anymore.
	if !g.now().Before(req.ExpiresAt) {
		if _, err := g.store.CompareAndSwapStatus(ctx, id, types.ApprovalPending, types.ApprovalExpired, ""); err == nil {
			g.wake(id, types.ApprovalExpired)
		}
		return ErrAlreadyDecided
	}

	updated, err := g.store.CompareAndSwapStatus(ctx, id, types.ApprovalPending, decision, decidedBy)
	if errors.Is(err, store.ErrStatusConflict) {
		return ErrAlreadyDecided
	}
	if err != nil {
		return err
	}

	logger.Approval(ctx, id, updated.Action.Tool, string(decision), decidedBy)
	g.wake(id, decision)
	return nil
}

// Status returns the request for read-only introspection.
func (g *Gate) Status(ctx context.Context, id string) (types.ApprovalRequest, error) {
	return g.store.Get(ctx, id)
}

// Recent lists the most recently created requests for introspection.
func (g *Gate) Recent(ctx context.Context, n int) ([]types.ApprovalRequest, error) {
	return g.store.ListRecent(ctx, n)
}

// expire performs the gate's own timeout transition. Losing the race to a
// concurrent decision is not an error: the decided status is returned.
func (g *Gate) expire(ctx context.Context, id string) (types.ApprovalStatus, error) {
	_, err := g.store.CompareAndSwapStatus(ctx, id, types.ApprovalPending, types.ApprovalExpired, "")
	if errors.Is(err, store.ErrStatusConflict) {
		r, getErr := g.store.Get(ctx, id)
		if getErr != nil {
			return "", getErr
		}
		return r.Status, nil
	}
	if err != nil {
		return "", err
	}
	logger.Approval(ctx, id, "", string(types.ApprovalExpired), "")
	return types.ApprovalExpired, nil
}

// cancel marks the request CANCELLED if still PENDING. Runs on a detached
// context because the caller's context is already done.
func (g *Gate) cancel(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := g.store.CompareAndSwapStatus(ctx, id, types.ApprovalPending, types.ApprovalCancelled, ""); err == nil {
		logger.Approval(ctx, id, "", string(types.ApprovalCancelled), "")
	}
}

func (g *Gate) addWaiter(id string) chan types.ApprovalStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan types.ApprovalStatus, 1)
	g.waiters[id] = ch
	return ch
}

func (g *Gate) removeWaiter(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.waiters, id)
}

func (g *Gate) wake(id string, status types.ApprovalStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.waiters[id]; ok {
		select {
		case ch <- status:
		default:
		}
	}
}
