package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"llm-trading-gateway/internal/store"
	"llm-trading-gateway/internal/types"
)

type fakeTransport struct {
	mu       sync.Mutex
	notified []types.ApprovalRequest
	started  bool
}

func (f *fakeTransport) Start(ctx context.Context) error { f.started = true; return nil }
func (f *fakeTransport) Stop(ctx context.Context)        {}

func (f *fakeTransport) Notify(ctx context.Context, req types.ApprovalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, req)
	return nil
}

func (f *fakeTransport) notifiedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notified)
}

func testAction() types.ActionDescriptor {
	return types.ActionDescriptor{
		Tool: "place_order",
		Arguments: map[string]string{
			"symbol": "AAPL",
			"side":   "BUY",
			"qty":    "10",
		},
	}
}

func newTestGate(transport *fakeTransport) (*Gate, *store.MemoryApprovalStore) {
	s := store.NewMemoryApprovalStore()
	p := Params{
		Approvers:      []string{"alice", "bob"},
		DefaultTimeout: time.Hour,
		PollInterval:   20 * time.Millisecond,
	}
	if transport == nil {
		return NewGate(s, nil, p), s
	}
	return NewGate(s, transport, p), s
}

func TestRequestCreatesPendingAndNotifies(t *testing.T) {
	transport := &fakeTransport{}
	g, s := newTestGate(transport)

	req, err := g.Request(context.Background(), testAction(), "llm-agent", 0)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if req.Status != types.ApprovalPending {
		t.Errorf("Expected PENDING, got %s", req.Status)
	}
	if req.ExpiresAt.Sub(req.CreatedAt) != time.Hour {
		t.Errorf("Expected default timeout applied, got %v", req.ExpiresAt.Sub(req.CreatedAt))
	}

	stored, err := s.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != types.ApprovalPending {
		t.Errorf("Expected PENDING in store, got %s", stored.Status)
	}

	// Notify runs on a detached goroutine.
	deadline := time.Now().Add(time.Second)
	for transport.notifiedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if transport.notifiedCount() != 1 {
		t.Errorf("Expected one notification, got %d", transport.notifiedCount())
	}
}

func TestApproveWakesAwaiter(t *testing.T) {
	g, _ := newTestGate(nil)

	req, err := g.Request(context.Background(), testAction(), "llm-agent", 0)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	done := make(chan types.ApprovalStatus, 1)
	go func() {
		status, _ := g.Await(context.Background(), req.ID)
		done <- status
	}()

	time.Sleep(30 * time.Millisecond)
	if err := g.RecordDecision(context.Background(), req.ID, types.ApprovalApproved, "alice"); err != nil {
		t.Fatalf("RecordDecision failed: %v", err)
	}

	select {
	case status := <-done:
		if status != types.ApprovalApproved {
			t.Errorf("Expected APPROVED, got %s", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await did not return after decision")
	}

	stored, _ := g.Status(context.Background(), req.ID)
	if stored.DecidedBy != "alice" {
		t.Errorf("Expected decided_by alice, got %q", stored.DecidedBy)
	}
}

func TestDenyResolvesAwait(t *testing.T) {
	g, _ := newTestGate(nil)

	req, _ := g.Request(context.Background(), testAction(), "llm-agent", 0)
	if err := g.RecordDecision(context.Background(), req.ID, types.ApprovalDenied, "bob"); err != nil {
		t.Fatalf("RecordDecision failed: %v", err)
	}

	// Terminal before Await even starts: short-circuits without blocking.
	status, err := g.Await(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if status != types.ApprovalDenied {
		t.Errorf("Expected DENIED, got %s", status)
	}
}

func TestAwaitTimesOut(t *testing.T) {
	g, s := newTestGate(nil)

	req, _ := g.Request(context.Background(), testAction(), "llm-agent", 50*time.Millisecond)

	start := time.Now()
	status, err := g.Await(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if status != types.ApprovalExpired {
		t.Errorf("Expected EXPIRED, got %s", status)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Timeout took too long: %v", elapsed)
	}

	stored, _ := s.Get(context.Background(), req.ID)
	if stored.Status != types.ApprovalExpired {
		t.Errorf("Expected EXPIRED persisted, got %s", stored.Status)
	}
}

func TestAwaitCancelledWithRequester(t *testing.T) {
	g, s := newTestGate(nil)

	req, _ := g.Request(context.Background(), testAction(), "llm-agent", 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	status, err := g.Await(ctx, req.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if status != types.ApprovalCancelled {
		t.Errorf("Expected CANCELLED, got %s", status)
	}

	stored, _ := s.Get(context.Background(), req.ID)
	if stored.Status != types.ApprovalCancelled {
		t.Errorf("Expected CANCELLED persisted, got %s", stored.Status)
	}

	// A decision after cancellation must not flip the terminal status.
	err = g.RecordDecision(context.Background(), req.ID, types.ApprovalApproved, "alice")
	if !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("Expected ErrAlreadyDecided after cancel, got %v", err)
	}
}

func TestSecondDecisionLoses(t *testing.T) {
	g, _ := newTestGate(nil)

	req, _ := g.Request(context.Background(), testAction(), "llm-agent", 0)
	if err := g.RecordDecision(context.Background(), req.ID, types.ApprovalApproved, "alice"); err != nil {
		t.Fatalf("First decision failed: %v", err)
	}

	err := g.RecordDecision(context.Background(), req.ID, types.ApprovalDenied, "bob")
	if !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("Expected ErrAlreadyDecided, got %v", err)
	}

	stored, _ := g.Status(context.Background(), req.ID)
	if stored.Status != types.ApprovalApproved {
		t.Errorf("First decision must stand, got %s", stored.Status)
	}
}

func TestUnauthorizedApproverRejected(t *testing.T) {
	g, _ := newTestGate(nil)

	req, _ := g.Request(context.Background(), testAction(), "llm-agent", 0)
	err := g.RecordDecision(context.Background(), req.ID, types.ApprovalApproved, "mallory")
	if !errors.Is(err, ErrUnauthorizedApprover) {
		t.Fatalf("Expected ErrUnauthorizedApprover, got %v", err)
	}

	stored, _ := g.Status(context.Background(), req.ID)
	if stored.Status != types.ApprovalPending {
		t.Errorf("Request must stay PENDING after a rejected approver, got %s", stored.Status)
	}
}

func TestInvalidDecisionRejected(t *testing.T) {
	g, _ := newTestGate(nil)

	req, _ := g.Request(context.Background(), testAction(), "llm-agent", 0)
	for _, d := range []types.ApprovalStatus{types.ApprovalExpired, types.ApprovalCancelled, types.ApprovalPending, "GRANTED"} {
		if err := g.RecordDecision(context.Background(), req.ID, d, "alice"); !errors.Is(err, ErrInvalidDecision) {
			t.Errorf("Decision %q: expected ErrInvalidDecision, got %v", d, err)
		}
	}
}

func TestLateDecisionExpiresRequest(t *testing.T) {
	g, s := newTestGate(nil)

	req, _ := g.Request(context.Background(), testAction(), "llm-agent", time.Hour)

	// The requester replica crashed; the decision arrives past the deadline.
	g.now = func() time.Time { return req.ExpiresAt.Add(time.Second) }

	err := g.RecordDecision(context.Background(), req.ID, types.ApprovalApproved, "alice")
	if !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("Expected ErrAlreadyDecided for a late decision, got %v", err)
	}

	stored, _ := s.Get(context.Background(), req.ID)
	if stored.Status != types.ApprovalExpired {
		t.Errorf("Expected late decision to expire the request, got %s", stored.Status)
	}
}

func TestDecisionOnAnotherReplicaWakesAwaiter(t *testing.T) {
	s := store.NewMemoryApprovalStore()
	p := Params{
		Approvers:      []string{"alice"},
		DefaultTimeout: time.Hour,
		PollInterval:   20 * time.Millisecond,
	}
	replicaA := NewGate(s, nil, p)
	replicaB := NewGate(s, nil, p)

	req, err := replicaA.Request(context.Background(), testAction(), "llm-agent", 0)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	done := make(chan types.ApprovalStatus, 1)
	go func() {
		status, _ := replicaA.Await(context.Background(), req.ID)
		done <- status
	}()

	time.Sleep(30 * time.Millisecond)
	if err := replicaB.RecordDecision(context.Background(), req.ID, types.ApprovalApproved, "alice"); err != nil {
		t.Fatalf("RecordDecision on replica B failed: %v", err)
	}

	select {
	case status := <-done:
		if status != types.ApprovalApproved {
			t.Errorf("Expected APPROVED via store poll, got %s", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Awaiter on replica A never saw replica B's decision")
	}
}

func TestBypassSwitch(t *testing.T) {
	s := store.NewMemoryApprovalStore()
	g := NewGate(s, nil, Params{Bypass: true})
	if !g.Bypassed() {
		t.Error("Expected Bypassed to report true")
	}

	g = NewGate(s, nil, Params{Approvers: []string{"alice"}})
	if g.Bypassed() {
		t.Error("Expected Bypassed to report false")
	}
}

func TestUnknownRequest(t *testing.T) {
	g, _ := newTestGate(nil)

	if _, err := g.Await(context.Background(), "no-such-id"); !errors.Is(err, store.ErrRequestNotFound) {
		t.Errorf("Await: expected ErrRequestNotFound, got %v", err)
	}
	if err := g.RecordDecision(context.Background(), "no-such-id", types.ApprovalApproved, "alice"); !errors.Is(err, store.ErrRequestNotFound) {
		t.Errorf("RecordDecision: expected ErrRequestNotFound, got %v", err)
	}
}
