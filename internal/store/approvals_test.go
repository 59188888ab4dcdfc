package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"llm-trading-gateway/internal/types"
)

func approvalColumns() []string {
	return []string{"id", "action", "requested_by", "created_at", "expires_at", "status", "decided_by", "decided_at"}
}

func approvalRow(id string, status types.ApprovalStatus) []driver.Value {
	return []driver.Value{
		id, []byte(`{"tool":"place_order","arguments":{"symbol":"AAPL"}}`),
		"llm-agent", memNow, memNow.Add(10 * time.Minute), string(status), nil, nil,
	}
}

func TestApprovalStoreCreateAndGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewApprovalStore(db)

	req := types.ApprovalRequest{
		ID:          "req-1",
		Action:      types.ActionDescriptor{Tool: "place_order", Arguments: map[string]string{"symbol": "AAPL"}},
		RequestedBy: "llm-agent",
		CreatedAt:   memNow,
		ExpiresAt:   memNow.Add(10 * time.Minute),
		Status:      types.ApprovalPending,
	}

	mock.ExpectExec("INSERT INTO approval_requests").
		WithArgs("req-1", sqlmock.AnyArg(), "llm-agent", req.CreatedAt, req.ExpiresAt, "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Create(context.Background(), req); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mock.ExpectQuery("SELECT id, action, requested_by").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows(approvalColumns()).AddRow(approvalRow("req-1", types.ApprovalPending)...))

	got, err := s.Get(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Action.Tool != "place_order" || got.Action.Arguments["symbol"] != "AAPL" {
		t.Errorf("Unexpected action: %+v", got.Action)
	}
	if got.Status != types.ApprovalPending {
		t.Errorf("Expected PENDING, got %s", got.Status)
	}

	mock.ExpectQuery("SELECT id, action, requested_by").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(approvalColumns()))

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("Expected ErrRequestNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApprovalStoreStatusTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewApprovalStore(db)
	s.now = func() time.Time { return memNow }

	mock.ExpectExec("UPDATE approval_requests").
		WithArgs("APPROVED", "alice", memNow, "req-1", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, action, requested_by").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows(approvalColumns()).
			AddRow("req-1", []byte(`{"tool":"place_order"}`), "llm-agent",
				memNow, memNow.Add(10*time.Minute), "APPROVED", "alice", memNow))

	got, err := s.CompareAndSwapStatus(context.Background(), "req-1", types.ApprovalPending, types.ApprovalApproved, "alice")
	if err != nil {
		t.Fatalf("CompareAndSwapStatus: %v", err)
	}
	if got.Status != types.ApprovalApproved || got.DecidedBy != "alice" {
		t.Errorf("Unexpected request: %+v", got)
	}
	if got.DecidedAt == nil {
		t.Error("Expected DecidedAt set")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApprovalStoreStatusConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewApprovalStore(db)
	s.now = func() time.Time { return memNow }

	// Zero rows with the row still present: someone else decided first.
	mock.ExpectExec("UPDATE approval_requests").
		WithArgs("DENIED", "bob", memNow, "req-1", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, action, requested_by").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows(approvalColumns()).
			AddRow("req-1", []byte(`{"tool":"place_order"}`), "llm-agent",
				memNow, memNow.Add(10*time.Minute), "APPROVED", "alice", memNow))

	_, err = s.CompareAndSwapStatus(context.Background(), "req-1", types.ApprovalPending, types.ApprovalDenied, "bob")
	if !errors.Is(err, ErrStatusConflict) {
		t.Errorf("Expected ErrStatusConflict, got %v", err)
	}

	// Zero rows with the row gone: not found.
	mock.ExpectExec("UPDATE approval_requests").
		WithArgs("DENIED", "bob", memNow, "req-2", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, action, requested_by").
		WithArgs("req-2").
		WillReturnRows(sqlmock.NewRows(approvalColumns()))

	_, err = s.CompareAndSwapStatus(context.Background(), "req-2", types.ApprovalPending, types.ApprovalDenied, "bob")
	if !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("Expected ErrRequestNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApprovalStoreListRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewApprovalStore(db)

	mock.ExpectQuery("SELECT id, action, requested_by").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(approvalColumns()).
			AddRow(approvalRow("req-2", types.ApprovalApproved)...).
			AddRow(approvalRow("req-1", types.ApprovalExpired)...))

	out, err := s.ListRecent(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(out) != 2 || out[0].ID != "req-2" {
		t.Errorf("Unexpected result: %+v", out)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
