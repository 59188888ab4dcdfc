package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/types"
)

// ApprovalStore persists approval requests in Postgres. Transitions out of
// PENDING are conditional on the current status, so exactly one terminal
// transition wins regardless of which replica performs it.
type ApprovalStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ interfaces.ApprovalStore = (*ApprovalStore)(nil)

func NewApprovalStore(db *sql.DB) *ApprovalStore {
	return &ApprovalStore{db: db, now: time.Now}
}

func (s *ApprovalStore) Create(ctx context.Context, req types.ApprovalRequest) error {
	action, err := json.Marshal(req.Action)
	if err != nil {
		return fmt.Errorf("failed to marshal action descriptor: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_requests (id, action, requested_by, created_at, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, req.ID, action, req.RequestedBy, req.CreatedAt, req.ExpiresAt, string(req.Status))
	if err != nil {
		return fmt.Errorf("failed to create approval request: %w", err)
	}
	return nil
}

func (s *ApprovalStore) Get(ctx context.Context, id string) (types.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, action, requested_by, created_at, expires_at, status, decided_by, decided_at
		FROM approval_requests WHERE id = $1
	`, id)
	return scanRequest(row)
}

func (s *ApprovalStore) CompareAndSwapStatus(ctx context.Context, id string, expected, next types.ApprovalStatus, decidedBy string) (types.ApprovalRequest, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = $1, decided_by = $2, decided_at = $3
		WHERE id = $4 AND status = $5
	`, string(next), nullable(decidedBy), s.now(), id, string(expected))
	if err != nil {
		return types.ApprovalRequest{}, fmt.Errorf("failed to transition approval request: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return types.ApprovalRequest{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		// Either the row is gone or another writer got there first.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return types.ApprovalRequest{}, getErr
		}
		return types.ApprovalRequest{}, ErrStatusConflict
	}

	return s.Get(ctx, id)
}

func (s *ApprovalStore) ListRecent(ctx context.Context, n int) ([]types.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, requested_by, created_at, expires_at, status, decided_by, decided_at
		FROM approval_requests ORDER BY created_at DESC LIMIT $1
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	defer rows.Close()

	var out []types.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (types.ApprovalRequest, error) {
	var (
		req       types.ApprovalRequest
		action    []byte
		status    string
		decidedBy sql.NullString
		decidedAt sql.NullTime
	)
	err := row.Scan(&req.ID, &action, &req.RequestedBy, &req.CreatedAt,
		&req.ExpiresAt, &status, &decidedBy, &decidedAt)
	if err == sql.ErrNoRows {
		return types.ApprovalRequest{}, ErrRequestNotFound
	}
	if err != nil {
		return types.ApprovalRequest{}, fmt.Errorf("failed to scan approval request: %w", err)
	}

	if err := json.Unmarshal(action, &req.Action); err != nil {
		return types.ApprovalRequest{}, fmt.Errorf("failed to unmarshal action descriptor: %w", err)
	}
	req.Status = types.ApprovalStatus(status)
	if decidedBy.Valid {
		req.DecidedBy = decidedBy.String
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	return req, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
