package types

import (
	"encoding/json"
	"time"
)

// Credential is the access/refresh token pair for one brokerage account.
// Version increases on every successful write and drives the optimistic
// concurrency checks in the credential store.
type Credential struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	IssuedAt         time.Time `json:"issued_at"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Version          int64     `json:"version"`
}

// AccessExpired reports whether the access token is unusable at t,
// applying the given safety margin.
func (c Credential) AccessExpired(t time.Time, margin time.Duration) bool {
	return !t.Add(margin).Before(c.AccessExpiresAt)
}

// RefreshExpired reports whether the refresh token itself has lapsed.
// Past this point only an interactive re-auth can recover the account.
func (c Credential) RefreshExpired(t time.Time) bool {
	return !t.Before(c.RefreshExpiresAt)
}

// CredentialStatus is a read-only freshness report for introspection endpoints.
type CredentialStatus struct {
	Seeded           bool      `json:"seeded"`
	Version          int64     `json:"version,omitempty"`
	IssuedAt         time.Time `json:"issued_at,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
	RefreshExpired   bool      `json:"refresh_expired"`
}

// ApprovalStatus is the lifecycle state of an approval request.
// Everything except PENDING is terminal and write-once.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "PENDING"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalDenied    ApprovalStatus = "DENIED"
	ApprovalExpired   ApprovalStatus = "EXPIRED"
	ApprovalCancelled ApprovalStatus = "CANCELLED"
)

// Terminal reports whether the status can never change again.
func (s ApprovalStatus) Terminal() bool {
	return s != ApprovalPending && s != ""
}

// ActionDescriptor describes one mutating brokerage action awaiting human
// review. The gate never interprets it; it only has to be readable enough
// for an approver to judge the risk.
type ActionDescriptor struct {
	Tool      string            `json:"tool"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// JSON renders the descriptor for persistence and notification payloads.
func (d ActionDescriptor) JSON() string {
	b, _ := json.Marshal(d)
	return string(b)
}

// ApprovalRequest is one pending human-authorization decision.
type ApprovalRequest struct {
	ID          string           `json:"id"`
	Action      ActionDescriptor `json:"action"`
	RequestedBy string           `json:"requested_by"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Status      ApprovalStatus   `json:"status"`
	DecidedBy   string           `json:"decided_by,omitempty"`
	DecidedAt   *time.Time       `json:"decided_at,omitempty"`
}

// OrderReq describes a mutating order action forwarded to the brokerage.
type OrderReq struct {
	AccountID string  `json:"account_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Qty       int     `json:"qty"`
	OrderType string  `json:"order_type"`
	Price     float64 `json:"price,omitempty"`
	Tag       string  `json:"tag,omitempty"`
}

type OrderResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Quote is a read-only snapshot for one symbol.
type Quote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Time   int64   `json:"time"`
}

// Position is a read-only holding snapshot.
type Position struct {
	Symbol   string  `json:"symbol"`
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
	Value    float64 `json:"value"`
}
