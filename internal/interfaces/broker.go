package interfaces

import (
	"context"

	"llm-trading-gateway/internal/types"
)

// Broker is the actual brokerage API. Read-only calls go straight through;
// mutating calls must only be invoked by the engine after the gate returned
// APPROVED.
type Broker interface {
	Quote(ctx context.Context, symbol string) (types.Quote, error)
	Positions(ctx context.Context, accountID string) ([]types.Position, error)

	PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)
	ReplaceOrder(ctx context.Context, orderID string, req types.OrderReq) (types.OrderResp, error)
	CancelOrder(ctx context.Context, accountID, orderID string) error
}

// Executor runs gated brokerage actions end to end: token, approval, then
// the broker call.
type Executor interface {
	Execute(ctx context.Context, req types.OrderReq, requestedBy string) (types.OrderResp, error)
	Replace(ctx context.Context, orderID string, req types.OrderReq, requestedBy string) (types.OrderResp, error)
	Cancel(ctx context.Context, accountID, orderID, requestedBy string) error
}
