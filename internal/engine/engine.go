package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"llm-trading-gateway/internal/auditlog"
	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/logger"
	"llm-trading-gateway/internal/types"
)

// ErrNotApproved is returned when the gate resolves to anything other than
// APPROVED. The brokerage call is never made in that case.
var ErrNotApproved = errors.New("action was not approved")

// NotApprovedError carries the terminal gate status back to the caller.
type NotApprovedError struct {
	ApprovalID string
	Status     types.ApprovalStatus
}

func (e *NotApprovedError) Error() string {
	return fmt.Sprintf("action was not approved: request %s resolved %s", e.ApprovalID, e.Status)
}

func (e *NotApprovedError) Unwrap() error { return ErrNotApproved }

// Engine runs gated brokerage actions end to end. It is the only component
// allowed to invoke mutating broker calls, and it does so strictly after
// the approval gate returns APPROVED for the specific request.
type Engine struct {
	gate   interfaces.Gate
	broker interfaces.Broker
}

var _ interfaces.Executor = (*Engine)(nil)

func New(gate interfaces.Gate, broker interfaces.Broker) *Engine {
	return &Engine{gate: gate, broker: broker}
}

// Execute gates and runs one order placement.
func (e *Engine) Execute(ctx context.Context, req types.OrderReq, requestedBy string) (types.OrderResp, error) {
	action := describeOrder(req)

	if e.gate.Bypassed() {
		logger.Warn(ctx, "Executing without approval: bypass is on", "tool", action.Tool, "symbol", req.Symbol)
		return e.placeOrder(ctx, req, "bypass", action)
	}

	approvalReq, err := e.gate.Request(ctx, action, requestedBy, 0)
	if err != nil {
		return types.OrderResp{}, fmt.Errorf("failed to create approval request: %w", err)
	}

	status, err := e.gate.Await(ctx, approvalReq.ID)
	if err != nil {
		return types.OrderResp{}, err
	}
	if status != types.ApprovalApproved {
		_ = auditlog.AppendDecision(auditlog.DecisionEntry{
			ApprovalID:  approvalReq.ID,
			Tool:        action.Tool,
			Status:      string(status),
			RequestedBy: requestedBy,
			Arguments:   action.Arguments,
		})
		return types.OrderResp{}, &NotApprovedError{ApprovalID: approvalReq.ID, Status: status}
	}

	return e.placeOrder(ctx, req, approvalReq.ID, action)
}

func (e *Engine) placeOrder(ctx context.Context, req types.OrderReq, approvalID string, action types.ActionDescriptor) (types.OrderResp, error) {
	resp, err := e.broker.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErr(ctx, "Order placement failed", err,
			"approval_id", approvalID, "symbol", req.Symbol)
		return types.OrderResp{}, err
	}

	logger.Execution(ctx, approvalID, action.Tool, resp.OrderID, resp.Status,
		"symbol", req.Symbol, "side", req.Side, "qty", req.Qty)
	_ = auditlog.AppendExecution(auditlog.ExecutionEntry{
		ApprovalID: approvalID,
		Tool:       action.Tool,
		OrderID:    resp.OrderID,
		Status:     resp.Status,
	})

	return resp, nil
}

// Replace gates and runs one order replacement.
func (e *Engine) Replace(ctx context.Context, orderID string, req types.OrderReq, requestedBy string) (types.OrderResp, error) {
	action := describeOrder(req)
	action.Tool = "replace_order"
	action.Arguments["order_id"] = orderID

	approvalID := "bypass"
	if !e.gate.Bypassed() {
		approvalReq, err := e.gate.Request(ctx, action, requestedBy, 0)
		if err != nil {
			return types.OrderResp{}, fmt.Errorf("failed to create approval request: %w", err)
		}
		status, err := e.gate.Await(ctx, approvalReq.ID)
		if err != nil {
			return types.OrderResp{}, err
		}
		if status != types.ApprovalApproved {
			_ = auditlog.AppendDecision(auditlog.DecisionEntry{
				ApprovalID:  approvalReq.ID,
				Tool:        action.Tool,
				Status:      string(status),
				RequestedBy: requestedBy,
				Arguments:   action.Arguments,
			})
			return types.OrderResp{}, &NotApprovedError{ApprovalID: approvalReq.ID, Status: status}
		}
		approvalID = approvalReq.ID
	}

	resp, err := e.broker.ReplaceOrder(ctx, orderID, req)
	if err != nil {
		logger.ErrorWithErr(ctx, "Order replacement failed", err,
			"order_id", orderID, "symbol", req.Symbol)
		return types.OrderResp{}, err
	}

	logger.Execution(ctx, approvalID, action.Tool, resp.OrderID, resp.Status,
		"replaced_order_id", orderID, "symbol", req.Symbol)
	_ = auditlog.AppendExecution(auditlog.ExecutionEntry{
		ApprovalID: approvalID,
		Tool:       action.Tool,
		OrderID:    resp.OrderID,
		Status:     resp.Status,
		Extra:      map[string]any{"replaced_order_id": orderID},
	})
	return resp, nil
}

// Cancel gates and runs one order cancellation.
func (e *Engine) Cancel(ctx context.Context, accountID, orderID, requestedBy string) error {
	action := types.ActionDescriptor{
		Tool: "cancel_order",
		Arguments: map[string]string{
			"account_id": accountID,
			"order_id":   orderID,
		},
	}

	if !e.gate.Bypassed() {
		approvalReq, err := e.gate.Request(ctx, action, requestedBy, 0)
		if err != nil {
			return fmt.Errorf("failed to create approval request: %w", err)
		}
		status, err := e.gate.Await(ctx, approvalReq.ID)
		if err != nil {
			return err
		}
		if status != types.ApprovalApproved {
			return &NotApprovedError{ApprovalID: approvalReq.ID, Status: status}
		}
	}

	if err := e.broker.CancelOrder(ctx, accountID, orderID); err != nil {
		return err
	}
	_ = auditlog.AppendExecution(auditlog.ExecutionEntry{
		Tool:    action.Tool,
		OrderID: orderID,
		Status:  "CANCELLED",
	})
	return nil
}

func describeOrder(req types.OrderReq) types.ActionDescriptor {
	args := map[string]string{
		"account_id": req.AccountID,
		"symbol":     req.Symbol,
		"side":       req.Side,
		"qty":        strconv.Itoa(req.Qty),
		"order_type": req.OrderType,
	}
	if req.Price != 0 {
		args["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	return types.ActionDescriptor{Tool: "place_order", Arguments: args}
}
