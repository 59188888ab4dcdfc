package schwab

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"llm-trading-gateway/internal/api"
	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/types"
)

// Params configures the brokerage API client.
type Params struct {
	Mode    string // DRY_RUN or LIVE
	BaseURL string
	Timeout time.Duration
}

// Broker calls the brokerage trading API. Every call pulls a fresh access
// token from the token source so replicas never hold a stale token across a
// refresh.
type Broker struct {
	p      Params
	tokens interfaces.TokenSource
	client *api.Client
}

var _ interfaces.Broker = (*Broker)(nil)

func NewBroker(p Params, tokens interfaces.TokenSource) *Broker {
	if p.Timeout == 0 {
		p.Timeout = 30 * time.Second
	}
	return &Broker{
		p:      p,
		tokens: tokens,
		client: api.NewClient(
			api.WithBaseURL(p.BaseURL),
			api.WithTimeout(p.Timeout),
			api.WithLogging(true),
		),
	}
}

func (b *Broker) authHeader(ctx context.Context) (map[string]string, error) {
	tok, err := b.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + tok}, nil
}

func (b *Broker) Quote(ctx context.Context, symbol string) (types.Quote, error) {
	if b.p.Mode == "DRY_RUN" {
		last := 100 + rand.Float64()*400
		return types.Quote{
			Symbol: symbol,
			Bid:    last - 0.05,
			Ask:    last + 0.05,
			Last:   last,
			Time:   time.Now().Unix(),
		}, nil
	}

	headers, err := b.authHeader(ctx)
	if err != nil {
		return types.Quote{}, err
	}

	resp, err := b.client.GET(ctx, "/marketdata/v1/quotes?symbols="+symbol, headers)
	if err != nil {
		return types.Quote{}, fmt.Errorf("quote request failed: %w", err)
	}

	var q types.Quote
	if err := resp.ParseJSON(&q); err != nil {
		return types.Quote{}, err
	}
	return q, nil
}

func (b *Broker) Positions(ctx context.Context, accountID string) ([]types.Position, error) {
	if b.p.Mode == "DRY_RUN" {
		return []types.Position{}, nil
	}

	headers, err := b.authHeader(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.GET(ctx, "/trader/v1/accounts/"+accountID+"?fields=positions", headers)
	if err != nil {
		return nil, fmt.Errorf("positions request failed: %w", err)
	}

	var positions []types.Position
	if err := resp.ParseJSON(&positions); err != nil {
		return nil, err
	}
	return positions, nil
}

func (b *Broker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	if b.p.Mode == "DRY_RUN" {
		return types.OrderResp{
			OrderID: fmt.Sprintf("DRY-%d", time.Now().UnixNano()),
			Status:  "SIMULATED",
		}, nil
	}

	headers, err := b.authHeader(ctx)
	if err != nil {
		return types.OrderResp{}, err
	}

	resp, err := b.client.POST(ctx, "/trader/v1/accounts/"+req.AccountID+"/orders", req, headers)
	if err != nil {
		return types.OrderResp{}, fmt.Errorf("order request failed: %w", err)
	}

	out := types.OrderResp{Status: "ACCEPTED"}
	if loc := resp.Headers.Get("Location"); loc != "" {
		out.OrderID = lastPathSegment(loc)
	}
	return out, nil
}

func (b *Broker) ReplaceOrder(ctx context.Context, orderID string, req types.OrderReq) (types.OrderResp, error) {
	if b.p.Mode == "DRY_RUN" {
		return types.OrderResp{
			OrderID: fmt.Sprintf("DRY-%d", time.Now().UnixNano()),
			Status:  "SIMULATED",
		}, nil
	}

	headers, err := b.authHeader(ctx)
	if err != nil {
		return types.OrderResp{}, err
	}

	r := api.NewRequest("PUT", "/trader/v1/accounts/"+req.AccountID+"/orders/"+orderID).
		WithContext(ctx).
		WithBody(req)
	for k, v := range headers {
		r.WithHeader(k, v)
	}

	resp, err := b.client.Do(r)
	if err != nil {
		return types.OrderResp{}, fmt.Errorf("replace request failed: %w", err)
	}

	// The brokerage cancels the old order and returns the replacement's id.
	out := types.OrderResp{Status: "REPLACED"}
	if loc := resp.Headers.Get("Location"); loc != "" {
		out.OrderID = lastPathSegment(loc)
	}
	return out, nil
}

func (b *Broker) CancelOrder(ctx context.Context, accountID, orderID string) error {
	if b.p.Mode == "DRY_RUN" {
		return nil
	}

	headers, err := b.authHeader(ctx)
	if err != nil {
		return err
	}

	if _, err := b.client.DELETE(ctx, "/trader/v1/accounts/"+accountID+"/orders/"+orderID, headers); err != nil {
		return fmt.Errorf("cancel request failed: %w", err)
	}
	return nil
}

func lastPathSegment(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return s[i+1:]
		}
	}
	return s
}
