// Package server exposes the HTTP surfaces of the gateway and admin
// services. The gateway surface is the public trading/query API plus
// read-only status introspection; the admin surface owns re-auth, seeding
// and the manual decision path.
package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"llm-trading-gateway/internal/engine"
	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/token"
	"llm-trading-gateway/internal/types"
)

// GatewayHandler serves the public trading/query service.
type GatewayHandler struct {
	Tokens    interfaces.TokenSource
	Broker    interfaces.Broker
	Executor  interfaces.Executor
	Approvals interfaces.ApprovalStore
}

// Router builds the gin engine for the gateway service.
func (h *GatewayHandler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.Healthz)
	r.GET("/status/token", h.TokenStatus)
	r.GET("/status/approvals", h.RecentApprovals)
	r.GET("/status/approvals/:id", h.ApprovalStatus)

	r.GET("/quotes/:symbol", h.Quote)
	r.GET("/accounts/:account/positions", h.Positions)
	r.POST("/accounts/:account/orders", h.PlaceOrder)
	r.PUT("/accounts/:account/orders/:order", h.ReplaceOrder)
	r.DELETE("/accounts/:account/orders/:order", h.CancelOrder)

	return r
}

func (h *GatewayHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *GatewayHandler) TokenStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Tokens.Status(c.Request.Context()))
}

func (h *GatewayHandler) RecentApprovals(c *gin.Context) {
	n := 20
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	reqs, err := h.Approvals.ListRecent(c.Request.Context(), n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (h *GatewayHandler) ApprovalStatus(c *gin.Context) {
	req, err := h.Approvals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *GatewayHandler) Quote(c *gin.Context) {
	q, err := h.Broker.Quote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeTokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *GatewayHandler) Positions(c *gin.Context) {
	positions, err := h.Broker.Positions(c.Request.Context(), c.Param("account"))
	if err != nil {
		writeTokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (h *GatewayHandler) PlaceOrder(c *gin.Context) {
	var req types.OrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.AccountID = c.Param("account")

	resp, err := h.Executor.Execute(c.Request.Context(), req, requester(c))
	if err != nil {
		writeExecuteError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *GatewayHandler) ReplaceOrder(c *gin.Context) {
	var req types.OrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.AccountID = c.Param("account")

	resp, err := h.Executor.Replace(c.Request.Context(), c.Param("order"), req, requester(c))
	if err != nil {
		writeExecuteError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *GatewayHandler) CancelOrder(c *gin.Context) {
	err := h.Executor.Cancel(c.Request.Context(), c.Param("account"), c.Param("order"), requester(c))
	if err != nil {
		writeExecuteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func requester(c *gin.Context) string {
	if v := c.GetHeader("X-Requested-By"); v != "" {
		return v
	}
	return "anonymous"
}

func writeTokenError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, token.ErrCredentialUnavailable),
		errors.Is(err, token.ErrRefreshTokenExpired):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func writeExecuteError(c *gin.Context, err error) {
	var notApproved *engine.NotApprovedError
	switch {
	case errors.As(err, &notApproved):
		c.JSON(http.StatusForbidden, gin.H{
			"error":       "action was not approved",
			"approval_id": notApproved.ApprovalID,
			"status":      notApproved.Status,
		})
	case errors.Is(err, token.ErrCredentialUnavailable),
		errors.Is(err, token.ErrRefreshTokenExpired):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
