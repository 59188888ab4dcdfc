package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"llm-trading-gateway/internal/approval"
	"llm-trading-gateway/internal/broker/schwab"
	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/store"
	"llm-trading-gateway/internal/types"
)

// AdminHandler serves the privileged admin service: the interactive OAuth
// re-auth flow that seeds the shared credential, the manual decision path
// for approvals whose transport notification was lost, and status.
type AdminHandler struct {
	Tokens    interfaces.TokenSource
	OAuth     *schwab.OAuthClient
	Recorder  interfaces.DecisionRecorder
	Approvals interfaces.ApprovalStore
}

// Router builds the gin engine for the admin service.
func (h *AdminHandler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/auth/start", h.AuthStart)
	r.GET("/auth/callback", h.AuthCallback)
	r.POST("/approvals/:id/decision", h.RecordDecision)
	r.GET("/status", h.Status)

	return r
}

// AuthStart redirects the operator's browser to the brokerage consent page.
func (h *AdminHandler) AuthStart(c *gin.Context) {
	c.Redirect(http.StatusFound, h.OAuth.AuthorizeURL())
}

// AuthCallback redeems the authorization code and seeds the credential.
// Pass force=true to replace a live credential.
func (h *AdminHandler) AuthCallback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code parameter"})
		return
	}
	force := c.Query("force") == "true"

	cred, err := h.OAuth.ExchangeCode(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if err := h.Tokens.Seed(c.Request.Context(), cred, force); err != nil {
		if errors.Is(err, store.ErrAlreadySeeded) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "credential already seeded; repeat with force=true to replace it",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":             "seeded",
		"access_expires_at":  cred.AccessExpiresAt,
		"refresh_expires_at": cred.RefreshExpiresAt,
	})
}

type decisionInput struct {
	Decision  string `json:"decision" binding:"required"`
	DecidedBy string `json:"decided_by" binding:"required"`
}

// RecordDecision is the manual late-decision path, used when the chat
// transport was down or the notification never reached an approver.
func (h *AdminHandler) RecordDecision(c *gin.Context) {
	var in decisionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.Recorder.RecordDecision(c.Request.Context(), c.Param("id"),
		types.ApprovalStatus(in.Decision), in.DecidedBy)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "recorded"})
	case errors.Is(err, approval.ErrAlreadyDecided):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, approval.ErrUnauthorizedApprover):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, approval.ErrInvalidDecision):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Status reports credential freshness and recent approvals.
func (h *AdminHandler) Status(c *gin.Context) {
	reqs, err := h.Approvals.ListRecent(c.Request.Context(), 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"credential": h.Tokens.Status(c.Request.Context()),
		"approvals":  reqs,
	})
}
