package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"llm-trading-gateway/internal/approval"
	"llm-trading-gateway/internal/backoff"
	"llm-trading-gateway/internal/broker/schwab"
	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/logger"
	"llm-trading-gateway/internal/server"
	"llm-trading-gateway/internal/store"
	"llm-trading-gateway/internal/token"
	"llm-trading-gateway/internal/trace"

	"github.com/joho/godotenv"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

// The admin service runs beside the gateway replicas against the same
// store. It hosts the interactive OAuth re-auth flow that seeds the shared
// credential and the manual decision path for approvals whose chat
// notification was lost.
func main() {
	_ = godotenv.Load()
	must(logger.Init())
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := store.LoadConfig("config.yaml")
	must(err)

	var creds interfaces.CredentialStore
	var approvals interfaces.ApprovalStore
	if cfg.Mode == "DRY_RUN" && cfg.Database.Host == "" {
		logger.Warn(ctx, "No database configured - using in-memory stores (single replica only)")
		creds, approvals = store.NewMemoryCredentialStore(), store.NewMemoryApprovalStore()
	} else {
		db, err := store.OpenDB(ctx, store.DBConfigFromApp(cfg))
		must(err)
		defer db.Close()
		must(store.EnsureSchema(ctx, db))
		creds, approvals = store.NewCredentialStore(db), store.NewApprovalStore(db)
	}

	oauth := schwab.NewOAuthClient(schwab.OAuthParams{
		ClientID:     os.Getenv("SCHWAB_CLIENT_ID"),
		ClientSecret: os.Getenv("SCHWAB_CLIENT_SECRET"),
		TokenURL:     cfg.OAuth.TokenURL,
		AuthorizeURL: cfg.OAuth.AuthorizeURL,
		CallbackURL:  cfg.OAuth.CallbackURL,
		RefreshTTL:   time.Duration(cfg.OAuth.RefreshTTLDays) * 24 * time.Hour,
	})

	tokens := token.NewManager(creds, oauth, token.Params{
		AccountKey:    cfg.AccountKey,
		Margin:        cfg.RefreshMargin(),
		CacheTTL:      time.Duration(cfg.OAuth.CacheTTLSecs) * time.Second,
		RetryAttempts: cfg.OAuth.RetryAttempts,
		RetryPolicy:   backoff.DefaultPolicy(),
	})

	// No transport here: decisions recorded through this gate come from the
	// manual endpoint and still win or lose through the store's conditional
	// writes, same as reaction decisions on any gateway replica.
	gate := approval.NewGate(approvals, nil, approval.Params{
		Approvers:      cfg.Approval.Approvers,
		DefaultTimeout: cfg.ApprovalTimeout(),
		PollInterval:   cfg.ApprovalPoll(),
		Bypass:         cfg.Approval.Bypass,
	})

	handler := &server.AdminHandler{
		Tokens:    tokens,
		OAuth:     oauth,
		Recorder:  gate,
		Approvals: approvals,
	}

	port := 8081
	if v := os.Getenv("GATEWAY_ADMIN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler: handler.Router(),
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info(ctx, "Admin service started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorWithErr(ctx, "Server failed", err)
			sigc <- syscall.SIGTERM
		}
	}()

	<-sigc
	logger.Info(ctx, "Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr(shutdownCtx, "Server shutdown failed", err)
	}
}
