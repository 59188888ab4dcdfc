package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"llm-trading-gateway/internal/approval"
	"llm-trading-gateway/internal/approval/approvalobs"
	"llm-trading-gateway/internal/auditlog"
	"llm-trading-gateway/internal/backoff"
	"llm-trading-gateway/internal/broker/schwab"
	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/logger"
	"llm-trading-gateway/internal/store"
	"llm-trading-gateway/internal/token"
	"llm-trading-gateway/internal/token/tokenobs"
	"llm-trading-gateway/internal/trace"
	"llm-trading-gateway/internal/transport/discord"

	"github.com/joho/godotenv"
)

// initializeSystem initializes env, logger, and tracer
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize tracer
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig("config.yaml")
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// compressOldLogs compresses old audit files if retention is configured
func compressOldLogs(ctx context.Context) {
	if v := os.Getenv("GATEWAY_AUDIT_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if err := auditlog.CompressOlder(n); err != nil {
			logger.Warn(ctx, "Failed to compress old audit logs", "error", err)
		}
	}
}

// initializeStores opens the shared Postgres store, or in-memory stores in
// DRY_RUN mode when no database is configured.
func initializeStores(ctx context.Context, cfg *store.Config) (interfaces.CredentialStore, interfaces.ApprovalStore, *sql.DB, error) {
	if cfg.Mode == "DRY_RUN" && cfg.Database.Host == "" {
		logger.Warn(ctx, "No database configured - using in-memory stores (single replica only)")
		return store.NewMemoryCredentialStore(), store.NewMemoryApprovalStore(), nil, nil
	}

	db, err := store.OpenDB(ctx, store.DBConfigFromApp(cfg))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	logger.Info(ctx, "Connected to credential/approval store",
		"host", cfg.Database.Host, "database", cfg.Database.Name)
	return store.NewCredentialStore(db), store.NewApprovalStore(db), db, nil
}

// initializeTokens builds the token manager with observability
func initializeTokens(ctx context.Context, cfg *store.Config, creds interfaces.CredentialStore) interfaces.TokenSource {
	oauth := schwab.NewOAuthClient(schwab.OAuthParams{
		ClientID:     os.Getenv("SCHWAB_CLIENT_ID"),
		ClientSecret: os.Getenv("SCHWAB_CLIENT_SECRET"),
		TokenURL:     cfg.OAuth.TokenURL,
		AuthorizeURL: cfg.OAuth.AuthorizeURL,
		CallbackURL:  cfg.OAuth.CallbackURL,
		RefreshTTL:   time24h(cfg.OAuth.RefreshTTLDays),
	})

	mgr := token.NewManager(creds, oauth, token.Params{
		AccountKey:    cfg.AccountKey,
		Margin:        cfg.RefreshMargin(),
		CacheTTL:      timeSecs(cfg.OAuth.CacheTTLSecs),
		RetryAttempts: cfg.OAuth.RetryAttempts,
		RetryPolicy: backoff.Policy{
			BaseMillis: float64(cfg.OAuth.RetryBaseMillis),
			MaxMillis:  float64(cfg.OAuth.RetryMaxMillis),
			Factor:     2,
			Jitter:     0.1,
		},
	})

	// Wrap with observability middleware
	return tokenobs.Wrap(mgr)
}

// initializeGate builds the approval gate and its decision transport with
// observability. The returned transport is nil when Discord is not
// configured; decisions then arrive only through the admin service.
func initializeGate(ctx context.Context, cfg *store.Config, approvals interfaces.ApprovalStore) (interfaces.Gate, interfaces.DecisionTransport, error) {
	gate := approval.NewGate(approvals, nil, approval.Params{
		Approvers:      cfg.Approval.Approvers,
		DefaultTimeout: cfg.ApprovalTimeout(),
		PollInterval:   cfg.ApprovalPoll(),
		Bypass:         cfg.Approval.Bypass,
	})

	botToken := os.Getenv("DISCORD_BOT_TOKEN")
	if botToken == "" || cfg.Approval.DiscordChannel == "" {
		logger.Warn(ctx, "Discord transport not configured - approvals resolvable only via admin service")
		return approvalobs.Wrap(gate), nil, nil
	}

	transport, err := discord.New(discord.Config{
		Token:     botToken,
		ChannelID: cfg.Approval.DiscordChannel,
	}, gate)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create discord transport: %w", err)
	}
	gate.SetTransport(transport)

	return approvalobs.Wrap(gate), transport, nil
}

func timeSecs(n int) time.Duration { return time.Duration(n) * time.Second }

func time24h(days int) time.Duration { return time.Duration(days) * 24 * time.Hour }

// initializeBroker builds the brokerage client
func initializeBroker(ctx context.Context, cfg *store.Config, tokens interfaces.TokenSource) interfaces.Broker {
	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated")
	}
	return schwab.NewBroker(schwab.Params{
		Mode:    cfg.Mode,
		BaseURL: cfg.Broker.BaseURL,
		Timeout: timeSecs(cfg.Broker.TimeoutSeconds),
	}, tokens)
}
