package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llm-trading-gateway/internal/engine"
	"llm-trading-gateway/internal/logger"
	"llm-trading-gateway/internal/server"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	must(initializeSystem())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(ctx)
	must(err)

	compressOldLogs(ctx)

	creds, approvals, db, err := initializeStores(ctx, cfg)
	must(err)
	if db != nil {
		defer db.Close()
	}

	tokens := initializeTokens(ctx, cfg, creds)
	gate, transport, err := initializeGate(ctx, cfg, approvals)
	must(err)

	if transport != nil {
		must(transport.Start(ctx))
		defer transport.Stop(ctx)
	}

	brk := initializeBroker(ctx, cfg, tokens)
	exec := engine.New(gate, brk)

	handler := &server.GatewayHandler{
		Tokens:    tokens,
		Broker:    brk,
		Executor:  exec,
		Approvals: approvals,
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: handler.Router(),
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info(ctx, "Gateway started", "addr", srv.Addr, "mode", cfg.Mode)
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
