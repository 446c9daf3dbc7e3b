// SolSentry - Payment-gated DeFi exploit intelligence API
package main

import (
	"context"
	"os"

	"github.com/solsentry/solsentry/internal/config"
	"github.com/solsentry/solsentry/internal/logging"
	"github.com/solsentry/solsentry/internal/server"
	"github.com/solsentry/solsentry/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting solsentry",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"payment_wallet", cfg.PaymentWallet,
		"price_lamports", cfg.PriceLamports,
	)

	ctx := context.Background()

	// Tracing is a no-op unless an OTLP endpoint is configured
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(context.Background()) }()

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
