// Synmd is the personal-data mediation daemon.
//
// It fronts private stores (vector and structured) with a policy-checked,
// redacting, audited disclosure surface: agents request context through
// scoped sessions and every byte that leaves is logged before the
// response is returned.
//
// Usage:
//
//	# Start with defaults (embedded stores, policy dir ./policies)
//	synmd
//
//	# Point at a config file
//	synmd -config /etc/synm/config.yaml
//
//	# Configure via environment
//	SERVER_PORT=9090 POLICY_PATH=/etc/synm/policies synmd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ky13/synm/internal/assemble"
	"github.com/ky13/synm/internal/config"
	"github.com/ky13/synm/internal/httpapi"
	"github.com/ky13/synm/internal/logging"
	"github.com/ky13/synm/internal/mediator"
	"github.com/ky13/synm/internal/session"
	"github.com/ky13/synm/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config YAML")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("synmd\nVersion:    %s\nCommit:     %s\nBuild Date: %s\n", version, gitCommit, buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("synmd: %v", err)
	}
}

// run wires the whole daemon and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level, err := logging.LevelFromString(cfg.Observability.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Observability.LogFormat

	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting synmd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("retrieval_provider", cfg.Retrieval.Provider),
	)

	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Observability.EnableTelemetry
	telCfg.ServiceName = cfg.Observability.ServiceName
	telCfg.ServiceVersion = version
	if cfg.Observability.Endpoint != "" {
		telCfg.Endpoint = cfg.Observability.Endpoint
	}

	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		logger.Warn(ctx, "telemetry unavailable, continuing without", zap.Error(err))
	} else if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without",
			zap.String("reason", h.Reason))
	}
	defer func() {
		if tel != nil {
			_ = tel.Shutdown(context.Background())
		}
	}()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close(ctx)

	assembler := assemble.New(deps.router, deps.engine, deps.counter,
		assemble.Config{TopK: cfg.Retrieval.TopK}, logger)

	med := mediator.New(
		session.NewManager(),
		deps.policies,
		assembler,
		deps.auditor,
		deps.publisher,
		mediator.Config{
			DefaultMaxTokens: cfg.Assemble.DefaultMaxTokens,
			MaxTokensCap:     cfg.Assemble.MaxTokensCap,
		},
		logger,
	)

	srv, err := httpapi.NewServer(cfg, med, logger, tel.Meter("synm/httpapi"))
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	logger.Info(ctx, "server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"),
		zap.Int("profiles", len(deps.policies.ProfileIDs())),
	)

	return srv.Start(ctx)
}
