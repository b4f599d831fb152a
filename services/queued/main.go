package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"atomicqueue/config"
	"atomicqueue/core"
	"atomicqueue/core/genesis"
	"atomicqueue/observability/logging"
	telemetry "atomicqueue/observability/otel"
	queuedconfig "atomicqueue/services/queued/config"
	"atomicqueue/services/queued/server"
	noncestore "atomicqueue/services/queued/storage"
	"atomicqueue/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/queued/config.yaml", "path to queued configuration file")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		log.Fatalf("queued: %v", err)
	}
}

func run(cfgPath string) error {
	cfg, err := queuedconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	nodeCfg, err := config.Load(cfg.NodeConfig)
	if err != nil {
		return fmt.Errorf("load node config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("ATOMICQUEUE_ENV"))
	level, logFile := nodeCfg.LogLevel, nodeCfg.LogFile
	if cfg.Log.Level != "" {
		level = cfg.Log.Level
	}
	if cfg.Log.File != "" {
		logFile = cfg.Log.File
	}
	logger, logCloser := logging.Setup("queued", env,
		logging.WithLevel(level),
		logging.WithFile(logFile, 100, 5, 30),
	)
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "queued",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	node, err := openNode(nodeCfg, logger)
	if err != nil {
		return err
	}
	defer node.Close()

	nonces, err := noncestore.OpenNonceStore(cfg.NonceDB)
	if err != nil {
		return err
	}
	defer nonces.Close()

	auth, err := server.NewAuthenticator(server.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  cfg.Auth.ClockSkew.Duration,
	}, logger)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	limiter := server.NewRateLimiter(map[string]server.RateLimit{
		"read":  {RequestsPerMinute: cfg.RateLimits.Read.RequestsPerMinute, Burst: cfg.RateLimits.Read.Burst},
		"write": {RequestsPerMinute: cfg.RateLimits.Write.RequestsPerMinute, Burst: cfg.RateLimits.Write.Burst},
	})

	srv, err := server.New(server.Config{
		ListenAddress:     cfg.ListenAddress,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Duration,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout.Duration,
		EventBuffer:       cfg.Server.EventBuffer,
	}, node, nonces, auth, limiter, logger)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

// openNode opens the state database, applies genesis on first start and
// registers the configured peer-to-peer solvers.
func openNode(cfg *config.Config, logger *slog.Logger) (*core.Node, error) {
	queueAddr, err := cfg.QueueIdentity()
	if err != nil {
		return nil, err
	}
	solvers, err := cfg.P2PSolverIdentities()
	if err != nil {
		return nil, err
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	node, err := core.NewNode(db, queueAddr, core.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open node: %w", err)
	}
	if cfg.GenesisFile != "" {
		spec, err := genesis.LoadSpec(cfg.GenesisFile)
		if err != nil {
			node.Close()
			return nil, err
		}
		applied, err := node.ApplyGenesis(spec)
		if err != nil {
			node.Close()
			return nil, fmt.Errorf("apply genesis: %w", err)
		}
		if applied {
			logger.Info("genesis applied", "file", cfg.GenesisFile, "root", node.Root().Hex())
		}
	}
	for _, account := range solvers {
		node.RegisterP2PSolver(account)
	}
	return node, nil
}
