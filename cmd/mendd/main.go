// Mendd is the task orchestration and repair-escalation daemon.
//
// It accepts test-authoring and fix tasks over HTTP, routes them to a
// generation tier by complexity and budget, drives generation,
// execution, validation, and regression-safe repair, and escalates what
// automation cannot fix to a prioritized human review queue.
//
// Configuration is loaded from ~/.config/mendd/config.yaml and
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	mendd
//
//	# Configure via environment
//	SERVER_PORT=8087 NATS_EMBEDDED=true mendd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fernworks/mendd/internal/budget"
	"github.com/fernworks/mendd/internal/collab"
	"github.com/fernworks/mendd/internal/complexity"
	"github.com/fernworks/mendd/internal/config"
	"github.com/fernworks/mendd/internal/escalation"
	"github.com/fernworks/mendd/internal/httpapi"
	"github.com/fernworks/mendd/internal/logging"
	"github.com/fernworks/mendd/internal/orchestrator"
	"github.com/fernworks/mendd/internal/patterns"
	"github.com/fernworks/mendd/internal/repair"
	"github.com/fernworks/mendd/internal/retry"
	"github.com/fernworks/mendd/internal/router"
	"github.com/fernworks/mendd/internal/statestore"
	"github.com/fernworks/mendd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  mendd           Start the mendd daemon\n")
			fmt.Fprintf(os.Stderr, "  mendd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Shutdown complete")
}

func printVersion() {
	fmt.Printf("mendd by Fernworks\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
// Initialization order:
//  1. Configuration, logger, telemetry
//  2. Infrastructure (NATS, pattern store, state store)
//  3. Domain services (ledger, router, repair loop, escalation queue)
//  4. Orchestrator pool and HTTP API
func run(ctx context.Context, configPath string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(&logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
		Fields: map[string]string{"service": cfg.Observability.ServiceName},
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logging.Sync(logger)

	logger.Info("starting mendd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
	)

	tel, err := telemetry.New(ctx, &telemetry.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		TracesEnabled:  cfg.Observability.TracesEnabled,
		MetricsEnabled: cfg.Observability.MetricsEnabled,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("dependencies initialized",
		zap.Bool("nats_embedded", deps.embedded != nil),
		zap.String("nats_url", deps.natsURL),
	)

	svcs, err := initServices(ctx, cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}
	defer func() {
		if err := svcs.orchestrator.Close(); err != nil {
			logger.Warn("orchestrator shutdown failed", zap.Error(err))
		}
	}()

	srv, err := httpapi.NewServer(&httpapi.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
		ServiceName:     cfg.Observability.ServiceName,
	}, svcs.orchestrator, svcs.escalations, logger)
	if err != nil {
		return fmt.Errorf("initializing http api: %w", err)
	}

	return srv.Start(ctx)
}

// dependencies holds infrastructure resources.
type dependencies struct {
	embedded *natsserver.Server
	natsConn *nats.Conn
	natsURL  string
	patterns patterns.Store
	state    *statestore.Store
	logger   *zap.Logger
}

// Close releases infrastructure resources.
func (d *dependencies) Close() {
	if d.patterns != nil {
		if err := d.patterns.Close(); err != nil {
			d.logger.Warn("pattern store close failed", zap.Error(err))
		}
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.embedded != nil {
		d.embedded.Shutdown()
		d.embedded.WaitForShutdown()
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	d := &dependencies{logger: logger}

	d.natsURL = cfg.NATS.URL
	if cfg.NATS.Embedded {
		srv, err := statestore.StartEmbedded(&statestore.EmbeddedConfig{
			Host:         "127.0.0.1",
			Port:         -1,
			StoreDir:     cfg.NATS.StoreDir,
			ReadyTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		d.embedded = srv
		d.natsURL = srv.ClientURL()
	}

	nc, err := nats.Connect(d.natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("connecting to NATS at %s: %w", d.natsURL, err)
	}
	d.natsConn = nc

	state, err := statestore.New(ctx, &statestore.Config{
		TaskBucket:       cfg.NATS.TaskBucket,
		EscalationBucket: cfg.NATS.EscalationBucket,
		TaskTTL:          cfg.NATS.TaskTTL.Duration(),
	}, nc, logger)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("creating state store: %w", err)
	}
	d.state = state

	embedder, err := patterns.NewLangchainEmbedder(patterns.EmbedderConfig{
		BaseURL: cfg.Patterns.Embeddings.BaseURL,
		Model:   cfg.Patterns.Embeddings.Model,
		APIKey:  cfg.Patterns.Embeddings.APIKey.Value(),
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	store, err := patterns.NewStore(&patterns.Config{
		Path:                  cfg.Patterns.Path,
		AttemptsCollection:    cfg.Patterns.AttemptsCollection,
		AnnotationsCollection: cfg.Patterns.AnnotationsCollection,
		ReinforceDelta:        cfg.Patterns.ReinforceDelta,
	}, embedder, logger)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("creating pattern store: %w", err)
	}
	d.patterns = store

	return d, nil
}

// services holds the wired domain services.
type services struct {
	orchestrator orchestrator.Service
	escalations  escalation.Service
}

func initServices(ctx context.Context, cfg *config.Config, deps *dependencies, logger *zap.Logger) (*services, error) {
	ledger := budget.NewLedger(&budget.Config{
		SessionLimit:         decimal.NewFromFloat(cfg.Budget.SessionLimit),
		DailyLimit:           decimal.NewFromFloat(cfg.Budget.DailyLimit),
		FeatureLimit:         decimal.NewFromFloat(cfg.Budget.FeatureLimit),
		CriticalFeatureLimit: decimal.NewFromFloat(cfg.Budget.CriticalFeatureLimit),
		CriticalFeatures:     cfg.Budget.CriticalFeatures,
		WarnFraction:         cfg.Budget.WarnFraction,
	}, logger)

	rtr := router.New(&router.Config{
		HardThreshold: cfg.Router.HardThreshold,
		DefaultCap:    decimal.NewFromFloat(cfg.Router.DefaultCap),
		CriticalCap:   decimal.NewFromFloat(cfg.Router.CriticalCap),
	})

	clients, err := collab.New(&collab.Config{
		GeneratorURL: cfg.Collaborators.GeneratorURL,
		ExecutorURL:  cfg.Collaborators.ExecutorURL,
		ValidatorURL: cfg.Collaborators.ValidatorURL,
		GateURL:      cfg.Collaborators.GateURL,
		SuiteURL:     cfg.Collaborators.SuiteURL,
		Timeout:      cfg.Collaborators.Timeout.Duration(),
		APIKey:       cfg.Collaborators.APIKey.Value(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating collaborator clients: %w", err)
	}

	// One token bucket shared by generation and repair calls.
	limiter := rate.NewLimiter(
		rate.Limit(cfg.Orchestrator.GenerateRatePerSecond),
		cfg.Orchestrator.GenerateBurst,
	)
	generator := orchestrator.RateLimit(clients.Generator, limiter)

	retryCfg := retry.Config{
		MaxTries:        uint(cfg.Repair.RetryMaxTries),
		InitialInterval: cfg.Repair.RetryInitialInterval.Duration(),
		MaxInterval:     cfg.Repair.RetryMaxInterval.Duration(),
	}

	loop, err := repair.NewLoop(&repair.Config{
		ConfidenceThreshold: cfg.Repair.ConfidenceThreshold,
		MaxAttempts:         cfg.Repair.MaxAttempts,
		SimilarFixLimit:     cfg.Repair.SimilarFixLimit,
		Retry:               retryCfg,
	}, generator, clients.Suite, deps.patterns, ledger, logger)
	if err != nil {
		return nil, fmt.Errorf("creating repair loop: %w", err)
	}

	queue, err := escalation.NewQueue(ctx, &escalation.Config{
		Weights: escalation.Weights{
			Attempts: cfg.Escalation.WeightAttempts,
			Cost:     cfg.Escalation.WeightCost,
			Critical: cfg.Escalation.WeightCritical,
			Age:      cfg.Escalation.WeightAge,
		},
		Window:                cfg.Escalation.AgingWindow.Duration(),
		HighPriorityThreshold: cfg.Escalation.HighPriorityThreshold,
		MaxAttempts:           cfg.Repair.MaxAttempts,
	}, deps.patterns, deps.state, logger)
	if err != nil {
		return nil, fmt.Errorf("creating escalation queue: %w", err)
	}

	engine, err := orchestrator.NewEngine(&orchestrator.EngineConfig{
		RubricCeilingMS:     cfg.Orchestrator.RubricCeilingMS,
		GateMaxRetries:      cfg.Orchestrator.GateMaxRetries,
		ContextPatternLimit: cfg.Orchestrator.ContextPatternLimit,
		Retry:               retryCfg,
	}, orchestrator.EngineDeps{
		Estimator: complexity.NewEstimator(),
		Router:    rtr,
		Ledger:    ledger,
		Generator: generator,
		Gate:      clients.Gate,
		Executor:  clients.Executor,
		Validator: clients.Validator,
		Loop:      loop,
		Queue:     queue,
		Store:     deps.patterns,
		State:     deps.state,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	pool, err := orchestrator.NewService(&orchestrator.PoolConfig{
		Workers:   cfg.Orchestrator.Workers,
		QueueSize: cfg.Orchestrator.QueueSize,
	}, engine, logger)
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator pool: %w", err)
	}

	return &services{
		orchestrator: pool,
		escalations:  queue,
	}, nil
}
