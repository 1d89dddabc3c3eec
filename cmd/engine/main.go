package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/scanforge/internal/app/admission"
	"github.com/ahrav/scanforge/internal/app/normalize"
	"github.com/ahrav/scanforge/internal/app/orchestration"
	"github.com/ahrav/scanforge/internal/app/runner"
	"github.com/ahrav/scanforge/internal/config"
	domaincreds "github.com/ahrav/scanforge/internal/domain/credentials"
	"github.com/ahrav/scanforge/internal/domain/events"
	"github.com/ahrav/scanforge/internal/domain/scanning"
	infraaudit "github.com/ahrav/scanforge/internal/infra/audit"
	"github.com/ahrav/scanforge/internal/infra/credentials/githubapp"
	credmemory "github.com/ahrav/scanforge/internal/infra/credentials/memory"
	"github.com/ahrav/scanforge/internal/infra/eventbus"
	"github.com/ahrav/scanforge/internal/infra/eventbus/kafka"
	busmemory "github.com/ahrav/scanforge/internal/infra/eventbus/memory"
	policymemory "github.com/ahrav/scanforge/internal/infra/policy/memory"
	"github.com/ahrav/scanforge/internal/infra/progress"
	"github.com/ahrav/scanforge/internal/infra/sandbox/docker"
	"github.com/ahrav/scanforge/internal/infra/scanner"
	auditpg "github.com/ahrav/scanforge/internal/infra/storage/audit/postgres"
	reportspg "github.com/ahrav/scanforge/internal/infra/storage/reports/postgres"
	"github.com/ahrav/scanforge/pkg/common"
	"github.com/ahrav/scanforge/pkg/common/logger"
	"github.com/ahrav/scanforge/pkg/common/otel"
)

const serviceType = "engine"

// slotReleaser defers binding the admission controller: the controller needs
// the orchestrator as its launcher and the orchestrator needs the controller
// as its releaser, so one side is bound after construction.
type slotReleaser struct{ inner orchestration.SlotReleaser }

func (s *slotReleaser) Release(ctx context.Context, scanID uuid.UUID) {
	s.inner.Release(ctx, scanID)
}

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string { return otel.GetTraceID(ctx) }

	svcName := fmt.Sprintf("ENGINE-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Getenv("SCANFORGE_CONFIG"))
	if err != nil {
		log.Error(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	prob := 1.0
	if ratio := os.Getenv("OTEL_SAMPLING_RATIO"); ratio != "" {
		prob, err = strconv.ParseFloat(ratio, 64)
		if err != nil {
			log.Error(ctx, "failed to parse OTEL_SAMPLING_RATIO", "error", err)
			os.Exit(1)
		}
	}
	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      os.Getenv("OTEL_SERVICE_NAME"),
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: true, // TODO: Come back to setup TLS.
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(os.Getenv("OTEL_SERVICE_NAME"))

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			log.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := os.Getenv("POSTGRES_USER")
		password := os.Getenv("POSTGRES_PASSWORD")
		host := os.Getenv("POSTGRES_HOST")
		dbname := os.Getenv("POSTGRES_DB")

		if user == "" {
			user = "postgres"
		}
		if password == "" {
			password = "postgres"
		}
		if host == "" {
			host = "postgres"
		}
		if dbname == "" {
			dbname = "scanforge"
		}

		dsn = fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable",
			user, password, host, dbname)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		log.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = 5
	poolCfg.MaxConns = 20
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(ctx, pool); err != nil {
		log.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}

	log.Info(ctx, "Migrations applied successfully. Starting engine...")

	mp := otel.GetMeterProvider()

	clock := scanning.NewRealTimeProvider()

	// Event bus: Kafka when brokers are configured, in-memory otherwise.
	var eventBus events.EventBus
	if len(cfg.Kafka.Brokers) > 0 {
		busMetrics, err := kafka.NewEventBusMetrics(mp)
		if err != nil {
			log.Error(ctx, "failed to create event bus metrics", "error", err)
			os.Exit(1)
		}
		eventBus, err = kafka.ConnectWithRetry(&kafka.Config{
			Brokers:         cfg.Kafka.Brokers,
			ScanEventsTopic: cfg.Kafka.ScanEventsTopic,
			ProgressTopic:   cfg.Kafka.ProgressTopic,
			GroupID:         cfg.Kafka.GroupID,
			ClientID:        svcName,
		}, log, busMetrics, tracer)
		if err != nil {
			log.Error(ctx, "failed to connect event bus", "error", err)
			os.Exit(1)
		}
	} else {
		log.Warn(ctx, "No Kafka brokers configured, using in-memory event bus")
		eventBus = busmemory.NewEventBus()
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			log.Error(ctx, "Failed to close event bus", "error", err)
		}
	}()

	eventPublisher := eventbus.NewDomainEventPublisher(eventBus)

	// Credential broker: GitHub App when configured, in-memory otherwise.
	var broker domaincreds.Broker
	if cfg.GitHub.AppID != "" {
		keyPEM, err := os.ReadFile(cfg.GitHub.PrivateKeyPath)
		if err != nil {
			log.Error(ctx, "failed to read github app private key", "error", err)
			os.Exit(1)
		}
		broker, err = githubapp.NewBroker(githubapp.Config{
			AppID:          cfg.GitHub.AppID,
			InstallationID: cfg.GitHub.InstallationID,
			PrivateKeyPEM:  keyPEM,
		}, clock, log, tracer)
		if err != nil {
			log.Error(ctx, "failed to create github app broker", "error", err)
			os.Exit(1)
		}
	} else {
		log.Warn(ctx, "No GitHub App configured, using in-memory credential broker")
		broker = credmemory.NewBroker(clock)
	}

	recorderMetrics, err := infraaudit.NewRecorderMetrics(mp)
	if err != nil {
		log.Error(ctx, "failed to create audit recorder metrics", "error", err)
		os.Exit(1)
	}
	auditor := infraaudit.NewBufferedRecorder(
		auditpg.NewAuditStore(pool, tracer), 1024, log, recorderMetrics)
	defer auditor.Close()

	reportStore := reportspg.NewReportStore(pool, tracer)

	publisher := progress.NewPublisher(cfg.Progress.ReplayBuffer, log, tracer,
		progress.WithRelay(eventPublisher))

	catalog, err := config.LoadToolCatalog(os.Getenv("SCANFORGE_TOOL_CATALOG"))
	if err != nil {
		log.Error(ctx, "failed to load tool catalog", "error", err)
		os.Exit(1)
	}
	var adapters []runner.Adapter
	if catalog.IsEnabled("semgrep") {
		entry, _ := catalog.Entry("semgrep")
		adapters = append(adapters, scanner.NewSemgrep(entry.RulesPath))
	}
	if catalog.IsEnabled("bandit") {
		adapters = append(adapters, scanner.NewBandit())
	}
	if catalog.IsEnabled("ruff") {
		adapters = append(adapters, scanner.NewRuff())
	}
	if catalog.IsEnabled("gitleaks") {
		adapters = append(adapters, scanner.NewGitleaks())
	}
	registry, err := runner.NewRegistry(adapters...)
	if err != nil {
		log.Error(ctx, "failed to build adapter registry", "error", err)
		os.Exit(1)
	}
	toolRunner := runner.NewRunner(registry, cfg.Runner.Parallelism, cfg.Runner.ToolTimeout, log, tracer)
	normalizer := normalize.NewNormalizer(log, tracer)

	provider := docker.NewProvider(docker.Config{
		Image:   cfg.Sandbox.Image,
		Network: cfg.Sandbox.Network,
	}, log, tracer)

	orchMetrics, err := orchestration.NewOrchestrationMetrics(mp)
	if err != nil {
		log.Error(ctx, "failed to create orchestration metrics", "error", err)
		os.Exit(1)
	}

	releaser := new(slotReleaser)
	orchestrator := orchestration.NewOrchestrator(
		ctx,
		orchestration.Config{
			Limits:            cfg.Limits(),
			CredentialTTL:     cfg.Credentials.TTL,
			CloneTimeout:      cfg.Sandbox.CloneTimeout,
			HeartbeatInterval: cfg.Progress.HeartbeatInterval,
		},
		broker,
		provider,
		toolRunner,
		normalizer,
		reportStore,
		publisher,
		auditor,
		releaser,
		eventPublisher,
		clock,
		log,
		tracer,
		orchMetrics,
	)

	admMetrics, err := admission.NewAdmissionMetrics(mp)
	if err != nil {
		log.Error(ctx, "failed to create admission metrics", "error", err)
		os.Exit(1)
	}
	controller := admission.NewController(
		cfg.Admission.MaxGlobal,
		cfg.Admission.TenantCeiling,
		policymemory.NewPolicyStore(cfg.Policies()),
		orchestrator,
		publisher,
		auditor,
		clock,
		log,
		tracer,
		admMetrics,
	)
	releaser.inner = controller

	log.Info(ctx, "Engine initialized",
		"max_global", cfg.Admission.MaxGlobal,
		"tenant_ceiling", cfg.Admission.TenantCeiling,
		"tenants", len(cfg.Tenants),
	)
	ready.Store(true)

	sig := <-sigCh
	log.Info(ctx, "Received shutdown signal", "signal", sig)
	ready.Store(false)
	cancel() // Begins the drain: running scans observe cancellation.

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "Failed to drain orchestrator", "error", err)
	}
}

// runMigrations uses golang-migrate to apply all up migrations from
// "db/migrations". It acquires a single pgx connection from the pool, runs
// migrations, and then releases the connection back to the pool.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release()

	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	const migrationsPath = "file:///app/db/migrations"
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}
