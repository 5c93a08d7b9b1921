package admin

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

	"github.com/as775116191/ragflow/internal/api/handlers"
	"github.com/as775116191/ragflow/internal/config"
	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/jobs"
	"github.com/as775116191/ragflow/internal/kbsync"
	"github.com/as775116191/ragflow/internal/server"
	"github.com/as775116191/ragflow/internal/service"
	"github.com/as775116191/ragflow/internal/telemetry"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the ragflow API server with the ingestion worker and, when configured, the sync scheduler",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	closeLog := telemetry.SetupLogging(telemetry.LogConfig{File: cfg.LogFile, MaxSizeMB: cfg.LogMaxSizeMB})
	defer closeLog()

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	if portFlag, _ := cmd.Flags().GetString("port"); portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := getDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Println("connected to database")

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a, err := newApp(ctx, cfg, pool)
	if err != nil {
		return err
	}

	if cfg.InitUserEmail != "" {
		if err := bootstrapInitialUser(ctx, cfg, a.auth); err != nil {
			return fmt.Errorf("failed to bootstrap initial user: %w", err)
		}
	}

	ingestWorker := jobs.NewWorker("ingestion", jobs.NewIngestionWorker(a.jobRepo, a.ingestion), cfg.IngestPollInterval)
	go ingestWorker.Start(ctx)
	log.Println("ingestion worker started")

	var schedWorker *jobs.Worker
	if a.orch != nil && cfg.SyncInterval > 0 {
		schedWorker = jobs.NewWorker("sync-scheduler", kbsync.NewScheduler(a.kbRepo, a.orch, cfg.SyncConcurrency), cfg.SyncInterval)
		go schedWorker.Start(ctx)
		log.Printf("sync scheduler started (interval %s)", cfg.SyncInterval)
	}

	var syncHandler *handlers.SyncHandler
	if a.orch != nil {
		syncHandler = handlers.NewSyncHandler(a.kbs, a.orch, cfg.SyncCancelWait)
	} else {
		syncHandler = handlers.NewSyncHandler(a.kbs, nil, cfg.SyncCancelWait)
	}

	router := server.NewRouter(server.RouterConfig{
		Auth:                 a.auth,
		KnowledgeBaseHandler: handlers.NewKnowledgeBaseHandler(a.kbs),
		DocumentHandler:      handlers.NewDocumentHandler(a.kbs, a.docs),
		SyncHandler:          syncHandler,
		AuthHandler:          handlers.NewAuthHandler(a.auth),
		MaxUploadBytes:       cfg.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	if schedWorker != nil {
		schedWorker.Stop()
	}
	if a.orch != nil {
		if err := a.orch.Shutdown(shutdownCtx); err != nil {
			log.Printf("sync shutdown: %v", err)
		}
	}
	ingestWorker.Stop()

	log.Println("server exited")
	return nil
}

// bootstrapInitialUser makes sure the configured user exists and, when an
// initial key is configured, that the key authenticates as that user.
func bootstrapInitialUser(ctx context.Context, cfg *config.Config, auth *service.AuthService) error {
	user, err := auth.GetOrCreateUser(ctx, cfg.InitUserEmail)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	log.Printf("bootstrap: user '%s' ready (id: %s)", user.Email, user.ID)

	if cfg.InitAPIKey == "" {
		return nil
	}
	if !service.IsValidAPIToken(cfg.InitAPIKey) {
		return fmt.Errorf("invalid RAGFLOW_INIT_API_KEY format (expected 'rfk_<64 hex chars>')")
	}

	owner, err := auth.ValidateAPIKey(ctx, cfg.InitAPIKey)
	switch {
	case err == nil:
		log.Printf("bootstrap: API key already exists (user: %s)", owner)
		return nil
	case errors.Is(err, domain.ErrAPIKeyRevoked):
		return fmt.Errorf("RAGFLOW_INIT_API_KEY has been revoked")
	}

	if err := auth.CreateAPIKeyWithToken(ctx, user.ID, "bootstrap", cfg.InitAPIKey); err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}
	log.Printf("bootstrap: created API key")
	return nil
}
