package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/as775116191/ragflow/internal/config"
	"github.com/as775116191/ragflow/internal/database"
	"github.com/as775116191/ragflow/internal/graph"
	"github.com/as775116191/ragflow/internal/kbsync"
	"github.com/as775116191/ragflow/internal/openai"
	"github.com/as775116191/ragflow/internal/repository"
	"github.com/as775116191/ragflow/internal/service"
	"github.com/as775116191/ragflow/internal/storage"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// app holds the services shared by the server and the admin commands.
type app struct {
	cfg  *config.Config
	pool *pgxpool.Pool

	auth      *service.AuthService
	kbs       *service.KnowledgeBaseService
	docs      *service.DocumentService
	ingestion *service.IngestionService

	kbRepo  *repository.KnowledgeBaseRepository
	jobRepo *repository.IngestionJobRepository

	// orch is nil when blob storage is not configured.
	orch *kbsync.Orchestrator
}

func getDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return database.NewPool(ctx, cfg.DatabaseURL, database.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnIdleTime: cfg.DBConnIdleTime,
	})
}

// openAuth is enough for user, tenant and key management.
func openAuth(ctx context.Context) (*service.AuthService, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	pool, err := getDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return newAuthService(pool), pool, nil
}

func newAuthService(pool *pgxpool.Pool) *service.AuthService {
	return service.NewAuthService(
		repository.NewUserRepository(pool),
		repository.NewTenantRepository(pool),
		repository.NewAPIKeyRepository(pool),
		&service.DefaultUUIDGenerator{},
	)
}

// newApp wires repositories, services and, when S3 is configured, the sync
// orchestrator.
func newApp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (*app, error) {
	a := &app{
		cfg:     cfg,
		pool:    pool,
		auth:    newAuthService(pool),
		kbRepo:  repository.NewKnowledgeBaseRepository(pool),
		jobRepo: repository.NewIngestionJobRepository(pool),
	}

	docRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewDocumentChunkRepository(pool)

	var blobs *storage.S3Client
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		blobs = s3Client
	} else {
		log.Println("S3 not configured: uploads and syncs are disabled")
	}

	var embedder service.EmbeddingClient
	if cfg.HasOpenAI() {
		client, err := openai.NewClient(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding client: %w", err)
		}
		embedder = client
	}

	tx := repository.NewTxRunner(pool)
	if blobs != nil {
		a.docs = service.NewDocumentService(docRepo, chunkRepo, a.jobRepo, blobs, tx)
		a.ingestion = service.NewIngestionService(docRepo, chunkRepo, blobs, embedder)
	} else {
		a.docs = service.NewDocumentService(docRepo, chunkRepo, a.jobRepo, nil, tx)
		a.ingestion = service.NewIngestionService(docRepo, chunkRepo, nil, embedder)
	}

	if blobs != nil {
		var graphClient *graph.Client
		if cfg.HasGraph() {
			graphClient = graph.NewClient(ctx, graph.Config{
				TenantID:     cfg.GraphTenantID,
				ClientID:     cfg.GraphClientID,
				ClientSecret: cfg.GraphClientSecret,
				BaseURL:      cfg.GraphBaseURL,
				Timeout:      cfg.SyncFetchTimeout,
			})
		} else {
			log.Println("graph credentials not configured: syncs will fail with a configuration error")
		}

		syncCfg := kbsync.DefaultConfig()
		syncCfg.RunTimeout = cfg.SyncRunTimeout
		syncCfg.FetchTimeout = cfg.SyncFetchTimeout

		reconciler := kbsync.NewReconciler(a.docs, blobs, a.docs, kbsync.ReconcilerConfig{
			Policy:       kbsync.NewContentPolicy(cfg.SyncAllowedExtensions),
			Retry:        syncCfg.Retry,
			FetchTimeout: cfg.SyncFetchTimeout,
		})
		a.orch = kbsync.NewOrchestrator(a.kbRepo, repository.NewSyncCursorRepository(pool), graph.NewSources(graphClient), reconciler, syncCfg)
		a.docs.SetSyncGuard(a.orch)
		a.kbs = service.NewKnowledgeBaseService(a.kbRepo, a.docs, a.orch)
	} else {
		a.kbs = service.NewKnowledgeBaseService(a.kbRepo, a.docs, nil)
	}

	return a, nil
}

var errSyncUnavailable = errors.New("sync requires S3 storage (set RAGFLOW_S3_ENDPOINT and credentials)")

func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Println("migrations: no migrations applied")
	case err != nil:
		return fmt.Errorf("failed to get migration version: %w", err)
	case dirty:
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	default:
		log.Printf("migrations: database at version %d", version)
	}

	return nil
}
