package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL    string        `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns     int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns     int32         `envconfig:"DB_MIN_CONNS" default:"0"`
	DBConnIdleTime time.Duration `envconfig:"DB_CONN_IDLE_TIME" default:"5m"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"ragflow-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`

	GraphTenantID     string `envconfig:"GRAPH_TENANT_ID"`
	GraphClientID     string `envconfig:"GRAPH_CLIENT_ID"`
	GraphClientSecret string `envconfig:"GRAPH_CLIENT_SECRET"`
	GraphBaseURL      string `envconfig:"GRAPH_BASE_URL" default:"https://graph.microsoft.com/v1.0"`

	// SyncInterval of zero disables the periodic scheduler.
	SyncInterval          time.Duration `envconfig:"SYNC_INTERVAL" default:"0"`
	SyncConcurrency       int           `envconfig:"SYNC_CONCURRENCY" default:"4"`
	SyncRunTimeout        time.Duration `envconfig:"SYNC_RUN_TIMEOUT" default:"30m"`
	SyncFetchTimeout      time.Duration `envconfig:"SYNC_FETCH_TIMEOUT" default:"30s"`
	SyncCancelWait        time.Duration `envconfig:"SYNC_CANCEL_WAIT" default:"30s"`
	SyncAllowedExtensions []string      `envconfig:"SYNC_ALLOWED_EXTENSIONS"`

	// MaxUploadBytes caps a single document upload.
	MaxUploadBytes int64 `envconfig:"MAX_UPLOAD_BYTES" default:"67108864"`

	IngestPollInterval time.Duration `envconfig:"INGEST_POLL_INTERVAL" default:"5s"`

	LogFile      string `envconfig:"LOG_FILE"`
	LogMaxSizeMB int    `envconfig:"LOG_MAX_SIZE_MB" default:"50"`

	// Bootstrap: create initial user and API key on startup
	InitUserEmail string `envconfig:"INIT_USER_EMAIL"`
	InitAPIKey    string `envconfig:"INIT_API_KEY"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("RAGFLOW", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// HasGraph reports whether provider credentials for drive and mailbox syncs are set.
func (c *Config) HasGraph() bool {
	return c.GraphTenantID != "" && c.GraphClientID != "" && c.GraphClientSecret != ""
}
