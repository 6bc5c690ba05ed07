package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"

	"github.com/alfredjeanlab/listings/internal/events"
	"github.com/alfredjeanlab/listings/internal/normalize"
)

// EnvPrefix is prepended to every variable name below.
const EnvPrefix = "INGEST_"

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`                // INGEST_DATABASE_URL (required unless dry run)
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"` // INGEST_HTTP_ADDR (admin HTTP for serve)
	NATSURL     string `env:"NATS_URL"`                     // INGEST_NATS_URL (optional, empty = no events)
	NATSPrefix  string `env:"NATS_SUBJECT_PREFIX"`          // INGEST_NATS_SUBJECT_PREFIX (optional, e.g. "blr")
	RedisURL    string `env:"REDIS_URL"`                    // INGEST_REDIS_URL (optional, empty = in-process lock)
	AuthToken   string `env:"AUTH_TOKEN"`                   // INGEST_AUTH_TOKEN (optional, guards POST /v1/runs)
	LogMode     string `env:"LOG_MODE" envDefault:"dev"`    // INGEST_LOG_MODE ("dev" or "prod")

	SourcesFile string `env:"SOURCES_FILE" envDefault:"sources.toml"` // INGEST_SOURCES_FILE
	TrackingID  string `env:"TRACKING_ID"`                            // INGEST_TRACKING_ID (empty = links left undecorated)

	// Normalization
	Timezone       string `env:"TIMEZONE" envDefault:"Asia/Kolkata"`      // INGEST_TIMEZONE
	Currency       string `env:"CURRENCY" envDefault:"₹"`                 // INGEST_CURRENCY
	YearlessPolicy string `env:"YEARLESS_POLICY" envDefault:"infer_next"` // INGEST_YEARLESS_POLICY ("infer_next" or "reject")

	// Run control
	RunTimeout     time.Duration `env:"RUN_TIMEOUT" envDefault:"10m"`     // INGEST_RUN_TIMEOUT
	CommitTimeout  time.Duration `env:"COMMIT_TIMEOUT" envDefault:"2m"`   // INGEST_COMMIT_TIMEOUT
	Parallelism    int           `env:"PARALLELISM" envDefault:"4"`       // INGEST_PARALLELISM
	DedupThreshold float64       `env:"DEDUP_THRESHOLD" envDefault:"0.8"` // INGEST_DEDUP_THRESHOLD
	SweepEmpty     bool          `env:"SWEEP_EMPTY" envDefault:"false"`   // INGEST_SWEEP_EMPTY
	WriteRetries   int           `env:"WRITE_RETRIES" envDefault:"2"`     // INGEST_WRITE_RETRIES
	LockTTL        time.Duration `env:"LOCK_TTL" envDefault:"15m"`        // INGEST_LOCK_TTL
	Schedule       string        `env:"SCHEDULE" envDefault:"@every 6h"`  // INGEST_SCHEDULE (serve only; "" = no schedule)

	// Tracing
	TraceExporter string `env:"TRACE_EXPORTER"` // INGEST_TRACE_EXPORTER ("", "stdout" or "otlp")
	TraceEndpoint string `env:"TRACE_ENDPOINT"` // INGEST_TRACE_ENDPOINT (otlp host:port)

	// Snapshot export
	ExportAfterRun   bool   `env:"EXPORT_AFTER_RUN"`                                 // INGEST_EXPORT_AFTER_RUN
	ExportS3Bucket   string `env:"EXPORT_S3_BUCKET"`                                 // INGEST_EXPORT_S3_BUCKET (enables S3 when set)
	ExportS3Endpoint string `env:"EXPORT_S3_ENDPOINT"`                               // INGEST_EXPORT_S3_ENDPOINT (custom endpoint for MinIO)
	ExportS3Region   string `env:"EXPORT_S3_REGION" envDefault:"us-east-1"`          // INGEST_EXPORT_S3_REGION
	ExportS3Key      string `env:"EXPORT_S3_KEY" envDefault:"listings/active.jsonl"` // INGEST_EXPORT_S3_KEY
	ExportFile       string `env:"EXPORT_FILE"`                                      // INGEST_EXPORT_FILE (local path)

	// After-run hook
	AfterRunCommand string        `env:"AFTER_RUN_COMMAND"`                 // INGEST_AFTER_RUN_COMMAND (sh -c, sees INGEST_RUN_* vars)
	AfterRunTimeout time.Duration `env:"AFTER_RUN_TIMEOUT" envDefault:"30s"` // INGEST_AFTER_RUN_TIMEOUT
}

// Load reads an optional .env file from the working directory, then parses
// INGEST_* variables. Variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the environment without touching .env.
func Parse() (*Config, error) {
	c := &Config{}
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("INGEST_TIMEZONE: %w", err)
	}
	if !normalize.YearlessPolicy(c.YearlessPolicy).IsValid() {
		return fmt.Errorf("INGEST_YEARLESS_POLICY: invalid value %q", c.YearlessPolicy)
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("INGEST_RUN_TIMEOUT must be positive")
	}
	if c.CommitTimeout <= 0 {
		return fmt.Errorf("INGEST_COMMIT_TIMEOUT must be positive")
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("INGEST_PARALLELISM must be at least 1")
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("INGEST_DEDUP_THRESHOLD must be in (0, 1]")
	}
	if c.WriteRetries < 0 {
		return fmt.Errorf("INGEST_WRITE_RETRIES must not be negative")
	}
	if err := events.CheckSubjectPrefix(c.NATSPrefix); err != nil {
		return fmt.Errorf("INGEST_NATS_SUBJECT_PREFIX: %w", err)
	}
	switch strings.ToLower(c.TraceExporter) {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("INGEST_TRACE_EXPORTER: invalid value %q", c.TraceExporter)
	}
	return nil
}

// RequireDatabase fails when no database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("INGEST_DATABASE_URL is required")
	}
	return nil
}

// Location returns the configured time zone. validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
