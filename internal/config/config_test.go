package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alfredjeanlab/listings/internal/model"
)

// ingestEnvVars lists every variable Parse reads; tests start from a clean slate.
var ingestEnvVars = []string{
	"INGEST_DATABASE_URL", "INGEST_HTTP_ADDR", "INGEST_NATS_URL", "INGEST_NATS_SUBJECT_PREFIX", "INGEST_REDIS_URL",
	"INGEST_AUTH_TOKEN", "INGEST_LOG_MODE", "INGEST_SOURCES_FILE", "INGEST_TRACKING_ID",
	"INGEST_TIMEZONE", "INGEST_CURRENCY", "INGEST_YEARLESS_POLICY", "INGEST_RUN_TIMEOUT",
	"INGEST_COMMIT_TIMEOUT", "INGEST_PARALLELISM", "INGEST_DEDUP_THRESHOLD",
	"INGEST_SWEEP_EMPTY", "INGEST_WRITE_RETRIES", "INGEST_LOCK_TTL", "INGEST_SCHEDULE",
	"INGEST_TRACE_EXPORTER", "INGEST_TRACE_ENDPOINT", "INGEST_EXPORT_AFTER_RUN",
	"INGEST_EXPORT_S3_BUCKET", "INGEST_EXPORT_S3_ENDPOINT", "INGEST_EXPORT_S3_REGION",
	"INGEST_EXPORT_S3_KEY", "INGEST_EXPORT_FILE", "INGEST_AFTER_RUN_COMMAND", "INGEST_AFTER_RUN_TIMEOUT",
}

// clearAllEnv unsets every INGEST_ variable for the duration of the test.
func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range ingestEnvVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestParseDefaults(t *testing.T) {
	clearAllEnv(t)

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.Timezone != "Asia/Kolkata" {
		t.Errorf("Timezone = %q", cfg.Timezone)
	}
	if cfg.Currency != "₹" {
		t.Errorf("Currency = %q", cfg.Currency)
	}
	if cfg.YearlessPolicy != "infer_next" {
		t.Errorf("YearlessPolicy = %q", cfg.YearlessPolicy)
	}
	if cfg.RunTimeout != 10*time.Minute || cfg.CommitTimeout != 2*time.Minute {
		t.Errorf("timeouts = %v/%v", cfg.RunTimeout, cfg.CommitTimeout)
	}
	if cfg.Parallelism != 4 || cfg.WriteRetries != 2 {
		t.Errorf("Parallelism = %d, WriteRetries = %d", cfg.Parallelism, cfg.WriteRetries)
	}
	if cfg.DedupThreshold != 0.8 {
		t.Errorf("DedupThreshold = %v", cfg.DedupThreshold)
	}
	if cfg.SweepEmpty {
		t.Error("SweepEmpty defaulted to true")
	}
	if cfg.ExportS3Region != "us-east-1" || cfg.ExportS3Key != "listings/active.jsonl" {
		t.Errorf("export defaults = %q %q", cfg.ExportS3Region, cfg.ExportS3Key)
	}
	if cfg.AfterRunCommand != "" || cfg.AfterRunTimeout != 30*time.Second {
		t.Errorf("after-run defaults = %q %v", cfg.AfterRunCommand, cfg.AfterRunTimeout)
	}
	if err := cfg.RequireDatabase(); err == nil {
		t.Error("RequireDatabase() succeeded without INGEST_DATABASE_URL")
	}
}

func TestParseCustom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("INGEST_DATABASE_URL", "postgres://db:5432/listings")
	t.Setenv("INGEST_TRACKING_ID", "site-42")
	t.Setenv("INGEST_TIMEZONE", "UTC")
	t.Setenv("INGEST_YEARLESS_POLICY", "reject")
	t.Setenv("INGEST_RUN_TIMEOUT", "90s")
	t.Setenv("INGEST_PARALLELISM", "8")
	t.Setenv("INGEST_DEDUP_THRESHOLD", "0.6")
	t.Setenv("INGEST_SWEEP_EMPTY", "true")
	t.Setenv("INGEST_EXPORT_S3_BUCKET", "snapshots")
	t.Setenv("INGEST_NATS_SUBJECT_PREFIX", "blr")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		t.Errorf("RequireDatabase() = %v", err)
	}
	if cfg.TrackingID != "site-42" {
		t.Errorf("TrackingID = %q", cfg.TrackingID)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Location() = %v, want UTC", cfg.Location())
	}
	if cfg.YearlessPolicy != "reject" {
		t.Errorf("YearlessPolicy = %q", cfg.YearlessPolicy)
	}
	if cfg.RunTimeout != 90*time.Second {
		t.Errorf("RunTimeout = %v", cfg.RunTimeout)
	}
	if cfg.Parallelism != 8 || cfg.DedupThreshold != 0.6 || !cfg.SweepEmpty {
		t.Errorf("unexpected run control: %+v", cfg)
	}
	if cfg.ExportS3Bucket != "snapshots" {
		t.Errorf("ExportS3Bucket = %q", cfg.ExportS3Bucket)
	}
	if cfg.NATSPrefix != "blr" {
		t.Errorf("NATSPrefix = %q", cfg.NATSPrefix)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		key  string
		val  string
	}{
		{"BadTimezone", "INGEST_TIMEZONE", "Mars/Olympus"},
		{"BadPolicy", "INGEST_YEARLESS_POLICY", "guess"},
		{"BadDuration", "INGEST_RUN_TIMEOUT", "soon"},
		{"ZeroTimeout", "INGEST_COMMIT_TIMEOUT", "0s"},
		{"ZeroParallelism", "INGEST_PARALLELISM", "0"},
		{"ThresholdTooHigh", "INGEST_DEDUP_THRESHOLD", "1.5"},
		{"NegativeRetries", "INGEST_WRITE_RETRIES", "-1"},
		{"BadExporter", "INGEST_TRACE_EXPORTER", "jaeger"},
		{"WildcardSubjectPrefix", "INGEST_NATS_SUBJECT_PREFIX", "blr.>"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Parse(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
		})
	}
}

const sampleSources = `
[defaults]
region = "IN"
max_pages = 3
request_timeout = "20s"

[categories]
"pottery" = "workshops"
"open mic" = "comedy"

[[sources]]
name = "insider"
type = "ticketing"
base_url = "https://insider.example/events"
category_filter = "comedy"

[sources.selectors]
item = ".card"
title = "h3"

[[sources]]
name = "tmdb"
type = "movies"
api_key_env = "TMDB_API_KEY"
max_pages = 1
max_retries = 0
trailers = true

[[sources]]
name = "places"
type = "places"
disabled = true
`

func TestDecodeSources(t *testing.T) {
	f, err := DecodeSources(sampleSources)
	if err != nil {
		t.Fatalf("DecodeSources: %v", err)
	}

	enabled := f.Enabled()
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled sources, got %d", len(enabled))
	}
	insider, tmdb := enabled[0], enabled[1]
	if insider.Name != "insider" || tmdb.Name != "tmdb" {
		t.Fatalf("file order not preserved: %s, %s", insider.Name, tmdb.Name)
	}
	if insider.Region != "IN" || insider.MaxPages != 3 || insider.RequestTimeout.Duration != 20*time.Second {
		t.Errorf("defaults not applied: %+v", insider)
	}
	if insider.Retries() != DefaultMaxRetries {
		t.Errorf("insider Retries() = %d", insider.Retries())
	}
	if insider.Selectors.Item != ".card" || insider.Selectors.Title != "h3" {
		t.Errorf("selectors = %+v", insider.Selectors)
	}
	if tmdb.MaxPages != 1 || tmdb.Retries() != 0 || !tmdb.Trailers {
		t.Errorf("tmdb overrides lost: %+v", tmdb)
	}

	t.Setenv("TMDB_API_KEY", "secret")
	if tmdb.APIKey() != "secret" {
		t.Errorf("APIKey() = %q", tmdb.APIKey())
	}

	overrides := f.CategoryOverrides()
	if overrides["pottery"] != model.CategoryWorkshops || overrides["open mic"] != model.CategoryComedy {
		t.Errorf("CategoryOverrides() = %v", overrides)
	}
	if names := f.Names(); len(names) != 2 || names[0] != "insider" || names[1] != "tmdb" {
		t.Errorf("Names() = %v", names)
	}
}

func TestDecodeSources_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
	}{
		{"MissingName", `[[sources]]
type = "movies"`},
		{"UnknownType", `[[sources]]
name = "x"
type = "rss"`},
		{"Duplicate", `[[sources]]
name = "x"
type = "movies"
[[sources]]
name = "x"
type = "places"`},
		{"ReservedName", `[[sources]]
name = "h1"
type = "movies"`},
		{"BadCategory", `[categories]
"film" = "movies"`},
		{"BadTimeout", `[[sources]]
name = "x"
type = "movies"
request_timeout = "fast"`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeSources(tc.doc); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoadSources(t *testing.T) {
	dir := t.TempDir()

	f, err := LoadSources(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if len(f.Sources) != 0 {
		t.Errorf("expected empty config, got %+v", f.Sources)
	}

	path := filepath.Join(dir, "sources.toml")
	if err := os.WriteFile(path, []byte(sampleSources), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err = LoadSources(path)
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	if len(f.Sources) != 3 {
		t.Errorf("expected 3 sources, got %d", len(f.Sources))
	}

	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("[[sources]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSources(bad); err == nil {
		t.Error("expected decode error")
	}
}
