package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
collector:
  base_url: https://collector.example.com
  token: secret
  poll_interval_seconds: 5
  poll_rounds: 10
mongo:
  uri: mongodb://localhost:27017
  database: trust_engine_test
storage:
  gcs_bucket: bucket
submit:
  default_max_posts_replies: 50
  sort_by: top
reconcile:
  twitter_verify_max_replies: 3
  failed_verify_sample_size: 7
  quota_windows:
    - start: 2024-06-01T00:00:00Z
      end: 2024-06-03T00:00:00Z
    - start: "2024-07-10T00:00:00Z"
      end: "2024-07-12T00:00:00Z"
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Collector.BaseURL != "https://collector.example.com" || cfg.Collector.Token != "secret" {
		t.Fatalf("expected collector overrides to apply: %+v", cfg.Collector)
	}
	if got := cfg.Collector.PollInterval(); got != 5*time.Second {
		t.Fatalf("expected poll interval 5s, got %v", got)
	}
	if cfg.Mongo.JobsCollection != "pending_jobs" || cfg.Mongo.PostsCollection != "posts" {
		t.Fatalf("expected collection defaults to survive: %+v", cfg.Mongo)
	}
	if cfg.Submit.DefaultMaxPostsReplies != 50 || cfg.Submit.SortBy != "top" {
		t.Fatalf("expected submit overrides to apply: %+v", cfg.Submit)
	}
	if cfg.Reconcile.FailedVerifySampleSize != 7 {
		t.Fatalf("expected sample size 7, got %d", cfg.Reconcile.FailedVerifySampleSize)
	}
	if len(cfg.Reconcile.QuotaWindows) != 2 {
		t.Fatalf("expected two quota windows, got %d", len(cfg.Reconcile.QuotaWindows))
	}
	for i, w := range cfg.Reconcile.QuotaWindows {
		if !w.End.After(w.Start) {
			t.Fatalf("window %d: expected end after start, got %+v", i, w)
		}
	}
	if got := cfg.Reconcile.QuotaWindows[0].Start; !got.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window start %v", got)
	}
}

func TestLoadRejectsMissingCollector(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
mongo:
  uri: mongodb://localhost:27017
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error for missing collector config")
	}
	if !strings.Contains(err.Error(), "collector.base_url") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQuotaWindowRejectsInvertedBounds(t *testing.T) {
	t.Parallel()

	w := QuotaWindow{
		Start: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := w.Validate(); err == nil {
		t.Fatalf("expected error for end before start")
	}
	if err := (QuotaWindow{}).Validate(); err == nil {
		t.Fatalf("expected error for zero bounds")
	}
}
