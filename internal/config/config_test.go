package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cadence/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatalf("missing file reported as found")
	}
	if resolved != path {
		t.Fatalf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7687" {
		t.Fatalf("api bind = %q", cfg.Paths.APIBind)
	}
	if cfg.Workflow.Workers != 2 || cfg.Queues.MaxAttempts != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Cache.Backend != "memory" {
		t.Fatalf("cache backend = %q", cfg.Cache.Backend)
	}
}

func TestLoadAppliesOverridesAndExpandsPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
artifact_dir = "artifacts"
log_dir = "logs"
api_bind = "0.0.0.0:9000"
api_token = "sekrit"

[workflow]
workers = 8

[upload]
privacy = "unlisted"

[webhooks]
youtube_secret = "yt"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatalf("config file not found")
	}
	if cfg.Workflow.Workers != 8 {
		t.Fatalf("workers = %d, want 8", cfg.Workflow.Workers)
	}
	if cfg.Paths.APIToken != "sekrit" || cfg.Paths.APIBind != "0.0.0.0:9000" {
		t.Fatalf("unexpected paths: %+v", cfg.Paths)
	}
	if cfg.Upload.Privacy != "unlisted" {
		t.Fatalf("privacy = %q", cfg.Upload.Privacy)
	}
	if cfg.Webhooks.YouTubeSecret != "yt" || cfg.Webhooks.GeneratorSecret != "" {
		t.Fatalf("unexpected webhooks: %+v", cfg.Webhooks)
	}
	if !filepath.IsAbs(cfg.Paths.ArtifactDir) || !filepath.IsAbs(cfg.Paths.LogDir) {
		t.Fatalf("paths not expanded: %+v", cfg.Paths)
	}
	// Untouched sections keep their defaults.
	if cfg.Queues.BacklogCritical != 500 {
		t.Fatalf("backlog critical = %d", cfg.Queues.BacklogCritical)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "zero workers",
			mutate:  func(c *config.Config) { c.Workflow.Workers = 0 },
			wantErr: "workflow.workers",
		},
		{
			name:    "heartbeat timeout below interval",
			mutate:  func(c *config.Config) { c.Workflow.HeartbeatTimeout = c.Workflow.HeartbeatInterval },
			wantErr: "workflow.heartbeat_timeout",
		},
		{
			name:    "backlog critical below warning",
			mutate:  func(c *config.Config) { c.Queues.BacklogCritical = c.Queues.BacklogWarning - 1 },
			wantErr: "queues.backlog_critical",
		},
		{
			name:    "unknown privacy",
			mutate:  func(c *config.Config) { c.Upload.Privacy = "friends-only" },
			wantErr: "upload.privacy",
		},
		{
			name:    "redis backend without address",
			mutate:  func(c *config.Config) { c.Cache.Backend = "redis" },
			wantErr: "cache.redis_addr",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *config.Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate accepted bad config")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}

func TestWriteSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	written, err := config.WriteSample(path)
	if err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if written != path {
		t.Fatalf("written = %q, want %q", written, path)
	}

	// The sample must parse and validate as-is.
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatalf("sample not found after write")
	}
	if cfg.Upload.StaggerSeconds != 30 {
		t.Fatalf("stagger = %d, want sample default 30", cfg.Upload.StaggerSeconds)
	}

	if _, err := config.WriteSample(path); err == nil {
		t.Fatalf("WriteSample overwrote an existing file")
	}
}
