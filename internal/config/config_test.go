package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaultsWithNoFiles(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := &Config{
		Sync:     SyncConfig{AckTimeout: 10 * time.Second},
		Pipeline: PipelineConfig{PreferredQueueSize: 8, Step: 5 * time.Millisecond, MaxBackpressure: 2 * time.Second},
		Storage:  StorageConfig{DataDir: ".merkleruntime"},
		Logging:  LoggingConfig{Level: "info"},
	}

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("Load(\"\") mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MERKLERUNTIME_LOGGING_LEVEL", "debug")
	t.Setenv("MERKLERUNTIME_PIPELINE_PREFERRED_QUEUE_SIZE", "16")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Pipeline.PreferredQueueSize != 16 {
		t.Fatalf("Pipeline.PreferredQueueSize = %d, want 16", cfg.Pipeline.PreferredQueueSize)
	}
}
