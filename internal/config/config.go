// Package config loads runtime tuning for the synchronizer and virtual-map
// pipeline (spec §4.6/§4.7), layering a global file, a per-repository file,
// and environment overrides via viper — the same global-then-repository
// precedence the teacher's own JSON config loader used, generalized from
// hand-rolled file merging to viper's layered provider model.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SyncConfig tunes internal/sync2.
type SyncConfig struct {
	// AckTimeout bounds how long a Teacher waits for an ack before treating
	// the session as failed (spec §4.6; default sync2.DefaultAckTimeout).
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
}

// PipelineConfig tunes internal/vmap.Pipeline.
type PipelineConfig struct {
	// PreferredQueueSize is the flush backlog depth above which
	// back-pressure begins to apply (spec §4.7).
	PreferredQueueSize int `mapstructure:"preferred_queue_size"`
	// Step is the back-pressure quadratic coefficient.
	Step time.Duration `mapstructure:"step"`
	// MaxBackpressure clamps the computed sleep duration.
	MaxBackpressure time.Duration `mapstructure:"max_backpressure"`
}

// StorageConfig locates the flush target's durable state.
type StorageConfig struct {
	// DataDir holds the flush target's bbolt database and, if used, a
	// merkleio.Directory for persisted signed states.
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig tunes internal/logging.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the process-wide runtime configuration.
type Config struct {
	Sync     SyncConfig     `mapstructure:"sync"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

const envPrefix = "MERKLERUNTIME"

func defaults(v *viper.Viper) {
	v.SetDefault("sync.ack_timeout", 10*time.Second)
	v.SetDefault("pipeline.preferred_queue_size", 8)
	v.SetDefault("pipeline.step", 5*time.Millisecond)
	v.SetDefault("pipeline.max_backpressure", 2*time.Second)
	v.SetDefault("storage.data_dir", ".merkleruntime")
	v.SetDefault("logging.level", "info")
}

func globalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".merkleruntimeconfig"), nil
}

// Load builds a Config by layering defaults, an optional global config file
// (~/.merkleruntimeconfig), an optional repository-local config file
// (<repoDir>/config.yaml, repoDir may be ""), and MERKLERUNTIME_*
// environment variables, in that increasing-precedence order.
func Load(repoDir string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if globalPath, err := globalConfigPath(); err == nil {
		if _, statErr := os.Stat(globalPath); statErr == nil {
			v.SetConfigFile(globalPath)
			v.SetConfigType("yaml")
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("config: load global config: %w", err)
			}
		}
	}

	if repoDir != "" {
		repoPath := filepath.Join(repoDir, "config.yaml")
		if _, err := os.Stat(repoPath); err == nil {
			v.SetConfigFile(repoPath)
			v.SetConfigType("yaml")
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("config: load repository config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
