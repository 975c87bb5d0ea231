// Package config loads memvault's runtime settings through a viper
// singleton: flags override environment variables, which override config
// file values, which override the defaults set here. This
// layering mirrors the teacher's internal/config package (yaml_config.go,
// local_config.go), adapted from a multi-file project config to a single
// process-wide settings struct.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "MEMVAULT"

// Config is the fully-resolved set of tunables a memvault process needs.
// Each field's mapstructure tag is its viper key; the env var form is
// MEMVAULT_ plus the upper-cased key (e.g. compaction_threshold -> MEMVAULT_COMPACTION_THRESHOLD).
type Config struct {
	DBPath string `mapstructure:"db_path"`

	StoreBusyTimeout time.Duration `mapstructure:"store_busy_timeout"`

	CompactionThreshold     int  `mapstructure:"compaction_threshold"`
	CompactionTarget        int  `mapstructure:"compaction_target"`
	CompactionForce         bool `mapstructure:"compaction_force"`
	MaxCompactionTurns      int  `mapstructure:"max_compaction_turns"`
	RecencyBufferMessages   int  `mapstructure:"recency_buffer_messages"`

	AnthropicAPIKey      string `mapstructure:"anthropic_api_key"`
	AnthropicModel       string `mapstructure:"anthropic_model"`
	FallbackModel        string `mapstructure:"anthropic_fallback_model"`

	AuditEnabled bool   `mapstructure:"audit_enabled"`
	AuditDir     string `mapstructure:"audit_dir"`
}

var v = viper.New()

func init() {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db_path", "memvault.db")
	v.SetDefault("store_busy_timeout", 5*time.Second)
	v.SetDefault("compaction_threshold", 100_000)
	v.SetDefault("compaction_target", 60_000)
	v.SetDefault("compaction_force", false)
	v.SetDefault("max_compaction_turns", 10)
	v.SetDefault("recency_buffer_messages", 20)
	v.SetDefault("anthropic_model", "claude-haiku-4-5")
	v.SetDefault("anthropic_fallback_model", "claude-sonnet-4-5")
	v.SetDefault("audit_enabled", false)
	v.SetDefault("audit_dir", ".memvault")
}

// SetConfigFile points viper at an explicit config file (yaml/json/toml,
// detected from its extension), matching the teacher's per-project config
// file discovery but letting the caller supply the path rather than
// walking up parent directories.
func SetConfigFile(path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return nil
}

// Load resolves the Config from defaults, any loaded config file, and
// environment variables (in that ascending priority order, per viper's
// own precedence rules, which put env above file above defaults).
func Load() (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Set overrides a single key at runtime, used by cobra flag binding
// (the root command's `--db` flag calls this before Load).
func Set(key string, value any) {
	v.Set(key, value)
}
