// Package config handles configuration management for the gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the gateway.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Exec    ExecConfig    `mapstructure:"exec"`
	PTY     PTYConfig     `mapstructure:"pty"`
	Tailer  TailerConfig  `mapstructure:"tailer"`
	Watcher WatcherConfig `mapstructure:"watcher"`
	Logging LoggingConfig `mapstructure:"logging"`
	Indexer IndexerConfig `mapstructure:"indexer"`
}

// ServerConfig holds listener and auth configuration.
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	ExternalURL string `mapstructure:"external_url"`
	GatewayToken string `mapstructure:"gateway_token"`
	DataDir     string `mapstructure:"data_dir"`
}

// ExecConfig holds the exec-turn engine's child-process configuration.
type ExecConfig struct {
	Workdir        string   `mapstructure:"workdir"`
	ExecBin        string   `mapstructure:"exec_bin"`
	ApprovalPolicy string   `mapstructure:"approval_policy"`
	SandboxMode    string   `mapstructure:"sandbox_mode"`
	DefaultModel   string   `mapstructure:"default_model"`
	ModelChoices   []string `mapstructure:"model_choices"`
}

// PTYConfig holds PTY Registry configuration.
type PTYConfig struct {
	MuxerBin        string `mapstructure:"muxer_bin"`
	BootCmd         string `mapstructure:"boot_cmd"`
	HistoryLimit    int    `mapstructure:"history_limit"`
	SessionTTLMs    int64  `mapstructure:"session_ttl_ms"`
	IdleTimeoutMs   int64  `mapstructure:"idle_timeout_ms"`
	ReapIntervalMs  int64  `mapstructure:"reap_interval_ms"`
}

// TailerConfig holds Tailer + SSE fan-out configuration.
type TailerConfig struct {
	HeartbeatIntervalMs int64 `mapstructure:"heartbeat_interval_ms"`
	DebounceMs          int64 `mapstructure:"debounce_ms"`
	IdleRetireMs        int64 `mapstructure:"idle_retire_ms"`
	ReplayYieldEvery    int   `mapstructure:"replay_yield_every"`
}

// WatcherConfig holds the watcher section of the config. It is defaulted
// and validated, but start does not read it: the tailer's journal watch
// takes its debounce window from TailerConfig.DebounceMs.
type WatcherConfig struct {
	DebounceMS int `mapstructure:"debounce_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IndexerConfig controls the optional SQLite mirror of session sidecars.
type IndexerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.codexgw")
		v.AddConfigPath("/etc/codexgw")
	}

	v.SetEnvPrefix("CODEXGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := postProcess(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7890)
	v.SetDefault("server.data_dir", "")

	v.SetDefault("exec.workdir", "")
	v.SetDefault("exec.exec_bin", "codex")
	v.SetDefault("exec.approval_policy", "never")
	v.SetDefault("exec.sandbox_mode", "workspace-write")
	v.SetDefault("exec.default_model", "gpt-5-codex")
	v.SetDefault("exec.model_choices", []string{"gpt-5-codex", "o3"})

	v.SetDefault("pty.muxer_bin", "tmux")
	v.SetDefault("pty.boot_cmd", "")
	v.SetDefault("pty.history_limit", 200_000)
	v.SetDefault("pty.session_ttl_ms", int64(4*60*60*1000))
	v.SetDefault("pty.idle_timeout_ms", int64(30*60*1000))
	v.SetDefault("pty.reap_interval_ms", int64(5*60*1000))

	v.SetDefault("tailer.heartbeat_interval_ms", int64(15*1000))
	v.SetDefault("tailer.debounce_ms", int64(100))
	v.SetDefault("tailer.idle_retire_ms", int64(60*1000))
	v.SetDefault("tailer.replay_yield_every", 200)

	v.SetDefault("watcher.debounce_ms", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("indexer.enabled", false)
	v.SetDefault("indexer.path", "sessions.db")
}

// postProcess resolves defaults that depend on the runtime environment.
func postProcess(cfg *Config) error {
	if cfg.Exec.Workdir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		cfg.Exec.Workdir = cwd
	}
	absWorkdir, err := filepath.Abs(cfg.Exec.Workdir)
	if err != nil {
		return fmt.Errorf("failed to resolve exec.workdir: %w", err)
	}
	cfg.Exec.Workdir = absWorkdir

	if cfg.Server.DataDir == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return fmt.Errorf("failed to resolve default data directory: %w", err)
		}
		cfg.Server.DataDir = dir
	}
	absData, err := filepath.Abs(cfg.Server.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve server.data_dir: %w", err)
	}
	cfg.Server.DataDir = absData

	return nil
}

// GetConfigDir returns the user config directory for the gateway.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".codexgw"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// EventsDir is the journal directory under a gateway's data directory.
func (c *Config) EventsDir() string {
	return filepath.Join(c.Server.DataDir, "events")
}

// SessionsDir is the sidecar directory under a gateway's data directory.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.Server.DataDir, "sessions")
}
