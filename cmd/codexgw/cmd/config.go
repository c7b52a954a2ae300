package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/relaybridge/codexgw/internal/config"
)

var (
	configInitLocal bool
	configInitForce bool
)

// configCmd displays or manages configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display and manage configuration",
	Long: `Display and manage codexgw configuration.

Without subcommands, shows the current effective configuration.

Examples:
  codexgw config              # Show current config
  codexgw config init         # Create config file with defaults
  codexgw config path         # Show config file location
  codexgw config get <key>    # Get a config value
  codexgw config set <key> <value>  # Set a config value`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		printConfig(cfg)
	},
}

// configInitCmd creates a config file with defaults.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with default settings",
	Long: `Create a config file with default settings and documentation.

By default, creates ~/.codexgw/config.yaml.
Use --local to create ./config.yaml in the current directory.

Examples:
  codexgw config init          # Create ~/.codexgw/config.yaml
  codexgw config init --local  # Create ./config.yaml
  codexgw config init --force  # Overwrite existing file`,
	RunE: runConfigInit,
}

// configPathCmd shows config file location.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file location",
	Run:   runConfigPath,
}

// configGetCmd gets a config value.
var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Long: `Get a configuration value by key.

Keys use dot notation to access nested values.

Examples:
  codexgw config get server.port
  codexgw config get exec.default_model
  codexgw config get pty.muxer_bin`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

// configSetCmd sets a config value.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value by key.

Creates the config file if it doesn't exist.
Keys use dot notation to access nested values.

Examples:
  codexgw config set server.port 7891
  codexgw config set logging.level debug
  codexgw config set indexer.enabled true`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().BoolVar(&configInitLocal, "local", false, "create config in current directory instead of ~/.codexgw/")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite existing config file")
}

func printConfig(cfg *config.Config) {
	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	fmt.Printf("Host:           %s\n", cfg.Server.Host)
	fmt.Printf("Port:           %d\n", cfg.Server.Port)
	fmt.Printf("Data Dir:       %s\n", cfg.Server.DataDir)
	fmt.Printf("Workdir:        %s\n", cfg.Exec.Workdir)
	fmt.Printf("Exec Binary:    %s\n", cfg.Exec.ExecBin)
	fmt.Printf("Default Model:  %s\n", cfg.Exec.DefaultModel)
	fmt.Printf("Muxer Binary:   %s\n", cfg.PTY.MuxerBin)
	fmt.Printf("Index Enabled:  %t\n", cfg.Indexer.Enabled)
	fmt.Printf("Log Level:      %s\n", cfg.Logging.Level)
	fmt.Printf("Log Format:     %s\n", cfg.Logging.Format)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var configPath string

	if configInitLocal {
		configPath = "config.yaml"
	} else {
		configDir, err := config.EnsureConfigDir()
		if err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		if !configInitForce {
			return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
		}
	}

	if err := writeDefaultConfig(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println("Edit this file to customize codexgw behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) {
	configDir, err := config.GetConfigDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting config dir: %v\n", err)
		os.Exit(1)
	}

	locations := []string{
		"./config.yaml",
		filepath.Join(configDir, "config.yaml"),
		"/etc/codexgw/config.yaml",
	}

	fmt.Println("Config search paths (in order):")
	for i, loc := range locations {
		exists := "not found"
		if _, err := os.Stat(loc); err == nil {
			exists = "exists"
		}
		fmt.Printf("  %d. %s (%s)\n", i+1, loc, exists)
	}

	fmt.Printf("\nConfig directory: %s\n", configDir)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	value, err := getConfigValue(cfg, key)
	if err != nil {
		return err
	}

	fmt.Println(value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configDir, err := config.EnsureConfigDir()
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	var data map[string]interface{}
	if content, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(content, &data); err != nil {
			return fmt.Errorf("failed to parse existing config: %w", err)
		}
	}
	if data == nil {
		data = make(map[string]interface{})
	}

	if err := setNestedValue(data, key, value); err != nil {
		return err
	}

	content, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Set %s = %s in %s\n", key, value, configPath)
	return nil
}

func getConfigValue(cfg *config.Config, key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid key: %s", key)
	}

	switch parts[0] {
	case "server":
		switch parts[1] {
		case "host":
			return cfg.Server.Host, nil
		case "port":
			return cfg.Server.Port, nil
		case "external_url":
			return cfg.Server.ExternalURL, nil
		case "data_dir":
			return cfg.Server.DataDir, nil
		}
	case "exec":
		switch parts[1] {
		case "workdir":
			return cfg.Exec.Workdir, nil
		case "exec_bin":
			return cfg.Exec.ExecBin, nil
		case "approval_policy":
			return cfg.Exec.ApprovalPolicy, nil
		case "sandbox_mode":
			return cfg.Exec.SandboxMode, nil
		case "default_model":
			return cfg.Exec.DefaultModel, nil
		case "model_choices":
			return strings.Join(cfg.Exec.ModelChoices, ","), nil
		}
	case "pty":
		switch parts[1] {
		case "muxer_bin":
			return cfg.PTY.MuxerBin, nil
		case "boot_cmd":
			return cfg.PTY.BootCmd, nil
		case "history_limit":
			return cfg.PTY.HistoryLimit, nil
		case "session_ttl_ms":
			return cfg.PTY.SessionTTLMs, nil
		case "idle_timeout_ms":
			return cfg.PTY.IdleTimeoutMs, nil
		}
	case "tailer":
		switch parts[1] {
		case "heartbeat_interval_ms":
			return cfg.Tailer.HeartbeatIntervalMs, nil
		case "debounce_ms":
			return cfg.Tailer.DebounceMs, nil
		case "idle_retire_ms":
			return cfg.Tailer.IdleRetireMs, nil
		}
	case "logging":
		switch parts[1] {
		case "level":
			return cfg.Logging.Level, nil
		case "format":
			return cfg.Logging.Format, nil
		}
	case "indexer":
		switch parts[1] {
		case "enabled":
			return cfg.Indexer.Enabled, nil
		case "path":
			return cfg.Indexer.Path, nil
		}
	}

	return nil, fmt.Errorf("unknown config key: %s", key)
}

func setNestedValue(data map[string]interface{}, key string, value string) error {
	parts := strings.Split(key, ".")

	current := data
	for i := 0; i < len(parts)-1; i++ {
		if _, ok := current[parts[i]]; !ok {
			current[parts[i]] = make(map[string]interface{})
		}
		if nested, ok := current[parts[i]].(map[string]interface{}); ok {
			current = nested
		} else {
			return fmt.Errorf("cannot set nested value: %s is not a map", parts[i])
		}
	}

	current[parts[len(parts)-1]] = parseValue(key, value)
	return nil
}

func parseValue(key string, value string) interface{} {
	if value == "true" {
		return true
	}
	if value == "false" {
		return false
	}

	intKeys := []string{"port", "history_limit", "session_ttl_ms", "idle_timeout_ms",
		"reap_interval_ms", "heartbeat_interval_ms", "debounce_ms", "idle_retire_ms",
		"replay_yield_every"}
	for _, k := range intKeys {
		if strings.HasSuffix(key, k) {
			var i int
			if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
				return i
			}
		}
	}

	return value
}

func writeDefaultConfig(path string) error {
	content := `# codexgw Configuration
# Documentation: https://github.com/relaybridge/codexgw
# Copy this file to ~/.codexgw/config.yaml and modify as needed

# Server settings
server:
  # Unified port for HTTP API, SSE and WebSocket connections
  port: 7890

  # Bind address (use 0.0.0.0 to allow external connections)
  host: "127.0.0.1"

  # Journals, session sidecars and uploads live here
  # data_dir: "~/.codexgw"

  # Shared secret required on every request as X-Gateway-Token or ?token=
  # gateway_token: ""

  # External URL when served through a tunnel
  # external_url: "https://your-tunnel.devtunnels.ms"

# Exec-provider turn engine
exec:
  # Provider binary spawned once per turn
  exec_bin: "codex"

  # Default working directory for new sessions (default: current directory)
  # workdir: ""

  # Flags passed to every turn
  approval_policy: "never"
  sandbox_mode: "workspace-write"

  # Model used when a session does not name one
  default_model: "gpt-5-codex"
  model_choices:
    - "gpt-5-codex"
    - "o3"

# PTY shell sessions
pty:
  # Terminal muxer used for attach-or-create spawning; falls back to a
  # plain shell when unavailable
  muxer_bin: "tmux"

  # Command typed into every fresh PTY session
  # boot_cmd: ""

  # Scrollback bytes replayed to late attachers
  history_limit: 200000

  session_ttl_ms: 14400000
  idle_timeout_ms: 1800000
  reap_interval_ms: 300000

# Journal tailers feeding SSE clients
tailer:
  heartbeat_interval_ms: 15000
  debounce_ms: 100
  idle_retire_ms: 60000
  replay_yield_every: 200

# Journal file watcher
watcher:
  debounce_ms: 100

# Logging settings
logging:
  # Log level: debug, info, warn, error
  level: "info"

  # Log format: console (human-readable) or json
  format: "console"

# Optional SQLite mirror of session sidecars for fast listing
indexer:
  enabled: false
  path: "sessions.db"
`

	return os.WriteFile(path, []byte(content), 0644)
}
