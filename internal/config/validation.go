package config

import "github.com/relaybridge/codexgw/internal/domain"

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}
	if err := validateExec(&cfg.Exec); err != nil {
		return err
	}
	if err := validatePTY(&cfg.PTY); err != nil {
		return err
	}
	if err := validateTailer(&cfg.Tailer); err != nil {
		return err
	}
	if err := validateWatcher(&cfg.Watcher); err != nil {
		return err
	}
	return nil
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return domain.NewValidationError("server.port", "must be between 1 and 65535")
	}
	if cfg.Host == "" {
		return domain.NewValidationError("server.host", "cannot be empty")
	}
	return nil
}

func validateExec(cfg *ExecConfig) error {
	if cfg.ExecBin == "" {
		return domain.NewValidationError("exec.exec_bin", "cannot be empty")
	}
	if cfg.ApprovalPolicy == "" {
		return domain.NewValidationError("exec.approval_policy", "cannot be empty")
	}
	if cfg.SandboxMode == "" {
		return domain.NewValidationError("exec.sandbox_mode", "cannot be empty")
	}
	if len(cfg.ModelChoices) == 0 {
		return domain.NewValidationError("exec.model_choices", "must list at least one model")
	}
	return nil
}

func validatePTY(cfg *PTYConfig) error {
	if cfg.HistoryLimit < 1 {
		return domain.NewValidationError("pty.history_limit", "must be at least 1")
	}
	if cfg.SessionTTLMs < 1 {
		return domain.NewValidationError("pty.session_ttl_ms", "must be positive")
	}
	if cfg.IdleTimeoutMs < 1 {
		return domain.NewValidationError("pty.idle_timeout_ms", "must be positive")
	}
	if cfg.ReapIntervalMs < 1 {
		return domain.NewValidationError("pty.reap_interval_ms", "must be positive")
	}
	return nil
}

func validateTailer(cfg *TailerConfig) error {
	if cfg.HeartbeatIntervalMs < 1 {
		return domain.NewValidationError("tailer.heartbeat_interval_ms", "must be positive")
	}
	if cfg.DebounceMs < 0 {
		return domain.NewValidationError("tailer.debounce_ms", "cannot be negative")
	}
	if cfg.IdleRetireMs < 1 {
		return domain.NewValidationError("tailer.idle_retire_ms", "must be positive")
	}
	if cfg.ReplayYieldEvery < 1 {
		return domain.NewValidationError("tailer.replay_yield_every", "must be at least 1")
	}
	return nil
}

func validateWatcher(cfg *WatcherConfig) error {
	if cfg.DebounceMS < 0 {
		return domain.NewValidationError("watcher.debounce_ms", "cannot be negative")
	}
	if cfg.DebounceMS > 10000 {
		return domain.NewValidationError("watcher.debounce_ms", "cannot exceed 10000ms")
	}
	return nil
}
