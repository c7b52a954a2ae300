package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/relaybridge/codexgw/internal/config"
	"github.com/relaybridge/codexgw/internal/domain/events"
	"github.com/relaybridge/codexgw/internal/execengine"
	"github.com/relaybridge/codexgw/internal/hub"
	"github.com/relaybridge/codexgw/internal/ptyregistry"
	httpserver "github.com/relaybridge/codexgw/internal/server/http"
	"github.com/relaybridge/codexgw/internal/server/websocket"
	"github.com/relaybridge/codexgw/internal/sessiondir"
	"github.com/relaybridge/codexgw/internal/tailer"
)

var (
	startPort        int
	startWorkdir     string
	startDataDir     string
	startExternalURL string
	startToken       string
)

// startCmd represents the start command.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the gateway and begin accepting local client connections.

The gateway binds to loopback by default. Journals, session sidecars
and uploads live under the data directory (~/.codexgw unless
overridden).

Example:
  codexgw start
  codexgw start --workdir /path/to/project
  codexgw start --port 7890
  codexgw start --token s3cret       # require X-Gateway-Token on every request`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().IntVar(&startPort, "port", 0, "server port for HTTP, SSE and WebSocket (default: 7890)")
	startCmd.Flags().StringVar(&startWorkdir, "workdir", "", "default working directory for new sessions (default: current directory)")
	startCmd.Flags().StringVar(&startDataDir, "data-dir", "", "journal and sidecar directory (default: ~/.codexgw)")
	startCmd.Flags().StringVar(&startExternalURL, "external-url", "", "external URL when served through a tunnel (e.g., https://tunnel.devtunnels.ms)")
	startCmd.Flags().StringVar(&startToken, "token", "", "shared gateway token required on every request")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with flags
	if startPort != 0 {
		cfg.Server.Port = startPort
	}
	if startWorkdir != "" {
		cfg.Exec.Workdir = startWorkdir
	}
	if startDataDir != "" {
		cfg.Server.DataDir = startDataDir
	}
	if startExternalURL != "" {
		cfg.Server.ExternalURL = startExternalURL
	}
	if startToken != "" {
		cfg.Server.GatewayToken = startToken
	}

	// Re-validate after overrides
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("workdir", cfg.Exec.Workdir).
		Str("data_dir", cfg.Server.DataDir).
		Int("port", cfg.Server.Port).
		Msg("starting codexgw")

	eventsDir := cfg.EventsDir()
	sessionsDir := cfg.SessionsDir()
	for _, dir := range []string{eventsDir, sessionsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	eventHub := hub.New()
	if err := eventHub.Start(); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	engine := execengine.New(execengine.Options{
		EventsDir:      eventsDir,
		SessionsDir:    sessionsDir,
		Workdir:        cfg.Exec.Workdir,
		ExecBin:        cfg.Exec.ExecBin,
		ApprovalPolicy: cfg.Exec.ApprovalPolicy,
		SandboxMode:    cfg.Exec.SandboxMode,
		DefaultModel:   cfg.Exec.DefaultModel,
		ModelChoices:   cfg.Exec.ModelChoices,
		Hub:            eventHub,
	})

	tailers := tailer.NewManager(tailer.Options{
		EventsDir:         eventsDir,
		SessionsDir:       sessionsDir,
		HeartbeatInterval: time.Duration(cfg.Tailer.HeartbeatIntervalMs) * time.Millisecond,
		IdleTimeout:       time.Duration(cfg.Tailer.IdleRetireMs) * time.Millisecond,
		DebounceWindow:    time.Duration(cfg.Tailer.DebounceMs) * time.Millisecond,
		ReplayYieldEvery:  cfg.Tailer.ReplayYieldEvery,
		Activity:          engine,
		Hub:               eventHub,
	})
	tailers.Start()

	ptys := ptyregistry.New(ptyregistry.Options{
		Workdir:      cfg.Exec.Workdir,
		BootCmd:      cfg.PTY.BootCmd,
		HistoryLimit: cfg.PTY.HistoryLimit,
		SessionTTL:   time.Duration(cfg.PTY.SessionTTLMs) * time.Millisecond,
		IdleTimeout:  time.Duration(cfg.PTY.IdleTimeoutMs) * time.Millisecond,
		ReapInterval: time.Duration(cfg.PTY.ReapIntervalMs) * time.Millisecond,
		Spawners: []ptyregistry.Spawner{
			&ptyregistry.MuxerSpawner{Bin: cfg.PTY.MuxerBin},
			&ptyregistry.ShellSpawner{},
		},
		Hub: eventHub,
	})
	if err := ptys.Start(); err != nil {
		return fmt.Errorf("failed to start pty registry: %w", err)
	}

	var index *sessiondir.Index
	var indexSub *hub.ChannelSubscriber
	if cfg.Indexer.Enabled {
		indexPath := cfg.Indexer.Path
		if !filepath.IsAbs(indexPath) {
			indexPath = filepath.Join(cfg.Server.DataDir, indexPath)
		}
		index, err = sessiondir.OpenIndex(indexPath)
		if err != nil {
			return fmt.Errorf("failed to open session index: %w", err)
		}
		if err := index.Rebuild(sessionsDir); err != nil {
			return fmt.Errorf("failed to rebuild session index: %w", err)
		}
		indexSub = hub.NewChannelSubscriber("session-indexer", 256)
		eventHub.Subscribe(indexSub)
		go runIndexer(index, indexSub, sessionsDir)
		log.Info().Str("path", indexPath).Msg("session index ready")
	}

	directory := sessiondir.New(eventsDir, sessionsDir, engine, index)

	httpServer := httpserver.New(httpserver.Options{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		Engine:       engine,
		Directory:    directory,
		Tailers:      tailers,
		PTYs:         ptys,
		UploadsDir:   filepath.Join(cfg.Server.DataDir, "uploads"),
		GatewayToken: cfg.Server.GatewayToken,
	})
	httpServer.SetWebSocketHandler(websocket.NewHandler(ptys).HandlePTY)

	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	baseURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	if cfg.Server.ExternalURL != "" {
		baseURL = cfg.Server.ExternalURL
	}
	log.Info().Str("url", baseURL).Msg("gateway ready")

	// Block until shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error stopping HTTP server")
	}
	tailers.Stop()
	if err := engine.Stop(); err != nil {
		log.Error().Err(err).Msg("error stopping exec engine")
	}
	if err := ptys.Stop(); err != nil {
		log.Error().Err(err).Msg("error stopping pty registry")
	}
	if indexSub != nil {
		eventHub.Unsubscribe(indexSub.ID())
		_ = indexSub.Close()
	}
	if err := eventHub.Stop(); err != nil {
		log.Error().Err(err).Msg("error stopping event hub")
	}
	if index != nil {
		if err := index.Close(); err != nil {
			log.Error().Err(err).Msg("error closing session index")
		}
	}

	log.Info().Msg("codexgw stopped")
	return nil
}

// runIndexer mirrors committed sidecars into the SQLite index as they
// change.
func runIndexer(index *sessiondir.Index, sub *hub.ChannelSubscriber, sessionsDir string) {
	for event := range sub.Events() {
		if event.Type() != events.EventTypeSidecarCommitted {
			continue
		}
		sessionID := event.GetSessionID()
		if sessionID == "" {
			continue
		}
		if err := index.ApplyCommit(sessionsDir, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("session index update failed")
		}
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "console" || verbose {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
