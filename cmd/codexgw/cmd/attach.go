package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	attachHost  string
	attachPort  int
	attachToken string
)

// detachKey ends the attachment without killing the remote session.
const detachKey = 0x1d // Ctrl-]

// attachCmd attaches the current terminal to a PTY session on a running
// gateway.
var attachCmd = &cobra.Command{
	Use:   "attach <session-id>",
	Short: "Attach this terminal to a PTY session",
	Long: `Attach the current terminal to a PTY session on a running gateway.

The session is created on first attach and survives detach; reattaching
replays the scrollback history.

Press Ctrl-] to detach without killing the session.

Example:
  codexgw attach term-1
  codexgw attach term-1 --port 7890
  codexgw attach term-1 --token s3cret`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().StringVar(&attachHost, "host", "", "gateway host (default: from config)")
	attachCmd.Flags().IntVar(&attachPort, "port", 0, "gateway port (default: from config)")
	attachCmd.Flags().StringVar(&attachToken, "token", "", "shared gateway token")
}

type attachConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *attachConn) writeBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *attachConn) writeResize(cols, rows int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := fmt.Sprintf(`{"type":"resize","cols":%d,"rows":%d}`, cols, rows)
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func runAttach(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.Kitchen,
	}))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	host := cfg.Server.Host
	if attachHost != "" {
		host = attachHost
	}
	port := cfg.Server.Port
	if attachPort != 0 {
		port = attachPort
	}
	token := cfg.Server.GatewayToken
	if attachToken != "" {
		token = attachToken
	}

	url := fmt.Sprintf("ws://%s:%d/ws/pty/%s", host, port, sessionID)
	if token != "" {
		url += "?token=" + token
	}

	wsConn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w (is the gateway running?)", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = wsConn.Close() }()
	conn := &attachConn{conn: wsConn}

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return fmt.Errorf("stdin is not a terminal")
	}
	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer func() { _ = term.Restore(stdinFd, oldState) }()

	if cols, rows, err := term.GetSize(stdinFd); err == nil {
		_ = conn.writeResize(cols, rows)
	}

	// Propagate window size changes to the remote PTY.
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			if cols, rows, err := term.GetSize(stdinFd); err == nil {
				_ = conn.writeResize(cols, rows)
			}
		}
	}()

	done := make(chan error, 1)
	go func() {
		for {
			msgType, data, err := wsConn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			if _, err := os.Stdout.Write(data); err != nil {
				done <- err
				return
			}
		}
	}()

	input := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				input <- err
				return
			}
			for i := 0; i < n; i++ {
				if buf[i] == detachKey {
					input <- nil
					return
				}
			}
			if err := conn.writeBinary(buf[:n]); err != nil {
				input <- err
				return
			}
		}
	}()

	logger.Info("attached", "session", sessionID, "url", url)

	select {
	case err := <-done:
		_ = term.Restore(stdinFd, oldState)
		var closeErr *websocket.CloseError
		if asErr, ok := err.(*websocket.CloseError); ok {
			closeErr = asErr
		}
		if closeErr != nil && closeErr.Text != "" {
			logger.Info("session closed", "reason", closeErr.Text)
			return nil
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			logger.Info("session closed")
			return nil
		}
		return fmt.Errorf("connection lost: %w", err)
	case err := <-input:
		_ = term.Restore(stdinFd, oldState)
		if err != nil {
			return fmt.Errorf("stdin error: %w", err)
		}
		logger.Info("detached", "session", sessionID)
		return nil
	}
}
