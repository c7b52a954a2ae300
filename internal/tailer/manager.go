package tailer

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaybridge/codexgw/internal/adapters/watcher"
	"github.com/relaybridge/codexgw/internal/domain"
	"github.com/relaybridge/codexgw/internal/domain/events"
	"github.com/relaybridge/codexgw/internal/domain/ports"
	"github.com/relaybridge/codexgw/internal/journal"
)

// ActivityReporter supplies live engine state for the attach-time
// session_meta annotation.
type ActivityReporter interface {
	IsActive(sessionID string) bool
	QueueLength(sessionID string) int
}

// Options configures a Manager and the tailers it creates.
type Options struct {
	EventsDir   string
	SessionsDir string

	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	DebounceWindow    time.Duration
	ReplayYieldEvery  int

	// Activity may be nil; session_meta then reports an idle session.
	Activity ActivityReporter

	// Hub receives tailer_retire diagnostics. May be nil.
	Hub ports.EventBus

	// NewNotifier builds the change notifier for a journal path. Defaults
	// to the fsnotify-backed file watcher.
	NewNotifier func(path string) ports.ChangeNotifier
}

func (o *Options) applyDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 15 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 100 * time.Millisecond
	}
	if o.ReplayYieldEvery <= 0 {
		o.ReplayYieldEvery = 200
	}
	if o.NewNotifier == nil {
		debounce := o.DebounceWindow
		o.NewNotifier = func(path string) ports.ChangeNotifier {
			return watcher.New(path, debounce)
		}
	}
}

// Manager owns the per-session tailers, creating them lazily on attach
// and retiring them when they report idle.
type Manager struct {
	opts   Options
	retire chan string
	done   chan struct{}

	mu      sync.Mutex
	tailers map[string]*Tailer
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		opts:    opts,
		retire:  make(chan string, 16),
		done:    make(chan struct{}),
		tailers: make(map[string]*Tailer),
	}
}

// Start begins consuming retirement requests.
func (m *Manager) Start() {
	go m.retireLoop()
}

// Stop retires every tailer and ends the retire loop.
func (m *Manager) Stop() {
	close(m.done)

	m.mu.Lock()
	tailers := make([]*Tailer, 0, len(m.tailers))
	for _, t := range m.tailers {
		tailers = append(tailers, t)
	}
	m.tailers = make(map[string]*Tailer)
	m.mu.Unlock()

	for _, t := range tailers {
		t.stop()
	}
}

// Attach connects a sink to the session's tailer, creating the tailer if
// none is running. since and limit follow the attach protocol.
func (m *Manager) Attach(sessionID string, sink Sink, since int64, limit int) error {
	if _, err := os.Stat(journal.SidecarPath(m.opts.SessionsDir, sessionID)); err != nil {
		return domain.ErrSessionNotFound
	}

	// A tailer can retire between lookup and attach; one retry covers it.
	for attempt := 0; attempt < 2; attempt++ {
		t, err := m.tailerFor(sessionID)
		if err != nil {
			return err
		}
		err = t.Attach(sink, since, limit)
		if err == errTailerStopped {
			continue
		}
		return err
	}
	return errTailerStopped
}

// Detach removes a client from the session's tailer, if one is running.
func (m *Manager) Detach(sessionID, clientID string) {
	m.mu.Lock()
	t := m.tailers[sessionID]
	m.mu.Unlock()
	if t != nil {
		t.Detach(clientID)
	}
}

// tailerFor returns the session's live tailer, creating one if absent or
// already stopped.
func (m *Manager) tailerFor(sessionID string) (*Tailer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tailers[sessionID]; ok && !t.isStopped() {
		return t, nil
	}
	t, err := newTailer(sessionID, m.opts, m.retire)
	if err != nil {
		return nil, err
	}
	m.tailers[sessionID] = t
	return t, nil
}

func (m *Manager) retireLoop() {
	for {
		select {
		case <-m.done:
			return
		case sessionID := <-m.retire:
			m.retireTailer(sessionID)
		}
	}
}

// retireTailer deregisters an idle tailer. A client that attached after
// the retire request was sent keeps the tailer alive.
func (m *Manager) retireTailer(sessionID string) {
	m.mu.Lock()
	t := m.tailers[sessionID]
	if t == nil || t.ClientCount() > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.tailers, sessionID)
	m.mu.Unlock()

	t.stop()
	log.Debug().Str("session_id", sessionID).Msg("tailer retired")
	if m.opts.Hub != nil {
		m.opts.Hub.Publish(events.NewTailerRetireEvent(sessionID))
	}
}

// TailerStat is one tailer's diagnostic snapshot.
type TailerStat struct {
	SessionID  string `json:"sessionId"`
	Clients    int    `json:"clients"`
	Position   int64  `json:"position"`
	LastCursor int64  `json:"lastCursor"`
}

// Stats reports a snapshot of every running tailer.
func (m *Manager) Stats() []TailerStat {
	m.mu.Lock()
	tailers := make([]*Tailer, 0, len(m.tailers))
	for _, t := range m.tailers {
		tailers = append(tailers, t)
	}
	m.mu.Unlock()

	stats := make([]TailerStat, 0, len(tailers))
	for _, t := range tailers {
		t.mu.Lock()
		stats = append(stats, TailerStat{
			SessionID:  t.sessionID,
			Clients:    len(t.clients),
			Position:   t.position,
			LastCursor: t.cursor,
		})
		t.mu.Unlock()
	}
	return stats
}
