package ptyregistry

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaybridge/codexgw/internal/domain"
	"github.com/relaybridge/codexgw/internal/domain/events"
	"github.com/relaybridge/codexgw/internal/domain/ports"
)

// Reap reasons published with pty_reaped events.
const (
	reapReasonTTL      = "ttl"
	reapReasonIdle     = "idle"
	reapReasonShutdown = "shutdown"
)

// Options configures a Registry.
type Options struct {
	Workdir      string
	BootCmd      string
	HistoryLimit int
	SessionTTL   time.Duration
	IdleTimeout  time.Duration
	ReapInterval time.Duration

	// Spawners in preference order. The first available one wins.
	Spawners []Spawner

	// Hub receives pty_spawned/pty_reaped diagnostics. May be nil.
	Hub ports.EventBus
}

// Registry owns the live PTY sessions.
type Registry struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
	running  bool
	done     chan struct{}
}

// New creates a Registry. Call Start to begin the reaper sweep.
func New(opts Options) *Registry {
	return &Registry{
		opts:     opts,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic reaper.
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	go r.reapLoop()
	log.Debug().
		Dur("reap_interval", r.opts.ReapInterval).
		Msg("pty registry started")
	return nil
}

// Stop terminates every session and halts the reaper.
func (r *Registry) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.done)
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.terminate()
		r.publishReaped(s.ID(), reapReasonShutdown)
	}
	log.Debug().Int("terminated", len(sessions)).Msg("pty registry stopped")
	return nil
}

// GetOrCreate returns the existing session for id, bumping its activity
// clock, or spawns a new one through the first available spawner.
func (r *Registry) GetOrCreate(id string) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		s.touch()
		return s, nil
	}
	r.mu.Unlock()

	spawner := r.pickSpawner()
	if spawner == nil {
		return nil, fmt.Errorf("no pty spawner available")
	}

	proc, err := spawner.Spawn(id, r.opts.Workdir)
	if err != nil {
		return nil, fmt.Errorf("spawn pty session %s: %w", id, err)
	}

	s := newSession(id, spawner.Name(), proc, r.opts.HistoryLimit, r.remove)

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		// Lost a concurrent create race; keep the winner.
		r.mu.Unlock()
		s.terminate()
		existing.touch()
		return existing, nil
	}
	r.sessions[id] = s
	r.mu.Unlock()

	go s.readLoop()

	if cmd := r.opts.BootCmd; cmd != "" {
		time.AfterFunc(200*time.Millisecond, func() {
			if err := s.Write([]byte(cmd + "\r")); err != nil {
				log.Warn().Str("session_id", id).Err(err).Msg("boot command write failed")
			}
		})
	}

	log.Info().
		Str("session_id", id).
		Str("provider", spawner.Name()).
		Msg("pty session spawned")
	if r.opts.Hub != nil {
		r.opts.Hub.Publish(events.NewPTYSpawnedEvent(id, spawner.Name()))
	}
	return s, nil
}

// Get returns the session for id if it exists.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Write sends client input to a session's PTY.
func (r *Registry) Write(id string, data []byte) error {
	s, ok := r.Get(id)
	if !ok {
		return domain.ErrPTYNotFound
	}
	return s.Write(data)
}

// Resize changes a session's PTY geometry.
func (r *Registry) Resize(id string, cols, rows int) error {
	s, ok := r.Get(id)
	if !ok {
		return domain.ErrPTYNotFound
	}
	return s.Resize(cols, rows)
}

// Attach registers a sink on a session, creating the session if needed.
func (r *Registry) Attach(id string, sink Sink) error {
	s, err := r.GetOrCreate(id)
	if err != nil {
		return err
	}
	return s.Attach(sink)
}

// Detach removes a sink from a session if it exists.
func (r *Registry) Detach(id, sinkID string) {
	if s, ok := r.Get(id); ok {
		s.Detach(sinkID)
	}
}

// SessionStat describes one live session for diagnostics.
type SessionStat struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	Clients      int       `json:"clients"`
	HistoryBytes int       `json:"historyBytes"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Stats returns a snapshot of every live session.
func (r *Registry) Stats() []SessionStat {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	stats := make([]SessionStat, 0, len(sessions))
	for _, s := range sessions {
		stats = append(stats, SessionStat{
			ID:           s.ID(),
			Provider:     s.Provider(),
			Clients:      s.ClientCount(),
			HistoryBytes: s.history.Len(),
			CreatedAt:    s.CreatedAt(),
			LastActivity: s.LastActivity(),
		})
	}
	return stats
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// pickSpawner returns the first available spawner in preference order.
func (r *Registry) pickSpawner() Spawner {
	for _, s := range r.opts.Spawners {
		if s.Available() {
			return s
		}
	}
	return nil
}

// remove drops a session entry after its process exited.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		r.publishReaped(id, "exit")
	}
}

func (r *Registry) reapLoop() {
	ticker := time.NewTicker(r.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.reapOnce(time.Now())
		}
	}
}

// reapOnce terminates sessions past their TTL, and idle sessions with
// zero clients.
func (r *Registry) reapOnce(now time.Time) {
	r.mu.Lock()
	type victim struct {
		s      *Session
		reason string
	}
	var victims []victim
	for id, s := range r.sessions {
		switch {
		case now.Sub(s.CreatedAt()) > r.opts.SessionTTL:
			victims = append(victims, victim{s, reapReasonTTL})
			delete(r.sessions, id)
		case s.ClientCount() == 0 && now.Sub(s.LastActivity()) > r.opts.IdleTimeout:
			victims = append(victims, victim{s, reapReasonIdle})
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, v := range victims {
		log.Info().
			Str("session_id", v.s.ID()).
			Str("reason", v.reason).
			Msg("reaping pty session")
		v.s.terminate()
		r.publishReaped(v.s.ID(), v.reason)
	}
}

func (r *Registry) publishReaped(id, reason string) {
	if r.opts.Hub != nil {
		r.opts.Hub.Publish(events.NewPTYReapedEvent(id, reason))
	}
}
