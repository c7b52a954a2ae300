package ptyregistry

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaybridge/codexgw/internal/domain"
)

// Sink receives PTY output for one attached client.
type Sink interface {
	// ID uniquely identifies the client within a session.
	ID() string

	// Write delivers an output chunk. A non-nil error detaches the sink.
	Write(data []byte) error

	// Exit notifies the sink that the PTY process has ended.
	Exit()
}

// Session is a live PTY-backed shell session. State is in-memory only;
// terminal sessions carry no persistent sidecar.
type Session struct {
	id        string
	provider  string
	createdAt time.Time

	proc    ProcHandle
	history *HistoryRing

	mu           sync.Mutex
	sinks        map[string]Sink
	lastActivity time.Time
	exited       bool

	onExit func(sessionID string)
}

func newSession(id, provider string, proc ProcHandle, historyLimit int, onExit func(string)) *Session {
	now := time.Now()
	return &Session{
		id:           id,
		provider:     provider,
		createdAt:    now,
		proc:         proc,
		history:      NewHistoryRing(historyLimit),
		sinks:        make(map[string]Sink),
		lastActivity: now,
		onExit:       onExit,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Provider reports which spawn path created this session, for
// diagnostics only.
func (s *Session) Provider() string { return s.provider }

// CreatedAt returns the spawn time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActivity returns the time of the last read, write, or attach.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// ClientCount returns the number of attached sinks.
func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sinks)
}

// touch bumps the activity clock.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Attach registers a sink, first pushing the entire history prefix so a
// reconnecting terminal can redraw.
func (s *Session) Attach(sink Sink) error {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return domain.ErrPTYNotFound
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if prefix := s.history.Bytes(); len(prefix) > 0 {
		if err := sink.Write(prefix); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.sinks[sink.ID()] = sink
	s.mu.Unlock()
	return nil
}

// Detach removes a sink. Detaching an unknown sink is a no-op.
func (s *Session) Detach(sinkID string) {
	s.mu.Lock()
	delete(s.sinks, sinkID)
	s.mu.Unlock()
}

// Write sends client input to the PTY.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return domain.ErrPTYNotFound
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	_, err := s.proc.Write(data)
	return err
}

// Resize changes the PTY geometry. Dimensions must be strictly positive.
func (s *Session) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return domain.ErrNonPositiveSize
	}
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return domain.ErrPTYNotFound
	}
	s.mu.Unlock()
	return s.proc.Resize(uint16(cols), uint16(rows))
}

// readLoop pumps PTY output into the history ring and every attached
// sink until the process exits.
func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.proc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.history.Append(chunk)

			s.mu.Lock()
			s.lastActivity = time.Now()
			sinks := make([]Sink, 0, len(s.sinks))
			for _, sink := range s.sinks {
				sinks = append(sinks, sink)
			}
			s.mu.Unlock()

			for _, sink := range sinks {
				if werr := sink.Write(chunk); werr != nil {
					log.Debug().
						Str("session_id", s.id).
						Str("client_id", sink.ID()).
						Err(werr).
						Msg("detaching client after failed write")
					s.Detach(sink.ID())
				}
			}
		}
		if err != nil {
			s.handleExit()
			return
		}
	}
}

// handleExit notifies every sink once, releases the process handle, and
// reports the exit upstream.
func (s *Session) handleExit() {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return
	}
	s.exited = true
	sinks := make([]Sink, 0, len(s.sinks))
	for _, sink := range s.sinks {
		sinks = append(sinks, sink)
	}
	s.sinks = make(map[string]Sink)
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.Exit()
	}
	_ = s.proc.Close()

	log.Debug().Str("session_id", s.id).Msg("pty session exited")

	if s.onExit != nil {
		s.onExit(s.id)
	}
}

// terminate asks the process group to exit, escalating to SIGKILL if it
// lingers. The read loop observes the death and runs exit handling.
func (s *Session) terminate() {
	_ = s.proc.Terminate()
	proc := s.proc
	time.AfterFunc(2*time.Second, func() {
		_ = proc.Kill()
	})
}
