package tailer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relaybridge/codexgw/internal/domain"
	"github.com/relaybridge/codexgw/internal/domain/ports"
	"github.com/relaybridge/codexgw/internal/journal"
)

type fakeNotifier struct {
	ch      chan struct{}
	mu      sync.Mutex
	running bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan struct{}, 4)}
}

func (n *fakeNotifier) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.running = true
	return nil
}

func (n *fakeNotifier) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.running = false
	return nil
}

func (n *fakeNotifier) Changes() <-chan struct{} { return n.ch }

func (n *fakeNotifier) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

type memSink struct {
	id string

	mu     sync.Mutex
	frames []string
	failed bool
}

func newMemSink(id string) *memSink { return &memSink{id: id} }

func (s *memSink) ID() string { return s.id }

func (s *memSink) Write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return errors.New("sink closed")
	}
	s.frames = append(s.frames, string(frame))
	return nil
}

func (s *memSink) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = true
}

func (s *memSink) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.frames))
	copy(out, s.frames)
	return out
}

type fixedActivity struct {
	active bool
	queue  int
}

func (a fixedActivity) IsActive(string) bool   { return a.active }
func (a fixedActivity) QueueLength(string) int { return a.queue }

type tailerEnv struct {
	manager     *Manager
	eventsDir   string
	sessionsDir string

	mu        sync.Mutex
	notifiers map[string]*fakeNotifier
}

func newTailerEnv(t *testing.T, mutate func(*Options)) *tailerEnv {
	t.Helper()
	dir := t.TempDir()
	env := &tailerEnv{
		eventsDir:   filepath.Join(dir, "events"),
		sessionsDir: filepath.Join(dir, "sessions"),
		notifiers:   make(map[string]*fakeNotifier),
	}

	opts := Options{
		EventsDir:         env.eventsDir,
		SessionsDir:       env.sessionsDir,
		HeartbeatInterval: time.Hour,
		IdleTimeout:       time.Hour,
		NewNotifier: func(path string) ports.ChangeNotifier {
			n := newFakeNotifier()
			env.mu.Lock()
			env.notifiers[path] = n
			env.mu.Unlock()
			return n
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	env.manager = NewManager(opts)
	env.manager.Start()
	t.Cleanup(env.manager.Stop)
	return env
}

// newSession creates a sidecar plus a journal with n content_block
// records, cursors 1..n.
func (env *tailerEnv) newSession(t *testing.T, sessionID string, n int) *journal.Writer {
	t.Helper()
	sc := &journal.Sidecar{
		ID:        sessionID,
		Cwd:       "/tmp",
		Model:     "o3",
		CreatedAt: time.Now().UTC(),
	}
	if err := journal.CreateSidecar(env.sessionsDir, sc); err != nil {
		t.Fatalf("CreateSidecar: %v", err)
	}
	w, err := journal.OpenWriter(env.eventsDir, env.sessionsDir, sessionID)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	for i := 1; i <= n; i++ {
		if _, err := w.Append(journal.KindContentBlock, map[string]interface{}{"n": i}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return w
}

func (env *tailerEnv) signal(t *testing.T, sessionID string) {
	t.Helper()
	path := journal.JournalPath(env.eventsDir, sessionID)
	env.mu.Lock()
	n := env.notifiers[path]
	env.mu.Unlock()
	if n == nil {
		t.Fatalf("no notifier registered for %s", path)
	}
	n.ch <- struct{}{}
}

func (env *tailerEnv) notifier(sessionID string) *fakeNotifier {
	path := journal.JournalPath(env.eventsDir, sessionID)
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.notifiers[path]
}

func parseFrame(t *testing.T, frame string) (id, event, data string) {
	t.Helper()
	if !strings.HasSuffix(frame, "\n\n\n") {
		t.Fatalf("frame missing double blank terminator: %q", frame)
	}
	lines := strings.Split(strings.TrimSuffix(frame, "\n\n\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("frame has %d lines, want 3: %q", len(lines), frame)
	}
	return strings.TrimPrefix(lines[0], "id: "),
		strings.TrimPrefix(lines[1], "event: "),
		strings.TrimPrefix(lines[2], "data: ")
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

const testSession = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

func TestAttach_ReplaysFromSince(t *testing.T) {
	env := newTailerEnv(t, nil)
	env.newSession(t, testSession, 12)

	sink := newMemSink("c1")
	if err := env.manager.Attach(testSession, sink, 8, 0); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	frames := sink.Frames()
	if len(frames) != 7 {
		t.Fatalf("got %d frames, want 7: %v", len(frames), frames)
	}

	_, event, data := parseFrame(t, frames[0])
	if event != "session_meta" {
		t.Fatalf("frame 0 event = %s, want session_meta", event)
	}
	if !strings.Contains(data, `"sessionId":"`+testSession+`"`) {
		t.Fatalf("session_meta data = %s", data)
	}

	id, event, data := parseFrame(t, frames[1])
	if event != "history_start" || id != "8" || data != `{"since":8}` {
		t.Fatalf("history_start frame = (%s, %s, %s)", id, event, data)
	}

	for i := 0; i < 4; i++ {
		id, event, _ := parseFrame(t, frames[2+i])
		if event != "content_block" {
			t.Fatalf("replay frame %d event = %s", i, event)
		}
		if want := fmt.Sprintf("%d", 9+i); id != want {
			t.Fatalf("replay frame %d id = %s, want %s", i, id, want)
		}
	}

	id, event, data = parseFrame(t, frames[6])
	if event != "history_end" || id != "12" || data != `{"count":4}` {
		t.Fatalf("history_end frame = (%s, %s, %s)", id, event, data)
	}
}

func TestAttach_SinceBeyondEndThenLive(t *testing.T) {
	env := newTailerEnv(t, nil)
	w := env.newSession(t, testSession, 3)

	sink := newMemSink("c1")
	if err := env.manager.Attach(testSession, sink, 10, 0); err != nil {
		t.Fatal(err)
	}

	frames := sink.Frames()
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3 (meta, start, end): %v", len(frames), frames)
	}
	_, event, data := parseFrame(t, frames[2])
	if event != "history_end" || data != `{"count":0}` {
		t.Fatalf("history_end = (%s, %s)", event, data)
	}

	if _, err := w.Append(journal.KindContentBlock, map[string]interface{}{"n": 4}); err != nil {
		t.Fatal(err)
	}
	env.signal(t, testSession)

	waitUntil(t, 2*time.Second, func() bool { return len(sink.Frames()) == 4 })
	id, event, _ := parseFrame(t, sink.Frames()[3])
	if event != "content_block" || id != "4" {
		t.Fatalf("live frame = (%s, %s)", id, event)
	}
}

func TestAttach_LimitCapsReplay(t *testing.T) {
	env := newTailerEnv(t, nil)
	env.newSession(t, testSession, 10)

	sink := newMemSink("c1")
	if err := env.manager.Attach(testSession, sink, 0, 3); err != nil {
		t.Fatal(err)
	}

	frames := sink.Frames()
	if len(frames) != 5 {
		t.Fatalf("got %d frames, want 5", len(frames))
	}
	id, event, data := parseFrame(t, frames[4])
	if event != "history_end" || id != "3" || data != `{"count":3}` {
		t.Fatalf("history_end = (%s, %s, %s)", id, event, data)
	}
}

func TestAttach_UnknownSession(t *testing.T) {
	env := newTailerEnv(t, nil)
	if err := env.manager.Attach("99999999-9999-9999-9999-999999999999", newMemSink("c1"), 0, 0); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestLiveBroadcast_DropsDeadClientOnly(t *testing.T) {
	env := newTailerEnv(t, nil)
	w := env.newSession(t, testSession, 1)

	healthy := newMemSink("healthy")
	dying := newMemSink("dying")
	if err := env.manager.Attach(testSession, healthy, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := env.manager.Attach(testSession, dying, 0, 0); err != nil {
		t.Fatal(err)
	}
	dying.fail()

	if _, err := w.Append(journal.KindContentBlock, map[string]interface{}{"n": 2}); err != nil {
		t.Fatal(err)
	}
	env.signal(t, testSession)

	waitUntil(t, 2*time.Second, func() bool {
		stats := env.manager.Stats()
		return len(stats) == 1 && stats[0].Clients == 1
	})

	frames := healthy.Frames()
	id, event, _ := parseFrame(t, frames[len(frames)-1])
	if event != "content_block" || id != "2" {
		t.Fatalf("healthy client last frame = (%s, %s)", id, event)
	}
}

func TestHeartbeatFrames(t *testing.T) {
	env := newTailerEnv(t, func(o *Options) { o.HeartbeatInterval = 20 * time.Millisecond })
	env.newSession(t, testSession, 2)

	sink := newMemSink("c1")
	if err := env.manager.Attach(testSession, sink, 0, 0); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		for _, f := range sink.Frames() {
			if strings.Contains(f, "event: heartbeat\n") {
				return true
			}
		}
		return false
	})

	for _, f := range sink.Frames() {
		if !strings.Contains(f, "event: heartbeat\n") {
			continue
		}
		id, _, data := parseFrame(t, f)
		if data != "{}" {
			t.Fatalf("heartbeat data = %s, want {}", data)
		}
		if id != "2" {
			t.Fatalf("heartbeat id = %s, want 2", id)
		}
		return
	}
}

func TestIdleRetire_AndLazyRecreate(t *testing.T) {
	env := newTailerEnv(t, func(o *Options) { o.IdleTimeout = 30 * time.Millisecond })
	env.newSession(t, testSession, 2)

	sink := newMemSink("c1")
	if err := env.manager.Attach(testSession, sink, 0, 0); err != nil {
		t.Fatal(err)
	}
	first := env.notifier(testSession)
	if first == nil || !first.IsRunning() {
		t.Fatal("notifier not running after attach")
	}

	env.manager.Detach(testSession, sink.ID())
	waitUntil(t, 2*time.Second, func() bool {
		return len(env.manager.Stats()) == 0 && !first.IsRunning()
	})

	again := newMemSink("c2")
	if err := env.manager.Attach(testSession, again, 0, 0); err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	frames := again.Frames()
	if len(frames) != 5 {
		t.Fatalf("re-attach got %d frames, want 5", len(frames))
	}
}

func TestAttach_CancelsIdleTimer(t *testing.T) {
	env := newTailerEnv(t, func(o *Options) { o.IdleTimeout = 40 * time.Millisecond })
	env.newSession(t, testSession, 1)

	sink := newMemSink("c1")
	if err := env.manager.Attach(testSession, sink, 0, 0); err != nil {
		t.Fatal(err)
	}
	env.manager.Detach(testSession, sink.ID())

	reattach := newMemSink("c2")
	if err := env.manager.Attach(testSession, reattach, 0, 0); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	stats := env.manager.Stats()
	if len(stats) != 1 || stats[0].Clients != 1 {
		t.Fatalf("stats = %+v, want one tailer with one client", stats)
	}
}

func TestSessionMeta_AnnotatesActivity(t *testing.T) {
	env := newTailerEnv(t, func(o *Options) { o.Activity = fixedActivity{active: true, queue: 2} })
	env.newSession(t, testSession, 1)

	sink := newMemSink("c1")
	if err := env.manager.Attach(testSession, sink, 0, 0); err != nil {
		t.Fatal(err)
	}

	_, event, data := parseFrame(t, sink.Frames()[0])
	if event != "session_meta" {
		t.Fatalf("first frame = %s", event)
	}
	if !strings.Contains(data, `"isActive":true`) || !strings.Contains(data, `"queueLength":2`) {
		t.Fatalf("session_meta data = %s", data)
	}
}
