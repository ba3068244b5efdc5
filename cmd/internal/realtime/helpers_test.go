package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"notesync/cmd/internal/notes"
	"notesync/cmd/security/password"
	v1 "notesync/shared/contracts/realtime/v1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore() *notes.InMemoryStore {
	return notes.NewInMemoryStore(password.FastConfig())
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *notes.InMemoryStore) {
	t.Helper()
	store := newTestStore()
	return NewEngine(discardLogger(), store, NewRegistry(), opts...), store
}

func mustConnect(t *testing.T, e *Engine, name string) *Session {
	t.Helper()
	s, err := e.Connect(128)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if name != "" {
		s.setName(name)
	}
	return s
}

// drainQueue returns everything currently queued for s.
func drainQueue(s *Session) []v1.Envelope {
	var out []v1.Envelope
	for {
		select {
		case env := <-s.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

// takeType drains s and returns the last envelope of typ.
func takeType(t *testing.T, s *Session, typ string) v1.Envelope {
	t.Helper()
	var found *v1.Envelope
	for _, env := range drainQueue(s) {
		if env.Type == typ {
			e := env
			found = &e
		}
	}
	if found == nil {
		t.Fatalf("session %s: no %q envelope queued", s.Name(), typ)
	}
	return *found
}

func countType(envs []v1.Envelope, typ string) int {
	n := 0
	for _, env := range envs {
		if env.Type == typ {
			n++
		}
	}
	return n
}

func decode[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		t.Fatalf("decode %s payload: %v", env.Type, err)
	}
	return out
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
