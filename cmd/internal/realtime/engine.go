package realtime

import (
	"context"
	"log/slog"
	"os"
	"time"

	"notesync/cmd/internal/ids"
	"notesync/cmd/internal/notes"
	v1 "notesync/shared/contracts/realtime/v1"
)

// Engine routes room events among sessions and persists them through a notes.Store.
//
// Ordering model:
//   - Content writes, restores and joins of one room run under the room's write lock,
//     so every member sees edits in apply order and a joiner never receives an edit
//     older than its load-content.
//   - Presence events are fire-and-forget and not ordered with content.
type Engine struct {
	log     *slog.Logger
	store   notes.Store
	reg     *Registry
	gate    *Gate
	metrics *Metrics

	snapshot      SnapshotPolicy
	canDelete     DeletePolicy
	presenceStale time.Duration
	defaultHours  int
	now           func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSnapshotPolicy overrides the version snapshot policy (default: 10% per edit).
func WithSnapshotPolicy(p SnapshotPolicy) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.snapshot = p
		}
	}
}

// WithDeletePolicy overrides who may delete a room (default: any member).
func WithDeletePolicy(p DeletePolicy) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.canDelete = p
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithPresenceStaleAfter sets how long a presence row survives without updates (default 45s).
func WithPresenceStaleAfter(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.presenceStale = d
		}
	}
}

// WithDefaultAutoDeleteHours sets the horizon of rooms created on first join (default 168).
func WithDefaultAutoDeleteHours(h int) EngineOption {
	return func(e *Engine) { e.defaultHours = h }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs an Engine. A nil registry gets a fresh one.
func NewEngine(log *slog.Logger, store notes.Store, reg *Registry, opts ...EngineOption) *Engine {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if reg == nil {
		reg = NewRegistry()
	}
	e := &Engine{
		log:           log,
		store:         store,
		reg:           reg,
		snapshot:      RandomSnapshots(defaultSnapshotChance),
		canDelete:     AnyMember,
		presenceStale: defaultPresenceStaleAfter,
		defaultHours:  defaultAutoDeleteHours,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.gate = NewGate(store, e.defaultHours)
	e.gate.now = e.now
	return e
}

// Registry returns the session registry.
func (e *Engine) Registry() *Registry { return e.reg }

// Gate returns the room gate.
func (e *Engine) Gate() *Gate { return e.gate }

// Connect creates a session for a new connection with a fresh user id, default name and color.
func (e *Engine) Connect(sendQueueSize int) (*Session, error) {
	id, err := ids.NewULID(e.now())
	if err != nil {
		return nil, err
	}
	s := NewSession(id, ids.NewUserID(), defaultUserName(id), randomColor(), sendQueueSize)
	e.metrics.connOpened()
	e.log.Info("session.connect", "session_id", s.ID, "user_id", s.UserID)
	return s, nil
}

// send enqueues env for s and counts drops.
func (e *Engine) send(s *Session, env v1.Envelope) bool {
	if s.enqueue(env) {
		return true
	}
	e.metrics.droppedN(1)
	return false
}

// broadcast fans env out to room and counts drops.
func (e *Engine) broadcast(room string, env v1.Envelope, exceptSessionID string) {
	_, dropped := e.reg.Broadcast(room, env, exceptSessionID)
	e.metrics.droppedN(dropped)
}

// isMember reports whether s is currently admitted to roomID.
func (e *Engine) isMember(s *Session, roomID string) bool {
	return roomID != "" && s.Room() == roomID && e.reg.Has(roomID, s.ID)
}

// bestEffort logs err without surfacing it.
func (e *Engine) bestEffort(event string, err error, attrs ...any) {
	if err == nil {
		return
	}
	e.log.Warn(event, append(attrs, "err", err)...)
}

func (e *Engine) storeCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(parent), 10*time.Second)
}
