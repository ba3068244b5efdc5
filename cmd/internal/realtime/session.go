package realtime

import (
	"sync"

	v1 "notesync/shared/contracts/realtime/v1"
)

// Session represents one connected websocket client.
//
// Design notes:
// - Send is NOT closed by the server so concurrent broadcasters never panic.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
type Session struct {
	ID     string
	UserID string
	Send   chan v1.Envelope

	done        chan struct{}
	closeOnce   sync.Once
	releaseOnce sync.Once

	mu    sync.Mutex
	name  string
	color string
	room  string
	cur   cursor
}

type cursor struct {
	pos, selStart, selEnd int
}

// NewSession constructs a Session with a bounded send queue.
func NewSession(id, userID, name, color string, sendQueueSize int) *Session {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Session{
		ID:     id,
		UserID: userID,
		Send:   make(chan v1.Envelope, sendQueueSize),
		done:   make(chan struct{}),
		name:   name,
		color:  color,
	}
}

// Done returns a channel that is closed when the session is shutting down.
func (s *Session) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Close signals the session goroutines to stop (idempotent).
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() { close(s.done) })
}

// Name returns the display name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Color returns the palette color assigned at connect.
func (s *Session) Color() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.color
}

// Room returns the current room or "" when the session is not a member of any.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *Session) setRoom(room string) {
	s.mu.Lock()
	s.room = room
	s.cur = cursor{}
	s.mu.Unlock()
}

// clearRoom resets membership only if it still points at room.
func (s *Session) clearRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room != room {
		return false
	}
	s.room = ""
	s.cur = cursor{}
	return true
}

func (s *Session) setCursor(c cursor) {
	s.mu.Lock()
	s.cur = c
	s.mu.Unlock()
}

func (s *Session) cursorState() cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// enqueue is non-blocking: it reports false when the queue is full or the session is closing.
func (s *Session) enqueue(env v1.Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.Send <- env:
		return true
	default:
		return false
	}
}
