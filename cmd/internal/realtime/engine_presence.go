package realtime

import (
	"context"
	"strings"

	"notesync/cmd/internal/notes"
	v1 "notesync/shared/contracts/realtime/v1"
)

// UpdateCursor records and fans out the cursor of s. Non-members are ignored.
// Missing selection bounds default to the cursor position.
func (e *Engine) UpdateCursor(ctx context.Context, s *Session, p v1.CursorUpdatePayload) error {
	const op = "cursor-update"

	roomID := strings.TrimSpace(p.RoomID)
	if !e.isMember(s, roomID) {
		return nil
	}
	if p.CursorPosition < 0 {
		return opErr(op, ErrInvalidInput, "Invalid cursor position")
	}

	c := cursor{pos: p.CursorPosition, selStart: p.CursorPosition, selEnd: p.CursorPosition}
	if p.SelectionStart != nil {
		c.selStart = *p.SelectionStart
	}
	if p.SelectionEnd != nil {
		c.selEnd = *p.SelectionEnd
	}
	s.setCursor(c)

	now := e.now()
	e.bestEffort("presence.upsert.fail", e.store.UpsertCursor(ctx, notes.Presence{
		RoomID:         roomID,
		UserID:         s.UserID,
		UserName:       s.Name(),
		Color:          s.Color(),
		CursorPosition: c.pos,
		SelectionStart: c.selStart,
		SelectionEnd:   c.selEnd,
		LastSeen:       now,
	}), "room_id", roomID, "session_id", s.ID)

	e.broadcast(roomID, newEnvelope(v1.TypeCursorUpdate, v1.CursorBroadcastPayload{
		UserID:         s.UserID,
		UserName:       s.Name(),
		Color:          s.Color(),
		CursorPosition: c.pos,
		SelectionStart: c.selStart,
		SelectionEnd:   c.selEnd,
	}, now), s.ID)
	return nil
}

// SetTyping fans out the typing state of s. Non-members are ignored.
func (e *Engine) SetTyping(_ context.Context, s *Session, roomID string, isTyping bool) error {
	roomID = strings.TrimSpace(roomID)
	if !e.isMember(s, roomID) {
		return nil
	}
	e.broadcast(roomID, newEnvelope(v1.TypeUserTyping, v1.UserTypingPayload{
		UserID:   s.UserID,
		UserName: s.Name(),
		IsTyping: isTyping,
	}, e.now()), s.ID)
	return nil
}

// ActivePresence purges stale presence rows of room and lists the rest newest first.
func (e *Engine) ActivePresence(ctx context.Context, room string) ([]notes.Presence, error) {
	return e.store.ListActiveSessions(ctx, room, e.now().Add(-e.presenceStale))
}

// Touch refreshes the presence row and room access time of s after a liveness answer.
func (e *Engine) Touch(ctx context.Context, s *Session) {
	room := s.Room()
	if room == "" {
		return
	}
	c := s.cursorState()
	now := e.now()
	e.bestEffort("presence.upsert.fail", e.store.UpsertCursor(ctx, notes.Presence{
		RoomID:         room,
		UserID:         s.UserID,
		UserName:       s.Name(),
		Color:          s.Color(),
		CursorPosition: c.pos,
		SelectionStart: c.selStart,
		SelectionEnd:   c.selEnd,
		LastSeen:       now,
	}), "room_id", room, "session_id", s.ID)
	e.bestEffort("room.touch.fail", e.store.TouchRoom(ctx, room, now), "room_id", room)
}

func presencePayload(p notes.Presence) v1.PresencePayload {
	return v1.PresencePayload{
		UserID:         p.UserID,
		UserName:       p.UserName,
		Color:          p.Color,
		CursorPosition: p.CursorPosition,
		SelectionStart: p.SelectionStart,
		SelectionEnd:   p.SelectionEnd,
		LastSeen:       p.LastSeen,
	}
}
