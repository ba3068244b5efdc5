package realtime

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"notesync/cmd/internal/notes"
	v1 "notesync/shared/contracts/realtime/v1"
)

// CreateRoom creates a named room on behalf of s. The creator is not joined.
func (e *Engine) CreateRoom(ctx context.Context, s *Session, req CreateRoomRequest) (notes.RoomInfo, error) {
	req.CreatedBy = s.Name()
	info, err := e.gate.CreateRoom(ctx, req)
	if err != nil {
		return notes.RoomInfo{}, err
	}
	e.metrics.roomCreated()
	e.log.Info("room.create",
		"room_id", info.ID,
		"session_id", s.ID,
		"has_password", info.HasPassword,
		"auto_delete_hours", info.AutoDeleteHours,
	)
	return info, nil
}

// Join admits s into roomID, leaving its previous room first.
//
// On success s receives load-content and the room receives active-users and users-count.
// A missing or wrong password sends room-password-required and admits nothing.
func (e *Engine) Join(ctx context.Context, s *Session, roomID, password, userName string) (Admission, error) {
	roomID = strings.TrimSpace(roomID)

	adm, err := e.gate.Check(ctx, roomID, password)
	if err != nil {
		return adm, err
	}

	if adm.Outcome == AdmitPasswordRequired {
		e.metrics.passwordDenied()
		e.send(s, newEnvelope(v1.TypeRoomPasswordRequired, v1.RoomPasswordRequiredPayload{RoomID: roomID}, e.now()))
		e.log.Info("room.member.password_required", "room_id", roomID, "session_id", s.ID)
		return adm, nil
	}
	if adm.Outcome == AdmitCreated {
		e.metrics.roomCreated()
	}

	if prev := s.Room(); prev != "" && prev != roomID {
		e.leave(ctx, s, prev)
	}
	if name := cleanUserName(userName); name != "" {
		s.setName(name)
	}

	mu := e.reg.Serialize(roomID)
	mu.Lock()
	adm, err = e.gate.Load(ctx, adm)
	if err != nil {
		mu.Unlock()
		return adm, err
	}
	count := e.reg.Add(roomID, s)
	s.setRoom(roomID)
	e.send(s, newEnvelope(v1.TypeLoadContent, v1.LoadContentPayload{
		RoomID:      roomID,
		Content:     adm.Content,
		IsEncrypted: adm.Encrypted,
		RoomInfo: v1.RoomInfoPayload{
			Name:            adm.Room.Name,
			HasPassword:     adm.Room.HasPassword,
			AutoDeleteHours: adm.Room.AutoDeleteHours,
			Created:         adm.Outcome == AdmitCreated,
		},
		UserID:   s.UserID,
		UserName: s.Name(),
		Color:    s.Color(),
	}, e.now()))
	mu.Unlock()

	select {
	case <-s.Done():
		e.leave(ctx, s, roomID)
		return adm, nil
	default:
	}

	now := e.now()
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	e.bestEffort("presence.upsert.fail", e.store.UpsertCursor(sctx, notes.Presence{
		RoomID:   roomID,
		UserID:   s.UserID,
		UserName: s.Name(),
		Color:    s.Color(),
		LastSeen: now,
	}), "room_id", roomID, "session_id", s.ID)
	e.bestEffort("room.touch.fail", e.store.TouchRoom(sctx, roomID, now), "room_id", roomID)

	e.log.Info("room.member.join",
		"room_id", roomID,
		"session_id", s.ID,
		"outcome", adm.Outcome.String(),
		"count", count,
	)

	e.broadcastRoster(sctx, roomID)
	return adm, nil
}

// Leave removes s from roomID. It is ignored when roomID is not the session's current room.
func (e *Engine) Leave(ctx context.Context, s *Session, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" || s.Room() != roomID {
		return nil
	}
	e.leave(ctx, s, roomID)
	return nil
}

// Disconnect tears down s: leaves its room, deletes its presence row and closes it.
// It is idempotent.
func (e *Engine) Disconnect(ctx context.Context, s *Session) {
	// Close first so a concurrent Join observes the shutdown and undoes itself.
	s.Close()
	if room := s.Room(); room != "" {
		e.leave(ctx, s, room)
	}
	s.releaseOnce.Do(func() {
		e.metrics.connClosed()
		e.log.Info("session.disconnect", "session_id", s.ID)
	})
}

func (e *Engine) leave(ctx context.Context, s *Session, room string) {
	if !s.clearRoom(room) {
		return
	}
	remaining := e.reg.Remove(room, s.ID)

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	e.bestEffort("presence.delete.fail", e.store.DeleteSession(sctx, room, s.UserID),
		"room_id", room, "session_id", s.ID)

	e.log.Info("room.member.leave", "room_id", room, "session_id", s.ID, "remaining", remaining)

	if remaining > 0 {
		e.broadcastRoster(sctx, room)
	}
}

// DeleteRoom deletes roomID on behalf of a member allowed by the delete policy.
// Members receive room-deleted before the store cascade runs.
func (e *Engine) DeleteRoom(ctx context.Context, s *Session, roomID string) error {
	const op = "delete-room"

	roomID = strings.TrimSpace(roomID)
	if !e.isMember(s, roomID) {
		return opErr(op, ErrAccessDenied, "Not a member of this room")
	}

	info, err := e.store.GetRoomInfo(ctx, roomID)
	if errors.Is(err, notes.ErrRoomNotFound) {
		return opErr(op, ErrNotFound, "Room not found")
	}
	if err != nil {
		return storeErr(op, err)
	}
	if !e.canDelete(s, info) {
		return opErr(op, ErrAccessDenied, "Not allowed to delete this room")
	}

	mu := e.reg.Serialize(roomID)
	mu.Lock()
	n := e.evict(roomID)
	mu.Unlock()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.DeleteRoom(sctx, roomID); err != nil && !errors.Is(err, notes.ErrRoomNotFound) {
		e.log.Error("room.delete.fail", "room_id", roomID, "err", err)
		return storeErr(op, err)
	}

	e.metrics.roomDeleted("explicit", 1)
	e.log.Info("room.delete", "room_id", roomID, "session_id", s.ID, "members", n)
	return nil
}

// SweepIdleRooms deletes rooms idle past their horizon and notifies their live members.
func (e *Engine) SweepIdleRooms(ctx context.Context) (int, error) {
	deleted, err := e.store.DeleteExpiredRooms(ctx, e.now())
	for _, id := range deleted {
		mu := e.reg.Serialize(id)
		mu.Lock()
		e.evict(id)
		mu.Unlock()
	}
	e.metrics.roomDeleted("expired", len(deleted))
	return len(deleted), err
}

// evict removes room from the registry and sends room-deleted to its former members.
// Callers hold the room's write lock.
func (e *Engine) evict(room string) int {
	members := e.reg.Evict(room)
	env := newEnvelope(v1.TypeRoomDeleted, v1.RoomRefPayload{RoomID: room}, e.now())
	for _, m := range members {
		m.clearRoom(room)
		e.send(m, env)
	}
	return len(members)
}

// broadcastRoster sends active-users and users-count to every member of room.
func (e *Engine) broadcastRoster(ctx context.Context, room string) {
	users := e.roster(ctx, room)
	now := e.now()
	e.broadcast(room, newEnvelope(v1.TypeActiveUsers, v1.ActiveUsersPayload{RoomID: room, Users: users}, now), "")
	e.broadcast(room, newEnvelope(v1.TypeUsersCount, v1.UsersCountPayload{RoomID: room, Count: e.reg.Count(room)}, now), "")
}

// roster lists persisted presence, falling back to live sessions when the store fails.
func (e *Engine) roster(ctx context.Context, room string) []v1.PresencePayload {
	rows, err := e.ActivePresence(ctx, room)
	if err == nil {
		out := make([]v1.PresencePayload, 0, len(rows))
		for _, p := range rows {
			out = append(out, presencePayload(p))
		}
		return out
	}
	e.bestEffort("presence.list.fail", err, "room_id", room)

	sessions := e.reg.Sessions(room)
	out := make([]v1.PresencePayload, 0, len(sessions))
	now := e.now()
	for _, s := range sessions {
		c := s.cursorState()
		out = append(out, v1.PresencePayload{
			UserID:         s.UserID,
			UserName:       s.Name(),
			Color:          s.Color(),
			CursorPosition: c.pos,
			SelectionStart: c.selStart,
			SelectionEnd:   c.selEnd,
			LastSeen:       now,
		})
	}
	return out
}

func cleanUserName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxUserNameChars {
		name = string([]rune(name)[:maxUserNameChars])
	}
	return name
}
