package realtime

import (
	"context"
	"errors"
	"strings"

	"notesync/cmd/internal/notes"
	v1 "notesync/shared/contracts/realtime/v1"
)

// SubmitEdit replaces the room content with content (last write wins) and fans it out
// to the other members. Oversized content is rejected before the store is touched.
func (e *Engine) SubmitEdit(ctx context.Context, s *Session, roomID, content string, shouldEncrypt bool) (string, error) {
	const op = "update-content"

	if len(content) > MaxContentBytes {
		return "", opErr(op, ErrContentTooLarge, "Content too large")
	}
	roomID = strings.TrimSpace(roomID)
	if !e.isMember(s, roomID) {
		return "", opErr(op, ErrAccessDenied, "Not a member of this room")
	}

	mu := e.reg.Serialize(roomID)
	mu.Lock()
	defer mu.Unlock()

	if err := e.applyLocked(ctx, s, op, roomID, content, shouldEncrypt, false); err != nil {
		return "", err
	}
	return content, nil
}

// RestoreVersion re-applies a snapshot as a new edit and fans it out to every member,
// the requester included.
func (e *Engine) RestoreVersion(ctx context.Context, s *Session, roomID string, versionID int64) error {
	const op = "restore-version"

	roomID = strings.TrimSpace(roomID)
	if !e.isMember(s, roomID) {
		return opErr(op, ErrAccessDenied, "Not a member of this room")
	}

	v, err := e.store.GetVersion(ctx, roomID, versionID)
	if errors.Is(err, notes.ErrVersionNotFound) {
		return opErr(op, ErrNotFound, "Version not found")
	}
	if err != nil {
		return storeErr(op, err)
	}

	mu := e.reg.Serialize(roomID)
	mu.Lock()
	defer mu.Unlock()

	if err := e.applyLocked(ctx, s, op, roomID, v.Content, v.Encrypted, true); err != nil {
		return err
	}
	e.log.Info("room.version.restore", "room_id", roomID, "session_id", s.ID, "version", v.Number)
	return nil
}

// applyLocked persists content, maybe snapshots it, and broadcasts the result.
// Callers hold the room's write lock. A failed snapshot never rolls back the edit.
func (e *Engine) applyLocked(ctx context.Context, s *Session, op, roomID, content string, encrypt, restored bool) error {
	now := e.now()

	note, err := e.store.UpsertNote(ctx, notes.UpsertNoteInput{
		RoomID:  roomID,
		Content: content,
		Encrypt: encrypt,
		Now:     now,
	})
	if errors.Is(err, notes.ErrRoomNotFound) {
		return opErr(op, ErrNotFound, "Room not found")
	}
	if err != nil {
		e.log.Error("content.upsert.fail", "room_id", roomID, "session_id", s.ID, "err", err)
		return storeErr(op, err)
	}
	e.metrics.contentUpdated()

	edits := e.reg.nextEdit(roomID)
	if e.snapshot(edits, content) {
		v, err := e.store.SaveVersion(ctx, notes.SaveVersionInput{
			RoomID:    roomID,
			Content:   content,
			Encrypted: note.Encrypted,
			CreatedBy: s.Name(),
			Now:       now,
		})
		if err != nil {
			e.log.Warn("version.save.fail", "room_id", roomID, "err", err)
		} else {
			e.metrics.versionSaved()
			e.log.Debug("version.save", "room_id", roomID, "version", v.Number)
		}
	}

	except := s.ID
	if restored {
		except = ""
	}
	e.broadcast(roomID, newEnvelope(v1.TypeUpdateContent, v1.ContentUpdatedPayload{
		RoomID:      roomID,
		Content:     content,
		UpdatedBy:   s.Name(),
		IsEncrypted: note.Encrypted,
		IsRestored:  restored,
	}, now), except)
	return nil
}
