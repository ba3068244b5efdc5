package realtime

import (
	"context"
	"strings"

	"notesync/cmd/internal/notes"
)

// ListVersions returns the newest snapshots of roomID for a member.
// limit defaults to 10 and is clamped to 100.
func (e *Engine) ListVersions(ctx context.Context, s *Session, roomID string, limit int) ([]notes.Version, error) {
	const op = "get-version-history"

	roomID = strings.TrimSpace(roomID)
	if !e.isMember(s, roomID) {
		return nil, opErr(op, ErrAccessDenied, "Not a member of this room")
	}

	if limit <= 0 {
		limit = defaultVersionLimit
	}
	if limit > maxVersionLimit {
		limit = maxVersionLimit
	}

	vs, err := e.store.ListVersions(ctx, roomID, limit)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return vs, nil
}
