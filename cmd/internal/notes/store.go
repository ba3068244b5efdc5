// Package notes persists rooms, their note content, version snapshots and cursor presence.
//
// The realtime engine depends only on the Store interface. Implementations:
//   - InMemoryStore: dev and test fallback when no database is configured.
//   - PostgresStore: the production store (pgx).
//   - RedisPresenceStore: optional presence backend layered with WithPresence.
//   - WithSealing: decorator sealing encrypted notes at rest.
package notes

import (
	"context"
	"time"
)

// RoomInfo is the public metadata of a room. It never carries the password hash.
type RoomInfo struct {
	ID              string
	Name            string
	HasPassword     bool
	AutoDeleteHours int
	CreatedBy       string
	CreatedAt       time.Time
	LastAccessed    time.Time
}

// Note is the current content of a room.
type Note struct {
	RoomID    string
	Content   string
	Encrypted bool
	UpdatedAt time.Time
}

// Version is an immutable content snapshot.
// Number is strictly increasing per room; gaps are allowed.
type Version struct {
	ID        int64
	RoomID    string
	Number    int64
	Content   string
	Encrypted bool
	CreatedBy string
	CreatedAt time.Time
}

// Presence is the last known cursor state of a user in a room.
type Presence struct {
	RoomID         string
	UserID         string
	UserName       string
	Color          string
	CursorPosition int
	SelectionStart int
	SelectionEnd   int
	LastSeen       time.Time
}

// CreateRoomInput describes an explicit room creation.
// An empty Password creates an unprotected room.
type CreateRoomInput struct {
	ID              string
	Name            string
	Password        string
	AutoDeleteHours int
	CreatedBy       string
	Now             time.Time
}

// EnsureRoomInput describes an implicit creation on first join.
type EnsureRoomInput struct {
	ID              string
	AutoDeleteHours int
	Now             time.Time
}

// UpsertNoteInput replaces the content of a room (last write wins).
type UpsertNoteInput struct {
	RoomID  string
	Content string
	Encrypt bool
	Now     time.Time
}

// SaveVersionInput appends a snapshot.
type SaveVersionInput struct {
	RoomID    string
	Content   string
	Encrypted bool
	CreatedBy string
	Now       time.Time
}

// RoomStore persists rooms and their current content.
type RoomStore interface {
	CreateRoom(ctx context.Context, in CreateRoomInput) (RoomInfo, error)
	EnsureRoom(ctx context.Context, in EnsureRoomInput) (info RoomInfo, created bool, err error)
	GetRoomInfo(ctx context.Context, roomID string) (RoomInfo, error)
	// VerifyPassword reports true for rooms without a password.
	VerifyPassword(ctx context.Context, roomID, password string) (bool, error)
	GetNote(ctx context.Context, roomID string) (Note, error)
	UpsertNote(ctx context.Context, in UpsertNoteInput) (Note, error)
	TouchRoom(ctx context.Context, roomID string, now time.Time) error
	// DeleteRoom removes the room with its note, versions and presence in one unit.
	DeleteRoom(ctx context.Context, roomID string) error
	// DeleteExpiredRooms removes rooms idle longer than their nonzero horizon and returns their ids.
	DeleteExpiredRooms(ctx context.Context, now time.Time) ([]string, error)
	// ListRooms returns rooms ordered by most recent access.
	ListRooms(ctx context.Context, limit int) ([]RoomInfo, error)
}

// VersionStore persists snapshots.
type VersionStore interface {
	SaveVersion(ctx context.Context, in SaveVersionInput) (Version, error)
	// ListVersions returns the newest snapshots first.
	ListVersions(ctx context.Context, roomID string, limit int) ([]Version, error)
	// GetVersion returns ErrVersionNotFound when the id is absent or belongs to another room.
	GetVersion(ctx context.Context, roomID string, versionID int64) (Version, error)
}

// PresenceStore persists cursor presence. It is best-effort and non-authoritative.
type PresenceStore interface {
	UpsertCursor(ctx context.Context, p Presence) error
	// ListActiveSessions purges rows last seen before staleBefore, then lists the rest newest first.
	ListActiveSessions(ctx context.Context, roomID string, staleBefore time.Time) ([]Presence, error)
	DeleteSession(ctx context.Context, roomID, userID string) error
	DeleteRoomSessions(ctx context.Context, roomID string) error
}

// Store is everything the realtime engine needs from persistence.
type Store interface {
	RoomStore
	VersionStore
	PresenceStore
	Close() error
}

// PasswordHasher hashes and verifies room passwords.
// password.Config satisfies it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(encodedHash, password string) (bool, error)
}

const (
	defaultListLimit = 10
	maxListLimit     = 100
	maxRoomsLimit    = 500
)

func clampLimit(limit, def, maxVal int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxVal {
		return maxVal
	}
	return limit
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
