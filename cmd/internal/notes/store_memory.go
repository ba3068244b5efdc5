package notes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a dev-only fallback when no database is configured.
// Content does not survive a restart.
type InMemoryStore struct {
	hasher PasswordHasher

	mu       sync.Mutex
	rooms    map[string]*memRoom
	nextVer  int64
	presence map[string]map[string]Presence // room -> user -> row
}

type memRoom struct {
	info         RoomInfo
	passwordHash string
	note         Note
	versions     []Version // ordered by Number ASC
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an in-memory Store.
func NewInMemoryStore(hasher PasswordHasher) *InMemoryStore {
	return &InMemoryStore{
		hasher:   hasher,
		rooms:    make(map[string]*memRoom),
		presence: make(map[string]map[string]Presence),
	}
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

// CreateRoom stores a new room. It returns ErrConflict when the id is taken.
func (s *InMemoryStore) CreateRoom(ctx context.Context, in CreateRoomInput) (RoomInfo, error) {
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.Name) == "" || in.AutoDeleteHours < 0 {
		return RoomInfo{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return RoomInfo{}, err
	}

	var hash string
	if in.Password != "" {
		if s.hasher == nil {
			return RoomInfo{}, fmt.Errorf("notes: no password hasher configured")
		}
		h, err := s.hasher.Hash(in.Password)
		if err != nil {
			return RoomInfo{}, fmt.Errorf("hash password: %w", err)
		}
		hash = h
	}

	now := nowOr(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[in.ID]; ok {
		return RoomInfo{}, ErrConflict
	}
	r := &memRoom{
		info: RoomInfo{
			ID:              in.ID,
			Name:            in.Name,
			HasPassword:     hash != "",
			AutoDeleteHours: in.AutoDeleteHours,
			CreatedBy:       in.CreatedBy,
			CreatedAt:       now,
			LastAccessed:    now,
		},
		passwordHash: hash,
		note:         Note{RoomID: in.ID, UpdatedAt: now},
	}
	s.rooms[in.ID] = r
	return r.info, nil
}

// EnsureRoom returns the room, creating an unprotected one named after its id when absent.
func (s *InMemoryStore) EnsureRoom(ctx context.Context, in EnsureRoomInput) (RoomInfo, bool, error) {
	if strings.TrimSpace(in.ID) == "" || in.AutoDeleteHours < 0 {
		return RoomInfo{}, false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return RoomInfo{}, false, err
	}

	now := nowOr(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rooms[in.ID]; ok {
		return r.info, false, nil
	}
	r := &memRoom{
		info: RoomInfo{
			ID:              in.ID,
			Name:            in.ID,
			AutoDeleteHours: in.AutoDeleteHours,
			CreatedAt:       now,
			LastAccessed:    now,
		},
		note: Note{RoomID: in.ID, UpdatedAt: now},
	}
	s.rooms[in.ID] = r
	return r.info, true, nil
}

// GetRoomInfo returns room metadata or ErrRoomNotFound.
func (s *InMemoryStore) GetRoomInfo(ctx context.Context, roomID string) (RoomInfo, error) {
	if err := ctx.Err(); err != nil {
		return RoomInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return RoomInfo{}, ErrRoomNotFound
	}
	return r.info, nil
}

// VerifyPassword checks password against the room's hash.
func (s *InMemoryStore) VerifyPassword(ctx context.Context, roomID, password string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	var hash string
	if ok {
		hash = r.passwordHash
	}
	s.mu.Unlock()

	if !ok {
		return false, ErrRoomNotFound
	}
	if hash == "" {
		return true, nil
	}
	if password == "" {
		return false, nil
	}
	// Verify runs outside the lock.
	return s.hasher.Verify(hash, password)
}

// GetNote returns the current content of a room.
func (s *InMemoryStore) GetNote(ctx context.Context, roomID string) (Note, error) {
	if err := ctx.Err(); err != nil {
		return Note{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return Note{}, ErrRoomNotFound
	}
	return r.note, nil
}

// UpsertNote replaces the room content and refreshes its access time.
func (s *InMemoryStore) UpsertNote(ctx context.Context, in UpsertNoteInput) (Note, error) {
	if err := ctx.Err(); err != nil {
		return Note{}, err
	}
	now := nowOr(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[in.RoomID]
	if !ok {
		return Note{}, ErrRoomNotFound
	}
	r.note = Note{RoomID: in.RoomID, Content: in.Content, Encrypted: in.Encrypt, UpdatedAt: now}
	r.info.LastAccessed = now
	return r.note, nil
}

// TouchRoom refreshes the room's last access time.
func (s *InMemoryStore) TouchRoom(ctx context.Context, roomID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	r.info.LastAccessed = nowOr(now)
	return nil
}

// DeleteRoom removes the room, its versions and its presence rows.
func (s *InMemoryStore) DeleteRoom(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return ErrRoomNotFound
	}
	delete(s.rooms, roomID)
	delete(s.presence, roomID)
	return nil
}

// DeleteExpiredRooms removes rooms idle for longer than their nonzero horizon.
func (s *InMemoryStore) DeleteExpiredRooms(ctx context.Context, now time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now = nowOr(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for id, r := range s.rooms {
		if r.info.AutoDeleteHours <= 0 {
			continue
		}
		horizon := time.Duration(r.info.AutoDeleteHours) * time.Hour
		if now.Sub(r.info.LastAccessed) > horizon {
			delete(s.rooms, id)
			delete(s.presence, id)
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListRooms returns rooms ordered by most recent access.
func (s *InMemoryStore) ListRooms(ctx context.Context, limit int) ([]RoomInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, maxRoomsLimit, maxRoomsLimit)

	s.mu.Lock()
	out := make([]RoomInfo, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r.info)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastAccessed.Equal(out[j].LastAccessed) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastAccessed.After(out[j].LastAccessed)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveVersion appends a snapshot numbered one past the room's latest.
func (s *InMemoryStore) SaveVersion(ctx context.Context, in SaveVersionInput) (Version, error) {
	if err := ctx.Err(); err != nil {
		return Version{}, err
	}
	now := nowOr(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[in.RoomID]
	if !ok {
		return Version{}, ErrRoomNotFound
	}

	var next int64 = 1
	if n := len(r.versions); n > 0 {
		next = r.versions[n-1].Number + 1
	}
	s.nextVer++
	v := Version{
		ID:        s.nextVer,
		RoomID:    in.RoomID,
		Number:    next,
		Content:   in.Content,
		Encrypted: in.Encrypted,
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
	}
	r.versions = append(r.versions, v)
	return v, nil
}

// ListVersions returns up to limit snapshots, newest first.
func (s *InMemoryStore) ListVersions(ctx context.Context, roomID string, limit int) ([]Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, defaultListLimit, maxListLimit)

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := make([]Version, 0, min(limit, len(r.versions)))
	for i := len(r.versions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.versions[i])
	}
	return out, nil
}

// GetVersion returns a snapshot of roomID by id.
func (s *InMemoryStore) GetVersion(ctx context.Context, roomID string, versionID int64) (Version, error) {
	if err := ctx.Err(); err != nil {
		return Version{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return Version{}, ErrVersionNotFound
	}
	for _, v := range r.versions {
		if v.ID == versionID {
			return v, nil
		}
	}
	return Version{}, ErrVersionNotFound
}

// UpsertCursor stores the latest cursor state of a user.
func (s *InMemoryStore) UpsertCursor(ctx context.Context, p Presence) error {
	if p.RoomID == "" || p.UserID == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.LastSeen = nowOr(p.LastSeen)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[p.RoomID]; !ok {
		return ErrRoomNotFound
	}
	m := s.presence[p.RoomID]
	if m == nil {
		m = make(map[string]Presence)
		s.presence[p.RoomID] = m
	}
	m[p.UserID] = p
	return nil
}

// ListActiveSessions purges stale rows and returns the rest newest first.
func (s *InMemoryStore) ListActiveSessions(ctx context.Context, roomID string, staleBefore time.Time) ([]Presence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.presence[roomID]
	out := make([]Presence, 0, len(m))
	for id, p := range m {
		if p.LastSeen.Before(staleBefore) {
			delete(m, id)
			continue
		}
		out = append(out, p)
	}
	if len(m) == 0 {
		delete(s.presence, roomID)
	}
	sortPresence(out)
	return out, nil
}

// DeleteSession removes one presence row.
func (s *InMemoryStore) DeleteSession(ctx context.Context, roomID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if m := s.presence[roomID]; m != nil {
		delete(m, userID)
		if len(m) == 0 {
			delete(s.presence, roomID)
		}
	}
	return nil
}

// DeleteRoomSessions removes every presence row of a room.
func (s *InMemoryStore) DeleteRoomSessions(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.presence, roomID)
	s.mu.Unlock()
	return nil
}

func sortPresence(ps []Presence) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].LastSeen.Equal(ps[j].LastSeen) {
			return ps[i].UserID < ps[j].UserID
		}
		return ps[i].LastSeen.After(ps[j].LastSeen)
	})
}
