package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPresenceStore keeps cursor presence in Redis.
//
// Layout per room:
//   - <prefix>presence:<room>       hash  user_id -> JSON row
//   - <prefix>presence:<room>:seen  zset  user_id scored by last-seen unix millis
//
// Both keys carry a TTL refreshed on every write so abandoned rooms age out.
type RedisPresenceStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ PresenceStore = (*RedisPresenceStore)(nil)

// RedisPresenceOption configures RedisPresenceStore.
type RedisPresenceOption func(*RedisPresenceStore)

// WithKeyPrefix sets the key namespace (default "notesync:").
func WithKeyPrefix(prefix string) RedisPresenceOption {
	return func(s *RedisPresenceStore) { s.prefix = prefix }
}

// WithPresenceTTL sets the expiry of a room's presence keys (default 24h).
func WithPresenceTTL(ttl time.Duration) RedisPresenceOption {
	return func(s *RedisPresenceStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewRedisPresenceStore constructs a presence store. The client is owned by the caller.
func NewRedisPresenceStore(rdb redis.UniversalClient, opts ...RedisPresenceOption) (*RedisPresenceStore, error) {
	if rdb == nil {
		return nil, errors.New("notes: nil redis client")
	}
	s := &RedisPresenceStore{rdb: rdb, prefix: "notesync:", ttl: 24 * time.Hour}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

type presenceRow struct {
	UserName       string `json:"user_name"`
	Color          string `json:"color"`
	CursorPosition int    `json:"cursor_position"`
	SelectionStart int    `json:"selection_start"`
	SelectionEnd   int    `json:"selection_end"`
	LastSeenMS     int64  `json:"last_seen_ms"`
}

func (s *RedisPresenceStore) rowsKey(roomID string) string { return s.prefix + "presence:" + roomID }
func (s *RedisPresenceStore) seenKey(roomID string) string {
	return s.prefix + "presence:" + roomID + ":seen"
}

// UpsertCursor stores the latest cursor state of a user.
func (s *RedisPresenceStore) UpsertCursor(ctx context.Context, p Presence) error {
	if p.RoomID == "" || p.UserID == "" {
		return ErrInvalidInput
	}
	seen := nowOr(p.LastSeen)
	b, err := json.Marshal(presenceRow{
		UserName:       p.UserName,
		Color:          p.Color,
		CursorPosition: p.CursorPosition,
		SelectionStart: p.SelectionStart,
		SelectionEnd:   p.SelectionEnd,
		LastSeenMS:     seen.UnixMilli(),
	})
	if err != nil {
		return err
	}

	rows, seenKey := s.rowsKey(p.RoomID), s.seenKey(p.RoomID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, rows, p.UserID, b)
		pipe.ZAdd(ctx, seenKey, redis.Z{Score: float64(seen.UnixMilli()), Member: p.UserID})
		pipe.Expire(ctx, rows, s.ttl)
		pipe.Expire(ctx, seenKey, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert cursor: %w", err)
	}
	return nil
}

// ListActiveSessions purges stale rows and returns the rest newest first.
func (s *RedisPresenceStore) ListActiveSessions(ctx context.Context, roomID string, staleBefore time.Time) ([]Presence, error) {
	rows, seenKey := s.rowsKey(roomID), s.seenKey(roomID)

	stale, err := s.rdb.ZRangeByScore(ctx, seenKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(staleBefore.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list stale: %w", err)
	}
	if len(stale) > 0 {
		members := make([]any, len(stale))
		for i, id := range stale {
			members[i] = id
		}
		if _, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, rows, stale...)
			pipe.ZRem(ctx, seenKey, members...)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("redis purge stale: %w", err)
		}
	}

	ids, err := s.rdb.ZRevRange(ctx, seenKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list active: %w", err)
	}
	if len(ids) == 0 {
		return []Presence{}, nil
	}
	vals, err := s.rdb.HMGet(ctx, rows, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read rows: %w", err)
	}

	out := make([]Presence, 0, len(ids))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var r presenceRow
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			continue
		}
		out = append(out, Presence{
			RoomID:         roomID,
			UserID:         ids[i],
			UserName:       r.UserName,
			Color:          r.Color,
			CursorPosition: r.CursorPosition,
			SelectionStart: r.SelectionStart,
			SelectionEnd:   r.SelectionEnd,
			LastSeen:       time.UnixMilli(r.LastSeenMS).UTC(),
		})
	}
	sortPresence(out)
	return out, nil
}

// DeleteSession removes one presence row.
func (s *RedisPresenceStore) DeleteSession(ctx context.Context, roomID, userID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.rowsKey(roomID), userID)
		pipe.ZRem(ctx, s.seenKey(roomID), userID)
		return nil
	})
	return err
}

// DeleteRoomSessions removes every presence row of a room.
func (s *RedisPresenceStore) DeleteRoomSessions(ctx context.Context, roomID string) error {
	return s.rdb.Del(ctx, s.rowsKey(roomID), s.seenKey(roomID)).Err()
}

type presenceOverlay struct {
	Store
	presence PresenceStore
}

// WithPresence routes presence calls of base to p and clears p when rooms are deleted.
func WithPresence(base Store, p PresenceStore) Store {
	if p == nil {
		return base
	}
	return &presenceOverlay{Store: base, presence: p}
}

func (o *presenceOverlay) UpsertCursor(ctx context.Context, p Presence) error {
	return o.presence.UpsertCursor(ctx, p)
}

func (o *presenceOverlay) ListActiveSessions(ctx context.Context, roomID string, staleBefore time.Time) ([]Presence, error) {
	return o.presence.ListActiveSessions(ctx, roomID, staleBefore)
}

func (o *presenceOverlay) DeleteSession(ctx context.Context, roomID, userID string) error {
	return o.presence.DeleteSession(ctx, roomID, userID)
}

func (o *presenceOverlay) DeleteRoomSessions(ctx context.Context, roomID string) error {
	return o.presence.DeleteRoomSessions(ctx, roomID)
}

func (o *presenceOverlay) DeleteRoom(ctx context.Context, roomID string) error {
	if err := o.Store.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	if err := o.presence.DeleteRoomSessions(ctx, roomID); err != nil {
		return fmt.Errorf("clear presence: %w", err)
	}
	return nil
}

func (o *presenceOverlay) DeleteExpiredRooms(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := o.Store.DeleteExpiredRooms(ctx, now)
	if err != nil {
		return ids, err
	}
	var errs []error
	for _, id := range ids {
		if err := o.presence.DeleteRoomSessions(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return ids, fmt.Errorf("clear presence: %w", errors.Join(errs...))
	}
	return ids, nil
}
