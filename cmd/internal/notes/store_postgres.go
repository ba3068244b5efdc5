package notes

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Individual calls are atomic statements.
//   - SaveVersion takes a per-room transactional advisory lock so version numbers
//     are allocated without a read-then-insert race.
//   - DeleteRoom is the only multi-statement transaction.
type PostgresStore struct {
	pool   *pgxpool.Pool
	hasher PasswordHasher
	schema string

	rooms    string
	notes    string
	versions string
	sessions string
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "notesync").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("notes: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("notes: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, hasher PasswordHasher, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		hasher: hasher,
		schema: "notesync",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("notes: nil pool")
	}
	if st.hasher == nil {
		return nil, errors.New("notes: nil password hasher")
	}

	st.rooms = pgIdent(st.schema, "rooms")
	st.notes = pgIdent(st.schema, "notes")
	st.versions = pgIdent(st.schema, "note_versions")
	st.sessions = pgIdent(st.schema, "active_sessions")
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// EnsureSchema creates the schema and tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := strings.NewReplacer(
		"{{schema}}", pgx.Identifier{s.schema}.Sanitize(),
		"{{rooms}}", s.rooms,
		"{{notes}}", s.notes,
		"{{note_versions}}", s.versions,
		"{{active_sessions}}", s.sessions,
	).Replace(schemaSQL)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateRoom inserts a room and its empty note. A taken id yields ErrConflict.
func (s *PostgresStore) CreateRoom(ctx context.Context, in CreateRoomInput) (RoomInfo, error) {
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.Name) == "" || in.AutoDeleteHours < 0 {
		return RoomInfo{}, ErrInvalidInput
	}

	var hash *string
	if in.Password != "" {
		h, err := s.hasher.Hash(in.Password)
		if err != nil {
			return RoomInfo{}, fmt.Errorf("hash password: %w", err)
		}
		hash = &h
	}
	now := nowOr(in.Now)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return RoomInfo{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.rooms+` (id, name, password_hash, auto_delete_hours, created_by, created_at, last_accessed)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		in.ID, in.Name, hash, in.AutoDeleteHours, in.CreatedBy, now,
	); err != nil {
		if isPgCode(err, pgUniqueViolation) {
			return RoomInfo{}, ErrConflict
		}
		return RoomInfo{}, fmt.Errorf("insert room: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.notes+` (room_id, content, updated_at) VALUES ($1, '', $2)`,
		in.ID, now,
	); err != nil {
		return RoomInfo{}, fmt.Errorf("insert note: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return RoomInfo{}, err
	}

	return RoomInfo{
		ID:              in.ID,
		Name:            in.Name,
		HasPassword:     hash != nil,
		AutoDeleteHours: in.AutoDeleteHours,
		CreatedBy:       in.CreatedBy,
		CreatedAt:       now,
		LastAccessed:    now,
	}, nil
}

// EnsureRoom returns the room, creating an unprotected one named after its id when absent.
func (s *PostgresStore) EnsureRoom(ctx context.Context, in EnsureRoomInput) (RoomInfo, bool, error) {
	if strings.TrimSpace(in.ID) == "" || in.AutoDeleteHours < 0 {
		return RoomInfo{}, false, ErrInvalidInput
	}
	now := nowOr(in.Now)

	var created bool
	err := s.pool.QueryRow(ctx,
		`WITH ins AS (
		   INSERT INTO `+s.rooms+` (id, name, auto_delete_hours, created_at, last_accessed)
		   VALUES ($1, $1, $2, $3, $3)
		   ON CONFLICT (id) DO NOTHING
		   RETURNING id
		 ), note AS (
		   INSERT INTO `+s.notes+` (room_id, content, updated_at)
		   SELECT id, '', $3 FROM ins
		 )
		 SELECT EXISTS (SELECT 1 FROM ins)`,
		in.ID, in.AutoDeleteHours, now,
	).Scan(&created)
	if err != nil {
		return RoomInfo{}, false, fmt.Errorf("ensure room: %w", err)
	}

	info, err := s.GetRoomInfo(ctx, in.ID)
	if err != nil {
		return RoomInfo{}, false, err
	}
	return info, created, nil
}

// GetRoomInfo returns room metadata or ErrRoomNotFound.
func (s *PostgresStore) GetRoomInfo(ctx context.Context, roomID string) (RoomInfo, error) {
	var r RoomInfo
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, password_hash IS NOT NULL, auto_delete_hours, created_by, created_at, last_accessed
		   FROM `+s.rooms+`
		  WHERE id = $1`,
		roomID,
	).Scan(&r.ID, &r.Name, &r.HasPassword, &r.AutoDeleteHours, &r.CreatedBy, &r.CreatedAt, &r.LastAccessed)
	if errors.Is(err, pgx.ErrNoRows) {
		return RoomInfo{}, ErrRoomNotFound
	}
	if err != nil {
		return RoomInfo{}, err
	}
	return r, nil
}

// VerifyPassword checks password against the stored hash.
func (s *PostgresStore) VerifyPassword(ctx context.Context, roomID, password string) (bool, error) {
	var hash *string
	err := s.pool.QueryRow(ctx,
		`SELECT password_hash FROM `+s.rooms+` WHERE id = $1`,
		roomID,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrRoomNotFound
	}
	if err != nil {
		return false, err
	}
	if hash == nil || *hash == "" {
		return true, nil
	}
	if password == "" {
		return false, nil
	}
	return s.hasher.Verify(*hash, password)
}

// GetNote returns the current content of a room.
func (s *PostgresStore) GetNote(ctx context.Context, roomID string) (Note, error) {
	var (
		n         Note
		content   *string
		encrypted *bool
		updatedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT r.id, n.content, n.is_encrypted, n.updated_at
		   FROM `+s.rooms+` r
		   LEFT JOIN `+s.notes+` n ON n.room_id = r.id
		  WHERE r.id = $1`,
		roomID,
	).Scan(&n.RoomID, &content, &encrypted, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Note{}, ErrRoomNotFound
	}
	if err != nil {
		return Note{}, err
	}
	if content != nil {
		n.Content = *content
	}
	if encrypted != nil {
		n.Encrypted = *encrypted
	}
	if updatedAt != nil {
		n.UpdatedAt = *updatedAt
	}
	return n, nil
}

// UpsertNote replaces the room content (last write wins) and refreshes its access time.
func (s *PostgresStore) UpsertNote(ctx context.Context, in UpsertNoteInput) (Note, error) {
	now := nowOr(in.Now)

	_, err := s.pool.Exec(ctx,
		`WITH note AS (
		   INSERT INTO `+s.notes+` (room_id, content, is_encrypted, updated_at)
		   VALUES ($1, $2, $3, $4)
		   ON CONFLICT (room_id) DO UPDATE
		     SET content = EXCLUDED.content,
		         is_encrypted = EXCLUDED.is_encrypted,
		         updated_at = EXCLUDED.updated_at
		 )
		 UPDATE `+s.rooms+` SET last_accessed = $4 WHERE id = $1`,
		in.RoomID, in.Content, in.Encrypt, now,
	)
	if err != nil {
		if isPgCode(err, pgForeignKeyViolation) {
			return Note{}, ErrRoomNotFound
		}
		return Note{}, fmt.Errorf("upsert note: %w", err)
	}
	return Note{RoomID: in.RoomID, Content: in.Content, Encrypted: in.Encrypt, UpdatedAt: now}, nil
}

// TouchRoom refreshes the room's last access time.
func (s *PostgresStore) TouchRoom(ctx context.Context, roomID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.rooms+` SET last_accessed = $2 WHERE id = $1`,
		roomID, nowOr(now),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// DeleteRoom removes presence rows, versions, the note and the room in one transaction.
func (s *PostgresStore) DeleteRoom(ctx context.Context, roomID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range []string{s.sessions, s.versions, s.notes} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE room_id = $1`, roomID); err != nil {
			return fmt.Errorf("delete room rows: %w", err)
		}
	}
	tag, err := tx.Exec(ctx, `DELETE FROM `+s.rooms+` WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return tx.Commit(ctx)
}

// DeleteExpiredRooms removes rooms idle for longer than their nonzero horizon.
// Dependent rows go with the room through ON DELETE CASCADE.
func (s *PostgresStore) DeleteExpiredRooms(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM `+s.rooms+`
		  WHERE auto_delete_hours > 0
		    AND last_accessed < $1::timestamptz - make_interval(hours => auto_delete_hours)
		RETURNING id`,
		nowOr(now),
	)
	if err != nil {
		return nil, fmt.Errorf("delete expired rooms: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListRooms returns rooms ordered by most recent access.
func (s *PostgresStore) ListRooms(ctx context.Context, limit int) ([]RoomInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, password_hash IS NOT NULL, auto_delete_hours, created_by, created_at, last_accessed
		   FROM `+s.rooms+`
		  ORDER BY last_accessed DESC, id ASC
		  LIMIT $1`,
		clampLimit(limit, maxRoomsLimit, maxRoomsLimit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoomInfo
	for rows.Next() {
		var r RoomInfo
		if err := rows.Scan(&r.ID, &r.Name, &r.HasPassword, &r.AutoDeleteHours, &r.CreatedBy, &r.CreatedAt, &r.LastAccessed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveVersion appends a snapshot numbered one past the room's latest.
func (s *PostgresStore) SaveVersion(ctx context.Context, in SaveVersionInput) (Version, error) {
	now := nowOr(in.Now)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Version{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize version allocation per room.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.RoomID); err != nil {
		return Version{}, fmt.Errorf("advisory lock: %w", err)
	}

	v := Version{
		RoomID:    in.RoomID,
		Content:   in.Content,
		Encrypted: in.Encrypted,
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO `+s.versions+` (room_id, version_number, content, is_encrypted, created_by, created_at)
		 SELECT $1, COALESCE(MAX(version_number), 0) + 1, $2, $3, $4, $5
		   FROM `+s.versions+`
		  WHERE room_id = $1
		RETURNING id, version_number`,
		in.RoomID, in.Content, in.Encrypted, in.CreatedBy, now,
	).Scan(&v.ID, &v.Number)
	if err != nil {
		if isPgCode(err, pgForeignKeyViolation) {
			return Version{}, ErrRoomNotFound
		}
		return Version{}, fmt.Errorf("insert version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Version{}, err
	}
	return v, nil
}

// ListVersions returns up to limit snapshots, newest first.
func (s *PostgresStore) ListVersions(ctx context.Context, roomID string, limit int) ([]Version, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, room_id, version_number, content, is_encrypted, created_by, created_at
		   FROM `+s.versions+`
		  WHERE room_id = $1
		  ORDER BY version_number DESC
		  LIMIT $2`,
		roomID, clampLimit(limit, defaultListLimit, maxListLimit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetVersion returns a snapshot of roomID by id.
func (s *PostgresStore) GetVersion(ctx context.Context, roomID string, versionID int64) (Version, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, room_id, version_number, content, is_encrypted, created_by, created_at
		   FROM `+s.versions+`
		  WHERE id = $1 AND room_id = $2`,
		versionID, roomID,
	)
	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Version{}, ErrVersionNotFound
	}
	return v, err
}

func scanVersion(row pgx.Row) (Version, error) {
	var v Version
	err := row.Scan(&v.ID, &v.RoomID, &v.Number, &v.Content, &v.Encrypted, &v.CreatedBy, &v.CreatedAt)
	return v, err
}

// UpsertCursor stores the latest cursor state of a user.
func (s *PostgresStore) UpsertCursor(ctx context.Context, p Presence) error {
	if p.RoomID == "" || p.UserID == "" {
		return ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.sessions+` (room_id, user_id, user_name, color, cursor_position, selection_start, selection_end, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (room_id, user_id) DO UPDATE
		   SET user_name = EXCLUDED.user_name,
		       color = EXCLUDED.color,
		       cursor_position = EXCLUDED.cursor_position,
		       selection_start = EXCLUDED.selection_start,
		       selection_end = EXCLUDED.selection_end,
		       last_seen = EXCLUDED.last_seen`,
		p.RoomID, p.UserID, p.UserName, p.Color, p.CursorPosition, p.SelectionStart, p.SelectionEnd, nowOr(p.LastSeen),
	)
	if err != nil {
		if isPgCode(err, pgForeignKeyViolation) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// ListActiveSessions purges stale rows and returns the rest newest first.
func (s *PostgresStore) ListActiveSessions(ctx context.Context, roomID string, staleBefore time.Time) ([]Presence, error) {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.sessions+` WHERE room_id = $1 AND last_seen < $2`,
		roomID, staleBefore,
	); err != nil {
		return nil, fmt.Errorf("purge stale sessions: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT room_id, user_id, user_name, color, cursor_position, selection_start, selection_end, last_seen
		   FROM `+s.sessions+`
		  WHERE room_id = $1
		  ORDER BY last_seen DESC, user_id ASC`,
		roomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Presence, 0, 8)
	for rows.Next() {
		var p Presence
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.UserName, &p.Color,
			&p.CursorPosition, &p.SelectionStart, &p.SelectionEnd, &p.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteSession removes one presence row.
func (s *PostgresStore) DeleteSession(ctx context.Context, roomID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.sessions+` WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	)
	return err
}

// DeleteRoomSessions removes every presence row of a room.
func (s *PostgresStore) DeleteRoomSessions(ctx context.Context, roomID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.sessions+` WHERE room_id = $1`, roomID)
	return err
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
