package realtime

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"notesync/cmd/internal/ids"
	"notesync/cmd/internal/notes"
	"notesync/cmd/security/password"
)

const (
	maxRoomNameChars       = 255
	maxAutoDeleteHours     = 8760
	defaultAutoDeleteHours = 168
	roomIDAttempts         = 5
)

var roomIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

// ValidRoomID reports whether id is an acceptable room identifier.
func ValidRoomID(id string) bool {
	return roomIDRE.MatchString(id)
}

// AdmitOutcome is the result of an admission attempt.
type AdmitOutcome uint8

const (
	AdmitInvalid AdmitOutcome = iota
	AdmitExisting
	AdmitCreated
	AdmitPasswordRequired
)

func (o AdmitOutcome) String() string {
	switch o {
	case AdmitExisting:
		return "existing"
	case AdmitCreated:
		return "created"
	case AdmitPasswordRequired:
		return "password_required"
	default:
		return "invalid"
	}
}

// Admission is what the gate decided for a join attempt.
// Content is only filled for AdmitExisting and AdmitCreated.
type Admission struct {
	Outcome   AdmitOutcome
	Room      notes.RoomInfo
	Content   string
	Encrypted bool
}

// Admitted reports whether the session may enter the room.
func (a Admission) Admitted() bool {
	return a.Outcome == AdmitExisting || a.Outcome == AdmitCreated
}

// CreateRoomRequest describes an explicit room creation.
type CreateRoomRequest struct {
	Name            string
	Password        string
	HasPassword     bool
	AutoDeleteHours int
	CreatedBy       string
}

// Gate validates room existence and passwords before admission.
type Gate struct {
	store        notes.RoomStore
	defaultHours int
	now          func() time.Time
}

// NewGate constructs a Gate. defaultHours is the horizon given to implicitly created rooms.
func NewGate(store notes.RoomStore, defaultHours int) *Gate {
	if defaultHours < 0 || defaultHours > maxAutoDeleteHours {
		defaultHours = defaultAutoDeleteHours
	}
	return &Gate{
		store:        store,
		defaultHours: defaultHours,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateRoom validates req and stores a new room under a fresh id.
func (g *Gate) CreateRoom(ctx context.Context, req CreateRoomRequest) (notes.RoomInfo, error) {
	const op = "create-room"

	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > maxRoomNameChars {
		return notes.RoomInfo{}, opErr(op, ErrInvalidInput, "Invalid room name")
	}
	pw := req.Password
	if req.HasPassword && pw == "" {
		return notes.RoomInfo{}, opErr(op, ErrInvalidInput, "Password is required")
	}
	if !req.HasPassword {
		pw = ""
	}
	if req.AutoDeleteHours < 0 || req.AutoDeleteHours > maxAutoDeleteHours {
		return notes.RoomInfo{}, opErr(op, ErrInvalidInput, "Invalid auto-delete hours")
	}

	for attempt := 0; attempt < roomIDAttempts; attempt++ {
		id, err := ids.NewRoomToken()
		if err != nil {
			return notes.RoomInfo{}, &OpError{Op: op, Kind: ErrStoreFailure, Msg: "Failed to create room", Err: err}
		}
		info, err := g.store.CreateRoom(ctx, notes.CreateRoomInput{
			ID:              id,
			Name:            name,
			Password:        pw,
			AutoDeleteHours: req.AutoDeleteHours,
			CreatedBy:       req.CreatedBy,
			Now:             g.now(),
		})
		switch {
		case err == nil:
			return info, nil
		case errors.Is(err, notes.ErrConflict):
			continue
		default:
			if msg, ok := passwordPolicyMessage(err); ok {
				return notes.RoomInfo{}, &OpError{Op: op, Kind: ErrInvalidInput, Msg: msg, Err: err}
			}
			return notes.RoomInfo{}, &OpError{Op: op, Kind: ErrStoreFailure, Msg: "Failed to create room", Err: err}
		}
	}
	return notes.RoomInfo{}, opErr(op, ErrStoreFailure, "Failed to create room")
}

// passwordPolicyMessage maps a rejected room password to a client-facing message.
func passwordPolicyMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, password.ErrPasswordEmpty):
		return "Password is too short", true
	case errors.Is(err, password.ErrPasswordTooLong):
		return "Password is too long", true
	case errors.Is(err, password.ErrWeakPassword):
		return "Password is too weak", true
	default:
		return "", false
	}
}

// Check decides admission without reading content.
// Unknown but well-formed ids are created implicitly.
func (g *Gate) Check(ctx context.Context, roomID, password string) (Admission, error) {
	const op = "join-room"

	if !ValidRoomID(roomID) {
		return Admission{Outcome: AdmitInvalid}, opErr(op, ErrInvalidInput, "Invalid room ID")
	}

	outcome := AdmitExisting
	info, err := g.store.GetRoomInfo(ctx, roomID)
	if errors.Is(err, notes.ErrRoomNotFound) {
		var created bool
		info, created, err = g.store.EnsureRoom(ctx, notes.EnsureRoomInput{
			ID:              roomID,
			AutoDeleteHours: g.defaultHours,
			Now:             g.now(),
		})
		if created {
			outcome = AdmitCreated
		}
	}
	if err != nil {
		return Admission{Outcome: AdmitInvalid}, storeErr(op, err)
	}

	if info.HasPassword {
		if password == "" {
			return Admission{Outcome: AdmitPasswordRequired, Room: info}, nil
		}
		ok, err := g.store.VerifyPassword(ctx, roomID, password)
		if err != nil {
			return Admission{Outcome: AdmitInvalid}, storeErr(op, err)
		}
		if !ok {
			return Admission{Outcome: AdmitPasswordRequired, Room: info}, nil
		}
	}
	return Admission{Outcome: outcome, Room: info}, nil
}

// Load fills the current content of an admitted room.
func (g *Gate) Load(ctx context.Context, a Admission) (Admission, error) {
	if !a.Admitted() {
		return a, nil
	}
	n, err := g.store.GetNote(ctx, a.Room.ID)
	if errors.Is(err, notes.ErrRoomNotFound) {
		return Admission{Outcome: AdmitInvalid}, opErr("join-room", ErrNotFound, "Room not found")
	}
	if err != nil {
		return Admission{Outcome: AdmitInvalid}, storeErr("join-room", err)
	}
	a.Content = n.Content
	a.Encrypted = n.Encrypted
	return a, nil
}

// Admit runs Check and, when admitted, Load.
func (g *Gate) Admit(ctx context.Context, roomID, password string) (Admission, error) {
	a, err := g.Check(ctx, roomID, password)
	if err != nil {
		return a, err
	}
	return g.Load(ctx, a)
}
