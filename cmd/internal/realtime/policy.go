package realtime

import (
	"math/rand/v2"
	"strings"

	"notesync/cmd/internal/notes"
)

// SnapshotPolicy decides whether an accepted edit also appends a version.
// editCount is the room's edit counter including this edit.
type SnapshotPolicy func(editCount uint64, content string) bool

// RandomSnapshots snapshots each edit independently with probability p.
func RandomSnapshots(p float64) SnapshotPolicy {
	switch {
	case p <= 0:
		return func(uint64, string) bool { return false }
	case p >= 1:
		return func(uint64, string) bool { return true }
	}
	return func(uint64, string) bool { return rand.Float64() < p }
}

// EveryNthEdit snapshots every nth edit of a room.
func EveryNthEdit(n uint64) SnapshotPolicy {
	if n == 0 {
		n = 1
	}
	return func(editCount uint64, _ string) bool { return editCount%n == 0 }
}

// DeletePolicy decides whether s may delete room. Membership is checked before it runs.
type DeletePolicy func(s *Session, room notes.RoomInfo) bool

// AnyMember lets every current member delete the room.
func AnyMember(*Session, notes.RoomInfo) bool { return true }

// CreatorOnly lets only a member whose display name matches the room's creator label delete it.
func CreatorOnly(s *Session, room notes.RoomInfo) bool {
	return room.CreatedBy != "" && room.CreatedBy == s.Name()
}

// ParseDeletePolicy maps "member" or "creator" to a policy.
func ParseDeletePolicy(s string) (DeletePolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "member", "any":
		return AnyMember, true
	case "creator":
		return CreatorOnly, true
	default:
		return nil, false
	}
}
