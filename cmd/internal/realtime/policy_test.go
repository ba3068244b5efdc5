package realtime

import (
	"strings"
	"testing"

	"notesync/cmd/internal/notes"
)

func TestEveryNthEdit(t *testing.T) {
	t.Parallel()

	p := EveryNthEdit(3)
	var got []uint64
	for i := uint64(1); i <= 9; i++ {
		if p(i, "") {
			got = append(got, i)
		}
	}
	if len(got) != 3 || got[0] != 3 || got[2] != 9 {
		t.Fatalf("snapshots at %v", got)
	}
	if !EveryNthEdit(0)(7, "") {
		t.Fatalf("n=0 should snapshot every edit")
	}
}

func TestRandomSnapshots_Extremes(t *testing.T) {
	t.Parallel()

	never, always := RandomSnapshots(0), RandomSnapshots(1)
	for i := uint64(1); i < 100; i++ {
		if never(i, "") {
			t.Fatalf("p=0 snapshotted")
		}
		if !always(i, "") {
			t.Fatalf("p=1 skipped")
		}
	}
}

func TestDeletePolicies(t *testing.T) {
	t.Parallel()

	alice := NewSession("a", "u1", "Alice", "#007bff", 1)
	bob := NewSession("b", "u2", "Bob", "#28a745", 1)
	room := notes.RoomInfo{ID: "room-one", CreatedBy: "Alice"}
	implicit := notes.RoomInfo{ID: "room-two"}

	if !AnyMember(bob, room) {
		t.Fatalf("AnyMember should allow Bob")
	}
	if !CreatorOnly(alice, room) || CreatorOnly(bob, room) {
		t.Fatalf("CreatorOnly should allow only Alice")
	}
	if CreatorOnly(alice, implicit) {
		t.Fatalf("rooms without a creator cannot be deleted under CreatorOnly")
	}

	for _, in := range []string{"", "member", "ANY", " creator "} {
		if _, ok := ParseDeletePolicy(in); !ok {
			t.Fatalf("ParseDeletePolicy(%q) failed", in)
		}
	}
	if _, ok := ParseDeletePolicy("admin"); ok {
		t.Fatalf("unknown policy accepted")
	}
}

func TestPaletteAndDefaultName(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		c := randomColor()
		found := false
		for _, p := range Palette {
			if p == c {
				found = true
			}
		}
		if !found {
			t.Fatalf("color %q not in palette", c)
		}
	}

	if got := defaultUserName("01HZX3K9ABCDEF"); got != "User_ABCDEF" {
		t.Fatalf("defaultUserName = %q", got)
	}
	if got := defaultUserName("abc"); got != "User_abc" {
		t.Fatalf("short id name = %q", got)
	}
}

func TestCleanUserName(t *testing.T) {
	t.Parallel()

	if got := cleanUserName("  Alice  "); got != "Alice" {
		t.Fatalf("cleanUserName trimmed = %q", got)
	}
	long := strings.Repeat("é", maxUserNameChars+10)
	if got := cleanUserName(long); len([]rune(got)) != maxUserNameChars {
		t.Fatalf("cleanUserName length = %d runes", len([]rune(got)))
	}
}
