package realtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"notesync/cmd/internal/notes"
	v1 "notesync/shared/contracts/realtime/v1"
)

func TestEngine_CollaborationScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, store := newTestEngine(t, WithSnapshotPolicy(EveryNthEdit(1)))

	alice := mustConnect(t, e, "Alice")
	bob := mustConnect(t, e, "Bob")

	info, err := e.CreateRoom(ctx, alice, CreateRoomRequest{
		Name:            "Plans",
		Password:        "pw",
		HasPassword:     true,
		AutoDeleteHours: 24,
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if info.CreatedBy != "Alice" || !info.HasPassword {
		t.Fatalf("unexpected room info: %+v", info)
	}

	// Bob without a password is turned away and sees no content.
	adm, err := e.Join(ctx, bob, info.ID, "", "Bob")
	if err != nil {
		t.Fatalf("Join without password: %v", err)
	}
	if adm.Admitted() {
		t.Fatalf("Bob must not be admitted without password")
	}
	envs := drainQueue(bob)
	if countType(envs, v1.TypeRoomPasswordRequired) != 1 || countType(envs, v1.TypeLoadContent) != 0 {
		t.Fatalf("unexpected envelopes for denied join: %+v", envs)
	}
	if e.Registry().Count(info.ID) != 0 {
		t.Fatalf("denied join must not add a member")
	}

	if _, err := e.Join(ctx, alice, info.ID, "pw", "Alice"); err != nil {
		t.Fatalf("Alice Join: %v", err)
	}
	load := decode[v1.LoadContentPayload](t, takeType(t, alice, v1.TypeLoadContent))
	if load.Content != "" || load.RoomInfo.Name != "Plans" || load.UserName != "Alice" {
		t.Fatalf("unexpected load-content: %+v", load)
	}

	if _, err := e.Join(ctx, bob, info.ID, "pw", "Bob"); err != nil {
		t.Fatalf("Bob Join: %v", err)
	}
	drainQueue(bob)
	count := decode[v1.UsersCountPayload](t, takeType(t, alice, v1.TypeUsersCount))
	if count.Count != 2 {
		t.Fatalf("users-count = %d, want 2", count.Count)
	}

	if _, err := e.SubmitEdit(ctx, alice, info.ID, "hello", false); err != nil {
		t.Fatalf("SubmitEdit: %v", err)
	}
	upd := decode[v1.ContentUpdatedPayload](t, takeType(t, bob, v1.TypeUpdateContent))
	if upd.Content != "hello" || upd.UpdatedBy != "Alice" || upd.IsRestored {
		t.Fatalf("unexpected update-content: %+v", upd)
	}
	if n := countType(drainQueue(alice), v1.TypeUpdateContent); n != 0 {
		t.Fatalf("sender received %d echoes of its own edit", n)
	}

	note, err := store.GetNote(ctx, info.ID)
	if err != nil || note.Content != "hello" {
		t.Fatalf("stored note = %+v, %v", note, err)
	}

	if err := e.UpdateCursor(ctx, bob, v1.CursorUpdatePayload{RoomID: info.ID, CursorPosition: 3}); err != nil {
		t.Fatalf("UpdateCursor: %v", err)
	}
	cur := decode[v1.CursorBroadcastPayload](t, takeType(t, alice, v1.TypeCursorUpdate))
	if cur.UserName != "Bob" || cur.CursorPosition != 3 || cur.SelectionStart != 3 || cur.SelectionEnd != 3 {
		t.Fatalf("unexpected cursor-update: %+v", cur)
	}
	if countType(drainQueue(bob), v1.TypeCursorUpdate) != 0 {
		t.Fatalf("cursor must not echo to its sender")
	}

	if err := e.SetTyping(ctx, bob, info.ID, true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	typing := decode[v1.UserTypingPayload](t, takeType(t, alice, v1.TypeUserTyping))
	if !typing.IsTyping || typing.UserName != "Bob" {
		t.Fatalf("unexpected user-typing: %+v", typing)
	}

	e.Disconnect(ctx, bob)
	count = decode[v1.UsersCountPayload](t, takeType(t, alice, v1.TypeUsersCount))
	if count.Count != 1 {
		t.Fatalf("users-count after disconnect = %d, want 1", count.Count)
	}
}

func TestEngine_Join_ImplicitRoom(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, store := newTestEngine(t)
	s := mustConnect(t, e, "")

	adm, err := e.Join(ctx, s, "fresh-room", "", "")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if adm.Outcome != AdmitCreated {
		t.Fatalf("outcome = %v, want created", adm.Outcome)
	}

	load := decode[v1.LoadContentPayload](t, takeType(t, s, v1.TypeLoadContent))
	if !load.RoomInfo.Created || load.RoomInfo.AutoDeleteHours != defaultAutoDeleteHours {
		t.Fatalf("unexpected room info: %+v", load.RoomInfo)
	}
	if !strings.HasPrefix(load.UserName, "User_") {
		t.Fatalf("default user name = %q", load.UserName)
	}
	if _, err := store.GetRoomInfo(ctx, "fresh-room"); err != nil {
		t.Fatalf("implicit room not stored: %v", err)
	}
}

func TestEngine_Join_InvalidRoomID(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	s := mustConnect(t, e, "")

	_, err := e.Join(context.Background(), s, "no", "", "")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if s.Room() != "" {
		t.Fatalf("session should not be in a room")
	}
}

func TestEngine_Join_SwitchesRooms(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newTestEngine(t)
	s := mustConnect(t, e, "Alice")

	if _, err := e.Join(ctx, s, "room-one", "", ""); err != nil {
		t.Fatalf("Join one: %v", err)
	}
	if _, err := e.Join(ctx, s, "room-two", "", ""); err != nil {
		t.Fatalf("Join two: %v", err)
	}

	if got := e.Registry().Count("room-one"); got != 0 {
		t.Fatalf("room-one count = %d, want 0", got)
	}
	if got := e.Registry().Count("room-two"); got != 1 {
		t.Fatalf("room-two count = %d, want 1", got)
	}
	if s.Room() != "room-two" {
		t.Fatalf("current room = %q", s.Room())
	}
}

func TestEngine_Leave_IgnoresOtherRoom(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newTestEngine(t)
	s := mustConnect(t, e, "Alice")

	if _, err := e.Join(ctx, s, "room-one", "", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := e.Leave(ctx, s, "room-two"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if e.Registry().Count("room-one") != 1 {
		t.Fatalf("leaving another room must not affect membership")
	}
	if err := e.Leave(ctx, s, "room-one"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if e.Registry().Count("room-one") != 0 || e.Registry().Rooms() != 0 {
		t.Fatalf("room should be empty and pruned")
	}
}

func TestEngine_SubmitEdit_Rejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, store := newTestEngine(t)
	alice := mustConnect(t, e, "Alice")
	outsider := mustConnect(t, e, "Eve")

	if _, err := e.Join(ctx, alice, "room-one", "", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := e.SubmitEdit(ctx, alice, "room-one", "kept", false); err != nil {
		t.Fatalf("SubmitEdit: %v", err)
	}

	cases := []struct {
		name    string
		s       *Session
		content string
		want    error
	}{
		{"too large", alice, strings.Repeat("a", MaxContentBytes+1), ErrContentTooLarge},
		{"non member", outsider, "hijack", ErrAccessDenied},
	}
	for _, tc := range cases {
		_, err := e.SubmitEdit(ctx, tc.s, "room-one", tc.content, false)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	note, err := store.GetNote(ctx, "room-one")
	if err != nil || note.Content != "kept" {
		t.Fatalf("rejected edits must not mutate content: %+v, %v", note, err)
	}
}

func TestEngine_SubmitEdit_AtLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newTestEngine(t)
	s := mustConnect(t, e, "Alice")

	if _, err := e.Join(ctx, s, "room-one", "", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := e.SubmitEdit(ctx, s, "room-one", strings.Repeat("a", MaxContentBytes), false); err != nil {
		t.Fatalf("content at the limit should be accepted: %v", err)
	}
}

func TestEngine_VersionsAndRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newTestEngine(t, WithSnapshotPolicy(EveryNthEdit(1)))
	alice := mustConnect(t, e, "Alice")
	bob := mustConnect(t, e, "Bob")

	for _, s := range []*Session{alice, bob} {
		if _, err := e.Join(ctx, s, "room-one", "", ""); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}
	for _, c := range []string{"one", "two", "three"} {
		if _, err := e.SubmitEdit(ctx, alice, "room-one", c, false); err != nil {
			t.Fatalf("SubmitEdit %q: %v", c, err)
		}
	}

	vs, err := e.ListVersions(ctx, bob, "room-one", 0)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(vs) != 3 {
		t.Fatalf("versions = %d, want 3", len(vs))
	}
	for i, want := range []int64{3, 2, 1} {
		if vs[i].Number != want {
			t.Fatalf("versions[%d].Number = %d, want %d", i, vs[i].Number, want)
		}
	}
	if vs[2].Content != "one" || vs[2].CreatedBy != "Alice" {
		t.Fatalf("oldest version = %+v", vs[2])
	}

	drainQueue(alice)
	drainQueue(bob)

	if err := e.RestoreVersion(ctx, bob, "room-one", vs[2].ID); err != nil {
		t.Fatalf("RestoreVersion: %v", err)
	}
	for _, s := range []*Session{alice, bob} {
		upd := decode[v1.ContentUpdatedPayload](t, takeType(t, s, v1.TypeUpdateContent))
		if upd.Content != "one" || !upd.IsRestored || upd.UpdatedBy != "Bob" {
			t.Fatalf("%s: unexpected restore fan-out: %+v", s.Name(), upd)
		}
	}

	vs, err = e.ListVersions(ctx, bob, "room-one", 1)
	if err != nil || len(vs) != 1 || vs[0].Number != 4 {
		t.Fatalf("restore should append version 4: %+v, %v", vs, err)
	}

	err = e.RestoreVersion(ctx, bob, "room-one", 9999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEngine_ListVersions_NonMember(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	s := mustConnect(t, e, "Eve")

	_, err := e.ListVersions(context.Background(), s, "room-one", 5)
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestEngine_DeleteRoom(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, store := newTestEngine(t)
	alice := mustConnect(t, e, "Alice")
	bob := mustConnect(t, e, "Bob")

	for _, s := range []*Session{alice, bob} {
		if _, err := e.Join(ctx, s, "room-one", "", ""); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}

	if err := e.DeleteRoom(ctx, bob, "room-one"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	for _, s := range []*Session{alice, bob} {
		ref := decode[v1.RoomRefPayload](t, takeType(t, s, v1.TypeRoomDeleted))
		if ref.RoomID != "room-one" {
			t.Fatalf("room-deleted for %q", ref.RoomID)
		}
		if s.Room() != "" {
			t.Fatalf("%s still in room %q", s.Name(), s.Room())
		}
	}
	if e.Registry().Count("room-one") != 0 {
		t.Fatalf("registry still tracks the room")
	}
	if _, err := store.GetRoomInfo(ctx, "room-one"); !errors.Is(err, notes.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	// A later edit by a former member is denied.
	if _, err := e.SubmitEdit(ctx, alice, "room-one", "x", false); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestEngine_DeleteRoom_CreatorOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newTestEngine(t, WithDeletePolicy(CreatorOnly))
	alice := mustConnect(t, e, "Alice")
	bob := mustConnect(t, e, "Bob")

	info, err := e.CreateRoom(ctx, alice, CreateRoomRequest{Name: "Plans", AutoDeleteHours: 1})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	for _, s := range []*Session{alice, bob} {
		if _, err := e.Join(ctx, s, info.ID, "", ""); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}

	if err := e.DeleteRoom(ctx, bob, info.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied for Bob, got %v", err)
	}
	if err := e.DeleteRoom(ctx, alice, info.ID); err != nil {
		t.Fatalf("creator delete: %v", err)
	}
}

func TestEngine_CursorAndTyping_IgnoredForNonMembers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newTestEngine(t)
	alice := mustConnect(t, e, "Alice")
	eve := mustConnect(t, e, "Eve")

	if _, err := e.Join(ctx, alice, "room-one", "", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	drainQueue(alice)

	if err := e.UpdateCursor(ctx, eve, v1.CursorUpdatePayload{RoomID: "room-one", CursorPosition: 1}); err != nil {
		t.Fatalf("UpdateCursor: %v", err)
	}
	if err := e.SetTyping(ctx, eve, "room-one", true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if envs := drainQueue(alice); len(envs) != 0 {
		t.Fatalf("non-member events leaked: %+v", envs)
	}

	err := e.UpdateCursor(ctx, alice, v1.CursorUpdatePayload{RoomID: "room-one", CursorPosition: -1})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEngine_Disconnect_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, store := newTestEngine(t)
	s := mustConnect(t, e, "Alice")

	if _, err := e.Join(ctx, s, "room-one", "", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}

	e.Disconnect(ctx, s)
	e.Disconnect(ctx, s)

	if e.Registry().Total() != 0 {
		t.Fatalf("registry total = %d, want 0", e.Registry().Total())
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("session should be closed")
	}
	active, err := store.ListActiveSessions(ctx, "room-one", time.Time{})
	if err != nil || len(active) != 0 {
		t.Fatalf("presence rows left: %+v, %v", active, err)
	}
}

func TestEngine_Join_AfterDisconnectIsUndone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newTestEngine(t)
	s := mustConnect(t, e, "Alice")
	s.Close()

	if _, err := e.Join(ctx, s, "room-one", "", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if e.Registry().Count("room-one") != 0 {
		t.Fatalf("closed session must not stay registered")
	}
}

func TestEngine_SweepIdleRooms(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	e, store := newTestEngine(t, WithClock(clock.Now))
	alice := mustConnect(t, e, "Alice")

	hourly, err := e.CreateRoom(ctx, alice, CreateRoomRequest{Name: "hourly", AutoDeleteHours: 1})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	forever, err := e.CreateRoom(ctx, alice, CreateRoomRequest{Name: "forever", AutoDeleteHours: 0})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := e.Join(ctx, alice, hourly.ID, "", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	drainQueue(alice)

	clock.Advance(30 * time.Minute)
	if n, err := e.SweepIdleRooms(ctx); err != nil || n != 0 {
		t.Fatalf("early sweep deleted %d, %v", n, err)
	}

	clock.Advance(2 * time.Hour)
	n, err := e.SweepIdleRooms(ctx)
	if err != nil {
		t.Fatalf("SweepIdleRooms: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}

	ref := decode[v1.RoomRefPayload](t, takeType(t, alice, v1.TypeRoomDeleted))
	if ref.RoomID != hourly.ID || alice.Room() != "" {
		t.Fatalf("member not evicted: %+v room=%q", ref, alice.Room())
	}
	if _, err := store.GetRoomInfo(ctx, forever.ID); err != nil {
		t.Fatalf("room with no horizon must survive: %v", err)
	}
}

func TestEngine_Presence_StaleRowsPurged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	e, _ := newTestEngine(t, WithClock(clock.Now), WithPresenceStaleAfter(30*time.Second))
	alice := mustConnect(t, e, "Alice")
	bob := mustConnect(t, e, "Bob")

	if _, err := e.Join(ctx, alice, "room-one", "", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := e.Join(ctx, bob, "room-one", "", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}

	active, err := e.ActivePresence(ctx, "room-one")
	if err != nil {
		t.Fatalf("ActivePresence: %v", err)
	}
	if len(active) != 1 || active[0].UserName != "Bob" {
		t.Fatalf("expected only Bob to be fresh, got %+v", active)
	}

	e.Touch(ctx, alice)
	active, err = e.ActivePresence(ctx, "room-one")
	if err != nil || len(active) != 2 {
		t.Fatalf("Touch should refresh Alice: %+v, %v", active, err)
	}
}

func TestDefaultPresenceStaleOutlivesHeartbeat(t *testing.T) {
	t.Parallel()

	if defaultPresenceStaleAfter <= heartbeatInterval+heartbeatTimeout {
		t.Fatalf("presence stale %v must exceed heartbeat %v + timeout %v", defaultPresenceStaleAfter, heartbeatInterval, heartbeatTimeout)
	}
}
