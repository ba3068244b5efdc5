package realtime

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_EngineCounters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	promReg := prometheus.NewRegistry()
	reg := NewRegistry()
	m := NewMetrics(promReg, reg)
	e := NewEngine(discardLogger(), newTestStore(), reg, WithMetrics(m), WithSnapshotPolicy(EveryNthEdit(1)))

	alice := mustConnect(t, e, "Alice")
	bob := mustConnect(t, e, "Bob")
	if got := testutil.ToFloat64(m.connections); got != 2 {
		t.Fatalf("connections = %v, want 2", got)
	}

	info, err := e.CreateRoom(ctx, alice, CreateRoomRequest{Name: "p", Password: "pw", HasPassword: true})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := e.Join(ctx, bob, info.ID, "wrong", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := e.Join(ctx, alice, "room-one", "", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := e.SubmitEdit(ctx, alice, "room-one", "x", false); err != nil {
		t.Fatalf("SubmitEdit: %v", err)
	}

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"rooms created", m.roomsCreated, 2},
		{"password denials", m.passwordDenials, 1},
		{"content updates", m.contentUpdates, 1},
		{"versions saved", m.versionsSaved, 1},
	}
	for _, tc := range checks {
		if got := testutil.ToFloat64(tc.c); got != tc.want {
			t.Fatalf("%s = %v, want %v", tc.name, got, tc.want)
		}
	}

	expected := `
# HELP notesync_rooms_active Rooms with at least one connected session
# TYPE notesync_rooms_active gauge
notesync_rooms_active 1
`
	if err := testutil.GatherAndCompare(promReg, strings.NewReader(expected), "notesync_rooms_active"); err != nil {
		t.Fatalf("rooms_active: %v", err)
	}

	e.Disconnect(ctx, alice)
	e.Disconnect(ctx, alice)
	if got := testutil.ToFloat64(m.connections); got != 1 {
		t.Fatalf("connections after disconnect = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.connOpened()
	m.errorSent("bad_json")
	m.droppedN(3)
	m.roomDeleted("explicit", 1)
}
