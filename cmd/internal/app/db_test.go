package app

import (
	"strings"
	"testing"
)

func TestDBPoolConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		url      string
		max, min int32
		wantMax  int32
		wantMin  int32
		wantApp  string
	}{
		{name: "defaults", url: "postgres://notesync@127.0.0.1:5432/notesync", max: 10, min: 0, wantMax: 10, wantMin: 0, wantApp: "notesync"},
		{name: "warm pool", url: "postgres://notesync@127.0.0.1:5432/notesync", max: 20, min: 4, wantMax: 20, wantMin: 4, wantApp: "notesync"},
		{name: "url names session", url: "postgres://notesync@127.0.0.1:5432/notesync?application_name=notes-worker", max: 5, min: 1, wantMax: 5, wantMin: 1, wantApp: "notes-worker"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			pcfg, err := dbPoolConfig(Config{DatabaseURL: tc.url, DBMaxConns: tc.max, DBMinConns: tc.min})
			if err != nil {
				t.Fatalf("dbPoolConfig: %v", err)
			}
			if pcfg.MaxConns != tc.wantMax || pcfg.MinConns != tc.wantMin {
				t.Fatalf("conns max=%d min=%d want max=%d min=%d", pcfg.MaxConns, pcfg.MinConns, tc.wantMax, tc.wantMin)
			}
			if got := pcfg.ConnConfig.RuntimeParams["application_name"]; got != tc.wantApp {
				t.Fatalf("application_name=%q want=%q", got, tc.wantApp)
			}
		})
	}
}

func TestDBPoolConfig_BadURL(t *testing.T) {
	t.Parallel()

	_, err := dbPoolConfig(Config{DatabaseURL: "postgres://%zz"})
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if !strings.Contains(err.Error(), "NOTESYNC_DATABASE_URL") {
		t.Fatalf("error does not name the setting: %v", err)
	}
}
