package password

import (
	"strings"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	def := DefaultConfig()
	if cfg.Policy != def.Policy {
		t.Fatalf("policy = %+v, want %+v", cfg.Policy, def.Policy)
	}
	if cfg.Params != def.Params {
		t.Fatalf("params = %+v, want %+v", cfg.Params, def.Params)
	}
	if cfg.Policy.MinLength != 1 || cfg.Policy.MaxLength != 256 {
		t.Fatalf("unexpected default policy: %+v", cfg.Policy)
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("NOTESYNC_PASSWORD_MIN_LEN", "4")
	t.Setenv("NOTESYNC_PASSWORD_MAX_LEN", "64")
	t.Setenv("NOTESYNC_PASSWORD_REJECT_VERY_WEAK", "true")
	t.Setenv("NOTESYNC_ARGON2_MEMORY_KIB", "16384")
	t.Setenv("NOTESYNC_ARGON2_ITERATIONS", "2")
	t.Setenv("NOTESYNC_ARGON2_PARALLELISM", "2")
	t.Setenv("NOTESYNC_ARGON2_SALT_LEN", "24")
	t.Setenv("NOTESYNC_ARGON2_KEY_LEN", "48")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	want := Config{
		Params: Argon2idParams{MemoryKiB: 16384, Iterations: 2, Parallelism: 2, SaltLength: 24, KeyLength: 48},
		Policy: Policy{MinLength: 4, MaxLength: 64, RejectVeryWeak: true},
	}
	if cfg != want {
		t.Fatalf("cfg = %+v, want %+v", cfg, want)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		key, val, wantSub string
	}{
		{"NOTESYNC_ARGON2_MEMORY_KIB", "12", "out of range"},
		{"NOTESYNC_ARGON2_ITERATIONS", "abc", "not an unsigned integer"},
		{"NOTESYNC_ARGON2_PARALLELISM", "0", "out of range"},
		{"NOTESYNC_PASSWORD_REJECT_VERY_WEAK", "maybe", "invalid boolean"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := FromEnv()
			if err == nil || !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("expected error containing %q, got %v", tc.wantSub, err)
			}
		})
	}
}

func TestFromEnv_InvalidMinMax(t *testing.T) {
	t.Setenv("NOTESYNC_PASSWORD_MIN_LEN", "20")
	t.Setenv("NOTESYNC_PASSWORD_MAX_LEN", "10")

	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error")
	}
}
