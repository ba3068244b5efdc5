package sealbox

import (
	"errors"
	"strings"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestSealOpen_RoundTrip(t *testing.T) {
	b, err := New([]byte(testSecret))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	sealed, err := b.Seal("room-1", "hello world")
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}
	if !IsSealed(sealed) || strings.Contains(sealed, "hello") {
		t.Fatalf("unexpected sealed value: %q", sealed)
	}

	got, err := b.Open("room-1", sealed)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("Open = %q", got)
	}
}

func TestOpen_WrongRoomFails(t *testing.T) {
	b, _ := New([]byte(testSecret))
	sealed, _ := b.Seal("room-1", "x")

	if _, err := b.Open("room-2", sealed); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestOpen_WrongKeyFails(t *testing.T) {
	a, _ := New([]byte(testSecret))
	other, _ := New([]byte(strings.Repeat("z", 40)))
	sealed, _ := a.Seal("room-1", "x")

	if _, err := other.Open("room-1", sealed); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestOpen_Malformed(t *testing.T) {
	b, _ := New([]byte(testSecret))

	if _, err := b.Open("r", "plain text"); !errors.Is(err, ErrNotSealed) {
		t.Fatalf("expected ErrNotSealed, got %v", err)
	}
	if _, err := b.Open("r", prefix+"@@@"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if _, err := b.Open("r", prefix+"AAAA"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen for short input, got %v", err)
	}
}

func TestNew_KeyPolicy(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
	if _, err := New([]byte("short")); !errors.Is(err, ErrKeyTooShort) {
		t.Fatalf("expected ErrKeyTooShort, got %v", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(KeyEnv, "")
	if _, err := FromEnv(); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}

	t.Setenv(KeyEnv, "  "+testSecret+"  ")
	b, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	sealed, _ := b.Seal("r", "x")
	ref, _ := New([]byte(testSecret))
	if got, err := ref.Open("r", sealed); err != nil || got != "x" {
		t.Fatalf("env key should match trimmed secret: %q %v", got, err)
	}
}

func TestEphemeral(t *testing.T) {
	b, err := Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral error: %v", err)
	}
	sealed, _ := b.Seal("r", "x")
	if got, err := b.Open("r", sealed); err != nil || got != "x" {
		t.Fatalf("round trip failed: %q %v", got, err)
	}
}
