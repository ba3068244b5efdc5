package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls passphrase validation.
// Room passphrases are shared secrets typed by humans, so the default minimum is 1.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the baseline used when no env overrides are present.
func DefaultConfig() Config {
	// Parallelism is clamped to [1..4] to keep memory usage predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 1,
			MaxLength: 256,
		},
	}
}

// FastConfig returns a cheap configuration for tests and local development.
func FastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

// FromEnv loads config from environment variables.
//
// Env surface:
//   - NOTESYNC_PASSWORD_MIN_LEN, NOTESYNC_PASSWORD_MAX_LEN
//   - NOTESYNC_PASSWORD_REJECT_VERY_WEAK (true/false)
//   - NOTESYNC_ARGON2_MEMORY_KIB, NOTESYNC_ARGON2_ITERATIONS, NOTESYNC_ARGON2_PARALLELISM
//   - NOTESYNC_ARGON2_SALT_LEN, NOTESYNC_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		dst      *int
	}{
		{"NOTESYNC_PASSWORD_MIN_LEN", 1, 1024, &cfg.Policy.MinLength},
		{"NOTESYNC_PASSWORD_MAX_LEN", 1, 4096, &cfg.Policy.MaxLength},
	}
	for _, f := range ints {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		n, err := parseRange(v, uint64(f.min), uint64(f.max))
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = int(n) // #nosec G115 -- bounded by parseRange.
	}

	u32s := []struct {
		key      string
		min, max uint64
		dst      *uint32
	}{
		{"NOTESYNC_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB},
		{"NOTESYNC_ARGON2_ITERATIONS", 1, 20, &cfg.Params.Iterations},
		{"NOTESYNC_ARGON2_SALT_LEN", 8, 64, &cfg.Params.SaltLength},
		{"NOTESYNC_ARGON2_KEY_LEN", 16, 64, &cfg.Params.KeyLength},
	}
	for _, f := range u32s {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		n, err := parseRange(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = uint32(n) // #nosec G115 -- bounded by parseRange.
	}

	if v, ok := os.LookupEnv("NOTESYNC_ARGON2_PARALLELISM"); ok {
		n, err := parseRange(v, 1, math.MaxUint8)
		if err != nil {
			return Config{}, fmt.Errorf("NOTESYNC_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(n) // #nosec G115 -- bounded by parseRange.
	}

	if v, ok := os.LookupEnv("NOTESYNC_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("NOTESYNC_PASSWORD_REJECT_VERY_WEAK: invalid boolean")
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func parseRange(s string, minVal, maxVal uint64) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	if n < minVal || n > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return n, nil
}
