package app

import (
	"errors"
	"log/slog"

	"notesync/cmd/security/sealbox"
)

// ContentBox returns the sealing box for encrypted notes.
//
// The key is mandatory with a database configured or NOTESYNC_REQUIRE_CONTENT_KEY=true.
// Otherwise the in-memory store lives only as long as the process, and a per-process key
// is generated.
func ContentBox(cfg Config, log *slog.Logger) (*sealbox.Box, error) {
	box, err := sealbox.FromEnv()
	switch {
	case err == nil:
		return box, nil
	case errors.Is(err, sealbox.ErrKeyMissing) && cfg.DatabaseURL != "":
		return nil, errors.New("security policy: NOTESYNC_CONTENT_KEY is required when NOTESYNC_DATABASE_URL is set")
	case errors.Is(err, sealbox.ErrKeyMissing) && !cfg.RequireContentKey:
		log.Warn("security.content_key.ephemeral", "env", sealbox.KeyEnv)
		return sealbox.Ephemeral()
	case errors.Is(err, sealbox.ErrKeyMissing):
		return nil, errors.New("security policy: NOTESYNC_REQUIRE_CONTENT_KEY=true but NOTESYNC_CONTENT_KEY is missing")
	case errors.Is(err, sealbox.ErrKeyTooShort):
		return nil, errors.New("security policy: NOTESYNC_CONTENT_KEY is too short (min 32 bytes)")
	default:
		return nil, err
	}
}
