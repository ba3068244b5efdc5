package realtime

import "time"

// Security/performance limits.
const (
	// MaxContentBytes is the largest accepted document.
	MaxContentBytes = 1_048_576

	// Max bytes per websocket message read.
	maxFrameBytes = 4 << 20 // 4 MiB

	// Bytes of an oversized message skipped before the connection is dropped.
	maxDiscardBytes = 28 << 20

	maxUserNameChars = 64

	defaultVersionLimit = 10
	maxVersionLimit     = 100

	// Longer than a heartbeat round so idle live users survive until their next pong.
	defaultPresenceStaleAfter = 45 * time.Second
	defaultSnapshotChance     = 0.1
)

const (
	// Heartbeat defaults.
	heartbeatInterval = 30 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection limit on create-room and join-room requests.
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
