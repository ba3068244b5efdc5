package app

import (
	"errors"
	"fmt"
	"time"

	"notesync/cmd/internal/realtime"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL   string
	DBSchema      string
	DBAutoMigrate bool
	DBMaxConns    int32
	DBMinConns    int32

	// RedisURL enables the Redis presence store when set.
	RedisURL string

	// If true, /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool

	// If true, NOTESYNC_CONTENT_KEY must be set. Otherwise a per-process key is generated.
	RequireContentKey bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	WSAllowedOrigins   []string
	WSOriginRequired   bool
	WSDevInsecure      bool
	WSSendQueueSize    int
	WSWriteTimeout     time.Duration
	WSReadIdleTimeout  time.Duration
	WSHeartbeatEvery   time.Duration
	WSHeartbeatTimeout time.Duration
	WSRateLimitEvents  int
	WSRateLimitWindow  time.Duration

	SnapshotProbability    float64
	SnapshotEvery          int
	SweepSchedule          string
	PresenceStaleAfter     time.Duration
	PresenceTTL            time.Duration
	DefaultAutoDeleteHours int
	DeletePolicy           string
	RoomsListLimit         int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("NOTESYNC_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("NOTESYNC_LOG_LEVEL", "info"),
		LogFormat: EnvString("NOTESYNC_LOG_FORMAT", "json"),
		LogColor:  EnvBool("NOTESYNC_LOG_COLOR", false),

		ReadHeaderTimeout: EnvDuration("NOTESYNC_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("NOTESYNC_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("NOTESYNC_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("NOTESYNC_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("NOTESYNC_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("NOTESYNC_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL:   EnvString("NOTESYNC_DATABASE_URL", ""),
		DBSchema:      EnvString("NOTESYNC_DB_SCHEMA", "notesync"),
		DBAutoMigrate: EnvBool("NOTESYNC_DB_AUTO_MIGRATE", true),
		DBMaxConns:    EnvInt32("NOTESYNC_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("NOTESYNC_DB_MIN_CONNS", 0),

		RedisURL: EnvString("NOTESYNC_REDIS_URL", ""),

		ReadinessRequireDB: EnvBool("NOTESYNC_READINESS_REQUIRE_DB", false),
		RequireContentKey:  EnvBool("NOTESYNC_REQUIRE_CONTENT_KEY", false),

		CORSAllowedOrigins:   EnvCSV("NOTESYNC_CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "http://127.0.0.1:*"}),
		CORSAllowCredentials: EnvBool("NOTESYNC_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("NOTESYNC_CORS_MAX_AGE_SECONDS", 600),

		WSAllowedOrigins:   EnvCSV("NOTESYNC_WS_ALLOWED_ORIGINS", []string{"http://localhost", "http://127.0.0.1"}),
		WSOriginRequired:   EnvBool("NOTESYNC_WS_ORIGIN_REQUIRED", false),
		WSDevInsecure:      EnvBool("NOTESYNC_WS_DEV_INSECURE", false),
		WSSendQueueSize:    EnvInt("NOTESYNC_WS_SEND_QUEUE", 256),
		WSWriteTimeout:     EnvDuration("NOTESYNC_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadIdleTimeout:  EnvDuration("NOTESYNC_WS_READ_IDLE_TIMEOUT", 2*time.Minute),
		WSHeartbeatEvery:   EnvDuration("NOTESYNC_WS_HEARTBEAT_INTERVAL", 30*time.Second),
		WSHeartbeatTimeout: EnvDuration("NOTESYNC_WS_HEARTBEAT_TIMEOUT", 5*time.Second),
		WSRateLimitEvents:  EnvInt("NOTESYNC_WS_RATE_LIMIT_EVENTS", 30),
		WSRateLimitWindow:  EnvDuration("NOTESYNC_WS_RATE_LIMIT_WINDOW", 10*time.Second),

		SnapshotProbability:    EnvFloat("NOTESYNC_SNAPSHOT_PROBABILITY", 0.1),
		SnapshotEvery:          EnvNonNegInt("NOTESYNC_SNAPSHOT_EVERY", 0),
		SweepSchedule:          EnvString("NOTESYNC_SWEEP_SCHEDULE", realtime.DefaultSweepSchedule),
		PresenceStaleAfter:     EnvDuration("NOTESYNC_PRESENCE_STALE_AFTER", 45*time.Second),
		PresenceTTL:            EnvDuration("NOTESYNC_PRESENCE_TTL", 24*time.Hour),
		DefaultAutoDeleteHours: EnvNonNegInt("NOTESYNC_DEFAULT_AUTO_DELETE_HOURS", 168),
		DeletePolicy:           EnvString("NOTESYNC_DELETE_POLICY", "member"),
		RoomsListLimit:         EnvInt("NOTESYNC_ROOMS_LIST_LIMIT", 100),
	}
}

// Validate rejects settings that would only fail later at runtime.
func (c Config) Validate() error {
	var errs []error
	if _, ok := realtime.ParseDeletePolicy(c.DeletePolicy); !ok {
		errs = append(errs, fmt.Errorf("NOTESYNC_DELETE_POLICY: unknown policy %q", c.DeletePolicy))
	}
	if c.DefaultAutoDeleteHours > 8760 {
		errs = append(errs, fmt.Errorf("NOTESYNC_DEFAULT_AUTO_DELETE_HOURS: %d exceeds 8760", c.DefaultAutoDeleteHours))
	}
	if c.PresenceStaleAfter > 0 && c.PresenceStaleAfter <= c.WSHeartbeatEvery+c.WSHeartbeatTimeout {
		errs = append(errs, fmt.Errorf("NOTESYNC_PRESENCE_STALE_AFTER (%s) must exceed the heartbeat interval plus timeout (%s)",
			c.PresenceStaleAfter, c.WSHeartbeatEvery+c.WSHeartbeatTimeout))
	}
	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("NOTESYNC_DB_MIN_CONNS (%d) > NOTESYNC_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns))
	}
	return errors.Join(errs...)
}

// engineOptions maps config to realtime engine options.
func (c Config) engineOptions() []realtime.EngineOption {
	snapshot := realtime.RandomSnapshots(c.SnapshotProbability)
	if c.SnapshotEvery > 0 {
		snapshot = realtime.EveryNthEdit(uint64(c.SnapshotEvery))
	}
	policy, _ := realtime.ParseDeletePolicy(c.DeletePolicy)
	return []realtime.EngineOption{
		realtime.WithSnapshotPolicy(snapshot),
		realtime.WithDeletePolicy(policy),
		realtime.WithPresenceStaleAfter(c.PresenceStaleAfter),
		realtime.WithDefaultAutoDeleteHours(c.DefaultAutoDeleteHours),
	}
}

// gatewayConfig maps config to realtime transport policy.
func (c Config) gatewayConfig() realtime.GatewayConfig {
	return realtime.GatewayConfig{
		OriginRequired:   c.WSOriginRequired,
		AllowedOrigins:   c.WSAllowedOrigins,
		DevInsecure:      c.WSDevInsecure,
		WriteTimeout:     c.WSWriteTimeout,
		ReadIdleTimeout:  c.WSReadIdleTimeout,
		SendQueueSize:    c.WSSendQueueSize,
		HeartbeatEvery:   c.WSHeartbeatEvery,
		HeartbeatTimeout: c.WSHeartbeatTimeout,
		RateEvents:       c.WSRateLimitEvents,
		RateWindow:       c.WSRateLimitWindow,
	}
}
