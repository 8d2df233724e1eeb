package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPort is the port shared by the TCP listener and the UDP socket.
	DefaultPort = 4130
	// DefaultMaxSessions bounds concurrent client sessions.
	DefaultMaxSessions = 32
	// DefaultMaxPacketBytes limits the size of one encoded wire frame.
	DefaultMaxPacketBytes = 2048
	// DefaultMaxFollowingDatagrams caps consecutive datagram events serviced
	// before the loop yields back to stream traffic.
	DefaultMaxFollowingDatagrams = 100

	// DefaultPhysicsQuantum is the fixed virtual-time step of the simulation.
	DefaultPhysicsQuantum = 10 * time.Millisecond
	// DefaultCatchUpCap bounds physics steps taken in one scheduler pass.
	DefaultCatchUpCap = 10
	// DefaultCountdown is the pre-round wait before physics ticking begins.
	DefaultCountdown = 3 * time.Second
	// DefaultHeartbeatInterval paces the pre-round state heartbeat frames.
	DefaultHeartbeatInterval = 100 * time.Millisecond

	// DefaultOwnerFrameRate is the per-second bike-frame sub-rate towards the
	// seat owner; DefaultPeerFrameRate towards everyone else.
	DefaultOwnerFrameRate = 40
	DefaultPeerFrameRate  = 15

	// DefaultInactivityCeiling kills a seat that produced no driving input.
	DefaultInactivityCeiling = 10 * time.Second
	// DefaultInactivityWarning opens the "kill imminent" alert window.
	DefaultInactivityWarning = 3 * time.Second

	// DefaultBanDays applies when a ban command omits a duration.
	DefaultBanDays = 30
	// DefaultMaxNameLength caps display names, counted in runes.
	DefaultMaxNameLength = 32
	// DefaultBanner is answered to the console "banner" command.
	DefaultBanner = "Welcome on this server"

	// DefaultLogLevel controls verbosity for server logs.
	DefaultLogLevel = "info"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the game server.
type Config struct {
	Port                  int
	MaxSessions           int
	MaxPacketBytes        int
	MaxFollowingDatagrams int

	PhysicsQuantum    time.Duration
	CatchUpCap        int
	Countdown         time.Duration
	HeartbeatInterval time.Duration
	OwnerFrameRate    int
	PeerFrameRate     int

	InactivityCeiling time.Duration
	InactivityWarning time.Duration

	MaxNameLength  int
	DefaultBanDays int
	Banner         string

	// AdminPassword is the master console credential; empty disables it.
	AdminPassword string

	// RulesPath points at the Lua rules script; empty uses the built-in rules.
	RulesPath string

	// RedisAddr selects the redis-backed ban/admin store; empty selects the
	// in-memory store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JournalDir enables the per-round event journal when non-empty.
	JournalDir string

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// Load reads the server configuration from environment variables, applying
// defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                  DefaultPort,
		MaxSessions:           DefaultMaxSessions,
		MaxPacketBytes:        DefaultMaxPacketBytes,
		MaxFollowingDatagrams: DefaultMaxFollowingDatagrams,
		PhysicsQuantum:        DefaultPhysicsQuantum,
		CatchUpCap:            DefaultCatchUpCap,
		Countdown:             DefaultCountdown,
		HeartbeatInterval:     DefaultHeartbeatInterval,
		OwnerFrameRate:        DefaultOwnerFrameRate,
		PeerFrameRate:         DefaultPeerFrameRate,
		InactivityCeiling:     DefaultInactivityCeiling,
		InactivityWarning:     DefaultInactivityWarning,
		MaxNameLength:         DefaultMaxNameLength,
		DefaultBanDays:        DefaultBanDays,
		Banner:                getString("SRV_BANNER", DefaultBanner),
		AdminPassword:         strings.TrimSpace(os.Getenv("SRV_ADMIN_PASSWORD")),
		RulesPath:             strings.TrimSpace(os.Getenv("SRV_RULES_PATH")),
		RedisAddr:             strings.TrimSpace(os.Getenv("SRV_REDIS_ADDR")),
		RedisPassword:         strings.TrimSpace(os.Getenv("SRV_REDIS_PASSWORD")),
		JournalDir:            strings.TrimSpace(os.Getenv("SRV_JOURNAL_DIR")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("SRV_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(os.Getenv("SRV_LOG_PATH")),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	parseInt := func(key string, min int, dst *int) {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value < min {
			problems = append(problems, fmt.Sprintf("%s must be an integer >= %d, got %q", key, min, raw))
			return
		}
		*dst = value
	}
	parseDuration := func(key string, dst *time.Duration) {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return
		}
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
			return
		}
		*dst = duration
	}

	parseInt("SRV_PORT", 1, &cfg.Port)
	parseInt("SRV_MAX_SESSIONS", 1, &cfg.MaxSessions)
	parseInt("SRV_MAX_PACKET_BYTES", 64, &cfg.MaxPacketBytes)
	parseInt("SRV_MAX_FOLLOWING_DATAGRAMS", 1, &cfg.MaxFollowingDatagrams)
	parseInt("SRV_CATCHUP_CAP", 1, &cfg.CatchUpCap)
	parseInt("SRV_OWNER_FRAME_RATE", 1, &cfg.OwnerFrameRate)
	parseInt("SRV_PEER_FRAME_RATE", 1, &cfg.PeerFrameRate)
	parseInt("SRV_MAX_NAME_LENGTH", 1, &cfg.MaxNameLength)
	parseInt("SRV_DEFAULT_BAN_DAYS", 1, &cfg.DefaultBanDays)
	parseInt("SRV_REDIS_DB", 0, &cfg.RedisDB)
	parseInt("SRV_LOG_MAX_SIZE_MB", 1, &cfg.Logging.MaxSizeMB)
	parseInt("SRV_LOG_MAX_BACKUPS", 0, &cfg.Logging.MaxBackups)

	parseDuration("SRV_PHYSICS_QUANTUM", &cfg.PhysicsQuantum)
	parseDuration("SRV_COUNTDOWN", &cfg.Countdown)
	parseDuration("SRV_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
	parseDuration("SRV_INACTIVITY_CEILING", &cfg.InactivityCeiling)
	parseDuration("SRV_INACTIVITY_WARNING", &cfg.InactivityWarning)

	if raw := strings.TrimSpace(os.Getenv("SRV_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("SRV_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if cfg.InactivityWarning >= cfg.InactivityCeiling {
		problems = append(problems, "SRV_INACTIVITY_WARNING must be below SRV_INACTIVITY_CEILING")
	}
	if cfg.PeerFrameRate > cfg.OwnerFrameRate {
		problems = append(problems, "SRV_PEER_FRAME_RATE must not exceed SRV_OWNER_FRAME_RATE")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
