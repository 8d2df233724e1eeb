package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Fatalf("unexpected port %d", cfg.Port)
	}
	if cfg.PhysicsQuantum != 10*time.Millisecond {
		t.Fatalf("unexpected quantum %v", cfg.PhysicsQuantum)
	}
	if cfg.CatchUpCap != DefaultCatchUpCap {
		t.Fatalf("unexpected catch-up cap %d", cfg.CatchUpCap)
	}
	if cfg.InactivityWarning >= cfg.InactivityCeiling {
		t.Fatalf("warning window %v must stay below ceiling %v", cfg.InactivityWarning, cfg.InactivityCeiling)
	}
}

func TestLoadRejectsInvalidOverrides(t *testing.T) {
	t.Setenv("SRV_PORT", "not-a-port")
	t.Setenv("SRV_COUNTDOWN", "-3s")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadHonoursOverrides(t *testing.T) {
	t.Setenv("SRV_MAX_SESSIONS", "4")
	t.Setenv("SRV_INACTIVITY_CEILING", "20s")
	t.Setenv("SRV_BANNER", "hello riders")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxSessions != 4 {
		t.Fatalf("unexpected max sessions %d", cfg.MaxSessions)
	}
	if cfg.InactivityCeiling != 20*time.Second {
		t.Fatalf("unexpected ceiling %v", cfg.InactivityCeiling)
	}
	if cfg.Banner != "hello riders" {
		t.Fatalf("unexpected banner %q", cfg.Banner)
	}
}

func TestLoadRejectsWarningAboveCeiling(t *testing.T) {
	t.Setenv("SRV_INACTIVITY_CEILING", "2s")
	t.Setenv("SRV_INACTIVITY_WARNING", "5s")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}
