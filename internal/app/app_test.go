package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"puckbot/internal/config"
	logx "puckbot/pkg/logx"
)

func TestNextCheckWaitTracksReloadedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"script":{"team_abbrev":"NJD","cache_dir":".","schedule_check_cron":"30 0 * * *"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	m := config.NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	fixed := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	a := &App{cfgm: m, loc: time.UTC, log: logx.Nop(), now: func() time.Time { return fixed }}

	if d := a.nextCheckWait(a.cfgm.Get()); d != 30*time.Minute {
		t.Fatalf("wait = %v, want 30m", d)
	}

	// A hot reload commits a new spec; the next loop pass reads it
	// through the manager instead of a stale field.
	next := *a.cfgm.Get()
	next.Script.ScheduleCheckCron = "0 12 * * *"
	m.Commit(&next)
	if d := a.nextCheckWait(a.cfgm.Get()); d != 12*time.Hour {
		t.Fatalf("wait = %v, want 12h after reload", d)
	}
}

func TestNextCheckWaitFallsBackOnBadSpec(t *testing.T) {
	a := &App{log: logx.Nop(), loc: time.UTC, now: time.Now}
	cfg := &config.Config{}
	if d := a.nextCheckWait(cfg); d != 6*time.Hour {
		t.Fatalf("wait = %v, want 6h for empty spec", d)
	}
	cfg.Script.ScheduleCheckCron = "not a cron line"
	if d := a.nextCheckWait(cfg); d != 6*time.Hour {
		t.Fatalf("wait = %v, want 6h for a bad spec", d)
	}
}
