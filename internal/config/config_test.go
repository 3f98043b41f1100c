package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
script:
  team_abbrev: NJD
  team_name: New Jersey Devils
  hashtag: "#NJDevils"
  cache_dir: ./cache
  live_sleep: 38s
  schedule_check_cron: "0 9 * * *"
provider:
  rates:
    play_by_play: 0.5
logging:
  level: INFO
  console: true
  file:
    enabled: false
    path: ""
socials:
  telegram:
    enabled: true
    token: tg-token
    chat_id: -100123
  headline_only: telegram
quota:
  platform: bluesky
  path: ./quota.json
milestones:
  enabled: true
  thresholds:
    goals: [100, 200]
  watch_margins:
    goals: 5
`

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Script.TeamAbbrev != "NJD" || cfg.Script.LiveSleep != "38s" {
		t.Fatalf("script = %+v", cfg.Script)
	}
	if cfg.Provider.Rates["play_by_play"] != 0.5 {
		t.Fatalf("rates = %v", cfg.Provider.Rates)
	}
	if cfg.Socials.Telegram == nil || cfg.Socials.Telegram.ChatID != -100123 {
		t.Fatalf("telegram = %+v", cfg.Socials.Telegram)
	}
	if cfg.Socials.HeadlineOnly != "telegram" {
		t.Fatalf("headline_only = %q", cfg.Socials.HeadlineOnly)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML+"\nbogus_section:\n  x: 1\n")
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatal("unknown top-level key must be rejected")
	}

	path = writeConfig(t, "config.json", `{"script":{"team_abbrev":"NJD","cache_dir":".","typo_field":true}}`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatal("unknown nested key must be rejected")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json",
		`{"script":{"team_abbrev":"NJD","cache_dir":"."}}{"extra":1}`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatal("concatenated JSON documents must be rejected")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Script: ScriptConfig{TeamAbbrev: "NJD", CacheDir: "./cache"}}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"minimal ok", func(*Config) {}, ""},
		{"missing team", func(c *Config) { c.Script.TeamAbbrev = " " }, "team_abbrev"},
		{"missing cache dir", func(c *Config) { c.Script.CacheDir = "" }, "cache_dir"},
		{"bad duration", func(c *Config) { c.Script.LiveSleep = "38 seconds" }, "live_sleep"},
		{"negative duration", func(c *Config) { c.Provider.Timeout = "-5s" }, ">= 0"},
		{"bad timezone", func(c *Config) { c.Script.Timezone = "Mars/Olympus" }, "timezone"},
		{"telegram enabled without token", func(c *Config) {
			c.Socials.Telegram = &TelegramSocial{Enabled: true, ChatID: 1}
		}, "token"},
		{"bluesky enabled without handle", func(c *Config) {
			c.Socials.Bluesky = &BlueskySocial{Enabled: true, AppPassword: "pw"}
		}, "handle"},
		{"quota without platform", func(c *Config) {
			c.Quota = &QuotaConfig{Path: "./q.json"}
		}, "platform"},
		{"quota content above daily", func(c *Config) {
			c.Quota = &QuotaConfig{Platform: "bluesky", Path: "./q.json", ContentLimit: 20, DailyLimit: 17}
		}, "content_limit"},
		{"unknown milestone stat", func(c *Config) {
			c.Milestones.Thresholds = map[string][]int{"hat_tricks": {10}}
		}, "unknown stat"},
		{"negative watch margin", func(c *Config) {
			c.Milestones.WatchMargins = map[string]int{"goals": -1}
		}, "watch_margins"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("garbage must error")
	}
	if _, err := ParseDurationField("x", "-1m"); err == nil {
		t.Fatal("negative must error")
	}
	if d, err := ParseDurationOrDefault("x", "", 38*time.Second); err != nil || d != 38*time.Second {
		t.Fatalf("default: %v, %v", d, err)
	}
}
