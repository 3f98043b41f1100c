package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var validMilestoneStats = map[string]bool{
	"games_played": true,
	"goals":        true,
	"assists":      true,
	"points":       true,
	"pp_goals":     true,
	"pp_points":    true,
	"wins":         true,
	"shutouts":     true,
}

// Validate checks invariants that Parse cannot express through types alone.
// It is installed as the Manager validator so hot reloads reject bad configs
// before they are committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Script.TeamAbbrev) == "" {
		return errors.New("script.team_abbrev is required")
	}
	if strings.TrimSpace(cfg.Script.CacheDir) == "" {
		return errors.New("script.cache_dir is required")
	}
	for path, raw := range map[string]string{
		"script.live_sleep":         cfg.Script.LiveSleep,
		"script.intermission_sleep": cfg.Script.IntermissionSleep,
		"script.pregame_sleep_max":  cfg.Script.PregameSleepMax,
		"script.max_live_duration":  cfg.Script.MaxLiveDuration,
		"provider.timeout":          cfg.Provider.Timeout,
		"provider.backoff_base":     cfg.Provider.BackoffBase,
		"provider.backoff_max":      cfg.Provider.BackoffMax,
		"provider.breaker_cooldown": cfg.Provider.BreakerCooldown,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(cfg.Script.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("script.timezone: %w", err)
		}
	}

	if tg := cfg.Socials.Telegram; tg != nil && tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			return errors.New("socials.telegram.token is required when enabled")
		}
		if tg.ChatID == 0 {
			return errors.New("socials.telegram.chat_id is required when enabled")
		}
	}
	if bs := cfg.Socials.Bluesky; bs != nil && bs.Enabled {
		if strings.TrimSpace(bs.Handle) == "" || strings.TrimSpace(bs.AppPassword) == "" {
			return errors.New("socials.bluesky.handle and app_password are required when enabled")
		}
	}

	if q := cfg.Quota; q != nil {
		if strings.TrimSpace(q.Platform) == "" {
			return errors.New("quota.platform is required")
		}
		if strings.TrimSpace(q.Path) == "" {
			return errors.New("quota.path is required")
		}
		if q.ContentLimit < 0 || q.DailyLimit < 0 {
			return errors.New("quota limits must be >= 0")
		}
		if q.ContentLimit > 0 && q.DailyLimit > 0 && q.ContentLimit > q.DailyLimit {
			return errors.New("quota.content_limit must not exceed quota.daily_limit")
		}
	}

	for stat := range cfg.Milestones.Thresholds {
		if !validMilestoneStats[stat] {
			return fmt.Errorf("milestones.thresholds: unknown stat %q", stat)
		}
	}
	for stat, margin := range cfg.Milestones.WatchMargins {
		if !validMilestoneStats[stat] {
			return fmt.Errorf("milestones.watch_margins: unknown stat %q", stat)
		}
		if margin < 0 {
			return fmt.Errorf("milestones.watch_margins.%s must be >= 0", stat)
		}
	}

	return nil
}
