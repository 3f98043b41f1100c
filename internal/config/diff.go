package config

import (
	"reflect"
	"sort"
	"strings"

	logx "puckbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Script tunables (identity fields like team_abbrev are fixed per process;
	// flag them anyway so the operator sees the mismatch).
	if !reflect.DeepEqual(oldCfg.Script, newCfg.Script) {
		changed = append(changed, "script")
		attrs = append(attrs,
			logx.String("script.team", strings.TrimSpace(newCfg.Script.TeamAbbrev)),
			logx.String("script.live_sleep", strings.TrimSpace(newCfg.Script.LiveSleep)),
			logx.String("script.intermission_sleep", strings.TrimSpace(newCfg.Script.IntermissionSleep)),
			logx.Int("script.goal_removal_checks", newCfg.Script.GoalRemovalChecks),
		)
	}

	// Provider
	if !reflect.DeepEqual(oldCfg.Provider, newCfg.Provider) {
		changed = append(changed, "provider")
		attrs = append(attrs,
			logx.String("provider.base_url", strings.TrimSpace(newCfg.Provider.BaseURL)),
			logx.Int("provider.max_retries", newCfg.Provider.MaxRetries),
			logx.Int("provider.breaker_trip", newCfg.Provider.BreakerTrip),
		)
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Socials (never log tokens or app passwords)
	if socialsChanged(oldCfg.Socials, newCfg.Socials) {
		changed = append(changed, "socials")
		attrs = append(attrs,
			logx.Bool("socials.telegram", newCfg.Socials.Telegram != nil && newCfg.Socials.Telegram.Enabled),
			logx.Bool("socials.bluesky", newCfg.Socials.Bluesky != nil && newCfg.Socials.Bluesky.Enabled),
			logx.String("socials.headline_only", strings.TrimSpace(newCfg.Socials.HeadlineOnly)),
		)
	}

	// Quota
	oQ, nQ := derefQuota(oldCfg.Quota), derefQuota(newCfg.Quota)
	if (oldCfg.Quota != nil) != (newCfg.Quota != nil) || oQ != nQ {
		changed = append(changed, "quota")
		attrs = append(attrs,
			logx.String("quota.platform", nQ.Platform),
			logx.Int("quota.content_limit", nQ.ContentLimit),
			logx.Int("quota.daily_limit", nQ.DailyLimit),
		)
	}

	// Milestones
	if !reflect.DeepEqual(oldCfg.Milestones, newCfg.Milestones) {
		changed = append(changed, "milestones")
		attrs = append(attrs,
			logx.Bool("milestones.enabled", newCfg.Milestones.Enabled),
			logx.Int("milestones.stat_count", len(newCfg.Milestones.Thresholds)),
		)
	}

	// Storage (nil means disabled)
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Debug server (never log token)
	if oldCfg.Debug.Enabled != newCfg.Debug.Enabled ||
		strings.TrimSpace(oldCfg.Debug.Addr) != strings.TrimSpace(newCfg.Debug.Addr) ||
		oldCfg.Debug.AllowInsecure != newCfg.Debug.AllowInsecure ||
		strings.TrimSpace(oldCfg.Debug.ReadTimeout) != strings.TrimSpace(newCfg.Debug.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Debug.WriteTimeout) != strings.TrimSpace(newCfg.Debug.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Debug.IdleTimeout) != strings.TrimSpace(newCfg.Debug.IdleTimeout) ||
		(strings.TrimSpace(oldCfg.Debug.Token) != "") != (strings.TrimSpace(newCfg.Debug.Token) != "") {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
			logx.Bool("debug.allow_insecure", newCfg.Debug.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func socialsChanged(o, n SocialsConfig) bool {
	if strings.TrimSpace(o.HeadlineOnly) != strings.TrimSpace(n.HeadlineOnly) {
		return true
	}
	if (o.Telegram != nil) != (n.Telegram != nil) {
		return true
	}
	if o.Telegram != nil && *o.Telegram != *n.Telegram {
		return true
	}
	if (o.Bluesky != nil) != (n.Bluesky != nil) {
		return true
	}
	if o.Bluesky != nil && *o.Bluesky != *n.Bluesky {
		return true
	}
	return false
}

func derefQuota(q *QuotaConfig) QuotaConfig {
	if q == nil {
		return QuotaConfig{}
	}
	return *q
}
