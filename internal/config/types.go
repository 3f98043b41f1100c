package config

type Config struct {
	Script   ScriptConfig   `json:"script"`
	Provider ProviderConfig `json:"provider"`
	Logging  LoggingConfig  `json:"logging"`
	Socials  SocialsConfig  `json:"socials"`
	Quota    *QuotaConfig   `json:"quota,omitempty"`

	Milestones MilestonesConfig `json:"milestones"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Debug   DebugConfig    `json:"debug,omitempty"`
}

// ScriptConfig controls the game loop itself.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - live_sleep: "38s"
//   - intermission_sleep: "3m"
//   - pregame_sleep_max: "30m"
//   - final_retries: 3
//   - goal_removal_checks: 5
//   - sort_order_ceiling: 100000
type ScriptConfig struct {
	TeamAbbrev string `json:"team_abbrev"`
	TeamName   string `json:"team_name,omitempty"`
	Hashtag    string `json:"hashtag,omitempty"`

	CacheDir string `json:"cache_dir"`

	LiveSleep         string `json:"live_sleep,omitempty"`
	IntermissionSleep string `json:"intermission_sleep,omitempty"`
	PregameSleepMax   string `json:"pregame_sleep_max,omitempty"`

	FinalRetries      int `json:"final_retries,omitempty"`
	GoalRemovalChecks int `json:"goal_removal_checks,omitempty"`
	SortOrderCeiling  int `json:"sort_order_ceiling,omitempty"`

	// MaxLiveIterations and MaxLiveDuration bound a runaway live loop.
	// Zero disables the bound.
	MaxLiveIterations int    `json:"max_live_iterations,omitempty"`
	MaxLiveDuration   string `json:"max_live_duration,omitempty"`

	// ScheduleCheckCron is a cron spec evaluated when no game is scheduled
	// for the target date (e.g. "0 9 * * *" for a daily 09:00 check).
	ScheduleCheckCron string `json:"schedule_check_cron,omitempty"`
	Timezone          string `json:"timezone,omitempty"`
}

// ProviderConfig controls the outbound game-data client.
//
// Rates maps a logical endpoint key (e.g. "play_by_play", "landing",
// "schedule") to a requests-per-second cap. Keys not present fall back
// to DefaultRate.
type ProviderConfig struct {
	BaseURL      string `json:"base_url,omitempty"`
	StatsBaseURL string `json:"stats_base_url,omitempty"`

	Timeout string `json:"timeout,omitempty"` // per-call timeout

	Rates       map[string]float64 `json:"rates,omitempty"`
	DefaultRate float64            `json:"default_rate,omitempty"`

	MaxRetries      int    `json:"max_retries,omitempty"`
	BackoffBase     string `json:"backoff_base,omitempty"`
	BackoffMax      string `json:"backoff_max,omitempty"`
	BreakerTrip     int    `json:"breaker_trip,omitempty"`
	BreakerCooldown string `json:"breaker_cooldown,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SocialsConfig declares the posting targets.
//
// HeadlineOnly names a platform that receives top-level posts but is
// excluded from reply threading (its refs never seed reply anchors).
type SocialsConfig struct {
	Telegram *TelegramSocial `json:"telegram,omitempty"`
	Bluesky  *BlueskySocial  `json:"bluesky,omitempty"`

	HeadlineOnly string `json:"headline_only,omitempty"`
}

type TelegramSocial struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`
	// DebugChatID is used instead of ChatID when running with -debugsocial.
	DebugChatID int64 `json:"debug_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type BlueskySocial struct {
	Enabled     bool   `json:"enabled"`
	Host        string `json:"host,omitempty"` // default: https://bsky.social
	Handle      string `json:"handle"`
	AppPassword string `json:"app_password"`
	// Debug account used with -debugsocial.
	DebugHandle      string `json:"debug_handle,omitempty"`
	DebugAppPassword string `json:"debug_app_password,omitempty"`
}

// QuotaConfig limits daily posts for one platform.
//
// Limits are evaluated against a UTC calendar day. ContentLimit caps regular
// posts; DailyLimit is the hard platform ceiling and leaves room for a single
// warning post after the content limit is reached.
type QuotaConfig struct {
	Platform     string `json:"platform"`
	Path         string `json:"path"`
	ContentLimit int    `json:"content_limit,omitempty"` // default 15
	DailyLimit   int    `json:"daily_limit,omitempty"`   // default 17
}

// MilestonesConfig drives career milestone detection.
//
// Thresholds maps a stat key (goals, assists, points, pp_goals, pp_points,
// games_played, wins, shutouts) to the exact career values that trigger a
// post. WatchMargins maps the same keys to the "within N" window used for
// pregame milestone-watch lines.
type MilestonesConfig struct {
	Enabled      bool             `json:"enabled"`
	Thresholds   map[string][]int `json:"thresholds,omitempty"`
	WatchMargins map[string]int   `json:"watch_margins,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./puckbot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DebugConfig controls the optional debug HTTP server (pprof + metrics).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /debug/pprof/profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
