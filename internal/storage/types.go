package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// PostRecord audits one social post attempt.
// Keep it compact and schema-stable.
type PostRecord struct {
	At       time.Time
	GameID   int64
	Platform string
	Kind     string // e.g. "goal", "goal_highlight", "pregame_core"
	EventID  string
	Text     string
	RefID    string
	ReplyTo  string
	Error    string
}

// Baseline is a player's career totals as of before the current game,
// plus the UTC day it was fetched so stale snapshots can be refreshed.
type Baseline struct {
	PlayerID    int64  `json:"player_id"`
	GamesPlayed int    `json:"games_played"`
	Goals       int    `json:"goals"`
	Assists     int    `json:"assists"`
	Points      int    `json:"points"`
	PPGoals     int    `json:"pp_goals"`
	PPPoints    int    `json:"pp_points"`
	IsGoalie    bool   `json:"is_goalie"`
	Wins        int    `json:"wins"`
	Shutouts    int    `json:"shutouts"`
	FetchedDay  string `json:"fetched_day"` // YYYY-MM-DD (UTC)
}
