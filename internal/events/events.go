// Package events turns play-by-play records into typed game events and
// social messages. Each event type keeps its own cache keyed by event id;
// records whose data is incomplete are retried on the next poll instead
// of being posted half-formed.
package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"puckbot/internal/gamecache"
	"puckbot/internal/metrics"
	"puckbot/internal/milestone"
	"puckbot/internal/provider"
	"puckbot/internal/social"
	logx "puckbot/pkg/logx"
)

// ParseOutcome is the tri-state result of parsing one record. Ready
// carries a message to post; NotReady means the upstream data is
// incomplete and the record should be retried; NoMessage is terminal
// with nothing to say.
type ParseOutcome struct {
	ready     bool
	noMessage bool
	Text      string
}

func Ready(text string) ParseOutcome { return ParseOutcome{ready: true, Text: text} }
func NotReady() ParseOutcome         { return ParseOutcome{} }
func NoMessage() ParseOutcome        { return ParseOutcome{noMessage: true} }

func (o ParseOutcome) IsReady() bool     { return o.ready }
func (o ParseOutcome) IsNotReady() bool  { return !o.ready && !o.noMessage }
func (o ParseOutcome) IsNoMessage() bool { return o.noMessage }

// Event is one classified play.
type Event interface {
	ID() int64
	SortOrder() int
	Parse(ctx context.Context) ParseOutcome
}

// Context carries everything event parsing needs about the game in
// progress. One Context lives per game; the polling loop updates the
// mutable score fields as goals land.
type Context struct {
	Log logx.Logger
	Met *metrics.Metrics

	TeamID       int64
	TeamName     string
	TeamAbbrev   string
	TeamHashtag  string
	GameHashtag  string
	HomeAway     string // "home" or "away" for the preferred team
	OtherName    string
	GameType     int // 1 preseason, 2 regular, 3 playoffs
	Roster       map[int64]string

	// Running score, updated as goal events land.
	PreferredScore int
	OtherScore     int

	FetchLanding func(ctx context.Context) (provider.Landing, error)

	Publisher  *social.Publisher
	Thread     *social.Thread
	Cache      *gamecache.Cache
	Milestones *milestone.Engine

	SortOrderCeiling int
	RemovalThreshold int
}

func (c *Context) log() logx.Logger {
	if c.Log.IsZero() {
		return logx.Nop()
	}
	return c.Log
}

func (c *Context) removalThreshold() int {
	if c.RemovalThreshold <= 0 {
		return 5
	}
	return c.RemovalThreshold
}

// playerName resolves a roster id; empty when unknown so callers can
// treat a missing name as not-ready data.
func (c *Context) playerName(id int64) string {
	if id == 0 {
		return ""
	}
	return c.Roster[id]
}

// WithHashtags appends the team and game hashtag line.
func (c *Context) WithHashtags(text string) string {
	switch {
	case c.TeamHashtag != "" && c.GameHashtag != "":
		return text + "\n\n" + c.TeamHashtag + " | " + c.GameHashtag
	case c.TeamHashtag != "":
		return text + "\n\n" + c.TeamHashtag
	case c.GameHashtag != "":
		return text + "\n\n" + c.GameHashtag
	}
	return text
}

// isPreferred reports whether the event-owning team is ours.
func (c *Context) isPreferred(teamID int64) bool {
	return teamID == c.TeamID
}

// applyScores updates the running score from a goal's details, mapped
// through the preferred side.
func (c *Context) applyScores(awayScore, homeScore int) {
	if c.HomeAway == "home" {
		c.PreferredScore, c.OtherScore = homeScore, awayScore
	} else {
		c.PreferredScore, c.OtherScore = awayScore, homeScore
	}
}

func ordinal(n int) string {
	suffix := "th"
	if m := n % 100; m < 10 || m > 20 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

// periodLabel renders "the 1st period", "overtime", "the shootout".
func periodLabel(pd provider.PeriodDescriptor) string {
	switch pd.PeriodType {
	case "SO":
		return "the shootout"
	case "OT":
		return otLabel(pd.Number)
	}
	if pd.Number >= 4 {
		return otLabel(pd.Number)
	}
	return "the " + ordinal(pd.Number) + " period"
}

// otLabel is playoff-aware: period 4 is overtime, 5 is double overtime
// and so on.
func otLabel(period int) string {
	n := period - 3
	if n <= 1 {
		return "overtime"
	}
	names := map[int]string{2: "double", 3: "triple", 4: "quadruple"}
	if name, ok := names[n]; ok {
		return name + " overtime"
	}
	return fmt.Sprintf("%dx overtime", n)
}

// repeat renders a score-sized run of an emoji, at least one.
func repeat(s string, n int) string {
	if n < 1 {
		n = 1
	}
	return strings.Repeat(s, n)
}
