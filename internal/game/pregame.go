package game

import (
	"context"
	"fmt"
	"strings"
	"time"

	"puckbot/internal/gamecache"
	"puckbot/internal/provider"
	"puckbot/internal/social"
	logx "puckbot/pkg/logx"
)

// Pregame thread piece kinds; each is sent at most once per game.
const (
	pieceGameDay      = "game_day"
	pieceSeasonSeries = "season_series"
	pieceMilestones   = "milestone_watch"
)

// pregame posts the pregame thread. Every piece is gated by the durable
// sent flag so a restart resumes instead of re-posting, replying under
// the recovered thread roots.
func (g *Game) pregame(ctx context.Context, feed *provider.Feed) {
	if g.pub == nil {
		return
	}

	if !g.isPieceSent(pieceGameDay) {
		refs := g.pub.PostAndSeed(ctx, social.Message{
			Text: g.gctx.WithHashtags(g.gameDayText()), Kind: pieceGameDay,
		}, g.pregameThread)
		g.markPieceSent(pieceGameDay, refs)
	}

	if !g.isPieceSent(pieceSeasonSeries) {
		if text := g.seasonSeriesText(); text != "" {
			g.pub.Reply(ctx, social.Message{
				Text: g.gctx.WithHashtags(text), Kind: pieceSeasonSeries,
			}, nil, g.pregameThread)
		}
		g.markPieceSent(pieceSeasonSeries, nil)
	}

	// Milestones need the roster, which the feed may not carry yet.
	// Leaving the flag unset retries on the next pregame poll.
	if !g.isPieceSent(pieceMilestones) && g.miles != nil && len(g.gctx.Roster) > 0 {
		if text := g.milestoneText(ctx); text != "" {
			g.pub.Reply(ctx, social.Message{
				Text: g.gctx.WithHashtags(text), Kind: pieceMilestones,
			}, nil, g.pregameThread)
		}
		g.markPieceSent(pieceMilestones, nil)
	}
}

func (g *Game) isPieceSent(kind string) bool {
	return g.cache != nil && g.cache.IsPregameSent(kind)
}

func (g *Game) markPieceSent(kind string, refs map[string]social.PostRef) {
	if g.cache == nil {
		return
	}
	var stored []gamecache.PostRef
	for _, ref := range refs {
		stored = append(stored, gamecache.PostRef{Platform: ref.Platform, ID: ref.ID})
	}
	if err := g.cache.MarkPregameSent(kind, stored); err != nil {
		g.log.Warn("cache write failed", logx.String("piece", kind), logx.Err(err))
	}
}

func (g *Game) gameDayText() string {
	matchup := fmt.Sprintf("%s @ %s", g.sched.AwayTeam.Abbrev, g.sched.HomeTeam.Abbrev)
	if g.gctx.TeamName != "" && g.gctx.OtherName != "" {
		if g.gctx.HomeAway == "home" {
			matchup = fmt.Sprintf("%s @ %s", g.gctx.OtherName, g.gctx.TeamName)
		} else {
			matchup = fmt.Sprintf("%s @ %s", g.gctx.TeamName, g.gctx.OtherName)
		}
	}

	text := fmt.Sprintf("It's a %s game day! 🏒\n\n%s", teamOrAbbrev(g.gctx.TeamName, g.gctx.TeamAbbrev), matchup)
	if start, err := time.Parse(time.RFC3339, g.sched.StartTimeUTC); err == nil {
		text += fmt.Sprintf("\nPuck drop: %s", start.In(g.cfg.Timezone).Format("3:04 PM MST"))
	}
	return text
}

func teamOrAbbrev(name, abbrev string) string {
	if name != "" {
		return name
	}
	return abbrev
}

// seasonSeriesText summarizes completed meetings against tonight's
// opponent. Empty when the schedule was not provided.
func (g *Game) seasonSeriesText() string {
	if g.schedule == nil {
		return ""
	}
	otherID := g.sched.HomeTeam.ID
	usHome := g.gctx.HomeAway == "home"
	if usHome {
		otherID = g.sched.AwayTeam.ID
	}

	var wins, losses int
	for _, sg := range g.schedule.Games {
		if sg.ID == g.sched.ID || (sg.GameState != "FINAL" && sg.GameState != "OFF") {
			continue
		}
		var us, them provider.ScheduleTeam
		switch {
		case sg.HomeTeam.ID == otherID:
			us, them = sg.AwayTeam, sg.HomeTeam
		case sg.AwayTeam.ID == otherID:
			us, them = sg.HomeTeam, sg.AwayTeam
		default:
			continue
		}
		if us.Score > them.Score {
			wins++
		} else {
			losses++
		}
	}

	name := teamOrAbbrev(g.gctx.TeamName, g.gctx.TeamAbbrev)
	switch {
	case wins == 0 && losses == 0:
		return fmt.Sprintf("This is the first meeting of the season between the %s and the %s.",
			name, g.gctx.OtherName)
	case wins > losses:
		return fmt.Sprintf("The %s lead this season's series %d-%d.", name, wins, losses)
	case wins < losses:
		return fmt.Sprintf("The %s trail this season's series %d-%d.", name, losses, wins)
	}
	return fmt.Sprintf("This season's series is tied at %d.", wins)
}

// milestoneText lists tonight's games-played milestones and upcoming
// watches for the roster. Empty when there is nothing to say.
func (g *Game) milestoneText(ctx context.Context) string {
	ids := make([]int64, 0, len(g.gctx.Roster))
	for id := range g.gctx.Roster {
		ids = append(ids, id)
	}
	nameOf := func(id int64) string { return g.gctx.Roster[id] }

	var lines []string
	for _, id := range ids {
		if hit, ok := g.miles.CheckGamesPlayed(ctx, id); ok {
			lines = append(lines, fmt.Sprintf("🎉 %s plays their %s tonight!", nameOf(hit.PlayerID), hit.Label))
		}
	}
	watches := g.miles.WatchesForRoster(ctx, ids, nameOf)
	for _, w := range watches {
		if name := nameOf(w.PlayerID); name != "" {
			lines = append(lines, fmt.Sprintf("👀 %s: %s", name, w.Label))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "Milestone watch for tonight:\n\n" + strings.Join(lines, "\n")
}
