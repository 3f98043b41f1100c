package game

import (
	"context"
	"fmt"
	"strings"

	"puckbot/internal/provider"
	"puckbot/internal/social"
	logx "puckbot/pkg/logx"
)

const pieceThreeStars = "three_stars"

// final runs the postgame flow: goalie decision milestones, then the
// three stars. The landing summary lags the final horn, so the stars are
// retried a bounded number of times before giving up.
func (g *Game) final(ctx context.Context, feed *provider.Feed) error {
	g.log.Info("game final",
		logx.Int("us", g.gctx.PreferredScore), logx.Int("them", g.gctx.OtherScore))

	g.goalieDecision(ctx, feed)

	if g.isPieceSent(pieceThreeStars) {
		return nil
	}
	for attempt := 1; attempt <= g.cfg.FinalRetries; attempt++ {
		landing, err := g.prov.Landing(ctx, g.sched.ID)
		if err == nil && len(landing.Summary.ThreeStars) > 0 {
			g.postThreeStars(ctx, landing.Summary.ThreeStars)
			return nil
		}
		if err != nil {
			g.log.Warn("postgame landing fetch failed", logx.Int("attempt", attempt), logx.Err(err))
		} else {
			g.log.Debug("three stars not published yet", logx.Int("attempt", attempt))
		}
		if attempt < g.cfg.FinalRetries {
			if serr := g.sleep(ctx, g.cfg.LiveSleep); serr != nil {
				return serr
			}
		}
	}
	g.log.Warn("giving up on three stars", logx.Int("attempts", g.cfg.FinalRetries))
	return nil
}

// goalieDecision credits the win (and shutout) to our goalie when the
// preferred team won. The goalie of record is the one in net for the
// opponent's last goal, or any rostered goalie on a shutout.
func (g *Game) goalieDecision(ctx context.Context, feed *provider.Feed) {
	if g.miles == nil || g.gctx.PreferredScore <= g.gctx.OtherScore {
		return
	}
	goalieID := g.decisionGoalie(feed)
	if goalieID == 0 {
		return
	}
	shutout := g.gctx.OtherScore == 0
	hits := g.miles.HandlePostgameGoalie(ctx, goalieID, true, shutout)
	nameOf := func(id int64) string { return g.gctx.Roster[id] }
	if text := g.miles.FormatHits(hits, nameOf); text != "" && g.pub != nil {
		g.pub.Reply(ctx, social.Message{
			Text: g.gctx.WithHashtags(text), Kind: "milestone",
		}, nil, g.pregameThread)
	}
}

func (g *Game) decisionGoalie(feed *provider.Feed) int64 {
	// Last goal against names our goalie directly.
	var goalieID int64
	for _, rec := range feed.Plays {
		if rec.TypeDescKey != "goal" {
			continue
		}
		if rec.Details.EventOwnerTeamID != g.gctx.TeamID && rec.Details.GoalieInNetID != 0 {
			goalieID = rec.Details.GoalieInNetID
		}
	}
	if goalieID != 0 {
		return goalieID
	}
	// Shutout: fall back to the first rostered goalie on our side.
	for _, rs := range feed.RosterSpots {
		if rs.TeamID == g.gctx.TeamID && rs.PositionCode == "G" {
			return rs.PlayerID
		}
	}
	return 0
}

func (g *Game) postThreeStars(ctx context.Context, stars []provider.ThreeStar) {
	lines := make([]string, 0, len(stars))
	for _, s := range stars {
		if s.Star < 1 || s.Star > 3 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s (%s)", strings.Repeat("⭐️", s.Star), s.Name, s.TeamAbbrev))
	}
	if len(lines) == 0 {
		return
	}
	text := "The three stars of the game:\n\n" + strings.Join(lines, "\n")
	if g.pub != nil {
		g.pub.Reply(ctx, social.Message{
			Text: g.gctx.WithHashtags(text), Kind: pieceThreeStars,
		}, nil, g.pregameThread)
	}
	g.markPieceSent(pieceThreeStars, nil)
}
