package events

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"puckbot/internal/gamecache"
	"puckbot/internal/provider"
	"puckbot/internal/social"
	logx "puckbot/pkg/logx"
)

type assist struct {
	ID          int64
	Name        string
	SeasonTotal int
}

// GoalEvent carries the full lifecycle of one goal: the initial post,
// scoring-change reconciliation, the one-time highlight reply, and the
// disappearance counter used to detect overturned goals.
type GoalEvent struct {
	rec       provider.RawRecord
	id        int64
	sortOrder int
	period    provider.PeriodDescriptor
	timeIn    string
	timeLeft  string

	teamID    int64
	preferred bool

	scorerID    int64
	scorerName  string
	seasonTotal int
	assists     []assist
	shotType    string
	strength    string // "ev", "pp", "sh" from the landing summary
	emptyNet    bool

	prefScore  int
	otherScore int

	// thread holds the per-platform refs of this goal's own post so
	// scoring changes and highlights reply under it.
	thread        *social.Thread
	highlightSent bool
	removedCount  int

	// credited tracks players already run through the milestone engine
	// so a scoring change never double-credits anyone.
	credited map[int64]bool

	gc *Context
}

func newGoalEvent(rec provider.RawRecord, gc *Context) *GoalEvent {
	return &GoalEvent{
		rec:       rec,
		id:        rec.EventID,
		sortOrder: rec.SortOrder,
		period:    rec.PeriodDescriptor,
		timeIn:    rec.TimeInPeriod,
		timeLeft:  rec.TimeRemaining,
		teamID:    rec.Details.EventOwnerTeamID,
		preferred: gc.isPreferred(rec.Details.EventOwnerTeamID),
		scorerID:  rec.Details.ScoringPlayerID,
		thread:    social.NewThread(),
		credited:  map[int64]bool{},
		gc:        gc,
	}
}

func (g *GoalEvent) ID() int64      { return g.id }
func (g *GoalEvent) SortOrder() int { return g.sortOrder }

// Parse fills the goal from the play record plus the landing summary and
// returns the formatted message. Missing scorer, shot type, or landing
// entry means the feed is still catching up: NotReady, retried next poll.
func (g *GoalEvent) Parse(ctx context.Context) ParseOutcome {
	d := g.rec.Details
	if d.ScoringPlayerID == 0 || d.ShotType == "" {
		return NotReady()
	}
	scorerName := g.gc.playerName(d.ScoringPlayerID)
	if scorerName == "" {
		return NotReady()
	}

	landingGoal, ok := g.landingGoal(ctx)
	if !ok {
		return NotReady()
	}

	g.scorerID = d.ScoringPlayerID
	g.scorerName = scorerName
	g.seasonTotal = landingGoal.GoalsToDate
	g.shotType = strings.ToLower(d.ShotType)
	g.strength = landingGoal.Strength
	g.emptyNet = landingGoal.GoalModifier == "empty-net" || d.GoalieInNetID == 0
	g.assists = g.buildAssists(d, landingGoal)

	g.gc.applyScores(d.AwayScore, d.HomeScore)
	g.prefScore = g.gc.PreferredScore
	g.otherScore = g.gc.OtherScore

	return Ready(g.message())
}

func (g *GoalEvent) buildAssists(d provider.RecordDetails, lg provider.LandingGoal) []assist {
	toDate := map[int64]int{}
	for _, a := range lg.Assists {
		toDate[a.PlayerID] = a.AssistsToDate
	}
	var out []assist
	for _, id := range []int64{d.Assist1PlayerID, d.Assist2PlayerID} {
		if id == 0 {
			continue
		}
		name := g.gc.playerName(id)
		if name == "" {
			continue
		}
		out = append(out, assist{ID: id, Name: name, SeasonTotal: toDate[id]})
	}
	return out
}

// landingGoal finds this goal's entry in the gamecenter landing summary,
// keyed by period and time in period.
func (g *GoalEvent) landingGoal(ctx context.Context) (provider.LandingGoal, bool) {
	if g.gc.FetchLanding == nil {
		return provider.LandingGoal{}, false
	}
	landing, err := g.gc.FetchLanding(ctx)
	if err != nil {
		g.gc.log().Debug("landing fetch failed", logx.Int64("event_id", g.id), logx.Err(err))
		return provider.LandingGoal{}, false
	}
	lg, ok := landing.GoalsByKey()[provider.GoalKey(g.period.Number, g.timeIn)]
	return lg, ok
}

func (g *GoalEvent) message() string {
	title := g.title()
	body := fmt.Sprintf("%s (%d) scores on a %s shot with %s remaining in %s.",
		g.scorerName, g.seasonTotal, g.shotType, g.timeLeft, periodLabel(g.period))
	if g.period.PeriodType == "OT" {
		body = fmt.Sprintf("%s (%d) scores with %s remaining in %s!",
			g.scorerName, g.seasonTotal, g.timeLeft, periodLabel(g.period))
	}

	parts := []string{title, body}
	if line := g.assistLines(); line != "" {
		parts = append(parts, line)
	}
	parts = append(parts, fmt.Sprintf("%s: %d\n%s: %d", g.gc.TeamName, g.prefScore, g.gc.OtherName, g.otherScore))
	return strings.Join(parts, "\n\n")
}

func (g *GoalEvent) title() string {
	if !g.preferred {
		return fmt.Sprintf("%s score. %s", g.gc.OtherName, repeat("👎", g.otherScore))
	}
	var t string
	switch {
	case g.period.PeriodType == "OT":
		t = fmt.Sprintf("%s OVERTIME GOAL!!", g.gc.TeamName)
	case g.strength == "pp":
		t = fmt.Sprintf("%s POWER PLAY GOAL!", g.gc.TeamName)
	case g.strength == "sh":
		t = fmt.Sprintf("%s shorthanded GOAL!", g.gc.TeamName)
	case g.emptyNet:
		t = fmt.Sprintf("%s empty net GOAL!", g.gc.TeamName)
	default:
		t = fmt.Sprintf("%s GOAL!", g.gc.TeamName)
	}
	return t + " " + repeat("🚨", g.prefScore)
}

func (g *GoalEvent) assistLines() string {
	switch len(g.assists) {
	case 1:
		return fmt.Sprintf("🍎 %s (%d)", g.assists[0].Name, g.assists[0].SeasonTotal)
	case 2:
		return fmt.Sprintf("🍎 %s (%d)\n🍏 %s (%d)",
			g.assists[0].Name, g.assists[0].SeasonTotal,
			g.assists[1].Name, g.assists[1].SeasonTotal)
	}
	return ""
}

// restoreFromSnapshot rebuilds lifecycle state after a restart so a
// posted goal is not re-posted and its highlight is not re-sent.
func (g *GoalEvent) restoreFromSnapshot(snap gamecache.GoalSnapshot) {
	g.highlightSent = g.highlightSent || snap.HighlightSent
	if g.scorerID == 0 {
		g.scorerID = snap.ScorerID
	}
	for _, id := range snap.AssistIDs {
		g.credited[id] = true
	}
	if snap.ScorerID != 0 {
		g.credited[snap.ScorerID] = true
	}
}

// afterPost persists the snapshot and credits milestone deltas once the
// initial message is out.
func (g *GoalEvent) afterPost(ctx context.Context) {
	if g.gc.Cache != nil {
		if err := g.gc.Cache.MarkGoalPosted(eventIDString(g.id), g.gc.TeamAbbrev, g.sortOrder); err != nil {
			g.gc.log().Warn("cache write failed", logx.Int64("event_id", g.id), logx.Err(err))
		}
		g.saveIdentitySnapshot()
	}
	g.creditMilestones(ctx, g.scorerID, assistIDs(g.assists))
}

func (g *GoalEvent) saveIdentitySnapshot() {
	scorer := g.scorerID
	ids := assistIDs(g.assists)
	err := g.gc.Cache.UpdateGoalSnapshot(eventIDString(g.id), func(s *gamecache.GoalSnapshot) {
		s.ScorerID = scorer
		s.AssistIDs = ids
	})
	if err != nil {
		g.gc.log().Warn("cache write failed", logx.Int64("event_id", g.id), logx.Err(err))
	}
}

// creditMilestones runs not-yet-credited players through the milestone
// engine and posts any hit as a reply under the goal.
func (g *GoalEvent) creditMilestones(ctx context.Context, scorerID int64, assistIDs []int64) {
	if g.gc.Milestones == nil {
		return
	}
	isPP := g.strength == "pp"

	var newScorers, newAssists []int64
	if scorerID != 0 && !g.credited[scorerID] {
		newScorers = append(newScorers, scorerID)
		g.credited[scorerID] = true
	}
	for _, id := range assistIDs {
		if id != 0 && !g.credited[id] {
			newAssists = append(newAssists, id)
			g.credited[id] = true
		}
	}
	if len(newScorers) == 0 && len(newAssists) == 0 {
		return
	}

	hits := g.gc.Milestones.HandleScoringChange(ctx, newScorers, newAssists, isPP)
	if text := g.gc.Milestones.FormatHits(hits, g.gc.playerName); text != "" && g.gc.Publisher != nil {
		g.gc.Publisher.Reply(ctx, social.Message{
			Text: g.gc.WithHashtags(text), Kind: "milestone", EventID: eventIDString(g.id),
		}, nil, g.thread)
	}
}

// Reconcile runs the post-initial lifecycle against a fresh record:
// scoring changes and the one-time highlight reply.
func (g *GoalEvent) Reconcile(ctx context.Context, rec provider.RawRecord) {
	g.checkScoringChange(ctx, rec)
	g.checkHighlight(ctx, rec)
}

func (g *GoalEvent) checkScoringChange(ctx context.Context, rec provider.RawRecord) {
	d := rec.Details
	if d.ScoringPlayerID == 0 {
		return
	}
	newAssistSet := recordAssistIDs(d)
	scorerChanged := d.ScoringPlayerID != g.scorerID
	assistsChanged := !sameIDs(newAssistSet, assistIDs(g.assists))
	if !scorerChanged && !assistsChanged {
		return
	}

	landingGoal, ok := g.landingGoal(ctx)
	if !ok {
		// Landing lags the play feed; pick the change up next poll.
		return
	}
	hadAssists := len(g.assists) > 0

	oldScorer := g.scorerName
	g.scorerID = d.ScoringPlayerID
	g.scorerName = g.gc.playerName(d.ScoringPlayerID)
	g.seasonTotal = landingGoal.GoalsToDate
	g.assists = g.buildAssists(d, landingGoal)

	text := g.scoringChangeText(scorerChanged, hadAssists, oldScorer)
	if text != "" && g.gc.Publisher != nil {
		g.gc.Publisher.Reply(ctx, social.Message{
			Text: g.gc.WithHashtags(text), Kind: "scoring_change", EventID: eventIDString(g.id),
		}, nil, g.thread)
	}
	g.gc.log().Info("scoring change applied",
		logx.Int64("event_id", g.id),
		logx.String("old_scorer", oldScorer),
		logx.String("new_scorer", g.scorerName))

	if g.gc.Cache != nil {
		g.saveIdentitySnapshot()
	}
	g.creditMilestones(ctx, g.scorerID, assistIDs(g.assists))
}

func (g *GoalEvent) scoringChangeText(scorerChanged, hadAssists bool, oldScorer string) string {
	if scorerChanged {
		var lines string
		switch len(g.assists) {
		case 0:
			lines = fmt.Sprintf("Now reads as an unassisted goal for %s (%d).", g.scorerName, g.seasonTotal)
		case 1:
			lines = fmt.Sprintf("🚨 %s (%d)\n🍎 %s (%d)",
				g.scorerName, g.seasonTotal, g.assists[0].Name, g.assists[0].SeasonTotal)
		default:
			lines = fmt.Sprintf("🚨 %s (%d)\n🍎 %s (%d)\n🍏 %s (%d)",
				g.scorerName, g.seasonTotal,
				g.assists[0].Name, g.assists[0].SeasonTotal,
				g.assists[1].Name, g.assists[1].SeasonTotal)
		}
		return "The scoring on this goal has changed.\n\n" + lines
	}

	var body string
	switch len(g.assists) {
	case 0:
		body = fmt.Sprintf("The %s goal is now unassisted!", g.scorerName)
	case 1:
		body = fmt.Sprintf("Give the lone assist on the %s goal to %s (%d).",
			g.scorerName, g.assists[0].Name, g.assists[0].SeasonTotal)
	default:
		body = fmt.Sprintf("The %s goal is now assisted by %s (%d) and %s (%d).",
			g.scorerName,
			g.assists[0].Name, g.assists[0].SeasonTotal,
			g.assists[1].Name, g.assists[1].SeasonTotal)
	}
	// An assist added to a previously unassisted goal gets no headline.
	if hadAssists {
		return "The assists on this goal have changed.\n\n" + body
	}
	return body
}

func (g *GoalEvent) checkHighlight(ctx context.Context, rec provider.RawRecord) {
	if g.highlightSent {
		return
	}
	clip, ok := normalizeHighlightURL(rec.Details.HighlightClipURL)
	if !ok {
		return
	}
	text := fmt.Sprintf("🎥 Watch the highlight of the %s goal:\n\n%s", g.scorerName, clip)
	if g.gc.Publisher != nil {
		g.gc.Publisher.Reply(ctx, social.Message{
			Text: g.gc.WithHashtags(text), Kind: "highlight", EventID: eventIDString(g.id),
		}, nil, g.thread)
	}
	g.highlightSent = true
	if g.gc.Cache != nil {
		err := g.gc.Cache.UpdateGoalSnapshot(eventIDString(g.id), func(s *gamecache.GoalSnapshot) {
			s.HighlightURL = clip
			s.HighlightSent = true
		})
		if err != nil {
			g.gc.log().Warn("cache write failed", logx.Int64("event_id", g.id), logx.Err(err))
		}
	}
	g.gc.log().Info("highlight posted", logx.Int64("event_id", g.id), logx.String("url", clip))
}

// checkRemoved counts consecutive polls where this goal is absent from
// the play list. Presence resets the counter; hitting the threshold
// reports removal exactly once.
func (g *GoalEvent) checkRemoved(plays []provider.RawRecord) bool {
	for _, p := range plays {
		if p.EventID == g.id {
			g.removedCount = 0
			return false
		}
	}
	g.removedCount++
	if g.removedCount < g.gc.removalThreshold() {
		g.gc.log().Warn("posted goal missing from play feed",
			logx.Int64("event_id", g.id), logx.Int("checks", g.removedCount))
		return false
	}
	return true
}

// normalizeHighlightURL validates a sharing URL and canonicalizes the
// host. The feed publishes a path-less /video/ placeholder before the
// real clip exists; that is not a highlight.
func normalizeHighlightURL(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	rest := strings.TrimPrefix(u.Path, "/video/")
	if rest == "" || rest == u.Path {
		return "", false
	}
	if u.Host == "nhl.com" {
		u.Host = "www.nhl.com"
	}
	return u.String(), true
}

func recordAssistIDs(d provider.RecordDetails) []int64 {
	var out []int64
	for _, id := range []int64{d.Assist1PlayerID, d.Assist2PlayerID} {
		if id != 0 {
			out = append(out, id)
		}
	}
	return out
}

func assistIDs(as []assist) []int64 {
	out := make([]int64, 0, len(as))
	for _, a := range as {
		out = append(out, a.ID)
	}
	return out
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	set := map[int64]bool{}
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}

func eventIDString(id int64) string { return strconv.FormatInt(id, 10) }
