// Package milestone tracks career milestones across one game: a baseline
// snapshot fetched before the game plus in-game deltas per player.
package milestone

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"puckbot/internal/provider"
	"puckbot/internal/storage"
	logx "puckbot/pkg/logx"
)

// Hit is a milestone reached by an event in this game.
type Hit struct {
	PlayerID int64
	Stat     string
	Value    int
	Label    string
}

// Watch is an upcoming milestone within the configured margin,
// e.g. "2 away from 100th NHL Goal".
type Watch struct {
	PlayerID  int64
	Stat      string
	Current   int
	Target    int
	Remaining int
	Label     string
}

// StatsSource provides career totals; satisfied by *provider.Client.
type StatsSource interface {
	CareerStats(ctx context.Context, playerID int64) (provider.CareerTotals, bool, error)
}

// Config holds thresholds and watch margins per stat key.
// Stat keys: games_played, goals, assists, points, pp_goals, pp_points,
// wins, shutouts.
type Config struct {
	Thresholds   map[string][]int
	WatchMargins map[string]int
}

type playerState struct {
	baseline storage.Baseline

	// in-game deltas
	goals, assists, points int
	ppGoals, ppPoints      int
	wins, shutouts         int
}

// Engine is instantiated once per game context.
type Engine struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	stats StatsSource
	store storage.Store // optional; nil disables the baseline cache
	now   func() time.Time

	states map[int64]*playerState
}

func NewEngine(cfg Config, stats StatsSource, store storage.Store, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		log:    log,
		cfg:    cfg,
		stats:  stats,
		store:  store,
		now:    time.Now,
		states: map[int64]*playerState{},
	}
}

// PreloadRoster warms the baseline cache for all roster players. A failure
// for one player never breaks the rest.
func (e *Engine) PreloadRoster(ctx context.Context, playerIDs []int64) {
	for _, pid := range playerIDs {
		e.ensureState(ctx, pid)
	}
}

// HandleGoalEvent credits a goal to the scorer and assists and returns any
// exact-threshold milestones the new totals reach.
func (e *Engine) HandleGoalEvent(ctx context.Context, scorerID, assist1ID, assist2ID int64, isPowerPlay bool) []Hit {
	var hits []Hit
	if scorerID != 0 {
		hits = append(hits, e.applyGoal(ctx, scorerID, isPowerPlay)...)
	}
	if assist1ID != 0 {
		hits = append(hits, e.applyAssist(ctx, assist1ID, isPowerPlay)...)
	}
	if assist2ID != 0 {
		hits = append(hits, e.applyAssist(ctx, assist2ID, isPowerPlay)...)
	}
	return hits
}

// HandleScoringChange credits only newly-added players after a scoring
// change. Callers pre-filter so each player is credited once per goal
// across all revisions.
func (e *Engine) HandleScoringChange(ctx context.Context, newScorerIDs, newAssistIDs []int64, isPowerPlay bool) []Hit {
	var hits []Hit
	for _, pid := range newScorerIDs {
		hits = append(hits, e.applyGoal(ctx, pid, isPowerPlay)...)
	}
	for _, pid := range newAssistIDs {
		hits = append(hits, e.applyAssist(ctx, pid, isPowerPlay)...)
	}
	return hits
}

// HandlePostgameGoalie applies decision milestones (wins, shutouts) once
// the game is final.
func (e *Engine) HandlePostgameGoalie(ctx context.Context, goalieID int64, won, shutout bool) []Hit {
	st := e.ensureState(ctx, goalieID)

	e.mu.Lock()
	defer e.mu.Unlock()

	var hits []Hit
	if won {
		st.wins++
		hits = append(hits, e.checkStat(goalieID, "wins", st.baseline.Wins+st.wins)...)
	}
	if shutout {
		st.shutouts++
		hits = append(hits, e.checkStat(goalieID, "shutouts", st.baseline.Shutouts+st.shutouts)...)
	}
	return hits
}

// CheckGamesPlayed reports whether tonight is a games-played milestone.
// The current game number is baseline GP + 1 since baselines are fetched
// before the game.
func (e *Engine) CheckGamesPlayed(ctx context.Context, playerID int64) (Hit, bool) {
	thresholds := e.cfg.Thresholds["games_played"]
	if len(thresholds) == 0 {
		return Hit{}, false
	}
	st := e.ensureState(ctx, playerID)

	e.mu.Lock()
	defer e.mu.Unlock()

	gameNumber := st.baseline.GamesPlayed + 1
	if !containsInt(thresholds, gameNumber) {
		return Hit{}, false
	}
	return Hit{
		PlayerID: playerID,
		Stat:     "games_played",
		Value:    gameNumber,
		Label:    fmt.Sprintf("%d%s NHL Game", gameNumber, ordinalSuffix(gameNumber)),
	}, true
}

// WatchesForRoster returns upcoming milestones within the configured
// margins, sorted by how close they are. Baseline values are used; a
// zero-valued stat never produces a watch.
func (e *Engine) WatchesForRoster(ctx context.Context, playerIDs []int64, nameOf func(int64) string) []Watch {
	var watches []Watch
	for _, pid := range playerIDs {
		st := e.ensureState(ctx, pid)
		watches = append(watches, e.watchesForPlayer(pid, st)...)
	}
	sort.SliceStable(watches, func(i, j int) bool { return watches[i].Remaining < watches[j].Remaining })
	_ = nameOf // names are resolved by the caller when rendering
	return watches
}

var hitPriority = []string{"games_played", "points", "goals", "assists", "pp_points", "pp_goals", "wins", "shutouts"}

// FormatHits renders the single most important hit as a message prefix.
func (e *Engine) FormatHits(hits []Hit, nameOf func(int64) string) string {
	if len(hits) == 0 {
		return ""
	}
	sorted := append([]Hit(nil), hits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return priorityIndex(sorted[i].Stat) < priorityIndex(sorted[j].Stat)
	})
	hit := sorted[0]
	return fmt.Sprintf("🎉 %s for %s! 🎉", hit.Label, nameOf(hit.PlayerID))
}

func priorityIndex(stat string) int {
	for i, s := range hitPriority {
		if s == stat {
			return i
		}
	}
	return len(hitPriority)
}

// ---- internals ----

func (e *Engine) applyGoal(ctx context.Context, playerID int64, isPowerPlay bool) []Hit {
	st := e.ensureState(ctx, playerID)

	e.mu.Lock()
	defer e.mu.Unlock()

	st.goals++
	st.points++
	if isPowerPlay {
		st.ppGoals++
		st.ppPoints++
	}

	var hits []Hit
	hits = append(hits, e.checkStat(playerID, "goals", st.baseline.Goals+st.goals)...)
	hits = append(hits, e.checkStat(playerID, "points", st.baseline.Points+st.points)...)
	if isPowerPlay {
		hits = append(hits, e.checkStat(playerID, "pp_goals", st.baseline.PPGoals+st.ppGoals)...)
		hits = append(hits, e.checkStat(playerID, "pp_points", st.baseline.PPPoints+st.ppPoints)...)
	}
	return hits
}

func (e *Engine) applyAssist(ctx context.Context, playerID int64, isPowerPlay bool) []Hit {
	st := e.ensureState(ctx, playerID)

	e.mu.Lock()
	defer e.mu.Unlock()

	st.assists++
	st.points++
	if isPowerPlay {
		st.ppPoints++
	}

	var hits []Hit
	hits = append(hits, e.checkStat(playerID, "assists", st.baseline.Assists+st.assists)...)
	hits = append(hits, e.checkStat(playerID, "points", st.baseline.Points+st.points)...)
	if isPowerPlay {
		hits = append(hits, e.checkStat(playerID, "pp_points", st.baseline.PPPoints+st.ppPoints)...)
	}
	return hits
}

// checkStat returns a hit when the new value lands exactly on a threshold.
// Passing through a threshold (e.g. a two-point jump) does not fire.
func (e *Engine) checkStat(playerID int64, stat string, value int) []Hit {
	if !containsInt(e.cfg.Thresholds[stat], value) {
		return nil
	}
	return []Hit{{
		PlayerID: playerID,
		Stat:     stat,
		Value:    value,
		Label:    fmt.Sprintf("%d%s NHL %s", value, ordinalSuffix(value), statNoun(stat)),
	}}
}

var watchStats = []string{"games_played", "goals", "assists", "points", "pp_goals", "pp_points"}

func (e *Engine) watchesForPlayer(playerID int64, st *playerState) []Watch {
	e.mu.Lock()
	defer e.mu.Unlock()

	var watches []Watch
	for _, stat := range watchStats {
		thresholds := e.cfg.Thresholds[stat]
		if len(thresholds) == 0 {
			continue
		}
		window := e.cfg.WatchMargins[stat]
		if window <= 0 {
			continue
		}

		current := baselineValue(st.baseline, stat)
		if current == 0 {
			continue
		}

		target := 0
		for _, t := range thresholds {
			if t > current && (target == 0 || t < target) {
				target = t
			}
		}
		if target == 0 {
			continue
		}
		remaining := target - current
		if remaining > window {
			continue
		}

		watches = append(watches, Watch{
			PlayerID:  playerID,
			Stat:      stat,
			Current:   current,
			Target:    target,
			Remaining: remaining,
			Label:     fmt.Sprintf("%d away from %d%s NHL %s", remaining, target, ordinalSuffix(target), statNoun(stat)),
		})
	}
	return watches
}

func baselineValue(b storage.Baseline, stat string) int {
	switch stat {
	case "games_played":
		return b.GamesPlayed
	case "goals":
		return b.Goals
	case "assists":
		return b.Assists
	case "points":
		return b.Points
	case "pp_goals":
		return b.PPGoals
	case "pp_points":
		return b.PPPoints
	case "wins":
		return b.Wins
	case "shutouts":
		return b.Shutouts
	}
	return 0
}

// ensureState returns (creating if needed) the per-player state. The
// baseline comes from the storage cache when fetched today, otherwise from
// the stats source. A stats failure degrades to a zero baseline so one
// player can never stall the game loop.
func (e *Engine) ensureState(ctx context.Context, playerID int64) *playerState {
	e.mu.Lock()
	if st, ok := e.states[playerID]; ok {
		e.mu.Unlock()
		return st
	}
	e.mu.Unlock()

	baseline := e.loadBaseline(ctx, playerID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[playerID]; ok {
		return st
	}
	st := &playerState{baseline: baseline}
	e.states[playerID] = st
	return st
}

func (e *Engine) loadBaseline(ctx context.Context, playerID int64) storage.Baseline {
	today := e.now().UTC().Format("2006-01-02")

	if e.store != nil {
		b, ok, err := e.store.GetBaseline(ctx, playerID)
		if err == nil && ok && b.FetchedDay == today {
			return b
		}
	}

	if e.stats == nil {
		return storage.Baseline{PlayerID: playerID, FetchedDay: today}
	}

	totals, isGoalie, err := e.stats.CareerStats(ctx, playerID)
	if err != nil {
		e.log.Warn("career stats unavailable; using zero baseline",
			logx.Int64("player_id", playerID), logx.Err(err))
		return storage.Baseline{PlayerID: playerID, FetchedDay: today}
	}

	b := storage.Baseline{
		PlayerID:    playerID,
		GamesPlayed: totals.GamesPlayed,
		Goals:       totals.Goals,
		Assists:     totals.Assists,
		Points:      totals.Points,
		PPGoals:     totals.PPGoals,
		PPPoints:    totals.PPPoints,
		IsGoalie:    isGoalie,
		Wins:        totals.Wins,
		Shutouts:    totals.Shutouts,
		FetchedDay:  today,
	}
	if e.store != nil {
		if err := e.store.PutBaseline(ctx, b); err != nil {
			e.log.Debug("baseline cache write failed", logx.Int64("player_id", playerID), logx.Err(err))
		}
	}
	return b
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func statNoun(stat string) string {
	switch stat {
	case "games_played":
		return "Game"
	case "goals":
		return "Goal"
	case "assists":
		return "Assist"
	case "points":
		return "Point"
	case "pp_goals":
		return "Power Play Goal"
	case "pp_points":
		return "Power Play Point"
	case "wins":
		return "Win"
	case "shutouts":
		return "Shutout"
	}
	return stat
}

// ordinalSuffix returns st/nd/rd/th (11th, 12th, 13th included).
func ordinalSuffix(n int) string {
	if m := n % 100; m >= 10 && m <= 20 {
		return "th"
	}
	switch n % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}
