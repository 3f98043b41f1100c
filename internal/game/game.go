// Package game runs the per-game loop: pregame thread, live polling and
// classification, and the postgame flow. One Game lives per process run.
package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"puckbot/internal/events"
	"puckbot/internal/gamecache"
	"puckbot/internal/metrics"
	"puckbot/internal/milestone"
	"puckbot/internal/provider"
	"puckbot/internal/social"
	logx "puckbot/pkg/logx"
)

// Provider is the slice of the game-data client the loop needs.
type Provider interface {
	PlayByPlay(ctx context.Context, gameID int64) (*provider.Feed, error)
	Landing(ctx context.Context, gameID int64) (*provider.Landing, error)
}

// Config carries the loop tunables. Zero values fall back to defaults.
type Config struct {
	LiveSleep         time.Duration
	IntermissionSleep time.Duration
	PregameSleepMax   time.Duration

	FinalRetries      int
	GoalRemovalChecks int
	SortOrderCeiling  int

	// MaxLiveIterations and MaxLiveDuration bound a runaway loop; zero
	// disables the bound.
	MaxLiveIterations int
	MaxLiveDuration   time.Duration

	Timezone *time.Location
}

func (c Config) withDefaults() Config {
	if c.LiveSleep <= 0 {
		c.LiveSleep = 38 * time.Second
	}
	if c.IntermissionSleep <= 0 {
		c.IntermissionSleep = 3 * time.Minute
	}
	if c.PregameSleepMax <= 0 {
		c.PregameSleepMax = 30 * time.Minute
	}
	if c.FinalRetries <= 0 {
		c.FinalRetries = 3
	}
	if c.SortOrderCeiling <= 0 {
		c.SortOrderCeiling = 100000
	}
	if c.Timezone == nil {
		c.Timezone = time.UTC
	}
	return c
}

// Options wires a Game together.
type Options struct {
	Log logx.Logger
	Met *metrics.Metrics
	Cfg Config

	Provider   Provider
	Publisher  *social.Publisher
	Cache      *gamecache.Cache
	Milestones *milestone.Engine

	// Sched identifies the game being followed; Schedule is the full season
	// schedule used for the season-series pregame piece.
	Sched    provider.ScheduleGame
	Schedule *provider.Schedule

	TeamAbbrev string
	TeamName   string
	Hashtag    string
}

// ErrLoopBudget reports that the live loop hit its iteration or
// wall-clock cap before the game went final.
var ErrLoopBudget = errors.New("live loop budget exhausted")

// Game drives one game from pregame to final.
type Game struct {
	log logx.Logger
	met *metrics.Metrics
	cfg Config

	prov  Provider
	pub   *social.Publisher
	cache *gamecache.Cache
	miles *milestone.Engine

	sched    provider.ScheduleGame
	schedule *provider.Schedule

	gctx *events.Context
	reg  *events.Registry

	pregameThread *social.Thread

	iterations int
	started    time.Time

	// injectable for tests
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	notify func(state string)
}

func New(opts Options) *Game {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg := opts.Cfg.withDefaults()

	homeAway := "away"
	if opts.Sched.HomeTeam.Abbrev == opts.TeamAbbrev {
		homeAway = "home"
	}

	g := &Game{
		log:      log.With(logx.Int64("game_id", opts.Sched.ID)),
		met:      opts.Met,
		cfg:      cfg,
		prov:     opts.Provider,
		pub:      opts.Publisher,
		cache:    opts.Cache,
		miles:    opts.Milestones,
		sched:    opts.Sched,
		schedule: opts.Schedule,
		now:      time.Now,
		sleep:    sleepCtx,
		notify:   sdNotify,
	}

	g.pregameThread = social.NewThreadFromRoots(rootRefs(opts.Cache))

	g.gctx = &events.Context{
		Log:              log,
		Met:              opts.Met,
		TeamAbbrev:       opts.TeamAbbrev,
		TeamName:         opts.TeamName,
		TeamHashtag:      opts.Hashtag,
		GameHashtag:      fmt.Sprintf("#%svs%s", opts.Sched.AwayTeam.Abbrev, opts.Sched.HomeTeam.Abbrev),
		HomeAway:         homeAway,
		GameType:         opts.Sched.GameType,
		Publisher:        opts.Publisher,
		Thread:           g.pregameThread,
		Cache:            opts.Cache,
		Milestones:       opts.Milestones,
		SortOrderCeiling: cfg.SortOrderCeiling,
		RemovalThreshold: cfg.GoalRemovalChecks,
	}
	if opts.Provider != nil {
		gameID := opts.Sched.ID
		g.gctx.FetchLanding = func(ctx context.Context) (provider.Landing, error) {
			l, err := opts.Provider.Landing(ctx, gameID)
			if err != nil {
				return provider.Landing{}, err
			}
			return *l, nil
		}
	}
	g.reg = events.NewRegistry(g.gctx)
	return g
}

// Run drives the loop until the game is final, the budget is exhausted,
// or the context is cancelled.
func (g *Game) Run(ctx context.Context) error {
	if g.pub != nil {
		g.pub.SetGameID(g.sched.ID)
	}
	g.started = g.now()
	g.notify(daemon.SdNotifyReady)
	g.log.Info("game loop started",
		logx.String("matchup", g.sched.AwayTeam.Abbrev+" @ "+g.sched.HomeTeam.Abbrev),
		logx.String("start", g.sched.StartTimeUTC))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.checkBudget(); err != nil {
			return err
		}

		feed, err := g.prov.PlayByPlay(ctx, g.sched.ID)
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		g.notify(daemon.SdNotifyWatchdog)
		g.absorbIdentity(feed)

		switch {
		case feed.IsPregame():
			g.pregame(ctx, feed)
			if err := g.sleep(ctx, g.pregameSleep()); err != nil {
				return err
			}
		case feed.IsLive():
			g.iterations++
			g.liveCycle(ctx, feed)
			d := g.cfg.LiveSleep
			if feed.Clock.InIntermission {
				d = g.cfg.IntermissionSleep
			}
			if err := g.sleep(ctx, d); err != nil {
				return err
			}
		case feed.IsFinal():
			g.liveCycle(ctx, feed)
			return g.final(ctx, feed)
		default:
			g.log.Warn("unrecognized game state", logx.String("state", feed.GameState))
			if err := g.sleep(ctx, g.cfg.LiveSleep); err != nil {
				return err
			}
		}
	}
}

func (g *Game) checkBudget() error {
	if g.cfg.MaxLiveIterations > 0 && g.iterations >= g.cfg.MaxLiveIterations {
		return fmt.Errorf("%w: %d iterations", ErrLoopBudget, g.iterations)
	}
	if g.cfg.MaxLiveDuration > 0 && g.now().Sub(g.started) >= g.cfg.MaxLiveDuration {
		return fmt.Errorf("%w: ran %s", ErrLoopBudget, g.now().Sub(g.started).Round(time.Second))
	}
	return nil
}

// absorbIdentity fills names the schedule does not carry from the feed.
func (g *Game) absorbIdentity(feed *provider.Feed) {
	us, them := feed.AwayTeam, feed.HomeTeam
	if g.gctx.HomeAway == "home" {
		us, them = them, us
	}
	g.gctx.TeamID = us.ID
	if g.gctx.TeamName == "" {
		g.gctx.TeamName = teamFullName(us)
	}
	if g.gctx.OtherName == "" {
		g.gctx.OtherName = teamFullName(them)
	}
	if names := feed.RosterNames(); len(names) > 0 {
		g.gctx.Roster = names
	}
}

func teamFullName(t provider.FeedTeam) string {
	name := strings.TrimSpace(t.PlaceName.Default + " " + t.Name.Default)
	if name == "" {
		return t.Abbrev
	}
	return name
}

// liveCycle classifies every play in the feed (the registry de-dups),
// sweeps for removed goals, and persists the cache once.
func (g *Game) liveCycle(ctx context.Context, feed *provider.Feed) {
	for _, rec := range feed.Plays {
		g.reg.Classify(ctx, rec)
	}
	g.reg.CheckRemovedGoals(feed.Plays)
	if g.cache != nil {
		if err := g.cache.Save(); err != nil {
			g.log.Warn("cache save failed", logx.Err(err))
		}
	}
	g.met.IncLoopCycle()
}

func (g *Game) pregameSleep() time.Duration {
	start, err := time.Parse(time.RFC3339, g.sched.StartTimeUTC)
	if err != nil {
		return g.cfg.PregameSleepMax
	}
	until := start.Sub(g.now())
	if until <= time.Minute {
		return 30 * time.Second
	}
	if until > g.cfg.PregameSleepMax {
		return g.cfg.PregameSleepMax
	}
	return until
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func sdNotify(state string) {
	_, _ = daemon.SdNotify(false, state)
}

func rootRefs(cache *gamecache.Cache) map[string]social.PostRef {
	if cache == nil {
		return nil
	}
	out := map[string]social.PostRef{}
	for name, ref := range cache.PregameRootRefs() {
		out[name] = social.PostRef{Platform: ref.Platform, ID: ref.ID}
	}
	return out
}
