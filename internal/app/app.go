// Package app wires configuration, logging, storage, the provider client,
// the social publisher, and the per-game loop into one runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"puckbot/internal/config"
	"puckbot/internal/game"
	"puckbot/internal/gamecache"
	"puckbot/internal/httpx"
	"puckbot/internal/metrics"
	"puckbot/internal/milestone"
	"puckbot/internal/provider"
	"puckbot/internal/social"
	"puckbot/internal/social/bluesky"
	"puckbot/internal/social/telegram"
	"puckbot/internal/storage"
	logx "puckbot/pkg/logx"
)

// Options are the command-line knobs.
type Options struct {
	ConfigPath string
	// Date overrides the target game date (YYYY-MM-DD). When set, the app
	// runs that one game and exits instead of looping day over day.
	Date string
	// NoSocial logs post previews instead of calling platform adapters.
	NoSocial bool
	// DebugSocial swaps each adapter to its configured debug account.
	DebugSocial bool
}

type App struct {
	opts Options

	cfgm *config.ConfigManager
	loc  *time.Location

	logs *logx.Service
	log  logx.Logger
	met  *metrics.Metrics

	store storage.Store
	prov  *provider.Client
	pub   *social.Publisher
	miles *milestone.Engine
	debug *debugServer

	now func() time.Time
}

func New(opts Options) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return config.Validate(c) })

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	loc := time.UTC
	if tz := cfg.Script.Timezone; tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("script.timezone: %w", err)
		}
	}

	met := metrics.New()

	store, err := openStorage(cfg, log)
	if err != nil {
		return nil, err
	}

	hc, err := buildHTTPClient(cfg.Provider, log, met)
	if err != nil {
		return nil, err
	}
	prov := provider.NewClient(hc, cfg.Provider.BaseURL, cfg.Provider.StatsBaseURL,
		log.With(logx.String("comp", "provider")))

	clients, err := buildSocialClients(cfg, opts.DebugSocial, log)
	if err != nil {
		return nil, err
	}

	var quota *social.Quota
	var quotaPlatform string
	if q := cfg.Quota; q != nil {
		quota, err = social.NewQuota(q.Path, q.ContentLimit, q.DailyLimit,
			log.With(logx.String("comp", "quota")))
		if err != nil {
			return nil, fmt.Errorf("quota: %w", err)
		}
		quotaPlatform = q.Platform
	}

	pub := social.NewPublisher(social.Options{
		Clients:       clients,
		HeadlineOnly:  cfg.Socials.HeadlineOnly,
		NoSocial:      opts.NoSocial,
		Quota:         quota,
		QuotaPlatform: quotaPlatform,
		Store:         store,
		Metrics:       met,
		Log:           log.With(logx.String("comp", "publisher")),
	})

	var miles *milestone.Engine
	if cfg.Milestones.Enabled {
		miles = milestone.NewEngine(milestone.Config{
			Thresholds:   cfg.Milestones.Thresholds,
			WatchMargins: cfg.Milestones.WatchMargins,
		}, prov, store, log.With(logx.String("comp", "milestone")))
	}

	dbg, err := newDebugServer(cfg.Debug, met, log.With(logx.String("comp", "debug")))
	if err != nil {
		return nil, err
	}

	cfgm.SetMetrics(met)

	return &App{
		opts:  opts,
		cfgm:  cfgm,
		loc:   loc,
		logs:  logs,
		log:   log,
		met:   met,
		store: store,
		prov:  prov,
		pub:   pub,
		miles: miles,
		debug: dbg,
		now:   time.Now,
	}, nil
}

// Run follows the configured team: one game per day when scheduled,
// otherwise sleeping until the next schedule check.
func (a *App) Run(ctx context.Context) error {
	go func() { _ = a.cfgm.Watch(ctx) }()
	go a.applyReloads(ctx)

	if err := a.debug.Start(ctx); err != nil {
		return err
	}
	defer a.debug.Stop(context.Background())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Reads go through the manager so a concurrent reload is safe.
		cfg := a.cfgm.Get()

		date := a.opts.Date
		if date == "" {
			date = a.now().In(a.loc).Format("2006-01-02")
		}

		sched, err := a.prov.Schedule(ctx, cfg.Script.TeamAbbrev)
		if err != nil {
			return fmt.Errorf("schedule: %w", err)
		}

		target, ok := sched.GameOn(date)
		if !ok {
			if a.opts.Date != "" {
				a.log.Info("no game on requested date", logx.String("date", date))
				return nil
			}
			if next, found := sched.NextGameAfter(date); found {
				a.log.Info("no game today", logx.String("next_game", next.GameDate))
			} else {
				a.log.Info("no game today and none scheduled")
			}
			if err := sleepCtx(ctx, a.nextCheckWait(cfg)); err != nil {
				return err
			}
			continue
		}

		if err := a.runGame(ctx, cfg, sched, target); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("game %d: %w", target.ID, err)
		}
		if a.opts.Date != "" {
			return nil
		}
		if err := sleepCtx(ctx, a.nextCheckWait(cfg)); err != nil {
			return err
		}
	}
}

func (a *App) runGame(ctx context.Context, cfg *config.Config, sched *provider.Schedule, target provider.ScheduleGame) error {
	season := target.Season
	if season == 0 {
		season = sched.CurrentSeason
	}

	cache, err := gamecache.Load(cfg.Script.CacheDir, season, target.ID,
		cfg.Script.TeamAbbrev, a.log.With(logx.String("comp", "gamecache")))
	if err != nil {
		return err
	}

	gameCfg, err := a.gameConfig(cfg)
	if err != nil {
		return err
	}

	g := game.New(game.Options{
		Log:        a.log.With(logx.String("comp", "game")),
		Met:        a.met,
		Cfg:        gameCfg,
		Provider:   a.prov,
		Publisher:  a.pub,
		Cache:      cache,
		Milestones: a.miles,
		Sched:      target,
		Schedule:   sched,
		TeamAbbrev: cfg.Script.TeamAbbrev,
		TeamName:   cfg.Script.TeamName,
		Hashtag:    cfg.Script.Hashtag,
	})
	return g.Run(ctx)
}

func (a *App) gameConfig(cfg *config.Config) (game.Config, error) {
	s := cfg.Script
	live, err := config.ParseDurationOrDefault("script.live_sleep", s.LiveSleep, 38*time.Second)
	if err != nil {
		return game.Config{}, err
	}
	inter, err := config.ParseDurationOrDefault("script.intermission_sleep", s.IntermissionSleep, 3*time.Minute)
	if err != nil {
		return game.Config{}, err
	}
	pregame, err := config.ParseDurationOrDefault("script.pregame_sleep_max", s.PregameSleepMax, 30*time.Minute)
	if err != nil {
		return game.Config{}, err
	}
	maxLive, err := config.ParseDurationOrDefault("script.max_live_duration", s.MaxLiveDuration, 0)
	if err != nil {
		return game.Config{}, err
	}
	return game.Config{
		LiveSleep:         live,
		IntermissionSleep: inter,
		PregameSleepMax:   pregame,
		FinalRetries:      s.FinalRetries,
		GoalRemovalChecks: s.GoalRemovalChecks,
		SortOrderCeiling:  s.SortOrderCeiling,
		MaxLiveIterations: s.MaxLiveIterations,
		MaxLiveDuration:   maxLive,
		Timezone:          a.loc,
	}, nil
}

// nextCheckWait derives the pause until the next schedule check from the
// configured cron spec; 6 hours when unset or unparseable.
func (a *App) nextCheckWait(cfg *config.Config) time.Duration {
	const fallback = 6 * time.Hour
	spec := cfg.Script.ScheduleCheckCron
	if spec == "" {
		return fallback
	}
	s, err := cron.ParseStandard(spec)
	if err != nil {
		a.log.Warn("bad schedule_check_cron; using fallback interval",
			logx.String("spec", spec), logx.Err(err))
		return fallback
	}
	now := a.now().In(a.loc)
	wait := s.Next(now).Sub(now)
	if wait <= 0 {
		return fallback
	}
	return wait
}

// applyReloads pushes hot-reloadable pieces of a committed config change.
// Identity (team, cache dir, adapters) is fixed for the process lifetime;
// loop readers pick up tunables through the manager on their next pass.
func (a *App) applyReloads(ctx context.Context) {
	ch := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(ch)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			sections, attrs := config.SummarizeConfigChange(last, cfg)
			last = cfg
			a.log.Info("config reloaded",
				append(attrs, logx.String("sections", strings.Join(sections, ",")))...)
		}
	}
}

// Close releases process-wide resources. Safe after a failed Run.
func (a *App) Close() error {
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.logs != nil {
		if err := a.logs.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func openStorage(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	if cfg.Storage == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return store, nil
}

func buildHTTPClient(pc config.ProviderConfig, log logx.Logger, met *metrics.Metrics) (*httpx.Client, error) {
	timeout, err := config.ParseDurationOrDefault("provider.timeout", pc.Timeout, 0)
	if err != nil {
		return nil, err
	}
	base, err := config.ParseDurationOrDefault("provider.backoff_base", pc.BackoffBase, 0)
	if err != nil {
		return nil, err
	}
	maxB, err := config.ParseDurationOrDefault("provider.backoff_max", pc.BackoffMax, 0)
	if err != nil {
		return nil, err
	}
	cooldown, err := config.ParseDurationOrDefault("provider.breaker_cooldown", pc.BreakerCooldown, 0)
	if err != nil {
		return nil, err
	}
	return httpx.New(httpx.Config{
		Rates:           pc.Rates,
		DefaultRate:     pc.DefaultRate,
		MaxRetries:      pc.MaxRetries,
		BackoffBase:     base,
		BackoffMax:      maxB,
		BreakerTrip:     pc.BreakerTrip,
		BreakerCooldown: cooldown,
		Timeout:         timeout,
	}, log.With(logx.String("comp", "httpx")), met), nil
}

func buildSocialClients(cfg *config.Config, debugAccounts bool, log logx.Logger) ([]social.Client, error) {
	var clients []social.Client

	if tg := cfg.Socials.Telegram; tg != nil && tg.Enabled {
		chatID := tg.ChatID
		if debugAccounts && tg.DebugChatID != 0 {
			chatID = tg.DebugChatID
		}
		pollTimeout, err := config.ParseDurationOrDefault("socials.telegram.poll_timeout", tg.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		c, err := telegram.New(telegram.Config{
			Token:       tg.Token,
			ChatID:      chatID,
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		clients = append(clients, c)
	}

	if bs := cfg.Socials.Bluesky; bs != nil && bs.Enabled {
		handle, password := bs.Handle, bs.AppPassword
		if debugAccounts && bs.DebugHandle != "" {
			handle, password = bs.DebugHandle, bs.DebugAppPassword
		}
		c, err := bluesky.New(bluesky.Config{
			Host:        bs.Host,
			Handle:      handle,
			AppPassword: password,
		}, log.With(logx.String("comp", "bluesky")))
		if err != nil {
			return nil, fmt.Errorf("bluesky: %w", err)
		}
		clients = append(clients, c)
	}

	// With no platforms configured everything still lands somewhere visible.
	if len(clients) == 0 {
		clients = append(clients, social.NewConsole(log))
	}
	return clients, nil
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
