package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"puckbot/internal/gamecache"
	"puckbot/internal/provider"
	"puckbot/internal/social"
	logx "puckbot/pkg/logx"
)

type scriptedProvider struct {
	mu      sync.Mutex
	feeds   []*provider.Feed
	landing *provider.Landing
}

func (p *scriptedProvider) PlayByPlay(context.Context, int64) (*provider.Feed, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.feeds) == 0 {
		return nil, errors.New("no more feeds scripted")
	}
	feed := p.feeds[0]
	if len(p.feeds) > 1 {
		p.feeds = p.feeds[1:]
	}
	return feed, nil
}

func (p *scriptedProvider) Landing(context.Context, int64) (*provider.Landing, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.landing == nil {
		return &provider.Landing{}, nil
	}
	return p.landing, nil
}

type recClient struct {
	mu    sync.Mutex
	posts []string
}

func (c *recClient) Name() string { return "rec" }

func (c *recClient) Post(_ context.Context, p social.Post, _ *social.PostRef) (social.PostRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = append(c.posts, p.Text)
	return social.PostRef{Platform: "rec", ID: fmt.Sprintf("r%d", len(c.posts))}, nil
}

func (c *recClient) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.posts...)
}

var testSched = provider.ScheduleGame{
	ID:           2025020555,
	Season:       20252026,
	GameType:     2,
	GameDate:     "2026-01-15",
	StartTimeUTC: "2026-01-16T00:00:00Z",
	AwayTeam:     provider.ScheduleTeam{ID: 28, Abbrev: "SJS"},
	HomeTeam:     provider.ScheduleTeam{ID: 1, Abbrev: "NJD"},
}

func feedWith(state string, plays []provider.RawRecord) *provider.Feed {
	return &provider.Feed{
		ID:        testSched.ID,
		GameType:  2,
		GameState: state,
		AwayTeam: provider.FeedTeam{
			ID: 28, Abbrev: "SJS",
			PlaceName: provider.LocalizedName{Default: "San Jose"},
			Name:      provider.LocalizedName{Default: "Sharks"},
		},
		HomeTeam: provider.FeedTeam{
			ID: 1, Abbrev: "NJD",
			PlaceName: provider.LocalizedName{Default: "New Jersey"},
			Name:      provider.LocalizedName{Default: "Devils"},
		},
		Plays: plays,
		RosterSpots: []provider.RosterSpot{
			{TeamID: 1, PlayerID: 8478407, FirstName: provider.LocalizedName{Default: "Nico"}, LastName: provider.LocalizedName{Default: "Hischier"}, PositionCode: "C"},
			{TeamID: 1, PlayerID: 8477000, FirstName: provider.LocalizedName{Default: "Jake"}, LastName: provider.LocalizedName{Default: "Allen"}, PositionCode: "G"},
		},
	}
}

func newTestGame(t *testing.T, prov Provider) (*Game, *recClient) {
	t.Helper()
	sink := &recClient{}
	pub := social.NewPublisher(social.Options{Clients: []social.Client{sink}, Log: logx.Nop()})
	cache, err := gamecache.Load(t.TempDir(), testSched.Season, testSched.ID, "NJD", logx.Nop())
	if err != nil {
		t.Fatalf("gamecache.Load: %v", err)
	}
	g := New(Options{
		Log:        logx.Nop(),
		Cfg:        Config{FinalRetries: 1},
		Provider:   prov,
		Publisher:  pub,
		Cache:      cache,
		Sched:      testSched,
		TeamAbbrev: "NJD",
		Hashtag:    "#NJDevils",
	})
	g.sleep = func(context.Context, time.Duration) error { return nil }
	g.notify = func(string) {}
	return g, sink
}

func TestRunPregameThroughFinal(t *testing.T) {
	goal := provider.RawRecord{
		EventID:          101,
		PeriodDescriptor: provider.PeriodDescriptor{Number: 1, PeriodType: "REG"},
		TimeInPeriod:     "05:23",
		TimeRemaining:    "14:37",
		TypeDescKey:      "goal",
		SortOrder:        50,
		Details: provider.RecordDetails{
			EventOwnerTeamID: 1, ScoringPlayerID: 8478407,
			ShotType: "Wrist", GoalieInNetID: 99, HomeScore: 1,
		},
	}
	gameEnd := provider.RawRecord{
		EventID:          102,
		PeriodDescriptor: provider.PeriodDescriptor{Number: 3, PeriodType: "REG"},
		TypeDescKey:      "game-end",
		SortOrder:        900,
	}
	prov := &scriptedProvider{
		feeds: []*provider.Feed{
			feedWith("PRE", nil),
			feedWith("LIVE", []provider.RawRecord{goal}),
			feedWith("FINAL", []provider.RawRecord{goal, gameEnd}),
		},
		landing: &provider.Landing{Summary: provider.LandingSummary{
			Scoring: []provider.LandingPeriod{{
				PeriodDescriptor: provider.PeriodDescriptor{Number: 1, PeriodType: "REG"},
				Goals: []provider.LandingGoal{{
					TimeInPeriod: "05:23", PlayerID: 8478407, GoalsToDate: 5, Strength: "ev",
				}},
			}},
			ThreeStars: []provider.ThreeStar{
				{Star: 1, Name: "N. Hischier", TeamAbbrev: "NJD"},
				{Star: 2, Name: "J. Allen", TeamAbbrev: "NJD"},
				{Star: 3, Name: "T. Hertl", TeamAbbrev: "SJS"},
			},
		}},
	}

	g, sink := newTestGame(t, prov)
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var gameDay, goalPost, horn, stars bool
	for _, text := range sink.texts() {
		switch {
		case strings.Contains(text, "game day"):
			gameDay = true
		case strings.Contains(text, "GOAL!"):
			goalPost = true
		case strings.Contains(text, "final horn"):
			horn = true
		case strings.Contains(text, "three stars"):
			stars = true
		}
	}
	if !gameDay || !goalPost || !horn || !stars {
		t.Fatalf("missing posts: gameDay=%v goal=%v horn=%v stars=%v\nall: %q",
			gameDay, goalPost, horn, stars, sink.texts())
	}
	if !g.cache.WasGoalPosted("101") {
		t.Fatal("goal not persisted as posted")
	}
	if !g.cache.IsPregameSent(pieceThreeStars) {
		t.Fatal("three stars not flagged as sent")
	}
}

func TestPregameResumesWithoutReposting(t *testing.T) {
	prov := &scriptedProvider{feeds: []*provider.Feed{feedWith("PRE", nil)}}
	g, sink := newTestGame(t, prov)

	g.absorbIdentity(prov.feeds[0])
	g.pregame(context.Background(), prov.feeds[0])
	first := len(sink.texts())
	if first == 0 {
		t.Fatal("pregame posted nothing")
	}

	// New Game over the same cache: everything already flagged sent.
	resumed := New(Options{
		Log:        logx.Nop(),
		Provider:   prov,
		Publisher:  social.NewPublisher(social.Options{Clients: []social.Client{sink}, Log: logx.Nop()}),
		Cache:      g.cache,
		Sched:      testSched,
		TeamAbbrev: "NJD",
	})
	resumed.absorbIdentity(prov.feeds[0])
	resumed.pregame(context.Background(), prov.feeds[0])
	if got := len(sink.texts()); got != first {
		t.Fatalf("posts = %d after resume, want %d", got, first)
	}

	// The recovered thread root matches the original game-day post.
	root, ok := resumed.pregameThread.Root("rec")
	if !ok || root.ID != "r1" {
		t.Fatalf("resumed root = %+v, %v", root, ok)
	}
}

func TestLoopBudgetStopsRunaway(t *testing.T) {
	prov := &scriptedProvider{feeds: []*provider.Feed{feedWith("LIVE", nil)}}
	g, _ := newTestGame(t, prov)
	g.cfg.MaxLiveIterations = 3

	err := g.Run(context.Background())
	if !errors.Is(err, ErrLoopBudget) {
		t.Fatalf("err = %v, want ErrLoopBudget", err)
	}
	if g.iterations != 3 {
		t.Fatalf("iterations = %d", g.iterations)
	}
}

func TestSeasonSeriesText(t *testing.T) {
	prov := &scriptedProvider{feeds: []*provider.Feed{feedWith("PRE", nil)}}
	g, _ := newTestGame(t, prov)
	g.absorbIdentity(prov.feeds[0])

	meeting := func(id int64, usScore, themScore int, state string) provider.ScheduleGame {
		return provider.ScheduleGame{
			ID: id, GameState: state,
			HomeTeam: provider.ScheduleTeam{ID: 1, Abbrev: "NJD", Score: usScore},
			AwayTeam: provider.ScheduleTeam{ID: 28, Abbrev: "SJS", Score: themScore},
		}
	}

	g.schedule = &provider.Schedule{Games: []provider.ScheduleGame{testSched}}
	if got := g.seasonSeriesText(); !strings.Contains(got, "first meeting") {
		t.Fatalf("text = %q", got)
	}

	g.schedule = &provider.Schedule{Games: []provider.ScheduleGame{
		meeting(1, 4, 2, "OFF"),
		meeting(2, 3, 1, "FINAL"),
		meeting(3, 0, 5, "OFF"),
		meeting(4, 9, 0, "FUT"), // not played yet, ignored
		testSched,
	}}
	if got := g.seasonSeriesText(); !strings.Contains(got, "lead this season's series 2-1") {
		t.Fatalf("text = %q", got)
	}
}

func TestDecisionGoalie(t *testing.T) {
	prov := &scriptedProvider{feeds: []*provider.Feed{feedWith("FINAL", nil)}}
	g, _ := newTestGame(t, prov)
	feed := feedWith("FINAL", []provider.RawRecord{
		{TypeDescKey: "goal", Details: provider.RecordDetails{EventOwnerTeamID: 28, GoalieInNetID: 8477000}},
		{TypeDescKey: "goal", Details: provider.RecordDetails{EventOwnerTeamID: 1, GoalieInNetID: 555}},
	})
	g.absorbIdentity(feed)

	if got := g.decisionGoalie(feed); got != 8477000 {
		t.Fatalf("goalie = %d, want the one in net for goals against", got)
	}

	shutout := feedWith("FINAL", nil)
	g.absorbIdentity(shutout)
	if got := g.decisionGoalie(shutout); got != 8477000 {
		t.Fatalf("shutout goalie = %d, want rostered goalie", got)
	}
}

func TestPregameSleepBounds(t *testing.T) {
	prov := &scriptedProvider{feeds: []*provider.Feed{feedWith("PRE", nil)}}
	g, _ := newTestGame(t, prov)
	start, _ := time.Parse(time.RFC3339, testSched.StartTimeUTC)

	g.now = func() time.Time { return start.Add(-12 * time.Hour) }
	if d := g.pregameSleep(); d != g.cfg.PregameSleepMax {
		t.Fatalf("far out: %v, want max %v", d, g.cfg.PregameSleepMax)
	}

	g.now = func() time.Time { return start.Add(-10 * time.Minute) }
	if d := g.pregameSleep(); d != 10*time.Minute {
		t.Fatalf("near start: %v", d)
	}

	g.now = func() time.Time { return start.Add(5 * time.Minute) }
	if d := g.pregameSleep(); d != 30*time.Second {
		t.Fatalf("past start: %v", d)
	}
}
