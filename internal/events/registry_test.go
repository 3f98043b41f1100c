package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"puckbot/internal/gamecache"
	"puckbot/internal/provider"
	"puckbot/internal/social"
	logx "puckbot/pkg/logx"
)

type capPost struct {
	text    string
	replyTo *social.PostRef
}

type capClient struct {
	mu    sync.Mutex
	posts []capPost
}

func (c *capClient) Name() string { return "cap" }

func (c *capClient) Post(_ context.Context, p social.Post, replyTo *social.PostRef) (social.PostRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ref *social.PostRef
	if replyTo != nil {
		cp := *replyTo
		ref = &cp
	}
	c.posts = append(c.posts, capPost{text: p.Text, replyTo: ref})
	return social.PostRef{Platform: "cap", ID: fmt.Sprintf("p%d", len(c.posts))}, nil
}

func (c *capClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.posts)
}

func (c *capClient) last() capPost {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.posts) == 0 {
		return capPost{}
	}
	return c.posts[len(c.posts)-1]
}

func newTestContext(t *testing.T, withCache bool) (*Context, *capClient) {
	t.Helper()
	sink := &capClient{}
	pub := social.NewPublisher(social.Options{Clients: []social.Client{sink}, Log: logx.Nop()})
	gc := &Context{
		Log:         logx.Nop(),
		TeamID:      1,
		TeamName:    "New Jersey Devils",
		TeamAbbrev:  "NJD",
		TeamHashtag: "#NJDevils",
		GameHashtag: "#NJDvsSJS",
		HomeAway:    "home",
		OtherName:   "San Jose Sharks",
		GameType:    2,
		Roster: map[int64]string{
			8478407: "Nico Hischier",
			8476878: "Dougie Hamilton",
			8479318: "Jack Hughes",
			8477933: "Tomas Hertl",
			8480000: "Sharks Goalie",
		},
		Publisher:        pub,
		Thread:           social.NewThread(),
		SortOrderCeiling: 100000,
	}
	gc.FetchLanding = landingFetcher(provider.Landing{})
	if withCache {
		cache, err := gamecache.Load(t.TempDir(), 20252026, 2025020555, "NJD", logx.Nop())
		if err != nil {
			t.Fatalf("gamecache.Load: %v", err)
		}
		gc.Cache = cache
	}
	return gc, sink
}

func landingFetcher(l provider.Landing) func(context.Context) (provider.Landing, error) {
	return func(context.Context) (provider.Landing, error) { return l, nil }
}

func landingWithGoal(g provider.LandingGoal) provider.Landing {
	return provider.Landing{Summary: provider.LandingSummary{Scoring: []provider.LandingPeriod{{
		PeriodDescriptor: provider.PeriodDescriptor{Number: 1, PeriodType: "REG"},
		Goals:            []provider.LandingGoal{g},
	}}}}
}

func goalRecord(id int64, order int) provider.RawRecord {
	return provider.RawRecord{
		EventID:          id,
		PeriodDescriptor: provider.PeriodDescriptor{Number: 1, PeriodType: "REG"},
		TimeInPeriod:     "05:23",
		TimeRemaining:    "14:37",
		TypeDescKey:      "goal",
		SortOrder:        order,
		Details: provider.RecordDetails{
			EventOwnerTeamID: 1,
			ScoringPlayerID:  8478407,
			Assist1PlayerID:  8476878,
			GoalieInNetID:    8480000,
			ShotType:         "Wrist",
			AwayScore:        0,
			HomeScore:        1,
		},
	}
}

func landingGoalFor(rec provider.RawRecord) provider.LandingGoal {
	return provider.LandingGoal{
		TimeInPeriod: rec.TimeInPeriod,
		PlayerID:     rec.Details.ScoringPlayerID,
		GoalsToDate:  5,
		Strength:     "ev",
		Assists:      []provider.LandingAssist{{PlayerID: 8476878, AssistsToDate: 10}},
	}
}

func TestGoalPostsFullMessage(t *testing.T) {
	gc, sink := newTestContext(t, true)
	rec := goalRecord(101, 50)
	gc.FetchLanding = landingFetcher(landingWithGoal(landingGoalFor(rec)))
	r := NewRegistry(gc)

	r.Classify(context.Background(), rec)

	if sink.count() != 1 {
		t.Fatalf("posts = %d, want 1", sink.count())
	}
	msg := sink.last().text
	for _, want := range []string{
		"New Jersey Devils GOAL! 🚨",
		"Nico Hischier (5) scores on a wrist shot with 14:37 remaining in the 1st period.",
		"🍎 Dougie Hamilton (10)",
		"New Jersey Devils: 1\nSan Jose Sharks: 0",
		"#NJDevils | #NJDvsSJS",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
	if !gc.Cache.WasGoalPosted("101") {
		t.Fatal("posted flag not persisted")
	}
	if gc.PreferredScore != 1 || gc.OtherScore != 0 {
		t.Fatalf("score = %d-%d", gc.PreferredScore, gc.OtherScore)
	}
}

func TestGoalNotReadyIsRetriedNextPoll(t *testing.T) {
	gc, sink := newTestContext(t, true)
	rec := goalRecord(102, 50)
	gc.FetchLanding = landingFetcher(landingWithGoal(landingGoalFor(rec)))
	r := NewRegistry(gc)
	ctx := context.Background()

	// Shot type missing: data incomplete, nothing posted, id not recorded.
	incomplete := rec
	incomplete.Details.ShotType = ""
	r.Classify(ctx, incomplete)
	if sink.count() != 0 {
		t.Fatal("incomplete record must not post")
	}
	if gc.Cache.HasSeen("102") {
		t.Fatal("incomplete record must not be marked seen")
	}

	// Next poll delivers the full record.
	r.Classify(ctx, rec)
	if sink.count() != 1 {
		t.Fatalf("posts = %d, want 1 after retry", sink.count())
	}
	if !gc.Cache.HasSeen("102") {
		t.Fatal("record must be marked seen after success")
	}
}

func TestGoalMissingFromLandingIsNotReady(t *testing.T) {
	gc, sink := newTestContext(t, true)
	r := NewRegistry(gc) // landing has no scoring entries

	r.Classify(context.Background(), goalRecord(103, 50))
	if sink.count() != 0 {
		t.Fatal("goal without a landing entry must wait")
	}
}

func TestDuplicateRecordIsNotReposted(t *testing.T) {
	gc, sink := newTestContext(t, true)
	rec := goalRecord(104, 50)
	gc.FetchLanding = landingFetcher(landingWithGoal(landingGoalFor(rec)))
	r := NewRegistry(gc)
	ctx := context.Background()

	r.Classify(ctx, rec)
	r.Classify(ctx, rec)
	if sink.count() != 1 {
		t.Fatalf("posts = %d, want 1", sink.count())
	}
}

func TestRestartDoesNotRepostGoal(t *testing.T) {
	dir := t.TempDir()
	rec := goalRecord(105, 50)

	gc, sink := newTestContext(t, false)
	cache, err := gamecache.Load(dir, 20252026, 2025020555, "NJD", logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	gc.Cache = cache
	gc.FetchLanding = landingFetcher(landingWithGoal(landingGoalFor(rec)))
	r := NewRegistry(gc)
	r.Classify(context.Background(), rec)
	if sink.count() != 1 {
		t.Fatalf("posts = %d", sink.count())
	}

	// Fresh process: new registry, reloaded cache, same record.
	gc2, sink2 := newTestContext(t, false)
	cache2, err := gamecache.Load(dir, 20252026, 2025020555, "NJD", logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	gc2.Cache = cache2
	gc2.FetchLanding = gc.FetchLanding
	r2 := NewRegistry(gc2)
	r2.Classify(context.Background(), rec)
	if sink2.count() != 0 {
		t.Fatalf("posts after restart = %d, want 0", sink2.count())
	}
}

func TestRecordBelowOrderingMarkIsDropped(t *testing.T) {
	gc, sink := newTestContext(t, true)
	rec := goalRecord(110, 50)
	gc.FetchLanding = landingFetcher(landingWithGoal(landingGoalFor(rec)))
	r := NewRegistry(gc)

	// A feed reset replays history from below the high-water mark.
	gc.Cache.MarkSeen("1", 900)
	r.Classify(context.Background(), rec)

	if sink.count() != 0 {
		t.Fatalf("posts = %d, want 0 for a record below the last accepted key", sink.count())
	}
	if gc.Cache.HasSeen("110") {
		t.Fatal("dropped record must not be marked seen")
	}
	if got := gc.Cache.LastSortOrder(); got != 900 {
		t.Fatalf("last sort order = %d, want 900 untouched", got)
	}
	if gc.PreferredScore != 0 {
		t.Fatalf("score = %d, dropped record must have no side effects", gc.PreferredScore)
	}
}

func TestPostedGoalBelowMarkStillReconciles(t *testing.T) {
	gc, sink := newTestContext(t, true)
	rec := goalRecord(111, 50)
	gc.FetchLanding = landingFetcher(landingWithGoal(landingGoalFor(rec)))

	// State left by the previous process: goal posted, later events
	// advanced the mark past it.
	if err := gc.Cache.MarkGoalPosted("111", "NJD", 50); err != nil {
		t.Fatal(err)
	}
	gc.Cache.MarkSeen("111", 50)
	gc.Cache.MarkSeen("112", 900)

	r := NewRegistry(gc)
	ctx := context.Background()

	r.Classify(ctx, rec)
	if sink.count() != 0 {
		t.Fatalf("posts = %d, restored goal must not be re-announced", sink.count())
	}

	// The highlight lands after the restart and must still go out.
	withClip := rec
	withClip.Details.HighlightClipURL = "https://nhl.com/video/c-777"
	r.Classify(ctx, withClip)
	if sink.count() != 1 {
		t.Fatalf("posts = %d, want highlight reply", sink.count())
	}
	if !strings.Contains(sink.last().text, "https://www.nhl.com/video/c-777") {
		t.Fatalf("highlight = %q", sink.last().text)
	}
}

func TestScoringChangeRepliesUnderGoal(t *testing.T) {
	gc, sink := newTestContext(t, true)
	rec := goalRecord(106, 50)
	gc.FetchLanding = landingFetcher(landingWithGoal(landingGoalFor(rec)))
	r := NewRegistry(gc)
	ctx := context.Background()

	r.Classify(ctx, rec)
	goalRef := sink.last()

	// Second assist appears on a later poll.
	changed := rec
	changed.Details.Assist2PlayerID = 8479318
	lg := landingGoalFor(rec)
	lg.Assists = append(lg.Assists, provider.LandingAssist{PlayerID: 8479318, AssistsToDate: 15})
	gc.FetchLanding = landingFetcher(landingWithGoal(lg))

	r.Classify(ctx, changed)
	if sink.count() != 2 {
		t.Fatalf("posts = %d, want goal + change reply", sink.count())
	}
	reply := sink.last()
	if !strings.Contains(reply.text, "The assists on this goal have changed.") {
		t.Fatalf("reply = %q", reply.text)
	}
	if !strings.Contains(reply.text, "Jack Hughes (15)") {
		t.Fatalf("reply = %q", reply.text)
	}
	if reply.replyTo == nil || !strings.Contains(goalRef.text, "GOAL") {
		t.Fatal("change must reply under the goal post")
	}

	// Same record again: no further replies.
	r.Classify(ctx, changed)
	if sink.count() != 2 {
		t.Fatalf("posts = %d, change reply must not repeat", sink.count())
	}
}

func TestHighlightRepliedOnceWithNormalizedURL(t *testing.T) {
	gc, sink := newTestContext(t, true)
	rec := goalRecord(107, 50)
	gc.FetchLanding = landingFetcher(landingWithGoal(landingGoalFor(rec)))
	r := NewRegistry(gc)
	ctx := context.Background()

	r.Classify(ctx, rec)

	// Placeholder URL: no highlight yet.
	placeholder := rec
	placeholder.Details.HighlightClipURL = "https://www.nhl.com/video/"
	r.Classify(ctx, placeholder)
	if sink.count() != 1 {
		t.Fatal("placeholder URL must be ignored")
	}

	withClip := rec
	withClip.Details.HighlightClipURL = "https://nhl.com/video/c-12345"
	r.Classify(ctx, withClip)
	if sink.count() != 2 {
		t.Fatalf("posts = %d, want highlight reply", sink.count())
	}
	if !strings.Contains(sink.last().text, "https://www.nhl.com/video/c-12345") {
		t.Fatalf("highlight = %q, want canonical host", sink.last().text)
	}

	r.Classify(ctx, withClip)
	if sink.count() != 2 {
		t.Fatal("highlight must be sent once")
	}

	snap, ok := gc.Cache.GoalSnapshot("107")
	if !ok || !snap.HighlightSent {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestGoalRemovalPurgesAfterThreshold(t *testing.T) {
	gc, _ := newTestContext(t, true)
	gc.RemovalThreshold = 3
	rec := goalRecord(108, 50)
	gc.FetchLanding = landingFetcher(landingWithGoal(landingGoalFor(rec)))
	r := NewRegistry(gc)

	r.Classify(context.Background(), rec)
	if gc.PreferredScore != 1 {
		t.Fatalf("score = %d", gc.PreferredScore)
	}

	// Missing twice, then reappears: counter resets.
	r.CheckRemovedGoals(nil)
	r.CheckRemovedGoals(nil)
	r.CheckRemovedGoals([]provider.RawRecord{rec})
	if r.CachedGoal(108) == nil {
		t.Fatal("goal purged despite reappearing")
	}

	// Missing for the full threshold: purged, score rolled back.
	r.CheckRemovedGoals(nil)
	r.CheckRemovedGoals(nil)
	r.CheckRemovedGoals(nil)
	if r.CachedGoal(108) != nil {
		t.Fatal("goal not purged at threshold")
	}
	if gc.PreferredScore != 0 {
		t.Fatalf("score = %d, want rollback", gc.PreferredScore)
	}
	if !gc.Cache.WasGoalPosted("108") {
		t.Fatal("durable posted flag must survive the purge")
	}
}

func TestShootoutReclassifiesPeriodFive(t *testing.T) {
	gc, sink := newTestContext(t, true)
	r := NewRegistry(gc)

	rec := provider.RawRecord{
		EventID:          200,
		PeriodDescriptor: provider.PeriodDescriptor{Number: 5, PeriodType: "SO"},
		TypeDescKey:      "goal",
		SortOrder:        900,
		Details:          provider.RecordDetails{ScoringPlayerID: 8478407},
	}
	r.Classify(context.Background(), rec)

	msg := sink.last().text
	if !strings.Contains(msg, "Shootout GOAL! Nico Hischier") {
		t.Fatalf("message = %q, want shootout wording", msg)
	}
	if strings.Contains(msg, "remaining in") {
		t.Fatalf("message = %q, regular goal wording leaked", msg)
	}
}

func TestPlayoffPeriodFiveIsNotShootout(t *testing.T) {
	gc, _ := newTestContext(t, true)
	gc.GameType = 3
	r := NewRegistry(gc)

	rec := provider.RawRecord{
		EventID:          201,
		PeriodDescriptor: provider.PeriodDescriptor{Number: 5, PeriodType: "OT"},
		TypeDescKey:      "faceoff",
		TimeInPeriod:     "07:10",
	}
	if tag := r.tagFor(rec); tag != tagFaceoff {
		t.Fatalf("tag = %q, want faceoff in playoffs", tag)
	}
}

func TestSortOrderCeilingBlocksGateAdvance(t *testing.T) {
	gc, _ := newTestContext(t, true)
	gc.SortOrderCeiling = 1000
	r := NewRegistry(gc)
	ctx := context.Background()

	r.Classify(ctx, provider.RawRecord{
		EventID: 300, TypeDescKey: "hit", SortOrder: 120,
		PeriodDescriptor: provider.PeriodDescriptor{Number: 1},
	})
	if got := gc.Cache.LastSortOrder(); got != 120 {
		t.Fatalf("last sort order = %d, want 120", got)
	}

	r.Classify(ctx, provider.RawRecord{
		EventID: 301, TypeDescKey: "hit", SortOrder: 5000,
		PeriodDescriptor: provider.PeriodDescriptor{Number: 1},
	})
	if got := gc.Cache.LastSortOrder(); got != 120 {
		t.Fatalf("last sort order = %d, ceiling must block advance", got)
	}
	if !gc.Cache.HasSeen("301") {
		t.Fatal("record above ceiling is still deduplicated")
	}
}

func TestOpeningFaceoffOnly(t *testing.T) {
	gc, sink := newTestContext(t, true)
	r := NewRegistry(gc)
	ctx := context.Background()

	r.Classify(ctx, provider.RawRecord{
		EventID:          400,
		TypeDescKey:      "faceoff",
		TimeInPeriod:     "00:00",
		PeriodDescriptor: provider.PeriodDescriptor{Number: 2, PeriodType: "REG"},
		Details:          provider.RecordDetails{WinningPlayerID: 8478407, LosingPlayerID: 8477933},
	})
	if sink.count() != 1 || !strings.Contains(sink.last().text, "wins the opening faceoff of the 2nd period") {
		t.Fatalf("posts=%d last=%q", sink.count(), sink.last().text)
	}

	r.Classify(ctx, provider.RawRecord{
		EventID:          401,
		TypeDescKey:      "faceoff",
		TimeInPeriod:     "11:32",
		PeriodDescriptor: provider.PeriodDescriptor{Number: 2, PeriodType: "REG"},
		Details:          provider.RecordDetails{WinningPlayerID: 8478407, LosingPlayerID: 8477933},
	})
	if sink.count() != 1 {
		t.Fatal("mid-period faceoff must be silent")
	}
	if !gc.Cache.HasSeen("401") {
		t.Fatal("silent events are still cached")
	}
}

func TestPeriodEndIncludesLeadTrail(t *testing.T) {
	gc, sink := newTestContext(t, true)
	gc.PreferredScore, gc.OtherScore = 2, 1
	r := NewRegistry(gc)

	r.Classify(context.Background(), provider.RawRecord{
		EventID:          500,
		TypeDescKey:      "period-end",
		PeriodDescriptor: provider.PeriodDescriptor{Number: 1, PeriodType: "REG"},
	})
	msg := sink.last().text
	if !strings.Contains(msg, "The 1st period has ended.") || !strings.Contains(msg, "New Jersey Devils lead") {
		t.Fatalf("message = %q", msg)
	}
	if !strings.Contains(msg, "New Jersey Devils: 2\nSan Jose Sharks: 1") {
		t.Fatalf("message = %q", msg)
	}
}

func TestPenaltyMessages(t *testing.T) {
	gc, sink := newTestContext(t, true)
	r := NewRegistry(gc)
	ctx := context.Background()

	r.Classify(ctx, provider.RawRecord{
		EventID: 600, TypeDescKey: "penalty",
		PeriodDescriptor: provider.PeriodDescriptor{Number: 1},
		Details: provider.RecordDetails{
			EventOwnerTeamID: 28, DescKey: "tripping", Duration: 2,
			CommittedByPlayerID: 8477933, DrawnByPlayerID: 8478407,
		},
	})
	if !strings.Contains(sink.last().text, "Tomas Hertl is called for tripping (2 minutes).") {
		t.Fatalf("penalty = %q", sink.last().text)
	}
	if !strings.Contains(sink.last().text, "Penalty drawn by: Nico Hischier.") {
		t.Fatalf("penalty = %q", sink.last().text)
	}

	r.Classify(ctx, provider.RawRecord{
		EventID: 601, TypeDescKey: "penalty",
		PeriodDescriptor: provider.PeriodDescriptor{Number: 1},
		Details: provider.RecordDetails{
			EventOwnerTeamID: 1, DescKey: "bench", Duration: 2, ServedByPlayerID: 8479318,
		},
	})
	if !strings.Contains(sink.last().text, "bench minor (2 minutes)") ||
		!strings.Contains(sink.last().text, "served by Jack Hughes") {
		t.Fatalf("bench penalty = %q", sink.last().text)
	}

	r.Classify(ctx, provider.RawRecord{
		EventID: 602, TypeDescKey: "penalty",
		PeriodDescriptor: provider.PeriodDescriptor{Number: 3},
		Details: provider.RecordDetails{
			EventOwnerTeamID: 28, DescKey: "ps-hooking", DrawnByPlayerID: 8478407,
		},
	})
	if !strings.Contains(sink.last().text, "PENALTY SHOT! Nico Hischier is awarded a penalty shot for hooking.") {
		t.Fatalf("penalty shot = %q", sink.last().text)
	}
}

func TestStoppagePostsSelectedReasonsOnly(t *testing.T) {
	gc, sink := newTestContext(t, true)
	r := NewRegistry(gc)
	ctx := context.Background()

	r.Classify(ctx, provider.RawRecord{
		EventID: 700, TypeDescKey: "stoppage", TimeRemaining: "10:00",
		PeriodDescriptor: provider.PeriodDescriptor{Number: 2, PeriodType: "REG"},
		Details:          provider.RecordDetails{SecondaryReason: "tv-timeout"},
	})
	if !strings.Contains(sink.last().text, "TV timeout") {
		t.Fatalf("stoppage = %q", sink.last().text)
	}

	r.Classify(ctx, provider.RawRecord{
		EventID: 701, TypeDescKey: "stoppage",
		PeriodDescriptor: provider.PeriodDescriptor{Number: 2},
		Details:          provider.RecordDetails{Reason: "icing"},
	})
	if sink.count() != 1 {
		t.Fatal("icing must be silent")
	}
}

func TestNormalizeHighlightURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "", false},
		{"https://www.nhl.com/video/", "", false},
		{"https://nhl.com/video/c-12345", "https://www.nhl.com/video/c-12345", true},
		{"https://www.nhl.com/video/c-9", "https://www.nhl.com/video/c-9", true},
		{"not a url", "", false},
	}
	for _, tc := range cases {
		got, ok := normalizeHighlightURL(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("normalizeHighlightURL(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
