package events

import (
	"context"

	"puckbot/internal/provider"
	"puckbot/internal/social"
	logx "puckbot/pkg/logx"
)

type constructor func(provider.RawRecord, *Context) Event

// Registry owns the per-type event caches and the dispatch table. One
// registry lives per game.
type Registry struct {
	gc     *Context
	caches map[string]map[int64]Event
	build  map[string]constructor
}

const (
	tagGoal        = "goal"
	tagPenalty     = "penalty"
	tagFaceoff     = "faceoff"
	tagStoppage    = "stoppage"
	tagPeriodStart = "period-start"
	tagPeriodEnd   = "period-end"
	tagGameEnd     = "game-end"
	tagShootout    = "shootout"
	tagGeneric     = "generic"
)

func NewRegistry(gc *Context) *Registry {
	r := &Registry{
		gc:     gc,
		caches: map[string]map[int64]Event{},
		build: map[string]constructor{
			tagGoal:        func(rec provider.RawRecord, gc *Context) Event { return newGoalEvent(rec, gc) },
			tagPenalty:     func(rec provider.RawRecord, gc *Context) Event { return newPenaltyEvent(rec, gc) },
			tagFaceoff:     func(rec provider.RawRecord, gc *Context) Event { return newFaceoffEvent(rec, gc) },
			tagStoppage:    func(rec provider.RawRecord, gc *Context) Event { return newStoppageEvent(rec, gc) },
			tagPeriodStart: func(rec provider.RawRecord, gc *Context) Event { return newPeriodStartEvent(rec, gc) },
			tagPeriodEnd:   func(rec provider.RawRecord, gc *Context) Event { return newPeriodEndEvent(rec, gc) },
			tagGameEnd:     func(rec provider.RawRecord, gc *Context) Event { return newGameEndEvent(rec, gc) },
			tagShootout:    func(rec provider.RawRecord, gc *Context) Event { return newShootoutEvent(rec, gc) },
			tagGeneric:     func(rec provider.RawRecord, gc *Context) Event { return newGenericEvent(rec, gc) },
		},
	}
	for tag := range r.build {
		r.caches[tag] = map[int64]Event{}
	}
	return r
}

// tagFor maps a record to its dispatch tag. In non-playoff games any
// period-5 record except the game end is a shootout attempt.
func (r *Registry) tagFor(rec provider.RawRecord) string {
	tag := rec.TypeDescKey
	if r.gc.GameType != 3 && rec.PeriodDescriptor.Number == 5 && tag != tagGameEnd {
		return tagShootout
	}
	if _, ok := r.build[tag]; !ok {
		return tagGeneric
	}
	return tag
}

// Classify routes one record: cache hits run goal reconciliation, cache
// misses construct and parse the event. NotReady records are left
// uncached so the next poll retries them.
func (r *Registry) Classify(ctx context.Context, rec provider.RawRecord) {
	tag := r.tagFor(rec)
	cache := r.caches[tag]

	if ev, ok := cache[rec.EventID]; ok {
		if g, isGoal := ev.(*GoalEvent); isGoal {
			g.Reconcile(ctx, rec)
		}
		return
	}

	if r.isStale(rec, tag) {
		return
	}

	// Restart path: an id the durable cache knows but memory does not.
	alreadySeen := r.gc.Cache != nil && r.gc.Cache.HasSeen(eventIDString(rec.EventID))

	ev := r.build[tag](rec, r.gc)
	outcome := ev.Parse(ctx)

	switch {
	case outcome.IsNotReady():
		r.gc.Met.IncParseRetry(tag)
		r.gc.log().Debug("event not ready; will retry",
			logx.String("type", tag), logx.Int64("event_id", rec.EventID), logx.Int("sort_order", rec.SortOrder))
		return
	case outcome.IsNoMessage():
		cache[rec.EventID] = ev
	default:
		if g, isGoal := ev.(*GoalEvent); isGoal {
			r.postGoal(ctx, g, outcome, alreadySeen)
		} else if !alreadySeen {
			r.post(ctx, tag, rec, outcome.Text)
		}
		cache[rec.EventID] = ev
	}

	r.markSeen(rec)
	r.gc.Met.IncEventParsed(tag)
}

// isStale drops records below the ordering high-water mark: a replay
// after a restart or an upstream feed reset is re-sending history, and
// re-classifying it would re-post. Goals with a durable snapshot pass
// through so their lifecycle (scoring changes, highlight) still
// reconciles after a restart.
func (r *Registry) isStale(rec provider.RawRecord, tag string) bool {
	if r.gc.Cache == nil {
		return false
	}
	mark := r.gc.Cache.LastSortOrder()
	if rec.SortOrder >= mark {
		return false
	}
	if tag == tagGoal {
		if _, ok := r.gc.Cache.GoalSnapshot(eventIDString(rec.EventID)); ok {
			return false
		}
	}
	r.gc.log().Debug("record below ordering mark; dropped",
		logx.Int64("event_id", rec.EventID),
		logx.Int("sort_order", rec.SortOrder),
		logx.Int("mark", mark))
	return true
}

// postGoal gates on the durable posted flag so a restart never
// re-announces a goal, then runs the post-send bookkeeping.
func (r *Registry) postGoal(ctx context.Context, g *GoalEvent, outcome ParseOutcome, alreadySeen bool) {
	if r.gc.Cache != nil {
		if snap, ok := r.gc.Cache.GoalSnapshot(eventIDString(g.id)); ok {
			g.restoreFromSnapshot(snap)
		}
		if r.gc.Cache.WasGoalPosted(eventIDString(g.id)) {
			r.gc.log().Info("goal already posted; restored without re-sending", logx.Int64("event_id", g.id))
			return
		}
	} else if alreadySeen {
		return
	}

	if r.gc.Publisher != nil {
		r.gc.Publisher.PostAndSeed(ctx, social.Message{
			Text: r.gc.WithHashtags(outcome.Text), Kind: tagGoal, EventID: eventIDString(g.id),
		}, g.thread)
	}
	g.afterPost(ctx)
}

func (r *Registry) post(ctx context.Context, kind string, rec provider.RawRecord, text string) {
	if r.gc.Publisher == nil {
		return
	}
	r.gc.Publisher.Reply(ctx, social.Message{
		Text: r.gc.WithHashtags(text), Kind: kind, EventID: eventIDString(rec.EventID),
	}, nil, r.gc.Thread)
}

// markSeen records the id durably. The sort order only advances for
// records below the sanity ceiling; corrupted upstream orders otherwise
// wedge the fast gate for the rest of the game.
func (r *Registry) markSeen(rec provider.RawRecord) {
	if r.gc.Cache == nil {
		return
	}
	order := rec.SortOrder
	if r.gc.SortOrderCeiling > 0 && order >= r.gc.SortOrderCeiling {
		r.gc.log().Warn("sort order above sanity ceiling; not advancing gate",
			logx.Int64("event_id", rec.EventID), logx.Int("sort_order", order))
		order = 0
	}
	r.gc.Cache.MarkSeen(eventIDString(rec.EventID), order)
}

// CheckRemovedGoals compares cached goals against the full play list
// and purges any goal absent for the configured number of polls. The
// running score drops by the purged goal; durable posted state stays.
func (r *Registry) CheckRemovedGoals(plays []provider.RawRecord) {
	cache := r.caches[tagGoal]
	for id, ev := range cache {
		g := ev.(*GoalEvent)
		if !g.checkRemoved(plays) {
			continue
		}
		r.gc.log().Warn("goal removed from play feed; purging", logx.Int64("event_id", id))
		if g.preferred && r.gc.PreferredScore > 0 {
			r.gc.PreferredScore--
		} else if !g.preferred && r.gc.OtherScore > 0 {
			r.gc.OtherScore--
		}
		delete(cache, id)
	}
}

// CachedGoal exposes a goal event for the final flow (e.g. hat trick
// checks). Nil when unknown.
func (r *Registry) CachedGoal(eventID int64) *GoalEvent {
	if ev, ok := r.caches[tagGoal][eventID]; ok {
		return ev.(*GoalEvent)
	}
	return nil
}
