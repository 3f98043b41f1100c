// Package gamecache persists per-game posting state so a restarted process
// never re-posts an event it already handled.
package gamecache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	logx "puckbot/pkg/logx"
)

const schemaVersion = 1

// PostRef identifies a post on one platform; stored so reply threads can be
// resumed after a restart.
type PostRef struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
}

// GoalSnapshot is the durable view of one posted goal. Highlight fields are
// write-once: marking a goal posted again never clears them.
type GoalSnapshot struct {
	Posted        bool    `json:"posted"`
	TeamAbbrev    string  `json:"team_abbrev"`
	SortOrder     int     `json:"sort_order"`
	ScorerID      int64   `json:"scorer_id,omitempty"`
	AssistIDs     []int64 `json:"assist_ids,omitempty"`
	HighlightURL  string  `json:"highlight_url,omitempty"`
	HighlightSent bool    `json:"highlight_sent,omitempty"`
}

type pregamePosts struct {
	Sent     map[string]bool    `json:"sent,omitempty"`
	RootRefs map[string]PostRef `json:"root_refs,omitempty"`
}

type fileMeta struct {
	CreatedTS string `json:"created_ts"`
	UpdatedTS string `json:"updated_ts"`
}

type cacheFile struct {
	SchemaVersion     int                     `json:"schema_version"`
	GameID            int64                   `json:"game_id"`
	SeasonID          int64                   `json:"season_id"`
	TeamAbbrev        string                  `json:"team_abbrev"`
	ProcessedEventIDs []string                `json:"processed_event_ids"`
	LastSortOrder     int                     `json:"last_sort_order"`
	GoalSnapshots     map[string]GoalSnapshot `json:"goal_snapshots"`
	PregamePosts      pregamePosts            `json:"pregame_posts"`
	Meta              fileMeta                `json:"meta"`
}

// Cache is the in-memory working copy; Save writes it atomically.
// Safe for concurrent use, though the game loop is single-threaded.
type Cache struct {
	mu sync.Mutex

	log    logx.Logger
	path   string
	now    func() time.Time
	rename func(oldpath, newpath string) error

	gameID     int64
	seasonID   int64
	teamAbbrev string

	createdTS     string
	processed     map[string]struct{}
	lastSortOrder int
	goals         map[string]GoalSnapshot
	pregame       pregamePosts
}

// Load opens (or initializes) the cache for one game. A missing file starts
// clean; a corrupt or unrecognized file also starts clean, with a warning,
// because a stale cache is worse than a duplicate-post risk window.
func Load(root string, seasonID, gameID int64, teamAbbrev string, log logx.Logger) (*Cache, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	dir := filepath.Join(root, fmt.Sprintf("%d", seasonID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d-%s.json", gameID, teamAbbrev))

	c := &Cache{
		log:        log.With(logx.Int64("game_id", gameID)),
		path:       path,
		now:        time.Now,
		rename:     os.Rename,
		gameID:     gameID,
		seasonID:   seasonID,
		teamAbbrev: teamAbbrev,
		processed:  map[string]struct{}{},
		goals:      map[string]GoalSnapshot{},
	}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}

	var f cacheFile
	if err := json.Unmarshal(b, &f); err != nil {
		c.log.Warn("game cache unreadable; starting clean", logx.Err(err), logx.String("path", path))
		return c, nil
	}
	if f.SchemaVersion != schemaVersion || f.GameID != gameID {
		c.log.Warn("game cache mismatch; starting clean",
			logx.Int("schema", f.SchemaVersion), logx.Int64("cached_game", f.GameID))
		return c, nil
	}

	for _, id := range f.ProcessedEventIDs {
		c.processed[id] = struct{}{}
	}
	c.lastSortOrder = f.LastSortOrder
	if f.GoalSnapshots != nil {
		c.goals = f.GoalSnapshots
	}
	c.pregame = f.PregamePosts
	c.createdTS = f.Meta.CreatedTS
	c.log.Info("game cache loaded",
		logx.Int("processed", len(c.processed)),
		logx.Int("goals", len(c.goals)),
		logx.Int("last_sort_order", c.lastSortOrder))
	return c, nil
}

// Path returns the backing file path.
func (c *Cache) Path() string { return c.path }

// Save writes the cache atomically: marshal, write a temp file in the same
// directory, then rename over the target. Readers never observe a torn file.
func (c *Cache) Save() error {
	c.mu.Lock()
	f := c.snapshotLocked()
	path := c.path
	c.mu.Unlock()

	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache: %w", err)
	}
	if err := c.rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename cache: %w", err)
	}
	return nil
}

func (c *Cache) snapshotLocked() cacheFile {
	ids := make([]string, 0, len(c.processed))
	for id := range c.processed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nowTS := c.now().UTC().Format(time.RFC3339)
	if c.createdTS == "" {
		c.createdTS = nowTS
	}

	goals := make(map[string]GoalSnapshot, len(c.goals))
	for k, v := range c.goals {
		goals[k] = v
	}

	return cacheFile{
		SchemaVersion:     schemaVersion,
		GameID:            c.gameID,
		SeasonID:          c.seasonID,
		TeamAbbrev:        c.teamAbbrev,
		ProcessedEventIDs: ids,
		LastSortOrder:     c.lastSortOrder,
		GoalSnapshots:     goals,
		PregamePosts: pregamePosts{
			Sent:     copyBoolMap(c.pregame.Sent),
			RootRefs: copyRefMap(c.pregame.RootRefs),
		},
		Meta: fileMeta{CreatedTS: c.createdTS, UpdatedTS: nowTS},
	}
}

// HasSeen reports whether an event id was already processed.
func (c *Cache) HasSeen(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.processed[eventID]
	return ok
}

// MarkSeen records an event id and advances the sort-order high-water mark.
// The mark only moves forward.
func (c *Cache) MarkSeen(eventID string, sortOrder int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed[eventID] = struct{}{}
	if sortOrder > c.lastSortOrder {
		c.lastSortOrder = sortOrder
	}
}

// LastSortOrder returns the high-water mark.
func (c *Cache) LastSortOrder() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSortOrder
}

// WasGoalPosted reports whether the initial post for a goal went out.
func (c *Cache) WasGoalPosted(goalID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goals[goalID].Posted
}

// MarkGoalPosted records the durable posted flag for a goal and saves.
// Existing highlight fields survive.
func (c *Cache) MarkGoalPosted(goalID, teamAbbrev string, sortOrder int) error {
	c.mu.Lock()
	snap := c.goals[goalID]
	snap.Posted = true
	snap.TeamAbbrev = teamAbbrev
	snap.SortOrder = sortOrder
	c.goals[goalID] = snap
	c.mu.Unlock()
	return c.Save()
}

// GoalSnapshot returns the snapshot for a goal id.
func (c *Cache) GoalSnapshot(goalID string) (GoalSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.goals[goalID]
	return snap, ok
}

// UpdateGoalSnapshot applies mutate to the (possibly zero) snapshot for a
// goal, stores the result and saves.
func (c *Cache) UpdateGoalSnapshot(goalID string, mutate func(*GoalSnapshot)) error {
	c.mu.Lock()
	snap := c.goals[goalID]
	mutate(&snap)
	c.goals[goalID] = snap
	c.mu.Unlock()
	return c.Save()
}

// MarkPregameSent records one pregame thread piece as sent, optionally
// seeding the per-platform thread roots, and saves.
func (c *Cache) MarkPregameSent(kind string, refs []PostRef) error {
	c.mu.Lock()
	if c.pregame.Sent == nil {
		c.pregame.Sent = map[string]bool{}
	}
	c.pregame.Sent[kind] = true
	for _, r := range refs {
		if r.Platform == "" || r.ID == "" {
			continue
		}
		if c.pregame.RootRefs == nil {
			c.pregame.RootRefs = map[string]PostRef{}
		}
		if _, ok := c.pregame.RootRefs[r.Platform]; !ok {
			c.pregame.RootRefs[r.Platform] = r
		}
	}
	c.mu.Unlock()
	return c.Save()
}

// IsPregameSent reports whether a pregame piece already went out.
func (c *Cache) IsPregameSent(kind string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pregame.Sent[kind]
}

// PregameRootRefs returns the per-platform pregame thread roots.
func (c *Cache) PregameRootRefs() map[string]PostRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyRefMap(c.pregame.RootRefs)
}

// SetClock overrides the timestamp source. Test hook.
func (c *Cache) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

func copyBoolMap(m map[string]bool) map[string]bool {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyRefMap(m map[string]PostRef) map[string]PostRef {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]PostRef, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
