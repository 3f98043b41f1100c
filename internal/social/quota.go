package social

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "puckbot/pkg/logx"
)

// quotaState is the on-disk quota file. Day is a UTC calendar day; the
// count resets when the stored day no longer matches.
type quotaState struct {
	Day         string `json:"day"`
	Count       int    `json:"count"`
	WarningSent bool   `json:"warning_sent"`
}

// Quota enforces a per-account daily posting budget for platforms with a
// hard API cap. Two thresholds: the content limit stops regular updates
// early, leaving headroom under the hard daily limit for the one-time
// warning post.
type Quota struct {
	mu sync.Mutex

	log          logx.Logger
	path         string
	contentLimit int
	dailyLimit   int
	now          func() time.Time

	state quotaState
}

const (
	defaultContentLimit = 15
	defaultDailyLimit   = 17
)

func NewQuota(path string, contentLimit, dailyLimit int, log logx.Logger) (*Quota, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("quota state path is required")
	}
	if contentLimit <= 0 {
		contentLimit = defaultContentLimit
	}
	if dailyLimit <= 0 {
		dailyLimit = defaultDailyLimit
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	q := &Quota{
		log:          log,
		path:         path,
		contentLimit: contentLimit,
		dailyLimit:   dailyLimit,
		now:          time.Now,
	}
	q.load()
	return q, nil
}

func (q *Quota) load() {
	b, err := os.ReadFile(q.path)
	if err != nil {
		q.state = quotaState{Day: q.today()}
		return
	}
	var st quotaState
	if err := json.Unmarshal(b, &st); err != nil || st.Day == "" {
		q.log.Warn("quota state unreadable; starting fresh", logx.String("path", q.path), logx.Err(err))
		q.state = quotaState{Day: q.today()}
		return
	}
	q.state = st
}

func (q *Quota) save() {
	b, err := json.MarshalIndent(q.state, "", "  ")
	if err != nil {
		return
	}
	dir := filepath.Dir(q.path)
	_ = os.MkdirAll(dir, 0o755)
	tmp, err := os.CreateTemp(dir, ".quota-*")
	if err != nil {
		q.log.Warn("quota state write failed", logx.Err(err))
		return
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		q.log.Warn("quota state write failed", logx.Err(err))
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return
	}
	if err := os.Rename(tmp.Name(), q.path); err != nil {
		os.Remove(tmp.Name())
		q.log.Warn("quota state rename failed", logx.Err(err))
	}
}

func (q *Quota) today() string {
	return q.now().UTC().Format("2006-01-02")
}

// rollover resets the counter when the UTC day has changed. Callers hold
// q.mu.
func (q *Quota) rollover() {
	if day := q.today(); q.state.Day != day {
		q.state = quotaState{Day: day}
		q.save()
	}
}

// CanPostRegular reports whether a regular (non-warning) post is still
// within today's content budget.
func (q *Quota) CanPostRegular() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	return q.state.Count < q.contentLimit
}

// ShouldSendWarning is true exactly once per day: at the content limit,
// while still under the hard cap, before any warning has gone out.
func (q *Quota) ShouldSendWarning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	if q.state.WarningSent {
		return false
	}
	return q.state.Count >= q.contentLimit && q.state.Count < q.dailyLimit
}

// RecordPost counts a successful send. A warning post also latches
// warning_sent so regular posting stays off for the rest of the day.
func (q *Quota) RecordPost(isWarning bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	q.state.Count++
	if isWarning {
		q.state.WarningSent = true
	}
	q.save()
}

// Remaining reports how many regular posts are left today.
func (q *Quota) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	if n := q.contentLimit - q.state.Count; n > 0 {
		return n
	}
	return 0
}

// SetClock overrides the time source. Test hook.
func (q *Quota) SetClock(now func() time.Time) {
	if now != nil {
		q.now = now
	}
}

// BuildLimitWarning renders the final post on a quota-limited platform,
// pointing followers at the platforms that keep running.
func BuildLimitWarning(limited string, others []string) string {
	var b strings.Builder
	b.WriteString("Due to daily posting limits, updates on this platform stop early today.\n")
	rest := make([]string, 0, len(others))
	for _, name := range others {
		if name != limited && name != "console" {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	if len(rest) > 0 {
		b.WriteString("\nUpdates continue on: ")
		b.WriteString(strings.Join(rest, ", "))
		b.WriteString("\n")
	}
	b.WriteString("\nBack with more once the limit clears.")
	return b.String()
}
