package social

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "puckbot/pkg/logx"
)

func newTestQuota(t *testing.T, content, daily int) *Quota {
	t.Helper()
	q, err := NewQuota(filepath.Join(t.TempDir(), "quota.json"), content, daily, logx.Nop())
	if err != nil {
		t.Fatalf("NewQuota: %v", err)
	}
	q.SetClock(func() time.Time { return time.Date(2026, 1, 15, 23, 0, 0, 0, time.UTC) })
	return q
}

func TestQuotaContentLimitStopsRegularPosts(t *testing.T) {
	q := newTestQuota(t, 3, 5)

	for i := 0; i < 3; i++ {
		if !q.CanPostRegular() {
			t.Fatalf("post %d should be allowed", i)
		}
		q.RecordPost(false)
	}
	if q.CanPostRegular() {
		t.Fatal("content limit reached; regular posts must stop")
	}
	if q.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", q.Remaining())
	}
}

func TestQuotaWarningFiresExactlyOnce(t *testing.T) {
	q := newTestQuota(t, 2, 4)

	q.RecordPost(false)
	if q.ShouldSendWarning() {
		t.Fatal("warning before content limit")
	}
	q.RecordPost(false)

	if !q.ShouldSendWarning() {
		t.Fatal("warning due at content limit")
	}
	q.RecordPost(true)

	if q.ShouldSendWarning() {
		t.Fatal("warning must fire only once")
	}
	if q.CanPostRegular() {
		t.Fatal("warning latches regular posting off")
	}
}

func TestQuotaNoWarningAtHardCap(t *testing.T) {
	q := newTestQuota(t, 2, 2)
	q.RecordPost(false)
	q.RecordPost(false)
	if q.ShouldSendWarning() {
		t.Fatal("no headroom under the hard cap; warning must not fire")
	}
}

func TestQuotaRollsOverOnDayChange(t *testing.T) {
	q := newTestQuota(t, 2, 4)
	q.RecordPost(false)
	q.RecordPost(false)
	q.RecordPost(true)
	if q.CanPostRegular() {
		t.Fatal("budget spent")
	}

	q.SetClock(func() time.Time { return time.Date(2026, 1, 16, 0, 5, 0, 0, time.UTC) })
	if !q.CanPostRegular() {
		t.Fatal("new UTC day must reset the count")
	}
	if !func() bool { q.RecordPost(false); q.RecordPost(false); return q.ShouldSendWarning() }() {
		t.Fatal("warning_sent must reset with the day")
	}
}

func TestQuotaStateSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json")
	day := func() time.Time { return time.Date(2026, 1, 15, 23, 0, 0, 0, time.UTC) }

	q, err := NewQuota(path, 2, 4, logx.Nop())
	if err != nil {
		t.Fatalf("NewQuota: %v", err)
	}
	q.SetClock(day)
	q.RecordPost(false)
	q.RecordPost(false)

	q2, err := NewQuota(path, 2, 4, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	q2.SetClock(day)
	if q2.CanPostRegular() {
		t.Fatal("count must persist across restart")
	}
	if !q2.ShouldSendWarning() {
		t.Fatal("warning still due after restart")
	}
}

func TestQuotaCorruptStateStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	q, err := NewQuota(path, 2, 4, logx.Nop())
	if err != nil {
		t.Fatalf("NewQuota: %v", err)
	}
	if !q.CanPostRegular() {
		t.Fatal("corrupt state must start fresh")
	}
}

func TestBuildLimitWarningListsOtherPlatforms(t *testing.T) {
	msg := BuildLimitWarning("bluesky", []string{"bluesky", "telegram", "console"})
	if want := "Updates continue on: telegram"; !strings.Contains(msg, want) {
		t.Fatalf("warning = %q, want it to mention %q", msg, want)
	}
	if strings.Contains(msg, "console") {
		t.Fatalf("warning must not advertise the console adapter: %q", msg)
	}
}
