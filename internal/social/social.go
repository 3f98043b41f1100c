// Package social publishes game updates across platforms behind one
// platform-agnostic API with per-platform reply threading.
package social

import (
	"context"
	"sync"
)

// Post is a single platform-agnostic message.
type Post struct {
	Text      string
	ImagePath string
	ImageURL  string
	AltText   string
}

// PostRef is a normalized reference to a published post. ID is the
// platform's canonical id (message id, at:// URI). CID is set for
// platforms that need it for reply threading.
type PostRef struct {
	Platform string
	ID       string
	CID      string
	URL      string
}

// Client is one platform adapter. Post creates a post, optionally as a
// reply to replyTo when the ref belongs to this platform.
type Client interface {
	Name() string
	Post(ctx context.Context, p Post, replyTo *PostRef) (PostRef, error)
}

// Thread tracks per-platform reply roots and parents for one logical
// thread (e.g. the game-day thread). Safe for concurrent use.
type Thread struct {
	mu      sync.Mutex
	roots   map[string]PostRef
	parents map[string]PostRef
}

func NewThread() *Thread {
	return &Thread{roots: map[string]PostRef{}, parents: map[string]PostRef{}}
}

// NewThreadFromRoots rebuilds a thread from persisted root refs, e.g.
// after a restart mid-game. Parents start at the roots.
func NewThreadFromRoots(roots map[string]PostRef) *Thread {
	t := NewThread()
	for name, ref := range roots {
		t.roots[name] = ref
		t.parents[name] = ref
	}
	return t
}

// Seed records ref as both root and parent for its platform. The first
// root per platform wins.
func (t *Thread) Seed(platform string, ref PostRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.roots[platform]; !ok {
		t.roots[platform] = ref
	}
	t.parents[platform] = ref
}

func (t *Thread) Root(platform string) (PostRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref, ok := t.roots[platform]
	return ref, ok
}

func (t *Thread) Parent(platform string) (PostRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref, ok := t.parents[platform]
	return ref, ok
}

// SetParent advances the reply parent after a successful reply.
func (t *Thread) SetParent(platform string, ref PostRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parents[platform] = ref
}

// Roots returns a copy of the per-platform root refs for persistence.
func (t *Thread) Roots() map[string]PostRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]PostRef, len(t.roots))
	for name, ref := range t.roots {
		out[name] = ref
	}
	return out
}
