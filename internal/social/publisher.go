package social

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"puckbot/internal/metrics"
	"puckbot/internal/storage"
	logx "puckbot/pkg/logx"
)

// Message is a Post plus audit metadata. Kind and EventID only feed the
// post audit trail.
type Message struct {
	Text      string
	ImagePath string
	ImageURL  string
	AltText   string
	Kind      string
	EventID   string
}

func (m Message) post() Post {
	return Post{Text: m.Text, ImagePath: m.ImagePath, ImageURL: m.ImageURL, AltText: m.AltText}
}

// Options configures a Publisher.
type Options struct {
	Clients []Client

	// HeadlineOnly names a platform that receives top-level posts but is
	// excluded from replies and anchor seeding.
	HeadlineOnly string

	// NoSocial logs previews and returns synthetic refs instead of
	// calling any adapter.
	NoSocial bool

	// Quota, when set, gates QuotaPlatform on a daily budget.
	Quota         *Quota
	QuotaPlatform string

	Store   storage.Store
	Metrics *metrics.Metrics
	Log     logx.Logger
}

// Publisher fans a message out to every enabled platform and keeps a
// per-platform reply anchor (the last ref each platform replied with).
type Publisher struct {
	mu sync.Mutex

	log          logx.Logger
	met          *metrics.Metrics
	store        storage.Store
	clients      []Client
	headlineOnly string
	noSocial     bool
	quota        *Quota
	quotaName    string

	gameID int64
	last   map[string]PostRef
	nextID atomic.Int64
}

const sendTimeout = 30 * time.Second

func NewPublisher(opts Options) *Publisher {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{
		log:          log,
		met:          opts.Metrics,
		store:        opts.Store,
		clients:      opts.Clients,
		headlineOnly: opts.HeadlineOnly,
		noSocial:     opts.NoSocial,
		quota:        opts.Quota,
		quotaName:    opts.QuotaPlatform,
		last:         map[string]PostRef{},
	}
}

// SetGameID stamps subsequent audit records with the active game.
func (p *Publisher) SetGameID(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gameID = id
}

// Platforms returns the names of all configured adapters.
func (p *Publisher) Platforms() []string {
	names := make([]string, 0, len(p.clients))
	for _, c := range p.clients {
		names = append(names, c.Name())
	}
	return names
}

// SetAnchor overrides the reply anchor for a platform, e.g. when resuming
// a game from persisted root refs.
func (p *Publisher) SetAnchor(platform string, ref PostRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last[platform] = ref
}

// Post creates a top-level post on every platform. Reply anchors are not
// touched.
func (p *Publisher) Post(ctx context.Context, msg Message) map[string]PostRef {
	return p.publish(ctx, msg, nil, nil, false)
}

// Reply posts a reply on every platform except the headline-only one.
// Parent precedence per platform: the explicit ref when it matches, then
// the thread's parent, then the publisher's own anchor. Successful
// replies advance both the anchor and the thread parent.
func (p *Publisher) Reply(ctx context.Context, msg Message, to *PostRef, thread *Thread) map[string]PostRef {
	return p.publish(ctx, msg, to, thread, true)
}

// PostAndSeed posts and then stores the returned refs as the new reply
// anchors, seeding the thread's roots as well. The headline-only
// platform still gets the post but never seeds anchors.
func (p *Publisher) PostAndSeed(ctx context.Context, msg Message, thread *Thread) map[string]PostRef {
	results := p.publish(ctx, msg, nil, nil, false)
	p.mu.Lock()
	for name, ref := range results {
		if name == p.headlineOnly {
			continue
		}
		p.last[name] = ref
	}
	p.mu.Unlock()
	if thread != nil {
		for name, ref := range results {
			if name == p.headlineOnly {
				continue
			}
			thread.Seed(name, ref)
		}
	}
	return results
}

func (p *Publisher) publish(ctx context.Context, msg Message, explicit *PostRef, thread *Thread, isReply bool) map[string]PostRef {
	targets := p.targets(isReply)
	targets = p.applyQuota(ctx, targets)
	if len(targets) == 0 {
		return map[string]PostRef{}
	}

	if p.noSocial {
		return p.publishNoSocial(msg, targets, thread, isReply)
	}

	// Snapshot anchors before fanning out.
	p.mu.Lock()
	anchors := make(map[string]PostRef, len(p.last))
	for name, ref := range p.last {
		anchors[name] = ref
	}
	p.mu.Unlock()

	type outcome struct {
		name string
		ref  PostRef
		err  error
	}
	results := make(chan outcome, len(targets))
	var wg sync.WaitGroup
	for _, client := range targets {
		wg.Add(1)
		go func(client Client) {
			defer wg.Done()
			name := client.Name()

			var parent *PostRef
			if isReply {
				parent = resolveParent(name, explicit, thread, anchors)
			}

			cctx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()
			ref, err := client.Post(cctx, msg.post(), parent)
			results <- outcome{name: name, ref: ref, err: err}
			p.audit(ctx, name, msg, ref, parent, err)
		}(client)
	}
	wg.Wait()
	close(results)

	out := map[string]PostRef{}
	for oc := range results {
		if oc.err != nil {
			p.log.Warn("post failed", logx.String("platform", oc.name), logx.String("kind", msg.Kind), logx.Err(oc.err))
			p.met.IncPostFailed(oc.name)
			continue
		}
		out[oc.name] = oc.ref
		p.met.IncPostSent(oc.name)
		if oc.name == p.quotaName && p.quota != nil {
			p.quota.RecordPost(false)
		}
		if isReply {
			p.mu.Lock()
			p.last[oc.name] = oc.ref
			p.mu.Unlock()
			if thread != nil {
				thread.SetParent(oc.name, oc.ref)
			}
		}
	}
	return out
}

func (p *Publisher) publishNoSocial(msg Message, targets []Client, thread *Thread, isReply bool) map[string]PostRef {
	preview := strings.ReplaceAll(strings.TrimSpace(msg.Text), "\n", " ")
	if len(preview) > 180 {
		preview = preview[:180]
	}
	p.log.Info("no-social: would post", logx.String("kind", msg.Kind), logx.String("preview", preview))

	out := map[string]PostRef{}
	for _, client := range targets {
		name := client.Name()
		ref := PostRef{Platform: name, ID: "nosocial-" + strconv.FormatInt(p.nextID.Add(1), 10)}
		out[name] = ref
		if isReply {
			p.mu.Lock()
			p.last[name] = ref
			p.mu.Unlock()
			if thread != nil {
				thread.SetParent(name, ref)
			}
		}
	}
	return out
}

// targets returns the adapters included in this send. Replies skip the
// headline-only platform.
func (p *Publisher) targets(isReply bool) []Client {
	out := make([]Client, 0, len(p.clients))
	for _, c := range p.clients {
		if isReply && c.Name() == p.headlineOnly {
			continue
		}
		out = append(out, c)
	}
	return out
}

// applyQuota drops the quota-limited platform when its budget is spent,
// sending the one-time warning first when due.
func (p *Publisher) applyQuota(ctx context.Context, targets []Client) []Client {
	if p.quota == nil || p.quotaName == "" {
		return targets
	}
	out := make([]Client, 0, len(targets))
	for _, c := range targets {
		if c.Name() != p.quotaName {
			out = append(out, c)
			continue
		}
		if p.quota.CanPostRegular() {
			out = append(out, c)
			continue
		}
		p.met.IncQuotaDenied()
		if p.quota.ShouldSendWarning() {
			p.sendWarning(ctx, c)
		}
		p.log.Debug("platform dropped: daily quota reached", logx.String("platform", c.Name()))
	}
	return out
}

func (p *Publisher) sendWarning(ctx context.Context, client Client) {
	text := BuildLimitWarning(client.Name(), p.Platforms())
	if p.noSocial {
		p.log.Info("no-social: would post quota warning", logx.String("platform", client.Name()))
		p.quota.RecordPost(true)
		return
	}
	cctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	ref, err := client.Post(cctx, Post{Text: text}, nil)
	p.audit(ctx, client.Name(), Message{Text: text, Kind: "quota_warning"}, ref, nil, err)
	if err != nil {
		p.log.Warn("quota warning post failed", logx.String("platform", client.Name()), logx.Err(err))
		p.met.IncPostFailed(client.Name())
		return
	}
	p.met.IncPostSent(client.Name())
	p.quota.RecordPost(true)
	p.log.Info("quota warning posted", logx.String("platform", client.Name()))
}

func (p *Publisher) audit(ctx context.Context, platform string, msg Message, ref PostRef, parent *PostRef, sendErr error) {
	if p.store == nil {
		return
	}
	p.mu.Lock()
	gameID := p.gameID
	p.mu.Unlock()

	rec := storage.PostRecord{
		At:       time.Now(),
		GameID:   gameID,
		Platform: platform,
		Kind:     msg.Kind,
		EventID:  msg.EventID,
		Text:     msg.Text,
		RefID:    ref.ID,
	}
	if parent != nil {
		rec.ReplyTo = parent.ID
	}
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}
	if err := p.store.AppendPost(ctx, rec); err != nil {
		p.log.Debug("post audit write failed", logx.Err(err))
	}
}

func resolveParent(platform string, explicit *PostRef, thread *Thread, anchors map[string]PostRef) *PostRef {
	if explicit != nil && explicit.Platform == platform {
		return explicit
	}
	if thread != nil {
		if ref, ok := thread.Parent(platform); ok {
			return &ref
		}
	}
	if ref, ok := anchors[platform]; ok {
		return &ref
	}
	return nil
}
