// Package bluesky posts game updates to Bluesky over the XRPC HTTP API.
// Sessions are created lazily and refreshed once on an auth failure.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"puckbot/internal/social"
	logx "puckbot/pkg/logx"
)

const (
	defaultHost = "https://bsky.social"
	// Blobs above roughly 1 MB are rejected; stay under with margin.
	maxBlobBytes = 975 * 1024

	postCollection = "app.bsky.feed.post"
)

type Config struct {
	Host        string
	Handle      string
	AppPassword string
	Timeout     time.Duration
}

type Client struct {
	cfg  Config
	log  logx.Logger
	hc   *http.Client
	host string

	mu        sync.Mutex
	accessJWT string
	did       string
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Handle) == "" || strings.TrimSpace(cfg.AppPassword) == "" {
		return nil, errors.New("bluesky handle and app_password are required")
	}
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = defaultHost
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, log: log, hc: &http.Client{Timeout: timeout}, host: host}, nil
}

func (c *Client) Name() string { return "bluesky" }

func (c *Client) Post(ctx context.Context, p social.Post, replyTo *social.PostRef) (social.PostRef, error) {
	record := map[string]any{
		"$type":     postCollection,
		"text":      p.Text,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
		"langs":     []string{"en"},
	}
	if facets := detectFacets(p.Text); len(facets) > 0 {
		record["facets"] = facets
	}
	if replyTo != nil && replyTo.ID != "" {
		if reply, err := c.replyRefs(ctx, *replyTo); err != nil {
			c.log.Warn("bluesky reply parent unresolved; posting top level",
				logx.String("parent_uri", replyTo.ID), logx.Err(err))
		} else {
			record["reply"] = reply
		}
	}
	if p.ImagePath != "" {
		embed, err := c.imageEmbed(ctx, p.ImagePath, p.AltText)
		if err != nil {
			// An oversized or unreadable image degrades to a text-only post.
			c.log.Warn("bluesky image skipped", logx.String("path", p.ImagePath), logx.Err(err))
		} else {
			record["embed"] = embed
		}
	}

	var out struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	body := map[string]any{"repo": c.repoDID(), "collection": postCollection, "record": record}
	if err := c.xrpc(ctx, "com.atproto.repo.createRecord", body, &out); err != nil {
		return social.PostRef{}, err
	}
	return social.PostRef{
		Platform: "bluesky",
		ID:       out.URI,
		CID:      out.CID,
		URL:      publicURL(c.cfg.Handle, out.URI),
	}, nil
}

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// replyRefs builds the reply block for a parent ref. Refs restored from
// the game cache carry only the at:// URI, so the CID (and the thread
// root, when the parent is itself a reply) comes from getRecord.
func (c *Client) replyRefs(ctx context.Context, parent social.PostRef) (map[string]any, error) {
	strong := strongRef{URI: parent.ID, CID: parent.CID}
	root := strong
	if parent.CID == "" {
		rec, err := c.getRecord(ctx, parent.ID)
		if err != nil {
			return nil, err
		}
		strong = strongRef{URI: rec.URI, CID: rec.CID}
		root = strong
		if rec.Value.Reply != nil && rec.Value.Reply.Root.URI != "" {
			root = rec.Value.Reply.Root
		}
	}
	return map[string]any{"root": root, "parent": strong}, nil
}

type recordOut struct {
	URI   string `json:"uri"`
	CID   string `json:"cid"`
	Value struct {
		Reply *struct {
			Root strongRef `json:"root"`
		} `json:"reply"`
	} `json:"value"`
}

// getRecord fetches a post record by its at:// URI.
func (c *Client) getRecord(ctx context.Context, atURI string) (*recordOut, error) {
	const prefix = "at://"
	if !strings.HasPrefix(atURI, prefix) {
		return nil, fmt.Errorf("malformed at uri %q", atURI)
	}
	parts := strings.SplitN(atURI[len(prefix):], "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return nil, fmt.Errorf("malformed at uri %q", atURI)
	}
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	q := url.Values{"repo": {parts[0]}, "collection": {parts[1]}, "rkey": {parts[2]}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.host+"/xrpc/com.atproto.repo.getRecord?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token())
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("bluesky getRecord: http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out recordOut
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// xrpc issues an authenticated procedure call, creating the session on
// first use and re-authenticating once on a 401.
func (c *Client) xrpc(ctx context.Context, method string, body, out any) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	// createRecord needs the live DID; re-resolve after ensureSession.
	if m, ok := body.(map[string]any); ok {
		m["repo"] = c.repoDID()
	}
	status, err := c.call(ctx, method, body, out)
	if status == http.StatusUnauthorized {
		c.mu.Lock()
		c.accessJWT = ""
		c.mu.Unlock()
		if err := c.ensureSession(ctx); err != nil {
			return err
		}
		if m, ok := body.(map[string]any); ok {
			m["repo"] = c.repoDID()
		}
		_, err = c.call(ctx, method, body, out)
	}
	return err
}

func (c *Client) call(ctx context.Context, method string, body, out any) (int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/xrpc/"+method, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if jwt := c.token(); jwt != "" {
		req.Header.Set("Authorization", "Bearer "+jwt)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("bluesky %s: http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) ensureSession(ctx context.Context) error {
	if c.token() != "" {
		return nil
	}
	payload := map[string]string{"identifier": c.cfg.Handle, "password": c.cfg.AppPassword}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/xrpc/com.atproto.server.createSession", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bluesky login: http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var session struct {
		AccessJWT string `json:"accessJwt"`
		DID       string `json:"did"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return err
	}
	c.mu.Lock()
	c.accessJWT = session.AccessJWT
	c.did = session.DID
	c.mu.Unlock()
	c.log.Debug("bluesky session created", logx.String("handle", c.cfg.Handle))
	return nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessJWT
}

func (c *Client) repoDID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.did
}

func (c *Client) imageEmbed(ctx context.Context, path, alt string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > maxBlobBytes {
		return nil, fmt.Errorf("image is %d bytes, above the %d byte blob limit", len(data), maxBlobBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/xrpc/com.atproto.repo.uploadBlob", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", http.DetectContentType(data))
	req.Header.Set("Authorization", "Bearer "+c.token())
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("bluesky uploadBlob: http %d", resp.StatusCode)
	}
	var out struct {
		Blob json.RawMessage `json:"blob"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return map[string]any{
		"$type": "app.bsky.embed.images",
		"images": []map[string]any{
			{"image": out.Blob, "alt": alt},
		},
	}, nil
}

var (
	linkRe = regexp.MustCompile(`https?://[^\s]+`)
	tagRe  = regexp.MustCompile(`(^|\s)(#[\p{L}\d_]+)`)
)

// detectFacets marks links and hashtags so they render as rich text.
// Indices are byte offsets into the UTF-8 text.
func detectFacets(text string) []map[string]any {
	var facets []map[string]any
	for _, loc := range linkRe.FindAllStringIndex(text, -1) {
		uri := strings.TrimRight(text[loc[0]:loc[1]], ".,;:!?)")
		end := loc[0] + len(uri)
		facets = append(facets, facet(loc[0], end, map[string]any{
			"$type": "app.bsky.richtext.facet#link",
			"uri":   uri,
		}))
	}
	for _, loc := range tagRe.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[4], loc[5]
		facets = append(facets, facet(start, end, map[string]any{
			"$type": "app.bsky.richtext.facet#tag",
			"tag":   strings.TrimPrefix(text[start:end], "#"),
		}))
	}
	return facets
}

func facet(start, end int, feature map[string]any) map[string]any {
	return map[string]any{
		"index":    map[string]int{"byteStart": start, "byteEnd": end},
		"features": []map[string]any{feature},
	}
}

// publicURL converts an at:// URI into the public web URL.
func publicURL(handle, atURI string) string {
	const prefix = "at://"
	if !strings.HasPrefix(atURI, prefix) {
		return ""
	}
	parts := strings.Split(atURI[len(prefix):], "/")
	if len(parts) < 3 {
		return ""
	}
	return "https://bsky.app/profile/" + handle + "/post/" + parts[len(parts)-1]
}
