package bluesky

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"puckbot/internal/social"
	logx "puckbot/pkg/logx"
)

func newTestServer(t *testing.T, onRecord func(body map[string]any)) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var logins atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			logins.Add(1)
			json.NewEncoder(w).Encode(map[string]string{
				"accessJwt": "jwt-token", "did": "did:plc:abc123",
			})
		case "/xrpc/com.atproto.repo.createRecord":
			if r.Header.Get("Authorization") != "Bearer jwt-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if onRecord != nil {
				onRecord(body)
			}
			json.NewEncoder(w).Encode(map[string]string{
				"uri": "at://did:plc:abc123/app.bsky.feed.post/3kxyz", "cid": "bafy123",
			})
		case "/xrpc/com.atproto.repo.getRecord":
			if r.Header.Get("Authorization") != "Bearer jwt-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			q := r.URL.Query()
			rkey := q.Get("rkey")
			out := map[string]any{
				"uri":   "at://" + q.Get("repo") + "/" + q.Get("collection") + "/" + rkey,
				"cid":   "bafyresolved",
				"value": map[string]any{},
			}
			// 3kmid plays a post that is itself a reply mid-thread.
			if rkey == "3kmid" {
				out["value"] = map[string]any{"reply": map[string]any{
					"root": map[string]string{
						"uri": "at://did:plc:abc123/app.bsky.feed.post/3kroot",
						"cid": "bafyroot",
					},
				}}
			}
			json.NewEncoder(w).Encode(out)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &logins
}

func newTestClient(t *testing.T, host string) *Client {
	t.Helper()
	c, err := New(Config{Host: host, Handle: "bot.example.com", AppPassword: "hunter2"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestPostCreatesSessionAndRecord(t *testing.T) {
	var got map[string]any
	srv, logins := newTestServer(t, func(body map[string]any) { got = body })
	c := newTestClient(t, srv.URL)

	ref, err := c.Post(context.Background(), social.Post{Text: "GOAL! #NJDevils"}, nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if logins.Load() != 1 {
		t.Fatalf("logins = %d, want 1", logins.Load())
	}
	if ref.Platform != "bluesky" || ref.CID != "bafy123" {
		t.Fatalf("ref = %+v", ref)
	}
	if ref.URL != "https://bsky.app/profile/bot.example.com/post/3kxyz" {
		t.Fatalf("url = %q", ref.URL)
	}
	if got["repo"] != "did:plc:abc123" || got["collection"] != "app.bsky.feed.post" {
		t.Fatalf("createRecord body = %+v", got)
	}

	record := got["record"].(map[string]any)
	facets := record["facets"].([]any)
	if len(facets) != 1 {
		t.Fatalf("facets = %+v, want hashtag facet", facets)
	}

	// Second post reuses the session.
	if _, err := c.Post(context.Background(), social.Post{Text: "again"}, nil); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if logins.Load() != 1 {
		t.Fatalf("logins = %d, session must be reused", logins.Load())
	}
}

func TestReplyThreadsUnderParent(t *testing.T) {
	var got map[string]any
	srv, _ := newTestServer(t, func(body map[string]any) { got = body })
	c := newTestClient(t, srv.URL)

	parent := &social.PostRef{
		Platform: "bluesky",
		ID:       "at://did:plc:abc123/app.bsky.feed.post/3kaaa",
		CID:      "bafyparent",
	}
	if _, err := c.Post(context.Background(), social.Post{Text: "highlight"}, parent); err != nil {
		t.Fatalf("Post: %v", err)
	}

	record := got["record"].(map[string]any)
	reply := record["reply"].(map[string]any)
	p := reply["parent"].(map[string]any)
	if p["uri"] != parent.ID || p["cid"] != parent.CID {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestReplyResolvesMissingCID(t *testing.T) {
	var got map[string]any
	srv, _ := newTestServer(t, func(body map[string]any) { got = body })
	c := newTestClient(t, srv.URL)

	// A ref reloaded from the game cache after a restart has no CID.
	parent := &social.PostRef{
		Platform: "bluesky",
		ID:       "at://did:plc:abc123/app.bsky.feed.post/3ktop",
	}
	if _, err := c.Post(context.Background(), social.Post{Text: "scoring change"}, parent); err != nil {
		t.Fatalf("Post: %v", err)
	}

	record := got["record"].(map[string]any)
	reply, ok := record["reply"].(map[string]any)
	if !ok {
		t.Fatalf("reply block missing: %+v", record)
	}
	p := reply["parent"].(map[string]any)
	if p["uri"] != parent.ID || p["cid"] != "bafyresolved" {
		t.Fatalf("parent = %+v, want resolved cid", p)
	}
	root := reply["root"].(map[string]any)
	if root["uri"] != parent.ID || root["cid"] != "bafyresolved" {
		t.Fatalf("root = %+v, want the top-level parent itself", root)
	}
}

func TestReplyToMidThreadParentKeepsRoot(t *testing.T) {
	var got map[string]any
	srv, _ := newTestServer(t, func(body map[string]any) { got = body })
	c := newTestClient(t, srv.URL)

	parent := &social.PostRef{
		Platform: "bluesky",
		ID:       "at://did:plc:abc123/app.bsky.feed.post/3kmid",
	}
	if _, err := c.Post(context.Background(), social.Post{Text: "highlight"}, parent); err != nil {
		t.Fatalf("Post: %v", err)
	}

	record := got["record"].(map[string]any)
	reply := record["reply"].(map[string]any)
	p := reply["parent"].(map[string]any)
	if p["uri"] != parent.ID || p["cid"] != "bafyresolved" {
		t.Fatalf("parent = %+v", p)
	}
	root := reply["root"].(map[string]any)
	if root["uri"] != "at://did:plc:abc123/app.bsky.feed.post/3kroot" || root["cid"] != "bafyroot" {
		t.Fatalf("root = %+v, want the thread root carried over", root)
	}
}

func TestDetectFacets(t *testing.T) {
	text := "Watch the highlight: https://www.nhl.com/video/abc #NJDevils"
	facets := detectFacets(text)
	if len(facets) != 2 {
		t.Fatalf("facets = %+v, want link + tag", facets)
	}

	link := facets[0]["features"].([]map[string]any)[0]
	if link["uri"] != "https://www.nhl.com/video/abc" {
		t.Fatalf("link = %+v", link)
	}
	tag := facets[1]["features"].([]map[string]any)[0]
	if tag["tag"] != "NJDevils" {
		t.Fatalf("tag = %+v", tag)
	}

	if facets := detectFacets("plain text, no links"); facets != nil {
		t.Fatalf("facets = %+v, want none", facets)
	}
}

func TestPublicURLRejectsMalformedURIs(t *testing.T) {
	if got := publicURL("h", "https://not-at-uri"); got != "" {
		t.Fatalf("got %q", got)
	}
	if got := publicURL("h", "at://did/only-two"); got != "" {
		t.Fatalf("got %q", got)
	}
}
