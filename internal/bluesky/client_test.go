package bluesky

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchPosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/posts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "#golang" {
			t.Errorf("q = %q, want %q", got, "#golang")
		}
		if got := r.URL.Query().Get("offset"); got != "30" {
			t.Errorf("offset = %q, want %q", got, "30")
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"tid":  "app.bsky.feed.post/3k1",
				"cid":  "bafyone",
				"user": map[string]string{"did": "did:plc:alice", "handle": "alice.test"},
				"post": map[string]any{"createdAt": 1700000000000, "text": "hi #golang"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("", srv.URL)
	hits, err := c.SearchPosts(context.Background(), "#golang", 30)
	if err != nil {
		t.Fatalf("SearchPosts: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if got, want := hits[0].URI(), "at://did:plc:alice/app.bsky.feed.post/3k1"; got != want {
		t.Errorf("URI() = %q, want %q", got, want)
	}
}

func TestSearchPostsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("", srv.URL)
	if _, err := c.SearchPosts(context.Background(), "#golang", 0); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestGetPostsBatchLimit(t *testing.T) {
	c := NewClient("http://unused.invalid", "")
	uris := make([]string, MaxBatchURIs+1)
	for i := range uris {
		uris[i] = "at://did:plc:x/app.bsky.feed.post/a"
	}
	if _, err := c.GetPosts(context.Background(), uris); err == nil {
		t.Fatal("expected error for oversized batch")
	}
}

func TestGetPostsShortResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := len(r.URL.Query()["uris"]); got != 2 {
			t.Errorf("got %d uris, want 2", got)
		}
		// one of the two requested posts was deleted
		json.NewEncoder(w).Encode(map[string]any{
			"posts": []map[string]any{
				{"uri": "at://did:plc:a/app.bsky.feed.post/1", "cid": "bafya"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	posts, err := c.GetPosts(context.Background(), []string{
		"at://did:plc:a/app.bsky.feed.post/1",
		"at://did:plc:b/app.bsky.feed.post/2",
	})
	if err != nil {
		t.Fatalf("GetPosts: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}
}

func TestParseATURI(t *testing.T) {
	tests := []struct {
		uri     string
		did     string
		coll    string
		rkey    string
		wantErr bool
	}{
		{"at://did:plc:abc/app.bsky.feed.post/3k1", "did:plc:abc", "app.bsky.feed.post", "3k1", false},
		{"https://example.com/x", "", "", "", true},
		{"at://did:plc:abc/app.bsky.feed.post", "", "", "", true},
		{"at://", "", "", "", true},
	}
	for _, tt := range tests {
		did, coll, rkey, err := ParseATURI(tt.uri)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseATURI(%q): expected error", tt.uri)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseATURI(%q): %v", tt.uri, err)
			continue
		}
		if did != tt.did || coll != tt.coll || rkey != tt.rkey {
			t.Errorf("ParseATURI(%q) = (%q, %q, %q)", tt.uri, did, coll, rkey)
		}
	}
}

func TestSearchHitURIWithBareRKey(t *testing.T) {
	var h SearchHit
	h.TID = "3k9xyz"
	h.User.DID = "did:plc:bob"
	if got, want := h.URI(), "at://did:plc:bob/app.bsky.feed.post/3k9xyz"; got != want {
		t.Errorf("URI() = %q, want %q", got, want)
	}
}
