package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tagstream/tagstream/internal/bluesky"
	"github.com/tagstream/tagstream/internal/firehose"
	"github.com/tagstream/tagstream/internal/profiles"
)

type fakeSink struct {
	mu       sync.Mutex
	posts    []*bluesky.PostView
	gapShown int
	visible  bool
}

func (s *fakeSink) RenderPost(post *bluesky.PostView) {
	s.mu.Lock()
	s.posts = append(s.posts, post)
	s.mu.Unlock()
}

func (s *fakeSink) ShowGapNotice() {
	s.mu.Lock()
	s.gapShown++
	s.visible = true
	s.mu.Unlock()
}

func (s *fakeSink) GapNoticeVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

func (s *fakeSink) rendered() []*bluesky.PostView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*bluesky.PostView(nil), s.posts...)
}

func (s *fakeSink) notices() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gapShown
}

type fakePostClient struct {
	mu      sync.Mutex
	calls   int
	release chan struct{} // when non-nil, GetPost blocks until closed
}

func (c *fakePostClient) GetPost(_ context.Context, uri string) (*bluesky.PostView, error) {
	c.mu.Lock()
	c.calls++
	release := c.release
	c.mu.Unlock()
	if release != nil {
		<-release
	}
	return &bluesky.PostView{
		URI:    uri,
		CID:    "cid-live",
		Author: bluesky.ProfileView{DID: "did:plc:author", Handle: "author.test"},
		Record: bluesky.PostBody{Text: "live #zib2"},
	}, nil
}

func (c *fakePostClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type stubProfileClient struct{}

func (stubProfileClient) GetProfile(_ context.Context, actor string) (*bluesky.ProfileView, error) {
	return &bluesky.ProfileView{DID: actor}, nil
}

type fakeConn struct {
	onClose func()
	once    sync.Once
	frames  int64
}

func (c *fakeConn) Close() error {
	c.once.Do(c.onClose)
	return nil
}

func (c *fakeConn) Frames() int64 { return c.frames }

func testPipeline(dial Dialer, client PostClient, sink Sink) *Pipeline {
	p := New(dial, client, profiles.NewCache(stubProfileClient{}), sink, "#zib2",
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.baseBackoff = time.Millisecond
	return p
}

func postEvent(repo, rkey, text string) *firehose.CommitEvent {
	return &firehose.CommitEvent{
		Type: "com.atproto.sync.subscribeRepos#commit",
		Repo: repo,
		Ops: []firehose.RepoOp{{
			Action:   "create",
			Path:     "app.bsky.feed.post/" + rkey,
			Payloads: []firehose.Record{&firehose.PostRecord{Type: firehose.CollectionPost, Text: text}},
		}},
	}
}

func TestGapNoticeShownOncePerVisibleMarker(t *testing.T) {
	conns := make(chan *fakeConn, 4)
	dial := func(_ context.Context, h firehose.Handler) (Conn, error) {
		c := &fakeConn{onClose: h.OnClose, frames: 1}
		conns <- c
		return c, nil
	}

	sink := &fakeSink{}
	p := testPipeline(dial, &fakePostClient{}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitConn := func() *fakeConn {
		select {
		case c := <-conns:
			return c
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for dial")
			return nil
		}
	}

	waitNotices := func(want int) {
		deadline := time.Now().Add(2 * time.Second)
		for sink.notices() != want {
			if time.Now().After(deadline) {
				t.Fatalf("notices = %d, want %d", sink.notices(), want)
			}
			time.Sleep(time.Millisecond)
		}
	}

	c1 := waitConn()
	if sink.notices() != 0 {
		t.Fatalf("gap notice shown on first open")
	}
	_ = c1.Close()

	c2 := waitConn()
	waitNotices(1)
	_ = c2.Close()

	c3 := waitConn()
	// the first marker is still visible, so no second one may appear
	time.Sleep(20 * time.Millisecond)
	if got := sink.notices(); got != 1 {
		t.Fatalf("after second reopen: %d notices, want still 1", got)
	}

	cancel()
	_ = c3.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestHandleCommitRendersMatchingPost(t *testing.T) {
	client := &fakePostClient{}
	sink := &fakeSink{}
	p := testPipeline(nil, client, sink)

	p.handleCommit(context.Background(), postEvent("did:plc:author", "3k1", "hello #zib2 world"))
	p.wg.Wait()

	posts := sink.rendered()
	if len(posts) != 1 {
		t.Fatalf("rendered %d posts, want 1", len(posts))
	}
	if want := "at://did:plc:author/app.bsky.feed.post/3k1"; posts[0].URI != want {
		t.Errorf("uri = %q, want %q", posts[0].URI, want)
	}
	if _, ok := p.profiles.Get("did:plc:author"); !ok {
		t.Error("author profile not primed into the cache")
	}
}

func TestHandleCommitIgnoresNonMatchingPost(t *testing.T) {
	client := &fakePostClient{}
	sink := &fakeSink{}
	p := testPipeline(nil, client, sink)

	p.handleCommit(context.Background(), postEvent("did:plc:author", "3k1", "only #zib2x here"))
	p.wg.Wait()

	if client.callCount() != 0 {
		t.Fatalf("non-matching post triggered %d fetches, want 0", client.callCount())
	}
	if len(sink.rendered()) != 0 {
		t.Fatal("non-matching post was rendered")
	}
}

func TestScopeChangeAppliesWithoutReconnect(t *testing.T) {
	client := &fakePostClient{}
	sink := &fakeSink{}
	p := testPipeline(nil, client, sink)

	p.SetScope("#other")
	p.handleCommit(context.Background(), postEvent("did:plc:author", "3k1", "now about #other"))
	p.wg.Wait()

	if len(sink.rendered()) != 1 {
		t.Fatalf("rendered %d posts, want 1 under the new scope", len(sink.rendered()))
	}
}

func TestStaleFetchDoesNotRenderAfterScopeChange(t *testing.T) {
	release := make(chan struct{})
	client := &fakePostClient{release: release}
	sink := &fakeSink{}
	p := testPipeline(nil, client, sink)

	p.handleCommit(context.Background(), postEvent("did:plc:author", "3k1", "hello #zib2"))

	// the fetch is in flight; switch scope before it resolves
	p.SetScope("#elsewhere")
	close(release)
	p.wg.Wait()

	if len(sink.rendered()) != 0 {
		t.Fatal("stale fetch rendered against the new scope")
	}
}

func TestHandleCommitSkipsNonPostPayloads(t *testing.T) {
	client := &fakePostClient{}
	sink := &fakeSink{}
	p := testPipeline(nil, client, sink)

	evt := &firehose.CommitEvent{
		Repo: "did:plc:author",
		Ops: []firehose.RepoOp{{
			Action:   "create",
			Path:     "app.bsky.feed.like/3k1",
			Payloads: []firehose.Record{&firehose.LikeRecord{Type: firehose.CollectionLike}},
		}},
	}
	p.handleCommit(context.Background(), evt)
	p.wg.Wait()

	if client.callCount() != 0 || len(sink.rendered()) != 0 {
		t.Fatal("non-post payload reached the resolver")
	}
}
