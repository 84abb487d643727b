// Package pipeline composes the live event stream, hashtag matcher, post
// resolution, and profile cache into a stream of ready-to-render posts.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tagstream/tagstream/internal/bluesky"
	"github.com/tagstream/tagstream/internal/firehose"
	"github.com/tagstream/tagstream/internal/hashtag"
	"github.com/tagstream/tagstream/internal/profiles"
)

// Sink receives the pipeline's output. RenderPost delivers posts in
// completion order, which under concurrent resolution is not guaranteed to
// match arrival order. ShowGapNotice asks the sink to mark that posts may
// be missing after a reconnect; the pipeline never shows a second notice
// while GapNoticeVisible reports one on screen.
type Sink interface {
	RenderPost(post *bluesky.PostView)
	ShowGapNotice()
	GapNoticeVisible() bool
}

// PostClient resolves a post URI into its enriched view.
type PostClient interface {
	GetPost(ctx context.Context, uri string) (*bluesky.PostView, error)
}

// Conn is one live stream connection as seen by the reconnect loop.
type Conn interface {
	Close() error
	Frames() int64
}

// Dialer opens a new stream connection reporting to handler.
type Dialer func(ctx context.Context, handler firehose.Handler) (Conn, error)

// PostOps is an OpFilter admitting only post-collection operations, sparing
// block extraction for everything else.
func PostOps(_ *firehose.CommitEvent, op *firehose.RepoOp) bool {
	return op.Collection() == firehose.CollectionPost
}

// NewFirehoseDialer returns a Dialer for the repo-event subscription at
// rawURL, filtered to post operations.
func NewFirehoseDialer(rawURL string, logger *slog.Logger) Dialer {
	return func(ctx context.Context, handler firehose.Handler) (Conn, error) {
		return firehose.Dial(ctx, rawURL, handler,
			firehose.WithLogger(logger),
			firehose.WithOpFilter(PostOps),
		)
	}
}

// Pipeline consumes live commit events and emits enriched posts matching
// the active hashtag scope. The scope is mutable at runtime without
// reconnecting; fetches in flight across a scope change are discarded at
// resolution time.
type Pipeline struct {
	dial     Dialer
	client   PostClient
	profiles *profiles.Cache
	sink     Sink
	logger   *slog.Logger

	baseBackoff time.Duration

	mu    sync.Mutex
	scope string
	gen   uint64
	opens int

	wg sync.WaitGroup
}

// New creates a pipeline scoped to the given hashtag.
func New(dial Dialer, client PostClient, cache *profiles.Cache, sink Sink, scope string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		dial:        dial,
		client:      client,
		profiles:    cache,
		sink:        sink,
		logger:      logger,
		baseBackoff: time.Second,
		scope:       scope,
	}
}

// SetScope switches the active hashtag scope. In-flight fetches belonging
// to the previous scope will complete but not render.
func (p *Pipeline) SetScope(tag string) {
	p.mu.Lock()
	p.scope = tag
	p.gen++
	p.mu.Unlock()
}

// Scope returns the active hashtag scope.
func (p *Pipeline) Scope() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scope
}

func (p *Pipeline) scopeState() (string, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scope, p.gen
}

func (p *Pipeline) scopeValid(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen
}

// Run consumes the live stream until ctx is cancelled, reconnecting with
// capped exponential backoff after every close. The backoff resets once a
// connection has delivered at least one frame.
func (p *Pipeline) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.baseBackoff
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		closed := make(chan struct{})
		conn, err := p.dial(ctx, firehose.Handler{
			OnMessage: func(evt *firehose.CommitEvent) {
				p.handleCommit(ctx, evt)
			},
			OnClose: func() {
				close(closed)
			},
		})
		if err != nil {
			p.logger.Error("could not open event stream", "error", err)
		} else {
			p.noteOpen()

			select {
			case <-ctx.Done():
				_ = conn.Close()
				<-closed
				p.wg.Wait()
				return ctx.Err()
			case <-closed:
				p.logger.Warn("event stream closed, will reconnect")
			}

			if conn.Frames() > 0 {
				bo.Reset()
			}
		}

		select {
		case <-ctx.Done():
			p.wg.Wait()
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// noteOpen records a (re)connection. The first open shows nothing; every
// later open injects a gap notice unless one is already visible.
func (p *Pipeline) noteOpen() {
	p.mu.Lock()
	p.opens++
	reopened := p.opens > 1
	p.mu.Unlock()

	if reopened && !p.sink.GapNoticeVisible() {
		p.sink.ShowGapNotice()
	}
}

func (p *Pipeline) handleCommit(ctx context.Context, evt *firehose.CommitEvent) {
	for i := range evt.Ops {
		op := &evt.Ops[i]
		for _, rec := range op.Payloads {
			post, ok := rec.(*firehose.PostRecord)
			if !ok {
				continue
			}

			scope, gen := p.scopeState()
			if scope == "" || !hashtag.Matches(post.Text, scope) {
				continue
			}

			uri := "at://" + evt.Repo + "/" + op.Path
			// No backpressure: each match resolves independently, so
			// completion order may diverge from arrival order.
			p.wg.Add(1)
			go p.resolve(ctx, gen, uri)
		}
	}
}

// resolve fetches the enriched view for a matched post (the event payload
// lacks counts, labels, and viewer state, so it is never rendered
// directly), primes the profile cache, and hands the post to the sink.
func (p *Pipeline) resolve(ctx context.Context, gen uint64, uri string) {
	defer p.wg.Done()

	post, err := p.client.GetPost(ctx, uri)
	if err != nil {
		p.logger.Warn("could not load post for live event", "uri", uri, "error", err)
		return
	}
	if post == nil {
		// deleted between the event and the fetch
		return
	}

	p.profiles.Put(&post.Author)
	if post.Record.Reply != nil {
		if did, _, _, err := bluesky.ParseATURI(post.Record.Reply.Parent.URI); err == nil {
			if err := p.profiles.Ensure(ctx, did); err != nil {
				p.logger.Warn("could not load reply-parent profile", "did", did, "error", err)
			}
		}
	}

	if !p.scopeValid(gen) {
		p.logger.Debug("dropping post resolved after scope change", "uri", uri)
		return
	}
	p.sink.RenderPost(post)
}
