// Package thread keeps the root/parent reference pair that chains a user's
// sequential posts in a hashtag scope into one reply thread.
package thread

import (
	"context"
	"fmt"
	"time"

	"github.com/tagstream/tagstream/internal/bluesky"
)

// Continuation is the stored thread state for one (account, hashtag) scope.
// Root is fixed at first write; Parent advances to the most recently sent
// post in the scope and never regresses.
type Continuation struct {
	Root      bluesky.PostRef
	Parent    bluesky.PostRef
	UpdatedAt time.Time
}

// Store defines persistence for continuations. This is the only durable
// state the core owns; it must survive process restarts.
type Store interface {
	// Get retrieves the continuation for a scope, or nil if none exists.
	Get(ctx context.Context, account, hashtag string) (*Continuation, error)

	// Put upserts the continuation for a scope.
	Put(ctx context.Context, account, hashtag string, c Continuation) error

	// Delete removes the continuation for a scope. Deleting an absent
	// scope is not an error.
	Delete(ctx context.Context, account, hashtag string) error
}

// Tracker decides how new posts chain into existing threads and records
// sent posts against their scope.
type Tracker struct {
	store Store
}

// NewTracker creates a tracker backed by the given store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// Get returns the continuation for a scope, or nil if none exists.
func (t *Tracker) Get(ctx context.Context, account, hashtag string) (*Continuation, error) {
	return t.store.Get(ctx, account, hashtag)
}

// NextReply returns the reply linkage for the next post in a scope: the
// stored root/parent pair, or nil when no continuation exists and the post
// should start a fresh thread.
func (t *Tracker) NextReply(ctx context.Context, account, hashtag string) (*bluesky.ReplyRef, error) {
	c, err := t.store.Get(ctx, account, hashtag)
	if err != nil {
		return nil, fmt.Errorf("load continuation: %w", err)
	}
	if c == nil {
		return nil, nil
	}
	return &bluesky.ReplyRef{Root: c.Root, Parent: c.Parent}, nil
}

// ReplyTo builds the linkage for an explicit reply to a specific foreign
// post: root is that post's own root if it has one, else the post itself;
// parent is the post itself. This bypasses the scoped continuation.
func ReplyTo(post *bluesky.PostView) *bluesky.ReplyRef {
	ref := post.Ref()
	root := ref
	if post.Record.Reply != nil {
		root = post.Record.Reply.Root
	}
	return &bluesky.ReplyRef{Root: root, Parent: ref}
}

// RecordPost records a successfully sent post against its scope. The first
// scoped post becomes both root and parent; later scoped posts advance the
// parent while the root is preserved. Explicit replies to someone else's
// post (isReplyToOther) do not touch the scoped continuation at all.
func (t *Tracker) RecordPost(ctx context.Context, account, hashtag string, ref bluesky.PostRef, isReplyToOther bool) error {
	if isReplyToOther {
		return nil
	}

	c, err := t.store.Get(ctx, account, hashtag)
	if err != nil {
		return fmt.Errorf("load continuation: %w", err)
	}
	if c == nil {
		c = &Continuation{Root: ref}
	}
	c.Parent = ref
	c.UpdatedAt = time.Now().UTC()

	if err := t.store.Put(ctx, account, hashtag, *c); err != nil {
		return fmt.Errorf("save continuation: %w", err)
	}
	return nil
}

// Clear discards the stored continuation for a scope so the next post
// starts a fresh thread.
func (t *Tracker) Clear(ctx context.Context, account, hashtag string) error {
	return t.store.Delete(ctx, account, hashtag)
}
