package profiles

import (
	"context"
	"errors"
	"testing"

	"github.com/tagstream/tagstream/internal/bluesky"
)

type fakeProfileClient struct {
	calls int
	err   error
}

func (f *fakeProfileClient) GetProfile(_ context.Context, actor string) (*bluesky.ProfileView, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &bluesky.ProfileView{DID: actor, Handle: "someone.test"}, nil
}

func TestEnsureFetchesOnce(t *testing.T) {
	client := &fakeProfileClient{}
	cache := NewCache(client)

	for i := 0; i < 3; i++ {
		if err := cache.Ensure(context.Background(), "did:plc:alice"); err != nil {
			t.Fatalf("Ensure: %v", err)
		}
	}
	if client.calls != 1 {
		t.Fatalf("GetProfile called %d times, want 1", client.calls)
	}
	if _, ok := cache.Get("did:plc:alice"); !ok {
		t.Fatal("profile not cached after Ensure")
	}
}

func TestEnsureFailureLeavesAbsent(t *testing.T) {
	client := &fakeProfileClient{err: errors.New("lookup failed")}
	cache := NewCache(client)

	if err := cache.Ensure(context.Background(), "did:plc:bob"); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := cache.Get("did:plc:bob"); ok {
		t.Fatal("failed lookup must not populate the cache")
	}

	// a later Ensure retries after a failure
	client.err = nil
	if err := cache.Ensure(context.Background(), "did:plc:bob"); err != nil {
		t.Fatalf("Ensure retry: %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("GetProfile called %d times, want 2", client.calls)
	}
}

func TestPut(t *testing.T) {
	cache := NewCache(&fakeProfileClient{})

	cache.Put(&bluesky.ProfileView{DID: "did:plc:carol", Handle: "carol.test"})
	view, ok := cache.Get("did:plc:carol")
	if !ok || view.Handle != "carol.test" {
		t.Fatalf("Get = (%v, %v), want cached profile", view, ok)
	}

	cache.Put(nil)
	cache.Put(&bluesky.ProfileView{})
	if cache.Len() != 1 {
		t.Fatalf("Len = %d, want 1", cache.Len())
	}
}
