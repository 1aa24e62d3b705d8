package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/internal/store"
)

// fakeStore implements just the artifact operations used by the cache.
type fakeStore struct {
	store.Store

	mu        sync.Mutex
	artifacts map[string]model.Artifact
	failPut   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{artifacts: make(map[string]model.Artifact)}
}

func (f *fakeStore) GetArtifact(_ context.Context, fp string) (*model.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.artifacts[fp]; ok {
		return &a, nil
	}
	return nil, nil
}

func (f *fakeStore) PutArtifact(_ context.Context, a model.Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return eris.New("disk full")
	}
	if _, ok := f.artifacts[a.Fingerprint]; !ok {
		f.artifacts[a.Fingerprint] = a
	}
	return nil
}

func (f *fakeStore) DeleteArtifact(_ context.Context, fp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.artifacts, fp)
	return nil
}

func TestCache_MissGeneratesAndStores(t *testing.T) {
	st := newFakeStore()
	c := New(st)

	var calls int
	a, hit, err := c.GetOrGenerate(context.Background(), "fp-1", func(_ context.Context) (*model.Artifact, error) {
		calls++
		return &model.Artifact{FilePath: "assets/a.png", Cost: 0.04}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hit {
		t.Error("first generation must not be a cache hit")
	}
	if calls != 1 {
		t.Errorf("expected 1 generation, got %d", calls)
	}
	if a.Fingerprint != "fp-1" {
		t.Errorf("expected fingerprint set on artifact, got %q", a.Fingerprint)
	}

	// Second call is served from the store.
	a2, hit, err := c.GetOrGenerate(context.Background(), "fp-1", func(_ context.Context) (*model.Artifact, error) {
		calls++
		return nil, eris.New("should not be called")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hit {
		t.Error("expected cache hit on second call")
	}
	if calls != 1 {
		t.Errorf("expected no further generations, got %d", calls)
	}
	if a2.FilePath != a.FilePath {
		t.Errorf("expected same artifact, got %q vs %q", a2.FilePath, a.FilePath)
	}
}

func TestCache_ConcurrentIdenticalRequestsGenerateOnce(t *testing.T) {
	st := newFakeStore()
	c := New(st)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int

	type outcome struct {
		artifact *model.Artifact
		hit      bool
		err      error
	}
	results := make(chan outcome, 2)

	run := func() {
		a, hit, err := c.GetOrGenerate(context.Background(), "icon-07", func(_ context.Context) (*model.Artifact, error) {
			calls++
			close(entered)
			<-release
			return &model.Artifact{FilePath: "assets/icon-07.png", Cost: 0.04}, nil
		})
		results <- outcome{a, hit, err}
	}

	go run()
	<-entered
	go run()
	// Let the second caller reach the singleflight barrier before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)

	first, second := <-results, <-results
	for _, o := range []outcome{first, second} {
		if o.err != nil {
			t.Fatalf("unexpected error: %v", o.err)
		}
		if o.artifact.FilePath != "assets/icon-07.png" {
			t.Errorf("unexpected artifact path %q", o.artifact.FilePath)
		}
	}
	if calls != 1 {
		t.Errorf("expected exactly one paid generation, got %d", calls)
	}
	hits := 0
	if first.hit {
		hits++
	}
	if second.hit {
		hits++
	}
	if hits != 1 {
		t.Errorf("expected exactly one of two callers to see a hit, got %d", hits)
	}
}

func TestCache_GenerationErrorNotCached(t *testing.T) {
	st := newFakeStore()
	c := New(st)

	_, _, err := c.GetOrGenerate(context.Background(), "fp-1", func(_ context.Context) (*model.Artifact, error) {
		return nil, eris.New("provider down")
	})
	if err == nil {
		t.Fatal("expected error")
	}

	a, err := c.Lookup(context.Background(), "fp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != nil {
		t.Error("failed generation must not leave a cache entry")
	}
}

func TestCache_StoreFailureSurfaces(t *testing.T) {
	st := newFakeStore()
	st.failPut = true
	c := New(st)

	_, _, err := c.GetOrGenerate(context.Background(), "fp-1", func(_ context.Context) (*model.Artifact, error) {
		return &model.Artifact{FilePath: "assets/a.png"}, nil
	})
	if err == nil {
		t.Fatal("expected store failure to surface; cache integrity is fatal")
	}
}

func TestCache_Invalidate(t *testing.T) {
	st := newFakeStore()
	c := New(st)

	_, _, err := c.GetOrGenerate(context.Background(), "fp-1", func(_ context.Context) (*model.Artifact, error) {
		return &model.Artifact{FilePath: "assets/a.png"}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.Invalidate(context.Background(), "fp-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, err := c.Lookup(context.Background(), "fp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != nil {
		t.Error("expected entry removed after invalidate")
	}
}
