// Package dedup implements the content-addressed artifact cache. Lookup and
// store are linearizable per fingerprint: concurrent identical requests
// serialize behind a single paid generation and share its result.
package dedup

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/internal/store"
)

// GenerateFunc produces an artifact for a cache miss. It must only return a
// non-nil artifact once the artifact file is durably written; the cache
// commits the store record after it returns, so a crash mid-generation never
// leaves a dangling cache hit.
type GenerateFunc func(ctx context.Context) (*model.Artifact, error)

// Cache is the deduplication cache. Entries never expire automatically;
// Invalidate supports manual removal.
type Cache struct {
	store store.Store
	group singleflight.Group
}

// New creates a Cache over the given store.
func New(st store.Store) *Cache {
	return &Cache{store: st}
}

// Lookup returns the cached artifact for fp, or nil on a miss.
func (c *Cache) Lookup(ctx context.Context, fp string) (*model.Artifact, error) {
	a, err := c.store.GetArtifact(ctx, fp)
	return a, eris.Wrapf(err, "dedup: lookup %s", fp)
}

// result carries the singleflight payload plus whether it was served from
// the persistent cache rather than a fresh generation.
type result struct {
	artifact  *model.Artifact
	fromStore bool
}

// GetOrGenerate returns the artifact for fp, generating at most once across
// concurrent callers. The returned hit flag is true when this caller did not
// pay for a generation: either the artifact was already cached, or an
// identical in-flight request produced it.
func (c *Cache) GetOrGenerate(ctx context.Context, fp string, gen GenerateFunc) (*model.Artifact, bool, error) {
	// executedHere distinguishes the caller that ran the generation from
	// callers that joined an in-flight one; singleflight's shared flag alone
	// cannot (it is true for the payer too).
	var executedHere bool
	v, err, _ := c.group.Do(fp, func() (any, error) {
		executedHere = true
		cached, err := c.store.GetArtifact(ctx, fp)
		if err != nil {
			return nil, eris.Wrapf(err, "dedup: lookup %s", fp)
		}
		if cached != nil {
			return result{artifact: cached, fromStore: true}, nil
		}

		artifact, err := gen(ctx)
		if err != nil {
			return nil, err
		}
		artifact.Fingerprint = fp

		// Commit the cache record only after the file is durably written;
		// gen guarantees durability before returning.
		if err := c.store.PutArtifact(ctx, *artifact); err != nil {
			return nil, eris.Wrapf(err, "dedup: store %s", fp)
		}
		return result{artifact: artifact}, nil
	})
	if err != nil {
		return nil, false, err
	}

	r := v.(result)
	hit := r.fromStore || !executedHere
	if hit {
		zap.L().Debug("dedup: cache hit",
			zap.String("fingerprint", fp),
			zap.Bool("shared_inflight", !executedHere),
		)
	}
	return r.artifact, hit, nil
}

// Invalidate removes a cache entry. The artifact file itself is left in
// place; manifest consumers own file lifecycle.
func (c *Cache) Invalidate(ctx context.Context, fp string) error {
	return eris.Wrapf(c.store.DeleteArtifact(ctx, fp), "dedup: invalidate %s", fp)
}
