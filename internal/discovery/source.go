// Package discovery supplies the pipeline's input queue: generation
// requests loaded from a YAML request file or from a Notion asset database.
package discovery

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assetsmith/internal/model"
)

// Source produces the ordered request collection for a run.
type Source interface {
	// Name identifies the source in logs and errors.
	Name() string
	Load(ctx context.Context) ([]model.GenerationRequest, error)
}

// Merge combines requests from several sources in order. The first source
// to name an asset ID wins; later duplicates are dropped so a file override
// can shadow a Notion row.
func Merge(ctx context.Context, sources ...Source) ([]model.GenerationRequest, error) {
	seen := make(map[string]struct{})
	var out []model.GenerationRequest
	for _, src := range sources {
		reqs, err := src.Load(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "discovery: load from %s", src.Name())
		}
		for _, req := range reqs {
			if _, dup := seen[req.AssetID]; dup {
				continue
			}
			seen[req.AssetID] = struct{}{}
			out = append(out, req)
		}
	}
	return out, nil
}
