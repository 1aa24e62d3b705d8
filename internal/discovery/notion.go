package discovery

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/pkg/notion"
)

// NotionSource loads pending rows from a Notion asset queue database and
// writes generation status back when items finish.
type NotionSource struct {
	client notion.Client
	dbID   string
}

// NewNotionSource creates a source backed by the given queue database.
func NewNotionSource(client notion.Client, dbID string) *NotionSource {
	return &NotionSource{client: client, dbID: dbID}
}

func (s *NotionSource) Name() string {
	return "notion:" + s.dbID
}

// Load queries the queue for rows with Status=Pending. Rows with an unknown
// kind are logged and skipped instead of failing the run: a single bad row
// in a shared database should not block everyone else's assets.
func (s *NotionSource) Load(ctx context.Context) ([]model.GenerationRequest, error) {
	rows, err := notion.QueryPendingAssets(ctx, s.client, s.dbID)
	if err != nil {
		return nil, err
	}

	out := make([]model.GenerationRequest, 0, len(rows))
	for _, row := range rows {
		kind, ok := model.ParseAssetKind(row.Kind)
		if !ok {
			zap.L().Warn("discovery: skipping notion row with unknown kind",
				zap.String("asset_id", row.AssetID),
				zap.String("kind", row.Kind),
				zap.String("page_id", row.PageID),
			)
			continue
		}
		out = append(out, model.GenerationRequest{
			AssetID:         row.AssetID,
			Kind:            kind,
			SeedDescription: row.Description,
			Priority:        model.Priority(row.Priority),
			NotionPageID:    row.PageID,
		})
	}

	zap.L().Info("discovery: loaded notion queue",
		zap.String("database", s.dbID),
		zap.Int("pending", len(rows)),
		zap.Int("requests", len(out)),
	)
	return out, nil
}

// MarkStarted flips queued rows to Generating so reviewers watching the
// database can see a run has picked them up.
func (s *NotionSource) MarkStarted(ctx context.Context, reqs []model.GenerationRequest) {
	for _, req := range reqs {
		if req.NotionPageID == "" {
			continue
		}
		if err := notion.MarkAssetStatus(ctx, s.client, req.NotionPageID, notion.StatusGenerating); err != nil {
			zap.L().Warn("discovery: mark generating failed",
				zap.String("asset_id", req.AssetID),
				zap.Error(err),
			)
		}
	}
}

// WriteBack records final per-asset outcomes on the queue. Committed items
// become Done with the published URL; failures become Failed. Items the run
// never finished (aborted, budget exhausted) keep their Generating status so
// a resume picks them up after the operator flips them back to Pending.
func (s *NotionSource) WriteBack(ctx context.Context, reqs []model.GenerationRequest, entries []model.ManifestEntry) {
	pages := make(map[string]string, len(reqs))
	for _, req := range reqs {
		if req.NotionPageID != "" {
			pages[req.AssetID] = req.NotionPageID
		}
	}

	for _, entry := range entries {
		pageID, ok := pages[entry.AssetID]
		if !ok {
			continue
		}
		var err error
		switch entry.FinalState {
		case model.StateCommitted:
			err = notion.MarkAssetDone(ctx, s.client, pageID, entry.PublicURL)
		case model.StateFailed:
			err = notion.MarkAssetStatus(ctx, s.client, pageID, notion.StatusFailed)
		default:
			continue
		}
		if err != nil {
			zap.L().Warn("discovery: notion write-back failed",
				zap.String("asset_id", entry.AssetID),
				zap.String("state", string(entry.FinalState)),
				zap.Error(err),
			)
		}
	}
}
