package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/pkg/notion"
)

// stubNotion serves canned queue rows and records status updates.
type stubNotion struct {
	pages    []notionapi.Page
	queryErr error
	updates  map[string][]notionapi.Properties
}

func (s *stubNotion) QueryDatabase(_ context.Context, _ string, _ *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return &notionapi.DatabaseQueryResponse{Results: s.pages}, nil
}

func (s *stubNotion) UpdatePage(_ context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	if s.updates == nil {
		s.updates = make(map[string][]notionapi.Properties)
	}
	s.updates[pageID] = append(s.updates[pageID], req.Properties)
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func queuePage(pageID, assetID, kind, desc string, priority float64) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(pageID),
		Properties: notionapi.Properties{
			"Asset ID": &notionapi.TitleProperty{
				Title: []notionapi.RichText{{PlainText: assetID}},
			},
			"Kind": &notionapi.SelectProperty{
				Select: notionapi.Option{Name: kind},
			},
			"Description": &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: desc}},
			},
			"Priority": &notionapi.NumberProperty{Number: priority},
			"Status": &notionapi.SelectProperty{
				Select: notionapi.Option{Name: notion.StatusPending},
			},
		},
	}
}

func TestNotionSourceLoad(t *testing.T) {
	stub := &stubNotion{pages: []notionapi.Page{
		queuePage("page-1", "icon-finance", "icon", "a ledger", 2),
		queuePage("page-2", "banner-01", "hologram", "not a real kind", 0),
		queuePage("page-3", "cover-landing", "cover", "a skyline", 1),
	}}

	reqs, err := NewNotionSource(stub, "db-1").Load(context.Background())
	require.NoError(t, err)
	require.Len(t, reqs, 2, "unknown kind row is skipped")

	assert.Equal(t, "icon-finance", reqs[0].AssetID)
	assert.Equal(t, model.AssetKindIcon, reqs[0].Kind)
	assert.Equal(t, "a ledger", reqs[0].SeedDescription)
	assert.Equal(t, model.PriorityHigh, reqs[0].Priority)
	assert.Equal(t, "page-1", reqs[0].NotionPageID)

	assert.Equal(t, "cover-landing", reqs[1].AssetID)
	assert.Equal(t, "page-3", reqs[1].NotionPageID)
}

func TestNotionSourceWriteBack(t *testing.T) {
	stub := &stubNotion{}
	src := NewNotionSource(stub, "db-1")

	reqs := []model.GenerationRequest{
		{AssetID: "icon-a", NotionPageID: "page-a"},
		{AssetID: "icon-b", NotionPageID: "page-b"},
		{AssetID: "icon-c", NotionPageID: "page-c"},
		{AssetID: "icon-local"}, // file-sourced, no page
	}
	entries := []model.ManifestEntry{
		{AssetID: "icon-a", FinalState: model.StateCommitted, PublicURL: "https://cdn.example.com/a.png"},
		{AssetID: "icon-b", FinalState: model.StateFailed, Error: "provider rejected prompt"},
		{AssetID: "icon-c", FinalState: model.StateSkipped},
		{AssetID: "icon-local", FinalState: model.StateCommitted},
	}

	src.WriteBack(context.Background(), reqs, entries)

	require.Len(t, stub.updates["page-a"], 1)
	props := stub.updates["page-a"][0]
	status := props["Status"].(notionapi.SelectProperty)
	assert.Equal(t, notion.StatusDone, status.Select.Name)
	url := props["Asset URL"].(notionapi.URLProperty)
	assert.Equal(t, "https://cdn.example.com/a.png", url.URL)

	require.Len(t, stub.updates["page-b"], 1)
	status = stub.updates["page-b"][0]["Status"].(notionapi.SelectProperty)
	assert.Equal(t, notion.StatusFailed, status.Select.Name)

	assert.Empty(t, stub.updates["page-c"], "skipped items keep their queue status")
}

func TestNotionSourceMarkStarted(t *testing.T) {
	stub := &stubNotion{}
	src := NewNotionSource(stub, "db-1")

	src.MarkStarted(context.Background(), []model.GenerationRequest{
		{AssetID: "icon-a", NotionPageID: "page-a"},
		{AssetID: "icon-local"},
	})

	require.Len(t, stub.updates["page-a"], 1)
	status := stub.updates["page-a"][0]["Status"].(notionapi.SelectProperty)
	assert.Equal(t, notion.StatusGenerating, status.Select.Name)
	assert.Len(t, stub.updates, 1)
}

func TestNotionSourceLoadError(t *testing.T) {
	stub := &stubNotion{queryErr: context.DeadlineExceeded}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewNotionSource(stub, "db-1").Load(ctx)
	require.Error(t, err)
}
