package notion

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Queue status values for the Status select property.
const (
	StatusPending    = "Pending"
	StatusGenerating = "Generating"
	StatusDone       = "Done"
	StatusFailed     = "Failed"
)

// Property names expected on the asset queue database.
const (
	propAssetID     = "Asset ID"
	propKind        = "Kind"
	propDescription = "Description"
	propPriority    = "Priority"
	propStatus      = "Status"
	propAssetURL    = "Asset URL"
)

// AssetRow is one row of the asset queue database.
type AssetRow struct {
	PageID      string
	AssetID     string
	Kind        string
	Description string
	Priority    int
	Status      string
}

// QueryPendingAssets returns every row whose Status is Pending, following
// pagination. Rows without an Asset ID title are skipped rather than failing
// the whole queue.
func QueryPendingAssets(ctx context.Context, c Client, dbID string) ([]AssetRow, error) {
	req := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: propStatus,
			Select:   &notionapi.SelectFilterCondition{Equals: StatusPending},
		},
	}

	var rows []AssetRow
	for {
		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query pending assets")
		}
		for _, page := range resp.Results {
			row := parseAssetRow(page)
			if row.AssetID == "" {
				continue
			}
			rows = append(rows, row)
		}
		if !resp.HasMore {
			break
		}
		req.StartCursor = resp.NextCursor
	}
	return rows, nil
}

// MarkAssetStatus flips a row's Status select.
func MarkAssetStatus(ctx context.Context, c Client, pageID, status string) error {
	_, err := c.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			propStatus: notionapi.SelectProperty{
				Select: notionapi.Option{Name: status},
			},
		},
	})
	return eris.Wrapf(err, "notion: mark asset %s %s", pageID, status)
}

// MarkAssetDone sets the row's Status to Done and records the published
// asset URL when one exists.
func MarkAssetDone(ctx context.Context, c Client, pageID, assetURL string) error {
	props := notionapi.Properties{
		propStatus: notionapi.SelectProperty{
			Select: notionapi.Option{Name: StatusDone},
		},
	}
	if assetURL != "" {
		props[propAssetURL] = notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  assetURL,
		}
	}
	_, err := c.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{Properties: props})
	return eris.Wrapf(err, "notion: mark asset %s done", pageID)
}

// parseAssetRow maps page properties onto an AssetRow.
func parseAssetRow(page notionapi.Page) AssetRow {
	row := AssetRow{PageID: string(page.ID)}
	for name, prop := range page.Properties {
		switch name {
		case propAssetID:
			if tp, ok := prop.(*notionapi.TitleProperty); ok {
				row.AssetID = richTextPlain(tp.Title)
			}
		case propKind:
			if sp, ok := prop.(*notionapi.SelectProperty); ok {
				row.Kind = sp.Select.Name
			}
		case propDescription:
			if rt, ok := prop.(*notionapi.RichTextProperty); ok {
				row.Description = richTextPlain(rt.RichText)
			}
		case propPriority:
			if np, ok := prop.(*notionapi.NumberProperty); ok {
				row.Priority = int(np.Number)
			}
		case propStatus:
			if sp, ok := prop.(*notionapi.SelectProperty); ok {
				row.Status = sp.Select.Name
			}
		}
	}
	return row
}

func richTextPlain(parts []notionapi.RichText) string {
	var b strings.Builder
	for _, part := range parts {
		if part.PlainText != "" {
			b.WriteString(part.PlainText)
		} else if part.Text != nil {
			b.WriteString(part.Text.Content)
		}
	}
	return strings.TrimSpace(b.String())
}
