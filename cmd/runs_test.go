package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/assetsmith/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Status:    model.RunStatusComplete,
			Spent:     1.2345,
			StartedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Status:    model.RunStatusAborted,
			Spent:     0.42,
			StartedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "SPENT")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "aborted")
	assert.Contains(t, output, "$1.2345")
	assert.Contains(t, output, "$0.4200")
	assert.Contains(t, output, "2026-08-15 10:30")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "2m0s")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestSummarize(t *testing.T) {
	counts := summarize([]model.ManifestEntry{
		{AssetID: "a", FinalState: model.StateCommitted},
		{AssetID: "b", FinalState: model.StateCommitted},
		{AssetID: "c", FinalState: model.StateFailed},
		{AssetID: "d", FinalState: model.StateSkipped},
	})
	assert.Equal(t, 2, counts[model.StateCommitted])
	assert.Equal(t, 1, counts[model.StateFailed])
	assert.Equal(t, 1, counts[model.StateSkipped])
	assert.Zero(t, counts[model.StateBudgetExhausted])
}
