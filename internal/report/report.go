// Package report renders a run's manifest and spend summary as an XLSX
// workbook for review outside the pipeline.
package report

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/internal/store"
)

const costFormat = "0.0000"

// Write renders the workbook for runID to path. The workbook has a Manifest
// sheet with one row per asset and a Summary sheet with per-state counts and
// the run's total spend.
func Write(ctx context.Context, st store.Store, runID, path string) error {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return eris.Wrapf(err, "report: load run %s", runID)
	}
	entries, err := st.GetManifest(ctx, runID)
	if err != nil {
		return eris.Wrapf(err, "report: load manifest for %s", runID)
	}

	f := xlsx.NewFile()
	if err := addManifestSheet(f, entries); err != nil {
		return err
	}
	if err := addSummarySheet(f, run, entries); err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}

	zap.L().Info("report: wrote workbook",
		zap.String("run_id", runID),
		zap.String("path", path),
		zap.Int("entries", len(entries)),
	)
	return nil
}

func addManifestSheet(f *xlsx.File, entries []model.ManifestEntry) error {
	sheet, err := f.AddSheet("Manifest")
	if err != nil {
		return eris.Wrap(err, "report: add manifest sheet")
	}

	header := sheet.AddRow()
	for _, name := range []string{
		"Asset ID", "State", "Cost (USD)", "Cache Hit",
		"Model", "Prompt", "File", "Public URL", "Error",
	} {
		header.AddCell().SetString(name)
	}

	for _, e := range entries {
		row := sheet.AddRow()
		row.AddCell().SetString(e.AssetID)
		row.AddCell().SetString(string(e.FinalState))
		row.AddCell().SetFloatWithFormat(e.Cost, costFormat)
		row.AddCell().SetBool(e.CacheHit)
		row.AddCell().SetString(e.SelectedModel)
		row.AddCell().SetString(e.SelectedPrompt)
		row.AddCell().SetString(e.FilePath)
		row.AddCell().SetString(e.PublicURL)
		row.AddCell().SetString(e.Error)
	}
	return nil
}

func addSummarySheet(f *xlsx.File, run *model.Run, entries []model.ManifestEntry) error {
	sheet, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}

	counts := make(map[model.ItemState]int)
	var manifestCost float64
	cacheHits := 0
	for _, e := range entries {
		counts[e.FinalState]++
		manifestCost += e.Cost
		if e.CacheHit {
			cacheHits++
		}
	}

	addKV := func(key string, set func(*xlsx.Cell)) {
		row := sheet.AddRow()
		row.AddCell().SetString(key)
		set(row.AddCell())
	}

	addKV("Run ID", func(c *xlsx.Cell) { c.SetString(run.ID) })
	addKV("Status", func(c *xlsx.Cell) { c.SetString(string(run.Status)) })
	addKV("Started", func(c *xlsx.Cell) { c.SetString(run.StartedAt.UTC().Format(time.RFC3339)) })
	addKV("Total Assets", func(c *xlsx.Cell) { c.SetInt(len(entries)) })
	for _, state := range []model.ItemState{
		model.StateCommitted, model.StateFailed, model.StateSkipped, model.StateBudgetExhausted,
	} {
		state := state
		addKV(string(state), func(c *xlsx.Cell) { c.SetInt(counts[state]) })
	}
	addKV("Cache Hits", func(c *xlsx.Cell) { c.SetInt(cacheHits) })
	addKV("Manifest Cost (USD)", func(c *xlsx.Cell) { c.SetFloatWithFormat(manifestCost, costFormat) })
	addKV("Run Spend (USD)", func(c *xlsx.Cell) { c.SetFloatWithFormat(run.Spent, costFormat) })
	return nil
}
