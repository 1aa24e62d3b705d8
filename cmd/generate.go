package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/assetsmith/internal/model"
)

var (
	generateRequests string
	generateRunID    string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run asset generation headlessly",
	Long:  "Loads the request queue, runs the full generation pipeline and prints the run result as JSON. Interrupting with SIGINT aborts gracefully: in-flight items finish and the checkpoint stays resumable.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		reqs, err := loadRequests(ctx, env, generateRequests)
		if err != nil {
			return err
		}

		runID := generateRunID
		if runID == "" {
			runID = uuid.New().String()
		}

		// A signal aborts through the controller rather than context
		// cancellation so paid in-flight work completes and gets saved.
		go func() {
			<-ctx.Done()
			env.Pipeline.Controller().Abort()
		}()

		result, err := executeRun(cmd.Context(), env, runID, reqs)
		if err != nil {
			return eris.Wrap(err, "generate")
		}

		zap.L().Info("generation complete",
			zap.String("run_id", result.RunID),
			zap.String("status", string(result.Status)),
			zap.Float64("spent", result.Spent),
			zap.Int("processed", len(result.Entries)),
			zap.Any("states", summarize(result.Entries)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume an interrupted run from its checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		runID := args[0]
		if _, err := env.Store.GetRun(ctx, runID); err != nil {
			return eris.Wrapf(err, "resume: unknown run %s", runID)
		}

		reqs, err := loadRequests(ctx, env, generateRequests)
		if err != nil {
			return err
		}

		go func() {
			<-ctx.Done()
			env.Pipeline.Controller().Abort()
		}()

		result, err := executeRun(cmd.Context(), env, runID, reqs)
		if err != nil {
			return eris.Wrap(err, "resume")
		}

		zap.L().Info("resume complete",
			zap.String("run_id", result.RunID),
			zap.String("status", string(result.Status)),
			zap.Float64("spent_total", result.Spent),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// summarize tallies entries by terminal state for log output.
func summarize(entries []model.ManifestEntry) map[model.ItemState]int {
	counts := make(map[model.ItemState]int)
	for _, e := range entries {
		counts[e.FinalState]++
	}
	return counts
}

func init() {
	generateCmd.Flags().StringVar(&generateRequests, "requests", "", "YAML request file (merged over the Notion queue)")
	generateCmd.Flags().StringVar(&generateRunID, "run-id", "", "run identifier (default: new UUID)")
	resumeCmd.Flags().StringVar(&generateRequests, "requests", "", "YAML request file (merged over the Notion queue)")
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(resumeCmd)
}
