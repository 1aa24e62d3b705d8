package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/assetsmith/internal/config"
	"github.com/sells-group/assetsmith/internal/server"
)

var (
	servePort     int
	serveRequests string
	serveRunID    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run generation with the review and control server",
	Long:  "Starts the HTTP review server, then runs the pipeline. Reviewers decide approval batches and steer the run (pause, resume, abort, skip, speed) over the API while events stream live.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		reqs, err := loadRequests(ctx, env, serveRequests)
		if err != nil {
			return err
		}

		runID := serveRunID
		if runID == "" {
			runID = uuid.New().String()
		}

		srv := &http.Server{ReadHeaderTimeout: 10 * time.Second}
		serverErr := make(chan error, 1)
		go func() {
			serverErr <- server.New(env.Pipeline, env.Store, env.Events).Listen(srv, serverConfig())
		}()

		// A signal aborts the run through the controller; in-flight paid
		// work finishes and checkpoints.
		go func() {
			<-ctx.Done()
			env.Pipeline.Controller().Abort()
		}()

		result, runErr := executeRun(cmd.Context(), env, runID, reqs)
		if result != nil {
			zap.L().Info("run finished, shutting down server",
				zap.String("run_id", result.RunID),
				zap.String("status", string(result.Status)),
				zap.Float64("spent", result.Spent),
			)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
		if err := <-serverErr; err != nil {
			zap.L().Error("server", zap.Error(err))
		}

		if runErr != nil {
			return eris.Wrap(runErr, "serve")
		}
		return nil
	},
}

func serverConfig() config.ServerConfig {
	sc := cfg.Server
	if servePort != 0 {
		sc.Port = servePort
	}
	return sc
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveRequests, "requests", "", "YAML request file (merged over the Notion queue)")
	serveCmd.Flags().StringVar(&serveRunID, "run-id", "", "run identifier (default: new UUID)")
	rootCmd.AddCommand(serveCmd)
}
