package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assetsmith/internal/competition"
	"github.com/sells-group/assetsmith/internal/cost"
	"github.com/sells-group/assetsmith/internal/discovery"
	"github.com/sells-group/assetsmith/internal/events"
	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/internal/pipeline"
	"github.com/sells-group/assetsmith/internal/publish"
	"github.com/sells-group/assetsmith/internal/store"
	anthropicpkg "github.com/sells-group/assetsmith/pkg/anthropic"
	"github.com/sells-group/assetsmith/pkg/imagegen"
	"github.com/sells-group/assetsmith/pkg/notion"
	"github.com/sells-group/assetsmith/pkg/perplexity"
)

// pipelineEnv holds the initialized store, clients and pipeline shared by
// the generate/resume/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Events   *events.Publisher
	Notion   *discovery.NotionSource // nil when Notion is not configured
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Events != nil {
		pe.Events.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "assetsmith.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// buildPromptModels creates the competing prompt models from config. Clients
// are shared between models of the same provider.
func buildPromptModels(calc *cost.Calculator) ([]competition.Model, error) {
	var (
		anthropicClient  anthropicpkg.Client
		perplexityClient perplexity.Client
		models           []competition.Model
	)
	for _, mc := range cfg.Prompt.Models {
		switch mc.Provider {
		case "anthropic":
			if cfg.Prompt.AnthropicKey == "" {
				return nil, eris.New("anthropic prompt model configured without ASSETSMITH_PROMPT_ANTHROPIC_KEY")
			}
			if anthropicClient == nil {
				anthropicClient = anthropicpkg.NewClient(cfg.Prompt.AnthropicKey)
			}
			models = append(models, competition.NewAnthropicModel(anthropicClient, mc.Model, mc.Priority, calc))
		case "perplexity":
			if cfg.Prompt.PerplexityKey == "" {
				return nil, eris.New("perplexity prompt model configured without ASSETSMITH_PROMPT_PERPLEXITY_KEY")
			}
			if perplexityClient == nil {
				perplexityClient = perplexity.NewClient(cfg.Prompt.PerplexityKey,
					perplexity.WithBaseURL(cfg.Prompt.PerplexityBaseURL))
			}
			models = append(models, competition.NewPerplexityModel(perplexityClient, mc.Model, mc.Priority, calc))
		default:
			return nil, eris.Errorf("unknown prompt provider: %s", mc.Provider)
		}
	}
	return models, nil
}

// initPipeline sets up the store, all API clients, and the pipeline.
// Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	calc := cost.NewCalculator(cost.DefaultRates())
	models, err := buildPromptModels(calc)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	comp := competition.New(models, cfg.Prompt.CompetitionTimeout(), nil)

	var synthOpts []imagegen.Option
	if cfg.ImageGen.BaseURL != "" {
		synthOpts = append(synthOpts, imagegen.WithBaseURL(cfg.ImageGen.BaseURL))
	}
	synth := imagegen.NewClient(cfg.ImageGen.Key, synthOpts...)

	var publisher pipeline.ArtifactPublisher
	if cfg.Publish.Enabled {
		publisher = publish.NewFTPPublisher(cfg.Publish)
		zap.L().Info("ftp publishing enabled", zap.String("host", cfg.Publish.Host))
	}

	pub := events.NewPublisher()
	p := pipeline.New(cfg, st, comp, synth, publisher, pub, calc)

	env := &pipelineEnv{
		Store:    st,
		Pipeline: p,
		Events:   pub,
	}
	if cfg.Notion.Token != "" && cfg.Notion.AssetDB != "" {
		env.Notion = discovery.NewNotionSource(
			notion.NewClient(cfg.Notion.Token),
			cfg.Notion.AssetDB,
		)
	}
	return env, nil
}

// loadRequests assembles the request queue for a run. A request file takes
// precedence over the Notion queue when both name the same asset.
func loadRequests(ctx context.Context, env *pipelineEnv, requestFile string) ([]model.GenerationRequest, error) {
	var sources []discovery.Source
	if requestFile != "" {
		sources = append(sources, discovery.NewFileSource(requestFile))
	}
	if env.Notion != nil {
		sources = append(sources, env.Notion)
	}
	if len(sources) == 0 {
		return nil, eris.New("no request sources: pass --requests or configure notion.token and notion.asset_db")
	}

	reqs, err := discovery.Merge(ctx, sources...)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, eris.New("request queue is empty")
	}
	return reqs, nil
}

// executeRun drives one pipeline run including Notion status write-back.
func executeRun(ctx context.Context, env *pipelineEnv, runID string, reqs []model.GenerationRequest) (*pipeline.RunResult, error) {
	if env.Notion != nil {
		env.Notion.MarkStarted(ctx, reqs)
	}

	result, err := env.Pipeline.Run(ctx, runID, reqs)
	if result != nil && env.Notion != nil {
		// Write outcomes back even for failed runs; committed items stay
		// committed regardless of how the run ended.
		env.Notion.WriteBack(context.WithoutCancel(ctx), reqs, result.Entries)
	}
	return result, err
}
