package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Budget   BudgetConfig   `yaml:"budget" mapstructure:"budget"`
	Approval ApprovalConfig `yaml:"approval" mapstructure:"approval"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Prompt   PromptConfig   `yaml:"prompt" mapstructure:"prompt"`
	ImageGen ImageGenConfig `yaml:"imagegen" mapstructure:"imagegen"`
	Notion   NotionConfig   `yaml:"notion" mapstructure:"notion"`
	Publish  PublishConfig  `yaml:"publish" mapstructure:"publish"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BudgetConfig holds the spend limit hierarchy. All three limits are
// enforced independently; the tightest one governs. Zero disables a limit,
// except the hard ceiling which is always required.
type BudgetConfig struct {
	SessionLimit float64 `yaml:"session_limit" mapstructure:"session_limit"`
	DailyLimit   float64 `yaml:"daily_limit" mapstructure:"daily_limit"`
	HardCeiling  float64 `yaml:"hard_ceiling" mapstructure:"hard_ceiling"`
}

// ApprovalConfig configures the human approval gate.
type ApprovalConfig struct {
	Enabled            bool    `yaml:"enabled" mapstructure:"enabled"`
	BatchSize          int     `yaml:"batch_size" mapstructure:"batch_size"`
	BatchCostThreshold float64 `yaml:"batch_cost_threshold" mapstructure:"batch_cost_threshold"`
	// BatchLingerSecs seals a partially filled batch after this quiet period
	// so trailing items are not parked forever waiting for batch-mates.
	BatchLingerSecs int `yaml:"batch_linger_secs" mapstructure:"batch_linger_secs"`
	TimeoutSecs     int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	// TimeoutPolicy is "approve" or "reject". Required: there is no sane
	// universal default for spending money unattended.
	TimeoutPolicy string `yaml:"timeout_policy" mapstructure:"timeout_policy"`
}

// Timeout returns the approval wait duration.
func (a ApprovalConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// BatchLinger returns the quiet period before a partial batch is sealed.
func (a ApprovalConfig) BatchLinger() time.Duration {
	return time.Duration(a.BatchLingerSecs) * time.Second
}

// RetryConfig configures the recovery strategy chain and circuit breaker.
type RetryConfig struct {
	MaxAttempts             int `yaml:"max_attempts" mapstructure:"max_attempts"`
	BreakerFailureThreshold int `yaml:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold"`
	BreakerCooldownSecs     int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// BreakerCooldown returns the provider cool-down window.
func (r RetryConfig) BreakerCooldown() time.Duration {
	return time.Duration(r.BreakerCooldownSecs) * time.Second
}

// PipelineConfig configures worker concurrency and generation output.
type PipelineConfig struct {
	Workers             int               `yaml:"workers" mapstructure:"workers"`
	RateLimitRPS        float64           `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	ProviderTimeoutSecs int               `yaml:"provider_timeout_secs" mapstructure:"provider_timeout_secs"`
	OutputDir           string            `yaml:"output_dir" mapstructure:"output_dir"`
	FallbackAssets      map[string]string `yaml:"fallback_assets" mapstructure:"fallback_assets"`
}

// ProviderTimeout returns the per-provider-call deadline.
func (p PipelineConfig) ProviderTimeout() time.Duration {
	return time.Duration(p.ProviderTimeoutSecs) * time.Second
}

// PromptModelConfig names one competing prompt model. Priority breaks
// confidence ties; lower values win.
type PromptModelConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // "anthropic" or "perplexity"
	Model    string `yaml:"model" mapstructure:"model"`
	Priority int    `yaml:"priority" mapstructure:"priority"`
}

// PromptConfig configures the prompt competition.
type PromptConfig struct {
	AnthropicKey           string              `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	PerplexityKey          string              `yaml:"perplexity_key" mapstructure:"perplexity_key"`
	PerplexityBaseURL      string              `yaml:"perplexity_base_url" mapstructure:"perplexity_base_url"`
	Models                 []PromptModelConfig `yaml:"models" mapstructure:"models"`
	CompetitionTimeoutSecs int                 `yaml:"competition_timeout_secs" mapstructure:"competition_timeout_secs"`
}

// CompetitionTimeout returns the per-model deadline during competition.
func (p PromptConfig) CompetitionTimeout() time.Duration {
	return time.Duration(p.CompetitionTimeoutSecs) * time.Second
}

// ImageGenConfig configures the image synthesis provider.
type ImageGenConfig struct {
	Key            string   `yaml:"key" mapstructure:"key"`
	BaseURL        string   `yaml:"base_url" mapstructure:"base_url"`
	Model          string   `yaml:"model" mapstructure:"model"`
	FallbackModels []string `yaml:"fallback_models" mapstructure:"fallback_models"`
	Size           string   `yaml:"size" mapstructure:"size"`
	Quality        string   `yaml:"quality" mapstructure:"quality"`
}

// NotionConfig holds Notion API credentials and the asset queue database ID.
type NotionConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	AssetDB string `yaml:"asset_db" mapstructure:"asset_db"`
}

// PublishConfig configures FTP publishing of committed artifacts.
type PublishConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Host      string `yaml:"host" mapstructure:"host"`
	Username  string `yaml:"username" mapstructure:"username"`
	Password  string `yaml:"password" mapstructure:"password"`
	RemoteDir string `yaml:"remote_dir" mapstructure:"remote_dir"`
	// BaseURL is the public URL prefix that maps to RemoteDir.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ServerConfig configures the review/control server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ASSETSMITH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "assetsmith.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("budget.session_limit", 5.00)
	v.SetDefault("budget.daily_limit", 20.00)
	v.SetDefault("budget.hard_ceiling", 50.00)
	v.SetDefault("approval.enabled", true)
	v.SetDefault("approval.batch_size", 10)
	v.SetDefault("approval.batch_cost_threshold", 1.00)
	v.SetDefault("approval.batch_linger_secs", 5)
	v.SetDefault("approval.timeout_secs", 900)
	v.SetDefault("approval.timeout_policy", "reject")
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.breaker_failure_threshold", 5)
	v.SetDefault("retry.breaker_cooldown_secs", 60)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.rate_limit_rps", 2.0)
	v.SetDefault("pipeline.provider_timeout_secs", 120)
	v.SetDefault("pipeline.output_dir", "assets")
	v.SetDefault("prompt.competition_timeout_secs", 30)
	v.SetDefault("prompt.perplexity_base_url", "https://api.perplexity.ai")
	v.SetDefault("imagegen.base_url", "https://api.openai.com/v1")
	v.SetDefault("imagegen.model", "gpt-image-1")
	v.SetDefault("imagegen.size", "1024x1024")
	v.SetDefault("imagegen.quality", "medium")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is internally consistent and that
// everything a generation run needs is present.
func (c *Config) Validate() error {
	if c.Budget.HardCeiling <= 0 {
		return eris.New("config: budget.hard_ceiling must be positive")
	}
	if c.Budget.SessionLimit < 0 || c.Budget.DailyLimit < 0 {
		return eris.New("config: budget limits must not be negative")
	}
	if c.Approval.Enabled {
		switch c.Approval.TimeoutPolicy {
		case "approve", "reject":
		default:
			return eris.Errorf("config: approval.timeout_policy must be \"approve\" or \"reject\", got %q", c.Approval.TimeoutPolicy)
		}
	}
	if c.Retry.MaxAttempts <= 0 {
		return eris.New("config: retry.max_attempts must be positive")
	}
	if c.Pipeline.Workers <= 0 {
		return eris.New("config: pipeline.workers must be positive")
	}
	if c.Pipeline.RateLimitRPS <= 0 {
		return eris.New("config: pipeline.rate_limit_rps must be positive")
	}
	if len(c.Prompt.Models) == 0 {
		return eris.New("config: at least one prompt model is required")
	}
	for _, m := range c.Prompt.Models {
		switch m.Provider {
		case "anthropic", "perplexity":
		default:
			return eris.Errorf("config: unknown prompt provider %q", m.Provider)
		}
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
