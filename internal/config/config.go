package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is the prefix for environment variable overrides
// (LEXLEADS_ANTHROPIC_KEY, LEXLEADS_STORE_DRIVER, ...).
const EnvPrefix = "LEXLEADS"

// Config holds the full application configuration. A loaded Config is
// treated as an immutable snapshot: components receive it at construction.
type Config struct {
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	SerpAPI    SerpAPIConfig    `yaml:"serpapi" mapstructure:"serpapi"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Structure  StructureConfig  `yaml:"structure" mapstructure:"structure"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings. Each pipeline stage can run
// on its own model.
type AnthropicConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	IntentModel    string  `yaml:"intent_model" mapstructure:"intent_model"`
	SearchModel    string  `yaml:"search_model" mapstructure:"search_model"`
	StructureModel string  `yaml:"structure_model" mapstructure:"structure_model"`
	MaxTokens      int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RPS            float64 `yaml:"rps" mapstructure:"rps"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// SerpAPIConfig holds SerpApi settings. LocalProxyURL and CORSProxyURL are
// tried before the direct endpoint when set.
type SerpAPIConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	LocalProxyURL string `yaml:"local_proxy_url" mapstructure:"local_proxy_url"`
	CORSProxyURL  string `yaml:"cors_proxy_url" mapstructure:"cors_proxy_url"`
	Engine        string `yaml:"engine" mapstructure:"engine"`
	Num           int    `yaml:"num" mapstructure:"num"`
	HL            string `yaml:"hl" mapstructure:"hl"`
	GL            string `yaml:"gl" mapstructure:"gl"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SearchConfig configures the search strategy chain.
type SearchConfig struct {
	// GroundedProvider selects the LLM grounded search backend:
	// "anthropic" (web search tool) or "perplexity".
	GroundedProvider  string `yaml:"grounded_provider" mapstructure:"grounded_provider"`
	Qualifier         string `yaml:"qualifier" mapstructure:"qualifier"`
	MaxUses           int    `yaml:"max_uses" mapstructure:"max_uses"`
	DisableUngrounded bool   `yaml:"disable_ungrounded" mapstructure:"disable_ungrounded"`
}

// StructureConfig configures the streaming structurer.
type StructureConfig struct {
	MaxInputChars         int `yaml:"max_input_chars" mapstructure:"max_input_chars"`
	ExpectedResponseChars int `yaml:"expected_response_chars" mapstructure:"expected_response_chars"`
	MaxTokens             int `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// WorkflowConfig configures orchestrator pacing.
type WorkflowConfig struct {
	StageDelayMs int `yaml:"stage_delay_ms" mapstructure:"stage_delay_ms"`
	TickMs       int `yaml:"tick_ms" mapstructure:"tick_ms"`
}

// RetryConfig configures the rate-limited invoker.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RedisConfig configures the optional Redis usage counter.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Key      string `yaml:"key" mapstructure:"key"`
}

// ExportConfig configures lead export.
type ExportConfig struct {
	Headers   []string `yaml:"headers" mapstructure:"headers"`
	SheetName string   `yaml:"sheet_name" mapstructure:"sheet_name"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID   string `yaml:"client_id" mapstructure:"client_id"`
	Username   string `yaml:"username" mapstructure:"username"`
	KeyPath    string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL   string `yaml:"login_url" mapstructure:"login_url"`
	LeadSource string `yaml:"lead_source" mapstructure:"lead_source"`
}

// NotionConfig holds Notion API credentials and the leads database ID.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	LeadDB string `yaml:"lead_db" mapstructure:"lead_db"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
// Environment variables win over the file; the file wins over defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	// Keys without a default are registered so AutomaticEnv picks them up
	// during Unmarshal.
	for _, key := range []string{
		"anthropic.key", "perplexity.key", "serpapi.key", "serpapi.local_proxy_url",
		"serpapi.cors_proxy_url", "google.key", "store.database_url",
		"redis.addr", "redis.password", "salesforce.client_id", "salesforce.username",
		"salesforce.key_path", "notion.token", "notion.lead_db",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("anthropic.intent_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.search_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.structure_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.rps", 0)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("serpapi.base_url", "https://serpapi.com")
	v.SetDefault("serpapi.engine", "google")
	v.SetDefault("serpapi.num", 20)
	v.SetDefault("serpapi.hl", "en")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("search.grounded_provider", "anthropic")
	v.SetDefault("search.qualifier", "lawyer")
	v.SetDefault("search.max_uses", 5)
	v.SetDefault("search.disable_ungrounded", false)
	v.SetDefault("structure.max_input_chars", 20000)
	v.SetDefault("structure.expected_response_chars", 4000)
	v.SetDefault("structure.max_tokens", 8192)
	v.SetDefault("workflow.stage_delay_ms", 1500)
	v.SetDefault("workflow.tick_ms", 100)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_backoff_ms", 2000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.0)
	v.SetDefault("retry.breaker_threshold", 5)
	v.SetDefault("retry.breaker_reset_secs", 60)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "lexleads:usage")
	v.SetDefault("export.headers", []string{"Law Firm", "Contact", "Phone", "Address", "Source URL"})
	v.SetDefault("export.sheet_name", "Leads")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.lead_source", "Lead Discovery Agent")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
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
