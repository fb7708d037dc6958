package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gmail      GmailConfig      `yaml:"gmail" mapstructure:"gmail"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Sweep      SweepConfig      `yaml:"sweep" mapstructure:"sweep"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// AnthropicConfig holds the classifier credentials and call budget.
// Keys and CredentialsFile are merged; the file is re-read while a run is in progress.
type AnthropicConfig struct {
	Keys              []string      `yaml:"keys" mapstructure:"keys"`
	CredentialsFile   string        `yaml:"credentials_file" mapstructure:"credentials_file"`
	Model             string        `yaml:"model" mapstructure:"model"`
	MaxTokens         int64         `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64       `yaml:"temperature" mapstructure:"temperature"`
	RequestsPerMinute float64       `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	SafetyMargin      float64       `yaml:"safety_margin" mapstructure:"safety_margin"`
	ReloadInterval    time.Duration `yaml:"reload_interval" mapstructure:"reload_interval"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
}

// GmailConfig holds OAuth credentials and paging for the message source.
type GmailConfig struct {
	ClientID      string        `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret  string        `yaml:"client_secret" mapstructure:"client_secret"`
	RefreshToken  string        `yaml:"refresh_token" mapstructure:"refresh_token"`
	User          string        `yaml:"user" mapstructure:"user"`
	PageSize      int64         `yaml:"page_size" mapstructure:"page_size"`
	FetchDelay    time.Duration `yaml:"fetch_delay" mapstructure:"fetch_delay"`
	PageDelay     time.Duration `yaml:"page_delay" mapstructure:"page_delay"`
	BaseURL       string        `yaml:"base_url" mapstructure:"base_url"`
	SyncQueryTerm string        `yaml:"sync_query_terms" mapstructure:"sync_query_terms"`
}

// PipelineConfig configures the classification run.
type PipelineConfig struct {
	BackfillAfter      string  `yaml:"backfill_after" mapstructure:"backfill_after"`
	SyncLookbackDays   int     `yaml:"sync_lookback_days" mapstructure:"sync_lookback_days"`
	UncertainThreshold float64 `yaml:"uncertain_threshold" mapstructure:"uncertain_threshold"`
	SkipOtherAbove     float64 `yaml:"skip_other_above" mapstructure:"skip_other_above"`
	BodyExcerptChars   int     `yaml:"body_excerpt_chars" mapstructure:"body_excerpt_chars"`
	ProgressEvery      int     `yaml:"progress_every" mapstructure:"progress_every"`
}

// SweepConfig configures reconciliation passes.
type SweepConfig struct {
	GhostAfterDays int `yaml:"ghost_after_days" mapstructure:"ghost_after_days"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ExportConfig holds destinations for job exports.
type ExportConfig struct {
	NotionToken     string `yaml:"notion_token" mapstructure:"notion_token"`
	NotionDB        string `yaml:"notion_db" mapstructure:"notion_db"`
	SheetsID        string `yaml:"sheets_id" mapstructure:"sheets_id"`
	SheetsRange     string `yaml:"sheets_range" mapstructure:"sheets_range"`
	SheetsCredsFile string `yaml:"sheets_credentials_file" mapstructure:"sheets_credentials_file"`
}

// MonitoringConfig configures run alerts while serving.
type MonitoringConfig struct {
	WebhookURL         string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ErrorRateThreshold float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	CheckIntervalSecs  int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
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
	v.SetEnvPrefix("JOBSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.keys", []string{})
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 800)
	v.SetDefault("anthropic.temperature", 0.1)
	v.SetDefault("anthropic.requests_per_minute", 30)
	v.SetDefault("anthropic.safety_margin", 0.05)
	v.SetDefault("anthropic.reload_interval", 10*time.Second)
	v.SetDefault("gmail.user", "me")
	v.SetDefault("gmail.page_size", 100)
	v.SetDefault("gmail.fetch_delay", 100*time.Millisecond)
	v.SetDefault("gmail.page_delay", 500*time.Millisecond)
	v.SetDefault("gmail.sync_query_terms", `("application" OR "interview" OR "regret" OR "hiring" OR "position" OR "career")`)
	v.SetDefault("pipeline.backfill_after", "2025/06/01")
	v.SetDefault("pipeline.sync_lookback_days", 7)
	v.SetDefault("pipeline.uncertain_threshold", 0.6)
	v.SetDefault("pipeline.skip_other_above", 0.8)
	v.SetDefault("pipeline.body_excerpt_chars", 2000)
	v.SetDefault("pipeline.progress_every", 10)
	v.SetDefault("sweep.ghost_after_days", 21)
	v.SetDefault("export.sheets_range", "Jobs!A1")
	v.SetDefault("monitoring.error_rate_threshold", 0.25)
	v.SetDefault("monitoring.check_interval_secs", 300)

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

	// Comma-separated env values arrive as a single element.
	cfg.Anthropic.Keys = splitKeys(cfg.Anthropic.Keys)

	return &cfg, nil
}

func splitKeys(in []string) []string {
	var out []string
	for _, s := range in {
		for _, k := range strings.Split(s, ",") {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
	}
	return out
}

// Validate checks that everything a mode needs is present. Modes: sync,
// sweep, serve, export:csv, export:xlsx, export:notion, export:sheets, stats.
func (c *Config) Validate(mode string) error {
	var errs []string

	requireStore := func() {
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
		}
	}
	requireClassifier := func() {
		if len(c.Anthropic.Keys) == 0 && c.Anthropic.CredentialsFile == "" {
			errs = append(errs, "anthropic.keys or anthropic.credentials_file is required")
		}
		if c.Anthropic.RequestsPerMinute <= 0 {
			errs = append(errs, "anthropic.requests_per_minute must be > 0")
		}
	}
	requireGmail := func() {
		if c.Gmail.ClientID == "" {
			errs = append(errs, "gmail.client_id is required")
		}
		if c.Gmail.ClientSecret == "" {
			errs = append(errs, "gmail.client_secret is required")
		}
		if c.Gmail.RefreshToken == "" {
			errs = append(errs, "gmail.refresh_token is required")
		}
	}
	requireThresholds := func() {
		if c.Pipeline.UncertainThreshold < 0 || c.Pipeline.UncertainThreshold > 1 {
			errs = append(errs, "pipeline.uncertain_threshold must be between 0 and 1")
		}
	}

	switch mode {
	case "sync":
		requireStore()
		requireClassifier()
		requireGmail()
		requireThresholds()
	case "serve":
		requireStore()
		requireClassifier()
		requireGmail()
		requireThresholds()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "sweep":
		requireStore()
		if c.Sweep.GhostAfterDays <= 0 {
			errs = append(errs, "sweep.ghost_after_days must be > 0")
		}
	case "stats", "export:csv", "export:xlsx":
		requireStore()
	case "export:notion":
		requireStore()
		if c.Export.NotionToken == "" {
			errs = append(errs, "export.notion_token is required")
		}
		if c.Export.NotionDB == "" {
			errs = append(errs, "export.notion_db is required")
		}
	case "export:sheets":
		requireStore()
		if c.Export.SheetsID == "" {
			errs = append(errs, "export.sheets_id is required")
		}
		if c.Export.SheetsCredsFile == "" {
			errs = append(errs, "export.sheets_credentials_file is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
