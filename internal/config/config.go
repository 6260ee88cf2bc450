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
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Apollo    ApolloConfig    `yaml:"apollo" mapstructure:"apollo"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	PhoneJobs PhoneJobsConfig `yaml:"phone_jobs" mapstructure:"phone_jobs"`
	Poll      PollConfig      `yaml:"poll" mapstructure:"poll"`
	Exa       ExaConfig       `yaml:"exa" mapstructure:"exa"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Slack     SlackConfig     `yaml:"slack" mapstructure:"slack"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Approvals ApprovalsConfig `yaml:"approvals" mapstructure:"approvals"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`

	// PublicBaseURL is the externally reachable origin the provider calls
	// back on, e.g. https://leads.example.com.
	PublicBaseURL       string   `yaml:"public_base_url" mapstructure:"public_base_url"`
	AllowedOrigins      []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// ApolloConfig holds contact-enrichment provider settings.
type ApolloConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit         float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RetryAttempts     int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs    int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffMs int     `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// EnrichConfig configures the company enrichment loop.
type EnrichConfig struct {
	BatchSize      int `yaml:"batch_size" mapstructure:"batch_size"`
	BatchDelayMs   int `yaml:"batch_delay_ms" mapstructure:"batch_delay_ms"`
	CompanyDelayMs int `yaml:"company_delay_ms" mapstructure:"company_delay_ms"`
	DefaultLimit   int `yaml:"default_limit" mapstructure:"default_limit"`
	MaxLimit       int `yaml:"max_limit" mapstructure:"max_limit"`
}

// PhoneJobsConfig configures the in-memory phone job store.
type PhoneJobsConfig struct {
	RetentionMins     int `yaml:"retention_mins" mapstructure:"retention_mins"`
	SweepIntervalMins int `yaml:"sweep_interval_mins" mapstructure:"sweep_interval_mins"`
}

// PollConfig configures phone job polling.
type PollConfig struct {
	MaxAttempts  int `yaml:"max_attempts" mapstructure:"max_attempts"`
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// ExaConfig holds company search provider settings.
type ExaConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	NumResults int    `yaml:"num_results" mapstructure:"num_results"`
}

// AnthropicConfig holds LLM settings for lead research and qualification.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SlackConfig holds the incoming-webhook used for approval notifications.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// NotionConfig holds the CRM database approved leads are recorded in.
// RateLimit is requests per second; zero disables throttling.
type NotionConfig struct {
	Token     string  `yaml:"token" mapstructure:"token"`
	LeadDB    string  `yaml:"lead_db" mapstructure:"lead_db"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ApprovalsConfig configures approval persistence.
type ApprovalsConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml (optional) and LEADS_* env vars.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{"apollo.key", "exa.key", "anthropic.key", "slack.webhook_url", "notion.token", "notion.lead_db"} {
		_ = v.BindEnv(key)
	}

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_base_url", "http://localhost:8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("apollo.base_url", "https://api.apollo.io/api/v1")
	v.SetDefault("apollo.rate_limit", 5)
	v.SetDefault("apollo.retry_attempts", 3)
	v.SetDefault("apollo.retry_backoff_ms", 500)
	v.SetDefault("apollo.retry_max_backoff_ms", 5000)
	v.SetDefault("apollo.timeout_secs", 30)
	v.SetDefault("enrich.batch_size", 10)
	v.SetDefault("enrich.batch_delay_ms", 500)
	v.SetDefault("enrich.company_delay_ms", 500)
	v.SetDefault("enrich.default_limit", 10)
	v.SetDefault("enrich.max_limit", 20)
	v.SetDefault("phone_jobs.retention_mins", 60)
	v.SetDefault("phone_jobs.sweep_interval_mins", 10)
	v.SetDefault("poll.max_attempts", 30)
	v.SetDefault("poll.interval_secs", 2)
	v.SetDefault("exa.base_url", "https://api.exa.ai")
	v.SetDefault("exa.num_results", 100)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("notion.rate_limit", 3)
	v.SetDefault("approvals.dsn", "approvals.db")

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

// Validate checks the settings a command depends on. Modes: "serve",
// "search", "enrich-client". Provider keys used per request (apollo,
// anthropic) are not required here; a request that needs a missing key
// fails on its own.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.PublicBaseURL == "" {
			errs = append(errs, "server.public_base_url is required")
		}
		if c.Approvals.DSN == "" {
			errs = append(errs, "approvals.dsn is required")
		}
		if c.Enrich.BatchSize < 1 || c.Enrich.BatchSize > 10 {
			errs = append(errs, "enrich.batch_size must be between 1 and 10")
		}
		if c.Enrich.MaxLimit < 1 {
			errs = append(errs, "enrich.max_limit must be > 0")
		}
		if c.PhoneJobs.RetentionMins <= 0 || c.PhoneJobs.SweepIntervalMins <= 0 {
			errs = append(errs, "phone_jobs.retention_mins and phone_jobs.sweep_interval_mins must be > 0")
		}
	case "search":
		if c.Exa.Key == "" {
			errs = append(errs, "exa.key is required")
		}
	case "enrich-client":
		if c.Server.PublicBaseURL == "" {
			errs = append(errs, "server.public_base_url is required")
		}
		if c.Poll.MaxAttempts <= 0 || c.Poll.IntervalSecs <= 0 {
			errs = append(errs, "poll.max_attempts and poll.interval_secs must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: %s", strings.Join(errs, "; ")))
	}
	return nil
}

// PhoneJobRetention returns the store retention window.
func (c PhoneJobsConfig) PhoneJobRetention() time.Duration {
	return time.Duration(c.RetentionMins) * time.Minute
}

// SweepInterval returns how often expired phone jobs are reaped.
func (c PhoneJobsConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMins) * time.Minute
}

// Interval returns the delay between poll attempts.
func (c PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
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
