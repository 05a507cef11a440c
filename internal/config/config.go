package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Identity   IdentityConfig   `yaml:"identity" mapstructure:"identity"`
	Mail       MailConfig       `yaml:"mail" mapstructure:"mail"`
	Gmail      GmailConfig      `yaml:"gmail" mapstructure:"gmail"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Graph      GraphConfig      `yaml:"graph" mapstructure:"graph"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Prioritize PrioritizeConfig `yaml:"prioritize" mapstructure:"prioritize"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// IdentityConfig lists the addresses and domains that belong to the user.
type IdentityConfig struct {
	MyEmails        []string `yaml:"my_emails" mapstructure:"my_emails"`
	InternalDomains []string `yaml:"internal_domains" mapstructure:"internal_domains"`
}

// MailConfig points at the communication metadata index.
type MailConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	DSN        string `yaml:"dsn" mapstructure:"dsn"`
	BodySource string `yaml:"body_source" mapstructure:"body_source"`
}

// GmailConfig holds Gmail REST settings used for body fetches.
type GmailConfig struct {
	Token             string  `yaml:"token" mapstructure:"token"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// CacheConfig locates the local SQLite extraction cache.
type CacheConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// GraphConfig selects and configures the graph backend.
type GraphConfig struct {
	Driver string      `yaml:"driver" mapstructure:"driver"`
	Path   string      `yaml:"path" mapstructure:"path"`
	Neo4j  Neo4jConfig `yaml:"neo4j" mapstructure:"neo4j"`
}

// Neo4jConfig holds Neo4j connection settings.
type Neo4jConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PricingConfig holds per-model token pricing.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ExtractConfig configures the budgeted extraction run.
type ExtractConfig struct {
	MessagesPerContact    int `yaml:"messages_per_contact" mapstructure:"messages_per_contact"`
	BodyChars             int `yaml:"body_chars" mapstructure:"body_chars"`
	CallIntervalMs        int `yaml:"call_interval_ms" mapstructure:"call_interval_ms"`
	CallTimeoutSecs       int `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	MaxAttempts           int `yaml:"max_attempts" mapstructure:"max_attempts"`
	EstimatedInputTokens  int `yaml:"estimated_input_tokens" mapstructure:"estimated_input_tokens"`
	EstimatedOutputTokens int `yaml:"estimated_output_tokens" mapstructure:"estimated_output_tokens"`
	BodyFailureThreshold  int `yaml:"body_failure_threshold" mapstructure:"body_failure_threshold"`
}

// PrioritizeConfig configures candidate selection.
type PrioritizeConfig struct {
	IndustriesFile string `yaml:"industries_file" mapstructure:"industries_file"`
	DefaultLimit   int    `yaml:"default_limit" mapstructure:"default_limit"`
}

// ScoringConfig holds relationship-strength weights and thresholds.
type ScoringConfig struct {
	VolumeWeight          float64 `yaml:"volume_weight" mapstructure:"volume_weight"`
	RecencyWeight         float64 `yaml:"recency_weight" mapstructure:"recency_weight"`
	ReciprocityWeight     float64 `yaml:"reciprocity_weight" mapstructure:"reciprocity_weight"`
	ReplyWeight           float64 `yaml:"reply_weight" mapstructure:"reply_weight"`
	VolumeSaturation      int     `yaml:"volume_saturation" mapstructure:"volume_saturation"`
	HalfLifeDays          float64 `yaml:"half_life_days" mapstructure:"half_life_days"`
	RecencyWindowDays     float64 `yaml:"recency_window_days" mapstructure:"recency_window_days"`
	GroupThreshold        float64 `yaml:"group_threshold" mapstructure:"group_threshold"`
	GroupStep             float64 `yaml:"group_step" mapstructure:"group_step"`
	GroupFloor            float64 `yaml:"group_floor" mapstructure:"group_floor"`
	NewsletterPenalty     float64 `yaml:"newsletter_penalty" mapstructure:"newsletter_penalty"`
	NewsletterMinMessages int     `yaml:"newsletter_min_messages" mapstructure:"newsletter_min_messages"`
	NewsletterMaxCV       float64 `yaml:"newsletter_max_cv" mapstructure:"newsletter_max_cv"`
}

// ServerConfig configures the query server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("RELGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("mail.driver", "sqlite")
	v.SetDefault("mail.dsn", "mail.db")
	v.SetDefault("mail.body_source", "index")
	v.SetDefault("gmail.base_url", "https://gmail.googleapis.com")
	v.SetDefault("gmail.requests_per_second", 5.0)
	v.SetDefault("cache.path", "relgraph_cache.db")
	v.SetDefault("graph.driver", "sqlite")
	v.SetDefault("graph.path", "relgraph_graph.db")
	v.SetDefault("graph.neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("graph.neo4j.user", "neo4j")
	v.SetDefault("graph.neo4j.database", "neo4j")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("extract.messages_per_contact", 3)
	v.SetDefault("extract.body_chars", 2000)
	v.SetDefault("extract.call_interval_ms", 2000)
	v.SetDefault("extract.call_timeout_secs", 60)
	v.SetDefault("extract.max_attempts", 1)
	v.SetDefault("extract.estimated_input_tokens", 1800)
	v.SetDefault("extract.estimated_output_tokens", 120)
	v.SetDefault("extract.body_failure_threshold", 5)
	v.SetDefault("prioritize.default_limit", 500)
	v.SetDefault("scoring.volume_weight", 35.0)
	v.SetDefault("scoring.recency_weight", 25.0)
	v.SetDefault("scoring.reciprocity_weight", 25.0)
	v.SetDefault("scoring.reply_weight", 15.0)
	v.SetDefault("scoring.volume_saturation", 200)
	v.SetDefault("scoring.half_life_days", 365.0)
	v.SetDefault("scoring.recency_window_days", 1095.0)
	v.SetDefault("scoring.group_threshold", 5.0)
	v.SetDefault("scoring.group_step", 0.05)
	v.SetDefault("scoring.group_floor", 0.5)
	v.SetDefault("scoring.newsletter_penalty", 0.7)
	v.SetDefault("scoring.newsletter_min_messages", 3)
	v.SetDefault("scoring.newsletter_max_cv", 0.5)
	v.SetDefault("server.port", 8080)
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
