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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Paths     PathsConfig     `yaml:"paths" mapstructure:"paths"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the manifest and dataset databases.
type StoreConfig struct {
	ManifestPath string `yaml:"manifest_path" mapstructure:"manifest_path"`
	DatasetPath  string `yaml:"dataset_path" mapstructure:"dataset_path"`
}

// PathsConfig configures the on-disk artifact layout.
type PathsConfig struct {
	RawDir       string `yaml:"raw_dir" mapstructure:"raw_dir"`
	TextDir      string `yaml:"text_dir" mapstructure:"text_dir"`
	ExtractedDir string `yaml:"extracted_dir" mapstructure:"extracted_dir"`
	ReportDir    string `yaml:"report_dir" mapstructure:"report_dir"`
}

// FetchConfig configures the download scheduler.
type FetchConfig struct {
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
	// RequestsPerSecond is the shared per-host token-bucket rate. All
	// concurrent fetches against the same host draw from one bucket, so
	// concurrency never multiplies the effective request rate.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	InitialBackoffMs  int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// NormalizeConfig configures PDF-to-text conversion.
type NormalizeConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"` // "local" or "mistral"
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings for the extraction stage.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ExtractConfig configures extraction orchestration.
type ExtractConfig struct {
	Concurrency      int  `yaml:"concurrency" mapstructure:"concurrency"`
	MaxAttempts      int  `yaml:"max_attempts" mapstructure:"max_attempts"`
	TimeoutSecs      int  `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	InitialBackoffMs int  `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	Prefilter        bool `yaml:"prefilter" mapstructure:"prefilter"`
	// CircuitThreshold is the consecutive-failure count that trips the
	// extraction circuit breaker.
	CircuitThreshold int `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
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
	v.SetEnvPrefix("DIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.manifest_path", "data/manifest.db")
	v.SetDefault("store.dataset_path", "data/dataset.db")
	v.SetDefault("paths.raw_dir", "data/raw")
	v.SetDefault("paths.text_dir", "data/text")
	v.SetDefault("paths.extracted_dir", "data/extracted")
	v.SetDefault("paths.report_dir", "data/reports")
	v.SetDefault("fetch.user_agent", "sec-digest-cli research@sellsadvisors.com")
	v.SetDefault("fetch.requests_per_second", 0.5)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("fetch.max_attempts", 4)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.initial_backoff_ms", 1000)
	v.SetDefault("fetch.max_backoff_ms", 30000)
	v.SetDefault("normalize.provider", "local")
	v.SetDefault("normalize.pdftotext_path", "pdftotext")
	v.SetDefault("normalize.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("normalize.timeout_secs", 120)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("extract.concurrency", 4)
	v.SetDefault("extract.max_attempts", 5)
	v.SetDefault("extract.timeout_secs", 120)
	v.SetDefault("extract.initial_backoff_ms", 2000)
	v.SetDefault("extract.prefilter", true)
	v.SetDefault("extract.circuit_threshold", 5)
	v.SetDefault("extract.circuit_reset_secs", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
