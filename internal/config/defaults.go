package config

import (
	"strings"

	"github.com/islishude/imgio/internal/request"
	"github.com/islishude/imgio/internal/storage/remote"
)

const (
	defaultPartSizeMB  = 16
	defaultConcurrency = 4
	defaultMaxRetries  = 3
	defaultJobs        = 4
)

// Default returns a fully populated configuration.
func Default() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return cfg
}

// ApplyDefaults fills zero values. Explicit values are kept.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)

	if cfg.Request.FirstBytes == 0 {
		cfg.Request.FirstBytes = request.DefaultFirstBytes
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = remote.DefaultTimeout
	}
	if cfg.Remote.UserAgent == "" {
		cfg.Remote.UserAgent = remote.DefaultUserAgent
	}

	if cfg.S3.PartSizeMB == 0 {
		cfg.S3.PartSizeMB = defaultPartSizeMB
	}
	if cfg.S3.Concurrency == 0 {
		cfg.S3.Concurrency = defaultConcurrency
	}
	if cfg.S3.MaxRetries == 0 {
		cfg.S3.MaxRetries = defaultMaxRetries
	}
	cfg.S3.SSE = strings.ToLower(strings.TrimSpace(cfg.S3.SSE))

	if cfg.Convert.Jobs == 0 {
		cfg.Convert.Jobs = defaultJobs
	}

	normalized := make(map[string]map[string]any, len(cfg.Formats))
	for name, opts := range cfg.Formats {
		normalized[strings.ToUpper(name)] = opts
	}
	cfg.Formats = normalized
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}
