// Package config loads imgio settings from a YAML file and IMGIO_*
// environment variables. The environment overrides the file; defaults fill
// whatever neither sets.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	appName  = "imgio"
	fileName = "config.yaml"
)

type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Request RequestConfig `mapstructure:"request" yaml:"request"`
	Remote  RemoteConfig  `mapstructure:"remote" yaml:"remote"`
	S3      S3Config      `mapstructure:"s3" yaml:"s3"`
	Convert ConvertConfig `mapstructure:"convert" yaml:"convert"`

	// Formats holds default plugin options keyed by format name. Options
	// given on the command line override them.
	Formats map[string]map[string]any `mapstructure:"formats" yaml:"formats,omitempty"`
}

type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR, normalized to upper case.
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

type RequestConfig struct {
	FirstBytes int    `mapstructure:"first_bytes" yaml:"first_bytes" validate:"gte=16,lte=1048576"`
	TempDir    string `mapstructure:"temp_dir" yaml:"temp_dir,omitempty"`
}

type RemoteConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent" validate:"required"`
}

type S3Config struct {
	PartSizeMB   int64  `mapstructure:"part_size_mb" yaml:"part_size_mb" validate:"gte=5,lte=5120"`
	Concurrency  int    `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=1,lte=64"`
	SSE          string `mapstructure:"sse" yaml:"sse,omitempty" validate:"omitempty,oneof=aes256 sse-s3 aws:kms sse-kms"`
	// SSEKMSKeyID is only valid with KMS encryption; empty uses the account key.
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id" yaml:"sse_kms_key_id,omitempty"`
	UsePathStyle bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
	MaxRetries   int    `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0"`
}

type ConvertConfig struct {
	// Jobs bounds how many files a batch conversion processes at once.
	Jobs int `mapstructure:"jobs" yaml:"jobs" validate:"gte=1,lte=256"`
}

// Load reads configPath, or the default file under the XDG config home when
// configPath is empty. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// IMGIO_LOGGING_LEVEL=DEBUG overrides logging.level.
	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, envKeys...)

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(ConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// envKeys lists the keys AutomaticEnv must know about to apply
// environment overrides when the config file does not mention them.
var envKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"request.first_bytes", "request.temp_dir",
	"remote.timeout", "remote.user_agent",
	"s3.part_size_mb", "s3.concurrency", "s3.sse", "s3.sse_kms_key_id", "s3.use_path_style", "s3.max_retries",
	"convert.jobs",
}

func bindEnv(v *viper.Viper, keys ...string) {
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

func readConfigFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to read config file: %w", err)
}

// ConfigDir is $XDG_CONFIG_HOME/imgio.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// DefaultPath is the config file read when no path is given.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), fileName)
}

// Write renders cfg as YAML.
func Write(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

// Init writes the default configuration to path, or to DefaultPath when path
// is empty. An existing file is left alone unless force is set.
func Init(path string, force bool) (string, error) {
	if path == "" {
		p, err := xdg.ConfigFile(filepath.Join(appName, fileName))
		if err != nil {
			return "", err
		}
		path = p
	}
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !force {
		flag |= os.O_EXCL
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return "", err
	}
	cfg := Default()
	if err := Write(f, &cfg); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}
