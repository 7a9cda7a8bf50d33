package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/srg/myoctl/internal/session"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. MYOCTL_LOG_LEVEL.
	EnvPrefix = "MYOCTL"
	// FileName is the config file looked up in the home directory.
	FileName = ".myoctl.yaml"
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")

	outputFormats = []string{"table", "json"}
)

// Config holds application configuration
type Config struct {
	LogLevel     string `mapstructure:"log_level" default:"warn"`
	LogFile      string `mapstructure:"log_file"`
	LogMaxSizeMB int    `mapstructure:"log_max_size_mb" default:"10"`
	LogMaxFiles  int    `mapstructure:"log_max_files" default:"3"`
	OutputFormat string `mapstructure:"output_format" default:"table"`
	// PrintRate limits streamed table rows per second; 0 prints every reading.
	PrintRate float64 `mapstructure:"print_rate" default:"20"`

	ScanWindow           time.Duration `mapstructure:"scan_window" default:"1s"`
	DiscoveryTimeout     time.Duration `mapstructure:"discovery_timeout"`
	ScanFailureThreshold uint32        `mapstructure:"scan_failure_threshold" default:"3"`
	ScanCooldown         time.Duration `mapstructure:"scan_cooldown" default:"5s"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout" default:"30s"`
	SettleDelay          time.Duration `mapstructure:"settle_delay" default:"500ms"`
	QueueSize            int           `mapstructure:"queue_size" default:"256"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// settings lists every key with its value in c, in file order.
func (c *Config) settings() []setting {
	return []setting{
		{"log_level", c.LogLevel},
		{"log_file", c.LogFile},
		{"log_max_size_mb", c.LogMaxSizeMB},
		{"log_max_files", c.LogMaxFiles},
		{"output_format", c.OutputFormat},
		{"print_rate", c.PrintRate},
		{"scan_window", c.ScanWindow},
		{"discovery_timeout", c.DiscoveryTimeout},
		{"scan_failure_threshold", c.ScanFailureThreshold},
		{"scan_cooldown", c.ScanCooldown},
		{"connect_timeout", c.ConnectTimeout},
		{"settle_delay", c.SettleDelay},
		{"queue_size", c.QueueSize},
	}
}

type setting struct {
	key   string
	value any
}

// Load resolves configuration from defaults, the config file, MYOCTL_*
// environment variables and bound flags, in increasing precedence.
// An empty path looks for FileName in the home directory; a missing file is
// not an error there.
func Load(v *viper.Viper, path string) (*Config, error) {
	for _, s := range DefaultConfig().settings() {
		v.SetDefault(s.key, s.value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BindFlags binds command line flags to config keys. Flag names use dashes
// (--scan-window binds scan_window); flags missing from fs are skipped.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, s := range DefaultConfig().settings() {
		flag := fs.Lookup(strings.ReplaceAll(s.key, "_", "-"))
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(s.key, flag); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks values that would otherwise fail later.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	valid := false
	for _, f := range outputFormats {
		if c.OutputFormat == f {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: output_format %q must be one of %v", ErrInvalidConfig, c.OutputFormat, outputFormats)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalidConfig, c.QueueSize)
	}
	if c.ScanWindow <= 0 {
		return fmt.Errorf("%w: scan_window must be positive, got %s", ErrInvalidConfig, c.ScanWindow)
	}
	if c.PrintRate < 0 {
		return fmt.Errorf("%w: print_rate must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("%w: log level %q (must be debug, info, warn, or error)", ErrInvalidConfig, s)
	}
}

// SessionOptions maps the connection settings onto session options.
func (c *Config) SessionOptions() *session.Options {
	return &session.Options{
		ScanWindow:           c.ScanWindow,
		DiscoveryTimeout:     c.DiscoveryTimeout,
		ScanFailureThreshold: c.ScanFailureThreshold,
		ScanCooldown:         c.ScanCooldown,
		ConnectTimeout:       c.ConnectTimeout,
		SettleDelay:          c.SettleDelay,
		QueueSize:            c.QueueSize,
	}
}

// NewLogger creates a configured logger instance. Logs go to stderr, and
// also to a rotated LogFile when one is set.
func (c *Config) NewLogger() *logrus.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	var out io.Writer = os.Stderr
	if c.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    c.LogMaxSizeMB,
			MaxBackups: c.LogMaxFiles,
		})
	}
	logger.SetOutput(out)
	return logger
}

// YAML renders c as a config file. Durations are written in Go notation
// ("500ms").
func (c *Config) YAML() ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range c.settings() {
		value := s.value
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		var node yaml.Node
		if err := node.Encode(value); err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", s.key, err)
		}
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: s.key}, &node)
	}
	return yaml.Marshal(doc)
}

// WriteFile writes c to path. An existing file is only replaced when
// overwrite is set.
func (c *Config) WriteFile(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := c.YAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultPath returns the config file path in the home directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, FileName), nil
}
