package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrorCheckMode selects which field of a command response signals failure.
// Venue builds have disagreed between a numeric errorCode and an error
// string, so the check is configuration rather than code.
type ErrorCheckMode string

const (
	ErrorCheckCode    ErrorCheckMode = "code"
	ErrorCheckMessage ErrorCheckMode = "message"
)

// SnapshotFormat names the raw-snapshot field naming the venue build uses.
type SnapshotFormat string

const (
	SnapshotFormatVolumes SnapshotFormat = "volumes" // bidVolumes/askVolumes
	SnapshotFormatSides   SnapshotFormat = "sides"   // bids/asks
)

type Config struct {
	Bookflow BookflowConfig `yaml:"bookflow"`
	Venue    VenueConfig    `yaml:"venue"`
	Trading  TradingConfig  `yaml:"trading"`
	Stream   StreamConfig   `yaml:"stream"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type BookflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// VenueConfig describes the single trading venue this client talks to.
type VenueConfig struct {
	HTTPURL        string         `yaml:"http_url"`
	WSURL          string         `yaml:"ws_url"`
	Username       string         `yaml:"username"`
	APIKey         string         `yaml:"api_key"`
	OrderbookTopic string         `yaml:"orderbook_topic"`
	PrivateQueue   string         `yaml:"private_queue"`
	ErrorCheck     ErrorCheckMode `yaml:"error_check"`
	SnapshotFormat SnapshotFormat `yaml:"snapshot_format"`
	Rest           RestConfig     `yaml:"rest"`
}

// RestConfig bounds outbound REST calls to the venue. This is a courtesy
// throttle on the HTTP transport; the order-command admission window is
// configured separately under trading.rate_limit.
type RestConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
}

type TradingConfig struct {
	Tickers         []string `yaml:"tickers"`
	RateLimit       int      `yaml:"rate_limit"`
	SmoothingFactor float64  `yaml:"smoothing_factor"`
}

type StreamConfig struct {
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references in the raw config with the
// corresponding environment variable values.
func expandEnv(raw []byte) []byte {
	return envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// LoadConfig reads, expands and validates the YAML configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaults()
	if err := yaml.Unmarshal(expandEnv(data), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func defaults() *Config {
	return &Config{
		Bookflow: BookflowConfig{Name: "bookflow", Version: "dev"},
		Venue: VenueConfig{
			OrderbookTopic: "/topic/orderbook",
			PrivateQueue:   "/user/queue/private",
			ErrorCheck:     ErrorCheckCode,
			SnapshotFormat: SnapshotFormatVolumes,
			Rest: RestConfig{
				Timeout:           10 * time.Second,
				RequestsPerSecond: 15,
				BurstSize:         15,
			},
		},
		Trading: TradingConfig{
			RateLimit:       15,
			SmoothingFactor: 0.5,
		},
		Stream: StreamConfig{
			ReconnectDelay:   5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides lets credentials come from the environment without
// appearing in the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BOOKFLOW_USERNAME"); v != "" {
		cfg.Venue.Username = v
	}
	if v := os.Getenv("BOOKFLOW_API_KEY"); v != "" {
		cfg.Venue.APIKey = v
	}
}

// Validate checks required fields and normalises enum-like values.
func (c *Config) Validate() error {
	if c.Venue.HTTPURL == "" {
		return fmt.Errorf("venue.http_url is required")
	}
	if c.Venue.WSURL == "" {
		return fmt.Errorf("venue.ws_url is required")
	}
	if c.Venue.Username == "" {
		return fmt.Errorf("venue.username is required (config or BOOKFLOW_USERNAME)")
	}
	if c.Venue.APIKey == "" {
		return fmt.Errorf("venue.api_key is required (config or BOOKFLOW_API_KEY)")
	}

	switch ErrorCheckMode(strings.ToLower(string(c.Venue.ErrorCheck))) {
	case ErrorCheckCode:
		c.Venue.ErrorCheck = ErrorCheckCode
	case ErrorCheckMessage:
		c.Venue.ErrorCheck = ErrorCheckMessage
	default:
		return fmt.Errorf("venue.error_check must be 'code' or 'message', got %q", c.Venue.ErrorCheck)
	}

	switch SnapshotFormat(strings.ToLower(string(c.Venue.SnapshotFormat))) {
	case SnapshotFormatVolumes:
		c.Venue.SnapshotFormat = SnapshotFormatVolumes
	case SnapshotFormatSides:
		c.Venue.SnapshotFormat = SnapshotFormatSides
	default:
		return fmt.Errorf("venue.snapshot_format must be 'volumes' or 'sides', got %q", c.Venue.SnapshotFormat)
	}

	if c.Trading.RateLimit <= 0 {
		return fmt.Errorf("trading.rate_limit must be positive, got %d", c.Trading.RateLimit)
	}
	if c.Trading.SmoothingFactor < 0 || c.Trading.SmoothingFactor > 1 {
		return fmt.Errorf("trading.smoothing_factor must be within [0,1], got %v", c.Trading.SmoothingFactor)
	}
	if c.Stream.ReconnectDelay <= 0 {
		return fmt.Errorf("stream.reconnect_delay must be positive")
	}
	return nil
}
