package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted by danmaku.transport
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Config represents recorder configuration
type Config struct {
	// Barrage server connection
	Danmaku DanmakuConfig `yaml:"danmaku"`

	// Room metadata API
	Metadata MetadataConfig `yaml:"metadata"`

	// External video capture process
	Capture CaptureConfig `yaml:"capture"`

	// Recording start detection
	Sync SyncConfig `yaml:"sync"`

	// Output files
	Output OutputConfig `yaml:"output"`

	// Optional live event sink
	Redis RedisConfig `yaml:"redis"`

	// Metrics and health endpoints
	Server ServerConfig `yaml:"server"`

	// Tracing configuration
	Tracing TracingConfig `yaml:"tracing"`

	// Maximum time to wait for workers to drain after the session ends
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DanmakuConfig represents barrage server configuration
type DanmakuConfig struct {
	// Transport is "tcp" (default) or "websocket"
	Transport string `yaml:"transport"`

	// TCP endpoint (host:port)
	Addr string `yaml:"addr"`

	// WebSocket endpoint, used when Transport is "websocket"
	WebSocketURL string `yaml:"websocket_url"`

	// Connection dial timeout
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// Keep-alive interval
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Maximum frame payload size (in bytes)
	MaxMessageSize int `yaml:"max_message_size"`

	// Group id sent in joingroup
	GroupID int `yaml:"group_id"`
}

// MetadataConfig represents room metadata API configuration
type MetadataConfig struct {
	// Base URL; the room identifier is appended as the last path segment
	BaseURL string `yaml:"base_url"`

	// HTTP request timeout
	Timeout time.Duration `yaml:"timeout"`
}

// CaptureConfig represents video capture configuration
type CaptureConfig struct {
	// Enabled starts the capture process; when false no video is recorded
	// and offsets stay relative to the session start
	Enabled bool `yaml:"enabled"`

	// Capture executable
	Command string `yaml:"command"`

	// Stream page URL, %s is replaced with the numeric room id
	StreamURLTemplate string `yaml:"stream_url_template"`

	// Stream quality passed to the capture command
	Quality string `yaml:"quality"`

	// Extra arguments appended after the output file
	ExtraArgs []string `yaml:"extra_args"`

	// Time to wait after the interrupt before killing the process
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// SyncConfig represents recording start detection configuration
type SyncConfig struct {
	// Interval between output directory scans
	PollInterval time.Duration `yaml:"poll_interval"`

	// Give up waiting for the recording file after this long and keep the provisional start
	MaxWait time.Duration `yaml:"max_wait"`
}

// OutputConfig represents output file configuration
type OutputConfig struct {
	// Directory for the video and spreadsheet files
	Dir string `yaml:"dir"`

	// Layout for the Time column (Go time layout)
	TimeLayout string `yaml:"time_layout"`
}

// RedisConfig represents Redis configuration. An empty Addr disables the sink.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Key prefix for Redis keys
	KeyPrefix string `yaml:"key_prefix"`

	// Approximate cap on stream length (0 = unbounded)
	StreamMaxLen int64 `yaml:"stream_max_len"`

	// Consecutive write failures before the sink is skipped, and how long it stays skipped
	MaxFailures     int64         `yaml:"max_failures"`
	FailureCooldown time.Duration `yaml:"failure_cooldown"`

	// Connection pool configuration
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Enabled reports whether the Redis sink is configured
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// ServerConfig represents server configuration
type ServerConfig struct {
	// Metrics and health check port (0 = disabled)
	MetricsPort int `yaml:"metrics_port"`
}

// TracingConfig represents tracing configuration
type TracingConfig struct {
	// OTLP gRPC collector endpoint; empty disables tracing
	Endpoint string `yaml:"endpoint"`
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Config{Capture: CaptureConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set default values
	setDefaults(&cfg)

	// Validate configuration
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads path if it exists and falls back to defaults otherwise
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{Capture: CaptureConfig{Enabled: true}}
	setDefaults(cfg)
	return cfg
}

// Validate validates the configuration
func Validate(cfg *Config) error {
	return validateConfig(cfg)
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	// Validate barrage configuration
	switch cfg.Danmaku.Transport {
	case TransportTCP:
		if cfg.Danmaku.Addr == "" {
			return fmt.Errorf("danmaku.addr is required")
		}
	case TransportWebSocket:
		u, err := url.Parse(cfg.Danmaku.WebSocketURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("danmaku.websocket_url must be a ws:// or wss:// URL")
		}
	default:
		return fmt.Errorf("danmaku.transport must be %q or %q", TransportTCP, TransportWebSocket)
	}
	if cfg.Danmaku.HeartbeatInterval <= 0 {
		return fmt.Errorf("danmaku.heartbeat_interval must be greater than 0")
	}
	if cfg.Danmaku.MaxMessageSize <= 0 {
		return fmt.Errorf("danmaku.max_message_size must be greater than 0")
	}

	// Validate metadata configuration
	if _, err := url.Parse(cfg.Metadata.BaseURL); err != nil || cfg.Metadata.BaseURL == "" {
		return fmt.Errorf("metadata.base_url must be a valid URL")
	}

	// Validate capture configuration
	if cfg.Capture.Enabled {
		if cfg.Capture.Command == "" {
			return fmt.Errorf("capture.command is required when capture is enabled")
		}
		if !strings.Contains(cfg.Capture.StreamURLTemplate, "%s") {
			return fmt.Errorf("capture.stream_url_template must contain %%s")
		}
	}

	// Validate sync configuration
	if cfg.Sync.PollInterval <= 0 {
		return fmt.Errorf("sync.poll_interval must be greater than 0")
	}

	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("server.metrics_port must be between 0 and 65535")
	}

	// Validate graceful shutdown timeout
	if cfg.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be greater than 0")
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults(cfg *Config) {
	if cfg.Danmaku.Transport == "" {
		cfg.Danmaku.Transport = TransportTCP
	}

	if cfg.Danmaku.Addr == "" {
		cfg.Danmaku.Addr = "openbarrage.douyutv.com:8601"
	}

	if cfg.Danmaku.WebSocketURL == "" {
		cfg.Danmaku.WebSocketURL = "wss://danmuproxy.douyu.com:8506/"
	}

	if cfg.Danmaku.DialTimeout == 0 {
		cfg.Danmaku.DialTimeout = 10 * time.Second
	}

	if cfg.Danmaku.HeartbeatInterval == 0 {
		cfg.Danmaku.HeartbeatInterval = 45 * time.Second
	}

	if cfg.Danmaku.MaxMessageSize == 0 {
		cfg.Danmaku.MaxMessageSize = 1024 * 1024 // 1MB default
	}

	if cfg.Danmaku.GroupID == 0 {
		cfg.Danmaku.GroupID = -9999
	}

	if cfg.Metadata.BaseURL == "" {
		cfg.Metadata.BaseURL = "http://open.douyucdn.cn/api/RoomApi/room"
	}

	if cfg.Metadata.Timeout == 0 {
		cfg.Metadata.Timeout = 10 * time.Second
	}

	if cfg.Capture.Command == "" {
		cfg.Capture.Command = "streamlink"
	}

	if cfg.Capture.StreamURLTemplate == "" {
		cfg.Capture.StreamURLTemplate = "https://www.douyu.com/%s"
	}

	if cfg.Capture.Quality == "" {
		cfg.Capture.Quality = "worst"
	}

	if cfg.Capture.ExtraArgs == nil {
		cfg.Capture.ExtraArgs = []string{"--plugin-dirs", "./", "-f"}
	}

	if cfg.Capture.StopTimeout == 0 {
		cfg.Capture.StopTimeout = 10 * time.Second
	}

	if cfg.Sync.PollInterval == 0 {
		cfg.Sync.PollInterval = 200 * time.Millisecond
	}

	if cfg.Sync.MaxWait == 0 {
		cfg.Sync.MaxWait = 30 * time.Second
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "./result"
	}

	if cfg.Output.TimeLayout == "" {
		cfg.Output.TimeLayout = "2006-01-02 15:04:05"
	}

	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "gift-recorder:"
	}

	if cfg.Redis.MaxFailures == 0 {
		cfg.Redis.MaxFailures = 5
	}

	if cfg.Redis.FailureCooldown == 0 {
		cfg.Redis.FailureCooldown = 30 * time.Second
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 4
	}

	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}

	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = 3 * time.Second
	}

	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3 * time.Second
	}

	if cfg.GracefulShutdownTimeout == 0 {
		cfg.GracefulShutdownTimeout = 30 * time.Second
	}
}
