package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable holding an optional config file.
const EnvPath = "PULSECAST_CONFIG"

const DefaultRootDir = "/tmp/httpd"

// DefaultMessage is the body appended to the counter in every broadcast.
const DefaultMessage = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod " +
	"tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud " +
	"exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor " +
	"in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur " +
	"sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Loop      LoopConfig      `yaml:"loop"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	RootDir           string        `yaml:"root_dir"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

type WebSocketConfig struct {
	Path            string `yaml:"path"`
	ReadBufferSize  int    `yaml:"read_buffer_size"`
	WriteBufferSize int    `yaml:"write_buffer_size"`
	// ReadLimit caps inbound frame size in bytes; 0 means no limit.
	ReadLimit int64 `yaml:"read_limit"`
	SendQueue int   `yaml:"send_queue"`
}

type BroadcastConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Message    string        `yaml:"message"`
	BufferSize int           `yaml:"buffer_size"`
}

type LoopConfig struct {
	PollTimeout time.Duration `yaml:"poll_timeout"`
	EventQueue  int           `yaml:"event_queue"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	// Addr is the listen address of the metrics endpoint. Empty disables it.
	Addr string `yaml:"addr"`
}

type TracingConfig struct {
	// Exporter selects where spans go: "none" or "stdout".
	Exporter string `yaml:"exporter"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              80,
			RootDir:           DefaultRootDir,
			ReadHeaderTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Path:            "/websocket",
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			SendQueue:       64,
		},
		Broadcast: BroadcastConfig{
			Interval:   500 * time.Millisecond,
			Message:    DefaultMessage,
			BufferSize: 65536,
		},
		Loop: LoopConfig{
			PollTimeout: 500 * time.Millisecond,
			EventQueue:  1024,
		},
		Log: LogConfig{
			Level: "debug",
		},
		Tracing: TracingConfig{
			Exporter: "none",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv loads the file named by PULSECAST_CONFIG, if set.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv(EnvPath))
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RootDir == "" {
		return fmt.Errorf("server.root_dir must not be empty")
	}
	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		return fmt.Errorf("websocket.path %q must start with /", c.WebSocket.Path)
	}
	if c.WebSocket.ReadBufferSize <= 0 || c.WebSocket.WriteBufferSize <= 0 {
		return fmt.Errorf("websocket buffer sizes must be positive")
	}
	if c.WebSocket.ReadLimit < 0 {
		return fmt.Errorf("websocket.read_limit must not be negative")
	}
	if c.WebSocket.SendQueue <= 0 {
		return fmt.Errorf("websocket.send_queue must be positive")
	}
	if c.Broadcast.Interval <= 0 {
		return fmt.Errorf("broadcast.interval must be positive")
	}
	if c.Broadcast.BufferSize <= 0 {
		return fmt.Errorf("broadcast.buffer_size must be positive")
	}
	if c.Loop.PollTimeout <= 0 {
		return fmt.Errorf("loop.poll_timeout must be positive")
	}
	if c.Loop.EventQueue <= 0 {
		return fmt.Errorf("loop.event_queue must be positive")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter %q must be none or stdout", c.Tracing.Exporter)
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LogLevel parses Log.Level. An empty level means debug.
func (c *Config) LogLevel() (slog.Level, error) {
	if c.Log.Level == "" {
		return slog.LevelDebug, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
