package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/zecs/internal/core/observability/log"
)

var (
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
	ErrInvalidConfig     = errors.New("config: invalid configuration")
)

const (
	TransportWebSocket = "websocket"
	TransportQUIC      = "quic"
)

type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Client      ClientConfig      `yaml:"client" toml:"client"`
	Scheduler   SchedulerConfig   `yaml:"scheduler" toml:"scheduler"`
	Replication ReplicationConfig `yaml:"replication" toml:"replication"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
}

// ServerConfig selects the listener. Transport is "websocket" or "quic"; Path
// only applies to websocket.
type ServerConfig struct {
	Transport      string        `yaml:"transport" toml:"transport"`
	Addr           string        `yaml:"addr" toml:"addr"`
	Path           string        `yaml:"path" toml:"path"`
	StatsAddr      string        `yaml:"stats_addr" toml:"stats_addr"`
	AuthToken      string        `yaml:"auth_token" toml:"auth_token"`
	MaxMessageSize int64         `yaml:"max_message_size" toml:"max_message_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout" toml:"write_timeout"`
}

type ClientConfig struct {
	Transport string `yaml:"transport" toml:"transport"`
	Addr      string `yaml:"addr" toml:"addr"`
	AuthToken string `yaml:"auth_token" toml:"auth_token"`
	// InsecureSkipVerify accepts the server's self-signed QUIC certificate.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
}

type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval" toml:"tick_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait" toml:"shutdown_wait"`
}

type ReplicationConfig struct {
	TPS                   int           `yaml:"tps" toml:"tps"`
	SendTimeout           time.Duration `yaml:"send_timeout" toml:"send_timeout"`
	InterpolationInterval time.Duration `yaml:"interpolation_interval" toml:"interpolation_interval"`
}

// LoggingConfig.Format is "json" or "console".
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:      TransportWebSocket,
			Addr:           "127.0.0.1:8080",
			Path:           "/ws",
			StatsAddr:      "127.0.0.1:8081",
			MaxMessageSize: 1 << 20,
			WriteTimeout:   10 * time.Second,
		},
		Client: ClientConfig{
			Transport: TransportWebSocket,
			Addr:      "ws://127.0.0.1:8080/ws",
		},
		Scheduler: SchedulerConfig{
			TickInterval: 16 * time.Millisecond,
			ShutdownWait: 5 * time.Second,
		},
		Replication: ReplicationConfig{
			TPS:                   20,
			SendTimeout:           5 * time.Second,
			InterpolationInterval: 50 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults. The decoder follows the extension:
// .yaml and .yml use YAML, .toml uses TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err = dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".toml":
		if _, err = toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(validTransport(c.Server.Transport), "server.transport %q", c.Server.Transport)
	check(c.Server.Addr != "", "server.addr is empty")
	check(c.Server.Transport != TransportWebSocket || strings.HasPrefix(c.Server.Path, "/"), "server.path %q must start with /", c.Server.Path)
	check(c.Server.MaxMessageSize > 0, "server.max_message_size must be positive")
	check(validTransport(c.Client.Transport), "client.transport %q", c.Client.Transport)
	check(c.Scheduler.TickInterval > 0, "scheduler.tick_interval must be positive")
	check(c.Replication.TPS > 0, "replication.tps must be positive")
	check(c.Replication.InterpolationInterval >= 0, "replication.interpolation_interval is negative")

	_, err := log.ParseLevel(c.Logging.Level)
	check(err == nil, "logging.level %q", c.Logging.Level)
	check(c.Logging.Format == "json" || c.Logging.Format == "console", "logging.format %q", c.Logging.Format)

	return errors.Join(errs...)
}

// Logger builds the process logger described by the logging section.
func (c *Config) Logger() (*log.Logger, error) {
	level, err := log.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	return log.NewWithEncoding(level, c.Logging.Format), nil
}

func validTransport(t string) bool {
	return t == TransportWebSocket || t == TransportQUIC
}
