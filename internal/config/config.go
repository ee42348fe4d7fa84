package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"liveclass/pkg/logger"
)

const envPrefix = "LIVECLASS_"

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// ARCHITECTURAL DISCOVERY: one struct per subsystem so each constructor takes
// only the block it owns
type Config struct {
	HTTP      *HTTPConfig       `yaml:"http"`
	WebSocket *WebSocketConfig  `yaml:"websocket"`
	Room      *RoomConfig       `yaml:"room"`
	RateLimit *RateLimitConfig  `yaml:"rate_limit"`
	Redis     *RedisConfig      `yaml:"redis"`
	Log       *logger.LogConfig `yaml:"log"`
	Mode      string            `yaml:"mode"`
}

type HTTPConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// FUNCTIONAL DISCOVERY: heartbeat must be shorter than the read timeout or
// idle viewers are dropped between pings
type WebSocketConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
	AllowedOrigins []string
}

type RoomConfig struct {
	MaxChatLog       int
	BroadcasterGrace time.Duration
	QueueSize        int
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// RedisConfig enables the live status feed. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 128 * 1024,
		},
		Room: &RoomConfig{
			MaxChatLog:       500,
			BroadcasterGrace: 30 * time.Second,
			QueueSize:        256,
		},
		RateLimit: &RateLimitConfig{
			Limit:  300,
			Window: time.Minute,
		},
		Redis: &RedisConfig{
			Prefix: "liveclass",
		},
		Log: &logger.LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
		},
		Mode: ModeProduction,
	}
}

// IsDevelopment reports whether the relay runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Mode == ModeDevelopment || c.Mode == "dev"
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Room == nil || c.RateLimit == nil || c.Redis == nil || c.Log == nil {
		return errors.New("incomplete configuration")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout (%s) must exceed the ping interval (%s)", c.WebSocket.ReadTimeout, c.WebSocket.PingInterval)
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Room.MaxChatLog < 0 {
		return fmt.Errorf("room chat log size cannot be negative")
	}
	if c.Room.BroadcasterGrace < 0 {
		return fmt.Errorf("broadcaster grace cannot be negative")
	}
	if c.Room.QueueSize <= 0 {
		return fmt.Errorf("room queue size must be positive")
	}

	if c.RateLimit.Limit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.RateLimit.Limit > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}

	if c.Redis.Addr != "" && c.Redis.Prefix == "" {
		return fmt.Errorf("redis prefix cannot be empty")
	}

	switch c.Mode {
	case ModeDevelopment, ModeProduction, "dev":
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	return nil
}

// LoadFromEnv applies LIVECLASS_* variables on top of the defaults.
// Unparseable values are ignored and the default kept.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(c *Config) {
	setString(&c.HTTP.Host, "HTTP_HOST")
	setInt(&c.HTTP.Port, "HTTP_PORT")
	setDuration(&c.HTTP.ReadTimeout, "HTTP_READ_TIMEOUT")
	setDuration(&c.HTTP.WriteTimeout, "HTTP_WRITE_TIMEOUT")
	setDuration(&c.HTTP.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT")

	setDuration(&c.WebSocket.PingInterval, "WEBSOCKET_PING_INTERVAL")
	setDuration(&c.WebSocket.ReadTimeout, "WEBSOCKET_READ_TIMEOUT")
	setDuration(&c.WebSocket.WriteTimeout, "WEBSOCKET_WRITE_TIMEOUT")
	setInt(&c.WebSocket.BufferSize, "WEBSOCKET_BUFFER_SIZE")
	if v, ok := lookup("WEBSOCKET_MAX_MESSAGE_SIZE"); ok {
		if n, err := cast.ToInt64E(v); err == nil {
			c.WebSocket.MaxMessageSize = n
		}
	}
	if v, ok := lookup("WEBSOCKET_ALLOWED_ORIGINS"); ok {
		c.WebSocket.AllowedOrigins = splitList(v)
	}

	setInt(&c.Room.MaxChatLog, "ROOM_MAX_CHAT_LOG")
	setDuration(&c.Room.BroadcasterGrace, "ROOM_BROADCASTER_GRACE")
	setInt(&c.Room.QueueSize, "ROOM_QUEUE_SIZE")

	setInt(&c.RateLimit.Limit, "RATE_LIMIT")
	setDuration(&c.RateLimit.Window, "RATE_LIMIT_WINDOW")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")
	setString(&c.Redis.Prefix, "REDIS_PREFIX")

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Filename, "LOG_FILENAME")
	setInt(&c.Log.MaxSize, "LOG_MAX_SIZE")
	setInt(&c.Log.MaxAge, "LOG_MAX_AGE")
	setInt(&c.Log.MaxBackups, "LOG_MAX_BACKUPS")
	if v, ok := lookup("LOG_DAILY"); ok {
		if b, err := cast.ToBoolE(v); err == nil {
			c.Log.Daily = b
		}
	}

	setString(&c.Mode, "MODE")
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func setString(dst *string, name string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func setInt(dst *int, name string) {
	if v, ok := lookup(name); ok {
		if n, err := cast.ToIntE(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, name string) {
	if v, ok := lookup(name); ok {
		if d, err := cast.ToDurationE(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConfigFile is the YAML layout. Durations are strings such as "30s"; unset
// fields keep whatever the config already holds.
type ConfigFile struct {
	HTTP *struct {
		Host            string `yaml:"host"`
		Port            int    `yaml:"port"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"http"`
	WebSocket *struct {
		PingInterval   string   `yaml:"ping_interval"`
		ReadTimeout    string   `yaml:"read_timeout"`
		WriteTimeout   string   `yaml:"write_timeout"`
		BufferSize     int      `yaml:"buffer_size"`
		MaxMessageSize int64    `yaml:"max_message_size"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"websocket"`
	Room *struct {
		MaxChatLog       *int   `yaml:"max_chat_log"`
		BroadcasterGrace string `yaml:"broadcaster_grace"`
		QueueSize        int    `yaml:"queue_size"`
	} `yaml:"room"`
	RateLimit *struct {
		Limit  *int   `yaml:"limit"`
		Window string `yaml:"window"`
	} `yaml:"rate_limit"`
	Redis *struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Log  *logger.LogConfig `yaml:"log"`
	Mode string            `yaml:"mode"`
}

// LoadFromFile reads a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f ConfigFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []error
	duration := func(dst *time.Duration, field, v string) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = d
	}

	if h := f.HTTP; h != nil {
		if h.Host != "" {
			c.HTTP.Host = h.Host
		}
		if h.Port > 0 {
			c.HTTP.Port = h.Port
		}
		duration(&c.HTTP.ReadTimeout, "http.read_timeout", h.ReadTimeout)
		duration(&c.HTTP.WriteTimeout, "http.write_timeout", h.WriteTimeout)
		duration(&c.HTTP.ShutdownTimeout, "http.shutdown_timeout", h.ShutdownTimeout)
	}
	if w := f.WebSocket; w != nil {
		duration(&c.WebSocket.PingInterval, "websocket.ping_interval", w.PingInterval)
		duration(&c.WebSocket.ReadTimeout, "websocket.read_timeout", w.ReadTimeout)
		duration(&c.WebSocket.WriteTimeout, "websocket.write_timeout", w.WriteTimeout)
		if w.BufferSize > 0 {
			c.WebSocket.BufferSize = w.BufferSize
		}
		if w.MaxMessageSize > 0 {
			c.WebSocket.MaxMessageSize = w.MaxMessageSize
		}
		if len(w.AllowedOrigins) > 0 {
			c.WebSocket.AllowedOrigins = w.AllowedOrigins
		}
	}
	if r := f.Room; r != nil {
		if r.MaxChatLog != nil {
			c.Room.MaxChatLog = *r.MaxChatLog
		}
		duration(&c.Room.BroadcasterGrace, "room.broadcaster_grace", r.BroadcasterGrace)
		if r.QueueSize > 0 {
			c.Room.QueueSize = r.QueueSize
		}
	}
	if r := f.RateLimit; r != nil {
		if r.Limit != nil {
			c.RateLimit.Limit = *r.Limit
		}
		duration(&c.RateLimit.Window, "rate_limit.window", r.Window)
	}
	if r := f.Redis; r != nil {
		if r.Addr != "" {
			c.Redis.Addr = r.Addr
		}
		if r.Password != "" {
			c.Redis.Password = r.Password
		}
		if r.DB != 0 {
			c.Redis.DB = r.DB
		}
		if r.Prefix != "" {
			c.Redis.Prefix = r.Prefix
		}
	}
	if l := f.Log; l != nil {
		if l.Level != "" {
			c.Log.Level = l.Level
		}
		if l.Filename != "" {
			c.Log.Filename = l.Filename
		}
		if l.MaxSize > 0 {
			c.Log.MaxSize = l.MaxSize
		}
		if l.MaxAge > 0 {
			c.Log.MaxAge = l.MaxAge
		}
		if l.MaxBackups > 0 {
			c.Log.MaxBackups = l.MaxBackups
		}
		c.Log.Daily = c.Log.Daily || l.Daily
	}
	if f.Mode != "" {
		c.Mode = f.Mode
	}

	if len(errs) > 0 {
		return fmt.Errorf("config file %s: %w", path, errors.Join(errs...))
	}
	return nil
}

// LoadConfigWithPrecedence builds the runtime config from, lowest first:
// defaults, a .env file in the working directory, LIVECLASS_* variables and
// the YAML file at path. A missing .env or an empty path is not an error.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	// godotenv never overwrites variables that are already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := LoadFromEnv()
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
