package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	// MaxMessageBytes bounds the content of a chat message. File payloads
	// travel inline, so this is larger than a typical chat limit.
	MaxMessageBytes     int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	ClientBuffer        int   `mapstructure:"client_buffer" yaml:"client_buffer"`
	RateLimitPerMinute  int   `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	RequireRegistration bool  `mapstructure:"require_registration" yaml:"require_registration"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTRequired bool   `mapstructure:"jwt_required" yaml:"jwt_required"`

	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ICEServers     []string `mapstructure:"ice_servers" yaml:"ice_servers"`
	MetricsEnabled bool     `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`

	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig configures the optional presence mirror. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Key      string `mapstructure:"key" yaml:"key"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":5000",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		DatabasePath:       "huddle.db",
		MaxMessageBytes:    16 << 20,
		ClientBuffer:       64,
		RateLimitPerMinute: 600,
		AllowedOrigins:     []string{"http://localhost:3000"},
		ICEServers:         []string{"stun:stun.l.google.com:19302"},
		MetricsEnabled:     true,
		Redis: RedisConfig{
			Key: "huddle:presence:online",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.ClientBuffer != 0 {
		c.ClientBuffer = other.ClientBuffer
	}
	if other.RateLimitPerMinute != 0 {
		c.RateLimitPerMinute = other.RateLimitPerMinute
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.Redis.Addr != "" {
		c.Redis.Addr = other.Redis.Addr
	}
}

// EnvelopeOverhead is the room an inbound frame gets beyond MaxMessageBytes
// for the event envelope and the other payload fields.
const EnvelopeOverhead = 64 << 10

// FrameLimit is the largest inbound websocket frame accepted. It leaves room
// for the envelope so oversized content is reported instead of closing the
// connection.
func (c Config) FrameLimit() int64 {
	if c.MaxMessageBytes <= 0 {
		return 0
	}
	return c.MaxMessageBytes + EnvelopeOverhead
}

// JWTEnabled reports whether tokens can be verified at all.
func (c Config) JWTEnabled() bool {
	return c.JWTSecret != ""
}
