package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server               ServerConfig               `mapstructure:"server"`
	CORS                 CORSConfig                 `mapstructure:"cors"`
	RateLimit            RateLimitConfig            `mapstructure:"rate_limit"`
	Relay                RelayConfig                `mapstructure:"relay"`
	Session              SessionConfig              `mapstructure:"session"`
	Templated            TemplatedConfig            `mapstructure:"templated"`
	Team                 TeamConfig                 `mapstructure:"team"`
	Redis                RedisConfig                `mapstructure:"redis"`
	Redelivery           RedeliveryConfig           `mapstructure:"redelivery"`
	DestinationRateLimit DestinationRateLimitConfig `mapstructure:"destination_rate_limit"`
	Heartbeat            HeartbeatConfig            `mapstructure:"heartbeat"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// CORSConfig holds CORS policy settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// RateLimitConfig holds inbound rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RelayConfig holds delivery-wide settings.
type RelayConfig struct {
	// Destination is the chat target every order notification is sent to.
	Destination string `mapstructure:"destination"`
	// ExtraDestinations are additional names registered by discovery in
	// simulation and stateless API modes.
	ExtraDestinations []string `mapstructure:"extra_destinations"`
	// Method forces a delivery method at startup; "auto" runs the selector.
	Method         string `mapstructure:"method"`
	SendTimeoutSec int    `mapstructure:"send_timeout_sec"`
}

// SessionConfig holds credentials and tuning for the session-based chat client.
type SessionConfig struct {
	Email             string   `mapstructure:"email"`
	Password          string   `mapstructure:"password"`
	DeviceID          string   `mapstructure:"device_id"`
	LoginURL          string   `mapstructure:"login_url"`
	DiscoveryLinks    []string `mapstructure:"discovery_links"`
	MaxAttempts       int      `mapstructure:"max_attempts"`
	BackoffUnitSec    int      `mapstructure:"backoff_unit_sec"`
	ReconnectDelaySec int      `mapstructure:"reconnect_delay_sec"`
	LoginTimeoutSec   int      `mapstructure:"login_timeout_sec"`
	JoinDelayMs       int      `mapstructure:"join_delay_ms"`
}

// TemplatedConfig holds settings for the templated-message API.
type TemplatedConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	TemplateID string `mapstructure:"template_id"`
	Recipient  string `mapstructure:"recipient"`
	SenderKey  string `mapstructure:"sender_key"`
}

// TeamConfig holds settings for the team-messaging API.
type TeamConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	BotToken       string `mapstructure:"bot_token"`
	ConversationID string `mapstructure:"conversation_id"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RedeliveryConfig holds settings for the asynq redelivery queue.
type RedeliveryConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Concurrency   int  `mapstructure:"concurrency"`
	MaxRetry      int  `mapstructure:"max_retry"`
	RetryDelaySec int  `mapstructure:"retry_delay_sec"`
}

// DestinationRateLimitConfig holds per-destination rate limiting settings.
type DestinationRateLimitConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxPerHour int  `mapstructure:"max_per_hour"`
}

// HeartbeatConfig holds the liveness log schedule.
type HeartbeatConfig struct {
	Schedule string `mapstructure:"schedule"`
}

// HasSession reports whether the session client credentials are complete.
func (c *Config) HasSession() bool {
	s := c.Session
	return s.Email != "" && s.Password != "" && s.DeviceID != "" && s.LoginURL != ""
}

// HasTemplated reports whether the templated-message API credentials are complete.
func (c *Config) HasTemplated() bool {
	t := c.Templated
	return t.BaseURL != "" && t.APIKey != "" && t.TemplateID != "" && t.Recipient != ""
}

// HasTeam reports whether the team-messaging API credentials are complete.
func (c *Config) HasTeam() bool {
	return c.Team.BotToken != "" && c.Team.ConversationID != ""
}

// Destinations returns the send destination followed by the extra destinations,
// without duplicates or blanks.
func (c *Config) Destinations() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range append([]string{c.Relay.Destination}, c.Relay.ExtraDestinations...) {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// SendTimeout returns the per-send network timeout.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Relay.SendTimeoutSec) * time.Second
}

// Load reads configuration from config.yaml and environment variables.
// Environment variables use the ORDERRELAY_ prefix and underscore separators.
// Example: ORDERRELAY_SESSION_EMAIL overrides session.email in config.yaml.
func Load() (*Config, error) {
	v := viper.New()

	// Config file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Load .env file if it exists
	_ = godotenv.Load()

	v.SetEnvPrefix("ORDERRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file; optional, env vars can provide everything
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return decode(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("relay.destination", "orders")
	v.SetDefault("relay.method", "auto")
	v.SetDefault("relay.send_timeout_sec", 15)

	v.SetDefault("session.max_attempts", 5)
	v.SetDefault("session.backoff_unit_sec", 30)
	v.SetDefault("session.reconnect_delay_sec", 10)
	v.SetDefault("session.login_timeout_sec", 30)
	v.SetDefault("session.join_delay_ms", 2000)

	v.SetDefault("team.base_url", "https://smba.trafficmanager.net/apis")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("redelivery.enabled", false)
	v.SetDefault("redelivery.concurrency", 2)
	v.SetDefault("redelivery.max_retry", 5)
	v.SetDefault("redelivery.retry_delay_sec", 30)

	v.SetDefault("destination_rate_limit.enabled", false)
	v.SetDefault("destination_rate_limit.max_per_hour", 120)

	v.SetDefault("heartbeat.schedule", "@every 5m")

	// Registered so AutomaticEnv picks them up during Unmarshal.
	for _, key := range []string{
		"session.email", "session.password", "session.device_id", "session.login_url",
		"session.discovery_links", "relay.extra_destinations",
		"templated.base_url", "templated.api_key", "templated.template_id", "templated.recipient", "templated.sender_key",
		"team.bot_token", "team.conversation_id",
		"cors.allowed_origins", "cors.allowed_methods", "cors.allowed_headers",
	} {
		v.SetDefault(key, "")
	}
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Lists arrive from env vars as a single comma-separated string.
	cfg.Session.DiscoveryLinks = splitList(v, "session.discovery_links", cfg.Session.DiscoveryLinks)
	cfg.Relay.ExtraDestinations = splitList(v, "relay.extra_destinations", cfg.Relay.ExtraDestinations)
	cfg.CORS.AllowedOrigins = splitList(v, "cors.allowed_origins", cfg.CORS.AllowedOrigins)
	cfg.CORS.AllowedMethods = splitList(v, "cors.allowed_methods", cfg.CORS.AllowedMethods)
	cfg.CORS.AllowedHeaders = splitList(v, "cors.allowed_headers", cfg.CORS.AllowedHeaders)

	if strings.TrimSpace(cfg.Relay.Destination) == "" {
		return nil, fmt.Errorf("relay.destination must not be empty")
	}
	return &cfg, nil
}

// splitList returns current when it already holds several entries, otherwise
// it re-reads key as a comma-separated string.
func splitList(v *viper.Viper, key string, current []string) []string {
	if len(current) > 1 {
		return trimAll(current)
	}
	raw := v.GetString(key)
	if raw == "" {
		return trimAll(current)
	}
	return trimAll(strings.Split(raw, ","))
}

func trimAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
