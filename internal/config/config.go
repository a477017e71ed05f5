package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the CRM API service.
type Config struct {
	AppName           string
	AppEnv            string
	AppPort           string
	DatabaseURL       string
	RedisURL          string
	NATSURL           string
	JWTSecret         string
	EventChannelBase  string
	GroupChatName     string
	MessageReplay     int
	HeartbeatInterval time.Duration
	PresenceStale     time.Duration
	TypingStale       time.Duration
	SSEKeepAlive      time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and an
// optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("BRIGHTDESK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "BrightDesk CRM API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.channel_base", "brightdesk")
	v.SetDefault("chat.group_name", "Team")
	v.SetDefault("chat.message_replay", 100)
	v.SetDefault("presence.heartbeat", "30s")
	// Online claims older than twice the heartbeat read as offline. Set to
	// 0s to trust the last written status unconditionally.
	v.SetDefault("presence.stale_after", "60s")
	v.SetDefault("typing.stale_after", "5s")
	v.SetDefault("sse.keepalive", "30s")

	heartbeat, err := parseDuration(v, "presence.heartbeat", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	presenceStale, err := parseDuration(v, "presence.stale_after", 2*heartbeat)
	if err != nil {
		return Config{}, err
	}
	typingStale, err := parseDuration(v, "typing.stale_after", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	keepAlive, err := parseDuration(v, "sse.keepalive", 30*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		DatabaseURL:       v.GetString("database.url"),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		JWTSecret:         v.GetString("jwt.secret"),
		EventChannelBase:  v.GetString("events.channel_base"),
		GroupChatName:     v.GetString("chat.group_name"),
		MessageReplay:     v.GetInt("chat.message_replay"),
		HeartbeatInterval: heartbeat,
		PresenceStale:     presenceStale,
		TypingStale:       typingStale,
		SSEKeepAlive:      keepAlive,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.MessageReplay <= 0 || cfg.MessageReplay > 100 {
		cfg.MessageReplay = 100
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return parsed, nil
}
