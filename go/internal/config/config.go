package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/watchparty/go/internal/client"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/notify"
	"github.com/mcdev12/watchparty/go/internal/presence"
	"github.com/mcdev12/watchparty/go/internal/ratelimit"
	"github.com/mcdev12/watchparty/go/internal/room"
	"github.com/mcdev12/watchparty/go/internal/session"
)

// Config holds the server settings
type Config struct {
	Port           string
	LogLevel       string
	AllowedOrigins []string
	NATS           NATSConfig
	Sync           SyncConfig
}

// NATSConfig selects where accepted room events are published. An empty URL
// disables publication.
type NATSConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
}

// SyncConfig is the room tuning that may come from the YAML file
type SyncConfig struct {
	CodeLength       int            `yaml:"code_length"`
	DefaultVideo     string         `yaml:"default_video"`
	DefaultTheme     string         `yaml:"default_theme"`
	ThrottleInterval time.Duration  `yaml:"throttle_interval"`
	MaxChatLength    int            `yaml:"max_chat_length"`
	ReactionBounds   session.Bounds `yaml:"reaction_bounds"`
	Words            presence.Words `yaml:"words"`
}

type file struct {
	Sync SyncConfig `yaml:"sync"`
}

// Default returns the built-in settings
func Default() Config {
	js := notify.DefaultJetStreamConfig()
	return Config{
		Port:           "8080",
		LogLevel:       "info",
		AllowedOrigins: []string{"*"},
		NATS: NATSConfig{
			StreamName:    js.StreamName,
			SubjectPrefix: js.SubjectPrefix,
		},
		Sync: SyncConfig{
			CodeLength:       room.DefaultConfig().CodeLength,
			DefaultVideo:     models.DefaultVideo,
			DefaultTheme:     models.DefaultTheme,
			ThrottleInterval: ratelimit.DefaultInterval,
			MaxChatLength:    session.DefaultConfig().MaxChatLength,
			ReactionBounds:   session.DefaultConfig().ReactionBounds,
		},
	}
}

// Load builds the server config: defaults, then the YAML file named by
// CONFIG_FILE, then individual environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.StreamName = getEnv("NATS_STREAM", cfg.NATS.StreamName)
	cfg.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)

	cfg.Sync.CodeLength = getEnvAsInt("ROOM_CODE_LENGTH", cfg.Sync.CodeLength)
	cfg.Sync.ThrottleInterval = getEnvAsDuration("THROTTLE_INTERVAL", cfg.Sync.ThrottleInterval)
	cfg.Sync.MaxChatLength = getEnvAsInt("MAX_CHAT_LENGTH", cfg.Sync.MaxChatLength)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	overlay := file{Sync: c.Sync}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	c.Sync = overlay.Sync
	return nil
}

func (c Config) validate() error {
	if c.Sync.CodeLength < 4 {
		return fmt.Errorf("room code length must be at least 4, got %d", c.Sync.CodeLength)
	}
	if c.Sync.ThrottleInterval <= 0 {
		return fmt.Errorf("throttle interval must be positive, got %s", c.Sync.ThrottleInterval)
	}
	if c.Sync.MaxChatLength <= 0 {
		return fmt.Errorf("max chat length must be positive, got %d", c.Sync.MaxChatLength)
	}
	b := c.Sync.ReactionBounds
	if b.MinX >= b.MaxX || b.MinY >= b.MaxY {
		return fmt.Errorf("reaction bounds are empty: %+v", b)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Level returns the zerolog level for LogLevel, defaulting to info
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// RoomConfig returns the registry settings
func (c Config) RoomConfig() room.Config {
	return room.Config{
		CodeLength:   c.Sync.CodeLength,
		DefaultVideo: c.Sync.DefaultVideo,
		DefaultTheme: c.Sync.DefaultTheme,
	}
}

// SessionConfig returns the coordinator settings
func (c Config) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.ReactionBounds = c.Sync.ReactionBounds
	cfg.MaxChatLength = c.Sync.MaxChatLength
	return cfg
}

// JetStreamConfig returns the event sink settings
func (c Config) JetStreamConfig() notify.JetStreamConfig {
	cfg := notify.DefaultJetStreamConfig()
	cfg.URL = c.NATS.URL
	cfg.StreamName = c.NATS.StreamName
	cfg.SubjectPrefix = c.NATS.SubjectPrefix
	return cfg
}

// ClientConfig holds the headless client settings
type ClientConfig struct {
	ServerURL      string
	RoomCode       string
	SyncInterval   time.Duration
	DriftThreshold float64 // seconds
	Autoplay       bool
	LogLevel       string
}

// LoadClient reads the headless client settings from the environment
func LoadClient() ClientConfig {
	return ClientConfig{
		ServerURL:      strings.TrimRight(getEnv("SERVER_URL", "http://localhost:8080"), "/"),
		RoomCode:       getEnv("ROOM_CODE", ""),
		SyncInterval:   getEnvAsDuration("SYNC_INTERVAL", 5*time.Second),
		DriftThreshold: getEnvAsFloat("DRIFT_THRESHOLD", client.DefaultDriftThreshold),
		Autoplay:       getEnvAsBool("AUTOPLAY", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
