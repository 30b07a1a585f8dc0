// Package server provides configuration helpers that define runtime defaults,
// validation, and environment overrides for the relay.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// MinBroadcastCapacity is the smallest hub buffer the server accepts.
	MinBroadcastCapacity = 64

	defaultTCPAddr           = "0.0.0.0:11111"
	defaultPort              = ":8080"
	defaultMaxMessageSize    = 16 << 20
	defaultMaxFrameSize      = 16 << 20
	defaultRateBurst         = 20
	defaultBroadcastCapacity = 1024
	defaultSubscriberBuffer  = 256
	defaultIdleTimeout       = 5 * time.Minute
	defaultWriteTimeout      = 10 * time.Second
	defaultDBPath            = "sqlite.db"
	defaultFilesDir          = "files"
	defaultLogFile           = "server.log"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay configuration for both the TCP and the WebSocket side.
type Config struct {
	// TCPAddr is the listen address of the framed TCP relay.
	TCPAddr string
	// Port is the listen address of the HTTP server (WebSocket relay and API).
	Port           string
	AllowedOrigins []string
	// MaxMessageSize is the WebSocket read limit in bytes.
	MaxMessageSize int64
	// MaxFrameSize bounds the payload of a single TCP frame.
	MaxFrameSize      int64
	RateLimit         RateLimitConfig
	BroadcastCapacity int
	SubscriberBuffer  int
	// IdleTimeout disconnects TCP clients that send nothing for this long. Zero disables it.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	DBPath       string
	FilesDir     string
	LogFile      string
}

func defaultConfig() Config {
	return Config{
		TCPAddr: defaultTCPAddr,
		Port:    defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		MaxFrameSize:   defaultMaxFrameSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateBurst,
			RefillInterval: time.Second,
		},
		BroadcastCapacity: defaultBroadcastCapacity,
		SubscriberBuffer:  defaultSubscriberBuffer,
		IdleTimeout:       defaultIdleTimeout,
		WriteTimeout:      defaultWriteTimeout,
		DBPath:            defaultDBPath,
		FilesDir:          defaultFilesDir,
		LogFile:           defaultLogFile,
	}
}

// sanitizeConfig replaces unusable values with defaults and returns a copy
// that shares no slices with cfg.
func sanitizeConfig(cfg Config) Config {
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = defaultTCPAddr
	}

	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultRateBurst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	if cfg.BroadcastCapacity < MinBroadcastCapacity {
		cfg.BroadcastCapacity = MinBroadcastCapacity
	}

	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}

	if cfg.IdleTimeout < 0 {
		cfg.IdleTimeout = 0
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	if cfg.FilesDir == "" {
		cfg.FilesDir = defaultFilesDir
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if addr := os.Getenv("TCP_ADDR"); addr != "" {
		cfg.TCPAddr = addr
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseSize(maxSize, cfg.MaxMessageSize)
	}

	if maxFrame := os.Getenv("MAX_FRAME_SIZE"); maxFrame != "" {
		cfg.MaxFrameSize = parseSize(maxFrame, cfg.MaxFrameSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if capacity := os.Getenv("BROADCAST_CAPACITY"); capacity != "" {
		cfg.BroadcastCapacity = parseIntValue(capacity, cfg.BroadcastCapacity)
	}

	if buffer := os.Getenv("SUBSCRIBER_BUFFER"); buffer != "" {
		cfg.SubscriberBuffer = parseIntValue(buffer, cfg.SubscriberBuffer)
	}

	if idle := os.Getenv("IDLE_TIMEOUT"); idle != "" {
		cfg.IdleTimeout = parseTimeout(idle, cfg.IdleTimeout)
	}

	if path := os.Getenv("DB_PATH"); path != "" {
		cfg.DBPath = path
	}

	if dir := os.Getenv("FILES_DIR"); dir != "" {
		cfg.FilesDir = dir
	}

	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.LogFile = logFile
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseTimeout is parseSeconds for settings where zero means disabled.
func parseTimeout(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d == 0 {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds == 0 {
		return 0
	}
	return parseSeconds(value, defaultValue)
}

// parseSeconds accepts either a Go duration ("90s", "2m") or a bare number of seconds.
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
