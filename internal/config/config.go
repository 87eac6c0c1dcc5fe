package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Assembler AssemblerConfig
	Redis     RedisConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
	RateLimit RateLimitConfig
	Janitor   JanitorConfig
	Webhook   WebhookConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// MaxMultipartMemory bounds how much of a multipart body gin keeps in memory
	MaxMultipartMemory int64
	// MetricsPort serves /metrics on a separate listener; 0 serves it on the API router
	MetricsPort int
}

// AssemblerConfig holds frame assembly configuration
type AssemblerConfig struct {
	WorkspaceRoot     string
	FFmpegPath        string
	FFprobePath       string
	FrameRate         int
	MaxFrames         int
	MaxUploadBytes    int64
	MaxDimension      int
	NormalizeWorkers  int
	AllowedExtensions []string
	NumericOrder      bool
	JobTimeout        time.Duration
	KillGrace         time.Duration
	SessionTTL        time.Duration
	ProgressRetention time.Duration
	StaleAge          time.Duration
}

// RedisConfig holds Redis configuration. Progress mirroring is skipped when Host is empty.
type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	ProgressTTL time.Duration
}

// LoggingConfig mirrors logging.Config
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// TracingConfig holds Jaeger configuration. Tracing is disabled when Endpoint is empty.
type TracingConfig struct {
	ServiceName string
	Endpoint    string
}

// RateLimitConfig holds per-client upload limits
type RateLimitConfig struct {
	Enabled bool
	RPS     int
	Burst   int
	// IdleTTL is how long an idle client's limiter is kept
	IdleTTL time.Duration
}

// JanitorConfig holds the cleanup schedule
type JanitorConfig struct {
	Schedule string
}

// WebhookConfig holds job outcome notification settings. Notifications are off when URL is empty.
type WebhookConfig struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FRAMEREEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks values that would otherwise fail deep inside a job
func (c *Config) Validate() error {
	a := c.Assembler
	if a.WorkspaceRoot == "" {
		return fmt.Errorf("assembler.workspaceRoot must be set")
	}
	if a.FrameRate <= 0 {
		return fmt.Errorf("assembler.frameRate must be positive, got %d", a.FrameRate)
	}
	if a.MaxFrames <= 0 {
		return fmt.Errorf("assembler.maxFrames must be positive, got %d", a.MaxFrames)
	}
	if a.MaxUploadBytes <= 0 {
		return fmt.Errorf("assembler.maxUploadBytes must be positive, got %d", a.MaxUploadBytes)
	}
	if a.MaxDimension < 0 {
		return fmt.Errorf("assembler.maxDimension must not be negative, got %d", a.MaxDimension)
	}
	if len(a.AllowedExtensions) == 0 {
		return fmt.Errorf("assembler.allowedExtensions must not be empty")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "5m")
	v.SetDefault("server.writeTimeout", "15m")
	v.SetDefault("server.shutdownTimeout", "30s")
	v.SetDefault("server.maxMultipartMemory", 32<<20) // 32MB
	v.SetDefault("server.metricsPort", 0)

	// Assembler defaults
	v.SetDefault("assembler.workspaceRoot", "/tmp/framereel")
	v.SetDefault("assembler.ffmpegPath", "ffmpeg")
	v.SetDefault("assembler.ffprobePath", "ffprobe")
	v.SetDefault("assembler.frameRate", 30)
	v.SetDefault("assembler.maxFrames", 2000)
	v.SetDefault("assembler.maxUploadBytes", 512<<20) // 512MB
	v.SetDefault("assembler.maxDimension", 0)
	v.SetDefault("assembler.normalizeWorkers", 1)
	v.SetDefault("assembler.allowedExtensions", []string{".png"})
	v.SetDefault("assembler.numericOrder", true)
	v.SetDefault("assembler.jobTimeout", "10m")
	v.SetDefault("assembler.killGrace", "5s")
	v.SetDefault("assembler.sessionTTL", "30m")
	v.SetDefault("assembler.progressRetention", "10m")
	v.SetDefault("assembler.staleAge", "2h")

	// Redis defaults
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.progressTTL", "1h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Tracing defaults
	v.SetDefault("tracing.serviceName", "framereel")
	v.SetDefault("tracing.endpoint", "")

	// Rate limit defaults
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 10)
	v.SetDefault("ratelimit.burst", 40)
	v.SetDefault("ratelimit.idleTTL", "10m")

	// Janitor defaults
	v.SetDefault("janitor.schedule", "@every 5m")

	// Webhook defaults
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.maxAttempts", 3)
	v.SetDefault("webhook.backoff", "2s")
}
