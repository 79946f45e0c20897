package config

import (
	"fmt"
	"net/url"

	pkgconfig "github.com/ysprod/plancosmique-sub004/pkg/config"
)

// Config holds all configuration for the fulfillment service.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"fulfillment-service"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"FULFILLMENT_HTTP_PORT" envDefault:"8010"`

	// Backend API (payment verification, consultations, wallet, analysis)
	GatewayBaseURL string `env:"GATEWAY_BASE_URL" envDefault:"http://localhost:5000"`

	// Per-call gateway timeouts (seconds). Each remote call gets its own
	// context.WithTimeout so a slow backend cannot block the pipeline
	// indefinitely.
	VerifyTimeout       int `env:"GATEWAY_VERIFY_TIMEOUT" envDefault:"10"`
	FulfillTimeout      int `env:"GATEWAY_FULFILL_TIMEOUT" envDefault:"15"`
	OfferingsTimeout    int `env:"GATEWAY_OFFERINGS_TIMEOUT" envDefault:"10"`
	AnalysisPollTimeout int `env:"GATEWAY_ANALYSIS_POLL_TIMEOUT" envDefault:"5"`

	// Circuit breaker settings for the gateway client
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Analysis polling
	PollIntervalSeconds int `env:"ANALYSIS_POLL_INTERVAL_SECONDS" envDefault:"5"`
	// AnalysisMaxPolls bounds the polling loop; 0 means unlimited.
	AnalysisMaxPolls int `env:"ANALYSIS_MAX_POLLS" envDefault:"0"`

	// Redirect countdown
	RedirectCountdownStart int `env:"REDIRECT_COUNTDOWN_START" envDefault:"5"`

	// Delay after an offering payment before the analysis flow queries the
	// consultation, giving the backend time to index the new status.
	OfferingDebounceMs int `env:"OFFERING_DEBOUNCE_MS" envDefault:"500"`

	// Replay-marker store: "memory" or "redis"
	ReplayStore    string `env:"REPLAY_STORE" envDefault:"memory"`
	ReplayTTLHours int    `env:"REPLAY_TTL_HOURS" envDefault:"48"`

	// Redis (used when REPLAY_STORE=redis)
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`

	// Rate limiting on session creation (per user/IP)
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"2"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"5"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load fulfillment config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GatewayBaseURL == "" {
		return fmt.Errorf("GATEWAY_BASE_URL is required")
	}
	if _, err := url.ParseRequestURI(c.GatewayBaseURL); err != nil {
		return fmt.Errorf("invalid GATEWAY_BASE_URL %q: %w", c.GatewayBaseURL, err)
	}
	if c.PollIntervalSeconds < 1 {
		return fmt.Errorf("ANALYSIS_POLL_INTERVAL_SECONDS must be at least 1, got %d", c.PollIntervalSeconds)
	}
	if c.AnalysisMaxPolls < 0 {
		return fmt.Errorf("ANALYSIS_MAX_POLLS must not be negative, got %d", c.AnalysisMaxPolls)
	}
	if c.RedirectCountdownStart < 1 {
		return fmt.Errorf("REDIRECT_COUNTDOWN_START must be at least 1, got %d", c.RedirectCountdownStart)
	}
	switch c.ReplayStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("REPLAY_STORE must be memory or redis, got %q", c.ReplayStore)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}
