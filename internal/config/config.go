// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// LogLevel overrides the env-derived level (debug, info, warn, error).
	LogLevel string `env:"LOG_LEVEL"`

	// Optional infrastructure. Empty values disable the async job routes,
	// the shared web-context cache and the generation quota.
	DBURL        string   `env:"DB_URL"`
	RedisURL     string   `env:"REDIS_URL"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"generation-jobs"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"generation-workers"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ai-gen-gateway"`

	// Provider credentials
	PollenAPIKey          string `env:"POLLEN_API_KEY"`
	PollinationsAPIKey    string `env:"POLLINATIONS_API_KEY"`
	PollinationsAPIToken  string `env:"POLLINATIONS_API_TOKEN"`
	MistralAPIKey         string `env:"MISTRAL_API_KEY"`
	ReplicateAPIKey       string `env:"REPLICATE_API_KEY"`
	ReplicateAPIToken     string `env:"REPLICATE_API_TOKEN"`
	ReplicateToolPassword string `env:"REPLICATE_TOOL_PASSWORD"`
	BFLAPIKey             string `env:"BFL_API_KEY"`
	SupabaseURL           string `env:"SUPABASE_URL"`
	SupabaseServiceRole   string `env:"SUPABASE_SERVICE_ROLE"`
	SupabaseBucket        string `env:"SUPABASE_STORAGE_BUCKET" envDefault:"galleries"`

	// Provider endpoints, overridable for staging and tests
	PollinationsTextURL  string `env:"POLLINATIONS_TEXT_URL" envDefault:"https://text.pollinations.ai"`
	PollinationsImageURL string `env:"POLLINATIONS_IMAGE_URL" envDefault:"https://image.pollinations.ai"`
	PollinationsGenURL   string `env:"POLLINATIONS_GEN_URL" envDefault:"https://gen.pollinations.ai"`
	PollinationsEnterURL string `env:"POLLINATIONS_ENTER_URL" envDefault:"https://enter.pollinations.ai"`
	PollinationsMediaURL string `env:"POLLINATIONS_MEDIA_URL" envDefault:"https://media.pollinations.ai"`
	MistralBaseURL       string `env:"MISTRAL_BASE_URL" envDefault:"https://api.mistral.ai/v1"`
	ReplicateBaseURL     string `env:"REPLICATE_BASE_URL" envDefault:"https://api.replicate.com"`
	BFLBaseURL           string `env:"BFL_BASE_URL" envDefault:"https://api.bfl.ai"`
	CatboxURL            string `env:"CATBOX_URL" envDefault:"https://catbox.moe/user/api.php"`

	// CatalogPath replaces the embedded model catalog when set.
	CatalogPath string `env:"CATALOG_PATH"`

	EnhancePrimaryModel  string `env:"ENHANCE_PRIMARY_MODEL" envDefault:"claude"`
	EnhanceFallbackModel string `env:"ENHANCE_FALLBACK_MODEL" envDefault:"openai"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	GenerationQuotaPerMin int           `env:"GENERATION_QUOTA_PER_MIN" envDefault:"20"`
	MaxRequestMB          int64         `env:"MAX_REQUEST_MB" envDefault:"12"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	// Generation routes poll providers for minutes; write timeout covers the longest budget.
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"240s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"230s"`

	// Outbound HTTP
	UpstreamTimeout  time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"60s"`
	// UpstreamRPS paces each provider process-wide; 0 disables pacing.
	UpstreamRPS      float64       `env:"UPSTREAM_RPS" envDefault:"0"`
	UpstreamBurst    int           `env:"UPSTREAM_BURST" envDefault:"20"`
	BreakerFailures  int           `env:"BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerOpenFor   time.Duration `env:"BREAKER_OPEN_FOR" envDefault:"30s"`
	MistralTimeout   time.Duration `env:"MISTRAL_TIMEOUT" envDefault:"10s"`
	MistralRetries   int           `env:"MISTRAL_MAX_RETRIES" envDefault:"3"`
	MistralRetryWait time.Duration `env:"MISTRAL_RETRY_DELAY" envDefault:"2s"`

	// Upstream backoff
	UpstreamBackoffMaxElapsedTime  time.Duration `env:"UPSTREAM_BACKOFF_MAX_ELAPSED_TIME" envDefault:"20s"`
	UpstreamBackoffInitialInterval time.Duration `env:"UPSTREAM_BACKOFF_INITIAL_INTERVAL" envDefault:"500ms"`
	UpstreamBackoffMaxInterval     time.Duration `env:"UPSTREAM_BACKOFF_MAX_INTERVAL" envDefault:"5s"`
	UpstreamBackoffMultiplier      float64       `env:"UPSTREAM_BACKOFF_MULTIPLIER" envDefault:"2.0"`

	// Polling budgets
	ReplicatePollInterval time.Duration `env:"REPLICATE_POLL_INTERVAL" envDefault:"2s"`
	ReplicatePollAttempts int           `env:"REPLICATE_POLL_ATTEMPTS" envDefault:"60"`
	SpeechPollAttempts    int           `env:"REPLICATE_TTS_POLL_ATTEMPTS" envDefault:"40"`
	BFLPollInterval       time.Duration `env:"BFL_POLL_INTERVAL" envDefault:"2s"`
	BFLPollAttempts       int           `env:"BFL_POLL_ATTEMPTS" envDefault:"30"`
	MediaPollImageTimeout time.Duration `env:"MEDIA_POLL_IMAGE_TIMEOUT" envDefault:"60s"`
	MediaPollImageDelay   time.Duration `env:"MEDIA_POLL_IMAGE_DELAY" envDefault:"2s"`
	MediaPollVideoTimeout time.Duration `env:"MEDIA_POLL_VIDEO_TIMEOUT" envDefault:"180s"`
	MediaPollVideoDelay   time.Duration `env:"MEDIA_POLL_VIDEO_DELAY" envDefault:"4s"`

	// Web context
	WebContextCacheTTL     time.Duration `env:"WEB_CONTEXT_CACHE_TTL" envDefault:"5m"`
	WebContextLightTimeout time.Duration `env:"WEB_CONTEXT_LIGHT_TIMEOUT" envDefault:"500ms"`
	WebContextDeepTimeout  time.Duration `env:"WEB_CONTEXT_DEEP_TIMEOUT" envDefault:"3s"`

	// Async jobs
	JobRetentionDays    int           `env:"JOB_RETENTION_DAYS" envDefault:"30"`
	CleanupInterval     time.Duration `env:"CLEANUP_INTERVAL" envDefault:"24h"`
	JobMaxProcessingAge time.Duration `env:"JOB_MAX_PROCESSING_AGE" envDefault:"15m"`
	StuckSweepInterval  time.Duration `env:"STUCK_SWEEP_INTERVAL" envDefault:"1m"`
	WorkerConcurrency   int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	WorkerJobTimeout    time.Duration `env:"WORKER_JOB_TIMEOUT" envDefault:"10m"`
	WorkerMetricsPort   int           `env:"WORKER_METRICS_PORT" envDefault:"9090"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// PollenKey returns the server-side Pollinations key, first non-empty of
// POLLEN_API_KEY, POLLINATIONS_API_KEY, POLLINATIONS_API_TOKEN.
func (c Config) PollenKey() string {
	for _, k := range []string{c.PollenAPIKey, c.PollinationsAPIKey, c.PollinationsAPIToken} {
		if strings.TrimSpace(k) != "" {
			return strings.TrimSpace(k)
		}
	}
	return ""
}

// ReplicateToken returns REPLICATE_API_KEY, falling back to REPLICATE_API_TOKEN.
func (c Config) ReplicateToken() string {
	if c.ReplicateAPIKey != "" {
		return c.ReplicateAPIKey
	}
	return c.ReplicateAPIToken
}

// SupabaseEnabled reports whether storage routes can reach Supabase.
func (c Config) SupabaseEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceRole != ""
}

// KafkaBrokerList returns the configured brokers with blanks removed.
func (c Config) KafkaBrokerList() []string {
	out := make([]string, 0, len(c.KafkaBrokers))
	for _, b := range c.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// JobsEnabled reports whether the async job pipeline has both a store and a queue.
func (c Config) JobsEnabled() bool {
	return c.DBURL != "" && len(c.KafkaBrokerList()) > 0
}

// GetUpstreamBackoffConfig returns backoff configuration appropriate for the current environment.
// In test environments, uses much shorter timeouts for faster test execution.
func (c Config) GetUpstreamBackoffConfig() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 2 * time.Second, 10 * time.Millisecond, 100 * time.Millisecond, 2.0
	}
	return c.UpstreamBackoffMaxElapsedTime, c.UpstreamBackoffInitialInterval, c.UpstreamBackoffMaxInterval, c.UpstreamBackoffMultiplier
}
