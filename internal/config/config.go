// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes router settings such
// as server timeouts, logging, persistence paths, the shared Redis store,
// rate limiting, translation providers, dispatch policy, and the durable
// stream transport.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "event-router")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RedisConfig defines the shared backing store used for rate-limit windows,
// cooldown stamps, the shared cache tier, and the durable stream transport.
type RedisConfig struct {
	Addr     string // REDIS_ADDR, empty disables the shared store entirely
	Password string // REDIS_PASSWORD
	DB       int    // REDIS_DB
}

// TranslationConfig defines the translation pipeline settings, including the
// provider fallback chain and the 3-tier cache TTLs.
type TranslationConfig struct {
	Enabled       bool          // TRANSLATE_ENABLED
	TargetLang    string        // TRANSLATE_TARGET_LANG (ISO 639-1)
	MinWords      int           // TRANSLATE_MIN_WORDS: skip shorter messages
	MinConfidence float64       // TRANSLATE_MIN_CONFIDENCE for detection
	LocalTTL      time.Duration // TRANSLATE_LOCAL_TTL: in-process tier
	LocalMaxItems int           // TRANSLATE_LOCAL_MAX_ITEMS
	SharedTTL     time.Duration // TRANSLATE_SHARED_TTL: Redis tier

	// Provider chain, tried in order. Empty URL/key skips that provider.
	PrimaryURL      string        // TRANSLATE_PRIMARY_URL (LibreTranslate-style)
	PrimaryKey      string        // TRANSLATE_PRIMARY_KEY
	OpenAIKey       string        // TRANSLATE_OPENAI_KEY
	OpenAIModel     string        // TRANSLATE_OPENAI_MODEL
	FallbackURL     string        // TRANSLATE_FALLBACK_URL (MyMemory-style)
	ProviderTimeout time.Duration // TRANSLATE_PROVIDER_TIMEOUT per attempt

	CaptionURL string // CAPTION_URL: overlay collaborator, empty disables
	EmoteURL   string // EMOTE_SOURCE_URL: JSON array of emote names, empty disables

	PruneAfter time.Duration // TRANSLATE_PRUNE_AFTER: drop idle cache rows, 0 disables
}

// DispatchConfig defines command dispatch policy: per-attempt timeout, retry
// budget with exponential backoff, and the signing secret for handler tokens.
type DispatchConfig struct {
	Timeout        time.Duration // DISPATCH_TIMEOUT per attempt
	MaxRetries     int           // DISPATCH_MAX_RETRIES on the RPC transport
	InitialBackoff time.Duration // DISPATCH_INITIAL_BACKOFF
	TokenSecret    string        // DISPATCH_TOKEN_SECRET (HMAC key)
	TokenTTL       time.Duration // DISPATCH_TOKEN_TTL
}

// StreamConfig defines the durable stream transport (Redis Streams consumer
// groups). Disabled unless STREAM_ENABLED is set and Redis is configured.
type StreamConfig struct {
	Enabled    bool          // STREAM_ENABLED
	Stream     string        // STREAM_NAME inbound stream key
	DeadLetter string        // STREAM_DLQ_NAME dead-letter stream key
	Group      string        // STREAM_GROUP consumer group name
	Consumer   string        // STREAM_CONSUMER consumer name (per instance)
	BatchSize  int           // STREAM_BATCH_SIZE messages per read
	BlockFor   time.Duration // STREAM_BLOCK read block timeout
	MaxRetries int           // STREAM_MAX_RETRIES before dead-lettering

	ClaimMinIdle time.Duration // STREAM_CLAIM_MIN_IDLE before reclaiming pending entries
}

// NotifyConfig defines the fire-and-forget collaborator pool.
type NotifyConfig struct {
	Workers       int           // NOTIFY_WORKERS
	QueueDepth    int           // NOTIFY_QUEUE_DEPTH
	Timeout       time.Duration // NOTIFY_TIMEOUT per call
	ActivityURL   string        // ACTIVITY_URL
	ReputationURL string        // REPUTATION_URL
	WorkflowURL   string        // WORKFLOW_URL
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Persistence
	DBPath string // SQLite path

	// Shared store
	Redis RedisConfig

	// Rate limiting: pipeline (per user+command) and HTTP edge
	RateLimit       int           // RATE_LIMIT commands per window
	RateWindow      time.Duration // RATE_WINDOW sliding window size
	EdgeRateRPS     float64       // EDGE_RATE_RPS tokens per second (>= 0)
	EdgeRateBurst   int           // EDGE_RATE_BURST bucket size (>= 1)
	SessionTTL      time.Duration // SESSION_TTL response retention
	ResolverTTL     time.Duration // RESOLVER_CACHE_TTL
	RegistryTTL     time.Duration // REGISTRY_CACHE_TTL
	EmoteTTL        time.Duration // EMOTE_CACHE_TTL
	BatchMaxEvents  int           // BATCH_MAX_EVENTS
	BatchConcurrent int           // BATCH_CONCURRENCY worker bound

	Translation TranslationConfig
	Dispatch    DispatchConfig
	Stream      StreamConfig
	Notify      NotifyConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Persistence
		DBPath: getenv("DB_PATH", "router.db"),

		// Shared store
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},

		// Rate limiting and caches
		RateLimit:       getint("RATE_LIMIT", 10),
		RateWindow:      getdur("RATE_WINDOW", time.Minute),
		EdgeRateRPS:     getfloat("EDGE_RATE_RPS", 25.0),
		EdgeRateBurst:   getint("EDGE_RATE_BURST", 50),
		SessionTTL:      getdur("SESSION_TTL", time.Hour),
		ResolverTTL:     getdur("RESOLVER_CACHE_TTL", 600*time.Second),
		RegistryTTL:     getdur("REGISTRY_CACHE_TTL", 300*time.Second),
		EmoteTTL:        getdur("EMOTE_CACHE_TTL", 600*time.Second),
		BatchMaxEvents:  getint("BATCH_MAX_EVENTS", 100),
		BatchConcurrent: getint("BATCH_CONCURRENCY", 8),

		Translation: TranslationConfig{
			Enabled:         getbool("TRANSLATE_ENABLED", true),
			TargetLang:      strings.ToLower(getenv("TRANSLATE_TARGET_LANG", "en")),
			MinWords:        getint("TRANSLATE_MIN_WORDS", 3),
			MinConfidence:   getfloat("TRANSLATE_MIN_CONFIDENCE", 0.6),
			LocalTTL:        getdur("TRANSLATE_LOCAL_TTL", 60*time.Second),
			LocalMaxItems:   getint("TRANSLATE_LOCAL_MAX_ITEMS", 256),
			SharedTTL:       getdur("TRANSLATE_SHARED_TTL", time.Hour),
			PrimaryURL:      getenv("TRANSLATE_PRIMARY_URL", ""),
			PrimaryKey:      getenv("TRANSLATE_PRIMARY_KEY", ""),
			OpenAIKey:       getenv("TRANSLATE_OPENAI_KEY", ""),
			OpenAIModel:     getenv("TRANSLATE_OPENAI_MODEL", "gpt-4o-mini"),
			FallbackURL:     getenv("TRANSLATE_FALLBACK_URL", ""),
			ProviderTimeout: getdur("TRANSLATE_PROVIDER_TIMEOUT", 5*time.Second),
			CaptionURL:      getenv("CAPTION_URL", ""),
			EmoteURL:        getenv("EMOTE_SOURCE_URL", ""),
			PruneAfter:      getdur("TRANSLATE_PRUNE_AFTER", 30*24*time.Hour),
		},

		Dispatch: DispatchConfig{
			Timeout:        getdur("DISPATCH_TIMEOUT", 5*time.Second),
			MaxRetries:     getint("DISPATCH_MAX_RETRIES", 3),
			InitialBackoff: getdur("DISPATCH_INITIAL_BACKOFF", 200*time.Millisecond),
			TokenSecret:    getenv("DISPATCH_TOKEN_SECRET", ""),
			TokenTTL:       getdur("DISPATCH_TOKEN_TTL", time.Minute),
		},

		Stream: StreamConfig{
			Enabled:    getbool("STREAM_ENABLED", false),
			Stream:     getenv("STREAM_NAME", "events:inbound"),
			DeadLetter: getenv("STREAM_DLQ_NAME", "events:deadletter"),
			Group:      getenv("STREAM_GROUP", "router"),
			Consumer:   getenv("STREAM_CONSUMER", defaultConsumer()),
			BatchSize:  getint("STREAM_BATCH_SIZE", 16),
			BlockFor:   getdur("STREAM_BLOCK", 5*time.Second),
			MaxRetries: getint("STREAM_MAX_RETRIES", 3),

			ClaimMinIdle: getdur("STREAM_CLAIM_MIN_IDLE", time.Minute),
		},

		Notify: NotifyConfig{
			Workers:       getint("NOTIFY_WORKERS", 4),
			QueueDepth:    getint("NOTIFY_QUEUE_DEPTH", 256),
			Timeout:       getdur("NOTIFY_TIMEOUT", 3*time.Second),
			ActivityURL:   getenv("ACTIVITY_URL", ""),
			ReputationURL: getenv("REPUTATION_URL", ""),
			WorkflowURL:   getenv("WORKFLOW_URL", ""),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "event-router"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateLimit < 1 {
		return cfg, errors.New("RATE_LIMIT must be >= 1")
	}
	if cfg.RateWindow <= 0 {
		return cfg, errors.New("RATE_WINDOW must be > 0")
	}
	if cfg.EdgeRateRPS < 0 {
		return cfg, errors.New("EDGE_RATE_RPS must be >= 0")
	}
	if cfg.EdgeRateBurst < 1 {
		return cfg, errors.New("EDGE_RATE_BURST must be >= 1")
	}
	if cfg.SessionTTL <= 0 {
		return cfg, errors.New("SESSION_TTL must be > 0")
	}
	if cfg.BatchMaxEvents < 1 {
		return cfg, errors.New("BATCH_MAX_EVENTS must be >= 1")
	}
	if cfg.BatchConcurrent < 1 {
		return cfg, errors.New("BATCH_CONCURRENCY must be >= 1")
	}
	if cfg.Translation.MinConfidence < 0 || cfg.Translation.MinConfidence > 1 {
		return cfg, errors.New("TRANSLATE_MIN_CONFIDENCE must be in [0,1]")
	}
	if _, err := language.Parse(cfg.Translation.TargetLang); err != nil {
		return cfg, errors.New("TRANSLATE_TARGET_LANG must be a valid language tag")
	}
	if cfg.Dispatch.Timeout <= 0 || cfg.Dispatch.TokenTTL <= 0 {
		return cfg, errors.New("dispatch timeouts must be positive durations")
	}
	if cfg.Dispatch.MaxRetries < 0 {
		return cfg, errors.New("DISPATCH_MAX_RETRIES must be >= 0")
	}
	if cfg.Stream.Enabled {
		if cfg.Redis.Addr == "" {
			return cfg, errors.New("STREAM_ENABLED requires REDIS_ADDR")
		}
		if cfg.Stream.BatchSize < 1 {
			return cfg, errors.New("STREAM_BATCH_SIZE must be >= 1")
		}
		if cfg.Stream.MaxRetries < 0 {
			return cfg, errors.New("STREAM_MAX_RETRIES must be >= 0")
		}
	}
	if cfg.Notify.Workers < 1 || cfg.Notify.QueueDepth < 1 {
		return cfg, errors.New("NOTIFY_WORKERS and NOTIFY_QUEUE_DEPTH must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// defaultConsumer derives a per-instance consumer name from the hostname so
// multiple router instances join the same group without colliding.
func defaultConsumer() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return "router-" + h
	}
	return "router-1"
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
