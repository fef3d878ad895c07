package config

import (
	"testing"
	"time"
)

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestLoad_DefaultsAndNormalization(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GIN_MODE", "weird")    // normalizes to release
	t.Setenv("LOG_LEVEL", "WARNING") // normalizes to warn
	t.Setenv("API_BASE_PATH", "api/v1/")
	t.Setenv("TRANSLATE_TARGET_LANG", "DE")
	t.Setenv("RATE_LIMIT", "nope") // parse failure -> default
	t.Setenv("STREAM_ENABLED", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("GinMode = %q", cfg.GinMode)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("APIBasePath = %q", cfg.APIBasePath)
	}
	if cfg.Translation.TargetLang != "de" {
		t.Fatalf("TargetLang = %q", cfg.Translation.TargetLang)
	}
	if cfg.RateLimit != 10 {
		t.Fatalf("RateLimit = %d", cfg.RateLimit)
	}
	if cfg.RateWindow != time.Minute {
		t.Fatalf("RateWindow = %v", cfg.RateWindow)
	}
	if cfg.Stream.Enabled {
		t.Fatal("stream enabled by default")
	}
	if cfg.Stream.Consumer == "" {
		t.Fatal("empty default stream consumer")
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := map[string][2]string{
		"empty db path":        {"DB_PATH", "   "},
		"zero rate limit":      {"RATE_LIMIT", "0"},
		"negative edge rps":    {"EDGE_RATE_RPS", "-1"},
		"zero edge burst":      {"EDGE_RATE_BURST", "0"},
		"bad target lang":      {"TRANSLATE_TARGET_LANG", "not-a-lang-tag!!"},
		"confidence over one":  {"TRANSLATE_MIN_CONFIDENCE", "1.5"},
		"bad sample ratio":     {"OTEL_TRACES_SAMPLER_ARG", "2"},
		"zero batch max":       {"BATCH_MAX_EVENTS", "0"},
		"zero batch workers":   {"BATCH_CONCURRENCY", "0"},
		"zero notify workers":  {"NOTIFY_WORKERS", "0"},
		"negative retry count": {"DISPATCH_MAX_RETRIES", "-2"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("expected validation error for %s=%q", kv[0], kv[1])
			}
		})
	}
}

func TestLoad_StreamRequiresRedis(t *testing.T) {
	t.Setenv("STREAM_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "")
	if _, err := Load(); err == nil {
		t.Fatal("stream without redis accepted")
	}

	t.Setenv("REDIS_ADDR", "localhost:6379")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Stream.Enabled || cfg.Stream.Stream != "events:inbound" {
		t.Fatalf("stream config: %+v", cfg.Stream)
	}
}

func TestHelpers(t *testing.T) {
	if got := normalizeBasePath(""); got != "/" {
		t.Fatalf("normalizeBasePath(\"\") = %q", got)
	}
	if got := normalizeBasePath("v2///"); got != "/v2" {
		t.Fatalf("normalizeBasePath(v2///) = %q", got)
	}
	if got := splitCSV(" a, ,b ,"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("splitCSV = %#v", got)
	}
	t.Setenv("SOME_BOOL", "off")
	if getbool("SOME_BOOL", true) {
		t.Fatal("getbool(off) = true")
	}
	t.Setenv("SOME_DUR", "250ms")
	if getdur("SOME_DUR", time.Second) != 250*time.Millisecond {
		t.Fatal("getdur parse failed")
	}
}
