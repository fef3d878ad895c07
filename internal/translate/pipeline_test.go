package translate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openflux/eventrouter/internal/store"
)

// srcText is long enough for confident detection and clearly not English.
const srcText = "Hola amigos, espero que todo vaya muy bien para ustedes hoy"

type fakeProvider struct {
	name  string
	fail  bool
	out   string
	calls int
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Translate(_ context.Context, text, _, _ string) (string, error) {
	f.calls++
	if f.fail {
		return "", errors.New("boom")
	}
	if f.out != "" {
		return f.out, nil
	}
	return text, nil
}

type captureSink struct {
	mu   sync.Mutex
	seen []string
}

func (c *captureSink) ForwardCaption(_, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, text)
}

func testOpts() Options {
	return Options{Enabled: true, TargetLang: "en", MinWords: 1, MinConfidence: 0}
}

func newTestPipeline(opts Options, sink CaptionSink, providers ...Provider) *Pipeline {
	cache := NewTiered(store.NewMemory(), nil, nil, time.Minute, time.Hour, 0, zerolog.Nop())
	chain := NewChain(time.Second, zerolog.Nop(), providers...)
	return NewPipeline(opts, cache, chain, nil, sink, zerolog.Nop())
}

func TestTranslate_CacheIdempotence(t *testing.T) {
	p1 := &fakeProvider{name: "primary", out: "hello friends, hope all is well"}
	p := newTestPipeline(testOpts(), nil, p1)

	first := p.Translate(context.Background(), "c1", srcText)
	if !first.Translated {
		t.Fatalf("first call not translated: %+v", first)
	}
	if first.CacheTier != "" {
		t.Fatalf("first call served from tier %q, want provider call", first.CacheTier)
	}
	if p1.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", p1.calls)
	}

	second := p.Translate(context.Background(), "c1", srcText)
	if !second.Translated || second.Text != first.Text {
		t.Fatalf("second call = %+v, want identical translation", second)
	}
	if second.CacheTier == "" {
		t.Fatal("second call missed the cache")
	}
	if p1.calls != 1 {
		t.Fatalf("provider calls after cache hit = %d, want 1", p1.calls)
	}
}

func TestTranslate_ProviderFallbackChain(t *testing.T) {
	p1 := &fakeProvider{name: "primary", fail: true}
	p2 := &fakeProvider{name: "secondary", out: "hello"}
	p := newTestPipeline(testOpts(), nil, p1, p2)

	res := p.Translate(context.Background(), "c1", srcText)
	if !res.Translated {
		t.Fatalf("not translated: %+v", res)
	}
	if res.Provider != "secondary" {
		t.Fatalf("provider = %q, want secondary", res.Provider)
	}
	if p1.calls != 1 || p2.calls != 1 {
		t.Fatalf("calls = (%d, %d), want (1, 1)", p1.calls, p2.calls)
	}
}

func TestTranslate_AllProvidersFailIsNonFatal(t *testing.T) {
	p1 := &fakeProvider{name: "primary", fail: true}
	p2 := &fakeProvider{name: "secondary", fail: true}
	p := newTestPipeline(testOpts(), nil, p1, p2)

	res := p.Translate(context.Background(), "c1", srcText)
	if res.Translated {
		t.Fatalf("translated despite provider failures: %+v", res)
	}
	if res.Text != srcText {
		t.Fatalf("text = %q, want original", res.Text)
	}
}

func TestTranslate_SkipChecks(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		opts := testOpts()
		opts.Enabled = false
		p1 := &fakeProvider{name: "primary"}
		p := newTestPipeline(opts, nil, p1)
		res := p.Translate(context.Background(), "c1", srcText)
		if res.Translated || p1.calls != 0 {
			t.Fatalf("disabled pipeline ran: %+v calls=%d", res, p1.calls)
		}
	})

	t.Run("below min words", func(t *testing.T) {
		opts := testOpts()
		opts.MinWords = 50
		p1 := &fakeProvider{name: "primary"}
		p := newTestPipeline(opts, nil, p1)
		res := p.Translate(context.Background(), "c1", srcText)
		if res.Translated || p1.calls != 0 {
			t.Fatalf("short message translated: %+v calls=%d", res, p1.calls)
		}
	})

	t.Run("community override", func(t *testing.T) {
		p1 := &fakeProvider{name: "primary"}
		p := newTestPipeline(testOpts(), nil, p1)
		p.EnabledFor = func(_ context.Context, communityID string) bool {
			return communityID != "muted"
		}
		if res := p.Translate(context.Background(), "muted", srcText); res.Translated {
			t.Fatalf("muted community translated: %+v", res)
		}
		if res := p.Translate(context.Background(), "c1", srcText); !res.Translated {
			t.Fatalf("other community skipped: %+v", res)
		}
	})
}

func TestTranslate_ForwardsCaption(t *testing.T) {
	sink := &captureSink{}
	p1 := &fakeProvider{name: "primary", out: "hello friends"}
	p := newTestPipeline(testOpts(), sink, p1)

	res := p.Translate(context.Background(), "c1", srcText)
	if !res.Translated {
		t.Fatalf("not translated: %+v", res)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.seen) != 1 || sink.seen[0] != res.Text {
		t.Fatalf("captions = %v, want one entry %q", sink.seen, res.Text)
	}
}

func TestCacheKey_Distinguishing(t *testing.T) {
	base := CacheKey("hola", "es", "en")
	if CacheKey("hola", "es", "en") != base {
		t.Fatal("key not deterministic")
	}
	for _, other := range []string{
		CacheKey("hola!", "es", "en"),
		CacheKey("hola", "pt", "en"),
		CacheKey("hola", "es", "fr"),
	} {
		if other == base {
			t.Fatal("distinct triples collided")
		}
	}
}
