package translate

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openflux/eventrouter/internal/domain"
)

// CaptionSink receives translated text for overlay display. Calls are
// fire-and-forget; the production implementation enqueues onto the notify
// pool.
type CaptionSink interface {
	ForwardCaption(communityID, text string)
}

// Options configures pipeline skip checks.
type Options struct {
	Enabled       bool
	TargetLang    string  // ISO 639-1
	MinWords      int     // skip shorter messages
	MinConfidence float64 // skip low-confidence detections
}

// Result is the outcome of a Translate call. Text always holds usable
// message text: the translation when one happened, the original otherwise.
type Result struct {
	Text       string
	Translated bool
	SourceLang string
	Provider   string
	CacheTier  string // which tier served the hit, "" on provider calls
}

// Pipeline translates chat text while never corrupting structured tokens.
// Translation is best-effort: every failure path returns the original text.
type Pipeline struct {
	opts   Options
	cache  *Tiered
	chain  *Chain
	emotes EmoteChecker // may be nil
	sink   CaptionSink  // may be nil
	log    zerolog.Logger

	// EnabledFor overrides the global enable flag per community when set.
	EnabledFor func(ctx context.Context, communityID string) bool
}

// NewPipeline constructs a Pipeline. cache and chain are required; emotes and
// sink may be nil.
func NewPipeline(opts Options, cache *Tiered, chain *Chain, emotes EmoteChecker, sink CaptionSink, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		opts:   opts,
		cache:  cache,
		chain:  chain,
		emotes: emotes,
		sink:   sink,
		log:    log,
	}
}

// Translate runs the full pipeline for one message on behalf of communityID.
func (p *Pipeline) Translate(ctx context.Context, communityID, text string) Result {
	passthrough := Result{Text: text}

	// 1. Skip checks: community toggle, minimum length, same language.
	if !p.enabledFor(ctx, communityID) {
		return passthrough
	}
	if len(strings.Fields(text)) < p.opts.MinWords {
		return passthrough
	}

	// 2. Detection below the confidence floor is treated as undetermined.
	det := Detect(text)
	if det.Lang == "" || det.Confidence < p.opts.MinConfidence {
		return passthrough
	}
	if det.Lang == p.opts.TargetLang {
		return passthrough
	}
	passthrough.SourceLang = det.Lang

	// 3. Preserve structured tokens before anything can touch them.
	pre := Preprocess(ctx, text, p.emotes)

	// 4. Cache tiers, keyed by the original text.
	key := CacheKey(text, det.Lang, p.opts.TargetLang)
	if c, tier, ok := p.cache.Get(ctx, key); ok {
		res := Result{
			Text:       c.Text,
			Translated: true,
			SourceLang: det.Lang,
			Provider:   c.Provider,
			CacheTier:  tier,
		}
		p.forward(communityID, res.Text)
		return res
	}

	// 5. Full miss: provider fallback chain.
	raw, provider, err := p.chain.Translate(ctx, pre.Text, det.Lang, p.opts.TargetLang)
	if err != nil {
		p.log.Warn().Err(err).Str("community_id", communityID).
			Msg("translation skipped, using original text")
		return passthrough
	}

	// 6. Restore tokens in position order.
	final := pre.Restore(raw)

	// 7. Write through all tiers.
	p.cache.Put(ctx, key, &domain.TranslationEntry{
		Key:            key,
		SourceText:     text,
		SourceLang:     det.Lang,
		TargetLang:     p.opts.TargetLang,
		TranslatedText: final,
		Provider:       provider,
		Confidence:     det.Confidence,
		LastAccessedAt: time.Now().UTC(),
	})

	// 8. Captions ride the notify pool and never block the response.
	p.forward(communityID, final)

	return Result{
		Text:       final,
		Translated: true,
		SourceLang: det.Lang,
		Provider:   provider,
	}
}

func (p *Pipeline) enabledFor(ctx context.Context, communityID string) bool {
	if !p.opts.Enabled {
		return false
	}
	if p.EnabledFor != nil {
		return p.EnabledFor(ctx, communityID)
	}
	return true
}

func (p *Pipeline) forward(communityID, text string) {
	if p.sink != nil {
		p.sink.ForwardCaption(communityID, text)
	}
}
