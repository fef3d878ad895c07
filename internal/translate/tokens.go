// Package translate implements the best-effort translation pipeline: language
// detection, token preservation, a 3-tier cache, a provider fallback chain,
// and caption forwarding. Translation never fails an event; every error path
// degrades to the original text.
//
// This file implements token preservation: structured substrings (mentions,
// command invocations, e-mail addresses, URLs, and platform emote names) are
// swapped for positional placeholders before the text reaches a provider and
// restored afterwards, so a provider can never corrupt them.
package translate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Placeholder delimiters. The characters sit outside every alphabet a
// provider will try to translate, and the numeric position keeps restoration
// order-stable even if the provider reorders surrounding prose.
const (
	phOpen  = "⟦" // ⟦
	phClose = "⟧" // ⟧
)

var (
	mentionRE = regexp.MustCompile(`@[A-Za-z0-9_.]+`)
	commandRE = regexp.MustCompile(`(?:^|\s)[!/][A-Za-z0-9_-]+`)
	emailRE   = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	urlRE     = regexp.MustCompile(`https?://[^\s]+`)
	wordRE    = regexp.MustCompile(`[A-Za-z0-9_]+`)
	phRE      = regexp.MustCompile(phOpen + `T(\d+)` + phClose)
)

// EmoteChecker reports whether a word is a known platform emote. Lookups are
// expected to be cheap; the production implementation caches the emote set.
type EmoteChecker interface {
	IsEmote(ctx context.Context, word string) bool
}

// token is one preserved substring and its byte offsets in the source text.
type token struct {
	start, end int
	text       string
}

// Preserved carries the placeholder form of a message together with the
// original tokens needed to restore it.
type Preserved struct {
	Text   string
	Tokens []string
}

// HasTokens reports whether any token was preserved.
func (p *Preserved) HasTokens() bool { return len(p.Tokens) > 0 }

// Preprocess scans text for reserved tokens and replaces each with a unique
// positional placeholder. Overlapping matches keep the leftmost-longest
// interval. emotes may be nil when no emote source is configured.
func Preprocess(ctx context.Context, text string, emotes EmoteChecker) Preserved {
	var toks []token

	// E-mail before mention: a mention pattern would otherwise claim the
	// local part of an address.
	for _, re := range []*regexp.Regexp{urlRE, emailRE, mentionRE} {
		for _, m := range re.FindAllStringIndex(text, -1) {
			toks = appendToken(toks, token{m[0], m[1], text[m[0]:m[1]]})
		}
	}
	// Command matches may include a leading separator; trim it off.
	for _, m := range commandRE.FindAllStringIndex(text, -1) {
		start := m[0]
		for start < m[1] && (text[start] == ' ' || text[start] == '\t') {
			start++
		}
		toks = appendToken(toks, token{start, m[1], text[start:m[1]]})
	}
	if emotes != nil {
		for _, m := range wordRE.FindAllStringIndex(text, -1) {
			w := text[m[0]:m[1]]
			if emotes.IsEmote(ctx, w) {
				toks = appendToken(toks, token{m[0], m[1], w})
			}
		}
	}

	if len(toks) == 0 {
		return Preserved{Text: text}
	}
	sort.Slice(toks, func(i, j int) bool { return toks[i].start < toks[j].start })

	var b strings.Builder
	out := Preserved{Tokens: make([]string, 0, len(toks))}
	prev := 0
	for i, t := range toks {
		b.WriteString(text[prev:t.start])
		fmt.Fprintf(&b, "%sT%d%s", phOpen, i, phClose)
		out.Tokens = append(out.Tokens, t.text)
		prev = t.end
	}
	b.WriteString(text[prev:])
	out.Text = b.String()
	return out
}

// appendToken adds t unless it overlaps an already-claimed interval.
func appendToken(toks []token, t token) []token {
	for _, prev := range toks {
		if t.start < prev.end && prev.start < t.end {
			return toks
		}
	}
	return append(toks, t)
}

// Restore substitutes placeholders back with their original token text, in
// position order. Placeholders a provider mangled beyond recognition are left
// as-is rather than guessed at.
func (p *Preserved) Restore(translated string) string {
	if !p.HasTokens() {
		return translated
	}
	return phRE.ReplaceAllStringFunc(translated, func(m string) string {
		var idx int
		if _, err := fmt.Sscanf(phRE.FindStringSubmatch(m)[1], "%d", &idx); err != nil {
			return m
		}
		if idx < 0 || idx >= len(p.Tokens) {
			return m
		}
		return p.Tokens[idx]
	})
}
