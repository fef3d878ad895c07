package translate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testEmotes(names ...string) *EmoteResolver {
	return NewEmoteResolver(StaticEmotes(names), time.Minute, zerolog.Nop())
}

func TestPreprocess_RoundTripPreservesTokens(t *testing.T) {
	ctx := context.Background()
	in := "Hello @user check !help https://x.io Kappa"

	pre := Preprocess(ctx, in, testEmotes("Kappa"))
	if !pre.HasTokens() {
		t.Fatal("no tokens preserved")
	}
	if len(pre.Tokens) != 4 {
		t.Fatalf("preserved %d tokens %v, want 4", len(pre.Tokens), pre.Tokens)
	}
	for _, tok := range []string{"@user", "!help", "https://x.io", "Kappa"} {
		if strings.Contains(pre.Text, tok) {
			t.Fatalf("token %q leaked into placeholder text %q", tok, pre.Text)
		}
	}

	// Simulate a provider translating the prose while leaving placeholders.
	translated := pre.Text
	translated = strings.Replace(translated, "Hello", "Bonjour", 1)
	translated = strings.Replace(translated, "check", "regarde", 1)

	got := pre.Restore(translated)
	want := "Bonjour @user regarde !help https://x.io Kappa"
	if got != want {
		t.Fatalf("Restore = %q, want %q", got, want)
	}
}

func TestPreprocess_EmailNotSplitAsMention(t *testing.T) {
	pre := Preprocess(context.Background(), "write to john.doe@example.com please", nil)
	if len(pre.Tokens) != 1 || pre.Tokens[0] != "john.doe@example.com" {
		t.Fatalf("tokens = %v, want the full address", pre.Tokens)
	}
}

func TestPreprocess_NoTokensIsPassthrough(t *testing.T) {
	in := "just some plain prose here"
	pre := Preprocess(context.Background(), in, nil)
	if pre.HasTokens() {
		t.Fatalf("unexpected tokens %v", pre.Tokens)
	}
	if pre.Text != in {
		t.Fatalf("text changed: %q", pre.Text)
	}
	if got := pre.Restore(in); got != in {
		t.Fatalf("Restore = %q, want unchanged", got)
	}
}

func TestPreprocess_CommandPrefixVariants(t *testing.T) {
	cases := map[string]string{
		"!daily gimme":       "!daily",
		"/roll 2d6":          "/roll",
		"please run !status": "!status",
	}
	for in, want := range cases {
		pre := Preprocess(context.Background(), in, nil)
		found := false
		for _, tok := range pre.Tokens {
			if tok == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Preprocess(%q) tokens = %v, want %q preserved", in, pre.Tokens, want)
		}
	}
}

func TestRestore_MangledPlaceholderLeftAlone(t *testing.T) {
	pre := Preprocess(context.Background(), "ping @user", nil)
	// A placeholder index the preprocessor never issued stays untouched.
	out := pre.Restore(phOpen + "T9" + phClose + " hi")
	if !strings.Contains(out, phOpen+"T9"+phClose) {
		t.Fatalf("out-of-range placeholder rewritten: %q", out)
	}
}

func TestEmoteResolver_CachesSource(t *testing.T) {
	calls := 0
	src := emoteSourceFunc(func(context.Context) ([]string, error) {
		calls++
		return []string{"Kappa", "PogChamp"}, nil
	})
	r := NewEmoteResolver(src, time.Minute, zerolog.Nop())

	for i := 0; i < 5; i++ {
		if !r.IsEmote(context.Background(), "Kappa") {
			t.Fatal("known emote not recognized")
		}
		if r.IsEmote(context.Background(), "kappa") {
			t.Fatal("emote match must be case-sensitive")
		}
	}
	if calls != 1 {
		t.Fatalf("source fetched %d times, want 1", calls)
	}
}

type emoteSourceFunc func(context.Context) ([]string, error)

func (f emoteSourceFunc) Emotes(ctx context.Context) ([]string, error) { return f(ctx) }
