package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog"
)

// Provider is one translation backend in the fallback chain.
type Provider interface {
	// Name identifies the provider in cache rows and logs.
	Name() string
	// Translate converts text from src to dst (ISO 639-1 codes). The context
	// carries the per-attempt timeout.
	Translate(ctx context.Context, text, src, dst string) (string, error)
}

// ErrAllProvidersFailed is returned by Chain when every provider in the chain
// failed or none are configured.
var ErrAllProvidersFailed = errors.New("all translation providers failed")

// Chain tries providers in order, giving each its own timeout. Failure or
// quota exhaustion on one provider falls through to the next.
type Chain struct {
	providers []Provider
	timeout   time.Duration
	log       zerolog.Logger
}

// NewChain constructs a Chain. Nil providers are skipped so call sites can
// pass the full configured lineup unconditionally.
func NewChain(timeout time.Duration, log zerolog.Logger, providers ...Provider) *Chain {
	out := &Chain{timeout: timeout, log: log}
	for _, p := range providers {
		if p != nil {
			out.providers = append(out.providers, p)
		}
	}
	return out
}

// Translate runs the fallback chain. The returned provider name identifies
// which backend produced the text.
func (c *Chain) Translate(ctx context.Context, text, src, dst string) (translated, provider string, err error) {
	for _, p := range c.providers {
		attempt, cancel := context.WithTimeout(ctx, c.timeout)
		out, perr := p.Translate(attempt, text, src, dst)
		cancel()
		if perr == nil {
			return out, p.Name(), nil
		}
		c.log.Warn().Err(perr).Str("provider", p.Name()).Msg("translation provider failed, falling through")
	}
	return "", "", ErrAllProvidersFailed
}

// LibreProvider calls a LibreTranslate-compatible /translate endpoint.
type LibreProvider struct {
	URL    string // base URL, e.g. "https://libretranslate.example"
	APIKey string
	Client *http.Client
}

// Name implements Provider.
func (p *LibreProvider) Name() string { return "libretranslate" }

// Translate implements Provider.
func (p *LibreProvider) Translate(ctx context.Context, text, src, dst string) (string, error) {
	body := map[string]string{
		"q":      text,
		"source": src,
		"target": dst,
		"format": "text",
	}
	if p.APIKey != "" {
		body["api_key"] = p.APIKey
	}
	raw, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.URL, "/")+"/translate", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("libretranslate: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("libretranslate: decode: %w", err)
	}
	if out.TranslatedText == "" {
		return "", errors.New("libretranslate: empty translation")
	}
	return out.TranslatedText, nil
}

func (p *LibreProvider) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

// OpenAIProvider translates through a chat completion. It sits mid-chain:
// slower and costlier than a dedicated MT service but robust when the primary
// is down or over quota.
type OpenAIProvider struct {
	Client *openai.Client
	Model  string
}

// NewOpenAIProvider constructs a provider for the given API key and model.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{Client: openai.NewClient(apiKey), Model: model}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Translate implements Provider.
func (p *OpenAIProvider) Translate(ctx context.Context, text, src, dst string) (string, error) {
	resp, err := p.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(
					"Translate the user's message from %s to %s. "+
						"Output only the translation. Leave substrings wrapped in %s and %s exactly as they are.",
					src, dst, phOpen, phClose),
			},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("openai: empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// MyMemoryProvider calls the MyMemory-style GET API used as the final
// fallback; it needs no key for modest volumes.
type MyMemoryProvider struct {
	URL    string // base URL, e.g. "https://api.mymemory.translated.net"
	Client *http.Client
}

// Name implements Provider.
func (p *MyMemoryProvider) Name() string { return "mymemory" }

// Translate implements Provider.
func (p *MyMemoryProvider) Translate(ctx context.Context, text, src, dst string) (string, error) {
	q := url.Values{}
	q.Set("q", text)
	q.Set("langpair", src+"|"+dst)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(p.URL, "/")+"/get?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mymemory: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		ResponseData struct {
			TranslatedText string `json:"translatedText"`
		} `json:"responseData"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("mymemory: decode: %w", err)
	}
	if out.ResponseData.TranslatedText == "" {
		return "", errors.New("mymemory: empty translation")
	}
	return out.ResponseData.TranslatedText, nil
}
