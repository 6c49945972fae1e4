package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ZaynJarvis/newtab/internal/textprocessor"
)

const (
	maxLLMContentChars   = 2000
	maxEmbeddingChars    = 3000
	healthCheckTimeout   = 5 * time.Second
	initialRetryInterval = 1 * time.Second
)

// ArkConfig configures the live provider client.
type ArkConfig struct {
	Endpoint       string
	Token          string
	LLMModel       string
	EmbeddingModel string
	Timeout        time.Duration
	Retries        int
}

// Ark talks to an OpenAI-shaped chat/embeddings HTTP API with bearer auth,
// per-call timeouts, and exponential-backoff retries.
type Ark struct {
	cfg        ArkConfig
	httpClient *http.Client
	processor  *textprocessor.TextProcessor
}

func NewArk(cfg ArkConfig) *Ark {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries == 0 {
		cfg.Retries = 3
	}
	return &Ark{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		processor:  textprocessor.NewTextProcessor(),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type embeddingRequest struct {
	Model string           `json:"model"`
	Input []embeddingInput `json:"input"`
}

type embeddingInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type embeddingResponse struct {
	Data json.RawMessage `json:"data"`
}

// GenerateKeywordsAndDescription asks the LLM for keywords and a summary.
// Provider failure after retries degrades to synthesized placeholders.
func (a *Ark) GenerateKeywordsAndDescription(ctx context.Context, title, content string) (*Enriched, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	truncated := content
	if len(truncated) > maxLLMContentChars {
		truncated = truncated[:maxLLMContentChars] + "..."
	}

	prompt := fmt.Sprintf(`Analyze this web page and generate:
1. Keywords: 5-10 relevant keywords/phrases separated by commas
2. Description: A concise 1-2 sentence summary

Title: %s
Content: %s

Please respond in this exact JSON format:
{
    "keywords": "keyword1, keyword2, keyword3, ...",
    "description": "Brief description of the page content"
}`, title, truncated)

	payload := chatRequest{
		Model:       a.cfg.LLMModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   300,
	}

	var resp chatResponse
	if err := a.post(ctx, "/chat/completions", payload, &resp); err != nil {
		slog.Warn("llm enrichment failed, synthesizing placeholders",
			"error", err,
			"event", "enrichment_llm_fallback")
		return synthesizeFallback(a.processor, title, content), nil
	}

	if len(resp.Choices) == 0 {
		return synthesizeFallback(a.processor, title, content), nil
	}
	return parseEnriched(resp.Choices[0].Message.Content, a.processor, title, content), nil
}

// GenerateEmbedding returns the provider's vector for text, or
// ErrUnavailable once retries are exhausted.
func (a *Ark) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if len(text) > maxEmbeddingChars {
		text = text[:maxEmbeddingChars] + "..."
	}

	payload := embeddingRequest{
		Model: a.cfg.EmbeddingModel,
		Input: []embeddingInput{{Type: "text", Text: text}},
	}

	var resp embeddingResponse
	if err := a.post(ctx, "/embeddings/multimodal", payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	embedding, err := extractEmbedding(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return embedding, nil
}

// HealthCheck sends a minimal chat completion with a short deadline.
func (a *Ark) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	payload := chatRequest{
		Model:     a.cfg.LLMModel,
		Messages:  []chatMessage{{Role: "user", Content: "Hello"}},
		MaxTokens: 10,
	}
	var resp chatResponse
	return a.postOnce(ctx, "/chat/completions", payload, &resp)
}

// post runs postOnce under exponential backoff, up to the configured retry
// bound. Context cancellation stops the retry loop immediately.
func (a *Ark) post(ctx context.Context, path string, payload, out interface{}) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExponential(), uint64(a.cfg.Retries)),
		ctx,
	)
	return backoff.Retry(func() error {
		return a.postOnce(ctx, path, payload, out)
	}, policy)
}

func newExponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialRetryInterval
	return b
}

func (a *Ark) postOnce(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(a.cfg.Endpoint, "/")+path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.Token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return json.Unmarshal(raw, out)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	default:
		// 4xx other than 429 will not improve on retry.
		return backoff.Permanent(fmt.Errorf("provider returned status %d: %s", resp.StatusCode, raw))
	}
}

// parseEnriched decodes the LLM's JSON answer, tolerating code fences and
// falling back to line-scanning, then to synthesized placeholders.
func parseEnriched(content string, tp *textprocessor.TextProcessor, title, pageContent string) *Enriched {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var parsed struct {
		Keywords    string `json:"keywords"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err == nil {
		if parsed.Keywords != "" || parsed.Description != "" {
			return &Enriched{
				Description: parsed.Description,
				Keywords:    splitKeywords(parsed.Keywords),
			}
		}
	}

	var keywords, description string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if idx := strings.Index(line, ":"); idx >= 0 {
			value := strings.Trim(strings.TrimSpace(line[idx+1:]), `",`)
			if strings.Contains(lower, "keywords") {
				keywords = value
			} else if strings.Contains(lower, "description") {
				description = value
			}
		}
	}
	if keywords != "" || description != "" {
		return &Enriched{Description: description, Keywords: splitKeywords(keywords)}
	}

	return synthesizeFallback(tp, title, pageContent)
}

func splitKeywords(csv string) []string {
	parts := strings.Split(csv, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			keywords = append(keywords, trimmed)
		}
	}
	return keywords
}

func extractEmbedding(data json.RawMessage) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("response carried no data field")
	}

	// The current API returns data as an object holding the embedding; the
	// old format was a list of objects.
	var object struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &object); err == nil && len(object.Embedding) > 0 {
		return object.Embedding, nil
	}

	var list []struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &list); err == nil && len(list) > 0 && len(list[0].Embedding) > 0 {
		return list[0].Embedding, nil
	}

	return nil, fmt.Errorf("could not extract embedding from response")
}
