package enrichment

import (
	"context"
	"errors"
	"strings"

	"github.com/ZaynJarvis/newtab/internal/textprocessor"
)

// ErrUnavailable is returned once the provider has exhausted its retries.
// Ingestion degrades to a page without an embedding; search falls back to a
// lexical surrogate vector.
var ErrUnavailable = errors.New("enrichment provider unavailable")

// Enriched is the text output of the keywords/description capability.
type Enriched struct {
	Description string
	Keywords    []string
}

// KeywordsCSV renders the keyword list in the comma-separated form stored
// on the page row.
func (e *Enriched) KeywordsCSV() string {
	return strings.Join(e.Keywords, ", ")
}

// Client abstracts the LLM/embedding provider.
//
// GenerateKeywordsAndDescription never fails on provider errors: after the
// retry budget it synthesizes a placeholder from the page's own text, so
// ingestion is never blocked. GenerateEmbedding reports ErrUnavailable
// instead, because a fabricated embedding would poison similarity search.
type Client interface {
	GenerateKeywordsAndDescription(ctx context.Context, title, content string) (*Enriched, error)
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	HealthCheck(ctx context.Context) error
}

const fallbackKeywordCount = 8

// synthesizeFallback builds placeholder enrichment from the page itself:
// the title doubles as the description, the most frequent terms of the
// title and content together become the keywords.
func synthesizeFallback(tp *textprocessor.TextProcessor, title, content string) *Enriched {
	keywords := tp.TopKeywords(title+" "+content, fallbackKeywordCount)
	description := strings.TrimSpace(title)
	if description == "" {
		description = "Web page content"
	}
	return &Enriched{Description: description, Keywords: keywords}
}
