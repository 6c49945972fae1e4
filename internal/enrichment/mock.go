package enrichment

import (
	"context"
	"hash/fnv"
	"math"
	"sync/atomic"

	"github.com/ZaynJarvis/newtab/internal/textprocessor"
)

// Mock derives enrichment outputs deterministically from the input text, so
// tests and offline runs get stable keywords and embeddings without a
// provider. Identical text always yields the identical vector.
type Mock struct {
	Dim       int
	processor *textprocessor.TextProcessor

	// Call counters let tests assert which paths hit the provider.
	// Incremented atomically; enrichment runs on background goroutines.
	KeywordCalls   int64
	EmbeddingCalls int64
	HealthCalls    int64

	// Fail makes every capability report provider failure.
	Fail bool
}

func NewMock(dim int) *Mock {
	if dim <= 0 {
		dim = 16
	}
	return &Mock{Dim: dim, processor: textprocessor.NewTextProcessor()}
}

func (m *Mock) GenerateKeywordsAndDescription(_ context.Context, title, content string) (*Enriched, error) {
	atomic.AddInt64(&m.KeywordCalls, 1)
	// Failure still degrades to placeholders; this capability never blocks
	// ingestion.
	return synthesizeFallback(m.processor, title, content), nil
}

func (m *Mock) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	atomic.AddInt64(&m.EmbeddingCalls, 1)
	if m.Fail {
		return nil, ErrUnavailable
	}

	// Hashed bag-of-words: each token accumulates into the bucket its hash
	// selects. Texts sharing vocabulary land in shared buckets, so related
	// text scores positive cosine while unrelated text scores near zero.
	vec := make([]float32, m.Dim)
	for _, token := range m.processor.Tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[int(h.Sum32())%m.Dim]++
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if norm := math.Sqrt(sum); norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

func (m *Mock) HealthCheck(_ context.Context) error {
	atomic.AddInt64(&m.HealthCalls, 1)
	if m.Fail {
		return ErrUnavailable
	}
	return nil
}
