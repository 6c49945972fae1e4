package textprocessor

import (
	"sort"
	"strings"

	"github.com/ZaynJarvis/newtab/internal/tokenizer"
)

// TextProcessor derives keyword candidates from raw page text. It backs the
// enrichment fallback path: when the provider is unreachable, a page still
// gets keywords taken from its own most frequent terms.
type TextProcessor struct {
	tokenizer *tokenizer.Tokenizer
	stemmer   *Stemmer
}

func NewTextProcessor() *TextProcessor {
	return &TextProcessor{
		tokenizer: tokenizer.NewTokenizer(),
		stemmer:   NewStemmer(),
	}
}

func (tp *TextProcessor) Tokenize(text string) []string {
	return tp.tokenizer.Tokenize(text)
}

// TopKeywords returns up to n distinct keywords ordered by descending
// frequency. Terms that stem to the same root count together, but the
// surface form shown is the first one seen, so keywords stay readable.
func (tp *TextProcessor) TopKeywords(text string, n int) []string {
	if n <= 0 {
		return nil
	}

	tokens := tp.tokenizer.Tokenize(text)

	freq := make(map[string]int)
	surface := make(map[string]string)
	for _, token := range tokens {
		root := tp.stemmer.Stem(token)
		freq[root]++
		if _, ok := surface[root]; !ok {
			surface[root] = token
		}
	}

	roots := make([]string, 0, len(freq))
	for root := range freq {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool {
		if freq[roots[i]] != freq[roots[j]] {
			return freq[roots[i]] > freq[roots[j]]
		}
		return surface[roots[i]] < surface[roots[j]]
	})

	if len(roots) > n {
		roots = roots[:n]
	}
	keywords := make([]string, len(roots))
	for i, root := range roots {
		keywords[i] = surface[root]
	}
	return keywords
}

// KeywordsCSV renders TopKeywords as the comma-separated form stored on the
// page row.
func (tp *TextProcessor) KeywordsCSV(text string, n int) string {
	return strings.Join(tp.TopKeywords(text, n), ", ")
}
