package textprocessor_test

import (
	"reflect"
	"testing"

	"github.com/ZaynJarvis/newtab/internal/textprocessor"
)

func TestTopKeywords(t *testing.T) {
	tp := textprocessor.NewTextProcessor()

	tests := []struct {
		name     string
		input    string
		n        int
		expected []string
	}{
		{
			name:     "ordered by frequency",
			input:    "python python python golang golang rust",
			n:        3,
			expected: []string{"python", "golang", "rust"},
		},
		{
			name:     "stemmed variants count together",
			input:    "learning learned learns database",
			n:        1,
			expected: []string{"learning"},
		},
		{
			name:     "stop words excluded",
			input:    "the the the compiler",
			n:        5,
			expected: []string{"compiler"},
		},
		{
			name:     "n caps the list",
			input:    "alpha beta gamma delta",
			n:        2,
			expected: []string{"alpha", "beta"},
		},
		{
			name:     "zero n",
			input:    "alpha beta",
			n:        0,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tp.TopKeywords(tt.input, tt.n)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("TopKeywords(%q, %d) = %v, want %v", tt.input, tt.n, result, tt.expected)
			}
		})
	}
}

func TestKeywordsCSV(t *testing.T) {
	tp := textprocessor.NewTextProcessor()

	got := tp.KeywordsCSV("tutorial tutorial compiler", 2)
	want := "tutorial, compiler"
	if got != want {
		t.Errorf("KeywordsCSV() = %q, want %q", got, want)
	}
}

func TestStemmer(t *testing.T) {
	s := textprocessor.NewStemmer()

	tests := []struct {
		word     string
		expected string
	}{
		{"running", "run"},
		{"databases", "databas"},
		{"go", "go"},
	}

	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			if got := s.Stem(tt.word); got != tt.expected {
				t.Errorf("Stem(%q) = %q, want %q", tt.word, got, tt.expected)
			}
		})
	}
}
