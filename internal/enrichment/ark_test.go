package enrichment_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZaynJarvis/newtab/internal/enrichment"
)

func newArk(endpoint string, retries int) *enrichment.Ark {
	return enrichment.NewArk(enrichment.ArkConfig{
		Endpoint:       endpoint,
		Token:          "test-token",
		LLMModel:       "test-llm",
		EmbeddingModel: "test-embed",
		Timeout:        5 * time.Second,
		Retries:        retries,
	})
}

func TestArkKeywordsAndDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		answer := "```json\n{\"keywords\": \"go, search, engine\", \"description\": \"A search engine guide.\"}\n```"
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": answer}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	ark := newArk(srv.URL, 1)
	enriched, err := ark.GenerateKeywordsAndDescription(context.Background(), "Go Search", "content about search engines in go")
	if err != nil {
		t.Fatalf("GenerateKeywordsAndDescription() error: %v", err)
	}
	if enriched.Description != "A search engine guide." {
		t.Errorf("description = %q", enriched.Description)
	}
	if !reflect.DeepEqual(enriched.Keywords, []string{"go", "search", "engine"}) {
		t.Errorf("keywords = %v", enriched.Keywords)
	}
}

func TestArkKeywordsFallbackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	ark := newArk(srv.URL, 1)
	enriched, err := ark.GenerateKeywordsAndDescription(context.Background(),
		"Fallback Title", "token token token filler words everywhere")
	if err != nil {
		t.Fatalf("keywords must degrade, not fail: %v", err)
	}
	if enriched.Description != "Fallback Title" {
		t.Errorf("description = %q, want the title", enriched.Description)
	}
	if len(enriched.Keywords) == 0 || enriched.Keywords[0] != "token" {
		t.Errorf("keywords = %v, want content-derived", enriched.Keywords)
	}
}

func TestArkEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings/multimodal" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"embedding": []float32{0.1, 0.2, 0.3}},
		})
	}))
	defer srv.Close()

	ark := newArk(srv.URL, 1)
	vec, err := ark.GenerateEmbedding(context.Background(), "query text")
	if err != nil {
		t.Fatalf("GenerateEmbedding() error: %v", err)
	}
	if !reflect.DeepEqual(vec, []float32{0.1, 0.2, 0.3}) {
		t.Errorf("embedding = %v", vec)
	}
}

func TestArkEmbeddingListFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": []float32{0.5, 0.5}}},
		})
	}))
	defer srv.Close()

	ark := newArk(srv.URL, 1)
	vec, err := ark.GenerateEmbedding(context.Background(), "query text")
	if err != nil {
		t.Fatalf("GenerateEmbedding() error: %v", err)
	}
	if !reflect.DeepEqual(vec, []float32{0.5, 0.5}) {
		t.Errorf("embedding = %v", vec)
	}
}

func TestArkRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			http.Error(w, "busy", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"embedding": []float32{1}},
		})
	}))
	defer srv.Close()

	ark := newArk(srv.URL, 3)
	vec, err := ark.GenerateEmbedding(context.Background(), "q")
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if len(vec) != 1 {
		t.Errorf("embedding = %v", vec)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestArkEmbeddingUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ark := newArk(srv.URL, 1)
	_, err := ark.GenerateEmbedding(context.Background(), "q")
	if !errors.Is(err, enrichment.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestArkPermanentErrorSkipsRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	ark := newArk(srv.URL, 3)
	if _, err := ark.GenerateEmbedding(context.Background(), "q"); err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1 (400 must not retry)", calls)
	}
}

func TestArkHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "Hi"}},
			},
		})
	}))
	defer srv.Close()

	if err := newArk(srv.URL, 1).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}
}

func TestArkPlainJSONAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		answer := `{"keywords": "alpha, beta", "description": "Plain."}`
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": answer}},
			},
		})
	}))
	defer srv.Close()

	enriched, err := newArk(srv.URL, 1).GenerateKeywordsAndDescription(
		context.Background(), "T", strings.Repeat("word ", 30))
	if err != nil {
		t.Fatal(err)
	}
	if enriched.Description != "Plain." || len(enriched.Keywords) != 2 {
		t.Errorf("parsed = %+v", enriched)
	}
}
