package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnrichmentConfig configures the LLM/embedding provider client.
type EnrichmentConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Token          string `yaml:"token"`
	TokenEnv       string `yaml:"token_env"`
	TimeoutSecs    int    `yaml:"timeout_secs"`
	Retries        int    `yaml:"retries"`
	LLMModel       string `yaml:"llm_model"`
	EmbeddingModel string `yaml:"embedding_model"`
	UseMock        bool   `yaml:"use_mock"`
}

// StoreConfig configures the SQLite document store.
type StoreConfig struct {
	Path          string `yaml:"path"`
	StalenessDays int    `yaml:"staleness_days"`
}

// VectorConfig configures the in-memory vector index.
type VectorConfig struct {
	Dimension int `yaml:"dimension"`
	SoftCap   int `yaml:"soft_cap"`
}

// CacheConfig configures the query embedding cache.
type CacheConfig struct {
	Capacity        int    `yaml:"capacity"`
	TTLDays         int    `yaml:"ttl_days"`
	PersistencePath string `yaml:"persistence_path"`
	PersistEveryN   int    `yaml:"persist_every_n_mutations"`
}

// EvictionConfig configures the ARC eviction engine.
type EvictionConfig struct {
	Capacity             int     `yaml:"capacity"`
	Headroom             int     `yaml:"headroom"`
	ProtectWindowMinutes int     `yaml:"protect_window_minutes"`
	RandomTriggerProb    float64 `yaml:"random_trigger_probability"`
	SweepIntervalMinutes int     `yaml:"sweep_interval_minutes"`
}

// SearchConfig configures retrieval fusion and filtering.
type SearchConfig struct {
	MaxResults     int     `yaml:"max_results"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	FreqWeight     float64 `yaml:"freq_weight"`
	DropRatio      float64 `yaml:"drop_ratio"`
	MinAbsolute    float64 `yaml:"min_absolute"`
	KLexical       int     `yaml:"k_lexical"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	LogFile string `yaml:"log_file"`
}

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Store      StoreConfig      `yaml:"store"`
	Vector     VectorConfig     `yaml:"vector"`
	Cache      CacheConfig      `yaml:"cache"`
	Eviction   EvictionConfig   `yaml:"eviction"`
	Search     SearchConfig     `yaml:"search"`
}

// Load reads a config from path. If the file does not exist, defaults are
// returned. The provider token may come from the environment variable named
// by enrichment.token_env, which wins over the file value.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if cfg.Enrichment.TokenEnv != "" {
		if token := os.Getenv(cfg.Enrichment.TokenEnv); token != "" {
			cfg.Enrichment.Token = token
		}
	}
	return cfg, nil
}

// EnrichmentTimeout returns the per-call provider timeout.
func (c *Config) EnrichmentTimeout() time.Duration {
	return time.Duration(c.Enrichment.TimeoutSecs) * time.Second
}

// Staleness returns the re-index threshold.
func (c *Config) Staleness() time.Duration {
	return time.Duration(c.Store.StalenessDays) * 24 * time.Hour
}

// ProtectWindow returns the eviction protection window.
func (c *Config) ProtectWindow() time.Duration {
	return time.Duration(c.Eviction.ProtectWindowMinutes) * time.Minute
}

// SweepInterval returns the periodic eviction interval.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Eviction.SweepIntervalMinutes) * time.Minute
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    ":8000",
			LogFile: "newtab.log",
		},
		Enrichment: EnrichmentConfig{
			Endpoint:       "https://ark-cn-beijing.bytedance.net/api/v3",
			TokenEnv:       "ARK_API_TOKEN",
			TimeoutSecs:    30,
			Retries:        3,
			LLMModel:       "ep-20250529215531-dfpgt",
			EmbeddingModel: "ep-20250529220411-grkkv",
		},
		Store: StoreConfig{
			Path:          "web_memory.db",
			StalenessDays: 3,
		},
		Vector: VectorConfig{
			Dimension: 2048,
			SoftCap:   10000,
		},
		Cache: CacheConfig{
			Capacity:        1000,
			TTLDays:         7,
			PersistencePath: "query_embeddings_cache.json",
			PersistEveryN:   20,
		},
		Eviction: EvictionConfig{
			Capacity:             1000,
			Headroom:             50,
			ProtectWindowMinutes: 60,
			RandomTriggerProb:    0.01,
			SweepIntervalMinutes: 60,
		},
		Search: SearchConfig{
			MaxResults:     10,
			SemanticWeight: 0.7,
			KeywordWeight:  0.3,
			FreqWeight:     0.1,
			DropRatio:      0.4,
			MinAbsolute:    0.2,
			KLexical:       20,
		},
	}
}

func applyDefaults(cfg *Config) {
	def := defaultConfig()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Enrichment.TimeoutSecs == 0 {
		cfg.Enrichment.TimeoutSecs = def.Enrichment.TimeoutSecs
	}
	if cfg.Enrichment.Retries == 0 {
		cfg.Enrichment.Retries = def.Enrichment.Retries
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Store.StalenessDays == 0 {
		cfg.Store.StalenessDays = def.Store.StalenessDays
	}
	if cfg.Vector.Dimension == 0 {
		cfg.Vector.Dimension = def.Vector.Dimension
	}
	if cfg.Vector.SoftCap == 0 {
		cfg.Vector.SoftCap = def.Vector.SoftCap
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = def.Cache.Capacity
	}
	if cfg.Cache.TTLDays == 0 {
		cfg.Cache.TTLDays = def.Cache.TTLDays
	}
	if cfg.Cache.PersistencePath == "" {
		cfg.Cache.PersistencePath = def.Cache.PersistencePath
	}
	if cfg.Cache.PersistEveryN == 0 {
		cfg.Cache.PersistEveryN = def.Cache.PersistEveryN
	}
	if cfg.Eviction.Capacity == 0 {
		cfg.Eviction.Capacity = def.Eviction.Capacity
	}
	if cfg.Eviction.Headroom == 0 {
		cfg.Eviction.Headroom = def.Eviction.Headroom
	}
	if cfg.Eviction.ProtectWindowMinutes == 0 {
		cfg.Eviction.ProtectWindowMinutes = def.Eviction.ProtectWindowMinutes
	}
	if cfg.Eviction.RandomTriggerProb == 0 {
		cfg.Eviction.RandomTriggerProb = def.Eviction.RandomTriggerProb
	}
	if cfg.Eviction.SweepIntervalMinutes == 0 {
		cfg.Eviction.SweepIntervalMinutes = def.Eviction.SweepIntervalMinutes
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = def.Search.MaxResults
	}
	if cfg.Search.SemanticWeight == 0 {
		cfg.Search.SemanticWeight = def.Search.SemanticWeight
	}
	if cfg.Search.KeywordWeight == 0 {
		cfg.Search.KeywordWeight = def.Search.KeywordWeight
	}
	if cfg.Search.FreqWeight == 0 {
		cfg.Search.FreqWeight = def.Search.FreqWeight
	}
	if cfg.Search.DropRatio == 0 {
		cfg.Search.DropRatio = def.Search.DropRatio
	}
	if cfg.Search.MinAbsolute == 0 {
		cfg.Search.MinAbsolute = def.Search.MinAbsolute
	}
	if cfg.Search.KLexical == 0 {
		cfg.Search.KLexical = def.Search.KLexical
	}
}
