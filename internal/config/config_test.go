package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZaynJarvis/newtab/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Store.StalenessDays != 3 {
		t.Errorf("StalenessDays = %d, want 3", cfg.Store.StalenessDays)
	}
	if cfg.Vector.Dimension != 2048 {
		t.Errorf("Dimension = %d, want 2048", cfg.Vector.Dimension)
	}
	if cfg.Vector.SoftCap != 10000 {
		t.Errorf("SoftCap = %d, want 10000", cfg.Vector.SoftCap)
	}
	if cfg.Cache.Capacity != 1000 || cfg.Cache.TTLDays != 7 || cfg.Cache.PersistEveryN != 20 {
		t.Errorf("cache config = %+v", cfg.Cache)
	}
	if cfg.Eviction.Capacity != 1000 || cfg.Eviction.Headroom != 50 {
		t.Errorf("eviction config = %+v", cfg.Eviction)
	}
	if cfg.Eviction.RandomTriggerProb != 0.01 {
		t.Errorf("RandomTriggerProb = %v, want 0.01", cfg.Eviction.RandomTriggerProb)
	}
	if cfg.Search.SemanticWeight != 0.7 || cfg.Search.KeywordWeight != 0.3 || cfg.Search.FreqWeight != 0.1 {
		t.Errorf("search weights = %+v", cfg.Search)
	}
	if cfg.Search.DropRatio != 0.4 || cfg.Search.MinAbsolute != 0.2 {
		t.Errorf("drop filter config = %+v", cfg.Search)
	}
	if cfg.Search.MaxResults != 10 || cfg.Search.KLexical != 20 {
		t.Errorf("search limits = %+v", cfg.Search)
	}
	if cfg.Staleness() != 3*24*time.Hour {
		t.Errorf("Staleness() = %v", cfg.Staleness())
	}
	if cfg.ProtectWindow() != time.Hour {
		t.Errorf("ProtectWindow() = %v", cfg.ProtectWindow())
	}
}

func TestLoadFileOverridesAndFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  addr: ":9000"
store:
  path: /tmp/x.db
  staleness_days: 5
vector:
  dimension: 512
search:
  max_results: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Store.Path != "/tmp/x.db" || cfg.Store.StalenessDays != 5 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Vector.Dimension != 512 {
		t.Errorf("Dimension = %d, want 512", cfg.Vector.Dimension)
	}
	if cfg.Search.MaxResults != 5 {
		t.Errorf("MaxResults = %d, want 5", cfg.Search.MaxResults)
	}
	// Unset keys keep their defaults.
	if cfg.Search.SemanticWeight != 0.7 {
		t.Errorf("SemanticWeight = %v, want default", cfg.Search.SemanticWeight)
	}
	if cfg.Cache.Capacity != 1000 {
		t.Errorf("Capacity = %d, want default", cfg.Cache.Capacity)
	}
}

func TestTokenFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
enrichment:
  token: file-token
  token_env: NEWTAB_TEST_TOKEN
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("env wins", func(t *testing.T) {
		t.Setenv("NEWTAB_TEST_TOKEN", "env-token")
		cfg, err := config.Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Enrichment.Token != "env-token" {
			t.Errorf("Token = %q, want env-token", cfg.Enrichment.Token)
		}
	})

	t.Run("file value kept when env empty", func(t *testing.T) {
		t.Setenv("NEWTAB_TEST_TOKEN", "")
		cfg, err := config.Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Enrichment.Token != "file-token" {
			t.Errorf("Token = %q, want file-token", cfg.Enrichment.Token)
		}
	})
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(":\nnot yaml: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}
