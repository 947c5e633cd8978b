package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope", "wheelhouse.toml"))
	if err == nil {
		t.Fatal("explicit missing config should error")
	}

	// Default lookup of a missing file falls back to defaults.
	t.Chdir(t.TempDir())

	cfg, err = loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Index.URLs) != 1 || cfg.Index.URLs[0] != "https://pypi.org/simple" {
		t.Errorf("index urls = %v", cfg.Index.URLs)
	}
	if cfg.Cache.Backend != "file" || cfg.Cache.TTL() != 12*time.Hour {
		t.Errorf("cache config = %+v", cfg.Cache)
	}
	if cfg.Network.Concurrency != 10 {
		t.Errorf("concurrency = %d", cfg.Network.Concurrency)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wheelhouse.toml")
	content := `[index]
urls = ["https://mirror.example/simple", "https://pypi.org/simple"]

[cache]
backend = "redis"
redis_url = "redis://localhost:6379/0"
ttl_hours = 2

[network]
concurrency = 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Index.URLs) != 2 || cfg.Index.URLs[0] != "https://mirror.example/simple" {
		t.Errorf("index urls = %v", cfg.Index.URLs)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.RedisURL == "" {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Cache.TTL() != 2*time.Hour || cfg.Network.Concurrency != 4 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{3 << 20, "3.0 MiB"},
	}
	for _, tt := range tests {
		if got := humanBytes(tt.in); got != tt.want {
			t.Errorf("humanBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
