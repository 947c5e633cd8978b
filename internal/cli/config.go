package cli

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// configFile is the optional per-project configuration, looked up in
// the working directory when --config is not given.
const configFile = "wheelhouse.toml"

// Config is the file-backed configuration. Flags override anything set
// here.
type Config struct {
	Index   IndexConfig   `toml:"index"`
	Cache   CacheConfig   `toml:"cache"`
	Network NetworkConfig `toml:"network"`
}

// IndexConfig selects the package indexes.
type IndexConfig struct {
	// URLs are tried in order; a package found in one index is not
	// re-queried in the next.
	URLs []string `toml:"urls"`
	// UseJSONAPI switches from the PEP 503 simple index to the
	// warehouse JSON API.
	UseJSONAPI bool `toml:"use_json_api"`
}

// CacheConfig selects cache locations and the HTTP response backend.
type CacheConfig struct {
	// Dir is the artifact cache root; empty selects the per-user
	// default.
	Dir string `toml:"dir"`
	// Backend is one of "file", "redis", "mongo", or "none".
	Backend  string `toml:"backend"`
	RedisURL string `toml:"redis_url"`
	MongoURI string `toml:"mongo_uri"`
	// TTLHours bounds how long index responses are reused.
	TTLHours int `toml:"ttl_hours"`
}

// NetworkConfig bounds I/O parallelism.
type NetworkConfig struct {
	// Concurrency caps parallel metadata and artifact fetches.
	Concurrency int `toml:"concurrency"`
}

func defaultConfig() Config {
	return Config{
		Index:   IndexConfig{URLs: []string{"https://pypi.org/simple"}},
		Cache:   CacheConfig{Backend: "file", TTLHours: 12},
		Network: NetworkConfig{Concurrency: 10},
	}
}

// loadConfig reads path (or ./wheelhouse.toml when path is empty) over
// the defaults. A missing default file is not an error; a missing
// explicit file is.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	explicit := path != ""
	if !explicit {
		path = configFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if len(cfg.Index.URLs) == 0 {
		cfg.Index.URLs = defaultConfig().Index.URLs
	}
	return cfg, nil
}

// TTL returns the configured response-cache lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// httpCacheDir is where the file backend stores index responses.
func httpCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "wheelhouse", "http"), nil
}
