package cache

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"schema-doctor/config"
)

// Cache stores per-file scan artifacts on disk, keyed by content hash. An
// unchanged source file skips re-parsing on the next monitoring cycle.
type Cache struct {
	config *config.Config
}

type entry struct {
	ContentHash string          `json:"content_hash"`
	Timestamp   time.Time       `json:"timestamp"`
	Result      json.RawMessage `json:"result"`
}

func New(cfg *config.Config) *Cache {
	return &Cache{config: cfg}
}

// Get loads a cached result into out. It returns false when caching is
// disabled, the entry is missing, the content changed, or the entry expired.
func (c *Cache) Get(key, content string, out interface{}) bool {
	if !c.config.Cache.Enabled {
		return false
	}

	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		return false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return false
	}
	if e.ContentHash != hashContent(content) || time.Since(e.Timestamp) > c.config.CacheTTL() {
		return false
	}
	return json.Unmarshal(e.Result, out) == nil
}

// Set stores a result for the given key and content. Write failures are
// returned but callers treat the cache as best-effort.
func (c *Cache) Set(key, content string, result interface{}) error {
	if !c.config.Cache.Enabled {
		return nil
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(entry{
		ContentHash: hashContent(content),
		Timestamp:   time.Now(),
		Result:      raw,
	}, "", "  ")
	if err != nil {
		return err
	}

	path := c.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clear removes all cached entries.
func (c *Cache) Clear() error {
	return os.RemoveAll(c.config.Cache.Directory)
}

func (c *Cache) entryPath(key string) string {
	base := filepath.Base(key)
	if base == "." || base == "/" {
		base = "root"
	}
	keyHash := hashContent(key)
	return filepath.Join(c.config.Cache.Directory, fmt.Sprintf("%s_%s.json", base, keyHash[:8]))
}

func hashContent(content string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(content)))
}
