// Package cache holds encoded panel images and colormap lookup tables.
//
// Panels are keyed by render generation, so an entry can never be served
// for a newer state. Catalog query results are never cached.
package cache

import (
	"context"
	"fmt"
	"image/color"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	PanelCacheSizeMB int
	PanelTTL         time.Duration
	LUTCacheSize     int
}

// Manager manages panel and lookup-table caches.
type Manager struct {
	panelCache *bigcache.BigCache
	lutCache   *lru.Cache[string, []color.RGBA]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.PanelTTL <= 0 {
		cfg.PanelTTL = 10 * time.Minute
	}
	if cfg.LUTCacheSize <= 0 {
		cfg.LUTCacheSize = 32
	}

	panelCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.PanelTTL,
		CleanWindow:        cfg.PanelTTL / 2,
		MaxEntriesInWindow: 1000,
		MaxEntrySize:       512 * 1024, // 512KB per panel
		HardMaxCacheSize:   cfg.PanelCacheSizeMB,
		Verbose:            false,
	}

	panelCache, err := bigcache.New(context.Background(), panelCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create panel cache: %w", err)
	}

	lutCache, err := lru.New[string, []color.RGBA](cfg.LUTCacheSize)
	if err != nil {
		panelCache.Close()
		return nil, fmt.Errorf("failed to create lut cache: %w", err)
	}

	return &Manager{
		panelCache: panelCache,
		lutCache:   lutCache,
	}, nil
}

// GetPanel retrieves an encoded panel from cache.
func (m *Manager) GetPanel(key string) ([]byte, bool) {
	data, err := m.panelCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetPanel stores an encoded panel in cache.
func (m *Manager) SetPanel(key string, data []byte) error {
	return m.panelCache.Set(key, data)
}

// GetLUT retrieves a colormap lookup table.
func (m *Manager) GetLUT(key string) ([]color.RGBA, bool) {
	return m.lutCache.Get(key)
}

// SetLUT stores a colormap lookup table.
func (m *Manager) SetLUT(key string, lut []color.RGBA) {
	m.lutCache.Add(key, lut)
}

// PanelKey generates a cache key for an encoded panel.
func PanelKey(generation uint64, panel string, w, h int) string {
	return fmt.Sprintf("panel:%d:%s:%dx%d", generation, panel, w, h)
}

// LUTKey generates a cache key for a colormap lookup table.
func LUTKey(name string, size int) string {
	return fmt.Sprintf("lut:%s:%d", name, size)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"panel_cache_len": m.panelCache.Len(),
		"panel_cache_cap": m.panelCache.Capacity(),
		"lut_cache_len":   m.lutCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.panelCache.Close()
}
