// Package assets locates material definitions and textures across a
// search path of directories and pak archives.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Faultbox/midgard-bsp/pkg/pak"
)

// ErrNotFound is returned when no source holds a file.
var ErrNotFound = errors.New("asset not found")

// Source is one entry of the search path.
type Source interface {
	Read(path string) ([]byte, error)
	Contains(path string) bool
	Close() error
	String() string
}

// dirSource reads loose files below a directory.
type dirSource struct {
	root string
}

func (d dirSource) full(p string) string {
	return filepath.Join(d.root, filepath.FromSlash(cleanPath(p)))
}

func (d dirSource) Read(p string) ([]byte, error) {
	data, err := os.ReadFile(d.full(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return data, err
}

func (d dirSource) Contains(p string) bool {
	info, err := os.Stat(d.full(p))
	return err == nil && !info.IsDir()
}

func (d dirSource) Close() error   { return nil }
func (d dirSource) String() string { return d.root }

// Manager searches its sources in reverse order (last added = highest
// priority) and caches what it loads.
type Manager struct {
	sources []Source
	cache   *Cache
	mu      sync.RWMutex

	matOnce sync.Once
	matDefs map[string]MaterialDef
	matErr  error
}

// NewManager creates an empty asset manager.
func NewManager() *Manager {
	return &Manager{
		cache: NewCache(),
	}
}

// NewManagerFromPaths creates a manager over the given directories and
// .pak files.
func NewManagerFromPaths(paths []string) (*Manager, error) {
	m := NewManager()
	for _, p := range paths {
		if err := m.AddPath(p); err != nil {
			m.Close()
			return nil, err
		}
	}
	return m, nil
}

// AddPath adds a directory or a .pak archive to the search path.
func (m *Manager) AddPath(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("asset path %s: %w", p, err)
	}
	if info.IsDir() {
		m.AddSource(dirSource{root: p})
		return nil
	}
	if !strings.EqualFold(filepath.Ext(p), ".pak") {
		return fmt.Errorf("asset path %s: not a directory or .pak file", p)
	}
	archive, err := pak.Open(p)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", p, err)
	}
	m.AddSource(archive)
	return nil
}

// AddSource appends a source with the highest priority.
func (m *Manager) AddSource(s Source) {
	m.mu.Lock()
	m.sources = append(m.sources, s)
	m.mu.Unlock()
}

// Sources returns the search path in priority order, highest first.
func (m *Manager) Sources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sources))
	for i := len(m.sources) - 1; i >= 0; i-- {
		out = append(out, m.sources[i].String())
	}
	return out
}

// Load loads a file from the highest priority source holding it.
func (m *Manager) Load(p string) ([]byte, error) {
	key := normalizePath(p)
	if data, ok := m.cache.Get(key); ok {
		return data, nil
	}
	rel := cleanPath(p)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.sources) - 1; i >= 0; i-- {
		if !m.sources[i].Contains(rel) {
			continue
		}
		data, err := m.sources[i].Read(rel)
		if err != nil {
			return nil, fmt.Errorf("reading %s from %s: %w", p, m.sources[i], err)
		}
		m.cache.Set(key, data)
		return data, nil
	}

	return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
}

// Exists reports whether any source holds p.
func (m *Manager) Exists(p string) bool {
	rel := cleanPath(p)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.sources) - 1; i >= 0; i-- {
		if m.sources[i].Contains(rel) {
			return true
		}
	}
	return false
}

// Close closes all sources.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sources {
		s.Close()
	}
	m.sources = nil
	m.cache.Clear()
}

// cleanPath converts separators and cleans p, keeping its case.
func cleanPath(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}

// normalizePath is the case-insensitive cache key of p.
func normalizePath(p string) string {
	return strings.ToLower(cleanPath(p))
}

// Cache is a simple in-memory cache for loaded assets.
type Cache struct {
	data map[string][]byte
	mu   sync.Mutex

	hits   int
	misses int
}

// NewCache creates a new cache.
func NewCache() *Cache {
	return &Cache{
		data: make(map[string][]byte),
	}
}

// Get retrieves an item from cache.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.data[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return data, ok
}

// Set stores an item in cache.
func (c *Cache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = data
}

// Clear clears the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string][]byte)
	c.hits = 0
	c.misses = 0
}

// Stats returns cache statistics.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
