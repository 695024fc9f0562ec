// Package cache stores compiled worlds keyed by the source checksum and
// the settings that shape the output, so an unchanged map is not compiled
// twice.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/midgard-bsp/internal/assets"
	"github.com/Faultbox/midgard-bsp/internal/config"
)

const keyPrefix = "world-"

// Cache looks up and records compile results.
type Cache struct {
	store   Store
	version string
	log     *zap.Logger
}

// New returns a cache over store. Entries written by another compiler
// version never match.
func New(store Store, version string, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{store: store, version: version, log: log}
}

// Open returns the on-disk cache configured by cfg, or nil when caching is
// disabled.
func Open(cfg *config.Config, version string, log *zap.Logger) (*Cache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	store, err := OpenStore(cfg.Cache.AppName)
	if err != nil {
		return nil, err
	}
	return New(store, version, log), nil
}

// Key returns the store key of a source checksum and settings fingerprint.
func Key(source, settings [32]byte) string {
	return keyPrefix + hex.EncodeToString(source[:12]) + "-" + hex.EncodeToString(settings[:12])
}

// Fingerprint hashes the settings that change the compiled world: the
// config and the material definitions in effect. Logging, cache and
// worker count settings are left out.
func Fingerprint(cfg *config.Config, materials map[string]assets.MaterialDef) ([32]byte, error) {
	c := *cfg
	c.Logging = config.LoggingConfig{}
	c.Cache = config.CacheConfig{}
	c.Vis.Workers = 0
	c.Output.Pointfile = false
	data, err := yaml.Marshal(&c)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "fingerprint config")
	}
	h := sha256.New()
	h.Write(data)
	if len(materials) > 0 {
		// map keys marshal sorted
		if data, err = yaml.Marshal(materials); err != nil {
			return [32]byte{}, errors.Wrap(err, "fingerprint materials")
		}
		h.Write(data)
	}
	var sum [32]byte
	h.Sum(sum[:0])
	return sum, nil
}

// Get returns the entry for source and settings. A missing, stale or
// unreadable entry is a miss; only store failures are errors.
func (c *Cache) Get(source, settings [32]byte) (*Entry, bool, error) {
	key := Key(source, settings)
	data, err := c.store.Load(key)
	if err != nil {
		return nil, false, err
	}
	if data == nil {
		c.log.Debug("cache miss", zap.String("key", key))
		return nil, false, nil
	}
	e, err := UnmarshalEntry(data)
	if err != nil {
		c.log.Warn("discarding cache entry", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	if e.Source != source || e.Config != settings || e.Version != c.version || len(e.World) == 0 {
		c.log.Debug("stale cache entry", zap.String("key", key), zap.String("version", e.Version))
		return nil, false, nil
	}
	c.log.Debug("cache hit", zap.String("key", key), zap.Time("created", e.Created))
	return e, true, nil
}

// Put records an entry. Created is set when zero.
func (c *Cache) Put(e *Entry) error {
	if e.Created.IsZero() {
		e.Created = time.Now()
	}
	e.Version = c.version
	key := Key(e.Source, e.Config)
	if err := c.store.Save(key, e.Marshal()); err != nil {
		return err
	}
	c.log.Debug("cache stored", zap.String("key", key), zap.Int("bytes", len(e.World)))
	return nil
}
