package compiler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-bsp/internal/assets"
	"github.com/Faultbox/midgard-bsp/internal/cache"
	"github.com/Faultbox/midgard-bsp/internal/level"
	"github.com/Faultbox/midgard-bsp/internal/portal"
	"github.com/Faultbox/midgard-bsp/internal/session"
	"github.com/Faultbox/midgard-bsp/pkg/formats"
)

// PointfileExt is the extension of leak traces.
const PointfileExt = ".pts"

// Options selects the files and services of a compile.
type Options struct {
	Source string
	// Output defaults to Source with the configured extension.
	Output string
	Assets level.MaterialResolver
	// Cache may be nil. Resolvers that list their definitions, like
	// *assets.Manager, have them folded into the cache key.
	Cache *cache.Cache
}

// Result describes a finished compile.
type Result struct {
	Output    string
	Bytes     int
	Cached    bool
	Pointfile string // written on leak
	World     *formats.World
}

// OutputPath returns the default output path of a source file.
func OutputPath(source, ext string) string {
	return strings.TrimSuffix(source, filepath.Ext(source)) + ext
}

// Compile compiles opts.Source and writes the world. On leak the
// pointfile is written and the result is returned alongside the error;
// no world is written.
func Compile(ctx context.Context, s *session.Session, opts Options) (*Result, error) {
	res := &Result{Output: opts.Output}
	if res.Output == "" {
		res.Output = OutputPath(opts.Source, s.Config.Output.Extension)
	}

	src, err := os.ReadFile(opts.Source)
	if err != nil {
		return nil, errors.Wrap(err, "read source")
	}

	sum, settings, data, ok := lookup(s, opts.Cache, src, opts.Assets)
	if ok {
		res.Cached = true
	} else {
		w, err := Build(ctx, s, src, opts.Assets)
		if err != nil {
			var leak *portal.LeakError
			if errors.As(err, &leak) && s.Config.Output.Pointfile {
				res.Pointfile = OutputPath(res.Output, PointfileExt)
				if perr := writePointfile(res.Pointfile, leak); perr != nil {
					return res, multierr.Append(err, perr)
				}
				s.Log.Info("leak pointfile written", zap.String("path", res.Pointfile))
			}
			return res, err
		}
		res.World = w
		if data, err = formats.EncodeWorld(w); err != nil {
			return nil, errors.Wrap(err, "encode world")
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := s.Begin(session.StageWrite)
	err = WriteFileAtomic(res.Output, data)
	done()
	if err != nil {
		return nil, err
	}
	res.Bytes = len(data)
	s.SetCount("output_bytes", len(data))

	if !res.Cached && opts.Cache != nil && settings != ([32]byte{}) && !s.Degraded() {
		store(s, opts.Cache, sum, settings, data)
	}
	return res, nil
}

type materialLister interface {
	Materials() (map[string]assets.MaterialDef, error)
}

// lookup returns cached world bytes unless the run forces a rebuild.
// Counters and warnings of the cached compile are replayed.
func lookup(s *session.Session, c *cache.Cache, src []byte, res level.MaterialResolver) (sum, settings [32]byte, data []byte, ok bool) {
	if c == nil {
		return
	}
	sum = sha256.Sum256(src)
	var defs map[string]assets.MaterialDef
	if ml, isLister := res.(materialLister); isLister {
		var err error
		if defs, err = ml.Materials(); err != nil {
			s.Warn(session.StageLoad, session.NoRef, "cache disabled: %v", err)
			return
		}
	}
	settings, err := cache.Fingerprint(s.Config, defs)
	if err != nil {
		s.Warn(session.StageLoad, session.NoRef, "cache disabled: %v", err)
		return
	}
	if s.Config.Cache.Force {
		return
	}
	e, hit, err := c.Get(sum, settings)
	if err != nil {
		s.Warn(session.StageLoad, session.NoRef, "cache lookup failed: %v", err)
		return
	}
	if !hit {
		return
	}
	for name, n := range e.Counters {
		s.SetCount(name, n)
	}
	for _, w := range e.Warnings {
		s.Warn(session.StageLoad, session.NoRef, "cached: %s", w)
	}
	s.Log.Info("using cached world", zap.Time("compiled", e.Created))
	return sum, settings, e.World, true
}

func store(s *session.Session, c *cache.Cache, sum, settings [32]byte, data []byte) {
	e := &cache.Entry{
		Source:   sum,
		Config:   settings,
		World:    data,
		Counters: make(map[string]int),
	}
	for _, d := range s.Diagnostics() {
		if d.Severity == session.SeverityWarning {
			e.Warnings = append(e.Warnings, d.String())
		}
	}
	for _, name := range s.CounterNames() {
		e.Counters[name] = s.Counter(name)
	}
	if err := c.Put(e); err != nil {
		s.Log.Warn("cache store failed", zap.Error(err))
	}
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place. The temporary file is removed on failure.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temporary output")
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			err = multierr.Append(err, ignoreMissing(os.Remove(tmp)))
		}
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return errors.Wrapf(err, "sync %s", tmp)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp)
	}
	if err = os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "rename to %s", path)
	}
	return nil
}

func writePointfile(path string, leak *portal.LeakError) error {
	var buf bytes.Buffer
	if err := leak.WritePointfile(&buf); err != nil {
		return errors.Wrap(err, "format pointfile")
	}
	return WriteFileAtomic(path, buf.Bytes())
}

func ignoreMissing(err error) error {
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
