package config

import (
	"flag"
	"path/filepath"
	"time"
)

// Flags holds the command-line overrides of one subcommand. Only flags
// given explicitly on the command line override file settings.
type Flags struct {
	fs *flag.FlagSet

	ConfigPath string
	SkipVis    bool
	Force      bool
	NoCache    bool
	Verbosity  int
	VisTime    time.Duration
	Workers    int
	LogFile    string
	Pointfile  bool
	Codepage   string
	AssetPath  string
	EpsilonOn  float64
	EpsilonDst float64
}

// BindFlags registers the compiler flags on fs.
func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	fs.BoolVar(&f.SkipVis, "skip-vis", false, "Emit tree and portals only, without visibility")
	fs.BoolVar(&f.Force, "force", false, "Ignore the incremental cache and recompile everything")
	fs.BoolVar(&f.NoCache, "no-cache", false, "Disable the incremental cache")
	fs.IntVar(&f.Verbosity, "v", 1, "Verbosity 0-3")
	fs.DurationVar(&f.VisTime, "vis-time", 0, "Wall-clock budget for the vis stage (0 = unlimited)")
	fs.IntVar(&f.Workers, "workers", 0, "Vis worker count (0 = one per CPU)")
	fs.StringVar(&f.LogFile, "log", "", "Also write logs to this file")
	fs.BoolVar(&f.Pointfile, "pointfile", true, "Write a .pts leak trace on leak")
	fs.StringVar(&f.Codepage, "codepage", "", "Encoding of the map source")
	fs.StringVar(&f.AssetPath, "assets", "", "Asset search path list")
	fs.Float64Var(&f.EpsilonOn, "epsilon-on", 0, "Point-on-plane tolerance")
	fs.Float64Var(&f.EpsilonDst, "epsilon-dist", 0, "Plane distance tolerance")
	return f
}

// apply applies explicitly set flags to the config.
func (f *Flags) apply(cfg *Config) {
	if f == nil || f.fs == nil {
		return
	}
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "skip-vis":
			cfg.Vis.Skip = f.SkipVis
		case "force":
			cfg.Cache.Force = f.Force
		case "no-cache":
			cfg.Cache.Enabled = !f.NoCache
		case "v":
			cfg.Logging.Verbosity = f.Verbosity
			if f.Verbosity >= 2 {
				cfg.Logging.Level = "debug"
			} else if f.Verbosity == 0 {
				cfg.Logging.Level = "warn"
			}
		case "vis-time":
			cfg.Vis.TimeBudget = f.VisTime
		case "workers":
			cfg.Vis.Workers = f.Workers
		case "log":
			cfg.Logging.LogFile = f.LogFile
		case "pointfile":
			cfg.Output.Pointfile = f.Pointfile
		case "codepage":
			cfg.Compile.Codepage = f.Codepage
		case "assets":
			cfg.Assets.SearchPaths = append(cfg.Assets.SearchPaths, filepath.SplitList(f.AssetPath)...)
		case "epsilon-on":
			cfg.Compile.Epsilon.On = f.EpsilonOn
		case "epsilon-dist":
			cfg.Compile.Epsilon.Dist = f.EpsilonDst
		}
	})
}
