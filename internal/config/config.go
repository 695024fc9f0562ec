// Package config handles compiler configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/Faultbox/midgard-bsp/pkg/encoding"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// Config holds all compiler settings.
type Config struct {
	Compile CompileConfig `yaml:"compile"`
	Vis     VisConfig     `yaml:"vis"`
	Bake    BakeConfig    `yaml:"bake"`
	Output  OutputConfig  `yaml:"output"`
	Assets  AssetsConfig  `yaml:"assets"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// CompileConfig holds geometry settings shared by the CSG, tree and portal
// stages.
type CompileConfig struct {
	Epsilon       geom.Epsilon `yaml:"epsilon"`
	MaxDepth      int          `yaml:"max_depth"`       // tree depth before a leaf is forced
	MaxWorldCoord float64      `yaml:"max_world_coord"` // brushes beyond this are rejected
	Codepage      string       `yaml:"codepage"`        // encoding of the map source
}

// VisConfig holds visibility solver settings.
type VisConfig struct {
	Skip          bool          `yaml:"skip"`
	TimeBudget    time.Duration `yaml:"time_budget"` // 0 = unlimited
	Workers       int           `yaml:"workers"`     // 0 = one per CPU
	MergeClusters bool          `yaml:"merge_clusters"`
}

// BakeConfig holds surface and light baking settings.
type BakeConfig struct {
	MergeFaces            bool    `yaml:"merge_faces"`
	LightSurfaces         bool    `yaml:"light_surfaces"` // precompute per-light surface lists
	PatchSubdivisions     int     `yaml:"patch_subdivisions"`
	DefaultLightIntensity float64 `yaml:"default_light_intensity"`
}

// OutputConfig holds output file settings.
type OutputConfig struct {
	Extension string `yaml:"extension"`
	Pointfile bool   `yaml:"pointfile"` // write a leak trace next to the output
}

// AssetsConfig holds material lookup settings.
type AssetsConfig struct {
	SearchPaths          []string `yaml:"search_paths"` // directories and .pak files
	WarnMissingMaterials bool     `yaml:"warn_missing_materials"`
}

// CacheConfig holds incremental compile cache settings.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	AppName string `yaml:"app_name"`
	Force   bool   `yaml:"-"` // ignore cached results for this run
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	LogFile   string `yaml:"log_file"`
	Verbosity int    `yaml:"verbosity"` // 0 quiet .. 3 every degenerate fragment
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Compile: CompileConfig{
			Epsilon:       geom.DefaultEpsilon(),
			MaxDepth:      256,
			MaxWorldCoord: geom.DefaultMaxWorldCoord,
			Codepage:      "utf-8",
		},
		Vis: VisConfig{
			Skip:          false,
			TimeBudget:    0,
			Workers:       0,
			MergeClusters: true,
		},
		Bake: BakeConfig{
			MergeFaces:            true,
			LightSurfaces:         true,
			PatchSubdivisions:     4,
			DefaultLightIntensity: 300,
		},
		Output: OutputConfig{
			Extension: ".wld",
			Pointfile: true,
		},
		Assets: AssetsConfig{
			SearchPaths:          nil,
			WarnMissingMaterials: false,
		},
		Cache: CacheConfig{
			Enabled: true,
			AppName: "midgard-bsp",
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogFile:   "",
			Verbosity: 1,
		},
	}
}

// Validate checks settings that would make a compile meaningless.
func (c *Config) Validate() error {
	var errs []error
	eps := c.Compile.Epsilon
	if eps.Normal <= 0 || eps.Dist <= 0 || eps.On <= 0 || eps.Edge <= 0 {
		errs = append(errs, fmt.Errorf("epsilons must be positive: %+v", eps))
	}
	if c.Compile.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("max_depth must be at least 1, got %d", c.Compile.MaxDepth))
	}
	if c.Compile.MaxWorldCoord <= 0 {
		errs = append(errs, fmt.Errorf("max_world_coord must be positive, got %v", c.Compile.MaxWorldCoord))
	}
	if !encoding.ValidCodepage(c.Compile.Codepage) {
		errs = append(errs, fmt.Errorf("unknown codepage %q", c.Compile.Codepage))
	}
	if c.Vis.TimeBudget < 0 {
		errs = append(errs, fmt.Errorf("vis time_budget must not be negative, got %v", c.Vis.TimeBudget))
	}
	if c.Vis.Workers < 0 {
		errs = append(errs, fmt.Errorf("vis workers must not be negative, got %d", c.Vis.Workers))
	}
	if c.Bake.PatchSubdivisions < 1 || c.Bake.PatchSubdivisions > 16 {
		errs = append(errs, fmt.Errorf("patch_subdivisions must be 1..16, got %d", c.Bake.PatchSubdivisions))
	}
	if c.Logging.Verbosity < 0 || c.Logging.Verbosity > 3 {
		errs = append(errs, fmt.Errorf("verbosity must be 0..3, got %d", c.Logging.Verbosity))
	}
	if c.Output.Extension == "" {
		errs = append(errs, errors.New("output extension must not be empty"))
	}
	return multierr.Combine(errs...)
}
