package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Compile.Epsilon.On != 0.1 {
		t.Errorf("expected on epsilon 0.1, got %f", cfg.Compile.Epsilon.On)
	}
	if cfg.Compile.MaxDepth != 256 {
		t.Errorf("expected max depth 256, got %d", cfg.Compile.MaxDepth)
	}
	if cfg.Compile.Codepage != "utf-8" {
		t.Errorf("expected codepage utf-8, got %s", cfg.Compile.Codepage)
	}
	if cfg.Vis.Skip {
		t.Error("expected vis to run by default")
	}
	if cfg.Vis.TimeBudget != 0 {
		t.Errorf("expected unlimited vis budget, got %v", cfg.Vis.TimeBudget)
	}
	if cfg.Output.Extension != ".wld" {
		t.Errorf("expected extension .wld, got %s", cfg.Output.Extension)
	}
	if !cfg.Cache.Enabled {
		t.Error("expected cache enabled by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero epsilon", func(c *Config) { c.Compile.Epsilon.On = 0 }},
		{"depth", func(c *Config) { c.Compile.MaxDepth = 0 }},
		{"codepage", func(c *Config) { c.Compile.Codepage = "klingon" }},
		{"negative budget", func(c *Config) { c.Vis.TimeBudget = -time.Second }},
		{"workers", func(c *Config) { c.Vis.Workers = -1 }},
		{"subdivisions", func(c *Config) { c.Bake.PatchSubdivisions = 0 }},
		{"verbosity", func(c *Config) { c.Logging.Verbosity = 9 }},
		{"extension", func(c *Config) { c.Output.Extension = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, FileName)

	yamlContent := `
compile:
  epsilon:
    on: 0.05
  max_depth: 64
  codepage: cp1252

vis:
  skip: true
  time_budget: 30s
  workers: 4

assets:
  search_paths:
    - /opt/game/base
    - /opt/game/pak0.pak

logging:
  level: "debug"
  log_file: "mapc.log"
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Compile.Epsilon.On != 0.05 {
		t.Errorf("expected on epsilon 0.05, got %f", cfg.Compile.Epsilon.On)
	}
	if cfg.Compile.Epsilon.Dist != 0.01 {
		t.Errorf("unset epsilon should keep its default, got %f", cfg.Compile.Epsilon.Dist)
	}
	if cfg.Compile.MaxDepth != 64 {
		t.Errorf("expected max depth 64, got %d", cfg.Compile.MaxDepth)
	}
	if !cfg.Vis.Skip {
		t.Error("expected vis skip")
	}
	if cfg.Vis.TimeBudget != 30*time.Second {
		t.Errorf("expected 30s budget, got %v", cfg.Vis.TimeBudget)
	}
	if len(cfg.Assets.SearchPaths) != 2 {
		t.Errorf("expected 2 search paths, got %v", cfg.Assets.SearchPaths)
	}
	if cfg.Logging.LogFile != "mapc.log" {
		t.Errorf("expected log file 'mapc.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
compile:
  max_depth: not a number
  invalid syntax here
`

	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestLoadPriority(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, FileName)

	yamlContent := `
vis:
  workers: 2
  time_budget: 1m
logging:
  verbosity: 2
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv(AssetPathEnv, "/env/base")

	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	flags := BindFlags(fs)
	args := []string{"-config", configPath, "-workers", "8", "-assets", "/flag/base", "-force"}
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(flags)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Vis.Workers != 8 {
		t.Errorf("expected workers 8 from flag, got %d", cfg.Vis.Workers)
	}
	if cfg.Vis.TimeBudget != time.Minute {
		t.Errorf("expected 1m from file, got %v", cfg.Vis.TimeBudget)
	}
	if cfg.Logging.Verbosity != 2 {
		t.Errorf("unset -v flag should not override file, got %d", cfg.Logging.Verbosity)
	}
	if !cfg.Cache.Force {
		t.Error("expected force from flag")
	}
	want := []string{"/env/base", "/flag/base"}
	if len(cfg.Assets.SearchPaths) != 2 || cfg.Assets.SearchPaths[0] != want[0] || cfg.Assets.SearchPaths[1] != want[1] {
		t.Errorf("search paths = %v, want %v", cfg.Assets.SearchPaths, want)
	}
}

func TestVerbosityFlag(t *testing.T) {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	flags := BindFlags(fs)
	if err := fs.Parse([]string{"-v", "3", "-skip-vis"}); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	flags.apply(cfg)
	if cfg.Logging.Verbosity != 3 || cfg.Logging.Level != "debug" {
		t.Errorf("expected verbosity 3 at debug, got %d %s", cfg.Logging.Verbosity, cfg.Logging.Level)
	}
	if !cfg.Vis.Skip {
		t.Error("expected skip-vis")
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	cfg := Default()
	cfg.Vis.Workers = 3
	cfg.Cache.Force = true
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.Vis.Workers != 3 {
		t.Errorf("expected workers 3, got %d", loaded.Vis.Workers)
	}
	if loaded.Cache.Force {
		t.Error("force must not be persisted")
	}
}
