// mapc compiles level sources into runtime worlds.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-bsp/internal/assets"
	"github.com/Faultbox/midgard-bsp/internal/cache"
	"github.com/Faultbox/midgard-bsp/internal/compiler"
	"github.com/Faultbox/midgard-bsp/internal/config"
	"github.com/Faultbox/midgard-bsp/internal/logger"
	"github.com/Faultbox/midgard-bsp/internal/portal"
	"github.com/Faultbox/midgard-bsp/internal/session"
	"github.com/Faultbox/midgard-bsp/pkg/formats"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK       = 0
	exitFatal    = 1
	exitLeak     = 2
	exitWarnings = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitFatal
	}

	command := args[0]
	args = args[1:]

	switch command {
	case "compile", "c":
		return cmdCompile(args, stdout, stderr)
	case "info":
		return cmdInfo(args, stdout, stderr)
	case "config":
		return cmdConfig(args, stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "mapc %s (world format %d)\n", version, formats.WorldVersion)
		return exitOK
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return exitFatal
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `mapc - level compiler

Usage:
  mapc <command> [options]

Commands:
  compile [flags] <file.map> [out.wld]  Compile a level
  info <file.wld>                       Show compiled world information
  config [-config file] [-save path]    Print the effective configuration
  version                               Show version

Exit codes:
  0 success, 1 fatal or malformed input, 2 leak, 3 success with warnings

Examples:
  mapc compile maps/e1m1.map
  mapc compile -skip-vis -v 2 maps/e1m1.map
  mapc compile -vis-time 30s -workers 4 maps/e1m1.map out/e1m1.wld
  mapc info maps/e1m1.wld`)
}

func cmdCompile(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return exitFatal
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fmt.Fprintln(stderr, "Usage: mapc compile [flags] <file.map> [out.wld]")
		return exitFatal
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFatal
	}

	fileCfg := logger.FileConfig{}
	if cfg.Logging.LogFile != "" {
		fileCfg = logger.DefaultFileConfig(cfg.Logging.LogFile)
	}
	if err := logger.InitWithFileConfig(cfg.Logging.Level, fileCfg, stderr); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFatal
	}
	defer logger.Sync()

	manager, err := assets.NewManagerFromPaths(cfg.Assets.SearchPaths)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFatal
	}
	defer manager.Close()

	c, err := cache.Open(cfg, version, logger.Log)
	if err != nil {
		logger.Warn("compiling without cache", zap.Error(err))
		c = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s := session.New(cfg, logger.Log)
	opts := compiler.Options{Source: fs.Arg(0), Output: fs.Arg(1), Assets: manager, Cache: c}
	res, err := compiler.Compile(ctx, s, opts)

	verdict := s.WriteReport(stdout, err)
	switch {
	case errors.Is(err, portal.ErrLeak):
		if res != nil && res.Pointfile != "" {
			fmt.Fprintf(stdout, "leak trace written to %s\n", res.Pointfile)
		}
		return exitLeak
	case err != nil:
		return exitFatal
	}

	how := "compiled"
	if res.Cached {
		how = "cached"
	}
	fmt.Fprintf(stdout, "%s %s (%d bytes) in %s\n", how, res.Output, res.Bytes, s.Elapsed().Round(time.Millisecond))
	if verdict != session.VerdictPass {
		return exitWarnings
	}
	return exitOK
}

func cmdInfo(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: mapc info <file.wld>")
		return exitFatal
	}
	w, err := formats.LoadWorld(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFatal
	}

	fmt.Fprintf(stdout, "World:    %s\n", args[0])
	fmt.Fprintf(stdout, "Version:  %d\n", w.Version)
	fmt.Fprintf(stdout, "Flags:    %s\n", w.Flags)
	fmt.Fprintf(stdout, "Checksum: %s\n", hex.EncodeToString(w.Checksum[:]))
	fmt.Fprintf(stdout, "Clusters: %d\n", w.ClusterCount)
	if w.Flags&formats.WorldVisComputed != 0 && w.ClusterCount > 0 {
		n := int(w.ClusterCount)
		visible := 0
		for a := 0; a < n; a++ {
			for b := 0; b < n; b++ {
				if w.CanSee(a, b) {
					visible++
				}
			}
		}
		fmt.Fprintf(stdout, "Visible:  %d of %d pairs (%.1f%%)\n", visible, n*n, 100*float64(visible)/float64(n*n))
	}
	fmt.Fprintln(stdout)

	counts := [formats.NumLumps]int{
		len(w.Entities), len(w.Materials), len(w.Planes), len(w.Nodes), len(w.Leaves),
		len(w.Portals), len(w.Vis), len(w.Surfaces), len(w.Lights), len(w.Brushes),
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "lump\tcount\tbytes")
	for i := 0; i < formats.NumLumps; i++ {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", formats.LumpName(i), counts[i], w.Lumps[i].Length)
	}
	tw.Flush()
	return exitOK
}

func cmdConfig(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.BindFlags(fs)
	save := fs.String("save", "", "Write the effective config to this path")
	if err := fs.Parse(args); err != nil {
		return exitFatal
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFatal
	}
	if *save != "" {
		if err := cfg.SaveTo(*save); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFatal
		}
		fmt.Fprintf(stdout, "saved %s\n", *save)
		return exitOK
	}
	data, err := cfg.Marshal()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFatal
	}
	stdout.Write(data)
	return exitOK
}
