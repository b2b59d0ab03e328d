// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The imagecraft command plans animated image frame decimation, renders
// decimated GIFs and still image thumbnails, and serves frame plans over
// JSON RPC 2.
//
// Usage:
//
//	imagecraft [global flags] <command> [flags] <args>
//
// The commands are:
//
//	plan    print the decimation plan for a GIF
//	render  write a decimated GIF
//	thumb   write a downsampled and optionally rounded PNG thumbnail
//	svg     rasterize an SVG document to PNG
//	serve   run the JSON RPC 2 plan service
//	remote  send who, dump or stop requests to a running service
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kortschak/imagecraft/internal/config"
	"github.com/kortschak/imagecraft/internal/slogext"
	"github.com/kortschak/imagecraft/internal/version"
)

func main() {
	os.Exit(Main())
}

func Main() int {
	logging := flag.String("log", "info", "logging level (debug, info, warn or error)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	cfgPath := flag.String("config", "", "configuration file (TOML)")
	v := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage of %s:
  %[1]s [global flags] <command> [flags] <args>

Commands: plan, render, thumb, svg, serve, remote

Global flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if *v {
		err := version.Print()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}
	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	var level slog.LevelVar
	err := level.UnmarshalText([]byte(*logging))
	if err != nil {
		flag.Usage()
		return 2
	}
	addSource := slogext.NewAtomicBool(*lines)

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})

	c := &cli{
		log:       log,
		mlog:      log.With(slog.String("component", "imagecraft.main")),
		level:     &level,
		addSource: addSource,
		cfg:       &config.Config{},
		explicit:  make(map[string]bool),
	}
	flag.Visit(func(f *flag.Flag) {
		c.explicit[f.Name] = true
	})
	if *cfgPath != "" {
		c.cfg, err = config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		c.setLogging(context.Background(), c.cfg)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "plan":
		return c.plan(args)
	case "render":
		return c.render(args)
	case "thumb":
		return c.thumb(args)
	case "svg":
		return c.svg(args)
	case "serve":
		return c.serve(args)
	case "remote":
		return c.remote(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		flag.Usage()
		return 2
	}
}

// cli holds the state shared by commands.
type cli struct {
	log  *slog.Logger
	mlog *slog.Logger

	level     *slog.LevelVar
	addSource *atomic.Bool

	// cfg is the configuration loaded from the
	// global -config flag. It is never nil.
	cfg *config.Config
	// explicit is the set of global flags that
	// were set on the command line.
	explicit map[string]bool
}

// setLogging applies the logging options in cfg unless they were set
// explicitly on the command line.
func (c *cli) setLogging(ctx context.Context, cfg *config.Config) {
	if cfg.LogLevel != nil && !c.explicit["log"] && c.level.Level() != *cfg.LogLevel {
		c.mlog.LogAttrs(ctx, slog.LevelInfo, "set log level", slog.Any("level", *cfg.LogLevel))
		c.level.Set(*cfg.LogLevel)
	}
	if cfg.AddSource != nil && !c.explicit["lines"] && c.addSource.Load() != *cfg.AddSource {
		c.mlog.LogAttrs(ctx, slog.LevelInfo, "set log add source", slog.Bool("add_source", *cfg.AddSource))
		c.addSource.Store(*cfg.AddSource)
	}
}

// newFlagSet returns a flag set for the named command with a usage message
// describing its arguments.
func newFlagSet(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage of %s:\n  %s [global flags] %s [flags] %s\n\nFlags:\n", name, os.Args[0], name, args)
		fs.PrintDefaults()
	}
	return fs
}

// parseAddr splits a network:address pair.
func parseAddr(s string) (network, addr string, err error) {
	network, addr, ok := strings.Cut(s, ":")
	if !ok || addr == "" {
		return "", "", fmt.Errorf("invalid address %q: want network:address", s)
	}
	switch network {
	case "unix", "tcp":
		return network, addr, nil
	default:
		return "", "", fmt.Errorf("invalid network %q: want unix or tcp", network)
	}
}
