// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	public "github.com/kortschak/imagecraft/config"
	"github.com/kortschak/imagecraft/internal/config"
	"github.com/kortschak/imagecraft/internal/slogext"
	"github.com/kortschak/imagecraft/internal/store"
	"github.com/kortschak/imagecraft/internal/xdg"
	"github.com/kortschak/imagecraft/rpc"
)

func (c *cli) serve(args []string) int {
	fs := newFlagSet("serve", "")
	network := fs.String("network", "", `network to listen on, "unix" or "tcp" (default from config or unix)`)
	addr := fs.String("addr", "", "listen address (default from config or a socket in the runtime directory)")
	metricsAddr := fs.String("metrics", "", "HTTP address for serving metrics (default from config)")
	cfgdir := fs.String("config-dir", "", "directory of TOML configuration fragments (default $XDG_CONFIG_HOME/imagecraft)")
	err := fs.Parse(args)
	if err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fs.Usage()
		return 2
	}

	runtimeDir, err := xdg.Dir(xdg.Runtime, rpc.RuntimeDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	pidFile := filepath.Join(runtimeDir, "pid")
	fl := flock.New(pidFile)
	ok, err := fl.TryLock()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "imagecraft is already serving")
		return 1
	}
	defer func() {
		fl.Unlock()
		os.Remove(pidFile)
	}()
	pid := fmt.Sprintln(os.Getpid())
	err = os.WriteFile(pidFile, []byte(pid), 0o600)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
			c.log.LogAttrs(ctx, slog.LevelInfo, "terminating")
			cancel()
		case <-ctx.Done():
		}
	}()

	if *cfgdir == "" {
		*cfgdir, err = xdg.Dir(xdg.Config, "imagecraft")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	c.mlog.LogAttrs(ctx, slog.LevelInfo, "config dir", slog.String("path", *cfgdir))

	srvCfg := c.cfg.Server
	if srvCfg == nil {
		srvCfg = &config.Server{}
	}
	if *network == "" {
		*network = srvCfg.Network
		if *network == "" {
			*network = "unix"
		}
	}
	if *addr == "" {
		*addr = srvCfg.Addr
	}
	if *metricsAddr == "" {
		*metricsAddr = srvCfg.Metrics
	}

	storePath := c.cfg.Store
	if storePath == "" {
		statedir, err := xdg.Dir(xdg.State, "imagecraft")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		storePath = filepath.Join(statedir, "plans.sqlite3")
	}
	c.mlog.LogAttrs(ctx, slog.LevelInfo, "plan store", slog.String("path", storePath))
	db, err := store.Open(storePath, c.log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open plan store: %v\n", err)
		return 1
	}
	defer db.Close()

	pol, err := policyOf(c.cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := rpc.NewMetrics(reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to register metrics: %v\n", err)
		return 1
	}

	srv, err := rpc.NewServer(ctx, *network, *addr, rpc.Options{
		Store:   db,
		Policy:  pol,
		Budget:  budgetOf(c.cfg),
		Metrics: metrics,
		Stop:    cancel,
	}, c.log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start plan service: %v\n", err)
		return 1
	}
	defer func() {
		err := srv.Close()
		if err != nil {
			c.mlog.LogAttrs(ctx, slog.LevelWarn, "plan service close error", slog.Any("error", err))
		}
	}()
	c.mlog.LogAttrs(ctx, slog.LevelInfo, "serving", slog.String("network", *network), slog.Any("addr", slogext.Stringer{Stringer: srv.Addr()}))

	if *metricsAddr != "" {
		ln, err := net.Listen("tcp", *metricsAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to listen for metrics: %v\n", err)
			return 1
		}
		hs := &http.Server{
			Handler:           rpc.MetricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			c.mlog.LogAttrs(ctx, slog.LevelInfo, "metrics server", slog.Any("addr", slogext.Stringer{Stringer: ln.Addr()}))
			err := hs.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.mlog.LogAttrs(ctx, slog.LevelError, "metrics server error", slog.Any("error", err))
			}
		}()
		defer hs.Close()
	}

	changes := make(chan config.Change)
	watcher, err := config.NewWatcher(*cfgdir, changes, config.FileDebounce, c.log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to watch config: %v\n", err)
		return 1
	}
	defer watcher.Close()
	go func() {
		err := watcher.Watch(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.mlog.LogAttrs(ctx, slog.LevelError, "config watcher error", slog.Any("error", err))
			cancel()
		}
	}()

	cfgman := config.NewManager(c.log)
	for {
		select {
		case <-ctx.Done():
			return 0
		case change := <-changes:
			c.reconfigure(ctx, cfgman, change, srv)
		}
	}
}

// reconfigure applies a configuration change to the running service.
// Configuration held by the global -config file is used as the base that
// fragments override.
func (c *cli) reconfigure(ctx context.Context, cfgman *config.Manager, change config.Change, srv *rpc.Server) {
	if change.Err != nil {
		c.mlog.LogAttrs(ctx, slog.LevelWarn, "config stream error", slog.Any("error", change.Err))
		if change.Config == nil {
			return
		}
	}
	c.mlog.LogAttrs(ctx, slog.LevelDebug, "config stream element", slog.Any("config", change.Config), slog.Any("events", change.Event))
	err := cfgman.Apply(change)
	if err != nil {
		c.mlog.LogAttrs(ctx, slog.LevelWarn, "config manager apply error", slog.Any("error", err))
		return
	}
	unified, cue, included, remain, err := cfgman.Unify(public.Schema)
	if err != nil {
		c.mlog.LogAttrs(ctx, slog.LevelWarn, "config manager unify error", slog.Any("error", err), slog.Any("cue", cue))
		return
	}
	c.mlog.LogAttrs(ctx, slog.LevelDebug, "config manager files", slog.Any("included", included), slog.Any("remain", remain))

	paths, err := config.Vet(unified)
	if err != nil {
		c.mlog.LogAttrs(ctx, slog.LevelWarn, "invalid unified config", slog.Any("error", err), slog.Any("paths", paths))
		unified, err = config.Repair(unified, paths)
		if err != nil {
			c.mlog.LogAttrs(ctx, slog.LevelError, "failed to repair config", slog.Any("error", err))
			return
		}
	}
	cfg := overlay(c.cfg, unified)
	if cfg.Store != c.cfg.Store {
		c.mlog.LogAttrs(ctx, slog.LevelWarn, "plan store change requires restart", slog.String("store", cfg.Store))
	}
	if !sameServer(cfg.Server, c.cfg.Server) {
		c.mlog.LogAttrs(ctx, slog.LevelWarn, "server change requires restart")
	}
	c.setLogging(ctx, cfg)
	pol, err := policyOf(cfg)
	if err != nil {
		// Vet has already checked the policy.
		c.mlog.LogAttrs(ctx, slog.LevelError, "invalid policy", slog.Any("error", err))
		return
	}
	srv.Configure(pol, budgetOf(cfg))
}

func sameServer(a, b *config.Server) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// overlay returns base with the sections set in top replacing those
// in base.
func overlay(base, top *config.Config) *config.Config {
	cfg := *base
	if top.LogLevel != nil {
		cfg.LogLevel = top.LogLevel
	}
	if top.AddSource != nil {
		cfg.AddSource = top.AddSource
	}
	if top.Policy != "" {
		cfg.Policy = top.Policy
	}
	if top.Store != "" {
		cfg.Store = top.Store
	}
	if top.Decode != nil {
		cfg.Decode = top.Decode
	}
	if top.Render != nil {
		cfg.Render = top.Render
	}
	if top.Server != nil {
		cfg.Server = top.Server
	}
	cfg.Sum = top.Sum
	return &cfg
}
