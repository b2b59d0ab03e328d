// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io/fs"
	"log/slog"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/encoding/gocode/gocodec"
	"github.com/fsnotify/fsnotify"

	"github.com/kortschak/imagecraft/config"
	"github.com/kortschak/imagecraft/internal/policy"
	"github.com/kortschak/imagecraft/internal/slogext"
)

// Manager is a configurations stream manager. It holds a progressive
// configuration state constructed from applying a sequence of configuration
// changes.
type Manager struct {
	fragments map[string]*Config
	hash      hash.Hash
	log       *slog.Logger
}

// NewManager returns a new Manager.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		fragments: make(map[string]*Config),
		hash:      sha1.New(),
		log:       log.With(slog.String("component", "config_manager")),
	}
}

// Apply applies the provided change to the current configuration state. Any
// error returned will be fs.PathError.
func (m *Manager) Apply(c Change) error {
	ctx := context.Background()
	m.log.LogAttrs(ctx, slog.LevelDebug, "apply", slog.Any("op", slogext.Stringer{Stringer: c.Op()}))
	for _, ev := range c.Event {
		switch {
		case ev.Has(fsnotify.Write):
			m.log.LogAttrs(ctx, slog.LevelDebug, "apply write", slog.Any("change", changeValue{c}))
			m.fragments[ev.Name] = c.Config

		case ev.Has(fsnotify.Create):
			m.log.LogAttrs(ctx, slog.LevelDebug, "apply create", slog.Any("change", changeValue{c}))
			if _, ok := m.fragments[ev.Name]; ok {
				return &fs.PathError{Op: "create", Path: ev.Name, Err: fs.ErrExist}
			}
			m.fragments[ev.Name] = c.Config

		case ev.Has(fsnotify.Rename), ev.Has(fsnotify.Remove):
			m.log.LogAttrs(ctx, slog.LevelDebug, "apply remove", slog.Any("change", changeValue{c}))
			if _, ok := m.fragments[ev.Name]; !ok {
				return &fs.PathError{Op: "remove", Path: ev.Name, Err: fs.ErrNotExist}
			}
			delete(m.fragments, ev.Name)
		}
	}
	return nil
}

// Unify returns a complete unified configuration validated against the provided
// CUE schema. The configuration is returned as both a *Config and a cue.Value
// to allow inspection of incomplete unification. The names of files that are
// included and those that remain to be included is also returned. Fragments
// are unified in lexical order of their file names and must not conflict.
func (m *Manager) Unify(schema string) (cfg *Config, val cue.Value, included, remain []string, err error) {
	ctx := cuecontext.New()

	u := ctx.CompileString(schema)
	codec := gocodec.New(ctx, nil)

	paths := make([]string, 0, len(m.fragments))
	for p := range m.fragments {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	for i, p := range paths {
		if m.fragments[p] == nil {
			continue
		}
		w, err := codec.Decode(desum(m.fragments[p]))
		if err != nil {
			return nil, u, paths[:i], paths[i:], err
		}
		u = u.Unify(w)
		err = u.Validate()
		if err != nil {
			return nil, u, paths[:i], paths[i:], err
		}
	}
	var c Config
	err = codec.Encode(u, &c)
	if err != nil {
		return nil, u, paths, nil, err
	}
	sum, err := resum(m.hash, &c)
	if err != nil {
		return nil, u, paths, nil, err
	}
	c.Sum = &sum
	m.log.LogAttrs(context.Background(), slog.LevelDebug, "unified config", slog.Any("sum", slogext.Stringer{Stringer: &sum}))
	return &c, u, paths, nil, nil
}

// desum returns a copy of c without its sum so that fragments with different
// sums can be unified.
func desum(c *Config) *Config {
	dst := *c
	dst.Sum = nil
	return &dst
}

// resum returns the semantic hash of c. The Sum field of c is ignored.
func resum(h hash.Hash, c *Config) (sum Sum, err error) {
	defer h.Reset()
	err = json.NewEncoder(h).Encode(desum(c))
	if err != nil {
		return sum, err
	}
	return Sum(h.Sum(nil)), nil
}

// Vet performs a validation of the provided configuration, returning a list
// of invalid paths and a CUE errors.Error explaining the issues found if
// the configuration is invalid. In addition to validation against
// config.Schema, Vet checks that the policy compiles and that colours
// are parseable.
func Vet(cfg *Config) (paths [][]string, err error) {
	var deferredError error

	p, err := Validate(config.Schema, desum(cfg))
	if err != nil {
		paths = append(paths, p...)
		deferredError = appendErr(deferredError, err)
	}

	if cfg.Policy != "" {
		_, err = policy.Compile(cfg.Policy)
		if err != nil {
			paths = append(paths, []string{"policy"})
			deferredError = appendErr(deferredError, fmt.Errorf("policy: %w", err))
		}
	}
	if cfg.Render != nil {
		for name, c := range map[string]string{
			"background":   cfg.Render.Background,
			"border_color": cfg.Render.BorderColor,
		} {
			if c == "" {
				continue
			}
			_, err = ParseColor(c)
			if err != nil {
				paths = append(paths, []string{renderName, name})
				deferredError = appendErr(deferredError, fmt.Errorf("%s.%s: %w", renderName, name, err))
			}
		}
	}
	return unique(paths), deferredError
}

// Repair removes sections and fields in cfg that correspond to invalid field
// paths identified by Vet until no invalid fields are found, and returns the
// result. The final result may be an empty configuration.
func Repair(cfg *Config, paths [][]string) (*Config, error) {
	for {
		_, err := remove(cfg, paths, true)
		if err != nil {
			return cfg, err
		}
		prev := paths
		paths, err = Vet(cfg)
		if err == nil {
			return cfg, nil
		}
		if len(paths) == 0 || slices.EqualFunc(paths, prev, slices.Equal[[]string]) {
			return cfg, fmt.Errorf("cannot repair: %w", err)
		}
	}
}

// remove clears the fields and sections of cfg referred to by paths. If
// safe is true, an empty path results in an error.
func remove(cfg *Config, paths [][]string, safe bool) (*Config, error) {
	for _, p := range paths {
		if len(p) == 0 {
			if safe {
				// Not all cue Errors will have a path,
				// so we may have an empty path here.
				return cfg, errors.New("cannot remove: empty path")
			}
			continue
		}
		switch p[0] {
		case "log_level":
			cfg.LogLevel = nil
		case "log_add_source":
			cfg.AddSource = nil
		case "policy":
			cfg.Policy = ""
		case "store":
			cfg.Store = ""
		case decodeName:
			cfg.Decode = nil
		case renderName:
			cfg.Render = nil
		case serverName:
			cfg.Server = nil
		}
	}
	return cfg, nil
}

func appendErr(dst, next error) error {
	if dst == nil {
		return next
	}
	return cerrors.Append(
		cerrors.Promote(dst, ""),
		cerrors.Promote(next, ""),
	)
}
