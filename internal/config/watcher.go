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
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/kortschak/imagecraft/config"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 10 * time.Millisecond

// Change is a set of related configuration changes identified by Watch.
type Change struct {
	Event  []fsnotify.Event
	Config *Config
	Err    error
}

// Op returns an aggregated fsnotify.Op for all elements of the receivers'
// Event field.
func (c Change) Op() fsnotify.Op {
	var op fsnotify.Op
	for _, e := range c.Event {
		op |= e.Op
	}
	return op
}

// NewWatcher starts an fsnotify.Watcher for the provided directory, sending change
// events on the changes channel. If dir is deleted, it is recreated as a new
// directory and a new watcher is set. The debounce parameter specifies how
// long to wait after an fsnotify.Event before reading the file to ensure that
// writes will be reflected in the state checksum. If it is less than zero,
// FileDebounce is used. Create events for each TOML file already in dir are
// sent when Watch is called.
func NewWatcher(dir string, changes chan<- Change, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	_, err := os.Stat(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		err = os.Mkdir(dir, 0o755)
		if err != nil {
			return nil, err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = watcher.Add(dir)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if debounce < 0 {
		debounce = FileDebounce
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		watcher:  watcher,
		changes:  changes,
		log:      log.With(slog.String("component", "config_watcher")),
		hash:     sha1.New(),
		hashes:   make(map[string]Sum),
	}, nil
}

// Watcher collects raw fsnotify.Events and aggregates and filters for
// semantically meaningful configuration changes.
type Watcher struct {
	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan<- Change
	hash     hash.Hash
	hashes   map[string]Sum
	log      *slog.Logger
}

// Watch sends the configurations already present in the watched directory
// and then watches for changes until ctx is cancelled or the Watcher is
// closed.
func (w *Watcher) Watch(ctx context.Context) error {
	err := w.init(ctx)
	if err != nil {
		return err
	}
	return w.process(ctx)
}

// Close closes the underlying fsnotify.Watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// init performs an initial scan of the Watcher's directory, sending
// create events for all toml files found in the directory.
func (w *Watcher) init(ctx context.Context) error {
	de, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range de {
		name := e.Name()
		if filepath.Ext(name) != ".toml" || e.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			w.log.LogAttrs(ctx, slog.LevelError, "read file", slog.Any("error", err))
			if !w.send(ctx, Change{Err: err}) {
				return nil
			}
			continue
		}
		cfg, sum, err := unmarshalConfig(w.hash, b)
		if cfg != nil {
			cfg.Sum = &sum
			w.hashes[path] = sum
		}
		if !w.send(ctx, Change{
			Event:  []fsnotify.Event{{Name: path, Op: fsnotify.Create}},
			Config: cfg,
			Err:    err,
		}) {
			return nil
		}
	}
	return nil
}

// process watches the Watcher's fsnotify.Watcher events performing
// aggregation and semantic filtering. Writes and creates that do not
// change the semantic hash of a file are dropped.
func (w *Watcher) process(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			var c Change
			switch {
			case filepath.Ext(ev.Name) == ".toml":
				c, ok = w.handle(ctx, ev)
			case ev.Has(fsnotify.Remove) && ev.Name == w.dir:
				c, ok = w.replaceDir(ctx, ev)
			}
			if ok && !w.send(ctx, c) {
				return nil
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if !w.send(ctx, Change{Err: err}) {
				return nil
			}
		}
	}
}

// handle returns the Change corresponding to the fsnotify.Event for a
// configuration file and whether it should be sent.
func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) (Change, bool) {
	switch {
	case ev.Has(fsnotify.Write | fsnotify.Create):
		w.log.LogAttrs(ctx, slog.LevelDebug, "write", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
		time.Sleep(w.debounce)

		fi, err := os.Stat(ev.Name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Removed during debounce; the remove
				// event will follow.
				return Change{}, false
			}
			return Change{Err: err}, true
		}
		if fi.IsDir() {
			return Change{}, false
		}
		b, err := os.ReadFile(ev.Name)
		if err != nil {
			w.log.LogAttrs(ctx, slog.LevelError, "read file", slog.Any("error", err))
			return Change{Err: err}, true
		}
		cfg, sum, err := unmarshalConfig(w.hash, b)
		prev, seen := w.hashes[ev.Name]
		if seen && prev == sum {
			w.log.LogAttrs(ctx, slog.LevelDebug, "no change", slog.Any("sum", &sum), slog.Any("existing_hashes", hashesValue{w.hashes}))
			return Change{}, false
		}
		if cfg != nil {
			w.log.LogAttrs(ctx, slog.LevelDebug, "set hash", slog.Any("sum", &sum), slog.Any("existing_hashes", hashesValue{w.hashes}))
			cfg.Sum = &sum
			w.hashes[ev.Name] = sum
		}
		// A file we have not seen is a creation regardless of
		// the order the platform reports events in.
		op := fsnotify.Write
		if !seen {
			op = fsnotify.Create
		}
		return Change{
			Event:  []fsnotify.Event{{Name: ev.Name, Op: op}},
			Config: cfg,
			Err:    err,
		}, true

	case ev.Has(fsnotify.Rename | fsnotify.Remove):
		w.log.LogAttrs(ctx, slog.LevelDebug, "remove", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
		if _, ok := w.hashes[ev.Name]; !ok {
			return Change{}, false
		}
		delete(w.hashes, ev.Name)
		return Change{Event: []fsnotify.Event{{Name: ev.Name, Op: fsnotify.Remove}}}, true
	}
	return Change{}, false
}

// replaceDir recreates and rewatches the Watcher's directory after it has
// been removed.
func (w *Watcher) replaceDir(ctx context.Context, ev fsnotify.Event) (Change, bool) {
	w.log.LogAttrs(ctx, slog.LevelDebug, "remove config directory", slog.String("name", ev.Name))
	err := os.Mkdir(w.dir, 0o755)
	if err != nil {
		w.log.LogAttrs(ctx, slog.LevelError, "replace config dir", slog.String("path", w.dir), slog.Any("error", err))
		return Change{Event: []fsnotify.Event{ev}, Err: err}, true
	}
	err = w.watcher.Add(w.dir)
	if err != nil {
		w.log.LogAttrs(ctx, slog.LevelError, "replace watch", slog.Any("error", err))
		return Change{Event: []fsnotify.Event{ev}, Err: err}, true
	}
	return Change{}, false
}

func (w *Watcher) send(ctx context.Context, c Change) bool {
	select {
	case <-ctx.Done():
		return false
	case w.changes <- c:
		return true
	}
}

// unmarshalConfig returns a, potentially partial, configuration and its
// semantic hash from the provided raw data. If the configuration is not
// valid, the invalid sections are removed and the validation error is
// returned with the remaining configuration.
func unmarshalConfig(h hash.Hash, b []byte) (cfg *Config, sum Sum, _ error) {
	c := &Config{}
	md, err := toml.Decode(string(b), c)
	if err != nil {
		return nil, sum, err
	}
	var deferredErr error
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slices.Sort(keys)
		deferredErr = fmt.Errorf("unknown configuration keys: %q", keys)
	}

	paths, err := Validate(config.Schema, c)
	if err != nil {
		c, _ = remove(c, paths, false)
		deferredErr = errors.Join(deferredErr, err)
	}

	defer h.Reset()
	err = json.NewEncoder(h).Encode(c)
	if err != nil {
		return nil, sum, err
	}
	return c, Sum(h.Sum(nil)), deferredErr
}
