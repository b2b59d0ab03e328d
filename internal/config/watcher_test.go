// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/imagecraft/internal/slogext"
)

var operations = []struct {
	name    string
	fn      func(dir string) error
	want    []Change
	wantErr []bool
}{
	{
		name: "policy", fn: func(dir string) error {
			return create(dir, "file1.toml", 0o644, `policy = "0.5"
`)
		},
		want: []Change{{
			Event:  []fsnotify.Event{{Name: "file1.toml", Op: fsnotify.Create}},
			Config: &Config{Policy: "0.5", Sum: mustSum("3f0e02cf382a20bb36bddea9733b294d7d7c285c")},
		}},
	},
	{
		name: "policy_no_semantic_change", fn: func(dir string) error {
			return create(dir, "file1.toml", 0o644, `# Decimate to half.
policy   =   "0.5"
`)
		},
	},
	{
		name: "non-config", fn: func(dir string) error {
			return create(dir, "file1.yaml", 0o644, "policy: 0.5")
		},
	},
	{
		name: "server", fn: func(dir string) error {
			return create(dir, "file1.toml", 0o644, `policy = "0.5"

[server]
network = "unix"
`)
		},
		want: []Change{{
			Event: []fsnotify.Event{{Name: "file1.toml", Op: fsnotify.Write}},
			Config: &Config{
				Policy: "0.5",
				Server: &Server{Network: "unix"},
				Sum:    mustSum("f81ee0f5556dcb1c7fb4274a6466fb6b639aadcc"),
			},
		}},
	},
	{
		name: "invalid_render", fn: func(dir string) error {
			return create(dir, "file2.toml", 0o644, `[render]
content_mode = "stretch"
`)
		},
		want: []Change{{
			Event:  []fsnotify.Event{{Name: "file2.toml", Op: fsnotify.Create}},
			Config: &Config{Sum: mustSum("5f36b2ea290645ee34d943220a14b54ee5ea5be5")},
		}},
		wantErr: []bool{true},
	},
	{
		name: "rename", fn: func(dir string) error {
			return mv(dir, "file2.toml", "file3.toml")
		},
		want: []Change{
			{
				Event: []fsnotify.Event{{Name: "file2.toml", Op: fsnotify.Remove}},
			},
			{
				Event:  []fsnotify.Event{{Name: "file3.toml", Op: fsnotify.Create}},
				Config: &Config{Sum: mustSum("5f36b2ea290645ee34d943220a14b54ee5ea5be5")},
			},
		},
		wantErr: []bool{false, true},
	},
	{
		name: "remove", fn: func(dir string) error {
			return rm(dir, "file3.toml")
		},
		want: []Change{{
			Event: []fsnotify.Event{{Name: "file3.toml", Op: fsnotify.Remove}},
		}},
	},
}

func create(dir, name string, perm fs.FileMode, data string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(data), perm)
}

func mv(dir, from, to string) error {
	return os.Rename(filepath.Join(dir, from), filepath.Join(dir, to))
}

func rm(dir, name string) error {
	return os.RemoveAll(filepath.Join(dir, name))
}

func TestWatcher(t *testing.T) {
	var logBuf bytes.Buffer
	log := slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
	defer func() {
		if *verbose {
			t.Logf("log:\n%s\n", &logBuf)
		}
	}()

	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := make(chan Change)
	w, err := NewWatcher(dir, stream, -1, log)
	if err != nil {
		t.Fatalf("unexpected error creating watcher: %v", err)
	}
	defer w.Close()
	go func() {
		err := w.Watch(ctx)
		if err != nil {
			t.Errorf("unexpected error returned by Watch: %v", err)
		}
	}()

	for _, op := range operations {
		err := op.fn(dir)
		if err != nil {
			t.Errorf("unexpected error running operation %q: %v", op.name, err)
		}
		got := receive(stream, len(op.want), 200*time.Millisecond)
		if len(got) != len(op.want) {
			t.Errorf("unexpected number of %q events: got:%d want:%d", op.name, len(got), len(op.want))
			continue
		}
		for i := range got {
			for j, e := range got[i].Event {
				got[i].Event[j].Name, err = filepath.Rel(dir, e.Name)
				if err != nil {
					t.Errorf("unexpected error removing dir from event name for %q %d: %v", op.name, i, err)
				}
			}
			wantErr := i < len(op.wantErr) && op.wantErr[i]
			if (got[i].Err != nil) != wantErr {
				t.Errorf("unexpected error for %q %d: got:%v want error:%t", op.name, i, got[i].Err, wantErr)
			}
			got[i].Err = nil
		}
		if !cmp.Equal(op.want, got) {
			t.Errorf("unexpected result for %q:\n--- want:\n+++ got:\n%s", op.name, cmp.Diff(op.want, got))
		}
	}
}

func TestWatcherInit(t *testing.T) {
	dir := t.TempDir()
	err := create(dir, "a.toml", 0o644, `policy = "0.5"
`)
	if err != nil {
		t.Fatalf("unexpected error creating config: %v", err)
	}
	err = create(dir, "b.txt", 0o644, "not a config")
	if err != nil {
		t.Fatalf("unexpected error creating file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := make(chan Change)
	w, err := NewWatcher(dir, stream, -1, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("unexpected error creating watcher: %v", err)
	}
	defer w.Close()
	go w.Watch(ctx)

	got := receive(stream, 2, 200*time.Millisecond)
	want := []Change{{
		Event:  []fsnotify.Event{{Name: filepath.Join(dir, "a.toml"), Op: fsnotify.Create}},
		Config: &Config{Policy: "0.5", Sum: mustSum("3f0e02cf382a20bb36bddea9733b294d7d7c285c")},
	}}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected initial changes:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}

// receive returns up to n changes from stream, waiting at most timeout
// for each.
func receive(stream <-chan Change, n int, timeout time.Duration) []Change {
	var changes []Change
	if n == 0 {
		// Confirm that nothing arrives.
		n = 1
	}
	for range n {
		timer := time.NewTimer(timeout)
		select {
		case <-timer.C:
			return changes
		case c := <-stream:
			timer.Stop()
			changes = append(changes, c)
		}
	}
	return changes
}

var sumTests = []struct {
	a, b *Sum
	want bool
}{
	{a: nil, b: nil, want: true},
	{a: nil, b: &Sum{}, want: false},
	{a: &Sum{}, b: nil, want: false},
	{a: &Sum{}, b: &Sum{}, want: true},
	{a: &Sum{0: 1}, b: &Sum{}, want: false},
	{a: &Sum{}, b: &Sum{0: 1}, want: false},
}

func TestSum(t *testing.T) {
	for _, test := range sumTests {
		got := test.a.Equal(test.b)
		if got != test.want {
			t.Errorf("unexpected result for %q.equal(%q): got:%t want:%t", test.a, test.b, got, test.want)
		}
	}
}
