// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/imagecraft/decimate"
	"github.com/kortschak/imagecraft/internal/slogext"
)

const workDir = "testdata"

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
	keep    = flag.Bool("keep", false, "keep workdir after tests")
)

func Test(t *testing.T) {
	err := os.Mkdir(workDir, 0o755)
	if err != nil && !errors.Is(err, fs.ErrExist) {
		t.Fatalf("failed to make dir: %v", err)
	}
	if !*keep {
		t.Cleanup(func() {
			os.RemoveAll(workDir)
		})
	}

	t.Run("db", func(t *testing.T) {
		const dbPath = "test.db"

		path := filepath.Join(workDir, dbPath)
		err = os.Remove(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("failed to clean dir: %v", err)
		}

		var logBuf bytes.Buffer
		log := slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: slogext.NewAtomicBool(*lines),
		}))
		defer func() {
			if *verbose && logBuf.Len() != 0 {
				t.Logf("log:\n%s\n", &logBuf)
			}
		}()

		db, err := Open(path, log)
		if err != nil {
			t.Fatalf("failed to create db: %v", err)
		}

		sumA := SumOf([]byte("gif-a"))
		sumB := SumOf([]byte("gif-b"))
		planA := decimate.Plan{Indices: []int{0, 1, 3, 6, 8, 10, 12, 13, 15, 17, 19}, Delay: 0.1}
		planB := decimate.Plan{Indices: []int{0, 19}, Delay: 1}
		planC := decimate.Plan{Indices: []int{0, 0, 2, 3}, Delay: 0.1}

		testSet(t, db, Entry{ID: "a", Sum: sumA, Integrity: 0.5, Plan: planA})
		testGet(t, db, "a", sumA, 0.5, planA, nil)
		testGet(t, db, "a", sumB, 0.5, decimate.Plan{}, ErrNotFound)
		testGet(t, db, "a", sumA, 0.25, decimate.Plan{}, ErrNotFound)
		testGet(t, db, "x", sumA, 0.5, decimate.Plan{}, ErrNotFound)

		testSet(t, db, Entry{ID: "a", Sum: sumA, Integrity: 0, Plan: planB})
		testGet(t, db, "a", sumA, 0.5, decimate.Plan{}, ErrNotFound)
		testGet(t, db, "a", sumA, 0, planB, nil)

		testPut(t, db, Entry{ID: "b", Sum: sumB, Integrity: 0.75, Plan: planC}, Entry{}, true)
		testPut(t, db, Entry{ID: "b", Sum: sumB, Integrity: 0.75, Plan: planC}, Entry{ID: "b", Sum: sumB, Integrity: 0.75, Plan: planC}, false)
		testPut(t, db, Entry{ID: "b", Sum: sumB, Integrity: 1, Plan: planC}, Entry{ID: "b", Sum: sumB, Integrity: 0.75, Plan: planC}, true)
		testSet(t, db, Entry{ID: "c", Sum: sumA, Integrity: 1, Plan: decimate.Plan{Indices: []int{0}, Delay: 0.1}})
		testDelete(t, db, "c")
		testGet(t, db, "c", sumA, 1, decimate.Plan{}, ErrNotFound)

		// Empty identifiers are not stored.
		err = db.Set(Entry{Sum: sumA, Plan: planA})
		if err == nil {
			t.Error("expected error for empty id")
		}

		wantDump := []Entry{
			{ID: "a", Sum: sumA, Integrity: 0, Plan: planB},
			{ID: "b", Sum: sumB, Integrity: 1, Plan: planC},
		}
		gotDump, err := db.Dump()
		if err != nil {
			t.Errorf("failed to dump db: %v", err)
		}
		if !cmp.Equal(gotDump, wantDump) {
			t.Errorf("unexpected dump result:\n--- want:\n+++ got:\n%s",
				cmp.Diff(wantDump, gotDump))
		}

		wantJSON := []byte(fmt.Sprintf(`[
	{
		"id": "a",
		"sum": %q,
		"integrity": 0,
		"plan": {
			"indices": [
				0,
				19
			],
			"delay": 1
		}
	},
	{
		"id": "b",
		"sum": %q,
		"integrity": 1,
		"plan": {
			"indices": [
				0,
				0,
				2,
				3
			],
			"delay": 0.1
		}
	}
]`, sumA, sumB))
		gotJSON, err := JSON(gotDump)
		if err != nil {
			t.Errorf("failed to marshal dump: %v", err)
		}
		var buf bytes.Buffer
		err = json.Indent(&buf, gotJSON, "", "\t")
		if err != nil {
			t.Errorf("failed to indent dump: %v", err)
		}
		if !cmp.Equal(buf.Bytes(), wantJSON) {
			t.Errorf("unexpected json result:\n--- want:\n+++ got:\n%s",
				cmp.Diff(wantJSON, buf.Bytes()))
		}

		err = db.Close()
		if err != nil {
			t.Errorf("failed to close db: %v", err)
		}

		db, err = Open(path, log)
		if err != nil {
			t.Fatalf("failed to create db: %v", err)
		}
		t.Cleanup(func() {
			err = db.Close()
			if err != nil {
				t.Errorf("failed to close db: %v", err)
			}
		})

		gotDump, err = db.Dump()
		if err != nil {
			t.Errorf("failed to dump db: %v", err)
		}
		if !cmp.Equal(gotDump, wantDump) {
			t.Errorf("unexpected dump result after reopen:\n--- want:\n+++ got:\n%s",
				cmp.Diff(wantDump, gotDump))
		}
	})

	t.Run("concurrent_access", func(t *testing.T) {
		const dbPath = "test-concurrent.db"

		path := filepath.Join(workDir, dbPath)
		err = os.Remove(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("failed to clean dir: %v", err)
		}

		log := slog.New(slogext.NewJSONHandler(io.Discard, &slogext.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: slogext.NewAtomicBool(*lines),
		}))

		db, err := Open(path, log)
		if err != nil {
			t.Fatalf("failed to create db: %v", err)
		}
		t.Cleanup(func() {
			err = db.Close()
			if err != nil {
				t.Errorf("failed to close db: %v", err)
			}
		})

		const n = 1000
		var wg sync.WaitGroup
		for i := range n {
			if t.Failed() {
				break
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := db.Set(Entry{ID: fmt.Sprintf("%03d", i), Sum: SumOf([]byte{byte(i)}), Plan: decimate.Plan{Indices: []int{0}, Delay: 0.1}})
				if err != nil {
					t.Errorf("failed during iteration %d: %v", i, err)
				}
			}()
		}
		wg.Wait()
		d, err := db.Dump()
		if err != nil {
			t.Errorf("failed to dump db: %v", err)
		}
		if got := len(d); got != n {
			t.Errorf("unexpected number of items: got:%d want:%d", got, n)
		}
	})
}

func testSet(t *testing.T, db *DB, e Entry) {
	t.Helper()
	err := db.Set(e)
	if err != nil {
		t.Errorf("failed to set %s: %v", e.ID, err)
	}
}

func testGet(t *testing.T, db *DB, id string, sum Sum, integrity float64, want decimate.Plan, wantErr error) {
	t.Helper()
	got, err := db.Get(id, sum, integrity)
	if !errors.Is(err, wantErr) {
		t.Errorf("unexpected error getting %s: got:%v want:%v", id, err, wantErr)
		return
	}
	if !cmp.Equal(got, want) {
		t.Errorf("unexpected plan for %s:\n--- want:\n+++ got:\n%s", id, cmp.Diff(want, got))
	}
}

func testPut(t *testing.T, db *DB, e, wantOld Entry, wantWritten bool) {
	t.Helper()
	old, written, err := db.Put(e)
	if err != nil {
		t.Errorf("failed to put %s: %v", e.ID, err)
		return
	}
	if !cmp.Equal(old, wantOld) {
		t.Errorf("unexpected old entry for %s:\n--- want:\n+++ got:\n%s", e.ID, cmp.Diff(wantOld, old))
	}
	if written != wantWritten {
		t.Errorf("written mismatch %s: got:%t want:%t", e.ID, written, wantWritten)
	}
}

func testDelete(t *testing.T, db *DB, id string) {
	t.Helper()
	err := db.Delete(id)
	if err != nil {
		t.Errorf("failed to delete %s: %v", id, err)
	}
}
