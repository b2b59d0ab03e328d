// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slogext

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/imagecraft/decimate"
)

func TestJSONHandlerAddSource(t *testing.T) {
	var buf bytes.Buffer
	addSource := NewAtomicBool(false)
	log := slog.New(GoID{NewJSONHandler(&buf, &HandlerOptions{AddSource: addSource})})

	log.Info("without")
	addSource.Store(true)
	log.Info("with")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("unexpected number of log lines: got:%d want:2\n%s", len(lines), buf.String())
	}
	for i, want := range []bool{false, true} {
		var rec map[string]any
		err := json.Unmarshal([]byte(lines[i]), &rec)
		if err != nil {
			t.Fatalf("failed to unmarshal log line %d: %v", i, err)
		}
		if _, ok := rec[slog.SourceKey]; ok != want {
			t.Errorf("unexpected source presence for line %d: got:%t want:%t", i, ok, want)
		}
		if _, ok := rec["goid"]; !ok {
			t.Errorf("missing goid in line %d: %s", i, lines[i])
		}
	}
}

func TestPlanLogValue(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewJSONHandler(&buf, nil))
	log.Info("plan", slog.Any("plan", Plan{decimate.Plan{Indices: []int{0, 0, 1, 3}, Delay: 0.5}}))

	var rec struct {
		Plan map[string]any `json:"plan"`
	}
	err := json.Unmarshal(buf.Bytes(), &rec)
	if err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	want := map[string]any{
		"steps":    4.0,
		"retained": 3.0,
		"delay":    0.5,
		"duration": 2.0,
	}
	if !cmp.Equal(rec.Plan, want) {
		t.Errorf("unexpected plan log value:\n--- want:\n+++ got:\n%s", cmp.Diff(want, rec.Plan))
	}
}
