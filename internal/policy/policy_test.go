// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package policy

import (
	"math"
	"strings"
	"testing"
)

var integrityTests = []struct {
	name    string
	src     string
	info    Info
	want    float64
	wantErr string
}{
	{
		name: "default",
		src:  Default,
		info: Info{Frames: 20, Width: 10, Height: 10, Bytes: 8000, Duration: 1},
		want: 1,
	},
	{
		name: "int_result",
		src:  "0",
		info: Info{Frames: 20},
		want: 0,
	},
	{
		name: "frames_threshold_below",
		src:  "frames > 100 ? 0.5 : 1.0",
		info: Info{Frames: 100},
		want: 1,
	},
	{
		name: "frames_threshold_above",
		src:  "frames > 100 ? 0.5 : 1.0",
		info: Info{Frames: 101},
		want: 0.5,
	},
	{
		name: "fps",
		src:  "clamp(15.0 / fps, 0.25, 1.0)",
		info: Info{Frames: 30, Duration: 1},
		want: 0.5,
	},
	{
		name: "fps_clamped",
		src:  "clamp(15.0 / fps, 0.25, 1.0)",
		info: Info{Frames: 120, Duration: 1},
		want: 0.25,
	},
	{
		name: "zero_duration",
		src:  "clamp(15.0 / fps, 0.25, 1.0)",
		info: Info{Frames: 30},
		want: 1,
	},
	{
		name: "footprint",
		src:  "footprint > 1000 ? double(1000) / double(footprint) : 1.0",
		info: Info{Bytes: 4000},
		want: 0.25,
	},
	{
		name: "size",
		src:  "width * height > 256 * 256 ? 0.75 : 1.0",
		info: Info{Width: 512, Height: 512},
		want: 0.75,
	},
	{
		name:    "bad_clamp",
		src:     "clamp(0.5, 1.0, 0.0)",
		wantErr: "failed eval: invalid clamp interval",
	},
	{
		name:    "nan",
		src:     "0.0 / 0.0",
		wantErr: "policy result is NaN",
	},
}

func TestIntegrity(t *testing.T) {
	for _, test := range integrityTests {
		t.Run(test.name, func(t *testing.T) {
			p, err := Compile(test.src)
			if err != nil {
				t.Fatalf("unexpected error compiling %q: %v", test.src, err)
			}
			if p.String() != test.src {
				t.Errorf("unexpected source: got:%q want:%q", p.String(), test.src)
			}
			got, err := p.Integrity(test.info)
			if err != nil {
				if test.wantErr == "" || !strings.HasPrefix(err.Error(), test.wantErr) {
					t.Errorf("unexpected error: got:%v want:%s", err, test.wantErr)
				}
				return
			}
			if test.wantErr != "" {
				t.Fatalf("expected error %q, got result %v", test.wantErr, got)
			}
			if math.Abs(got-test.want) > 1e-12 {
				t.Errorf("unexpected integrity: got:%v want:%v", got, test.want)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"frames >",
		`"half"`,
		"frames > 10",
		"unknown_var * 2.0",
		"clamp(1, 2, 3)",
	} {
		_, err := Compile(src)
		if err == nil {
			t.Errorf("expected error compiling %q", src)
		}
	}
}

func TestConst(t *testing.T) {
	for _, v := range []float64{0, 0.25, 1, 7} {
		got, err := Const(v).Integrity(Info{Frames: 10})
		if err != nil {
			t.Errorf("unexpected error for %v: %v", v, err)
		}
		if got != v {
			t.Errorf("unexpected integrity: got:%v want:%v", got, v)
		}
	}
}

func TestInfoFPS(t *testing.T) {
	for _, test := range []struct {
		info Info
		want float64
	}{
		{info: Info{Frames: 20, Duration: 2}, want: 10},
		{info: Info{Frames: 20}, want: 0},
		{info: Info{Frames: 20, Duration: -1}, want: 0},
	} {
		if got := test.info.FPS(); got != test.want {
			t.Errorf("unexpected fps for %+v: got:%v want:%v", test.info, got, test.want)
		}
	}
}
