// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decimate selects the frames of an animation to render at a single
// display interval.
//
// Given the display duration of each frame of an animation and a fidelity
// target in [0, 1], [Frames] chooses the slowest display interval from
// [Intervals] that can show at least the target fraction of frames in
// distinct refresh slots, and returns the original frame indices to show at
// each tick of that interval. A fidelity of 1 retains every frame at the
// first frame's duration.
package decimate

import (
	"math"
	"time"
)

// Fallback is the delay in seconds used when no interval can be determined.
const Fallback = 0.1

// maxTick is the largest tick number that is used for frame placement.
// Integers up to this value are exact in a float64.
const maxTick = 1 << 53

// Intervals is the set of candidate display intervals in seconds, ordered
// from slowest to fastest. Each is the period of a refresh rate a display
// can realistically schedule.
var Intervals = [...]float64{
	1.0 / 1.0,
	1.0 / 2.0,
	1.0 / 3.0,
	1.0 / 4.0,
	1.0 / 5.0,
	1.0 / 6.0,
	1.0 / 10.0,
	1.0 / 12.0,
	1.0 / 15.0,
	1.0 / 20.0,
	1.0 / 30.0,
	1.0 / 60.0,
}

// Frames returns the indices of the frames with the given durations, in
// seconds, that should be rendered at a uniform delay, and that delay.
// The integrity parameter is clamped to [0, 1]; NaN is treated as 1.
//
// If there are at most two frames or integrity is 1, all indices are
// returned with the first frame's duration, or Fallback if there are no
// frames or the first duration is negative or non-finite. Otherwise the
// first interval in Intervals that places at least
// floor(len(durations)*integrity) frame end times in distinct ticks is
// used, and for each tick the first frame that ends in or after that tick
// is selected. A frame that spans several ticks is selected once for each,
// so the returned indices are non-decreasing and may number up to
// len(durations)+1. If no interval is adequate, all indices are returned
// with Fallback.
//
// Negative and non-finite durations are treated as zero. An interval is
// not adequate if any frame end time lies beyond maxTick ticks.
func Frames(durations []float64, integrity float64) (indices []int, delay float64) {
	integrity = clamp(integrity)

	indices = make([]int, len(durations))
	for i := range indices {
		indices[i] = i
	}
	if len(durations) <= 2 || integrity == 1 {
		if len(durations) != 0 && valid(durations[0]) {
			return indices, durations[0]
		}
		return indices, Fallback
	}

	timestamps := make([]float64, len(durations))
	var t float64
	for i, d := range durations {
		if valid(d) {
			t += d
		}
		timestamps[i] = t
	}

	slots := make([]int, len(timestamps))
	need := int(float64(len(slots)) * integrity)
	// The last timestamp is the largest, and its tick grows as the
	// interval shrinks, so once it is out of range no later interval
	// can be used.
	last := timestamps[len(timestamps)-1]
	for _, interval := range Intervals {
		if math.Floor(last/interval) > maxTick {
			break
		}
		distinct := 0
		for i, t := range timestamps {
			slots[i] = int(math.Floor(t / interval))
			// Timestamps are non-decreasing, so equal slots are adjacent.
			if i == 0 || slots[i] != slots[i-1] {
				distinct++
			}
		}
		if distinct < need {
			continue
		}

		indices = indices[:0]
		for tick, old := 0, 0; tick <= distinct && old < len(slots); {
			if tick <= slots[old] {
				indices = append(indices, old)
				tick++
			} else {
				old++
			}
		}
		return indices, interval
	}
	return indices, Fallback
}

// clamp returns v clamped to [0, 1], with NaN mapped to 1.
func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 1
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// valid returns whether d is usable as a frame duration.
func valid(d float64) bool {
	return d >= 0 && !math.IsInf(d, 1)
}

// Plan is a decimation result: the original frame indices to render in
// order and the uniform delay between them.
type Plan struct {
	Indices []int   `json:"indices"`
	Delay   float64 `json:"delay"` // Seconds.
}

// New returns the Plan for the provided frame durations in seconds and
// integrity. See [Frames] for details.
func New(durations []float64, integrity float64) Plan {
	indices, delay := Frames(durations, integrity)
	return Plan{Indices: indices, Delay: delay}
}

// Len returns the number of steps in one loop of the plan.
func (p Plan) Len() int {
	return len(p.Indices)
}

// Frame returns the original frame index to render at step k of playback.
// Steps wrap around the plan's indices. Frame panics if the plan is empty.
func (p Plan) Frame(k int) int {
	k %= len(p.Indices)
	if k < 0 {
		k += len(p.Indices)
	}
	return p.Indices[k]
}

// Interval returns the plan's delay as a time.Duration.
func (p Plan) Interval() time.Duration {
	return time.Duration(math.Round(p.Delay * float64(time.Second)))
}

// Duration returns the length in seconds of one loop of the plan.
func (p Plan) Duration() float64 {
	return float64(len(p.Indices)) * p.Delay
}

// Retained returns the distinct original frame indices used by the plan in
// ascending order.
func (p Plan) Retained() []int {
	var r []int
	for i, idx := range p.Indices {
		if i == 0 || idx != p.Indices[i-1] {
			r = append(r, idx)
		}
	}
	return r
}

// Seconds converts frame durations to seconds for use with [Frames].
func Seconds(d []time.Duration) []float64 {
	s := make([]float64, len(d))
	for i, v := range d {
		s[i] = v.Seconds()
	}
	return s
}
