// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/kortschak/imagecraft/decimate"
	"github.com/kortschak/imagecraft/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func testLogger() *slog.Logger {
	if !*verbose {
		return nil
	}
	return slog.New(slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
}

// indexImage is an image that reports the frame index it represents.
type indexImage struct {
	image.Image
	index int
}

// indexFrames returns an indexImage for every index.
type indexFrames struct{}

func (indexFrames) Frame(i int) image.Image {
	return indexImage{Image: image.NewUniform(color.Black), index: i}
}

// recorder is a draw function that sends the index of each frame it
// is given.
func recorder(c chan<- int, active *atomic.Int32, maxActive *atomic.Int32) func(context.Context, image.Image) error {
	return func(ctx context.Context, img image.Image) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		select {
		case c <- img.(indexImage).index:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func collect(t *testing.T, c <-chan int, n int) []int {
	t.Helper()
	got := make([]int, 0, n)
	for range n {
		select {
		case i := <-c:
			got = append(got, i)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for frame: got %v", got)
		}
	}
	return got
}

// quiet fails if a frame is drawn within d.
func quiet(t *testing.T, c <-chan int, d time.Duration) {
	t.Helper()
	select {
	case i := <-c:
		t.Errorf("unexpected frame %d drawn", i)
	case <-time.After(d):
	}
}

func TestPlayer(t *testing.T) {
	plan := decimate.Plan{Indices: []int{0, 2, 3}, Delay: 0.005}

	t.Run("cycle", func(t *testing.T) {
		c := make(chan int)
		var active, maxActive atomic.Int32
		p := NewPlayer(indexFrames{}, plan, recorder(c, &active, &maxActive), testLogger())
		p.Start(context.Background())
		got := collect(t, c, 7)
		p.Stop()

		want := []int{0, 2, 3, 0, 2, 3, 0}
		if !cmp.Equal(got, want) {
			t.Errorf("unexpected frame sequence:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
		}
		quiet(t, c, 50*time.Millisecond)
		if err := p.Err(); err != nil {
			t.Errorf("unexpected error after stop: %v", err)
		}
	})

	t.Run("stop_idempotent", func(t *testing.T) {
		c := make(chan int)
		var active, maxActive atomic.Int32
		p := NewPlayer(indexFrames{}, plan, recorder(c, &active, &maxActive), testLogger())
		p.Stop()
		p.Start(context.Background())
		collect(t, c, 1)
		p.Stop()
		p.Stop()
		quiet(t, c, 50*time.Millisecond)
	})

	t.Run("restart", func(t *testing.T) {
		c := make(chan int)
		var active, maxActive atomic.Int32
		p := NewPlayer(indexFrames{}, plan, recorder(c, &active, &maxActive), testLogger())
		for range 10 {
			p.Start(context.Background())
			got := collect(t, c, 2)
			if want := []int{0, 2}; !cmp.Equal(got, want) {
				t.Errorf("unexpected frame sequence after restart:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
			}
		}
		p.Stop()
		if n := maxActive.Load(); n != 1 {
			t.Errorf("unexpected number of concurrent draws: got:%d want:1", n)
		}
	})

	t.Run("pause", func(t *testing.T) {
		c := make(chan int)
		var active, maxActive atomic.Int32
		p := NewPlayer(indexFrames{}, plan, recorder(c, &active, &maxActive), testLogger())
		p.Start(context.Background())
		collect(t, c, 1)
		p.Pause()
		// At most one frame may already be past the pause check.
		select {
		case <-c:
		case <-time.After(50 * time.Millisecond):
		}
		quiet(t, c, 50*time.Millisecond)
		step := p.Step()
		quiet(t, c, 50*time.Millisecond)
		if got := p.Step(); got != step {
			t.Errorf("step advanced while paused: got:%d want:%d", got, step)
		}
		p.Unpause()
		got := collect(t, c, 1)
		if want := plan.Frame(step); got[0] != want {
			t.Errorf("unexpected frame after unpause: got:%d want:%d", got[0], want)
		}
		p.Stop()
	})

	t.Run("stop_while_paused", func(t *testing.T) {
		c := make(chan int)
		var active, maxActive atomic.Int32
		p := NewPlayer(indexFrames{}, plan, recorder(c, &active, &maxActive), testLogger())
		p.Pause()
		p.Start(context.Background())
		done := make(chan struct{})
		go func() {
			p.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("stop did not return while paused")
		}
	})

	t.Run("draw_error", func(t *testing.T) {
		errDraw := errors.New("draw failed")
		p := NewPlayer(indexFrames{}, plan, func(context.Context, image.Image) error {
			return errDraw
		}, testLogger())
		p.Start(context.Background())
		deadline := time.Now().Add(5 * time.Second)
		for p.Err() == nil && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if !errors.Is(p.Err(), errDraw) {
			t.Errorf("unexpected error: got:%v want:%v", p.Err(), errDraw)
		}
		p.Stop()
	})

	t.Run("empty_plan", func(t *testing.T) {
		p := NewPlayer(indexFrames{}, decimate.Plan{}, func(context.Context, image.Image) error {
			t.Error("unexpected draw")
			return nil
		}, testLogger())
		p.Start(context.Background())
		p.Stop()
	})
}

func TestPauser(t *testing.T) {
	allow := cmp.AllowUnexported(
		pauser{},
		atomic.Bool{},
		sync.Mutex{},
	)
	comparable := cmpopts.EquateComparable(
		sync.Mutex{},
	)
	ignore := cmp.FilterValues(
		func(_, _ chan struct{}) bool { return true },
		cmp.Ignore(),
	)

	t.Run("pause_is_idempotent", func(t *testing.T) {
		var p1, p2 pauser
		p1.pause()
		p2.pause()
		p2.pause()

		if !cmp.Equal(&p1, &p2, allow, ignore, comparable) {
			t.Errorf("pause is not idempotent:\n--- p1:\n+++ p2:\n%s", cmp.Diff(&p1, &p2, allow, ignore, comparable))
		}
	})
	t.Run("unpause_no_panic", func(t *testing.T) {
		defer func() {
			r := recover()
			if r != nil {
				l := strings.Split(fmt.Sprint(r), "\n")[0]
				t.Errorf("unexpected panic: %s", l)
			}
		}()
		var p pauser
		p.unpause()
	})
	t.Run("pause_pauses", func(t *testing.T) {
		var p pauser
		p.pause()
		wait := make(chan struct{})
		go func() {
			p.wait(context.Background())
			close(wait)
		}()
		select {
		case <-time.After(100 * time.Millisecond):
		case <-wait:
			t.Error("unexpected non-wait")
		}
		p.unpause()
		<-wait
	})
	t.Run("cancel_unblocks", func(t *testing.T) {
		var p pauser
		p.pause()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := p.wait(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: got:%v want:%v", err, context.Canceled)
		}
	})
}
