// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kortschak/imagecraft/decimate"
)

// Player renders the frames of a decimation plan at the plan's uniform
// delay. Playback runs on a single goroutine owned by the Player.
type Player struct {
	src  Frames
	plan decimate.Plan
	draw func(context.Context, image.Image) error
	log  *slog.Logger

	// mu protects cancel and done.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	step atomic.Int64

	// pauser controls playback pauses.
	pauser pauser

	errMu sync.Mutex
	err   error
}

// NewPlayer returns a new Player that renders the frames of src selected
// by plan using draw. The draw function must return when its context is
// cancelled.
func NewPlayer(src Frames, plan decimate.Plan, draw func(context.Context, image.Image) error, log *slog.Logger) *Player {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Player{
		src:  src,
		plan: plan,
		draw: draw,
		log:  log.With(slog.String("component", "player")),
	}
}

// Start begins playback from the first step of the plan, stopping any
// running playback first. The first frame is drawn immediately and
// subsequent frames at each tick of the plan's interval. Playback
// continues until Stop is called, ctx is cancelled or draw returns an
// error.
func (p *Player) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stop()
	if p.plan.Len() == 0 {
		return
	}
	p.step.Store(0)
	p.setErr(nil)
	ctx, p.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	p.done = done
	go func() {
		defer close(done)
		err := p.run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			p.log.LogAttrs(ctx, slog.LevelError, "playback", slog.Int("step", p.Step()), slog.Any("error", err))
			p.setErr(err)
		}
	}()
}

func (p *Player) run(ctx context.Context) error {
	interval := p.plan.Interval()
	if interval <= 0 {
		interval = time.Duration(decimate.Fallback * float64(time.Second))
	}
	p.log.LogAttrs(ctx, slog.LevelDebug, "start", slog.Int("steps", p.plan.Len()), slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		err := p.pauser.wait(ctx)
		if err != nil {
			return err
		}
		k := p.step.Load()
		img := p.src.Frame(p.plan.Frame(int(k)))
		if img == nil {
			return fmt.Errorf("no frame for index %d at step %d", p.plan.Frame(int(k)), k)
		}
		err = p.draw(ctx, img)
		if err != nil {
			return err
		}
		p.step.Store((k + 1) % int64(p.plan.Len()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop stops playback and waits for the playback goroutine to return.
// Stop is idempotent and may be called before Start.
func (p *Player) Stop() {
	p.mu.Lock()
	p.stop()
	p.mu.Unlock()
}

func (p *Player) stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

// Pause pauses playback without losing position.
func (p *Player) Pause() {
	p.pauser.pause()
}

// Unpause resumes paused playback.
func (p *Player) Unpause() {
	p.pauser.unpause()
}

// Step returns the plan step that will be drawn next.
func (p *Player) Step() int {
	return int(p.step.Load())
}

// Err returns the error that terminated the last playback, if any.
func (p *Player) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Player) setErr(err error) {
	p.errMu.Lock()
	p.err = err
	p.errMu.Unlock()
}

// pauser is a pause sentinel. The zero value for a pauser is in the unpaused
// state.
type pauser struct {
	paused atomic.Bool
	mu     sync.Mutex
	signal chan struct{}
}

// pause puts the receiver into the paused state.
func (p *pauser) pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused.CompareAndSwap(false, true) {
		p.signal = make(chan struct{})
	}
}

// unpause puts the receiver into the unpaused state.
func (p *pauser) unpause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused.CompareAndSwap(true, false) {
		close(p.signal)
	}
}

// wait will block when the receiver is in the paused state unless the
// context has been cancelled. It returns the value of ctx.Err() if
// context cancellation is the reason for unblocking.
func (p *pauser) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	} else if !p.paused.Load() {
		return nil
	}

	p.mu.Lock()
	signal := p.signal
	paused := p.paused.Load()
	p.mu.Unlock()

	if !paused {
		return nil
	}

	select {
	case <-signal:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
