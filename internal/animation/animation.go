// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"io"
	"math"
	"time"

	"golang.org/x/image/draw"

	"github.com/kortschak/imagecraft/decimate"
	"github.com/kortschak/imagecraft/internal/policy"
)

var plan9 = color.Palette(palette.Plan9)

// Budget limits the resources used when decoding an animation.
type Budget struct {
	// MaxByteCount is the maximum number of encoded bytes that will
	// be read and the maximum total size of retained frame pixels.
	// Zero is unlimited.
	MaxByteCount int64

	// MaxSize is the largest frame size that will be retained.
	// Frames larger than this are scaled down preserving their
	// aspect ratio. A zero dimension is unlimited.
	MaxSize image.Point
}

// read reads all of r, failing if more than b.MaxByteCount bytes are
// available.
func (b Budget) read(r io.Reader) ([]byte, error) {
	if b.MaxByteCount <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, b.MaxByteCount+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > b.MaxByteCount {
		return nil, fmt.Errorf("%w: encoded data larger than %d bytes", ErrBudget, b.MaxByteCount)
	}
	return data, nil
}

// fit returns size scaled down to fit within b.MaxSize.
func (b Budget) fit(size image.Point) image.Point {
	scale := 1.0
	if b.MaxSize.X > 0 && size.X > b.MaxSize.X {
		scale = float64(b.MaxSize.X) / float64(size.X)
	}
	if b.MaxSize.Y > 0 && size.Y > b.MaxSize.Y {
		scale = min(scale, float64(b.MaxSize.Y)/float64(size.Y))
	}
	if scale == 1 {
		return size
	}
	return image.Pt(
		max(int(float64(size.X)*scale), 1),
		max(int(float64(size.Y)*scale), 1),
	)
}

// shrink returns size reduced so that n frames of the returned size fit
// within b.MaxByteCount.
func (b Budget) shrink(size image.Point, n int) (image.Point, error) {
	fp := footprint(size, n)
	if b.MaxByteCount <= 0 || fp <= b.MaxByteCount {
		return size, nil
	}
	scale := math.Sqrt(float64(b.MaxByteCount) / float64(fp))
	size = image.Pt(int(float64(size.X)*scale), int(float64(size.Y)*scale))
	if size.X < 1 || size.Y < 1 {
		return image.Point{}, fmt.Errorf("%w: %d frames cannot be retained in %d bytes", ErrBudget, n, b.MaxByteCount)
	}
	return size, nil
}

// footprint returns the number of bytes of RGBA pixel data held by n
// frames of the given size.
func footprint(size image.Point, n int) int64 {
	return int64(size.X) * int64(size.Y) * 4 * int64(n)
}

// info returns the policy properties of an animation with frames of
// the given size displayed for the provided durations.
func info(size image.Point, durations []float64) policy.Info {
	var total float64
	for _, d := range durations {
		if d > 0 {
			total += d
		}
	}
	return policy.Info{
		Frames:   len(durations),
		Width:    size.X,
		Height:   size.Y,
		Bytes:    footprint(size, len(durations)),
		Duration: total,
	}
}

// IntegrityFunc returns the fidelity target for decimating an
// animation with the provided properties.
type IntegrityFunc func(policy.Info) (float64, error)

// source is a frame compositor.
type source interface {
	// len returns the number of frames.
	len() int
	// bounds returns the animation canvas bounds.
	bounds() image.Rectangle
	// render composes frames in order, calling put with the
	// composed canvas for each frame index in keep. The canvas
	// passed to put is only valid for the duration of the call.
	render(keep map[int]bool, put func(int, image.Image))
}

// build decimates the frames of src and retains the planned frames within
// the provided budget.
func build(id string, src source, durations []float64, loop int, budget Budget, integrity IntegrityFunc) (*Animation, error) {
	bounds := src.bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("empty animation bounds: %v", bounds)
	}
	size := budget.fit(bounds.Size())

	fidelity := 1.0
	if integrity != nil {
		var err error
		fidelity, err = integrity(info(size, durations))
		if err != nil {
			return nil, fmt.Errorf("integrity policy: %w", err)
		}
	}
	plan := decimate.New(durations, fidelity)
	retained := plan.Retained()

	size, err := budget.shrink(size, len(retained))
	if err != nil {
		return nil, err
	}

	keep := make(map[int]bool, len(retained))
	for _, idx := range retained {
		keep[idx] = true
	}
	dr := image.Rectangle{Max: size}
	frames := make(map[int]*image.RGBA, len(retained))
	src.render(keep, func(i int, canvas image.Image) {
		dst := image.NewRGBA(dr)
		if size == canvas.Bounds().Size() {
			draw.Copy(dst, image.Point{}, canvas, canvas.Bounds(), draw.Src, nil)
		} else {
			draw.BiLinear.Scale(dst, dr, canvas, canvas.Bounds(), draw.Src, nil)
		}
		frames[i] = dst
	})

	return &Animation{
		ID:        id,
		Durations: durations,
		Plan:      plan,
		LoopCount: loop,
		bounds:    dr,
		frames:    frames,
	}, nil
}

// Animation is a decimated animation holding only the frames that its
// plan renders.
type Animation struct {
	// ID identifies the source of the animation.
	ID string

	// Durations is the display duration of each original
	// frame in seconds.
	Durations []float64

	// Plan is the decimation plan for the animation.
	Plan decimate.Plan

	// LoopCount controls the number of times an animation will be
	// restarted during display.
	// A LoopCount of 0 means to loop forever.
	// A LoopCount of -1 means to show each frame only once.
	// Otherwise, the animation is looped LoopCount+1 times.
	LoopCount int

	bounds image.Rectangle
	frames map[int]*image.RGBA

	// complete indicates that the last animation was
	// not terminated.
	complete bool
}

// FromImages returns a decimated [Animation] from a sequence of complete
// frames with the provided display durations in seconds. Frames are drawn
// over the preceding frames in order, scaled to fit the union of their
// bounds within the budget. The integrity function is used as described
// for [Decode].
func FromImages(id string, frames []image.Image, durations []float64, loop int, budget Budget, integrity IntegrityFunc) (*Animation, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames")
	}
	if len(frames) != len(durations) {
		return nil, fmt.Errorf("mismatched image count and duration count: %d != %d", len(frames), len(durations))
	}
	return build(id, imageSource(frames), durations, loop, budget, integrity)
}

type imageSource []image.Image

func (s imageSource) len() int { return len(s) }

func (s imageSource) bounds() image.Rectangle {
	var b image.Rectangle
	for _, f := range s {
		b = b.Union(f.Bounds())
	}
	return b
}

func (s imageSource) render(keep map[int]bool, put func(int, image.Image)) {
	canvas := image.NewRGBA(s.bounds())
	for f, frame := range s {
		draw.Copy(canvas, frame.Bounds().Min, frame, frame.Bounds(), draw.Over, nil)
		if keep[f] {
			put(f, canvas)
		}
	}
}

// Frame returns the retained image for the original frame index i, or
// nil if the frame was not retained by the plan.
func (a *Animation) Frame(i int) image.Image {
	f, ok := a.frames[i]
	if !ok {
		return nil
	}
	return f
}

// Footprint returns the number of bytes of pixel data held by the
// retained frames.
func (a *Animation) Footprint() int64 {
	var n int64
	for _, f := range a.frames {
		n += int64(len(f.Pix))
	}
	return n
}

// Animate renders the receiver's planned frames into dst at the plan's
// delay and calls fn on each rendered image.
func (a *Animation) Animate(ctx context.Context, dst draw.Image, fn func(image.Image) error) error {
	a.complete = false
	if a.Plan.Len() == 0 {
		a.complete = true
		return fn(dst)
	}

	loopCount := a.LoopCount
	if loopCount <= 0 {
		loopCount = -loopCount - 1
	}
	delay := a.Plan.Interval()
	for i := 0; i <= loopCount || loopCount == -1; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for k := range a.Plan.Len() {
			frame := a.frames[a.Plan.Frame(k)]
			draw.Copy(dst, frame.Bounds().Min, frame, frame.Bounds(), draw.Over, nil)
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			err := fn(dst)
			if err != nil {
				return err
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	a.complete = true
	return fn(dst)
}

// current returns the frame currently represented by the animation.
func (a *Animation) current() *image.RGBA {
	if a.Plan.Len() == 0 {
		return nil
	}
	k := 0
	if a.complete {
		k = -1
	}
	return a.frames[a.Plan.Frame(k)]
}

// At implements the image.Image interface.
func (a *Animation) At(x, y int) color.Color {
	f := a.current()
	if f == nil {
		return nil
	}
	return f.At(x, y)
}

// Bounds implements the image.Image interface.
func (a *Animation) Bounds() image.Rectangle {
	return a.bounds
}

// ColorModel implements the image.Image interface.
func (a *Animation) ColorModel() color.Model {
	return color.RGBAModel
}
