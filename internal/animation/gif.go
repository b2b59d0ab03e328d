// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"

	"golang.org/x/image/draw"

	"github.com/kortschak/imagecraft/internal/policy"
)

// IsGIF returns whether the data held by r is a GIF image.
func IsGIF(r ReadPeeker) bool {
	return hasMagic("GIF8?a", r)
}

// ReadPeeker is an io.Reader that can also peek n bytes ahead.
type ReadPeeker interface {
	io.Reader
	Peek(n int) ([]byte, error)
}

// AsReadPeeker converts an io.Reader to a ReadPeeker.
func AsReadPeeker(r io.Reader) ReadPeeker {
	if r, ok := r.(ReadPeeker); ok {
		return r
	}
	return bufio.NewReader(r)
}

// hasMagic returns whether r starts with the provided magic bytes.
func hasMagic(magic string, r ReadPeeker) bool {
	b, err := r.Peek(len(magic))
	if err != nil || len(b) != len(magic) {
		return false
	}
	for i, c := range b {
		if magic[i] != c && magic[i] != '?' {
			return false
		}
	}
	return true
}

var (
	// ErrBudget is returned when an animation cannot be decoded
	// within the provided Budget.
	ErrBudget = errors.New("decode budget exceeded")

	// ErrNotAnimated is returned when the data is not in a
	// supported animated image format.
	ErrNotAnimated = errors.New("not an animated image")
)

// Decode returns a decimated [Animation] from the GIF data read from r.
// The id is recorded in the returned Animation for cache identification.
// The integrity function is called with the properties of the animation
// as it would be rendered within the budget to obtain the fidelity target
// for frame decimation. If integrity is nil, all frames are retained.
//
// GIF delay, disposal and global background index values are checked for
// validity. Frame delays shorter than 2/100s are treated as 1/10s.
func Decode(r io.Reader, id string, budget Budget, integrity IntegrityFunc) (*Animation, error) {
	g, err := readGIF(r, budget)
	if err != nil {
		return nil, err
	}
	return build(id, gifSource{g}, GIFDurations(g.Delay, len(g.Image)), g.LoopCount, budget, integrity)
}

// Inspect returns the properties of the GIF animation read from r as it
// would be retained within the budget, and its frame durations. Frames
// are not composited.
func Inspect(r io.Reader, budget Budget) (policy.Info, []float64, error) {
	g, err := readGIF(r, budget)
	if err != nil {
		return policy.Info{}, nil, err
	}
	src := gifSource{g}
	bounds := src.bounds()
	if bounds.Empty() {
		return policy.Info{}, nil, fmt.Errorf("empty animation bounds: %v", bounds)
	}
	durations := GIFDurations(g.Delay, len(g.Image))
	return info(budget.fit(bounds.Size()), durations), durations, nil
}

// readGIF reads and validates a complete GIF within the budget.
func readGIF(r io.Reader, budget Budget) (*gif.GIF, error) {
	rp := AsReadPeeker(r)
	if !IsGIF(rp) {
		return nil, ErrNotAnimated
	}
	data, err := budget.read(rp)
	if err != nil {
		return nil, err
	}
	g, err := decodeAll(data)
	if err != nil {
		return nil, err
	}
	if len(g.Image) == 0 {
		return nil, errors.New("no frames")
	}
	if len(g.Image) != len(g.Delay) && g.Delay != nil {
		return nil, fmt.Errorf("mismatched image count and delay count: %d != %d", len(g.Image), len(g.Delay))
	}
	if len(g.Image) != len(g.Disposal) && g.Disposal != nil {
		return nil, fmt.Errorf("mismatched image count and disposal count: %d != %d", len(g.Image), len(g.Disposal))
	}
	pal, ok := g.Config.ColorModel.(color.Palette)
	if idx := int(g.BackgroundIndex); ok && idx >= len(pal) {
		return nil, fmt.Errorf("global background colour index not in palette: %d", idx)
	}
	return g, nil
}

// decodeAll decodes all GIF frames, returning decoder panics as errors.
func decodeAll(data []byte) (g *gif.GIF, err error) {
	defer func() {
		if r := recover(); r != nil {
			g = nil
			err = fmt.Errorf("gif: decoder panic: %v", r)
		}
	}()
	return gif.DecodeAll(bytes.NewReader(data))
}

// GIFDurations returns the frame durations in seconds for n frames with
// the provided GIF delays in hundredths of a second. Delays shorter than
// 2/100s are treated as 1/10s, matching common browser behaviour.
func GIFDurations(delay []int, n int) []float64 {
	d := make([]float64, n)
	for i := range d {
		cs := 0
		if i < len(delay) {
			cs = delay[i]
		}
		if cs < 2 {
			cs = 10
		}
		d[i] = float64(cs) / 100
	}
	return d
}

// gifSource composites GIF frames honouring frame disposal.
type gifSource struct {
	*gif.GIF
}

func (s gifSource) len() int { return len(s.Image) }

// bounds returns the GIF logical screen, or the union of the frame
// bounds if the logical screen is empty.
func (s gifSource) bounds() image.Rectangle {
	b := image.Rect(0, 0, s.Config.Width, s.Config.Height)
	if !b.Empty() {
		return b
	}
	for _, f := range s.Image {
		b = b.Union(f.Bounds())
	}
	return b
}

func (s gifSource) render(keep map[int]bool, put func(int, image.Image)) {
	const (
		restoreBackground = 2
		restorePrevious   = 3
	)
	background := image.Image(image.Transparent)
	pal, ok := s.Config.ColorModel.(color.Palette)
	if idx := int(s.BackgroundIndex); ok {
		background = &image.Uniform{pal[idx]}
	}

	canvas := image.NewRGBA(s.bounds())
	last := 0
	for f := range keep {
		last = max(last, f)
	}
	for f, frame := range s.Image {
		if f > last {
			break
		}
		var restore *image.RGBA
		if s.Disposal != nil && s.Disposal[f] == restorePrevious {
			restore = image.NewRGBA(frame.Bounds())
			draw.Copy(restore, frame.Bounds().Min, canvas, frame.Bounds(), draw.Src, nil)
		}
		draw.Copy(canvas, frame.Bounds().Min, frame, frame.Bounds(), draw.Over, nil)
		if keep[f] {
			put(f, canvas)
		}
		if s.Disposal != nil {
			switch s.Disposal[f] {
			case restoreBackground:
				draw.Draw(canvas, frame.Bounds(), background, image.Point{}, draw.Src)
			case restorePrevious:
				draw.Copy(canvas, frame.Bounds().Min, restore, restore.Bounds(), draw.Src, nil)
			}
		}
	}
}

// GIF returns the receiver's plan encoded as a GIF using the provided
// palette quantizer. If q is nil, frames are dithered onto the Plan 9
// palette. Consecutive repeats of a frame in the plan are merged into a
// single GIF frame with a proportionally longer delay.
func (a *Animation) GIF(q draw.Quantizer) *gif.GIF {
	delay := max(int(a.Plan.Delay*100+0.5), 2)
	g := &gif.GIF{
		Config: image.Config{
			Width:  a.bounds.Dx(),
			Height: a.bounds.Dy(),
		},
		LoopCount: a.LoopCount,
	}
	paletted := make(map[int]*image.Paletted)
	for i, idx := range a.Plan.Indices {
		if i != 0 && idx == a.Plan.Indices[i-1] {
			g.Delay[len(g.Delay)-1] += delay
			continue
		}
		p, ok := paletted[idx]
		if !ok {
			p = quantize(a.frames[idx], q)
			paletted[idx] = p
		}
		g.Image = append(g.Image, p)
		g.Delay = append(g.Delay, delay)
		g.Disposal = append(g.Disposal, gif.DisposalNone)
	}
	if len(g.Image) != 0 {
		g.Config.ColorModel = g.Image[0].Palette
	}
	return g
}

func quantize(img image.Image, q draw.Quantizer) *image.Paletted {
	b := img.Bounds()
	var p *image.Paletted
	if q == nil {
		p = image.NewPaletted(b, plan9)
	} else {
		p = image.NewPaletted(b, q.Quantize(make(color.Palette, 0, 256), img))
	}
	draw.FloydSteinberg.Draw(p, b, img, b.Min)
	return p
}
