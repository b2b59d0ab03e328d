// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package svg provides SVG document detection and rasterization.
package svg

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"golang.org/x/image/draw"
)

// Rasterizer renders vector image data to a raster image.
type Rasterizer interface {
	Rasterize(data []byte, size image.Point) (image.Image, error)
}

// Canvas is a Rasterizer using the tdewolff/canvas SVG parser and
// rasterizer.
type Canvas struct {
	// PreserveAspectRatio specifies that the document is
	// scaled uniformly to fit within the requested size.
	// Otherwise the document is stretched to fill it.
	PreserveAspectRatio bool
}

var _ Rasterizer = Canvas{}

// ErrEmpty is returned when a document has no extent.
var ErrEmpty = errors.New("empty svg document")

// pxPerMM is the number of CSS pixels per millimetre.
const pxPerMM = 96 / 25.4

// Rasterize renders the SVG document in data. If a dimension of size is
// zero or negative, it is derived from the other dimension, preserving
// the document's aspect ratio. If both are zero or negative, the document
// is rendered at its intrinsic size in CSS pixels.
func (c Canvas) Rasterize(data []byte, size image.Point) (image.Image, error) {
	doc, err := canvas.ParseSVG(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}
	w, h := doc.W, doc.H
	if w <= 0 || h <= 0 {
		return nil, ErrEmpty
	}

	target, stretch := c.target(w*pxPerMM, h*pxPerMM, size)
	if target.X <= 0 || target.Y <= 0 {
		return nil, ErrEmpty
	}
	// Render at a resolution that covers the larger scale in
	// either direction and then fix up the exact size.
	res := max(float64(target.X)/w, float64(target.Y)/h)
	img := rasterizer.Draw(doc, canvas.DPMM(res), canvas.DefaultColorSpace)
	if !stretch && img.Bounds().Size() == target {
		return img, nil
	}
	dst := image.NewRGBA(image.Rectangle{Max: target})
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

// target returns the output size for a document of w×h pixels and
// whether the document must be stretched to fill it.
func (c Canvas) target(w, h float64, size image.Point) (image.Point, bool) {
	round := func(v float64) int { return int(v + 0.5) }
	switch {
	case size.X <= 0 && size.Y <= 0:
		return image.Pt(round(w), round(h)), false
	case size.X <= 0:
		if !c.PreserveAspectRatio {
			return image.Pt(round(w), size.Y), true
		}
		return image.Pt(round(w*float64(size.Y)/h), size.Y), false
	case size.Y <= 0:
		if !c.PreserveAspectRatio {
			return image.Pt(size.X, round(h)), true
		}
		return image.Pt(size.X, round(h*float64(size.X)/w)), false
	}
	if !c.PreserveAspectRatio {
		return size, true
	}
	f := min(float64(size.X)/w, float64(size.Y)/h)
	return image.Pt(round(w*f), round(h*f)), false
}

// Peeker is a reader that can peek ahead.
type Peeker interface {
	Peek(n int) ([]byte, error)
}

// sniffLen is the number of bytes examined by IsSVG.
const sniffLen = 1024

// IsSVG returns whether the data held by r appears to be an SVG document.
// The document must start, after optional white space and byte order mark,
// with an svg element, or with an XML declaration, comment or doctype
// followed by an svg element within the first kilobyte.
func IsSVG(r Peeker) bool {
	b, _ := r.Peek(sniffLen)
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	b = bytes.TrimLeft(b, " \t\r\n")
	switch {
	case bytes.HasPrefix(b, []byte("<svg")):
		return true
	case bytes.HasPrefix(b, []byte("<?xml")), bytes.HasPrefix(b, []byte("<!")):
		return bytes.Contains(b, []byte("<svg"))
	default:
		return false
	}
}
