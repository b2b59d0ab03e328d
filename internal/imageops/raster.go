// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package imageops

import (
	"image"
	"image/color"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"golang.org/x/image/draw"
)

// Raster implements Ops on raster images.
type Raster struct {
	// Interpolator is used for scaling. If it is nil,
	// draw.BiLinear is used.
	Interpolator draw.Interpolator
}

var _ Ops = Raster{}

func (r Raster) interpolator() draw.Interpolator {
	if r.Interpolator == nil {
		return draw.BiLinear
	}
	return r.Interpolator
}

// Resize returns img scaled to FitSize(img size, size, mode). If the
// resulting size is empty or unchanged, img is returned.
func (r Raster) Resize(img image.Image, size image.Point, mode ContentMode) image.Image {
	b := img.Bounds()
	target := FitSize(b.Size(), size, mode)
	if target.X <= 0 || target.Y <= 0 || target == b.Size() {
		return img
	}
	dst := image.NewRGBA(image.Rectangle{Max: target})
	r.interpolator().Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Crop returns a copy of the part of img selected by ConstrainedRect.
func (Raster) Crop(img image.Image, size image.Point, anchor Anchor) image.Image {
	b := img.Bounds()
	rect := ConstrainedRect(b.Size(), size, anchor)
	dst := image.NewRGBA(image.Rectangle{Max: rect.Size()})
	draw.Draw(dst, dst.Bounds(), img, b.Min.Add(rect.Min), draw.Src)
	return dst
}

// RoundCorners returns img clipped to a rounded rectangle. When a
// container is given, the visible part of the image is determined by the
// container's aspect ratio and opts.Mode, and the radius and border width
// are scaled from container points to image pixels.
func (Raster) RoundCorners(img image.Image, opts Rounding) image.Image {
	b := img.Bounds()
	offset, size, scale := placement(b.Size(), opts.Container, opts.Mode)
	dst := image.NewRGBA(image.Rectangle{Max: size})
	if size.X <= 0 || size.Y <= 0 {
		return dst
	}
	if opts.Background != nil {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(opts.Background), image.Point{}, draw.Src)
	}

	corners := opts.Corners
	if corners == 0 {
		corners = AllCorners
	}
	radius := opts.Radius.Compute(b.Size()) * scale
	radius = clamp(radius, 0, float64(min(size.X, size.Y))/2)
	path := roundedRect(float64(size.X), float64(size.Y), radius, corners)

	mask := rasterize(size, func(ctx *canvas.Context) {
		ctx.SetFillColor(canvas.White)
		ctx.DrawPath(0, 0, path)
	})
	draw.DrawMask(dst, dst.Bounds(), img, b.Min.Add(offset), mask, image.Point{}, draw.Over)

	if opts.BorderWidth > 0 {
		border := opts.BorderColor
		if border == nil {
			border = color.White
		}
		// The stroke is centred on the edge and clipped by
		// the mask, so twice the width is stroked.
		stroke := rasterize(size, func(ctx *canvas.Context) {
			ctx.SetFillColor(canvas.Transparent)
			ctx.SetStrokeColor(border)
			ctx.SetStrokeWidth(2 * opts.BorderWidth * scale)
			ctx.DrawPath(0, 0, path)
		})
		draw.DrawMask(dst, dst.Bounds(), stroke, image.Point{}, mask, image.Point{}, draw.Over)
	}
	return dst
}

// rasterize returns the image drawn by fn on a canvas of the given size
// in pixels.
func rasterize(size image.Point, fn func(*canvas.Context)) *image.RGBA {
	c := canvas.New(float64(size.X), float64(size.Y))
	fn(canvas.NewContext(c))
	return rasterizer.Draw(c, canvas.DPMM(1), canvas.DefaultColorSpace)
}

// kappa is the cubic Bézier control point distance for a quarter circle
// of unit radius.
var kappa = 4 * (math.Sqrt2 - 1) / 3

// roundedRect returns a w×h rectangle path with the given corners rounded
// to radius r. The path is in canvas coordinates with the origin at the
// bottom-left.
func roundedRect(w, h, r float64, corners Corner) *canvas.Path {
	rad := func(c Corner) float64 {
		if corners&c != 0 {
			return r
		}
		return 0
	}
	bl, br, tr, tl := rad(BottomLeft), rad(BottomRight), rad(TopRight), rad(TopLeft)

	p := &canvas.Path{}
	p.MoveTo(bl, 0)
	p.LineTo(w-br, 0)
	if br > 0 {
		p.CubeTo(w-br+kappa*br, 0, w, br-kappa*br, w, br)
	}
	p.LineTo(w, h-tr)
	if tr > 0 {
		p.CubeTo(w, h-tr+kappa*tr, w-tr+kappa*tr, h, w-tr, h)
	}
	p.LineTo(tl, h)
	if tl > 0 {
		p.CubeTo(tl-kappa*tl, h, 0, h-tl+kappa*tl, 0, h-tl)
	}
	p.LineTo(0, bl)
	if bl > 0 {
		p.CubeTo(0, bl-kappa*bl, bl-kappa*bl, 0, bl, 0)
	}
	p.Close()
	return p
}
