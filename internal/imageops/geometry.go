// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package imageops

import (
	"image"
	"math"
)

// AspectRatio returns the width to height ratio of size. A zero height
// has an aspect ratio of 1.
func AspectRatio(size image.Point) float64 {
	if size.Y == 0 {
		return 1
	}
	return float64(size.X) / float64(size.Y)
}

// FitSize returns the size that content of size src takes when placed in
// a container of size target with the given content mode.
func FitSize(src, target image.Point, mode ContentMode) image.Point {
	if mode == None {
		return target
	}
	aspect := AspectRatio(src)
	w := int(math.Round(aspect * float64(target.Y)))
	h := int(math.Round(float64(target.X) / aspect))
	switch mode {
	case AspectFit:
		if w > target.X {
			return image.Pt(target.X, h)
		}
	case AspectFill:
		if w < target.X {
			return image.Pt(target.X, h)
		}
	}
	return image.Pt(w, target.Y)
}

// ConstrainedRect returns the rectangle of the given size within an image
// of size src positioned by anchor. An anchor of (0, 0) aligns the top-left
// corners and (1, 1) aligns the bottom-right corners. The result is
// clipped to the image.
func ConstrainedRect(src, size image.Point, anchor Anchor) image.Rectangle {
	ax := clamp(anchor.X, 0, 1)
	ay := clamp(anchor.Y, 0, 1)
	x := int(math.Round(ax*float64(src.X) - ax*float64(size.X)))
	y := int(math.Round(ay*float64(src.Y) - ay*float64(size.Y)))
	r := image.Rect(x, y, x+size.X, y+size.Y)
	return r.Intersect(image.Rectangle{Max: src})
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

// placement returns the offset of the visible part of an image of size src
// in a container, the size of the visible part and the factor relating
// container points to image pixels.
func placement(src, container image.Point, mode ContentMode) (offset image.Point, size image.Point, scale float64) {
	if container.X <= 0 || container.Y <= 0 {
		return image.Point{}, src, 1
	}
	w, h := float64(src.X), float64(src.Y)
	aspect := AspectRatio(container)
	var dx, dy float64
	scale = 1
	if aspect > AspectRatio(src) {
		switch mode {
		case AspectFill:
			dy = (h - w/aspect) / 2
			scale = w / float64(container.X)
		case AspectFit:
			scale = h / float64(container.Y)
		}
	} else {
		switch mode {
		case AspectFill:
			dx = (w - h*aspect) / 2
			scale = h / float64(container.Y)
		case AspectFit:
			scale = w / float64(container.X)
		}
	}
	offset = image.Pt(int(math.Round(dx)), int(math.Round(dy)))
	size = image.Pt(src.X-2*offset.X, src.Y-2*offset.Y)
	return offset, size, scale
}
