// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package imageops provides still image resizing, cropping, corner rounding
// and thumbnail downsampling.
package imageops

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
)

// Ops is the set of still image operations.
type Ops interface {
	// Resize returns img scaled to the size determined by
	// FitSize for the target size and content mode.
	Resize(img image.Image, size image.Point, mode ContentMode) image.Image
	// Crop returns the part of img of the given size positioned
	// by anchor. See ConstrainedRect.
	Crop(img image.Image, size image.Point, anchor Anchor) image.Image
	// RoundCorners returns img clipped to a rounded rectangle with
	// optional background and border.
	RoundCorners(img image.Image, opts Rounding) image.Image
}

// ContentMode specifies how content is placed in a container.
type ContentMode int

const (
	// None scales content to the container size without
	// regard to aspect ratio.
	None ContentMode = iota
	// AspectFit scales content to fit entirely within the
	// container, preserving aspect ratio.
	AspectFit
	// AspectFill scales content to fill the container,
	// preserving aspect ratio. Content may be clipped.
	AspectFill
)

func (m ContentMode) String() string {
	switch m {
	case None:
		return "none"
	case AspectFit:
		return "aspect_fit"
	case AspectFill:
		return "aspect_fill"
	default:
		return "ContentMode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseContentMode returns the ContentMode corresponding to the
// configuration name s. An empty string is None.
func ParseContentMode(s string) (ContentMode, error) {
	switch s {
	case "", "none":
		return None, nil
	case "aspect_fit":
		return AspectFit, nil
	case "aspect_fill":
		return AspectFill, nil
	default:
		return None, fmt.Errorf("invalid content mode: %q", s)
	}
}

// Anchor is a relative position within an image. Components are clamped
// to [0, 1] when used.
type Anchor struct {
	X, Y float64
}

// Center is the centre of an image.
var Center = Anchor{X: 0.5, Y: 0.5}

// Radius is a corner radius, either absolute or relative to an image
// dimension.
type Radius struct {
	kind  radiusKind
	value float64
}

type radiusKind int

const (
	pointRadius radiusKind = iota
	widthFraction
	heightFraction
)

// Point returns an absolute radius of v pixels.
func Point(v float64) Radius { return Radius{kind: pointRadius, value: v} }

// WidthFraction returns a radius that is the fraction f of the image width.
func WidthFraction(f float64) Radius { return Radius{kind: widthFraction, value: f} }

// HeightFraction returns a radius that is the fraction f of the image height.
func HeightFraction(f float64) Radius { return Radius{kind: heightFraction, value: f} }

// Compute returns the radius for an image of the given size.
func (r Radius) Compute(size image.Point) float64 {
	switch r.kind {
	case widthFraction:
		return float64(size.X) * r.value
	case heightFraction:
		return float64(size.Y) * r.value
	default:
		return r.value
	}
}

func (r Radius) String() string {
	v := strconv.FormatFloat(r.value, 'g', -1, 64)
	switch r.kind {
	case widthFraction:
		return "width_fraction(" + v + ")"
	case heightFraction:
		return "height_fraction(" + v + ")"
	default:
		return "point(" + v + ")"
	}
}

// Corner is a set of rectangle corners.
type Corner uint8

const (
	TopLeft Corner = 1 << iota
	TopRight
	BottomLeft
	BottomRight

	AllCorners = TopLeft | TopRight | BottomLeft | BottomRight
)

// ParseCorners returns the Corner set for the configuration names in
// corners. An empty list is AllCorners.
func ParseCorners(corners []string) (Corner, error) {
	if len(corners) == 0 {
		return AllCorners, nil
	}
	var c Corner
	for _, n := range corners {
		switch n {
		case "top_left":
			c |= TopLeft
		case "top_right":
			c |= TopRight
		case "bottom_left":
			c |= BottomLeft
		case "bottom_right":
			c |= BottomRight
		default:
			return 0, fmt.Errorf("invalid corner: %q", n)
		}
	}
	return c, nil
}

// Rounding holds the options for rounding image corners.
type Rounding struct {
	Radius Radius
	// Corners is the set of corners to round. If Corners
	// is zero, all corners are rounded.
	Corners Corner
	// Background is drawn behind the image. It is visible
	// outside the rounded corners. If Background is nil,
	// the area outside the corners is transparent.
	Background color.Color
	// BorderWidth is the visible width of the border drawn
	// inside the rounded edge.
	BorderWidth float64
	// BorderColor is the colour of the border. If it is
	// nil, white is used.
	BorderColor color.Color
	// Container is the size of the view the image will be
	// displayed in. If either dimension is zero, the image
	// size is used.
	Container image.Point
	// Mode is how the image is placed in the container.
	Mode ContentMode
}
