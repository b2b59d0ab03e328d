// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package animation provides decimated animated image decoding and playback.
package animation

import (
	"context"
	"image"

	"golang.org/x/image/draw"
)

// Animator is an image that can animate frames.
type Animator interface {
	// Animate renders the frames into dst and calls
	// fn on each rendered frame.
	Animate(ctx context.Context, dst draw.Image, fn func(image.Image) error) error
	image.Image
}

// Frames is a source of frame images indexed by original frame position.
type Frames interface {
	// Frame returns the image for the original frame index i,
	// or nil if the frame is not available.
	Frame(i int) image.Image
}
