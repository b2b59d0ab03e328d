// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package imageops

import (
	"fmt"
	"image"
	"io"
	"math"

	"golang.org/x/image/draw"

	// Registered still image decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Downsample decodes the first image in r and scales it so that its longest
// side is at most maxPixel pixels. Images are never scaled up. If maxPixel
// is not positive, the decoded image is returned unscaled. The format name
// of the decoded image is also returned.
func Downsample(r io.Reader, maxPixel int) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	longest := max(b.Dx(), b.Dy())
	if maxPixel <= 0 || longest <= maxPixel {
		return img, format, nil
	}
	f := float64(maxPixel) / float64(longest)
	size := image.Pt(
		max(1, int(math.Round(float64(b.Dx())*f))),
		max(1, int(math.Round(float64(b.Dy())*f))),
	)
	dst := image.NewRGBA(image.Rectangle{Max: size})
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, format, nil
}
