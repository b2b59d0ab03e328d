// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/kortschak/imagecraft/internal/animation"
	"github.com/kortschak/imagecraft/internal/config"
	"github.com/kortschak/imagecraft/internal/imageops"
	"github.com/kortschak/imagecraft/internal/policy"
)

// budgetOf returns the decode budget described by cfg.
func budgetOf(cfg *config.Config) animation.Budget {
	var b animation.Budget
	if cfg.Decode == nil {
		return b
	}
	b.MaxByteCount = cfg.Decode.MaxByteCount
	if cfg.Decode.MaxSize != nil {
		b.MaxSize = image.Pt(cfg.Decode.MaxSize.Width, cfg.Decode.MaxSize.Height)
	}
	return b
}

// policyOf returns the fidelity policy held by cfg, or nil if there
// is none.
func policyOf(cfg *config.Config) (*policy.Policy, error) {
	if cfg.Policy == "" {
		return nil, nil
	}
	p, err := policy.Compile(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return p, nil
}

// roundingOf returns the corner rounding options described by r. A nil r
// returns the zero Rounding.
func roundingOf(r *config.Render) (imageops.Rounding, error) {
	var opts imageops.Rounding
	if r == nil {
		return opts, nil
	}
	if r.Radius != nil {
		opts.Radius = radiusOf(r.Radius)
	}
	var err error
	opts.Corners, err = imageops.ParseCorners(r.Corners)
	if err != nil {
		return opts, err
	}
	if r.Background != "" {
		c, err := config.ParseColor(r.Background)
		if err != nil {
			return opts, fmt.Errorf("background: %w", err)
		}
		opts.Background = c
	}
	opts.BorderWidth = r.BorderWidth
	if r.BorderColor != "" {
		c, err := config.ParseColor(r.BorderColor)
		if err != nil {
			return opts, fmt.Errorf("border_color: %w", err)
		}
		opts.BorderColor = c
	}
	opts.Mode, err = imageops.ParseContentMode(r.ContentMode)
	return opts, err
}

func radiusOf(r *config.Radius) imageops.Radius {
	switch {
	case r.Point != nil:
		return imageops.Point(*r.Point)
	case r.WidthFraction != nil:
		return imageops.WidthFraction(*r.WidthFraction)
	case r.HeightFraction != nil:
		return imageops.HeightFraction(*r.HeightFraction)
	default:
		return imageops.Radius{}
	}
}

// parseRadius parses a command line radius of the form "8", "point:8",
// "width:0.1" or "height:0.1".
func parseRadius(s string) (imageops.Radius, error) {
	kind, val, ok := strings.Cut(s, ":")
	if !ok {
		kind, val = "point", s
	}
	v, err := strconv.ParseFloat(val, 64)
	if err != nil || v < 0 {
		return imageops.Radius{}, fmt.Errorf("invalid radius value: %q", val)
	}
	switch kind {
	case "point":
		return imageops.Point(v), nil
	case "width":
		if v > 0.5 {
			return imageops.Radius{}, fmt.Errorf("width fraction out of range: %v", v)
		}
		return imageops.WidthFraction(v), nil
	case "height":
		if v > 0.5 {
			return imageops.Radius{}, fmt.Errorf("height fraction out of range: %v", v)
		}
		return imageops.HeightFraction(v), nil
	default:
		return imageops.Radius{}, fmt.Errorf("invalid radius kind: %q", kind)
	}
}
