// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides imagecraft configuration types and schemas.
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Config is a complete configuration.
type Config struct {
	LogLevel  *slog.Level `json:"log_level,omitempty" toml:"log_level"`
	AddSource *bool       `json:"log_add_source,omitempty" toml:"log_add_source"`
	// Policy is the CEL fidelity policy expression.
	Policy string `json:"policy,omitempty" toml:"policy"`
	// Store is the path to the plan cache database. If
	// Store is empty, plans are not cached.
	Store string `json:"store,omitempty" toml:"store"`

	Decode *Decode `json:"decode,omitempty" toml:"decode"`
	Render *Render `json:"render,omitempty" toml:"render"`
	Server *Server `json:"server,omitempty" toml:"server"`

	Sum *Sum `json:"sum,omitempty"`
}

// Decode is the animation decode budget configuration.
type Decode struct {
	// MaxByteCount is the maximum number of encoded bytes
	// and retained frame pixel bytes. Zero is unlimited.
	MaxByteCount int64 `json:"max_byte_count,omitempty" toml:"max_byte_count"`
	// MaxSize is the largest retained frame size.
	MaxSize *Size `json:"max_size,omitempty" toml:"max_size"`
}

// Size is an image size in pixels. A zero dimension is unconstrained.
type Size struct {
	Width  int `json:"width" toml:"width"`
	Height int `json:"height" toml:"height"`
}

// Render is the still image rendering configuration.
type Render struct {
	// Radius is the corner radius. At most one field
	// may be set.
	Radius *Radius `json:"radius,omitempty" toml:"radius"`
	// Corners is the set of corners to round; any of
	// "top_left", "top_right", "bottom_left" and
	// "bottom_right". If Corners is empty, all corners
	// are rounded.
	Corners []string `json:"corners,omitempty" toml:"corners"`
	// Background is the web colour drawn behind the
	// rounded image. An empty background is transparent.
	Background  string  `json:"background,omitempty" toml:"background"`
	BorderWidth float64 `json:"border_width,omitempty" toml:"border_width"`
	BorderColor string  `json:"border_color,omitempty" toml:"border_color"`
	// ContentMode is how an image is placed in its
	// container; "none", "aspect_fit" or "aspect_fill".
	ContentMode string `json:"content_mode,omitempty" toml:"content_mode"`
}

// Radius is a corner radius specification.
type Radius struct {
	Point          *float64 `json:"point,omitempty" toml:"point"`
	WidthFraction  *float64 `json:"width_fraction,omitempty" toml:"width_fraction"`
	HeightFraction *float64 `json:"height_fraction,omitempty" toml:"height_fraction"`
}

// Server is the plan service configuration.
type Server struct {
	// Network is the network the service listens on.
	Network string `json:"network,omitempty" toml:"network"`
	// Addr is the listen address. For unix networks an
	// empty address uses a socket in the runtime directory.
	Addr string `json:"addr,omitempty" toml:"addr"`
	// Metrics is the HTTP address for serving metrics. If
	// Metrics is empty no metrics are served.
	Metrics string `json:"metrics,omitempty" toml:"metrics"`
}

// Schema is the schema for a valid configuration.
const Schema = `
{
	log_level?:      _#log_level
	log_add_source?: bool
	policy?:         string
	store?:          string
	decode?:         _#decode
	render?:         _#render
	server?:         _#server
}

_#decode: {
	max_byte_count?: int & >=0
	max_size?:       {
		width:  int & >=0
		height: int & >=0
	}
}

_#render: {
	radius?:       _#radius
	corners?:      [... _#corner]
	background?:   _#web_color
	border_width?: number & >=0
	border_color?: _#web_color
	content_mode?: "none" | "aspect_fit" | "aspect_fill"
}

_#radius: {point: number & >=0} | {width_fraction: number & >=0 & <=0.5} | {height_fraction: number & >=0 & <=0.5}
_#corner: "top_left" | "top_right" | "bottom_left" | "bottom_right"

_#server: {
	network?: "tcp" | "unix"
	addr?:    string
	metrics?: string
}

_#web_color: =~"^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$"
_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
`

// Sum is a comparable optional SHA-1 sum.
type Sum [sha1.Size]byte

// Equal returns whether s is equal to other.
func (s *Sum) Equal(other *Sum) bool {
	switch {
	case s == other:
		return true
	case s != nil && other != nil:
		return *s == *other
	default:
		return false
	}
}

func (s *Sum) String() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s[:])
}

func (s *Sum) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(s)) {
		return fmt.Errorf("invalid length: %d != %d", len(text), hex.EncodedLen(len(s)))
	}
	_, err := hex.Decode(s[:], text)
	if err != nil {
		return err
	}
	return nil
}

func (s *Sum) MarshalText() (text []byte, err error) {
	if s == nil {
		return nil, nil
	}
	text = make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(text, s[:])
	return text, nil
}
