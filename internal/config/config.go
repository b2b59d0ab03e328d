// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides configuration loading, validation, unification
// and live reloading functions.
package config

import (
	"crypto/sha1"
	"fmt"
	"os"

	"github.com/kortschak/imagecraft/config"
)

// Alias the publicly visible types.
type (
	Config = config.Config
	Decode = config.Decode
	Size   = config.Size
	Render = config.Render
	Radius = config.Radius
	Server = config.Server
	Sum    = config.Sum
)

const (
	decodeName = "decode"
	renderName = "render"
	serverName = "server"
)

// Load returns the configuration held in the TOML file at path. The
// returned configuration is validated against [config.Schema] and has its
// Sum field set.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, sum, err := unmarshalConfig(sha1.New(), b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Sum = &sum
	_, err = Vet(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
