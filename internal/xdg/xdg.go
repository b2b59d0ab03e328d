// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xdg provides functions for locating the per-user configuration,
// state and runtime directories used by the imagecraft service.
package xdg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Kind is a class of per-user directory.
type Kind int

const (
	Config  Kind = iota // XDG_CONFIG_HOME
	State               // XDG_STATE_HOME
	Runtime             // XDG_RUNTIME_DIR
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case State:
		return "state"
	case Runtime:
		return "runtime"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Home returns the base directory for the kind of directory.
func Home(kind Kind) (string, bool) {
	switch kind {
	case Config:
		return envOrDefault(key_XDG_CONFIG_HOME, def_XDG_CONFIG_HOME, _HOME)
	case State:
		return envOrDefault(key_XDG_STATE_HOME, def_XDG_STATE_HOME, _HOME)
	case Runtime:
		return envOrDefault(key_XDG_RUNTIME_DIR, def_XDG_RUNTIME_DIR, _HOME)
	default:
		return "", false
	}
}

// Dir returns the path to the named directory within the base directory
// for kind, creating it with user-only permissions if it does not exist.
func Dir(kind Kind, name string) (string, error) {
	base, ok := Home(kind)
	if !ok {
		return "", fmt.Errorf("no xdg %s directory", kind)
	}
	path := filepath.Join(base, name)
	fi, err := os.Stat(path)
	switch {
	case err == nil:
		if !fi.IsDir() {
			return "", fmt.Errorf("%s is not a directory", path)
		}
		return path, nil
	case errors.Is(err, os.ErrNotExist):
		err = os.MkdirAll(path, 0o700)
		if err != nil {
			return "", fmt.Errorf("failed to create %s directory: %w", kind, err)
		}
		return path, nil
	default:
		return "", err
	}
}

// envOrDefault return the path corresponding to the provided key and
// default. If home is empty or the default is absolute, the default is
// returned unaltered, otherwise the default is returned relative to home.
func envOrDefault(key, def, home string) (string, bool) {
	if key != "" {
		val, ok := os.LookupEnv(key)
		if ok {
			return val, true
		}
	}
	if def == "" {
		return "", false
	}
	if home == "" || filepath.IsAbs(def) {
		return def, true
	}
	base, ok := os.LookupEnv(home)
	if !ok {
		return "", false
	}
	return filepath.Join(base, def), true
}
