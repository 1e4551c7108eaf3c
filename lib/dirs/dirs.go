// Teleterm
// Copyright (C) 2025  Teleterm Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package dirs resolves per-user config and data directories for teleterm.
package dirs

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/gravitational/trace"
)

const appDir = "teleterm"

// Config returns the directory teleterm reads its configuration from,
// typically ~/.config/teleterm on Linux.
func Config() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", trace.Wrap(err)
	}
	return filepath.Join(base, appDir), nil
}

// Data returns the directory teleterm keeps its state in, such as cached
// oauth tokens. Typically ~/.local/share/teleterm on Linux.
func Data() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appDir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", trace.Wrap(err)
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appDir), nil
	}
	return filepath.Join(home, ".local", "share", appDir), nil
}

// EnsureData returns the data directory, creating it with owner-only
// permissions if needed. Cached tokens live here, hence the tight mode.
func EnsureData() (string, error) {
	dir, err := Data()
	if err != nil {
		return "", trace.Wrap(err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", trace.ConvertSystemError(err)
	}
	return dir, nil
}
