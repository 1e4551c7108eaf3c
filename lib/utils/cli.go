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

// Package utils carries the small helpers shared by the teleterm binaries.
package utils

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/teleterm/teleterm"
)

// LoggingPurpose tells InitLogger what kind of process is logging.
type LoggingPurpose int

const (
	// LoggingForCLI configures logging for short-lived command line
	// tools: no timestamps, warnings and up unless debug is on.
	LoggingForCLI LoggingPurpose = iota
	// LoggingForDaemon configures logging for the relay and other
	// long-running processes.
	LoggingForDaemon
)

// InitLogger installs the process-wide slog logger. Debug mode can also be
// forced with the TELETERM_DEBUG environment variable.
func InitLogger(purpose LoggingPurpose, level slog.Level) {
	if os.Getenv(teleterm.VerboseLogsEnvVar) != "" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if purpose == LoggingForCLI {
		// Timestamps are noise when the output goes straight to a
		// user's terminal.
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
}

// InitCLIParser configures a kingpin command line parser the way all
// teleterm tools expect it.
func InitCLIParser(appName, appHelp string) *kingpin.Application {
	app := kingpin.New(appName, appHelp)
	app.HelpFlag.Short('h')
	app.UsageWriter(os.Stderr)
	return app
}

// FatalError prints the error to stderr and exits with code 1.
func FatalError(err error) {
	fmt.Fprintln(os.Stderr, UserMessageFromError(err))
	os.Exit(1)
}

// UserMessageFromError returns a user-friendly representation of the
// error: the full debug report when debug logging is on, just the message
// otherwise.
func UserMessageFromError(err error) string {
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return trace.DebugReport(err)
	}
	return "ERROR: " + trace.UserMessage(err)
}

// PrintVersion prints the version banner.
func PrintVersion() {
	fmt.Printf("Teleterm v%v %v (%v/%v)\n", teleterm.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
