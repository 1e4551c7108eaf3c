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

// Package term runs a subprocess under a pseudo-terminal with the local
// terminal in raw mode, mirroring output locally and to any number of
// extra sinks. The stream command sinks into a relay session, the record
// command into a ttyrec file.
package term

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"

	"github.com/creack/pty"
	"github.com/gravitational/trace"
	"golang.org/x/term"

	"github.com/teleterm/teleterm/lib/protocol"
)

// Config holds PTY runner parameters.
type Config struct {
	// Command is the program to run. Defaults to $SHELL, then /bin/sh.
	Command string
	// Args are the program arguments.
	Args []string
	// Stdin is the local terminal input. Defaults to os.Stdin. Raw mode
	// and size tracking only happen when it is a real terminal.
	Stdin *os.File
	// Stdout is the local terminal output. Defaults to os.Stdout.
	Stdout io.Writer
	// Sinks receive a copy of everything the subprocess writes.
	Sinks []io.Writer
	// OnResize is called with the new size after the pty has been resized
	// to follow the local terminal.
	OnResize func(protocol.Size)
	// Logger overrides the default logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Command == "" {
		c.Command = os.Getenv("SHELL")
	}
	if c.Command == "" {
		c.Command = "/bin/sh"
	}
	if c.Stdin == nil {
		c.Stdin = os.Stdin
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Size reports the current size of the terminal behind f.
func Size(f *os.File) (protocol.Size, error) {
	cols, rows, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return protocol.Size{}, trace.Wrap(err)
	}
	return protocol.Size{Rows: uint16(rows), Cols: uint16(cols)}, nil
}

// Run starts the subprocess on a fresh pty and pumps bytes until it
// exits: local input goes to the pty, pty output goes to the local
// terminal and every sink. The local terminal follows window size changes
// and stays usable afterwards (raw mode is restored).
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return trace.Wrap(err, "starting %v on a pty", cfg.Command)
	}
	defer ptmx.Close()

	if term.IsTerminal(int(cfg.Stdin.Fd())) {
		resizeCh := make(chan os.Signal, 1)
		notifyResize(resizeCh)
		defer signal.Stop(resizeCh)
		done := make(chan struct{})
		defer close(done)
		resize := func() {
			if err := pty.InheritSize(cfg.Stdin, ptmx); err != nil {
				cfg.Logger.Debug("Failed to resize pty", "error", err)
				return
			}
			if cfg.OnResize != nil {
				if size, err := Size(cfg.Stdin); err == nil {
					cfg.OnResize(size)
				}
			}
		}
		resize()
		go func() {
			for {
				select {
				case <-resizeCh:
					resize()
				case <-done:
					return
				}
			}
		}()

		restore, err := term.MakeRaw(int(cfg.Stdin.Fd()))
		if err != nil {
			return trace.Wrap(err, "putting terminal in raw mode")
		}
		defer term.Restore(int(cfg.Stdin.Fd()), restore)
	}

	// The subprocess exiting closes the pty, which ends the output copy.
	// The input copy is left to die with the process.
	go io.Copy(ptmx, cfg.Stdin)

	writers := append([]io.Writer{cfg.Stdout}, cfg.Sinks...)
	if _, err := io.Copy(io.MultiWriter(writers...), ptmx); err != nil {
		// Reading the pty after the child exits fails with EIO on Linux;
		// that is the normal end of the session, not a failure.
		cfg.Logger.Debug("PTY copy ended", "error", err)
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return trace.Wrap(err)
		}
		// The child's exit status is its own business.
	}
	return nil
}
