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

package common

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/teleterm/teleterm/lib/config"
	"github.com/teleterm/teleterm/lib/term"
	"github.com/teleterm/teleterm/lib/ttyrec"
)

// RecordCommand runs a shell under a pty and records it to a ttyrec file.
type RecordCommand struct {
	cmd      *kingpin.CmdClause
	filename string
	command  []string
}

// Initialize registers the command.
func (c *RecordCommand) Initialize(app *kingpin.Application, flags *CLIFlags) {
	c.cmd = app.Command("record", "Record a terminal session to a ttyrec file.")
	c.cmd.Flag("filename", "File to record to.").StringVar(&c.filename)
	c.cmd.Arg("command", "Command to run instead of the shell.").StringsVar(&c.command)
}

// TryRun records until the subprocess exits.
func (c *RecordCommand) TryRun(ctx context.Context, selected string, fc *config.FileConfig) (bool, error) {
	if selected != c.cmd.FullCommand() {
		return false, nil
	}

	filename := fc.TTYRecFilename(c.filename)
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return true, trace.ConvertSystemError(err)
	}
	defer f.Close()

	termCfg := term.Config{
		Sinks: []io.Writer{ttyrec.NewWriter(f, clockwork.NewRealClock())},
	}
	if len(c.command) > 0 {
		termCfg.Command = c.command[0]
		termCfg.Args = c.command[1:]
	}
	return true, trace.Wrap(term.Run(ctx, termCfg))
}

// PlayCommand replays a ttyrec file to the local terminal.
type PlayCommand struct {
	cmd           *kingpin.CmdClause
	filename      string
	speed         float64
	maxFrameDelay time.Duration
}

// Initialize registers the command.
func (c *PlayCommand) Initialize(app *kingpin.Application, flags *CLIFlags) {
	c.cmd = app.Command("play", "Replay a ttyrec recording.")
	c.cmd.Flag("filename", "File to replay.").StringVar(&c.filename)
	c.cmd.Flag("playback-ratio", "Playback speed multiplier.").
		Default("1").Float64Var(&c.speed)
	c.cmd.Flag("max-frame-delay", "Longest pause between frames.").
		DurationVar(&c.maxFrameDelay)
}

// TryRun replays the file.
func (c *PlayCommand) TryRun(ctx context.Context, selected string, fc *config.FileConfig) (bool, error) {
	if selected != c.cmd.FullCommand() {
		return false, nil
	}

	filename := fc.TTYRecFilename(c.filename)
	f, err := os.Open(filename)
	if err != nil {
		return true, trace.ConvertSystemError(err)
	}
	defer f.Close()

	player := &ttyrec.Player{Speed: c.speed, MaxFrameDelay: c.maxFrameDelay}
	return true, trace.Wrap(player.Play(ctx, ttyrec.NewReader(f), os.Stdout))
}
