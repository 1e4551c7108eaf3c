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
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"

	"github.com/teleterm/teleterm/lib/client"
	"github.com/teleterm/teleterm/lib/config"
	"github.com/teleterm/teleterm/lib/protocol"
	"github.com/teleterm/teleterm/lib/term"
)

// StreamCommand runs a shell under a pty and streams it to the relay.
type StreamCommand struct {
	cmd     *kingpin.CmdClause
	command []string
}

// Initialize registers the command.
func (c *StreamCommand) Initialize(app *kingpin.Application, flags *CLIFlags) {
	c.cmd = app.Command("stream", "Stream a terminal session through the relay.")
	c.cmd.Arg("command", "Command to run instead of the shell.").StringsVar(&c.command)
}

// TryRun streams until the subprocess exits.
func (c *StreamCommand) TryRun(ctx context.Context, selected string, fc *config.FileConfig) (bool, error) {
	if selected != c.cmd.FullCommand() {
		return false, nil
	}

	clientCfg, err := fc.ClientConfig()
	if err != nil {
		return true, trace.Wrap(err)
	}
	size, err := term.Size(os.Stdin)
	if err != nil {
		return true, trace.Wrap(err, "teleterm stream needs a terminal")
	}
	clientCfg.Size = size

	session, err := client.NewSession(client.SessionConfig{
		Config:  clientCfg,
		OnLogin: []protocol.Message{&protocol.StartStreaming{}},
	})
	if err != nil {
		return true, trace.Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return trace.Wrap(session.Run(gctx))
	})
	g.Go(func() error {
		for {
			select {
			case ev := <-session.Events():
				if ev.Kind == client.EventConnected {
					fmt.Fprintf(os.Stderr, "streaming as %s\r\n", ev.Username)
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	var termCfg term.Config
	if len(c.command) > 0 {
		termCfg.Command = c.command[0]
		termCfg.Args = c.command[1:]
	}
	termCfg.Sinks = append(termCfg.Sinks, &sessionSink{ctx: gctx, session: session})
	termCfg.OnResize = func(size protocol.Size) {
		session.Send(gctx, &protocol.Resize{Size: size})
	}

	runErr := term.Run(gctx, termCfg)
	cancel()
	if err := g.Wait(); runErr == nil {
		runErr = err
	}
	return true, trace.Wrap(runErr)
}

// sessionSink adapts a relay session to the pty runner's output sink.
type sessionSink struct {
	ctx     context.Context
	session *client.Session
}

func (s *sessionSink) Write(p []byte) (int, error) {
	// The session queues the message, so it cannot borrow the runner's
	// buffer.
	data := append([]byte(nil), p...)
	if err := s.session.Send(s.ctx, &protocol.TerminalOutput{Data: data}); err != nil {
		return 0, err
	}
	return len(p), nil
}
