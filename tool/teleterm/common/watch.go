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
	"strconv"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/teleterm/teleterm/lib/asciitable"
	"github.com/teleterm/teleterm/lib/client"
	"github.com/teleterm/teleterm/lib/config"
	"github.com/teleterm/teleterm/lib/protocol"
)

// WatchCommand attaches to a streaming session and renders it locally,
// or lists the sessions available to watch.
type WatchCommand struct {
	cmd *kingpin.CmdClause
	id  string
}

// Initialize registers the command.
func (c *WatchCommand) Initialize(app *kingpin.Application, flags *CLIFlags) {
	c.cmd = app.Command("watch", "Watch a session, or list sessions when no id is given.")
	c.cmd.Arg("session-id", "Session to watch.").StringVar(&c.id)
}

// TryRun lists or watches.
func (c *WatchCommand) TryRun(ctx context.Context, selected string, fc *config.FileConfig) (bool, error) {
	if selected != c.cmd.FullCommand() {
		return false, nil
	}

	clientCfg, err := fc.ClientConfig()
	if err != nil {
		return true, trace.Wrap(err)
	}
	if size, err := termSizeOrDefault(); err == nil {
		clientCfg.Size = size
	}

	if c.id == "" {
		return true, trace.Wrap(listSessions(ctx, clientCfg))
	}
	return true, trace.Wrap(watchSession(ctx, clientCfg, c.id))
}

func termSizeOrDefault() (protocol.Size, error) {
	cols, rows, err := term.GetSize(int(os.Stdin.Fd()))
	if err != nil {
		return protocol.Size{Rows: 24, Cols: 80}, trace.Wrap(err)
	}
	return protocol.Size{Rows: uint16(rows), Cols: uint16(cols)}, nil
}

func listSessions(ctx context.Context, cfg client.Config) error {
	conn, err := client.Connect(ctx, cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	defer conn.Close()

	sessions, err := conn.ListSessions()
	if err != nil {
		return trace.Wrap(err)
	}
	if len(sessions) == 0 {
		fmt.Println("no active sessions")
		return nil
	}

	table := asciitable.MakeTable([]string{"ID", "User", "Size", "Idle", "Watchers", "Title"})
	for _, session := range sessions {
		table.AddRow([]string{
			session.ID,
			session.Username,
			session.Size.String(),
			fmt.Sprintf("%ds", session.IdleSeconds),
			strconv.FormatUint(uint64(session.Watchers), 10),
			session.Title,
		})
	}
	fmt.Print(table.String())
	return nil
}

func watchSession(ctx context.Context, cfg client.Config, id string) error {
	session, err := client.NewSession(client.SessionConfig{
		Config:  cfg,
		OnLogin: []protocol.Message{&protocol.StartWatching{ID: id}},
	})
	if err != nil {
		return trace.Wrap(err)
	}

	// Raw mode keeps keystrokes from echoing over the watched screen.
	restore, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err == nil {
		defer term.Restore(int(os.Stdin.Fd()), restore)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return trace.Wrap(session.Run(gctx))
	})
	// q or ctrl-c detaches.
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := os.Stdin.Read(buf); err != nil {
				return
			}
			if buf[0] == 'q' || buf[0] == 0x03 {
				cancel()
				return
			}
		}
	}()

	err = renderEvents(gctx, session)
	cancel()
	if waitErr := g.Wait(); err == nil {
		err = waitErr
	}
	return trace.Wrap(err)
}

func renderEvents(ctx context.Context, session *client.Session) error {
	for {
		select {
		case ev := <-session.Events():
			switch ev.Kind {
			case client.EventConnected:
				// The catch-up replay assumes a cleared terminal.
				fmt.Print("\x1b[2J\x1b[H")
			case client.EventMessage:
				switch m := ev.Message.(type) {
				case *protocol.TerminalOutput:
					os.Stdout.Write(m.Data)
				case *protocol.Disconnected:
					fmt.Print("\r\nsession ended\r\n")
					return nil
				case *protocol.Error:
					return trace.Errorf("relay error: %v", m.Msg)
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}
