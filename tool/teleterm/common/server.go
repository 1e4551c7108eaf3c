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

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/teleterm/teleterm/lib/config"
	"github.com/teleterm/teleterm/lib/relay"
)

// ServerCommand runs the relay server.
type ServerCommand struct {
	cmd        *kingpin.CmdClause
	listenAddr string
}

// Initialize registers the command.
func (c *ServerCommand) Initialize(app *kingpin.Application, flags *CLIFlags) {
	c.cmd = app.Command("server", "Run the relay server.")
	c.cmd.Flag("listen-address", "Address to accept client connections on.").
		StringVar(&c.listenAddr)
}

// TryRun runs the relay until interrupted.
func (c *ServerCommand) TryRun(ctx context.Context, selected string, fc *config.FileConfig) (bool, error) {
	if selected != c.cmd.FullCommand() {
		return false, nil
	}

	cfg, err := fc.RelayConfig()
	if err != nil {
		return true, trace.Wrap(err)
	}
	if c.listenAddr != "" {
		cfg.ListenAddr = c.listenAddr
	}

	r, err := relay.New(cfg)
	if err != nil {
		return true, trace.Wrap(err)
	}
	return true, trace.Wrap(r.Run(ctx))
}
