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
	"github.com/teleterm/teleterm/lib/web"
)

// WebCommand runs the HTTP/WebSocket bridge.
type WebCommand struct {
	cmd        *kingpin.CmdClause
	listenAddr string
}

// Initialize registers the command.
func (c *WebCommand) Initialize(app *kingpin.Application, flags *CLIFlags) {
	c.cmd = app.Command("web", "Run the web bridge.")
	c.cmd.Flag("listen-address", "Address to serve HTTP on.").
		StringVar(&c.listenAddr)
}

// TryRun runs the bridge until interrupted.
func (c *WebCommand) TryRun(ctx context.Context, selected string, fc *config.FileConfig) (bool, error) {
	if selected != c.cmd.FullCommand() {
		return false, nil
	}

	cfg, err := fc.WebConfig()
	if err != nil {
		return true, trace.Wrap(err)
	}
	if c.listenAddr != "" {
		cfg.ListenAddr = c.listenAddr
	}

	s, err := web.New(cfg)
	if err != nil {
		return true, trace.Wrap(err)
	}
	return true, trace.Wrap(s.Run(ctx))
}
