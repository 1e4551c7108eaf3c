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

// Package common implements the teleterm command line tool: the relay
// server, the streaming and watching clients, the ttyrec utilities, and
// the web bridge, behind one kingpin application.
package common

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/teleterm/teleterm"
	"github.com/teleterm/teleterm/lib/config"
	"github.com/teleterm/teleterm/lib/utils"
)

// CLICommand is one teleterm subcommand. Initialize registers the command
// and its flags; TryRun executes it if selected matches and reports
// whether it did.
type CLICommand interface {
	Initialize(app *kingpin.Application, flags *CLIFlags)
	TryRun(ctx context.Context, selected string, fc *config.FileConfig) (bool, error)
}

// CLIFlags are the global flags shared by every subcommand.
type CLIFlags struct {
	// ConfigPath is an explicit config file location.
	ConfigPath string
	// Debug enables verbose logging.
	Debug bool
}

// Run parses the command line and executes the selected command. It only
// returns on success; failures exit with code 1.
func Run(args []string) {
	var flags CLIFlags
	app := utils.InitCLIParser("teleterm", "Share terminal sessions through a central relay.")
	app.Flag("config", "Path to the config file.").
		Short('c').Envar(teleterm.ConfigFileEnvVar).StringVar(&flags.ConfigPath)
	app.Flag("debug", "Enable verbose logging to stderr.").
		Short('d').BoolVar(&flags.Debug)
	versionCmd := app.Command("version", "Print the version and exit.")

	commands := []CLICommand{
		&ServerCommand{},
		&StreamCommand{},
		&WatchCommand{},
		&RecordCommand{},
		&PlayCommand{},
		&WebCommand{},
	}
	for _, command := range commands {
		command.Initialize(app, &flags)
	}

	selected := kingpin.MustParse(app.Parse(args))
	if selected == versionCmd.FullCommand() {
		utils.PrintVersion()
		return
	}

	purpose := utils.LoggingForCLI
	level := slog.LevelWarn
	switch selected {
	case "server", "web":
		purpose = utils.LoggingForDaemon
		level = slog.LevelInfo
	}
	if flags.Debug {
		level = slog.LevelDebug
	}
	utils.InitLogger(purpose, level)

	fc, err := config.Load(flags.ConfigPath)
	if err != nil {
		utils.FatalError(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, command := range commands {
		match, err := command.TryRun(ctx, selected, fc)
		if err != nil {
			utils.FatalError(err)
		}
		if match {
			return
		}
	}
}
