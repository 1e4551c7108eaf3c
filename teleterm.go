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

// Package teleterm holds constants shared across the whole project.
package teleterm

// Version is the current release version, set at build time via ldflags for
// release builds.
var Version = "0.3.0-dev"

const (
	// ComponentKey is the log field used to report the subsystem emitting
	// a log line.
	ComponentKey = "component"

	// ComponentRelay is the relay server orchestrator.
	ComponentRelay = "relay"

	// ComponentConn is a single relay connection (read/write pumps and
	// state machine).
	ComponentConn = "conn"

	// ComponentOauth is the OAuth mediator.
	ComponentOauth = "oauth"

	// ComponentClient is the reconnecting protocol client used by the
	// stream/watch commands and the web bridge.
	ComponentClient = "client"

	// ComponentWeb is the HTTP/WebSocket bridge.
	ComponentWeb = "web"

	// ComponentTTYRec is the ttyrec recorder/player.
	ComponentTTYRec = "ttyrec"
)

const (
	// VerboseLogsEnvVar forces debug logging when set to a truthy value.
	VerboseLogsEnvVar = "TELETERM_DEBUG"

	// ConfigFileEnvVar overrides the config file location.
	ConfigFileEnvVar = "TELETERM_CONFIG_FILE"
)
