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

//go:build unix

package relay

import (
	"github.com/gravitational/trace"
	"golang.org/x/sys/unix"
)

// dropPrivileges switches to the configured gid and uid, in that order so
// the group switch still has the privileges it needs. Called after the
// listener is bound; zero values leave the process credentials alone.
func dropPrivileges(uid, gid int) error {
	if gid != 0 {
		if err := unix.Setgid(gid); err != nil {
			return trace.Wrap(err, "setgid %v", gid)
		}
	}
	if uid != 0 {
		if err := unix.Setuid(uid); err != nil {
			return trace.Wrap(err, "setuid %v", uid)
		}
	}
	return nil
}
