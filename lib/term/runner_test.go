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

package term

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// syncBuffer makes a bytes.Buffer safe to share between the runner's
// output pump and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunCapturesOutput(t *testing.T) {
	stdin, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer stdin.Close()

	var local, sink syncBuffer
	err = Run(context.Background(), Config{
		Command: "sh",
		Args:    []string{"-c", "printf 'from the pty'"},
		Stdin:   stdin,
		Stdout:  &local,
		Sinks:   []io.Writer{&sink},
	})
	require.NoError(t, err)

	require.Contains(t, local.String(), "from the pty")
	require.Contains(t, sink.String(), "from the pty")
}

func TestRunNonzeroExitIsNotAnError(t *testing.T) {
	stdin, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer stdin.Close()

	var out syncBuffer
	err = Run(context.Background(), Config{
		Command: "sh",
		Args:    []string{"-c", "exit 3"},
		Stdin:   stdin,
		Stdout:  &out,
	})
	require.NoError(t, err)
}

func TestRunMissingCommand(t *testing.T) {
	stdin, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer stdin.Close()

	var out syncBuffer
	err = Run(context.Background(), Config{
		Command: "/does/not/exist",
		Stdin:   stdin,
		Stdout:  &out,
	})
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	t.Setenv("SHELL", "/bin/zsh")
	cfg := Config{}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, "/bin/zsh", cfg.Command)
	require.Equal(t, os.Stdin, cfg.Stdin)
	require.NotNil(t, cfg.Stdout)
	require.NotNil(t, cfg.Logger)

	t.Setenv("SHELL", "")
	cfg = Config{}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, "/bin/sh", cfg.Command)
}
