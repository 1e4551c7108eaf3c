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

package ttyrec

import (
	"context"
	"io"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/teleterm/teleterm/lib/defaults"
)

// Player replays a recording with its original timing.
type Player struct {
	// Speed is the playback speed multiplier; 2 plays twice as fast.
	// Zero means normal speed.
	Speed float64
	// MaxFrameDelay caps the pause between frames so long idle stretches
	// do not stall playback. Zero applies the default cap; negative
	// disables capping.
	MaxFrameDelay time.Duration
	// Clock overrides the wall clock in tests.
	Clock clockwork.Clock
}

// Play reads frames from r and writes each frame's data to w, pausing
// between frames to reproduce the recording's pacing.
func (p *Player) Play(ctx context.Context, r *Reader, w io.Writer) error {
	speed := p.Speed
	if speed == 0 {
		speed = defaults.PlaybackRatio
	}
	if speed < 0 {
		return trace.BadParameter("playback speed must be positive, got %v", speed)
	}
	maxDelay := p.MaxFrameDelay
	if maxDelay == 0 {
		maxDelay = defaults.PlaybackMaxFrameDelay
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var prev time.Time
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return trace.Wrap(err)
		}
		if !prev.IsZero() {
			delay := time.Duration(float64(frame.Time.Sub(prev)) / speed)
			if maxDelay > 0 && delay > maxDelay {
				delay = maxDelay
			}
			if delay > 0 {
				select {
				case <-clock.After(delay):
				case <-ctx.Done():
					return trace.Wrap(ctx.Err())
				}
			}
		}
		prev = frame.Time
		if _, err := w.Write(frame.Data); err != nil {
			return trace.ConvertSystemError(err)
		}
	}
}
