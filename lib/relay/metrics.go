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

package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	connectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teleterm_connected_clients",
			Help: "Number of client connections currently registered with the relay",
		},
	)
	activeStreamers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teleterm_active_streamers",
			Help: "Number of connections currently streaming a terminal",
		},
	)
	activeWatchers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teleterm_active_watchers",
			Help: "Number of connections currently watching a streamer",
		},
	)
	messagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teleterm_messages_received_total",
			Help: "Total messages received from clients",
		},
	)
	rateLimitTrips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teleterm_rate_limited_total",
			Help: "Total connections closed for exceeding the rate limit",
		},
	)
	readTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teleterm_timeouts_total",
			Help: "Total connections closed for exceeding the read timeout",
		},
	)
)

var relayCollectors = []prometheus.Collector{
	connectedClients,
	activeStreamers,
	activeWatchers,
	messagesReceived,
	rateLimitTrips,
	readTimeouts,
}
