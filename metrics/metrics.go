/*
SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics instruments the gRPC stream adapter and TLS channel with
// the same prometheus/client_golang primitives the router uses for its
// tunnel and session gauges/counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups every metric this module exports, registered together
// so a caller can attach them to either the default registry or a scoped
// one passed in from a larger process.
type Collectors struct {
	BytesIn            prometheus.Counter
	BytesOut           prometheus.Counter
	ActiveStreams      prometheus.Gauge
	StreamOpenTotal     prometheus.Counter
	StreamCloseTotal    *prometheus.CounterVec
	TLSHandshakeTotal   *prometheus.CounterVec
	TLSHandshakeSeconds prometheus.Histogram
}

// New constructs a fresh set of collectors without registering them.
func New() *Collectors {
	return &Collectors{
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mongodb_stream",
			Name:      "bytes_in_total",
			Help:      "Total plaintext bytes read from stream transports.",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mongodb_stream",
			Name:      "bytes_out_total",
			Help:      "Total plaintext bytes written to stream transports.",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mongodb_stream",
			Name:      "active_streams",
			Help:      "Number of currently open gRPC or TLS streams.",
		}),
		StreamOpenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mongodb_stream",
			Name:      "stream_open_total",
			Help:      "Total streams successfully opened.",
		}),
		StreamCloseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mongodb_stream",
			Name:      "stream_close_total",
			Help:      "Total streams closed, labelled by initiator.",
		}, []string{"initiator"}),
		TLSHandshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mongodb_stream",
			Name:      "tls_handshake_total",
			Help:      "Total TLS handshakes attempted, labelled by outcome.",
		}, []string{"outcome"}),
		TLSHandshakeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mongodb_stream",
			Name:      "tls_handshake_seconds",
			Help:      "TLS handshake latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// MustRegister registers every collector against reg, panicking on
// duplicate registration the same way the router registers its own
// collectors at startup.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.BytesIn,
		c.BytesOut,
		c.ActiveStreams,
		c.StreamOpenTotal,
		c.StreamCloseTotal,
		c.TLSHandshakeTotal,
		c.TLSHandshakeSeconds,
	)
}

// OnStreamOpened records a successful open.
func (c *Collectors) OnStreamOpened() {
	c.StreamOpenTotal.Inc()
	c.ActiveStreams.Inc()
}

// OnStreamClosed records a close, labelled by whether the local owner or
// the peer/listener initiated it.
func (c *Collectors) OnStreamClosed(initiator string) {
	c.ActiveStreams.Dec()
	c.StreamCloseTotal.WithLabelValues(initiator).Inc()
}

// OnHandshake records a completed handshake attempt and its latency.
func (c *Collectors) OnHandshake(outcome string, seconds float64) {
	c.TLSHandshakeTotal.WithLabelValues(outcome).Inc()
	c.TLSHandshakeSeconds.Observe(seconds)
}
