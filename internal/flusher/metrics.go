// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package flusher

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the counters and histograms named in the tunables list.
// Every method is nil-safe so callers that don't care about metrics can
// pass a nil *Metrics, the same way the teacher's churn package is an
// opt-in Enable(cfg) rather than a mandatory dependency.
type Metrics struct {
	FlusherDead      prometheus.Counter
	Backpressure     prometheus.Counter
	HardBackpressure prometheus.Counter
	EmptySegments    prometheus.Counter
	SegmentSizeBytes prometheus.Histogram
	Drift            prometheus.Histogram
}

// NewMetrics builds and registers the flusher's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FlusherDead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segflusher_flusher_dead_total",
			Help: "Number of times Submit observed the worker process/goroutine not alive.",
		}),
		Backpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segflusher_backpressure_total",
			Help: "Number of messages rejected because the worker could not keep up with flush volume.",
		}),
		HardBackpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segflusher_hard_backpressure_total",
			Help: "Number of messages rejected because the buffer's memory usage exceeded the configured threshold.",
		}),
		EmptySegments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segflusher_empty_segments_total",
			Help: "Number of flushed segments with zero spans.",
		}),
		SegmentSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "segflusher_segment_size_bytes",
			Help:    "Size in bytes of each published segment payload.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}),
		Drift: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "segflusher_drift_seconds",
			Help:    "Producer-clock drift observed on each Submit carrying a producer timestamp.",
			Buckets: prometheus.LinearBuckets(-30, 5, 13),
		}),
	}
	reg.MustRegister(m.FlusherDead, m.Backpressure, m.HardBackpressure, m.EmptySegments, m.SegmentSizeBytes, m.Drift)
	return m
}

func (m *Metrics) incFlusherDead() {
	if m != nil {
		m.FlusherDead.Inc()
	}
}

func (m *Metrics) incBackpressure() {
	if m != nil {
		m.Backpressure.Inc()
	}
}

func (m *Metrics) incHardBackpressure() {
	if m != nil {
		m.HardBackpressure.Inc()
	}
}

func (m *Metrics) incEmptySegments() {
	if m != nil {
		m.EmptySegments.Inc()
	}
}

func (m *Metrics) observeSegmentSize(n int) {
	if m != nil {
		m.SegmentSizeBytes.Observe(float64(n))
	}
}

func (m *Metrics) observeDrift(seconds int64) {
	if m != nil {
		m.Drift.Observe(float64(seconds))
	}
}
