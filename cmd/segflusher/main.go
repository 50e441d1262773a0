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

// Package main provides the entry point for the Span Segment Flusher demo
// service: it wires a spanbuf.Buffer, a sink.Sink, and the core
// flusher.Stage/flusher.Run pair into a small standalone binary, the way
// the teacher's cmd/ratelimiter-api/main.go wires its own Store/Worker pair.
//
// Run normally, this binary drives a trivial in-process "next stage" (a
// pass-through that just counts messages) so the Stage's lifecycle can be
// exercised end to end without a real upstream pipeline. Re-invoked with
// SEGFLUSHER_WORKER_REEXEC=1 (set by flusher.ProcessHandle when
// -isolation=subprocess is chosen), it instead runs only the worker loop
// and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"segflusher/internal/flusher"
	"segflusher/internal/ledger"
	"segflusher/internal/sink"
	"segflusher/internal/spanbuf"
)

func main() {
	if os.Getenv(flusher.ReexecEnv) != "" {
		os.Exit(runSubprocessEntry())
	}
	os.Exit(runService())
}

// runSubprocessEntry builds the same collaborators as the in-process path
// and hands them to flusher.RunSubprocessWorker, which owns the IPC-backed
// SharedState for this process.
func runSubprocessEntry() int {
	_ = godotenv.Load()

	maxFlushSegments := flag.Int("max-flush-segments", 20, "Maximum ready segments to flush per shard per iteration")
	idleSleep := flag.Duration("idle-sleep", time.Second, "How long the worker sleeps when a flush returns nothing")
	redisAddrs := flag.String("redis-addrs", "", "Comma-separated per-shard Redis addresses; empty uses the logging fallback")
	kafkaBrokers := flag.String("kafka-brokers", "", "Comma-separated Kafka broker addresses; empty uses an in-memory sink")
	kafkaTopic := flag.String("kafka-topic", "buffered-segments", "Kafka topic segments are published to")
	ledgerDSN := flag.String("ledger-dsn", "", "Optional Postgres DSN for the delivery ledger; empty disables it")
	// The parent re-execs with its own arguments; accept (and ignore) the
	// Stage-only flags so flag.Parse does not reject them.
	_ = flag.Float64("max-memory-percentage", 1.0, "Ignored by the worker subprocess")
	_ = flag.Duration("join-poll-interval", 100*time.Millisecond, "Ignored by the worker subprocess")
	_ = flag.Int("max-process-restarts", flusher.MaxProcessRestarts, "Ignored by the worker subprocess")
	_ = flag.String("isolation", "inprocess", "Ignored by the worker subprocess")
	_ = flag.String("metrics-addr", "", "Ignored by the worker subprocess")
	flag.Parse()

	buffer := buildBuffer(*redisAddrs)
	sk, closeSink := buildSink(*kafkaBrokers, *kafkaTopic, *ledgerDSN)
	defer closeSink()

	err := flusher.RunSubprocessWorker(flusher.WorkerConfig{
		Buffer:           buffer,
		Sink:             sk,
		MaxFlushSegments: *maxFlushSegments,
		IdleSleep:        *idleSleep,
	})
	if err != nil {
		log.Printf("component=flusher worker exited: %v", err)
		return 1
	}
	return 0
}

// passthroughStage is the minimal NextStage used by this demo binary: it
// has no real downstream work, just bookkeeping so Stage's lifecycle can be
// exercised end to end.
type passthroughStage struct {
	submitted int
}

func (p *passthroughStage) Poll() error { return nil }

func (p *passthroughStage) Submit(flusher.Message) error {
	p.submitted++
	return nil
}

func (p *passthroughStage) Terminate() error { return nil }
func (p *passthroughStage) Close() error     { return nil }

func (p *passthroughStage) Join(context.Context, time.Duration) error { return nil }

func runService() int {
	_ = godotenv.Load()

	maxFlushSegments := flag.Int("max-flush-segments", 20, "Maximum ready segments to flush per shard per iteration")
	maxMemoryPercentage := flag.Float64("max-memory-percentage", 1.0, "Fraction of buffer memory usage that triggers hard backpressure; 1.0 disables the check")
	idleSleep := flag.Duration("idle-sleep", time.Second, "How long the worker sleeps when a flush returns nothing")
	joinPollInterval := flag.Duration("join-poll-interval", 100*time.Millisecond, "Busy-wait poll interval while Join waits for the worker to exit")
	maxProcessRestarts := flag.Int("max-process-restarts", flusher.MaxProcessRestarts, "How many times Submit will restart a dead worker before failing fatally")
	isolation := flag.String("isolation", "inprocess", "Worker isolation mode: inprocess or subprocess")
	metricsAddr := flag.String("metrics-addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g. :9090)")
	redisAddrs := flag.String("redis-addrs", "", "Comma-separated per-shard Redis addresses; empty uses the logging fallback")
	kafkaBrokers := flag.String("kafka-brokers", "", "Comma-separated Kafka broker addresses; empty uses an in-memory sink")
	kafkaTopic := flag.String("kafka-topic", "buffered-segments", "Kafka topic segments are published to")
	ledgerDSN := flag.String("ledger-dsn", "", "Optional Postgres DSN for the delivery ledger; empty disables it")
	flag.Parse()

	var reg *prometheus.Registry
	var metrics *flusher.Metrics
	if *metricsAddr != "" {
		reg = prometheus.NewRegistry()
		metrics = flusher.NewMetrics(reg)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			fmt.Printf("segflusher metrics listening on %s\n", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	buffer := buildBuffer(*redisAddrs)
	sk, closeSink := buildSink(*kafkaBrokers, *kafkaTopic, *ledgerDSN)
	defer closeSink()

	argv0, err := os.Executable()
	if err != nil {
		argv0 = os.Args[0]
	}

	newHandle := func(shared *flusher.SharedState) flusher.WorkerHandle {
		if *isolation == "subprocess" {
			return flusher.NewProcessHandle(argv0, os.Args[1:], shared)
		}
		return flusher.NewInProcessHandle(func(ctx context.Context, s *flusher.SharedState) error {
			return flusher.Run(ctx, s, flusher.WorkerConfig{
				Buffer:           buffer,
				Sink:             sk,
				MaxFlushSegments: *maxFlushSegments,
				IdleSleep:        *idleSleep,
				Metrics:          metrics,
			})
		}, shared)
	}

	next := &passthroughStage{}
	stage, err := flusher.NewStage(flusher.StageConfig{
		Buffer:              buffer,
		NewHandle:           newHandle,
		Next:                next,
		MaxMemoryPercentage: *maxMemoryPercentage,
		MaxProcessRestarts:  *maxProcessRestarts,
		JoinPollInterval:    *joinPollInterval,
		Metrics:             metrics,
	})
	if err != nil {
		log.Printf("ERROR: failed to start flusher stage: %v", err)
		return 1
	}

	fmt.Println("Starting span segment flusher...")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nShutting down flusher...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := stage.Join(ctx, 10*time.Second); err != nil {
		log.Printf("ERROR: flusher join: %v", err)
		return 1
	}
	fmt.Printf("Flusher stopped; forwarded %d messages.\n", next.submitted)
	return 0
}

func buildBuffer(redisAddrs string) spanbuf.Buffer {
	return spanbuf.NewRedisBuffer(spanbuf.RedisBufferOptions{Addrs: splitNonEmpty(redisAddrs)})
}

func buildSink(kafkaBrokers, topic, ledgerDSN string) (sink.Sink, func()) {
	var base sink.Sink
	brokers := splitNonEmpty(kafkaBrokers)
	if len(brokers) == 0 {
		base = sink.NewMemorySink()
	} else {
		kafkaSink, err := sink.NewKafkaSink(brokers, topic)
		if err != nil {
			log.Fatalf("ERROR: failed to connect to Kafka brokers=%v: %v", brokers, err)
		}
		base = kafkaSink
	}

	if ledgerDSN == "" {
		return base, func() { _ = base.Close() }
	}

	l, err := ledger.NewPostgresLedger(context.Background(), ledgerDSN)
	if err != nil {
		log.Fatalf("ERROR: failed to connect to delivery ledger: %v", err)
	}
	wrapped := sink.NewLedgerRecordingSink(base, l)
	return wrapped, func() {
		_ = wrapped.Close()
		l.Close()
	}
}

func splitNonEmpty(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
