// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package obsmetrics exposes the proxy's own Prometheus metrics (§10.3):
// lines received, metrics dropped per reason, overload retries, and the
// optional HTTP listener serving them.
package obsmetrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ClusterCockpit/statsdproxy/pkg/log"
)

var (
	// LinesReceived counts every non-empty line read off the inbound socket.
	LinesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "statsdproxy",
		Name:      "lines_received_total",
		Help:      "Total number of statsd lines received from the inbound socket.",
	})

	// MetricsDropped counts metrics dropped by middleware, labeled by the
	// middleware and reason (e.g. middleware="cardinality-limit",
	// reason="rule_at_capacity").
	MetricsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statsdproxy",
		Name:      "metrics_dropped_total",
		Help:      "Total number of metrics dropped, by middleware and reason.",
	}, []string{"middleware", "reason"})

	// OverloadRetries counts every retry attempt SubmitWithRetry performs
	// after a downstream stage returns Overloaded.
	OverloadRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "statsdproxy",
		Name:      "overload_retries_total",
		Help:      "Total number of Submit retries performed after backpressure.",
	})

	// OverloadExhausted counts metrics dropped after exhausting all retry
	// attempts.
	OverloadExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "statsdproxy",
		Name:      "overload_exhausted_total",
		Help:      "Total number of metrics dropped after exhausting overload retries.",
	})

	// AggregateBucketSize tracks the number of distinct fingerprints
	// currently buffered by the aggregate-metrics middleware.
	AggregateBucketSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "statsdproxy",
		Name:      "aggregate_bucket_size",
		Help:      "Number of distinct fingerprints buffered in the current aggregation bucket.",
	})

	// CardinalityOccupancy tracks live entries per cardinality-limit rule,
	// labeled by window_seconds.
	CardinalityOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "statsdproxy",
		Name:      "cardinality_occupancy",
		Help:      "Number of distinct fingerprints currently admitted per cardinality-limit rule.",
	}, []string{"window_seconds"})
)

// Serve starts an HTTP listener exposing /metrics via promhttp, and
// returns a shutdown function. A no-op if addr is empty (§10.3: the
// endpoint is optional, off by default).
func Serve(addr string) (shutdown func(), err error) {
	if addr == "" {
		return func() {}, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("obsmetrics: server failed: %s", err.Error())
		}
	}()
	log.Infof("obsmetrics: serving /metrics on %s", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warnf("obsmetrics: shutdown: %s", err.Error())
		}
	}, nil
}
