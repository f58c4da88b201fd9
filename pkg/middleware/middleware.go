// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package middleware defines the two-operation contract every pipeline
// stage implements (Poll, Submit) and the bounded-retry discipline
// callers apply when a downstream stage signals backpressure.
package middleware

import (
	"math/rand"
	"time"

	"github.com/ClusterCockpit/statsdproxy/pkg/log"
	"github.com/ClusterCockpit/statsdproxy/pkg/metric"
)

// Result is the outcome of a Submit call.
type Result int

const (
	// Forwarded means the caller may consider the metric accepted: it was
	// either handed downstream successfully, buffered for later flush, or
	// deliberately dropped by a filtering stage (deny-tag, cardinality-limit).
	Forwarded Result = iota
	// Overloaded asks the caller to back off and retry Submit later.
	Overloaded
)

// Middleware is one stage of the processing chain. A middleware holds a
// handle to exactly one downstream Middleware; the terminal stage is a
// sink adapter (package sink).
type Middleware interface {
	// Poll is invoked once per datagram-handling cycle and on every idle
	// tick. It must be cheap and non-blocking; it may cause internal
	// flushes that call Submit on the downstream stage. A returned error
	// is always fatal (never used for ordinary backpressure).
	Poll() error

	// Submit processes one metric. On Forwarded the caller treats the
	// metric as accepted. On Overloaded the caller must retry per
	// SubmitWithRetry. v may be mutated in place; it is only valid for
	// the duration of this call unless the middleware clones it.
	Submit(v *metric.View) (Result, error)
}

// Backoff bounds for the retry discipline of §4.F/4.B: start at 1ms,
// double each attempt, cap at 100ms, give up after MaxAttempts.
const (
	initialBackoff = time.Millisecond
	maxBackoff     = 100 * time.Millisecond
	MaxAttempts    = 10
)

// OnRetry and OnExhausted let an embedder observe backpressure without
// pkg/middleware depending on any particular metrics backend. Both
// default to no-ops; cmd/statsdproxy wires them to Prometheus counters
// at startup.
var (
	OnRetry     = func() {}
	OnExhausted = func() {}
	// OnDrop is called by a filtering stage (cardinality-limit, deny-tag)
	// when it drops a metric outright, naming itself and the reason.
	OnDrop = func(middlewareName, reason string) {}
)

// SubmitWithRetry calls m.Submit(v), retrying with bounded exponential
// backoff while the result is Overloaded. It gives up after MaxAttempts,
// logs a warning, and drops the metric — overload exhaustion is never
// surfaced as an error, only unrecoverable I/O faults are.
func SubmitWithRetry(m Middleware, v *metric.View) error {
	backoff := initialBackoff
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		res, err := m.Submit(v)
		if err != nil {
			return err
		}
		if res == Forwarded {
			return nil
		}
		if attempt == MaxAttempts {
			break
		}
		OnRetry()
		time.Sleep(jitter(backoff))
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	OnExhausted()
	log.WithFields(log.Fields{
		"metric":   string(v.RawBytes()),
		"attempts": MaxAttempts,
	}).Warn("dropping metric after exhausting overload retries")
	return nil
}

// jitter adds up to 20% random variance so that many pipelines retrying
// in lockstep don't all wake up on the same tick.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	variance := time.Duration(rand.Int63n(int64(d) / 5))
	return d + variance
}

// Drainer is implemented by a middleware that buffers metrics past the
// current Submit call (aggregate-metrics) and must force an
// unconditional flush during shutdown (§5's shutdown sequence), rather
// than waiting for a clock-driven boundary that may never be observed
// again. Every stage forwards Drain to its downstream neighbor so a
// single call at the head of the chain drains the whole pipeline.
type Drainer interface {
	Drain() error
}

// Drain calls m.Drain() if m implements Drainer, otherwise it is a no-op.
// Used by the driver at shutdown and by middlewares that have nothing of
// their own to flush but must still propagate the call downstream.
func Drain(m Middleware) error {
	if d, ok := m.(Drainer); ok {
		return d.Drain()
	}
	return nil
}
