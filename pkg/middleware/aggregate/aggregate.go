// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aggregate implements the aggregate-metrics middleware: a
// time-bucketed fold of counters and gauges, flushed on wall-clock
// boundaries aligned across independent proxy instances.
//
// Grounded on the bucket/buffer bookkeeping of the teacher's
// internal/memorystore (buffer.go, level.go): a plain Go map guarded by
// the single-threaded cooperative scheduling model of §5 needs no lock,
// unlike the teacher's concurrent buffer tree.
package aggregate

import (
	"math"
	"strconv"
	"time"

	"github.com/ClusterCockpit/statsdproxy/pkg/log"
	"github.com/ClusterCockpit/statsdproxy/pkg/metric"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware"
)

// Config is the aggregate-metrics configuration block.
type Config struct {
	AggregateCounters bool          `yaml:"aggregate_counters"`
	AggregateGauges   bool          `yaml:"aggregate_gauges"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	FlushOffset       time.Duration `yaml:"flush_offset"`
	MaxMapSize        *int          `yaml:"max_map_size"`
}

// Normalize sets FlushInterval to the 1s default when it is not
// positive. It does not change AggregateCounters or AggregateGauges;
// DefaultConfig is the Config with both enabled.
func (c *Config) Normalize() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
}

// DefaultConfig returns a Config with the §4.E defaults already applied.
func DefaultConfig() Config {
	return Config{AggregateCounters: true, AggregateGauges: true, FlushInterval: time.Second}
}

type entry struct {
	tmpl  *metric.View
	value float64
}

// Middleware folds counters and gauges into time-aligned buckets and
// flushes the sealed (previous) bucket whenever wall-clock time crosses
// a boundary. Any other metric type, and any opaque line, passes
// through unbuffered.
type Middleware struct {
	cfg   Config
	clock func() time.Time

	bucket      map[metric.Fingerprint]*entry
	bucketStart time.Time
	initialized bool

	next middleware.Middleware
}

// New builds an aggregate-metrics middleware wrapping next, using the
// wall clock. Tests may construct Middleware directly with a fake clock.
func New(cfg Config, next middleware.Middleware) *Middleware {
	cfg.Normalize()
	return &Middleware{
		cfg:    cfg,
		clock:  time.Now,
		bucket: make(map[metric.Fingerprint]*entry),
		next:   next,
	}
}

// WithClock overrides the time source, for deterministic tests of
// bucket alignment and flush timing.
func (m *Middleware) WithClock(clock func() time.Time) *Middleware {
	m.clock = clock
	return m
}

// boundary returns the start of the bucket containing t, per the
// formula in §4.E: floor((t-offset)/interval)*interval + offset.
func boundary(t time.Time, interval, offset time.Duration) time.Time {
	in := int64(interval)
	if in <= 0 {
		in = int64(time.Second)
	}
	off := int64(offset)
	shifted := t.UnixNano() - off
	floored := shifted - (((shifted % in) + in) % in)
	return time.Unix(0, floored+off)
}

func (m *Middleware) Poll() error {
	m.maybeRollBucket()
	return m.next.Poll()
}

// BucketSize returns the number of distinct fingerprints currently
// buffered, for self-observability polling (§10.3).
func (m *Middleware) BucketSize() int { return len(m.bucket) }

// Drain forces an unconditional flush of the current bucket regardless
// of clock boundaries, then propagates to the downstream stage. Used
// during shutdown so buffered aggregates are not silently lost.
func (m *Middleware) Drain() error {
	m.flush()
	return middleware.Drain(m.next)
}

func (m *Middleware) maybeRollBucket() {
	b := boundary(m.clock(), m.cfg.FlushInterval, m.cfg.FlushOffset)
	if !m.initialized {
		m.bucketStart = b
		m.initialized = true
		return
	}
	if b.After(m.bucketStart) {
		m.flush()
		m.bucketStart = b
	}
}

// flush emits every entry in the sealed bucket to downstream, in
// arbitrary (map iteration) order, and discards the bucket afterwards.
func (m *Middleware) flush() {
	for _, e := range m.bucket {
		e.tmpl.ClearSampleRate()
		e.tmpl.SetValue(formatFloat(e.value))
		if err := middleware.SubmitWithRetry(m.next, e.tmpl); err != nil {
			log.Errorf("aggregate-metrics: downstream error during flush: %s", err.Error())
		}
	}
	m.bucket = make(map[metric.Fingerprint]*entry, len(m.bucket))
}

func (m *Middleware) Submit(v *metric.View) (middleware.Result, error) {
	// Roll first, so a metric submitted before any Poll (or after a
	// boundary with no Poll in between) lands in the bucket of its own
	// window.
	m.maybeRollBucket()

	if v.Opaque() {
		err := middleware.SubmitWithRetry(m.next, v)
		return middleware.Forwarded, err
	}

	switch v.Type() {
	case metric.TypeCounter:
		if !m.cfg.AggregateCounters {
			break
		}
		return m.foldCounter(v), nil
	case metric.TypeGauge:
		if !m.cfg.AggregateGauges || isDeltaGauge(v.Value()) {
			break
		}
		return m.foldGauge(v), nil
	}

	err := middleware.SubmitWithRetry(m.next, v)
	return middleware.Forwarded, err
}

func isDeltaGauge(value []byte) bool {
	return len(value) > 0 && (value[0] == '+' || value[0] == '-')
}

func (m *Middleware) foldCounter(v *metric.View) middleware.Result {
	val, err := strconv.ParseFloat(string(v.Value()), 64)
	if err != nil {
		// Should be unreachable: the parser already validated this
		// slice as numeric. Fail safe by passing the line through.
		_ = middleware.SubmitWithRetry(m.next, v)
		return middleware.Forwarded
	}
	rate := 1.0
	if sr, ok := v.SampleRate(); ok {
		if parsed, err := strconv.ParseFloat(string(sr), 64); err == nil && parsed > 0 {
			rate = parsed
		}
	}

	fp, _ := v.Fingerprint()
	e := m.bucket[fp]
	if e == nil {
		m.makeRoomIfNeeded()
		e = &entry{tmpl: v.Clone()}
		e.tmpl.ClearSampleRate()
		m.bucket[fp] = e
	}
	e.value += val / rate
	return middleware.Forwarded
}

func (m *Middleware) foldGauge(v *metric.View) middleware.Result {
	val, err := strconv.ParseFloat(string(v.Value()), 64)
	if err != nil {
		_ = middleware.SubmitWithRetry(m.next, v)
		return middleware.Forwarded
	}

	fp, _ := v.Fingerprint()
	e := m.bucket[fp]
	if e == nil {
		m.makeRoomIfNeeded()
		e = &entry{}
		m.bucket[fp] = e
	}
	e.tmpl = v.Clone()
	e.value = val
	return middleware.Forwarded
}

// makeRoomIfNeeded forces an out-of-cycle flush when inserting a new
// fingerprint would exceed MaxMapSize, per §4.E's map size cap.
func (m *Middleware) makeRoomIfNeeded() {
	if m.cfg.MaxMapSize == nil || len(m.bucket) < *m.cfg.MaxMapSize {
		return
	}
	m.flush()
}

func formatFloat(f float64) []byte {
	if !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(nil, int64(f), 10)
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64)
}
