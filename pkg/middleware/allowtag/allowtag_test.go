// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package allowtag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/statsdproxy/pkg/metric"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware"
)

type recordingSink struct {
	lines []string
}

func (s *recordingSink) Poll() error { return nil }

func (s *recordingSink) Submit(v *metric.View) (middleware.Result, error) {
	s.lines = append(s.lines, string(v.RawBytes()))
	return middleware.Forwarded, nil
}

func TestAllowTagRetainsOnlyConfiguredTags(t *testing.T) {
	sink := &recordingSink{}
	m := New(Config{Tags: []string{"b"}}, sink)

	v := metric.Parse([]byte("m:1|c|#a:1,b:2"))
	_, err := m.Submit(v)
	require.NoError(t, err)
	assert.Equal(t, "m:1|c|#b:2", sink.lines[0])
}

func TestAllowDenyIntersection(t *testing.T) {
	// allow-tag with {a,b} then deny-tag with {a} is equivalent to
	// allow-tag with {b} alone, per testable property 4.
	line := "m:1|c|#a:1,b:2,c:3"

	allowSink := &recordingSink{}
	allowOnly := New(Config{Tags: []string{"b"}}, allowSink)
	_, err := allowOnly.Submit(metric.Parse([]byte(line)))
	require.NoError(t, err)

	chained := &recordingSink{}
	allowThenDeny := New(Config{Tags: []string{"a", "b"}}, denyStub{tags: []string{"a"}, next: chained})
	_, err = allowThenDeny.Submit(metric.Parse([]byte(line)))
	require.NoError(t, err)

	assert.Equal(t, allowSink.lines[0], chained.lines[0])
}

// denyStub is a minimal stand-in for denytag.Middleware in this
// cross-middleware property test: it removes tags by exact key.
type denyStub struct {
	tags []string
	next middleware.Middleware
}

func (d denyStub) Poll() error { return d.next.Poll() }

func (d denyStub) Submit(v *metric.View) (middleware.Result, error) {
	v.RemoveTags(func(key []byte) bool {
		for _, t := range d.tags {
			if string(key) == t {
				return true
			}
		}
		return false
	})
	err := middleware.SubmitWithRetry(d.next, v)
	return middleware.Forwarded, err
}

func TestAllowTagDropsMetricByName(t *testing.T) {
	sink := &recordingSink{}
	m := New(Config{Metrics: []string{"secret"}}, sink)

	_, err := m.Submit(metric.Parse([]byte("secret:1|c|#a:1")))
	require.NoError(t, err)
	assert.Empty(t, sink.lines)
}
