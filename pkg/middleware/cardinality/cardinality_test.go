// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cardinality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/statsdproxy/pkg/metric"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware"
)

type recordingSink struct{ lines []string }

func (s *recordingSink) Poll() error { return nil }

func (s *recordingSink) Submit(v *metric.View) (middleware.Result, error) {
	s.lines = append(s.lines, string(v.RawBytes()))
	return middleware.Forwarded, nil
}

func TestCardinalityLimitAdmitsUpToLimit(t *testing.T) {
	sink := &recordingSink{}
	m := New(Config{Rules: []Rule{{WindowSeconds: 3600, Limit: 2}}}, sink)

	lines := []string{"a:1|c|#k:1", "b:1|c|#k:2", "c:1|c|#k:3"}
	for _, l := range lines {
		_, err := m.Submit(metric.Parse([]byte(l)))
		require.NoError(t, err)
	}

	require.Len(t, sink.lines, 2)
	assert.Equal(t, lines[0], sink.lines[0])
	assert.Equal(t, lines[1], sink.lines[1])
}

func TestCardinalityLimitRefreshesResidentFingerprint(t *testing.T) {
	sink := &recordingSink{}
	m := New(Config{Rules: []Rule{{WindowSeconds: 3600, Limit: 1}}}, sink)

	_, err := m.Submit(metric.Parse([]byte("a:1|c|#k:1")))
	require.NoError(t, err)
	_, err = m.Submit(metric.Parse([]byte("a:2|c|#k:1")))
	require.NoError(t, err)
	_, err = m.Submit(metric.Parse([]byte("b:1|c|#k:2")))
	require.NoError(t, err)

	require.Len(t, sink.lines, 2)
	assert.Equal(t, "a:1|c|#k:1", sink.lines[0])
	assert.Equal(t, "a:2|c|#k:1", sink.lines[1])
}

func TestCardinalityLimitExpiresAfterWindow(t *testing.T) {
	sink := &recordingSink{}
	m := New(Config{Rules: []Rule{{WindowSeconds: 1, Limit: 1}}}, sink)

	_, err := m.Submit(metric.Parse([]byte("a:1|c|#k:1")))
	require.NoError(t, err)
	_, err = m.Submit(metric.Parse([]byte("b:1|c|#k:2")))
	require.NoError(t, err)
	require.Len(t, sink.lines, 1)

	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, m.Poll())

	_, err = m.Submit(metric.Parse([]byte("b:1|c|#k:2")))
	require.NoError(t, err)
	assert.Len(t, sink.lines, 2)
}

func TestCardinalityLimitOpaquePassesThrough(t *testing.T) {
	sink := &recordingSink{}
	m := New(Config{Rules: []Rule{{WindowSeconds: 3600, Limit: 1}}}, sink)

	_, err := m.Submit(metric.Parse([]byte("not-statsd")))
	require.NoError(t, err)
	assert.Equal(t, "not-statsd", sink.lines[0])
}

func TestValidateAcceptsWellFormedRules(t *testing.T) {
	err := Validate(Config{Rules: []Rule{{WindowSeconds: 60, Limit: 1000}}})
	assert.NoError(t, err)
}

func TestValidateRejectsNonPositiveLimit(t *testing.T) {
	err := Validate(Config{Rules: []Rule{{WindowSeconds: 60, Limit: 0}}})
	assert.Error(t, err)
}

func TestValidateRejectsNonPositiveWindow(t *testing.T) {
	err := Validate(Config{Rules: []Rule{{WindowSeconds: -1, Limit: 10}}})
	assert.Error(t, err)
}
