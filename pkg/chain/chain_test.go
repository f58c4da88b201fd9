// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/statsdproxy/pkg/metric"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/allowtag"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/cardinality"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/denytag"
)

type recordingSink struct{ lines []string }

func (s *recordingSink) Poll() error { return nil }

func (s *recordingSink) Submit(v *metric.View) (middleware.Result, error) {
	s.lines = append(s.lines, string(v.RawBytes()))
	return middleware.Forwarded, nil
}

func TestBuildEmptyChainIsTransparent(t *testing.T) {
	sink := &recordingSink{}
	built, err := Build(nil, sink)
	require.NoError(t, err)

	_, err = built.Head.Submit(metric.Parse([]byte("m:1|c")))
	require.NoError(t, err)
	assert.Equal(t, []string{"m:1|c"}, sink.lines)
	assert.Empty(t, built.Stages)
}

func TestBuildOrdersStagesHeadFirst(t *testing.T) {
	sink := &recordingSink{}
	stages := []StageConfig{
		{Type: "deny-tag", DenyTag: &denytag.Config{Tags: []string{"a"}}},
		{Type: "allow-tag", AllowTag: &allowtag.Config{Tags: []string{"b"}}},
	}
	built, err := Build(stages, sink)
	require.NoError(t, err)
	require.Len(t, built.Stages, 2)

	_, err = built.Head.Submit(metric.Parse([]byte("m:1|c|#a:1,b:2,c:3")))
	require.NoError(t, err)
	// deny-tag (head) removes "a" first, then allow-tag retains only "b":
	// the "c" tag is dropped by the second stage, not the first.
	require.Len(t, sink.lines, 1)
	assert.Equal(t, "m:1|c|#b:2", sink.lines[0])
}

func TestBuildRejectsUnknownType(t *testing.T) {
	sink := &recordingSink{}
	_, err := Build([]StageConfig{{Type: "bogus"}}, sink)
	assert.Error(t, err)
}

func TestBuildRejectsMissingConfigForType(t *testing.T) {
	sink := &recordingSink{}
	_, err := Build([]StageConfig{{Type: "deny-tag"}}, sink)
	assert.Error(t, err)
}

func TestBuildRejectsInvalidCardinalityConfig(t *testing.T) {
	sink := &recordingSink{}
	stages := []StageConfig{
		{Type: "cardinality-limit", Cardinality: &cardinality.Config{
			Rules: []cardinality.Rule{{WindowSeconds: 60, Limit: 0}},
		}},
	}
	_, err := Build(stages, sink)
	assert.Error(t, err)
}

func TestBuildAcceptsValidCardinalityConfig(t *testing.T) {
	sink := &recordingSink{}
	stages := []StageConfig{
		{Type: "cardinality-limit", Cardinality: &cardinality.Config{
			Rules: []cardinality.Rule{{WindowSeconds: 60, Limit: 1000}},
		}},
	}
	built, err := Build(stages, sink)
	require.NoError(t, err)
	require.Len(t, built.Stages, 1)
}
