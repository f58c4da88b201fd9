// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCounter(t *testing.T) {
	v := Parse([]byte("users.online:1|c|@0.5|#a:1,b:2"))
	require.False(t, v.Opaque())
	assert.Equal(t, "users.online", string(v.Name()))
	assert.Equal(t, TypeCounter, v.Type())
	assert.Equal(t, "1", string(v.Value()))
	sr, ok := v.SampleRate()
	require.True(t, ok)
	assert.Equal(t, "0.5", string(sr))
	tags := v.Tags()
	require.Len(t, tags, 2)
	assert.Equal(t, "a", string(tags[0].Key))
	assert.Equal(t, "1", string(tags[0].Value))
}

func TestParseGauge(t *testing.T) {
	v := Parse([]byte("g:-3.5|g"))
	require.False(t, v.Opaque())
	assert.Equal(t, TypeGauge, v.Type())
	assert.Equal(t, "-3.5", string(v.Value()))
}

func TestParseNoTagsNoSampleRate(t *testing.T) {
	v := Parse([]byte("foo:1|c"))
	require.False(t, v.Opaque())
	assert.Empty(t, v.Tags())
	_, ok := v.SampleRate()
	assert.False(t, ok)
}

func TestParseOpaqueMissingPipe(t *testing.T) {
	v := Parse([]byte("foo:bar"))
	assert.True(t, v.Opaque())
	assert.Nil(t, v.Name())
	assert.Nil(t, v.Tags())
	assert.Equal(t, "foo:bar", string(v.RawBytes()))
}

func TestParseOpaqueMissingColon(t *testing.T) {
	v := Parse([]byte("not-a-metric-line"))
	assert.True(t, v.Opaque())
	assert.Equal(t, "not-a-metric-line", string(v.RawBytes()))
}

func TestParseOpaqueNonNumericValue(t *testing.T) {
	v := Parse([]byte("m:abc|c"))
	assert.True(t, v.Opaque())
}

func TestParseOpaqueUnknownType(t *testing.T) {
	v := Parse([]byte("m:1|z"))
	assert.True(t, v.Opaque())
}

func TestParsePreservesUnknownSegments(t *testing.T) {
	v := Parse([]byte("m:1|c|#a:1|c:some-container-id"))
	require.False(t, v.Opaque())
	assert.Equal(t, "m:1|c|#a:1|c:some-container-id", string(v.RawBytes()))
}

func TestRemoveTagsDenyOne(t *testing.T) {
	v := Parse([]byte("m:1|c|#a:1,b:2"))
	v.RemoveTags(func(key []byte) bool { return string(key) == "a" })
	assert.Equal(t, "m:1|c|#b:2", string(v.RawBytes()))
}

func TestRemoveTagsDropsSegmentWhenEmpty(t *testing.T) {
	v := Parse([]byte("m:1|c|#a:1,b:2"))
	v.RemoveTags(func(key []byte) bool { return true })
	assert.Equal(t, "m:1|c", string(v.RawBytes()))
}

func TestRemoveTagsIdempotent(t *testing.T) {
	v := Parse([]byte("m:1|c|#a:1,b:2"))
	match := func(key []byte) bool { return string(key) == "a" }
	v.RemoveTags(match)
	once := string(v.RawBytes())
	v.RemoveTags(match)
	assert.Equal(t, once, string(v.RawBytes()))
}

func TestRetainTags(t *testing.T) {
	v := Parse([]byte("m:1|c|#a:1,b:2,c:3"))
	v.RetainTags(func(key []byte) bool { return string(key) == "b" })
	assert.Equal(t, "m:1|c|#b:2", string(v.RawBytes()))
}

func TestAddTagsSkipsExistingKey(t *testing.T) {
	v := Parse([]byte("m:1|c|#a:1"))
	v.AddTags([]Tag{{Key: []byte("a"), Value: []byte("99"), HasValue: true}, {Key: []byte("b"), Value: []byte("2"), HasValue: true}})
	assert.Equal(t, "m:1|c|#a:1,b:2", string(v.RawBytes()))
}

func TestAddTagsCreatesSegment(t *testing.T) {
	v := Parse([]byte("m:1|c"))
	v.AddTags([]Tag{{Key: []byte("env"), Value: []byte("prod"), HasValue: true}})
	assert.Equal(t, "m:1|c|#env:prod", string(v.RawBytes()))
}

func TestSetValueCounterAndGauge(t *testing.T) {
	v := Parse([]byte("m:1|c"))
	assert.True(t, v.SetValue([]byte("8")))
	assert.Equal(t, "m:8|c", string(v.RawBytes()))

	g := Parse([]byte("m:1|g"))
	assert.True(t, g.SetValue([]byte("15")))
	assert.Equal(t, "m:15|g", string(g.RawBytes()))
}

func TestSetValueRejectsOtherTypesAndOpaque(t *testing.T) {
	set := Parse([]byte("m:1|s"))
	assert.False(t, set.SetValue([]byte("2")))

	opaque := Parse([]byte("garbage"))
	assert.False(t, opaque.SetValue([]byte("2")))
}

func TestOpaqueMutatorsAreNoOps(t *testing.T) {
	v := Parse([]byte("garbage"))
	v.RemoveTags(func([]byte) bool { return true })
	v.RetainTags(func([]byte) bool { return false })
	v.AddTags([]Tag{{Key: []byte("a")}})
	assert.Equal(t, "garbage", string(v.RawBytes()))
}

func TestCloneIsIndependent(t *testing.T) {
	buf := []byte("m:1|c|#a:1")
	v := Parse(buf)
	c := v.Clone()
	v.RemoveTags(func(key []byte) bool { return true })
	assert.Equal(t, "m:1|c", string(v.RawBytes()))
	assert.Equal(t, "m:1|c|#a:1", string(c.RawBytes()))
}
