// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metric implements a zero-copy, never-failing parser for
// statsd/DogStatsD lines and in-place tag editing on top of it.
//
// A line that cannot be fully understood is never rejected: it is marked
// opaque and carried through the pipeline byte-for-byte. Only the bytes
// needed for parsing are inspected; nothing is copied until an edit
// (RemoveTags, RetainTags, AddTags, SetValue) actually needs to rewrite
// the buffer.
package metric

import (
	"bytes"
	"sort"
)

// Type is the single-byte (or two-byte, for timers) statsd metric kind.
type Type int

const (
	// TypeUnknown marks an opaque or unrecognized type token.
	TypeUnknown Type = iota
	TypeCounter
	TypeGauge
	TypeTimer
	TypeHistogram
	TypeSet
	TypeDistribution
)

func (t Type) String() string {
	switch t {
	case TypeCounter:
		return "c"
	case TypeGauge:
		return "g"
	case TypeTimer:
		return "ms"
	case TypeHistogram:
		return "h"
	case TypeSet:
		return "s"
	case TypeDistribution:
		return "d"
	default:
		return ""
	}
}

func typeFromToken(tok []byte) (Type, bool) {
	switch string(tok) {
	case "c":
		return TypeCounter, true
	case "g":
		return TypeGauge, true
	case "ms":
		return TypeTimer, true
	case "h":
		return TypeHistogram, true
	case "s":
		return TypeSet, true
	case "d":
		return TypeDistribution, true
	default:
		return TypeUnknown, false
	}
}

// Tag is a single "key" or "key:value" pair from the |# segment.
type Tag struct {
	Key      []byte
	Value    []byte
	HasValue bool
}

// View is a borrowed or owned view over one statsd line. The zero value
// is not valid; use Parse. A View returned by Parse never fails: an
// unparseable line is simply opaque.
type View struct {
	raw    []byte // original bytes, always kept for the opaque/pass-through path
	opaque bool

	name          []byte
	value         []byte
	typ           Type
	hasSampleRate bool
	sampleRate    []byte // kept as raw text to avoid float formatting drift on re-emission
	tags          []Tag
	other         [][]byte // other "|X..." segments (without the leading '|'), in original order

	dirty bool // true once an edit has happened; RawBytes must rebuild from fields
}

// Parse splits line into its statsd fields. It never fails: a line that
// does not match the recognized grammar yields an opaque View whose only
// observable operation is RawBytes.
func Parse(line []byte) *View {
	v := &View{raw: line}
	if !v.tryParse(line) {
		v.opaque = true
		v.name, v.value, v.tags, v.other = nil, nil, nil, nil
	}
	return v
}

func (v *View) tryParse(line []byte) bool {
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return false
	}
	rest := line[colon+1:]
	firstPipe := bytes.IndexByte(rest, '|')
	if firstPipe < 0 {
		return false
	}
	value := rest[:firstPipe]
	if !isNumeric(value) {
		return false
	}

	afterValue := rest[firstPipe+1:]
	typeEnd := bytes.IndexByte(afterValue, '|')
	var typeTok []byte
	var tail []byte
	if typeEnd < 0 {
		typeTok = afterValue
		tail = nil
	} else {
		typeTok = afterValue[:typeEnd]
		tail = afterValue[typeEnd+1:]
	}
	typ, ok := typeFromToken(typeTok)
	if !ok {
		return false
	}

	v.name = line[:colon]
	v.value = value
	v.typ = typ

	for len(tail) > 0 {
		end := bytes.IndexByte(tail, '|')
		var seg []byte
		if end < 0 {
			seg, tail = tail, nil
		} else {
			seg, tail = tail[:end], tail[end+1:]
		}
		switch {
		case len(seg) > 0 && seg[0] == '@':
			v.hasSampleRate = true
			v.sampleRate = seg[1:]
		case len(seg) > 0 && seg[0] == '#':
			v.tags = parseTags(seg[1:])
		default:
			v.other = append(v.other, seg)
		}
	}
	return true
}

func parseTags(seg []byte) []Tag {
	if len(seg) == 0 {
		return nil
	}
	parts := bytes.Split(seg, []byte{','})
	tags := make([]Tag, 0, len(parts))
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		if idx := bytes.IndexByte(p, ':'); idx >= 0 {
			tags = append(tags, Tag{Key: p[:idx], Value: p[idx+1:], HasValue: true})
		} else {
			tags = append(tags, Tag{Key: p})
		}
	}
	return tags
}

func isNumeric(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	i := 0
	if b[i] == '+' || b[i] == '-' {
		i++
	}
	digitsBefore := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
		digitsBefore++
	}
	digitsAfter := 0
	if i < len(b) && b[i] == '.' {
		i++
		for i < len(b) && b[i] >= '0' && b[i] <= '9' {
			i++
			digitsAfter++
		}
	}
	if digitsBefore == 0 && digitsAfter == 0 {
		return false
	}
	if i < len(b) && (b[i] == 'e' || b[i] == 'E') {
		i++
		if i < len(b) && (b[i] == '+' || b[i] == '-') {
			i++
		}
		expDigits := 0
		for i < len(b) && b[i] >= '0' && b[i] <= '9' {
			i++
			expDigits++
		}
		if expDigits == 0 {
			return false
		}
	}
	return i == len(b)
}

// Opaque reports whether the line could not be parsed and is being
// carried through byte-for-byte.
func (v *View) Opaque() bool { return v.opaque }

// Name returns the metric name, or nil if the view is opaque.
func (v *View) Name() []byte {
	if v.opaque {
		return nil
	}
	return v.name
}

// Type returns the metric type, or TypeUnknown if the view is opaque.
func (v *View) Type() Type {
	if v.opaque {
		return TypeUnknown
	}
	return v.typ
}

// Value returns the raw value bytes, or nil if the view is opaque.
func (v *View) Value() []byte {
	if v.opaque {
		return nil
	}
	return v.value
}

// SampleRate returns the sample rate and whether one was present.
// Returns (nil, false) for an opaque view or one with no |@ segment.
func (v *View) SampleRate() ([]byte, bool) {
	if v.opaque || !v.hasSampleRate {
		return nil, false
	}
	return v.sampleRate, true
}

// Tags returns the parsed tag list. Returns nil for an opaque view or one
// with no |# segment. The returned slice must not be mutated by callers;
// use RemoveTags/RetainTags/AddTags instead.
func (v *View) Tags() []Tag {
	if v.opaque {
		return nil
	}
	return v.tags
}

// RawBytes returns the current on-wire representation of the line.
func (v *View) RawBytes() []byte {
	if v.opaque || !v.dirty {
		return v.raw
	}
	return v.serialize()
}

func (v *View) serialize() []byte {
	buf := make([]byte, 0, len(v.raw))
	buf = append(buf, v.name...)
	buf = append(buf, ':')
	buf = append(buf, v.value...)
	buf = append(buf, '|')
	buf = append(buf, v.typ.String()...)
	if v.hasSampleRate {
		buf = append(buf, '|', '@')
		buf = append(buf, v.sampleRate...)
	}
	if len(v.tags) > 0 {
		buf = append(buf, '|', '#')
		for i, t := range v.tags {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, t.Key...)
			if t.HasValue {
				buf = append(buf, ':')
				buf = append(buf, t.Value...)
			}
		}
	}
	for _, seg := range v.other {
		buf = append(buf, '|')
		buf = append(buf, seg...)
	}
	v.raw = buf
	v.dirty = false
	return buf
}

// ClearSampleRate removes the |@ segment, used by aggregate-metrics when
// emitting a folded counter: the aggregate has no single meaningful
// sample rate. A no-op on an opaque view or one with no sample rate.
func (v *View) ClearSampleRate() {
	if v.opaque || !v.hasSampleRate {
		return
	}
	v.hasSampleRate = false
	v.sampleRate = nil
	v.dirty = true
}

// TagPredicate decides whether a tag (by its key) matches some rule.
type TagPredicate func(key []byte) bool

// RemoveTags removes every tag for which match(key) returns true. A no-op on an
// opaque view. If the resulting tag set is empty, the |# segment (and
// its separator) is dropped entirely. Idempotent: calling it again with
// the same predicate changes nothing further.
func (v *View) RemoveTags(match TagPredicate) {
	if v.opaque || len(v.tags) == 0 {
		return
	}
	kept := v.tags[:0:0]
	changed := false
	for _, t := range v.tags {
		if match(t.Key) {
			changed = true
			continue
		}
		kept = append(kept, t)
	}
	if changed {
		v.tags = kept
		v.dirty = true
	}
}

// RetainTags keeps only tags whose key matches match, dropping the rest.
// A no-op on an opaque view.
func (v *View) RetainTags(match TagPredicate) {
	if v.opaque || len(v.tags) == 0 {
		return
	}
	kept := v.tags[:0:0]
	changed := false
	for _, t := range v.tags {
		if !match(t.Key) {
			changed = true
			continue
		}
		kept = append(kept, t)
	}
	if changed {
		v.tags = kept
		v.dirty = true
	}
}

// AddTags appends tags whose key is not already present on the line. A
// no-op on an opaque view. Keys are compared byte-exact.
func (v *View) AddTags(add []Tag) {
	if v.opaque || len(add) == 0 {
		return
	}
	changed := false
	for _, t := range add {
		if v.hasTagKey(t.Key) {
			continue
		}
		v.tags = append(v.tags, t)
		changed = true
	}
	if changed {
		v.dirty = true
	}
}

func (v *View) hasTagKey(key []byte) bool {
	for _, t := range v.tags {
		if bytes.Equal(t.Key, key) {
			return true
		}
	}
	return false
}

// SetValue replaces the value slice of a counter or gauge in place. A
// no-op (and returns false) for any other type or an opaque view.
func (v *View) SetValue(value []byte) bool {
	if v.opaque || (v.typ != TypeCounter && v.typ != TypeGauge) {
		return false
	}
	v.value = append([]byte(nil), value...)
	v.dirty = true
	return true
}

// Clone returns an independently-owned deep copy of v, safe to retain
// beyond the lifetime of the datagram buffer it was parsed from. Used by
// aggregate-metrics, which keeps a representative line in state past the
// current Submit call.
func (v *View) Clone() *View {
	raw := v.RawBytes()
	cp := append([]byte(nil), raw...)
	// Re-parsing the clone is simpler than field-by-field offset
	// translation, and guarantees the clone's slices alias cp, not v.raw.
	return Parse(cp)
}

// sortedUniqueTagStrings returns a byte-sorted, deduplicated list of
// "key:value" (or "key") strings for use in fingerprinting.
func sortedUniqueTagStrings(tags []Tag) [][]byte {
	out := make([][]byte, 0, len(tags))
	for _, t := range tags {
		s := make([]byte, 0, len(t.Key)+len(t.Value)+1)
		s = append(s, t.Key...)
		if t.HasValue {
			s = append(s, ':')
			s = append(s, t.Value...)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	deduped := out[:0:0]
	for i, s := range out {
		if i > 0 && bytes.Equal(s, out[i-1]) {
			continue
		}
		deduped = append(deduped, s)
	}
	return deduped
}
