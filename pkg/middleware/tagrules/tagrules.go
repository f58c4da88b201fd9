// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tagrules implements the byte-exact, case-sensitive tag-key
// matching shared by deny-tag and allow-tag: an exact set plus prefix
// and suffix lists.
package tagrules

import "strings"

// Set is the match configuration shared by deny-tag (remove matches)
// and allow-tag (retain matches).
type Set struct {
	Tags        []string
	StartsWith  []string
	EndsWith    []string
}

// Match reports whether key (the portion of a tag before ':') matches
// any rule in the set.
func (s Set) Match(key []byte) bool {
	k := string(key)
	for _, t := range s.Tags {
		if k == t {
			return true
		}
	}
	for _, p := range s.StartsWith {
		if strings.HasPrefix(k, p) {
			return true
		}
	}
	for _, suf := range s.EndsWith {
		if strings.HasSuffix(k, suf) {
			return true
		}
	}
	return false
}

// StringSet is a small helper for exact-match-only lookups (used for the
// `metrics` name-blocklist of deny-tag).
type StringSet map[string]struct{}

// NewStringSet builds a StringSet from a slice, ignoring empty entries.
func NewStringSet(items []string) StringSet {
	s := make(StringSet, len(items))
	for _, it := range items {
		if it == "" {
			continue
		}
		s[it] = struct{}{}
	}
	return s
}

func (s StringSet) Contains(v []byte) bool {
	_, ok := s[string(v)]
	return ok
}
