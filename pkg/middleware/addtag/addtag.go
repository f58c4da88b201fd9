// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package addtag implements the add-tag middleware: it appends a fixed
// set of tags to every metric, skipping keys already present on the
// line. Not part of the distilled core spec but present in the original
// project's middleware set (see SPEC_FULL.md §4.H); trivial to ground
// on the same tag-rewrite path as deny-tag/allow-tag.
package addtag

import (
	"sort"

	"github.com/ClusterCockpit/statsdproxy/pkg/metric"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware"
)

// Config is the add-tag configuration block: a fixed key/value map
// appended to every metric.
type Config struct {
	Tags map[string]string `yaml:"tags"`
}

// Middleware appends Config.Tags to every non-opaque metric.
type Middleware struct {
	tags []metric.Tag
	next middleware.Middleware
}

// New builds an add-tag middleware wrapping next. Tags are sorted by
// key so the appended order is deterministic across runs.
func New(cfg Config, next middleware.Middleware) *Middleware {
	keys := make([]string, 0, len(cfg.Tags))
	for k := range cfg.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tags := make([]metric.Tag, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, metric.Tag{Key: []byte(k), Value: []byte(cfg.Tags[k]), HasValue: true})
	}
	return &Middleware{tags: tags, next: next}
}

func (m *Middleware) Poll() error { return m.next.Poll() }

func (m *Middleware) Drain() error { return middleware.Drain(m.next) }

func (m *Middleware) Submit(v *metric.View) (middleware.Result, error) {
	if !v.Opaque() {
		v.AddTags(m.tags)
	}
	err := middleware.SubmitWithRetry(m.next, v)
	return middleware.Forwarded, err
}
