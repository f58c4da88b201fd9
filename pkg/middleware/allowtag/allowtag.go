// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package allowtag implements the allow-tag middleware: the symmetric
// counterpart of denytag, retaining only configured tags.
package allowtag

import (
	"github.com/ClusterCockpit/statsdproxy/pkg/metric"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/tagrules"
)

// Config is the allow-tag configuration block.
type Config struct {
	Tags       []string `yaml:"tags"`
	StartsWith []string `yaml:"starts_with"`
	EndsWith   []string `yaml:"ends_with"`
	Metrics    []string `yaml:"metrics"`
}

// Middleware retains only tags matching Config on every non-opaque
// metric, and drops metrics whose name is in Config.Metrics entirely.
type Middleware struct {
	rules   tagrules.Set
	metrics tagrules.StringSet
	next    middleware.Middleware
}

// New builds an allow-tag middleware wrapping next.
func New(cfg Config, next middleware.Middleware) *Middleware {
	return &Middleware{
		rules:   tagrules.Set{Tags: cfg.Tags, StartsWith: cfg.StartsWith, EndsWith: cfg.EndsWith},
		metrics: tagrules.NewStringSet(cfg.Metrics),
		next:    next,
	}
}

func (m *Middleware) Poll() error { return m.next.Poll() }

func (m *Middleware) Drain() error { return middleware.Drain(m.next) }

func (m *Middleware) Submit(v *metric.View) (middleware.Result, error) {
	if v.Opaque() {
		err := middleware.SubmitWithRetry(m.next, v)
		return middleware.Forwarded, err
	}
	if len(m.metrics) > 0 && m.metrics.Contains(v.Name()) {
		middleware.OnDrop("allow-tag", "metric_denied_by_name")
		return middleware.Forwarded, nil
	}
	v.RetainTags(m.rules.Match)
	err := middleware.SubmitWithRetry(m.next, v)
	return middleware.Forwarded, err
}
