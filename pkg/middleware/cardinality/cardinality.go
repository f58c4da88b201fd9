// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cardinality implements the cardinality-limit middleware: a
// list of independent rules, each bounding the number of distinct
// timeseries fingerprints observed within a trailing time window.
//
// Each rule is backed by an expirable LRU
// (golang-lru/v2/expirable) sized to the rule's limit: the library
// already gives us "bounded count" and "time-based forgetting" for
// free, which is exactly the sliding window this middleware needs. The
// admission check is deliberately done with Contains+Len+Add rather
// than relying on the LRU's own evict-on-overflow behavior, because
// this middleware must reject new series once at capacity, not evict
// an established one to make room for a new one.
package cardinality

import (
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ClusterCockpit/statsdproxy/pkg/log"
	"github.com/ClusterCockpit/statsdproxy/pkg/metric"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware"
)

// Rule bounds the number of distinct fingerprints seen within
// WindowSeconds to at most Limit.
type Rule struct {
	WindowSeconds int `yaml:"window_seconds" json:"window_seconds"`
	Limit         int `yaml:"limit" json:"limit"`
}

// Config is the cardinality-limit configuration block.
type Config struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// ConfigSchema is the JSON schema Validate compiles and checks Config
// against.
const ConfigSchema = `{
    "type": "object",
    "description": "Configuration for the cardinality-limit middleware.",
    "properties": {
        "rules": {
            "type": "array",
            "items": {
                "type": "object",
                "properties": {
                    "window_seconds": {
                        "description": "Trailing window, in seconds, each rule bounds cardinality over.",
                        "type": "integer",
                        "minimum": 1
                    },
                    "limit": {
                        "description": "Maximum number of distinct fingerprints admitted within the window.",
                        "type": "integer",
                        "minimum": 1
                    }
                },
                "required": ["window_seconds", "limit"]
            }
        }
    },
    "required": ["rules"]
}`

// Validate checks cfg against ConfigSchema, catching malformed rules
// (non-positive limit or window) at startup instead of at the first
// metric that happens to exercise them.
func Validate(cfg Config) error {
	sch, err := jsonschema.CompileString("cardinality-config.json", ConfigSchema)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return err
	}

	return sch.Validate(instance)
}

type ruleState struct {
	rule Rule
	seen *lru.LRU[metric.Fingerprint, struct{}]
}

// Middleware admits a metric only if every configured rule has room for
// its fingerprint. Rules are evaluated in configuration order; the
// first rejection wins and the metric is dropped without reaching any
// downstream stage.
type Middleware struct {
	rules []*ruleState
	next  middleware.Middleware
}

// New builds a cardinality-limit middleware wrapping next.
func New(cfg Config, next middleware.Middleware) *Middleware {
	rules := make([]*ruleState, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, &ruleState{
			rule: r,
			seen: lru.NewLRU[metric.Fingerprint, struct{}](r.Limit, nil, time.Duration(r.WindowSeconds)*time.Second),
		})
	}
	return &Middleware{rules: rules, next: next}
}

func (m *Middleware) Poll() error {
	// Keys() skips time-expired entries without removing them; the
	// entries themselves are removed by the LRU's own background cleanup
	// goroutine, which also runs during idle periods.
	for _, rs := range m.rules {
		rs.seen.Keys()
	}
	return m.next.Poll()
}

func (m *Middleware) Drain() error { return middleware.Drain(m.next) }

// Occupancy returns the live entry count per rule, keyed by
// window_seconds, for self-observability polling (§10.3).
func (m *Middleware) Occupancy() map[int]int {
	out := make(map[int]int, len(m.rules))
	for _, rs := range m.rules {
		out[rs.rule.WindowSeconds] = rs.seen.Len()
	}
	return out
}

func (m *Middleware) Submit(v *metric.View) (middleware.Result, error) {
	fp, ok := v.Fingerprint()
	if !ok {
		// Open question in the distilled spec, resolved as pass-through:
		// opaque lines have no computable fingerprint.
		err := middleware.SubmitWithRetry(m.next, v)
		return middleware.Forwarded, err
	}

	for _, rs := range m.rules {
		if rs.seen.Contains(fp) {
			rs.seen.Add(fp, struct{}{})
			continue
		}
		if rs.seen.Len() < rs.rule.Limit {
			rs.seen.Add(fp, struct{}{})
			continue
		}
		log.WithFields(log.Fields{
			"metric": string(v.Name()),
			"window": rs.rule.WindowSeconds,
			"limit":  rs.rule.Limit,
		}).Warn("cardinality-limit: dropping metric, rule at capacity")
		middleware.OnDrop("cardinality-limit", "rule_at_capacity")
		return middleware.Forwarded, nil
	}

	err := middleware.SubmitWithRetry(m.next, v)
	return middleware.Forwarded, err
}
