// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package chain builds a processing pipeline from parsed configuration:
// the library interface exposed to embedders (§6).
package chain

import (
	"fmt"

	"github.com/ClusterCockpit/statsdproxy/pkg/middleware"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/addtag"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/aggregate"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/allowtag"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/cardinality"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/denytag"
)

// StageConfig is one element of the configuration file's `middlewares`
// sequence, already resolved to its type-specific configuration by the
// config loader (exactly one of the pointer fields is non-nil).
type StageConfig struct {
	Type        string
	DenyTag     *denytag.Config
	AllowTag    *allowtag.Config
	Cardinality *cardinality.Config
	Aggregate   *aggregate.Config
	AddTag      *addtag.Config
}

// Built is the result of Build: the chain's head (what the driver drives)
// plus the ordered list of constructed stage instances (sink excluded),
// exposed so callers can poll stage-specific introspection methods
// (aggregate.Middleware.BucketSize, cardinality.Middleware.Occupancy)
// for self-observability without the chain package depending on any
// particular metrics backend.
type Built struct {
	Head   middleware.Middleware
	Stages []middleware.Middleware
}

// Build wires stages in order onto sink, the terminal middleware. The
// first element of stages is the head of the chain, the one the driver
// calls Poll/Submit on for every datagram line. An empty stages yields sink
// itself: a transparent proxy.
func Build(stages []StageConfig, sink middleware.Middleware) (Built, error) {
	head := sink
	built := make([]middleware.Middleware, len(stages))
	for i := len(stages) - 1; i >= 0; i-- {
		s := stages[i]
		next, err := buildStage(s, head)
		if err != nil {
			return Built{}, fmt.Errorf("chain: stage %d (%s): %w", i, s.Type, err)
		}
		head = next
		built[i] = next
	}
	return Built{Head: head, Stages: built}, nil
}

func buildStage(s StageConfig, next middleware.Middleware) (middleware.Middleware, error) {
	switch s.Type {
	case "deny-tag":
		if s.DenyTag == nil {
			return nil, fmt.Errorf("missing deny-tag configuration")
		}
		return denytag.New(*s.DenyTag, next), nil
	case "allow-tag":
		if s.AllowTag == nil {
			return nil, fmt.Errorf("missing allow-tag configuration")
		}
		return allowtag.New(*s.AllowTag, next), nil
	case "cardinality-limit":
		if s.Cardinality == nil {
			return nil, fmt.Errorf("missing cardinality-limit configuration")
		}
		if err := cardinality.Validate(*s.Cardinality); err != nil {
			return nil, fmt.Errorf("invalid cardinality-limit configuration: %w", err)
		}
		return cardinality.New(*s.Cardinality, next), nil
	case "aggregate-metrics":
		cfg := aggregate.DefaultConfig()
		if s.Aggregate != nil {
			cfg = *s.Aggregate
		}
		return aggregate.New(cfg, next), nil
	case "add-tag":
		if s.AddTag == nil {
			return nil, fmt.Errorf("missing add-tag configuration")
		}
		return addtag.New(*s.AddTag, next), nil
	default:
		return nil, fmt.Errorf("unknown middleware type %q", s.Type)
	}
}
