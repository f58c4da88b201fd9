// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the YAML configuration file (§6) and resolves it
// into typed stage configurations for pkg/chain.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/ClusterCockpit/statsdproxy/pkg/chain"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/addtag"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/aggregate"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/allowtag"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/cardinality"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/denytag"
	"github.com/ClusterCockpit/statsdproxy/pkg/natsclient"
)

// LogConfig is the ambient logging configuration block.
type LogConfig struct {
	Level   string `yaml:"level"`
	LogDate bool   `yaml:"logdate"`
}

// MetricsConfig is the self-observability configuration block.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the top-level configuration document.
type Config struct {
	Listen      string        `yaml:"listen"`
	Upstream    string        `yaml:"upstream"`
	Sink        string        `yaml:"sink"`
	NATS        natsclient.Config `yaml:"nats"`
	Log         LogConfig     `yaml:"log"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Middlewares []rawStage    `yaml:"middlewares"`
}

// rawStage captures one middlewares[] entry generically: the type
// discriminator plus every other field, decoded a second time into the
// type-specific struct once the discriminator is known.
type rawStage struct {
	Type   string                 `yaml:"type"`
	Fields map[string]interface{} `yaml:",inline"`
}

// Default returns a Config with every ambient default applied (§10.2):
// listen on the standard statsd port, an empty middleware chain
// (transparent proxy), info-level logging, no metrics endpoint.
func Default() Config {
	return Config{
		Listen:   ":8125",
		Sink:     "udp",
		Upstream: "127.0.0.1:8126",
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads and parses the YAML document at path, returning a Config
// with defaults applied for every field the document omits.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.UnmarshalWithOptions(raw, &cfg, yaml.Strict()); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Stages resolves the document's middlewares sequence into the typed
// chain.StageConfig values pkg/chain.Build expects, validating the type
// discriminator as it goes.
func (c Config) Stages() ([]chain.StageConfig, error) {
	stages := make([]chain.StageConfig, 0, len(c.Middlewares))
	for i, raw := range c.Middlewares {
		s, err := raw.resolve()
		if err != nil {
			return nil, fmt.Errorf("config: middlewares[%d]: %w", i, err)
		}
		stages = append(stages, s)
	}
	return stages, nil
}

func (r rawStage) resolve() (chain.StageConfig, error) {
	body, err := yaml.Marshal(r.Fields)
	if err != nil {
		return chain.StageConfig{}, err
	}

	switch r.Type {
	case "deny-tag":
		var cfg denytag.Config
		if err := yaml.UnmarshalWithOptions(body, &cfg, yaml.Strict()); err != nil {
			return chain.StageConfig{}, err
		}
		return chain.StageConfig{Type: r.Type, DenyTag: &cfg}, nil
	case "allow-tag":
		var cfg allowtag.Config
		if err := yaml.UnmarshalWithOptions(body, &cfg, yaml.Strict()); err != nil {
			return chain.StageConfig{}, err
		}
		return chain.StageConfig{Type: r.Type, AllowTag: &cfg}, nil
	case "cardinality-limit":
		var cfg cardinality.Config
		if err := yaml.UnmarshalWithOptions(body, &cfg, yaml.Strict()); err != nil {
			return chain.StageConfig{}, err
		}
		return chain.StageConfig{Type: r.Type, Cardinality: &cfg}, nil
	case "aggregate-metrics":
		cfg := aggregate.DefaultConfig()
		if err := yaml.UnmarshalWithOptions(body, &cfg, yaml.Strict()); err != nil {
			return chain.StageConfig{}, err
		}
		return chain.StageConfig{Type: r.Type, Aggregate: &cfg}, nil
	case "add-tag":
		var cfg addtag.Config
		if err := yaml.UnmarshalWithOptions(body, &cfg, yaml.Strict()); err != nil {
			return chain.StageConfig{}, err
		}
		return chain.StageConfig{Type: r.Type, AddTag: &cfg}, nil
	default:
		return chain.StageConfig{}, fmt.Errorf("unknown middleware type %q", r.Type)
	}
}
