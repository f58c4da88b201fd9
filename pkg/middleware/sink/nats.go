// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sink

import (
	"github.com/ClusterCockpit/statsdproxy/pkg/log"
	"github.com/ClusterCockpit/statsdproxy/pkg/metric"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware"
	"github.com/ClusterCockpit/statsdproxy/pkg/natsclient"
)

// NATS is a terminal middleware publishing one NATS message per metric
// line on a fixed subject.
type NATS struct {
	client *natsclient.Client
}

// NewNATS connects to the configured NATS server and returns a ready sink.
func NewNATS(cfg natsclient.Config) (*NATS, error) {
	client, err := natsclient.Connect(cfg)
	if err != nil {
		return nil, err
	}
	return &NATS{client: client}, nil
}

// Poll flushes the connection's pending publish buffer.
func (s *NATS) Poll() error {
	return s.client.Flush()
}

func (s *NATS) Submit(v *metric.View) (middleware.Result, error) {
	if !s.client.IsConnected() {
		return middleware.Overloaded, nil
	}
	if err := s.client.Publish(v.RawBytes()); err != nil {
		log.Warnf("sink: nats publish failed: %s", err.Error())
		return middleware.Overloaded, nil
	}
	return middleware.Forwarded, nil
}

// Drain flushes any pending publishes: the NATS sink is terminal but a
// client-side publish buffer can still hold unsent messages.
func (s *NATS) Drain() error { return s.client.Flush() }

// Close closes the underlying NATS connection.
func (s *NATS) Close() error {
	s.client.Close()
	return nil
}
