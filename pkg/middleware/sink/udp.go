// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sink implements the terminal middleware of a chain: the
// adapter that writes a metric's wire bytes to the configured upstream.
//
// Grounded on the driver's own UDP listener style (§4.G, §11): the
// sink opens its own outbound socket, one line per datagram, and never
// blocks the calling goroutine for longer than the kernel send buffer
// requires.
package sink

import (
	"fmt"
	"net"

	"github.com/ClusterCockpit/statsdproxy/pkg/log"
	"github.com/ClusterCockpit/statsdproxy/pkg/metric"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware"
)

// UDPConfig is the UDP sink's configuration block.
type UDPConfig struct {
	Address string `yaml:"address"`
}

// UDP is a terminal middleware writing one UDP datagram per metric line
// to a fixed upstream address. It never returns Overloaded: a UDP send
// is best-effort and a failed write is logged and dropped.
type UDP struct {
	conn net.Conn
	addr string
}

// NewUDP dials the configured upstream address over UDP.
func NewUDP(cfg UDPConfig) (*UDP, error) {
	conn, err := net.Dial("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("sink: dial upstream %s failed: %w", cfg.Address, err)
	}
	return &UDP{conn: conn, addr: cfg.Address}, nil
}

func (s *UDP) Poll() error { return nil }

func (s *UDP) Submit(v *metric.View) (middleware.Result, error) {
	if _, err := s.conn.Write(v.RawBytes()); err != nil {
		log.Warnf("sink: write to upstream %s failed: %s", s.addr, err.Error())
	}
	return middleware.Forwarded, nil
}

// Drain is a no-op: the sink is terminal and holds no buffered metrics.
func (s *UDP) Drain() error { return nil }

// Close releases the outbound socket.
func (s *UDP) Close() error {
	return s.conn.Close()
}
