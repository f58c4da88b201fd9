// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package natsclient wraps nats.go connection setup for the nats sink.
//
// Grounded on the teacher's pkg/nats/client.go, adapted from a
// process-wide singleton (sync.Once + package-level GetClient) to a
// plain constructor: a proxy process may run several independent
// pipelines (§5), each wanting its own connection and reconnect
// handling, so no shared global state is kept.
package natsclient

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/ClusterCockpit/statsdproxy/pkg/log"
)

// Config is the nats sink's connection configuration.
type Config struct {
	Address       string `yaml:"address"`
	Subject       string `yaml:"subject"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	CredsFilePath string `yaml:"creds_file_path"`
}

// Client wraps a single NATS connection used to publish metric lines.
type Client struct {
	conn    *nats.Conn
	subject string
}

// Connect dials the configured NATS server and returns a ready Client.
func Connect(cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("natsclient: address is required")
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("natsclient: subject is required")
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			log.Warnf("natsclient: disconnected: %s", err.Error())
		}
	}))
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		log.Infof("natsclient: reconnected to %s", nc.ConnectedUrl())
	}))
	opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		if err != nil {
			log.Errorf("natsclient: async error: %s", err.Error())
		}
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsclient: connect to %s failed: %w", cfg.Address, err)
	}
	log.Infof("natsclient: connected to %s, publishing to '%s'", cfg.Address, cfg.Subject)

	return &Client{conn: nc, subject: cfg.Subject}, nil
}

// Publish sends data to the client's configured subject.
func (c *Client) Publish(data []byte) error {
	if err := c.conn.Publish(c.subject, data); err != nil {
		return fmt.Errorf("natsclient: publish failed: %w", err)
	}
	return nil
}

// Flush flushes the connection's pending publish buffer.
func (c *Client) Flush() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Flush()
}

// IsConnected reports whether the underlying connection is currently up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close closes the underlying connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
		log.Info("natsclient: connection closed")
	}
}
