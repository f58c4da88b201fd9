// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package driver

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/statsdproxy/pkg/metric"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware"
)

type recordingChain struct {
	mu    sync.Mutex
	lines []string
	polls int
}

func (c *recordingChain) Poll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	return nil
}

func (c *recordingChain) Submit(v *metric.View) (middleware.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, string(v.RawBytes()))
	return middleware.Forwarded, nil
}

func (c *recordingChain) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestDriverSplitsDatagramOnNewlineAndSkipsEmptyLines(t *testing.T) {
	chain := &recordingChain{}
	d, err := New("127.0.0.1:0", chain)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	conn, err := net.Dial("udp", d.conn.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("users.online:1|c\n\nfoo:bar\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(chain.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"users.online:1|c", "foo:bar"}, chain.snapshot())

	d.Shutdown()
	require.Eventually(t, func() bool {
		select {
		case err := <-done:
			return err == nil
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestDriverPollsOnIdleTicks(t *testing.T) {
	chain := &recordingChain{}
	d, err := New("127.0.0.1:0", chain)
	require.NoError(t, err)

	go d.Run()

	require.Eventually(t, func() bool {
		chain.mu.Lock()
		defer chain.mu.Unlock()
		return chain.polls > 0
	}, time.Second, 5*time.Millisecond)

	d.Shutdown()
}

type drainableChain struct {
	recordingChain
	drains int
}

func (c *drainableChain) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drains++
	return nil
}

func TestDriverShutdownDrainsChain(t *testing.T) {
	chain := &drainableChain{}
	d, err := New("127.0.0.1:0", chain)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	require.Eventually(t, func() bool {
		chain.mu.Lock()
		defer chain.mu.Unlock()
		return chain.polls > 0
	}, time.Second, 5*time.Millisecond)

	d.Shutdown()
	require.Eventually(t, func() bool {
		select {
		case err := <-done:
			return err == nil
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	chain.mu.Lock()
	defer chain.mu.Unlock()
	assert.Equal(t, 1, chain.drains)
}

func TestDriverOnTickFires(t *testing.T) {
	chain := &recordingChain{}
	d, err := New("127.0.0.1:0", chain)
	require.NoError(t, err)

	var mu sync.Mutex
	ticks := 0
	d.OnTick(func() {
		mu.Lock()
		defer mu.Unlock()
		ticks++
	})

	go d.Run()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks > 0
	}, 2*time.Second, 10*time.Millisecond)

	d.Shutdown()
}
