// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package driver runs the UDP receive loop that feeds lines into a
// middleware chain: the single driving goroutine of §5's cooperative
// scheduling model.
//
// Grounded on cmd/cc-backend/main.go's listener-then-serve-then-signal
// idiom, reduced to the single blocking receive loop a UDP proxy needs
// instead of an http.Server.
package driver

import (
	"bytes"
	"net"
	"time"

	"github.com/ClusterCockpit/statsdproxy/internal/obsmetrics"
	"github.com/ClusterCockpit/statsdproxy/pkg/log"
	"github.com/ClusterCockpit/statsdproxy/pkg/metric"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware"
)

// maxDatagramSize is large enough for any realistic statsd UDP payload;
// datagrams exceeding it are truncated by the kernel before we see them.
const maxDatagramSize = 65507

// idleTick is how often Poll is invoked even when no datagram arrives,
// so time-bucketed middlewares (aggregate-metrics, cardinality-limit)
// still flush and expire on a quiet socket. It is implemented as the
// read deadline on the same loop that handles datagrams, not a second
// goroutine: §5 requires every Poll/Submit call on the chain to come
// from one goroutine, since stages like aggregate-metrics keep
// unsynchronized internal state across calls.
const idleTick = 100 * time.Millisecond

// observeInterval is how often the onTick hook (self-observability
// sampling) runs, piggybacked on the same single-goroutine loop.
const observeInterval = time.Second

// Driver owns the inbound UDP socket and drives Poll/Submit calls into
// the head of a middleware chain.
type Driver struct {
	conn   *net.UDPConn
	chain  middleware.Middleware
	stop   chan struct{}
	onTick func()

	linesReceived uint64
	bytesReceived uint64
}

// New binds listenAddr and returns a Driver ready to Run against chain.
func New(listenAddr string, chain middleware.Middleware) (*Driver, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	log.Infof("driver: listening on %s", conn.LocalAddr().String())
	return &Driver{conn: conn, chain: chain, stop: make(chan struct{})}, nil
}

// LinesReceived returns the number of statsd lines received so far.
func (d *Driver) LinesReceived() uint64 { return d.linesReceived }

// OnTick registers fn to run every observeInterval, from the same
// goroutine that drives Poll/Submit. Must be called before Run.
func (d *Driver) OnTick(fn func()) { d.onTick = fn }

// Run reads datagrams until Shutdown is called, splitting each on '\n'
// and feeding every non-empty line through Poll-then-Submit, per §2/§6.
// A read timeout (idleTick) doubles as the idle-Poll signal, so this
// loop is the sole goroutine ever touching the chain. It returns once
// the socket is closed by Shutdown.
func (d *Driver) Run() error {
	buf := make([]byte, maxDatagramSize)
	lastObserve := time.Now()

	for {
		d.conn.SetReadDeadline(time.Now().Add(idleTick))
		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-d.stop:
				return d.shutdownSequence()
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if perr := d.chain.Poll(); perr != nil {
					log.Errorf("driver: idle poll failed: %s", perr.Error())
				}
				d.maybeObserve(&lastObserve)
				continue
			}
			return err
		}
		d.handleDatagram(buf[:n])
		d.maybeObserve(&lastObserve)
	}
}

func (d *Driver) maybeObserve(last *time.Time) {
	if d.onTick == nil {
		return
	}
	if now := time.Now(); now.Sub(*last) >= observeInterval {
		*last = now
		d.onTick()
	}
}

func (d *Driver) handleDatagram(datagram []byte) {
	d.bytesReceived += uint64(len(datagram))
	for _, line := range bytes.Split(datagram, []byte{'\n'}) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		d.linesReceived++
		obsmetrics.LinesReceived.Inc()
		v := metric.Parse(line)
		if err := d.chain.Poll(); err != nil {
			log.Errorf("driver: poll failed: %s", err.Error())
			continue
		}
		if err := middleware.SubmitWithRetry(d.chain, v); err != nil {
			log.Errorf("driver: submit failed: %s", err.Error())
		}
	}
}

// Shutdown unblocks Run and asks it to stop. The actual chain
// draining happens inside Run's own goroutine (shutdownSequence),
// never here, so the chain is still only ever touched by the one
// goroutine that drives it (§5).
func (d *Driver) Shutdown() {
	close(d.stop)
	d.conn.Close()
}

// shutdownSequence runs a final Poll, then an unconditional Drain that
// forces every buffering middleware in the chain to flush regardless
// of clock boundaries, per §5's shutdown sequence. Called from Run's
// own goroutine once Shutdown has signaled it to stop.
func (d *Driver) shutdownSequence() error {
	if err := d.chain.Poll(); err != nil {
		log.Errorf("driver: shutdown poll failed: %s", err.Error())
	}
	if err := middleware.Drain(d.chain); err != nil {
		log.Errorf("driver: shutdown drain failed: %s", err.Error())
	}
	return nil
}
