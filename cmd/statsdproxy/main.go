// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/gops/agent"

	"github.com/ClusterCockpit/statsdproxy/internal/config"
	"github.com/ClusterCockpit/statsdproxy/internal/driver"
	"github.com/ClusterCockpit/statsdproxy/internal/obsmetrics"
	"github.com/ClusterCockpit/statsdproxy/pkg/chain"
	"github.com/ClusterCockpit/statsdproxy/pkg/log"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/aggregate"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/cardinality"
	"github.com/ClusterCockpit/statsdproxy/pkg/middleware/sink"
)

var version = "dev"

func main() {
	cliInit()

	if flagVersion {
		fmt.Printf("statsdproxy %s\n", version)
		return
	}

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	cfg := config.Default()
	if flagConfigFile != "" {
		loaded, err := config.Load(flagConfigFile)
		if err != nil {
			log.Error(err.Error())
			os.Exit(1)
		}
		cfg = loaded
	}
	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if flagUpstream != "" {
		cfg.Upstream = flagUpstream
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogDateTime {
		cfg.Log.LogDate = true
	}
	if flagMetricsAddr != "" {
		cfg.Metrics.Addr = flagMetricsAddr
	}

	log.SetLogLevel(cfg.Log.Level)
	log.SetLogDateTime(cfg.Log.LogDate)

	middleware.OnRetry = obsmetrics.OverloadRetries.Inc
	middleware.OnExhausted = obsmetrics.OverloadExhausted.Inc
	middleware.OnDrop = func(name, reason string) {
		obsmetrics.MetricsDropped.WithLabelValues(name, reason).Inc()
	}

	stages, err := cfg.Stages()
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	sinkMiddleware, closeSink, err := buildSink(cfg)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
	defer closeSink()

	built, err := chain.Build(stages, sinkMiddleware)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	d, err := driver.New(cfg.Listen, built.Head)
	if err != nil {
		log.Errorf("failed to bind %s: %s", cfg.Listen, err.Error())
		os.Exit(2)
	}

	stopMetricsServer, err := obsmetrics.Serve(cfg.Metrics.Addr)
	if err != nil {
		log.Errorf("failed to start metrics server on %s: %s", cfg.Metrics.Addr, err.Error())
		os.Exit(2)
	}
	defer stopMetricsServer()

	d.OnTick(func() { sampleSelfObservability(built.Stages) })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.Run(); err != nil {
			log.Errorf("driver stopped: %s", err.Error())
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info("shutting down")
	d.Shutdown()
	wg.Wait()
	log.Print("graceful shutdown completed")
}

// buildSink constructs the terminal middleware from the configured sink
// type, returning a close func the caller must invoke during shutdown.
func buildSink(cfg config.Config) (middleware.Middleware, func(), error) {
	switch cfg.Sink {
	case "", "udp":
		s, err := sink.NewUDP(sink.UDPConfig{Address: cfg.Upstream})
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warnf("sink: close: %s", err.Error())
			}
		}, nil
	case "nats":
		natsCfg := cfg.NATS
		s, err := sink.NewNATS(natsCfg)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warnf("sink: close: %s", err.Error())
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink type %q", cfg.Sink)
	}
}

// sampleSelfObservability reads bucket/occupancy gauges off any stage
// that exposes them and republishes to Prometheus, since pkg/chain and
// pkg/middleware deliberately have no dependency on any particular
// metrics backend (§10.3). Called from driver.Driver's own driving
// goroutine via OnTick, never concurrently with Poll/Submit, since the
// stages it inspects keep unsynchronized internal state (§5).
func sampleSelfObservability(stages []middleware.Middleware) {
	for _, s := range stages {
		switch st := s.(type) {
		case *aggregate.Middleware:
			obsmetrics.AggregateBucketSize.Set(float64(st.BucketSize()))
		case *cardinality.Middleware:
			for window, occupancy := range st.Occupancy() {
				obsmetrics.CardinalityOccupancy.
					WithLabelValues(fmt.Sprintf("%d", window)).
					Set(float64(occupancy))
			}
		}
	}
}
