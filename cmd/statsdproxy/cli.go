// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of statsdproxy.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import "flag"

var (
	flagGops, flagLogDateTime, flagVersion   bool
	flagListen, flagUpstream, flagConfigFile string
	flagLogLevel, flagMetricsAddr            string
)

func cliInit() {
	flag.StringVar(&flagListen, "listen", "", "Address to receive statsd datagrams on, e.g. `:8125` (overrides the config file)")
	flag.StringVar(&flagUpstream, "upstream", "", "Upstream address to forward UDP metrics to (overrides the config file)")
	flag.StringVar(&flagConfigFile, "c", "", "Path to the YAML configuration file")
	flag.StringVar(&flagLogLevel, "loglevel", "", "Sets the logging level: `[debug, info (default), warn, err, crit]`")
	flag.BoolVar(&flagLogDateTime, "logdate", false, "Set this flag to add date and time to log messages")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagMetricsAddr, "metrics-addr", "", "Address to serve Prometheus self-observability metrics on, e.g. `:9090` (disabled if empty)")
	flag.BoolVar(&flagVersion, "version", false, "Show version information and exit")
	flag.Parse()
}
