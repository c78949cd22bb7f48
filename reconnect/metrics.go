// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package reconnect

import (
	"github.com/prometheus/client_golang/prometheus"
)

var retries = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "xmppc",
	Subsystem: "reconnect",
	Name:      "attempts_total",
	Help:      "The total number of reconnection attempts.",
})

func init() {
	prometheus.MustRegister(retries)
}

func reportRetry() {
	retries.Inc()
}
