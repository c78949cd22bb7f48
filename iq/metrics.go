// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package iq

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppc",
			Subsystem: "iq",
			Name:      "requests_total",
			Help:      "The total number of IQ requests sent, by outcome.",
		},
		[]string{"outcome"},
	)
	handled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppc",
			Subsystem: "iq",
			Name:      "handled_total",
			Help:      "The total number of IQ requests received, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(requests)
	prometheus.MustRegister(handled)
}

func reportRequest(outcome string) {
	requests.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func reportCallee(outcome string) {
	handled.With(prometheus.Labels{"outcome": outcome}).Inc()
}
