// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package entity

import (
	"github.com/prometheus/client_golang/prometheus"

	"mellium.im/client/transport"
)

var (
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppc",
			Subsystem: "entity",
			Name:      "connect_attempts_total",
			Help:      "The total number of endpoints dialed.",
		},
		[]string{"transport"},
	)
	connectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppc",
			Subsystem: "entity",
			Name:      "connect_failures_total",
			Help:      "The total number of endpoints that could not be dialed.",
		},
		[]string{"transport"},
	)
	disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppc",
			Subsystem: "entity",
			Name:      "disconnects_total",
			Help:      "The total number of connections that ended.",
		},
		[]string{"clean"},
	)
)

func init() {
	prometheus.MustRegister(connectAttempts)
	prometheus.MustRegister(connectFailures)
	prometheus.MustRegister(disconnects)
}

func reportConnectAttempt(k transport.Kind) {
	connectAttempts.With(prometheus.Labels{"transport": string(k)}).Inc()
}

func reportConnectFailure(k transport.Kind) {
	connectFailures.With(prometheus.Labels{"transport": string(k)}).Inc()
}

func reportDisconnect(cause error) {
	clean := "true"
	if cause != nil {
		clean = "false"
	}
	disconnects.With(prometheus.Labels{"clean": clean}).Inc()
}
