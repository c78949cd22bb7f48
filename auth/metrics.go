// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

var authentications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "xmppc",
		Subsystem: "auth",
		Name:      "authentications_total",
		Help:      "The total number of SASL exchanges.",
	},
	[]string{"mechanism", "result"},
)

func init() {
	prometheus.MustRegister(authentications)
}

func reportAuth(mechanism, result string) {
	authentications.With(prometheus.Labels{"mechanism": mechanism, "result": result}).Inc()
}
