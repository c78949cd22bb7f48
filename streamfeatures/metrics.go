// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package streamfeatures

import (
	"encoding/xml"

	"github.com/prometheus/client_golang/prometheus"
)

var negotiations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "xmppc",
		Subsystem: "streamfeatures",
		Name:      "negotiations_total",
		Help:      "The total number of negotiated stream features.",
	},
	[]string{"feature", "result"},
)

func init() {
	prometheus.MustRegister(negotiations)
}

func reportNegotiation(feature xml.Name, result string) {
	negotiations.With(prometheus.Labels{"feature": feature.Local, "result": result}).Inc()
}
