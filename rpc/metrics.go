// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Plan result sources.
const (
	sourceComputed = "computed"
	sourceCached   = "cached"
	sourceError    = "error"
)

// Metrics holds the plan service's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	plans    *prometheus.CounterVec
	retained prometheus.Histogram
}

// NewMetrics returns a new Metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagecraft",
			Name:      "plans_total",
			Help:      "Total number of plan calls, by result source.",
		}, []string{"source"}),
		retained: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "imagecraft",
			Name:      "plan_retained_ratio",
			Help:      "Fraction of source frames retained by computed plans.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}
	for _, c := range []prometheus.Collector{m.plans, m.retained} {
		err := reg.Register(c)
		if err != nil {
			return nil, err
		}
	}
	// Make all sources visible before the first call.
	for _, src := range []string{sourceComputed, sourceCached, sourceError} {
		m.plans.WithLabelValues(src)
	}
	return m, nil
}

func (m *Metrics) count(source string) {
	if m == nil {
		return
	}
	m.plans.WithLabelValues(source).Inc()
}

func (m *Metrics) observe(retained, frames int) {
	if m == nil || frames <= 0 {
		return
	}
	m.retained.Observe(float64(retained) / float64(frames))
}

// MetricsHandler returns an HTTP handler serving the metrics gathered by g.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
