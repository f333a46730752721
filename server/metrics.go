// Copyright 2025 SQLGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"sqlgate/gateway/registry"
)

var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgate_requests_total",
			Help: "Total number of API requests processed by the gateway",
		},
		[]string{"route", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlgate_request_duration_milliseconds",
			Help:    "API request duration in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
		},
		[]string{"route"},
	)
	promRejectedStatements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlgate_rejected_statements_total",
			Help: "Total number of statements rejected by validation",
		},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promRejectedStatements)
}

var (
	poolInUseDesc = prometheus.NewDesc(
		"sqlgate_pool_connections_in_use",
		"Connections currently claimed from the pool",
		[]string{"target"}, nil,
	)
	poolAvailableDesc = prometheus.NewDesc(
		"sqlgate_pool_connections_available",
		"Idle connections ready for reuse",
		[]string{"target"}, nil,
	)
	poolAcquisitionsDesc = prometheus.NewDesc(
		"sqlgate_pool_acquisitions_total",
		"Total successful pool acquisitions",
		[]string{"target"}, nil,
	)
	poolFailedDesc = prometheus.NewDesc(
		"sqlgate_pool_failed_acquisitions_total",
		"Total pool acquisitions that failed or timed out",
		[]string{"target"}, nil,
	)
	poolResetsDesc = prometheus.NewDesc(
		"sqlgate_pool_transaction_resets_total",
		"Connections released with an open transaction and rolled back",
		[]string{"target"}, nil,
	)
)

// poolStatsCollector exposes live pool counters for every target the
// registry has connected so far. Stats are read at scrape time, so
// untouched targets simply do not appear.
type poolStatsCollector struct {
	reg *registry.Registry
}

func (c *poolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolInUseDesc
	ch <- poolAvailableDesc
	ch <- poolAcquisitionsDesc
	ch <- poolFailedDesc
	ch <- poolResetsDesc
}

func (c *poolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	for name, st := range c.reg.Stats() {
		ch <- prometheus.MustNewConstMetric(poolInUseDesc, prometheus.GaugeValue, float64(st.InUse), name)
		ch <- prometheus.MustNewConstMetric(poolAvailableDesc, prometheus.GaugeValue, float64(st.Available), name)
		ch <- prometheus.MustNewConstMetric(poolAcquisitionsDesc, prometheus.CounterValue, float64(st.TotalAcquisitions), name)
		ch <- prometheus.MustNewConstMetric(poolFailedDesc, prometheus.CounterValue, float64(st.FailedAcquisitions), name)
		ch <- prometheus.MustNewConstMetric(poolResetsDesc, prometheus.CounterValue, float64(st.TransactionResets), name)
	}
}

func registerPoolStats(reg *registry.Registry) {
	c := &poolStatsCollector{reg: reg}
	// Replace the collector from any previous server instance; the
	// default registry is process-global.
	prometheus.Unregister(c)
	prometheus.MustRegister(c)
}
