// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tierqueue

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors a Queue updates as it runs.
// Callers register Metrics once per process and pass it (or a no-op
// Metrics built with NewMetrics(nil)) into every Queue.
type Metrics struct {
	ramMsgCount      *prometheus.GaugeVec
	ramIndexCount    *prometheus.GaugeVec
	queueLen         *prometheus.GaugeVec
	deltaCount       *prometheus.GaugeVec
	phaseChangeTotal *prometheus.CounterVec
}

// NewMetrics constructs and, if reg is non-nil, registers the collector
// set. Passing a nil registry yields working-but-unregistered
// collectors, useful for tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ramMsgCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tierqueue",
			Name:      "ram_msg_count",
			Help:      "Messages currently held fully in RAM (alpha tier).",
		}, []string{"queue"}),
		ramIndexCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tierqueue",
			Name:      "ram_index_count",
			Help:      "Messages whose queue-index position is still only in RAM.",
		}, []string{"queue"}),
		queueLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tierqueue",
			Name:      "queue_len",
			Help:      "Total resident message count across all five tiers.",
		}, []string{"queue"}),
		deltaCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tierqueue",
			Name:      "delta_count",
			Help:      "Live message count represented by the delta range.",
		}, []string{"queue"}),
		phaseChangeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tierqueue",
			Name:      "phase_change_total",
			Help:      "Phase-change passes run, by transition.",
		}, []string{"queue", "transition"}),
	}
	if reg != nil {
		reg.MustRegister(m.ramMsgCount, m.ramIndexCount, m.queueLen, m.deltaCount, m.phaseChangeTotal)
	}
	return m
}

func (m *Metrics) observe(queue string, p *Pipeline) {
	if m == nil {
		return
	}
	m.ramMsgCount.WithLabelValues(queue).Set(float64(p.RAMMsgCount()))
	m.ramIndexCount.WithLabelValues(queue).Set(float64(p.RAMIndexCount()))
	m.queueLen.WithLabelValues(queue).Set(float64(p.Len()))
	m.deltaCount.WithLabelValues(queue).Set(float64(p.Delta.Count))
}

func (m *Metrics) incPhaseChange(queue, transition string) {
	if m == nil {
		return
	}
	m.phaseChangeTotal.WithLabelValues(queue, transition).Inc()
}
