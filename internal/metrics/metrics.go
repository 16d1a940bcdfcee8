// Package metrics exposes shaping activity to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clayformer.ai/internal/sim/action"
	"clayformer.ai/internal/sim/recipecache"
	"clayformer.ai/internal/sim/shaping"
)

const namespace = "clayformer"

// Metrics counts engine events and applied actions. It is both an event
// sink and an action logger so the server can fan out to it.
type Metrics struct {
	reg *prometheus.Registry

	events   *prometheus.CounterVec
	finished *prometheus.CounterVec
	actions  *prometheus.CounterVec
	covered  prometheus.Counter
	modes    *prometheus.CounterVec
}

var (
	_ shaping.EventSink    = (*Metrics)(nil)
	_ shaping.ActionLogger = (*Metrics)(nil)
)

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Engine events by kind.",
		}, []string{"kind"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Finished runs by how the sequence was obtained.",
		}, []string{"source"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_applied_total",
			Help:      "Tool actions applied by mode and polarity.",
		}, []string{"mode", "polarity"}),
		covered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_covered_total",
			Help:      "Cells the applied actions were planned to change.",
		}),
		modes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_mode_switches_total",
			Help:      "Tool mode packets sent by target mode.",
		}, []string{"mode"}),
	}
	m.reg.MustRegister(m.events, m.finished, m.actions, m.covered, m.modes)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Emit implements shaping.EventSink.
func (m *Metrics) Emit(ev shaping.Event) {
	m.events.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Kind != shaping.EventSuccess {
		return
	}
	switch {
	case ev.Vanished:
		m.finished.WithLabelValues("vanished").Inc()
	case ev.FromCache:
		m.finished.WithLabelValues("cache").Inc()
	default:
		m.finished.WithLabelValues("planned").Inc()
	}
}

// WriteAction implements shaping.ActionLogger.
func (m *Metrics) WriteAction(e shaping.ActionLogEntry) error {
	m.actions.WithLabelValues(e.Action.Mode.String(), e.Action.Polarity.String()).Inc()
	m.covered.Add(float64(len(e.Action.Covered)))
	return nil
}

func (m *Metrics) ToolModeSwitched(mode action.Mode) {
	m.modes.WithLabelValues(mode.String()).Inc()
}

// WatchCache exports the recipe cache counters.
func (m *Metrics) WatchCache(c *recipecache.Cache) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "entries",
			Help: "Cached action sequences.",
		}, func() float64 { return float64(c.Stats().Entries) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "actions",
			Help: "Actions held across all cached sequences.",
		}, func() float64 { return float64(c.Stats().Actions) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Cache lookups that found a sequence.",
		}, func() float64 { return float64(c.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Cache lookups that found nothing.",
		}, func() float64 { return float64(c.Stats().Misses) }),
	)
}

// WatchGauge exports an arbitrary sampled value, such as the number of
// running engines or the index queue depth.
func (m *Metrics) WatchGauge(name, help string, fn func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: name, Help: help,
	}, fn))
}
