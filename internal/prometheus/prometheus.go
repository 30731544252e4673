// Copyright 2019 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package prometheus exports engine metrics through a Prometheus registry.
package prometheus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/openstack-archive/congress-sub001/logging"
	"github.com/openstack-archive/congress-sub001/metrics"
)

// DefaultBuckets are the duration buckets in seconds used when none are given.
var DefaultBuckets = []float64{
	1e-5,
	5e-5,
	1e-4,
	5e-4,
	1e-3, // 1 millisecond
	5e-3,
	0.01,
	0.1,
	1, // 1 second
	10,
}

// Provider wraps a metrics.Metrics provider with a Prometheus registry. Timers
// and counters obtained from the provider also feed the registry.
type Provider struct {
	registry  *prometheus.Registry
	durations *prometheus.HistogramVec
	counts    *prometheus.CounterVec
	inner     metrics.Metrics
	logger    logging.Logger
}

// New returns a new Provider object.
func New(inner metrics.Metrics, logger logging.Logger, buckets []float64) *Provider {
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	durations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "congress",
			Name:      "operation_duration_seconds",
			Help:      "A histogram of duration for engine operations.",
			Buckets:   buckets,
		},
		[]string{"operation"},
	)
	counts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "congress",
			Name:      "events_total",
			Help:      "A count of engine events by kind.",
		},
		[]string{"kind"},
	)
	registry.MustRegister(durations, counts)

	return &Provider{
		registry:  registry,
		durations: durations,
		counts:    counts,
		inner:     inner,
		logger:    logger,
	}
}

// Handler returns the handler that serves the registry in the Prometheus
// exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// RegisterEndpoints registers the `/metrics` endpoint on mux.
func (p *Provider) RegisterEndpoints(mux *http.ServeMux) {
	mux.Handle("/metrics", p.Handler())
}

// Gather returns the metric families of the registry.
func (p *Provider) Gather() ([]*dto.MetricFamily, error) {
	return p.registry.Gather()
}

// Info returns attributes that describe the metric provider.
func (*Provider) Info() metrics.Info {
	return metrics.Info{Name: "prometheus"}
}

// All returns the union of the inner metric provider and the underlying
// prometheus registry.
func (p *Provider) All() map[string]interface{} {
	all := p.inner.All()
	if all == nil {
		all = map[string]interface{}{}
	}

	families, err := p.registry.Gather()
	if err != nil {
		p.logger.WithFields(map[string]interface{}{"err": err}).Error("Failed to gather metrics from Prometheus registry.")
	}

	for _, f := range families {
		all[f.GetName()] = family{f}
	}
	return all
}

// MarshalJSON returns a JSON representation of the unioned metrics.
func (p *Provider) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.All())
}

// Timer returns a named timer. Stopping the timer observes the elapsed time
// in the operation histogram.
func (p *Provider) Timer(name string) metrics.Timer {
	return &timer{Timer: p.inner.Timer(name), obs: p.durations.WithLabelValues(name)}
}

// Counter returns a named counter. Increments are mirrored to the events
// counter.
func (p *Provider) Counter(name string) metrics.Counter {
	return &counter{Counter: p.inner.Counter(name), prom: p.counts.WithLabelValues(name)}
}

// Histogram returns a named histogram.
func (p *Provider) Histogram(name string) metrics.Histogram {
	return p.inner.Histogram(name)
}

// Clear resets the inner metric provider. The Prometheus registry does not
// expose an interface to clear the metrics so this call has no effect on
// metrics tracked by Prometheus.
func (p *Provider) Clear() {
	p.inner.Clear()
}

// MustRegister registers cs on the registry and panics when an error occurs.
func (p *Provider) MustRegister(cs ...prometheus.Collector) {
	p.registry.MustRegister(cs...)
}

type timer struct {
	metrics.Timer
	obs prometheus.Observer
}

func (t *timer) Stop() int64 {
	delta := t.Timer.Stop()
	if delta > 0 {
		t.obs.Observe(time.Duration(delta).Seconds())
	}
	return delta
}

type counter struct {
	metrics.Counter
	prom prometheus.Counter
}

func (c *counter) Incr() {
	c.Counter.Incr()
	c.prom.Inc()
}

func (c *counter) Add(n uint64) {
	c.Counter.Add(n)
	c.prom.Add(float64(n))
}

// family renders a metric family as JSON.
type family struct {
	f *dto.MetricFamily
}

type sample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
	Count  uint64            `json:"count,omitempty"`
}

func (w family) MarshalJSON() ([]byte, error) {
	samples := make([]sample, 0, len(w.f.GetMetric()))
	for _, m := range w.f.GetMetric() {
		var s sample
		if len(m.GetLabel()) > 0 {
			s.Labels = make(map[string]string, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				s.Labels[l.GetName()] = l.GetValue()
			}
		}
		switch {
		case m.GetCounter() != nil:
			s.Value = m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			s.Value = m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			s.Value = m.GetHistogram().GetSampleSum()
			s.Count = m.GetHistogram().GetSampleCount()
		case m.GetSummary() != nil:
			s.Value = m.GetSummary().GetSampleSum()
			s.Count = m.GetSummary().GetSampleCount()
		case m.GetUntyped() != nil:
			s.Value = m.GetUntyped().GetValue()
		}
		samples = append(samples, s)
	}
	return json.Marshal(map[string]interface{}{
		"name":    w.f.GetName(),
		"help":    w.f.GetHelp(),
		"type":    w.f.GetType().String(),
		"metrics": samples,
	})
}
