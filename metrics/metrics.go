// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package metrics contains helpers for performance metric management inside
// the policy engine.
package metrics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	go_metrics "github.com/rcrowley/go-metrics"
)

// Well-known metric names.
const (
	PolicyUpdate       = "policy_update"
	PolicySelect       = "policy_select"
	PolicyExplain      = "policy_explain"
	PolicySimulate     = "policy_simulate"
	QueryParse         = "query_parse"
	QueryCacheHit      = "query_cache_hit"
	EventsApplied      = "events_applied"
	EventsRejected     = "events_rejected"
	ActionsDispatched  = "actions_dispatched"
	TablesPublished    = "tables_published"
	DataSourceReceive  = "datasource_receive"
	DataSourcePoll     = "datasource_poll"
	DataSourceErrors   = "datasource_errors"
	MaterializedChange = "materialized_change"
)

// Info contains attributes describing the underlying metrics provider.
type Info struct {
	Name string `json:"name"`
}

// Metrics defines the interface for a collection of performance metrics in the
// policy engine.
type Metrics interface {
	Info() Info
	Timer(name string) Timer
	Histogram(name string) Histogram
	Counter(name string) Counter
	All() map[string]interface{}
	Clear()
	json.Marshaler
}

// Timer defines the interface for a restartable timer that accumulates elapsed
// time.
type Timer interface {
	Value() interface{}
	Int64() int64
	// Start or resume a timer's time tracking.
	Start()
	// Stop a timer, and accumulate the delta (in nanoseconds) since it was last
	// started.
	Stop() int64
}

// Histogram defines the interface for a histogram with hardcoded percentiles.
type Histogram interface {
	Value() interface{}
	Update(int64)
}

// Counter defines the interface for a monotonic increasing counter.
type Counter interface {
	Value() interface{}
	Incr()
	Add(n uint64)
}

type metrics struct {
	mtx    sync.Mutex
	values map[string]interface{ Value() interface{} }
}

// New returns a new Metrics object.
func New() Metrics {
	return &metrics{values: map[string]interface{ Value() interface{} }{}}
}

func (*metrics) Info() Info {
	return Info{Name: "<built-in>"}
}

func (m *metrics) Timer(name string) Timer {
	return lookup(m, "timer_"+name+"_ns", func() Timer { return &timer{} })
}

func (m *metrics) Histogram(name string) Histogram {
	return lookup(m, "histogram_"+name, newHistogram)
}

func (m *metrics) Counter(name string) Counter {
	return lookup(m, "counter_"+name, func() Counter { return &counter{} })
}

// lookup returns the metric stored under key, creating it on first use.
func lookup[T interface{ Value() interface{} }](m *metrics, key string, create func() T) T {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if v, ok := m.values[key].(T); ok {
		return v
	}
	v := create()
	m.values[key] = v
	return v
}

func (m *metrics) All() map[string]interface{} {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	result := make(map[string]interface{}, len(m.values))
	for key, v := range m.values {
		result[key] = v.Value()
	}
	return result
}

func (m *metrics) Clear() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.values = map[string]interface{ Value() interface{} }{}
}

func (m *metrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.All())
}

func (m *metrics) String() string {
	all := m.All()
	keys := make([]string, 0, len(all))
	for key := range all {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	buf := make([]string, len(keys))
	for i, key := range keys {
		buf[i] = fmt.Sprintf("%v:%v", key, all[key])
	}
	return strings.Join(buf, " ")
}

type timer struct {
	mtx   sync.Mutex
	start time.Time
	value int64
}

func (t *timer) Start() {
	t.mtx.Lock()
	t.start = time.Now()
	t.mtx.Unlock()
}

func (t *timer) Stop() int64 {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.start.IsZero() {
		return 0
	}
	delta := time.Since(t.start).Nanoseconds()
	t.value += delta
	t.start = time.Time{}
	return delta
}

func (t *timer) Value() interface{} {
	return t.Int64()
}

func (t *timer) Int64() int64 {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.value
}

type histogram struct {
	hist go_metrics.Histogram
}

func newHistogram() Histogram {
	return &histogram{go_metrics.NewHistogram(go_metrics.NewExpDecaySample(1028, 0.015))}
}

func (h *histogram) Update(v int64) {
	h.hist.Update(v)
}

var percentiles = []struct {
	key string
	p   float64
}{
	{"median", 0.5},
	{"75%", 0.75},
	{"90%", 0.9},
	{"95%", 0.95},
	{"99%", 0.99},
	{"99.9%", 0.999},
}

func (h *histogram) Value() interface{} {
	snap := h.hist.Snapshot()
	ps := make([]float64, len(percentiles))
	for i := range percentiles {
		ps[i] = percentiles[i].p
	}
	computed := snap.Percentiles(ps)
	values := map[string]interface{}{
		"count":  snap.Count(),
		"min":    snap.Min(),
		"max":    snap.Max(),
		"mean":   snap.Mean(),
		"stddev": snap.StdDev(),
	}
	for i := range percentiles {
		values[percentiles[i].key] = computed[i]
	}
	return values
}

type counter struct {
	c uint64
}

func (c *counter) Incr() {
	atomic.AddUint64(&c.c, 1)
}

func (c *counter) Add(n uint64) {
	atomic.AddUint64(&c.c, n)
}

func (c *counter) Value() interface{} {
	return atomic.LoadUint64(&c.c)
}

// Statistics returns the histogram summary of num.
func Statistics(num ...int64) interface{} {
	h := newHistogram()
	for _, n := range num {
		h.Update(n)
	}
	return h.Value()
}

// Timed runs fn with the named timer running and records its duration in
// the histogram of the same name.
func Timed(m Metrics, name string, fn func() error) error {
	t := m.Timer(name)
	t.Start()
	err := fn()
	m.Histogram(name).Update(t.Stop())
	return err
}

// NoOp returns a Metrics implementation that does nothing and costs nothing.
func NoOp() Metrics {
	return noOpMetricsInstance
}

type noOpMetrics struct{}
type noOpTimer struct{}
type noOpHistogram struct{}
type noOpCounter struct{}

var (
	noOpMetricsInstance   = &noOpMetrics{}
	noOpTimerInstance     = &noOpTimer{}
	noOpHistogramInstance = &noOpHistogram{}
	noOpCounterInstance   = &noOpCounter{}
)

func (*noOpMetrics) Info() Info                   { return Info{Name: "<built-in no-op>"} }
func (*noOpMetrics) Timer(string) Timer           { return noOpTimerInstance }
func (*noOpMetrics) Histogram(string) Histogram   { return noOpHistogramInstance }
func (*noOpMetrics) Counter(string) Counter       { return noOpCounterInstance }
func (*noOpMetrics) All() map[string]interface{}  { return nil }
func (*noOpMetrics) Clear()                       {}
func (*noOpMetrics) MarshalJSON() ([]byte, error) { return []byte(`{"name": "<built-in no-op>"}`), nil }

func (*noOpTimer) Start()             {}
func (*noOpTimer) Stop() int64        { return 0 }
func (*noOpTimer) Value() interface{} { return 0 }
func (*noOpTimer) Int64() int64       { return 0 }

func (*noOpHistogram) Update(int64)       {}
func (*noOpHistogram) Value() interface{} { return nil }

func (*noOpCounter) Incr()              {}
func (*noOpCounter) Add(uint64)         {}
func (*noOpCounter) Value() interface{} { return 0 }
