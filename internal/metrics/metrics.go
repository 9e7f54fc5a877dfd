package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Metric names recorded by the session manager and webhook dispatcher.
const (
	SessionsLive             = "sessions_live"
	SessionStartsTotal       = "session_starts_total"
	SessionReconnectsTotal   = "session_reconnects_total"
	SessionDisconnectsTotal  = "session_disconnects_total"
	CredentialsSaveFailures  = "credentials_save_failures_total"
	WebhookDeliveriesTotal   = "webhook_deliveries_total"
	WebhookDeliveryDuration  = "webhook_delivery_duration"
	MediaCapturedTotal       = "media_captured_total"
	ForwardDroppedTotal      = "forward_dropped_total"
	HTTPRequestsTotal        = "http_requests_total"
	HTTPRequestDuration      = "http_request_duration"
	timerSampleWindow        = 1000
	minSamplesForPercentiles = 10
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Timer   MetricType = "timer"
	Gauge   MetricType = "gauge"
)

// Metric represents a single counter or gauge with its metadata
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	LastUpdate  time.Time         `json:"last_update"`
}

// TimerMetric stores timing information
type TimerMetric struct {
	Count   int64   `json:"count"`
	Sum     float64 `json:"sum_ms"`
	Min     float64 `json:"min_ms"`
	Max     float64 `json:"max_ms"`
	Average float64 `json:"avg_ms"`
	P95     float64 `json:"p95_ms,omitempty"`
	P99     float64 `json:"p99_ms,omitempty"`
	samples []float64
}

// Snapshot is a copy of the registry contents, safe to serialize.
type Snapshot struct {
	Counters map[string]Metric      `json:"counters"`
	Timers   map[string]TimerMetric `json:"timers"`
	Gauges   map[string]Metric      `json:"gauges"`
	UptimeMs int64                  `json:"uptime_ms"`
	Time     int64                  `json:"timestamp"`
}

// Registry manages all metrics in memory
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Metric
	timers    map[string]*TimerMetric
	gauges    map[string]*Metric
	startTime time.Time
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Metric),
		timers:    make(map[string]*TimerMetric),
		gauges:    make(map[string]*Metric),
		startTime: time.Now(),
	}
}

var globalRegistry = NewRegistry()

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}

// IncrementCounter increments a counter metric
func (r *Registry) IncrementCounter(name string, labels map[string]string, description string) {
	r.AddToCounter(name, 1, labels, description)
}

// AddToCounter adds a value to a counter metric
func (r *Registry) AddToCounter(name string, value float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(r.counters, Counter, name, value, labels, description)
}

// AddToGauge moves a gauge up or down by delta.
func (r *Registry) AddToGauge(name string, delta float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(r.gauges, Gauge, name, delta, labels, description)
}

func (r *Registry) add(set map[string]*Metric, typ MetricType, name string, value float64, labels map[string]string, description string) {
	key := metricKey(name, labels)
	if m, ok := set[key]; ok {
		m.Value += value
		m.LastUpdate = time.Now()
		return
	}
	set[key] = &Metric{
		Name:        name,
		Type:        typ,
		Value:       value,
		Labels:      copyLabels(labels),
		Description: description,
		LastUpdate:  time.Now(),
	}
}

// SetGauge sets a gauge metric value
func (r *Registry) SetGauge(name string, value float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gauges[metricKey(name, labels)] = &Metric{
		Name:        name,
		Type:        Gauge,
		Value:       value,
		Labels:      copyLabels(labels),
		Description: description,
		LastUpdate:  time.Now(),
	}
}

// RecordTimer records a timing measurement
func (r *Registry) RecordTimer(name string, duration time.Duration, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	ms := float64(duration.Nanoseconds()) / 1e6

	timer, ok := r.timers[key]
	if !ok {
		r.timers[key] = &TimerMetric{Count: 1, Sum: ms, Min: ms, Max: ms, Average: ms, samples: []float64{ms}}
		return
	}

	timer.Count++
	timer.Sum += ms
	timer.Average = timer.Sum / float64(timer.Count)
	if ms < timer.Min {
		timer.Min = ms
	}
	if ms > timer.Max {
		timer.Max = ms
	}

	timer.samples = append(timer.samples, ms)
	if len(timer.samples) > timerSampleWindow {
		timer.samples = timer.samples[len(timer.samples)-timerSampleWindow:]
	}
	if len(timer.samples) >= minSamplesForPercentiles {
		sorted := append([]float64(nil), timer.samples...)
		sort.Float64s(sorted)
		timer.P95 = percentile(sorted, 0.95)
		timer.P99 = percentile(sorted, 0.99)
	}
}

// CounterValue returns the current value of a counter, or 0.
func (r *Registry) CounterValue(name string, labels map[string]string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.counters[metricKey(name, labels)]; ok {
		return m.Value
	}
	return 0
}

// GaugeValue returns the current value of a gauge, or 0.
func (r *Registry) GaugeValue(name string, labels map[string]string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.gauges[metricKey(name, labels)]; ok {
		return m.Value
	}
	return 0
}

// Snapshot copies every metric out of the registry.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		Counters: make(map[string]Metric, len(r.counters)),
		Timers:   make(map[string]TimerMetric, len(r.timers)),
		Gauges:   make(map[string]Metric, len(r.gauges)),
		UptimeMs: time.Since(r.startTime).Milliseconds(),
		Time:     time.Now().Unix(),
	}
	for k, m := range r.counters {
		cp := *m
		cp.Labels = copyLabels(m.Labels)
		s.Counters[k] = cp
	}
	for k, t := range r.timers {
		cp := *t
		cp.samples = nil
		s.Timers[k] = cp
	}
	for k, m := range r.gauges {
		cp := *m
		cp.Labels = copyLabels(m.Labels)
		s.Gauges[k] = cp
	}
	return s
}

// metricKey builds name{k1=v1,k2=v2} with labels in sorted order.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// IncrementCounter increments a counter in the global registry
func IncrementCounter(name string, labels map[string]string, description string) {
	globalRegistry.IncrementCounter(name, labels, description)
}

// AddToGauge adjusts a gauge in the global registry
func AddToGauge(name string, delta float64, labels map[string]string, description string) {
	globalRegistry.AddToGauge(name, delta, labels, description)
}

// RecordTimer records timing in the global registry
func RecordTimer(name string, duration time.Duration, labels map[string]string, description string) {
	globalRegistry.RecordTimer(name, duration, labels, description)
}

// SetGauge sets a gauge in the global registry
func SetGauge(name string, value float64, labels map[string]string, description string) {
	globalRegistry.SetGauge(name, value, labels, description)
}

// GetSnapshot returns a copy of the global registry
func GetSnapshot() Snapshot {
	return globalRegistry.Snapshot()
}
