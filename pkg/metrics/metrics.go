package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type Registry struct {
	mu           sync.RWMutex
	endpoint     map[string]*EndpointStat
	tool         map[string]int64
	answerSource map[string]int64
	refusals     int64
	gauges       map[string]float64
	queryLatency QueryLatencyStat
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type QueryLatencyStat struct {
	Count   int64   `json:"count"`
	TotalMS int64   `json:"total_ms"`
	MaxMS   int64   `json:"max_ms"`
	LastMS  int64   `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
}

type Snapshot struct {
	GeneratedAt    string                  `json:"generated_at"`
	Endpoints      map[string]EndpointStat `json:"endpoints"`
	Tools          map[string]int64        `json:"tools"`
	AnswerSources  map[string]int64        `json:"answer_sources"`
	Refusals       int64                   `json:"refusals_total"`
	Gauges         map[string]float64      `json:"gauges"`
	QueryLatencyMS QueryLatencyStat        `json:"query_latency_ms"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:     map[string]*EndpointStat{},
		tool:         map[string]int64{},
		answerSource: map[string]int64{},
		gauges:       map[string]float64{},
	}
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

func (r *Registry) IncTool(name string) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.tool[name]++
	r.mu.Unlock()
}

func (r *Registry) IncAnswerSource(source string) {
	source = strings.TrimSpace(source)
	if source == "" {
		return
	}
	r.mu.Lock()
	r.answerSource[source]++
	r.mu.Unlock()
}

func (r *Registry) IncRefusal() {
	r.mu.Lock()
	r.refusals++
	r.mu.Unlock()
}

func (r *Registry) ObserveQueryLatency(d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queryLatency.Count++
	r.queryLatency.TotalMS += ms
	r.queryLatency.LastMS = ms
	if ms > r.queryLatency.MaxMS {
		r.queryLatency.MaxMS = ms
	}
	r.queryLatency.AvgMS = float64(r.queryLatency.TotalMS) / float64(r.queryLatency.Count)
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
		Endpoints:      make(map[string]EndpointStat, len(r.endpoint)),
		Tools:          make(map[string]int64, len(r.tool)),
		AnswerSources:  make(map[string]int64, len(r.answerSource)),
		Refusals:       r.refusals,
		Gauges:         make(map[string]float64, len(r.gauges)),
		QueryLatencyMS: r.queryLatency,
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.tool {
		out.Tools[k] = v
	}
	for k, v := range r.answerSource {
		out.AnswerSources[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP bankgate_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE bankgate_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "bankgate_endpoint_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].Count)
		}
		b.WriteString("# HELP bankgate_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE bankgate_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "bankgate_endpoint_error_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].ErrorCount)
		}
		b.WriteString("# HELP bankgate_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE bankgate_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "bankgate_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, snap.Endpoints[ep].AverageMillis)
		}
		b.WriteString("# HELP bankgate_tool_total tool invocations by tool name\n")
		b.WriteString("# TYPE bankgate_tool_total counter\n")
		for _, name := range SortedKeys(snap.Tools) {
			fmt.Fprintf(b, "bankgate_tool_total{tool=%q} %d\n", name, snap.Tools[name])
		}
		b.WriteString("# HELP bankgate_answer_source_total answers by knowledge source\n")
		b.WriteString("# TYPE bankgate_answer_source_total counter\n")
		for _, src := range SortedKeys(snap.AnswerSources) {
			fmt.Fprintf(b, "bankgate_answer_source_total{source=%q} %d\n", src, snap.AnswerSources[src])
		}
		b.WriteString("# HELP bankgate_refusal_total cross-customer tool calls refused\n")
		b.WriteString("# TYPE bankgate_refusal_total counter\n")
		fmt.Fprintf(b, "bankgate_refusal_total %d\n", snap.Refusals)
		b.WriteString("# HELP bankgate_gauge operational gauge metrics\n")
		b.WriteString("# TYPE bankgate_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "bankgate_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		b.WriteString("# HELP bankgate_query_latency_ms query loop latency in ms\n")
		b.WriteString("# TYPE bankgate_query_latency_ms gauge\n")
		fmt.Fprintf(b, "bankgate_query_latency_ms{stat=%q} %d\n", "last", snap.QueryLatencyMS.LastMS)
		fmt.Fprintf(b, "bankgate_query_latency_ms{stat=%q} %.3f\n", "avg", snap.QueryLatencyMS.AvgMS)
		fmt.Fprintf(b, "bankgate_query_latency_ms{stat=%q} %d\n", "max", snap.QueryLatencyMS.MaxMS)
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
