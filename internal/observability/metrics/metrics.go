// Package metrics 以 Prometheus 文本格式暴露进程内指标，
// 覆盖 HTTP 请求与流运行两类观测点。
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type durationKey struct {
	handler string
	method  string
}

type histogram struct {
	bounds []float64
	counts []uint64
	sum    float64
	count  uint64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, counts: make([]uint64, len(bounds))}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.bounds {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
	// 超出最后一个桶的值只计入 +Inf（即 h.count）。
}

var httpBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
var runBounds = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120}

type collector struct {
	mu          sync.Mutex
	requests    map[requestKey]uint64
	httpLatency map[durationKey]*histogram

	runOutcomes map[string]uint64
	runDuration *histogram
	runRounds   map[int]uint64
}

var defaultCollector = &collector{
	requests:    make(map[requestKey]uint64),
	httpLatency: make(map[durationKey]*histogram),
	runOutcomes: make(map[string]uint64),
	runDuration: newHistogram(runBounds),
	runRounds:   make(map[int]uint64),
}

// ObserveHTTPRequest 记录一次 HTTP 请求的状态码与耗时。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++

	key := durationKey{handler: handler, method: method}
	hist := c.httpLatency[key]
	if hist == nil {
		hist = newHistogram(httpBounds)
		c.httpLatency[key] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveRunOutcome 记录一次流运行的结果、耗时与循环轮数。
func ObserveRunOutcome(status string, duration time.Duration, rounds int) {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runOutcomes[status]++
	c.runDuration.observe(duration.Seconds())
	if rounds > 0 {
		c.runRounds[rounds]++
	}
}

// Handler 以 Prometheus 文本协议输出全部指标。
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)

	b.WriteString("# HELP agentflows_http_requests_total Total number of HTTP requests processed.\n")
	b.WriteString("# TYPE agentflows_http_requests_total counter\n")
	reqKeys := make([]requestKey, 0, len(c.requests))
	for key := range c.requests {
		reqKeys = append(reqKeys, key)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].handler != reqKeys[j].handler {
			return reqKeys[i].handler < reqKeys[j].handler
		}
		if reqKeys[i].method != reqKeys[j].method {
			return reqKeys[i].method < reqKeys[j].method
		}
		return reqKeys[i].code < reqKeys[j].code
	})
	for _, key := range reqKeys {
		fmt.Fprintf(&b, "agentflows_http_requests_total{handler=%q,method=%q,code=%q} %d\n",
			key.handler, key.method, key.code, c.requests[key])
	}

	b.WriteString("# HELP agentflows_http_request_duration_seconds HTTP request duration in seconds.\n")
	b.WriteString("# TYPE agentflows_http_request_duration_seconds histogram\n")
	durKeys := make([]durationKey, 0, len(c.httpLatency))
	for key := range c.httpLatency {
		durKeys = append(durKeys, key)
	}
	sort.Slice(durKeys, func(i, j int) bool {
		if durKeys[i].handler != durKeys[j].handler {
			return durKeys[i].handler < durKeys[j].handler
		}
		return durKeys[i].method < durKeys[j].method
	})
	for _, key := range durKeys {
		hist := c.httpLatency[key]
		labels := fmt.Sprintf("handler=%q,method=%q", key.handler, key.method)
		writeHistogram(&b, "agentflows_http_request_duration_seconds", labels, hist)
	}

	b.WriteString("# HELP agentflows_runs_total Total number of flow runs by final status.\n")
	b.WriteString("# TYPE agentflows_runs_total counter\n")
	statuses := make([]string, 0, len(c.runOutcomes))
	for status := range c.runOutcomes {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(&b, "agentflows_runs_total{status=%q} %d\n", status, c.runOutcomes[status])
	}

	b.WriteString("# HELP agentflows_run_duration_seconds Flow run duration in seconds.\n")
	b.WriteString("# TYPE agentflows_run_duration_seconds histogram\n")
	writeHistogram(&b, "agentflows_run_duration_seconds", "", c.runDuration)

	b.WriteString("# HELP agentflows_run_rounds_total Completed flow runs by loop round count.\n")
	b.WriteString("# TYPE agentflows_run_rounds_total counter\n")
	rounds := make([]int, 0, len(c.runRounds))
	for r := range c.runRounds {
		rounds = append(rounds, r)
	}
	sort.Ints(rounds)
	for _, r := range rounds {
		fmt.Fprintf(&b, "agentflows_run_rounds_total{rounds=\"%d\"} %d\n", r, c.runRounds[r])
	}

	return b.String()
}

func writeHistogram(b *strings.Builder, name, labels string, hist *histogram) {
	sep := ""
	if labels != "" {
		sep = ","
	}
	for idx, bound := range hist.bounds {
		fmt.Fprintf(b, "%s_bucket{%s%sle=\"%s\"} %d\n", name, labels, sep, formatFloat(bound), hist.counts[idx])
	}
	fmt.Fprintf(b, "%s_bucket{%s%sle=\"+Inf\"} %d\n", name, labels, sep, hist.count)
	if labels != "" {
		fmt.Fprintf(b, "%s_sum{%s} %s\n", name, labels, formatFloat(hist.sum))
		fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, hist.count)
	} else {
		fmt.Fprintf(b, "%s_sum %s\n", name, formatFloat(hist.sum))
		fmt.Fprintf(b, "%s_count %d\n", name, hist.count)
	}
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer 启动只暴露 /metrics 的独立 HTTP 服务。
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
