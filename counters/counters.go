package counters

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	SendSuccess      = "SendSuccess"
	SendFail         = "SendFail"
	SendTotal        = "SendTotal"
	FileQueueProduce = "FileQueueProduce"
	FileQueueConsume = "FileQueueConsume"
)

// Names lists the counters of the replay pipeline in report order.
var Names = []string{
	FileQueueProduce,
	FileQueueConsume,
	SendTotal,
	SendSuccess,
	SendFail,
}

// Counter is a monotonic atomic counter.
type Counter struct {
	name string
	v    int64
}

func (c *Counter) Name() string {
	return c.name
}

func (c *Counter) Increment() int64 {
	return atomic.AddInt64(&c.v, 1)
}

func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.v)
}

type Registry struct {
	mu       sync.Mutex
	counters map[string]*Counter
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{
		counters: map[string]*Counter{},
	}
}

// Counter returns the named counter, creating it on first use. The same
// name always yields the same instance.
func (r *Registry) Counter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{name: name}
	r.counters[name] = c
	r.order = append(r.order, name)
	return c
}

func (r *Registry) Snapshot() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counters))
	for name, c := range r.counters {
		out[name] = c.Value()
	}
	return out
}

func (r *Registry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Reporter logs the registry every interval, including the per-second rate
// observed since the previous report.
type Reporter struct {
	registry *Registry
	interval time.Duration
	report   func(string)
	last     map[string]int64
	lastAt   time.Time

	stop chan struct{}
	done chan struct{}
}

func NewReporter(registry *Registry, interval time.Duration, report func(string)) *Reporter {
	return &Reporter{
		registry: registry,
		interval: interval,
		report:   report,
		last:     map[string]int64{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *Reporter) Start() {
	r.lastAt = time.Now()
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case now := <-ticker.C:
				r.report(r.line(now))
			}
		}
	}()
}

// Stop halts the reporter and emits one final report.
func (r *Reporter) Stop() {
	close(r.stop)
	<-r.done
	r.report(r.line(time.Now()))
}

func (r *Reporter) line(now time.Time) string {
	elapsed := now.Sub(r.lastAt).Seconds()
	r.lastAt = now
	snap := r.registry.Snapshot()
	names := r.registry.names()
	sort.SliceStable(names, func(i, j int) bool {
		return rank(names[i]) < rank(names[j])
	})
	parts := make([]string, 0, len(names))
	for _, name := range names {
		v := snap[name]
		rate := 0.0
		if elapsed > 0 {
			rate = float64(v-r.last[name]) / elapsed
		}
		r.last[name] = v
		parts = append(parts, fmt.Sprintf("%s=%d (%.1f/s)", name, v, rate))
	}
	return strings.Join(parts, " ")
}

func rank(name string) int {
	for i, n := range Names {
		if n == name {
			return i
		}
	}
	return len(Names)
}
