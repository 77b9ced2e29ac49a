// Package profiler - Stage timing and memory reporting for long evaluation runs.
//
// A nil *Profiler is valid and records nothing, so callers can time stages
// unconditionally.
package profiler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Profiler aggregates operation timings. It is safe for concurrent use.
type Profiler struct {
	mu         sync.Mutex
	startTime  time.Time
	operations map[string]*timeTracker
}

// timeTracker tracks operation timing statistics.
type timeTracker struct {
	total time.Duration
	min   time.Duration
	max   time.Duration
	count int64
}

// OperationStats is a snapshot of one operation's timings.
type OperationStats struct {
	Name  string        `json:"name"  yaml:"name"`
	Count int64         `json:"count" yaml:"count"`
	Total time.Duration `json:"total" yaml:"total"`
	Min   time.Duration `json:"min"   yaml:"min"`
	Max   time.Duration `json:"max"   yaml:"max"`
}

// Mean returns the average duration, or 0 before the first sample.
func (s OperationStats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// New returns a profiler whose uptime starts now.
func New() *Profiler {
	return &Profiler{
		startTime:  time.Now(),
		operations: make(map[string]*timeTracker),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The operation, e.g. "infer" or "score".
//
// Returns:
//   - func(): Call when the operation completes.
//
// Example:
//
//	done := prof.StartOperation("load")
//	rgb, err := util.LoadRGB(path)
//	done()
func (p *Profiler) StartOperation(name string) func() {
	if p == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		p.Record(name, time.Since(start))
	}
}

// Record adds one sample to an operation.
func (p *Profiler) Record(name string, d time.Duration) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.operations[name]
	if !ok {
		t = &timeTracker{min: d, max: d}
		p.operations[name] = t
	}
	t.total += d
	t.count++
	t.min = min(t.min, d)
	t.max = max(t.max, d)
}

// Stats returns every operation's timings, sorted by name.
func (p *Profiler) Stats() []OperationStats {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]OperationStats, 0, len(p.operations))
	for name, t := range p.operations {
		out = append(out, OperationStats{Name: name, Count: t.count, Total: t.total, Min: t.min, Max: t.max})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Report logs memory usage and one line per operation at info level.
func (p *Profiler) Report(log logrus.FieldLogger) {
	if p == nil {
		return
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	log.WithFields(logrus.Fields{
		"uptime":     time.Since(p.startTime).Truncate(time.Millisecond).String(),
		"goroutines": runtime.NumGoroutine(),
		"heap_alloc": formatBytes(mem.HeapAlloc),
		"sys":        formatBytes(mem.Sys),
		"gc_cycles":  mem.NumGC,
	}).Info("runtime")

	for _, s := range p.Stats() {
		log.WithFields(logrus.Fields{
			"operation": s.Name,
			"count":     s.Count,
			"avg":       s.Mean().Truncate(time.Microsecond).String(),
			"min":       s.Min.Truncate(time.Microsecond).String(),
			"max":       s.Max.Truncate(time.Microsecond).String(),
		}).Info("operation timing")
	}
}

// Start reports every interval until ctx is done or the returned stop
// function is called. stop waits for the reporter to exit.
func (p *Profiler) Start(ctx context.Context, interval time.Duration, log logrus.FieldLogger) (stop func()) {
	if p == nil || interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Report(log)
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
