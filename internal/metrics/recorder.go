// Package metrics records invocation latencies and outcomes.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Recorder aggregates invocation outcomes using HDR histograms.
//
// Counters are atomic. Histograms are not safe for concurrent writes, so
// each one sits behind a mutex. A Recorder is safe for concurrent use.
type Recorder struct {
	// Range: 1 microsecond to 1 hour, 3 significant figures
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	commandHists   map[string]*hdrhistogram.Histogram
	commandHistsMu sync.Mutex

	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	startTime time.Time
	config    Config
}

// Config contains histogram bounds in microseconds.
type Config struct {
	HistogramMin     int64
	HistogramMax     int64
	HistogramSigFigs int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

// NewRecorder creates a recorder with the default configuration.
func NewRecorder() *Recorder {
	return newRecorder(DefaultConfig())
}

func newRecorder(config Config) *Recorder {
	return &Recorder{
		latencyHist:  hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		commandHists: make(map[string]*hdrhistogram.Histogram),
		startTime:    time.Now(),
		config:       config,
	}
}

// Record adds one terminal invocation.
func (r *Recorder) Record(command string, duration time.Duration, success bool) {
	micros := r.clamp(duration.Microseconds())

	r.latencyHistMu.Lock()
	_ = r.latencyHist.RecordValue(micros)
	r.latencyHistMu.Unlock()

	if command != "" {
		r.commandHistsMu.Lock()
		hist, ok := r.commandHists[command]
		if !ok {
			hist = hdrhistogram.New(r.config.HistogramMin, r.config.HistogramMax, r.config.HistogramSigFigs)
			r.commandHists[command] = hist
		}
		_ = hist.RecordValue(micros)
		r.commandHistsMu.Unlock()
	}

	r.total.Add(1)
	if success {
		r.succeeded.Add(1)
	} else {
		r.failed.Add(1)
	}
}

func (r *Recorder) clamp(v int64) int64 {
	if v < r.config.HistogramMin {
		return r.config.HistogramMin
	}
	if v > r.config.HistogramMax {
		return r.config.HistogramMax
	}
	return v
}

// Snapshot returns a point-in-time view of everything recorded so far.
func (r *Recorder) Snapshot() Snapshot {
	r.latencyHistMu.Lock()
	latency := statsFor(r.latencyHist)
	r.latencyHistMu.Unlock()

	r.commandHistsMu.Lock()
	commands := make([]CommandStats, 0, len(r.commandHists))
	for name, hist := range r.commandHists {
		commands = append(commands, CommandStats{Command: name, Latency: statsFor(hist)})
	}
	r.commandHistsMu.Unlock()
	sort.Slice(commands, func(i, j int) bool { return commands[i].Command < commands[j].Command })

	elapsed := time.Since(r.startTime)
	total := r.total.Load()

	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(total) / elapsed.Seconds()
	}

	return Snapshot{
		Total:      total,
		Succeeded:  r.succeeded.Load(),
		Failed:     r.failed.Load(),
		Latency:    latency,
		Commands:   commands,
		Throughput: throughput,
		Elapsed:    elapsed,
	}
}

func statsFor(h *hdrhistogram.Histogram) LatencyStats {
	if h.TotalCount() == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Min:    time.Duration(h.Min()) * time.Microsecond,
		Max:    time.Duration(h.Max()) * time.Microsecond,
		Mean:   time.Duration(h.Mean()) * time.Microsecond,
		StdDev: time.Duration(h.StdDev()) * time.Microsecond,
		P50:    time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count:  h.TotalCount(),
	}
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	Total      int64          `json:"total"`
	Succeeded  int64          `json:"succeeded"`
	Failed     int64          `json:"failed"`
	Latency    LatencyStats   `json:"latency"`
	Commands   []CommandStats `json:"commands,omitempty"`
	Throughput float64        `json:"throughput"` // invocations/second
	Elapsed    time.Duration  `json:"elapsed"`
}

// ErrorRate returns failed/total, or zero when nothing was recorded.
func (s Snapshot) ErrorRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Total)
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// CommandStats is the latency breakdown for one command name.
type CommandStats struct {
	Command string       `json:"command"`
	Latency LatencyStats `json:"latency"`
}
