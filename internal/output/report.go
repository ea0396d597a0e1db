package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wesleyorama2/fanout/internal/driver"
	"github.com/wesleyorama2/fanout/internal/metrics"
)

// Report is the machine-readable form of a batch result. Durations are in
// milliseconds.
type Report struct {
	Name        string          `json:"name"`
	Target      string          `json:"target"`
	Mode        driver.Mode     `json:"mode"`
	Count       int             `json:"count"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	OK          bool            `json:"ok"`
	ErrorRate   float64         `json:"errorRate"`
	ElapsedMs   float64         `json:"elapsedMs"`
	Throughput  float64         `json:"throughput"`
	Workers     int             `json:"workers,omitempty"`
	Pacing      *PacingReport   `json:"pacing,omitempty"`
	Latency     LatencyReport   `json:"latency"`
	Commands    []CommandReport `json:"commands,omitempty"`
	Invocations []InvocationRow `json:"invocations"`
}

// PacingReport describes rate limiting of invocation starts.
type PacingReport struct {
	Rate     float64 `json:"rate"`
	Slots    int64   `json:"slots"`
	WaitedMs float64 `json:"waitedMs"`
}

// CommandReport holds the latency of one command name across the batch.
type CommandReport struct {
	Command string        `json:"command"`
	Count   int64         `json:"count"`
	Latency LatencyReport `json:"latency"`
}

// LatencyReport holds latency percentiles in milliseconds.
type LatencyReport struct {
	Min  float64 `json:"min"`
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	P95  float64 `json:"p95"`
	P99  float64 `json:"p99"`
	Max  float64 `json:"max"`
}

// InvocationRow is one invocation in the report.
type InvocationRow struct {
	Index      int            `json:"index"`
	Command    string         `json:"command"`
	Outcome    driver.Outcome `json:"outcome"`
	StartedAt  string         `json:"startedAt"`
	DurationMs float64        `json:"durationMs"`
	Timeout    bool           `json:"timeout,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// NewReport builds a report from a batch result.
func NewReport(name, target string, res *driver.BatchResult) *Report {
	r := &Report{
		Name:        name,
		Target:      target,
		Mode:        res.Mode,
		Count:       res.Count,
		Succeeded:   res.Succeeded,
		Failed:      res.Failed,
		OK:          res.OK(),
		ErrorRate:   res.Latency.ErrorRate(),
		ElapsedMs:   ms(res.Elapsed.Nanoseconds()),
		Throughput:  throughput(res),
		Workers:     res.Workers,
		Latency:     latencyReport(res.Latency.Latency),
		Invocations: make([]InvocationRow, 0, len(res.Invocations)),
	}
	if p := res.Pacing; p != nil {
		r.Pacing = &PacingReport{Rate: p.Rate, Slots: p.Slots, WaitedMs: ms(p.Waited.Nanoseconds())}
	}

	for _, cs := range res.Latency.Commands {
		r.Commands = append(r.Commands, CommandReport{
			Command: cs.Command,
			Count:   cs.Latency.Count,
			Latency: latencyReport(cs.Latency),
		})
	}

	for _, inv := range res.Invocations {
		row := InvocationRow{
			Index:      inv.Index,
			Command:    inv.Command.String(),
			Outcome:    inv.Outcome,
			StartedAt:  inv.StartedAt.Format("2006-01-02T15:04:05.000000Z07:00"),
			DurationMs: ms(inv.Duration().Nanoseconds()),
		}
		if inv.Cause != nil {
			row.Error = causeText(inv.Cause)
			row.Timeout = driver.IsTimeout(inv.Cause)
		}
		r.Invocations = append(r.Invocations, row)
	}
	return r
}

func latencyReport(l metrics.LatencyStats) LatencyReport {
	return LatencyReport{
		Min:  ms(l.Min.Nanoseconds()),
		Mean: ms(l.Mean.Nanoseconds()),
		P50:  ms(l.P50.Nanoseconds()),
		P90:  ms(l.P90.Nanoseconds()),
		P95:  ms(l.P95.Nanoseconds()),
		P99:  ms(l.P99.Nanoseconds()),
		Max:  ms(l.Max.Nanoseconds()),
	}
}

func ms(ns int64) float64 {
	return float64(ns) / 1e6
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// SaveJSON writes the report to path.
func (r *Report) SaveJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
