package main

import (
	"fmt"
	"os"
	"time"

	"github.com/wesleyorama2/fanout/internal/driver"
	"github.com/wesleyorama2/fanout/internal/metrics"
	"github.com/wesleyorama2/fanout/internal/output"
)

func main() {
	report := output.NewReport("sample parallel PING batch", "127.0.0.1:6379", sampleResult())

	outputPath := "sample-fanout-report.html"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	if err := output.GenerateHTML(report, outputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sample report generated: %s\n", outputPath)
}

// sampleResult fabricates a 150-invocation batch with a few timeouts.
func sampleResult() *driver.BatchResult {
	spec := driver.CommandSpec{
		{Name: "PING"},
		{Name: "ECHO", Args: []string{"hello"}},
	}

	start := time.Now().Add(-2 * time.Second)
	invocations := make([]driver.Invocation, 150)
	res := &driver.BatchResult{Mode: driver.ModeParallel, Count: len(invocations)}
	recorder := metrics.NewRecorder()

	for i := range invocations {
		latency := time.Duration(300+(i*37)%900) * time.Microsecond
		inv := driver.Invocation{
			Index:     i,
			Command:   spec.At(i),
			Done:      true,
			Outcome:   driver.OutcomeSucceeded,
			StartedAt: start.Add(time.Duration(i) * 50 * time.Microsecond),
		}
		if i%50 == 49 {
			latency = 2 * time.Second
			inv.Outcome = driver.OutcomeFailed
			inv.Cause = &driver.InvocationFailure{
				Index:   i,
				Command: inv.Command,
				Err:     fmt.Errorf("%w: invocation deadline exceeded", driver.ErrTimeout),
			}
			res.Failed++
		} else {
			res.Succeeded++
		}
		inv.FinishedAt = inv.StartedAt.Add(latency)
		invocations[i] = inv
		recorder.Record(inv.Command.Name, latency, inv.Outcome == driver.OutcomeSucceeded)
	}

	res.Invocations = invocations
	res.Elapsed = 2*time.Second + 10*time.Millisecond
	res.Latency = recorder.Snapshot()
	return res
}
