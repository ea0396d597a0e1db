package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wesleyorama2/fanout/internal/metrics"
	"github.com/wesleyorama2/fanout/internal/rate"
)

// Mode selects how the invocations of a batch are dispatched.
type Mode string

const (
	// ModeParallel dispatches all invocations at once and joins on completion.
	ModeParallel Mode = "parallel"

	// ModeSerial dispatches one invocation at a time in index order.
	ModeSerial Mode = "serial"
)

// ParseMode parses a mode name, ignoring case and surrounding whitespace.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeParallel:
		return ModeParallel, nil
	case ModeSerial:
		return ModeSerial, nil
	default:
		return "", &ConfigurationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q (want parallel or serial)", s)}
	}
}

// Outcome is the state of a single invocation.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Terminal reports whether no further transition can happen.
func (o Outcome) Terminal() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed
}

// Invoker issues one command against the target endpoint.
//
// Implementations must perform at most one network-visible interaction per
// call and should return promptly once ctx is done. A nil error means the
// invocation succeeded.
type Invoker interface {
	Invoke(ctx context.Context, cmd Command) error
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, cmd Command) error

// Invoke calls f(ctx, cmd).
func (f InvokerFunc) Invoke(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}

// Invocation is one command sent to the target and its observed outcome.
type Invocation struct {
	Index      int       `json:"index"`
	Command    Command   `json:"command"`
	Done       bool      `json:"done"`
	Outcome    Outcome   `json:"outcome"`
	Cause      error     `json:"-"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Duration returns how long the invocation ran, or zero while it is running.
func (i Invocation) Duration() time.Duration {
	if !i.Done {
		return 0
	}
	return i.FinishedAt.Sub(i.StartedAt)
}

// BatchResult is the aggregate of a retired batch.
type BatchResult struct {
	Mode      Mode          `json:"mode"`
	Count     int           `json:"count"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`

	// Invocations holds the terminal state of every invocation in index order.
	Invocations []Invocation `json:"invocations"`

	// Latency summarises invocation durations.
	Latency metrics.Snapshot `json:"latency"`

	// Workers is the size of the pool a parallel batch ran on. It is zero for
	// serial batches and caller-provided dispatchers.
	Workers int `json:"workers,omitempty"`

	// Pacing is set when starts were rate limited.
	Pacing *rate.Stats `json:"pacing,omitempty"`
}

// Failures returns the failed invocations in index order.
func (r *BatchResult) Failures() []Invocation {
	var failed []Invocation
	for _, inv := range r.Invocations {
		if inv.Outcome == OutcomeFailed {
			failed = append(failed, inv)
		}
	}
	return failed
}

// OK reports whether every invocation succeeded.
func (r *BatchResult) OK() bool {
	return r.Failed == 0 && r.Succeeded == r.Count
}
