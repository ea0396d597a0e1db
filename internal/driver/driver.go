package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/wesleyorama2/fanout/internal/metrics"
	"github.com/wesleyorama2/fanout/internal/rate"
)

const (
	// DefaultMaxConcurrency caps the worker pool when Options.Concurrency is 0.
	DefaultMaxConcurrency = 256

	// DefaultInvocationTimeout applies when Options.InvocationTimeout is 0.
	DefaultInvocationTimeout = 5 * time.Second
)

// Options tunes a Driver. The zero value is usable.
type Options struct {
	// Concurrency is the number of workers used in parallel mode.
	// 0 means one per invocation, capped at DefaultMaxConcurrency.
	Concurrency int

	// InvocationTimeout bounds each invocation.
	InvocationTimeout time.Duration

	// JoinTimeout bounds the whole batch. When it expires, outstanding
	// invocations are cancelled and recorded as timed out. 0 disables it.
	JoinTimeout time.Duration

	// Rate limits how many invocations start per second. 0 starts them as
	// fast as the mode allows.
	Rate float64

	// Observer is called once per invocation after it reaches a terminal
	// outcome. In parallel mode it is called from several goroutines.
	Observer func(Invocation)

	// Dispatcher replaces the worker pool used in parallel mode. The driver
	// does not start or stop a caller-provided dispatcher.
	Dispatcher Dispatcher
}

// Driver runs batches of invocations against one target.
type Driver struct {
	invoker Invoker
	opts    Options
}

// New creates a driver issuing commands through invoker.
func New(invoker Invoker, opts Options) *Driver {
	if opts.InvocationTimeout <= 0 {
		opts.InvocationTimeout = DefaultInvocationTimeout
	}
	return &Driver{invoker: invoker, opts: opts}
}

// batch owns the invocations of one Run call. Each slot is written by exactly
// one goroutine and read only after the join barrier.
type batch struct {
	mode        Mode
	invocations []Invocation
	recorder    *metrics.Recorder
	workers     int
	pacer       *rate.Pacer
}

func newBatch(count int, spec CommandSpec, mode Mode) *batch {
	b := &batch{
		mode:        mode,
		invocations: make([]Invocation, count),
		recorder:    metrics.NewRecorder(),
	}
	for i := range b.invocations {
		b.invocations[i] = Invocation{
			Index:   i,
			Command: spec.At(i),
			Outcome: OutcomeRunning,
		}
	}
	return b
}

// Run issues count invocations of spec in the given mode and blocks until
// every one of them reached a terminal outcome.
//
// Individual invocation failures are tallied in the result. Run returns an
// error only for a *ConfigurationError, before anything is dispatched, or a
// *DispatchFailure, in which case it returns at once without waiting for
// invocations already in flight.
func (d *Driver) Run(ctx context.Context, count int, spec CommandSpec, mode Mode) (*BatchResult, error) {
	if err := d.validate(count, spec, mode); err != nil {
		return nil, err
	}

	b := newBatch(count, spec, mode)
	if d.opts.Rate > 0 {
		b.pacer = rate.NewPacer(d.opts.Rate, 1)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if d.opts.JoinTimeout > 0 {
		timer := time.AfterFunc(d.opts.JoinTimeout, func() { cancel(errJoinTimeout) })
		defer timer.Stop()
	}

	start := time.Now()

	var err error
	switch mode {
	case ModeParallel:
		err = d.runParallel(runCtx, cancel, b)
	case ModeSerial:
		d.runSerial(runCtx, b)
	}
	if err != nil {
		return nil, err
	}

	return b.result(time.Since(start)), nil
}

func (d *Driver) validate(count int, spec CommandSpec, mode Mode) error {
	if count < 1 {
		return &ConfigurationError{Field: "count", Message: fmt.Sprintf("count must be >= 1, got %d", count)}
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	if mode != ModeParallel && mode != ModeSerial {
		return &ConfigurationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q (want parallel or serial)", mode)}
	}
	if d.invoker == nil {
		return &ConfigurationError{Field: "invoker", Message: "no invoker configured"}
	}
	if d.opts.Concurrency < 0 {
		return &ConfigurationError{Field: "concurrency", Message: "concurrency must be >= 0"}
	}
	if d.opts.Rate < 0 {
		return &ConfigurationError{Field: "rate", Message: "rate must be >= 0"}
	}
	return nil
}

// workers returns the pool size for a batch of count invocations.
func (d *Driver) workers(count int) int {
	n := d.opts.Concurrency
	if n == 0 {
		n = DefaultMaxConcurrency
	}
	if n > count {
		n = count
	}
	return n
}

func (d *Driver) runParallel(ctx context.Context, cancel context.CancelCauseFunc, b *batch) error {
	var pool *Pool
	dispatcher := d.opts.Dispatcher
	if dispatcher == nil {
		pool = NewPool(d.workers(len(b.invocations)), DefaultQueueFactor)
		// The pool outlives ctx cancellation so that a join timeout can
		// never be mistaken for a dispatch failure.
		pool.Start(context.WithoutCancel(ctx))
		dispatcher = pool
		b.workers = pool.NumWorkers()
	}

	var wg sync.WaitGroup
	for i := range b.invocations {
		i := i
		b.pace(ctx)
		wg.Add(1)
		err := dispatcher.Dispatch(func() {
			defer wg.Done()
			d.invoke(ctx, b, i)
		})
		if err != nil {
			wg.Done()
			failure := &DispatchFailure{Index: i, Err: err}
			cancel(failure)
			if pool != nil {
				// Queued invocations drain in the background; nobody waits.
				go pool.Stop()
			}
			return failure
		}
	}

	wg.Wait()
	if pool != nil {
		pool.Stop()
	}
	return nil
}

func (d *Driver) runSerial(ctx context.Context, b *batch) {
	for i := range b.invocations {
		b.pace(ctx)
		d.invoke(ctx, b, i)
	}
}

// pace blocks until the next invocation may start. Once ctx is done it stops
// blocking; the remaining invocations then fail without reaching the target.
func (b *batch) pace(ctx context.Context) {
	if b.pacer != nil {
		_ = b.pacer.Wait(ctx)
	}
}

// invoke runs invocation i to a terminal outcome. It returns no later than
// the invocation deadline even if the invoker ignores its context.
func (d *Driver) invoke(ctx context.Context, b *batch, i int) {
	inv := &b.invocations[i]
	cmd := inv.Command

	ictx, cancel := context.WithTimeout(ctx, d.opts.InvocationTimeout)
	defer cancel()

	inv.StartedAt = time.Now()

	var err error
	if ctx.Err() != nil {
		// Cancelled before it started: never touch the target.
		err = ctx.Err()
	} else {
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("invoker panic: %v", r)
				}
			}()
			done <- d.invoker.Invoke(ictx, cmd)
		}()

		select {
		case err = <-done:
		case <-ictx.Done():
			err = ictx.Err()
		}
	}

	inv.FinishedAt = time.Now()
	inv.Done = true

	if err != nil {
		inv.Outcome = OutcomeFailed
		inv.Cause = &InvocationFailure{Index: i, Command: cmd, Err: classify(ictx, err)}
	} else {
		inv.Outcome = OutcomeSucceeded
	}

	b.recorder.Record(cmd.Name, inv.Duration(), inv.Outcome == OutcomeSucceeded)

	d.observe(*inv)
}

// observe hands inv to the observer. A panicking observer is ignored in both
// modes so that it cannot abort a serial batch.
func (d *Driver) observe(inv Invocation) {
	if d.opts.Observer == nil {
		return
	}
	defer func() { _ = recover() }()
	d.opts.Observer(inv)
}

// classify maps context expiry onto ErrTimeout so callers need only one
// check for "ran out of time", whichever deadline fired. An I/O deadline set
// from ictx can fire a moment before ictx itself reports expiry; it counts
// as the invocation deadline.
func classify(ictx context.Context, err error) error {
	if ictx.Err() == nil {
		if isDeadlineError(err) {
			return fmt.Errorf("%w: invocation deadline exceeded: %w", ErrTimeout, err)
		}
		return err
	}
	cause := context.Cause(ictx)
	switch {
	case errors.Is(cause, ErrTimeout):
		return cause
	case errors.Is(cause, context.DeadlineExceeded):
		return fmt.Errorf("%w: invocation deadline exceeded: %w", ErrTimeout, err)
	case cause != nil:
		return cause
	default:
		return err
	}
}

// isDeadlineError reports whether err came from an expired deadline, either
// a context or an I/O deadline such as net.Conn.SetDeadline.
func isDeadlineError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func (b *batch) result(elapsed time.Duration) *BatchResult {
	res := &BatchResult{
		Mode:        b.mode,
		Count:       len(b.invocations),
		Elapsed:     elapsed,
		Invocations: b.invocations,
		Latency:     b.recorder.Snapshot(),
		Workers:     b.workers,
	}
	if b.pacer != nil {
		stats := b.pacer.Stats()
		res.Pacing = &stats
	}
	for _, inv := range b.invocations {
		switch inv.Outcome {
		case OutcomeSucceeded:
			res.Succeeded++
		case OutcomeFailed:
			res.Failed++
		}
	}
	return res
}
