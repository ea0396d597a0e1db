package driver

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolStopped is returned by Pool.Dispatch once the pool no longer
// accepts work.
var ErrPoolStopped = errors.New("worker pool stopped")

// Dispatcher hands a job to a unit of concurrent execution.
//
// Dispatch may block while the dispatcher is saturated. A non-nil error means
// the job will never run.
type Dispatcher interface {
	Dispatch(job func()) error
}

// Pool is a fixed set of goroutines draining a bounded job queue.
type Pool struct {
	numWorkers int
	jobs       chan func()
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	started bool
	stopped bool
}

// DefaultQueueFactor sizes the job queue relative to the worker count.
const DefaultQueueFactor = 4

// NewPool creates a pool of numWorkers goroutines. The queue holds
// numWorkers*queueFactor jobs; Dispatch blocks once it is full.
func NewPool(numWorkers, queueFactor int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueFactor <= 0 {
		queueFactor = DefaultQueueFactor
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan func(), numWorkers*queueFactor),
	}
}

// Start launches the workers. Cancelling ctx makes further Dispatch calls
// fail; jobs already queued still run.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

// run keeps a panicking job from taking its worker down.
func (p *Pool) run(job func()) {
	defer func() {
		_ = recover()
	}()
	job()
}

// Dispatch queues job for execution.
func (p *Pool) Dispatch(job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started || p.stopped {
		return ErrPoolStopped
	}

	select {
	case <-p.ctx.Done():
		return ErrPoolStopped
	default:
	}

	select {
	case <-p.ctx.Done():
		return ErrPoolStopped
	case p.jobs <- job:
		return nil
	}
}

// Stop closes the queue and waits for every queued job to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.cancel()
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

// NumWorkers returns the number of worker goroutines.
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}
