// Package rate paces the start of invocations.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Pacer is a leaky bucket handing out start slots at a fixed rate.
//
// Each call to Next reserves the next slot. When the caller is behind
// schedule the slot is now, so a slow producer never builds up a burst
// larger than the configured burst size.
//
//	p := rate.NewPacer(50, 1) // 50 starts per second
//	for range n {
//	    if err := p.Wait(ctx); err != nil {
//	        break
//	    }
//	    dispatch()
//	}
//
// A Pacer is safe for concurrent use.
type Pacer struct {
	mu          sync.Mutex
	perSecond   float64
	burst       float64
	accumulated float64
	lastDrip    time.Time

	slots  atomic.Int64
	waited atomic.Int64 // nanoseconds
}

// NewPacer returns a pacer releasing perSecond slots per second. burst below
// 1 means strict spacing.
func NewPacer(perSecond, burst float64) *Pacer {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	// Start full so the first slot is immediate.
	return &Pacer{
		perSecond:   perSecond,
		burst:       burst,
		accumulated: 1,
		lastDrip:    time.Now(),
	}
}

// Next reserves a slot and returns when it starts. The time is in the past
// or now when the caller is behind schedule.
func (p *Pacer) Next() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(p.lastDrip).Seconds(); elapsed > 0 {
		p.accumulated += elapsed * p.perSecond
	}
	if p.accumulated > p.burst {
		p.accumulated = p.burst
	}
	p.slots.Add(1)

	if p.accumulated >= 1 {
		p.accumulated--
		if now.After(p.lastDrip) {
			p.lastDrip = now
		}
		return now
	}

	// lastDrip moves to the reserved slot so the time slept until then is
	// not counted a second time.
	wait := time.Duration((1 - p.accumulated) / p.perSecond * float64(time.Second))
	p.accumulated = 0
	base := now
	if p.lastDrip.After(now) {
		base = p.lastDrip
	}
	next := base.Add(wait)
	p.lastDrip = next
	p.waited.Add(int64(next.Sub(now)))
	return next
}

// Wait blocks until the next slot. It returns ctx.Err() if ctx is done first.
func (p *Pacer) Wait(ctx context.Context) error {
	d := time.Until(p.Next())
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Stats reports how many slots were handed out and the total scheduled wait.
func (p *Pacer) Stats() Stats {
	p.mu.Lock()
	perSecond := p.perSecond
	p.mu.Unlock()
	return Stats{
		Rate:   perSecond,
		Slots:  p.slots.Load(),
		Waited: time.Duration(p.waited.Load()),
	}
}

// Stats describes pacer activity.
type Stats struct {
	Rate   float64       `json:"rate"`
	Slots  int64         `json:"slots"`
	Waited time.Duration `json:"waited"`
}
