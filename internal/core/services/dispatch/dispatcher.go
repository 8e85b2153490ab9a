// Package dispatch routes captured frames from the producers onto a pool of
// worker lanes, each a bounded FIFO drained by one goroutine.
package dispatch

import (
	"context"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/safelink/safelink/internal/core/domain"
	"github.com/safelink/safelink/internal/telemetry"
)

// Strategy selects how frames map to worker lanes.
type Strategy string

const (
	// RoundRobin cycles lanes by a shared counter.
	RoundRobin Strategy = "round-robin"
	// LeastLoaded picks the lane with the fewest processed frames, ties
	// broken by lowest id.
	LeastLoaded Strategy = "least-loaded"
	// Affinity pins each capture interface to one lane, preserving
	// per-interface order.
	Affinity Strategy = "affinity"
)

// Handler processes one frame on a worker lane.
type Handler func(ctx context.Context, workerID int, frame domain.Frame)

// WorkerStats is a per-lane counter snapshot.
type WorkerStats struct {
	ID        int    `json:"id"`
	Queued    int    `json:"queued"`
	Processed uint64 `json:"processed"`
}

type lane struct {
	id        int
	queue     chan domain.Frame
	processed atomic.Uint64
}

// Dispatcher owns the worker lanes.
type Dispatcher struct {
	strategy   Strategy
	handler    Handler
	drainGrace time.Duration

	lanes []*lane
	rr    atomic.Uint64

	affMu    sync.Mutex
	affinity map[string]int

	drops atomic.Uint64

	mu      sync.RWMutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a dispatcher with n lanes of the given queue size.
func New(n, queueSize int, strategy Strategy, drainGrace time.Duration, handler Handler) *Dispatcher {
	if n < 1 {
		n = 1
	}
	if queueSize < 1 {
		queueSize = 1024
	}
	d := &Dispatcher{
		strategy:   strategy,
		handler:    handler,
		drainGrace: drainGrace,
		affinity:   make(map[string]int),
	}
	for i := 0; i < n; i++ {
		d.lanes = append(d.lanes, &lane{id: i, queue: make(chan domain.Frame, queueSize)})
	}
	return d
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	for _, ln := range d.lanes {
		d.wg.Add(1)
		go d.run(ctx, ln)
	}
}

func (d *Dispatcher) run(ctx context.Context, ln *lane) {
	defer d.wg.Done()
	label := strconv.Itoa(ln.id)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-ln.queue:
			if !ok {
				return
			}
			d.handler(ctx, ln.id, frame)
			ln.processed.Add(1)
			telemetry.WorkerQueueDepth.WithLabelValues(label).Set(float64(len(ln.queue)))
			telemetry.PacketsProcessed.WithLabelValues(frame.Interface).Inc()
		}
	}
}

// Dispatch routes one frame. Returns false when the chosen lane's queue is
// full and the frame was dropped.
func (d *Dispatcher) Dispatch(frame domain.Frame) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	ln := d.pick(frame)
	select {
	case ln.queue <- frame:
		return true
	default:
		d.drops.Add(1)
		telemetry.PacketsDropped.WithLabelValues(frame.Interface, "queue_full").Inc()
		return false
	}
}

func (d *Dispatcher) pick(frame domain.Frame) *lane {
	switch d.strategy {
	case RoundRobin:
		return d.lanes[int(d.rr.Add(1)-1)%len(d.lanes)]
	case Affinity:
		d.affMu.Lock()
		defer d.affMu.Unlock()
		if id, ok := d.affinity[frame.Interface]; ok {
			return d.lanes[id]
		}
		ln := d.leastLoaded()
		d.affinity[frame.Interface] = ln.id
		return ln
	default:
		return d.leastLoaded()
	}
}

func (d *Dispatcher) leastLoaded() *lane {
	best := d.lanes[0]
	bestLoad := best.processed.Load()
	for _, ln := range d.lanes[1:] {
		if load := ln.processed.Load(); load < bestLoad {
			best, bestLoad = ln, load
		}
	}
	return best
}

// Stop closes the lanes, lets the workers drain within the grace window,
// then forces termination.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started || d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ln := range d.lanes {
		close(ln.queue)
	}
	cancel := d.cancel
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d.drainGrace):
		log.Printf("Dispatcher: drain grace %s elapsed, forcing worker shutdown", d.drainGrace)
		cancel()
		<-done
	}
	cancel()
}

// Drops reports frames dropped on full lanes.
func (d *Dispatcher) Drops() uint64 {
	return d.drops.Load()
}

// Stats snapshots every lane.
func (d *Dispatcher) Stats() []WorkerStats {
	out := make([]WorkerStats, len(d.lanes))
	for i, ln := range d.lanes {
		out[i] = WorkerStats{ID: ln.id, Queued: len(ln.queue), Processed: ln.processed.Load()}
	}
	return out
}
