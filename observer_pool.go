package xhub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Pool sizing used when NewObserverPool gets non-positive values.
const (
	DefaultPoolWorkers = 4
	DefaultPoolBuffer  = 1000
)

// ObserverPool hands RelayEvents to observers on worker goroutines, off the read loops of
// the connections. A full queue drops the event and counts it.
type ObserverPool struct {
	jobs    chan observerJob
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
}

// observerJob pairs an event with the observers registered when it was raised.
type observerJob struct {
	event     RelayEvent
	observers []Observer
}

// NewObserverPool starts workers goroutines reading from a queue of bufferSize events.
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = DefaultPoolWorkers
	}
	if bufferSize < 1 {
		bufferSize = DefaultPoolBuffer
	}
	poolCtx, cancel := context.WithCancel(ctx)
	op := &ObserverPool{
		jobs:    make(chan observerJob, bufferSize),
		workers: workers,
		ctx:     poolCtx,
		cancel:  cancel,
	}
	op.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go op.run()
	}
	return op
}

// Notify queues e for observers. It never blocks.
func (op *ObserverPool) Notify(e RelayEvent, observers []Observer) {
	if len(observers) == 0 {
		return
	}
	if op.closed.Load() {
		op.dropped.Add(1)
		return
	}
	job := observerJob{event: e, observers: append([]Observer(nil), observers...)}
	select {
	case op.jobs <- job:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) run() {
	defer op.wg.Done()
	for {
		select {
		case job := <-op.jobs:
			op.handle(job)
		case <-op.ctx.Done():
			// queued events still go out
			for {
				select {
				case job := <-op.jobs:
					op.handle(job)
				default:
					return
				}
			}
		}
	}
}

func (op *ObserverPool) handle(job observerJob) {
	for _, o := range job.observers {
		if o != nil {
			safeObserve(o, job.event)
		}
	}
	op.processed.Add(1)
}

// Close stops accepting events, lets the workers drain the queue and waits at most timeout.
func (op *ObserverPool) Close(timeout time.Duration) error {
	if op.closed.Swap(true) {
		return nil
	}
	op.cancel()

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrObserverPoolShutdownTimeout
	}
}

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	Dropped    uint64
	Processed  uint64
	Queued     int
	Workers    int
	BufferSize int
}

func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:    op.dropped.Load(),
		Processed:  op.processed.Load(),
		Queued:     len(op.jobs),
		Workers:    op.workers,
		BufferSize: cap(op.jobs),
	}
}
