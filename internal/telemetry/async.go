package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultQueueSize = 256

type record struct {
	ctx    context.Context
	funnel *FunnelEvent
	call   *ProviderCall
}

// Async delivers records to a downstream sink on a background goroutine.
// When the queue is full the oldest record is dropped to make room.
type Async struct {
	next   Sink
	queue  chan record
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	// closeMu orders enqueues before Close: once closed is set no record
	// can reach the queue after the final drain.
	closeMu sync.RWMutex
	closed  bool

	mu      sync.Mutex
	dropped int
}

// NewAsync starts the background processor. queueSize <= 0 uses a default.
func NewAsync(next Sink, queueSize int, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		next:   next,
		queue:  make(chan record, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	a.wg.Add(1)
	go a.process()
	return a
}

// Funnel queues ev.
func (a *Async) Funnel(ctx context.Context, ev FunnelEvent) {
	a.enqueue(record{ctx: context.WithoutCancel(ctx), funnel: &ev})
}

// ProviderCall queues call.
func (a *Async) ProviderCall(ctx context.Context, call ProviderCall) {
	a.enqueue(record{ctx: context.WithoutCancel(ctx), call: &call})
}

func (a *Async) enqueue(r record) {
	a.closeMu.RLock()
	defer a.closeMu.RUnlock()
	if a.closed {
		a.countDropped()
		return
	}

	select {
	case a.queue <- r:
		return
	default:
	}

	// Queue full: drop the oldest record and try once more.
	select {
	case <-a.queue:
		a.countDropped()
	default:
	}

	select {
	case a.queue <- r:
	default:
		a.countDropped()
		a.logger.Warn("telemetry queue full, record dropped", "queue_len", len(a.queue))
	}
}

func (a *Async) countDropped() {
	a.mu.Lock()
	a.dropped++
	a.mu.Unlock()
}

func (a *Async) process() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			a.drain()
			return
		case r := <-a.queue:
			a.deliver(r)
		}
	}
}

// drain flushes what is left in the queue without blocking.
func (a *Async) drain() {
	for {
		select {
		case r := <-a.queue:
			a.deliver(r)
		default:
			return
		}
	}
}

func (a *Async) deliver(r record) {
	start := time.Now()
	switch {
	case r.funnel != nil:
		a.next.Funnel(r.ctx, *r.funnel)
	case r.call != nil:
		a.next.ProviderCall(r.ctx, *r.call)
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		a.logger.Warn("slow telemetry sink", "duration_ms", d.Milliseconds())
	}
}

// Dropped returns how many records were discarded under backpressure or
// after Close.
func (a *Async) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Close stops accepting records, flushes the queue and waits for the
// processor. It returns an error if the flush does not finish within
// timeout.
func (a *Async) Close(timeout time.Duration) error {
	a.closeMu.Lock()
	a.closed = true
	a.closeMu.Unlock()
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		remaining := len(a.queue)
		a.logger.Warn("telemetry processor shutdown timeout", "queue_remaining", remaining)
		return fmt.Errorf("telemetry flush timed out after %s with %d record(s) queued", timeout, remaining)
	}
}
