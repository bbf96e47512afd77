package events

import (
	"context"
	"log/slog"
	"sync"
)

const dispatcherQueueSize = 256

// Dispatcher decouples event emission from delivery: Publish enqueues and
// returns immediately, a single worker goroutine fans each event out to the
// configured sinks. A full queue drops the event rather than blocking the
// order flow.
type Dispatcher struct {
	sinks []Sink
	queue chan Event
	log   *slog.Logger

	wg sync.WaitGroup
}

func NewDispatcher(log *slog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks: sinks,
		queue: make(chan Event, dispatcherQueueSize),
		log:   log,
	}
}

// Start runs the delivery worker until ctx is cancelled, then drains the
// queue and returns.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				d.drain()
				return
			case e := <-d.queue:
				d.deliver(e)
			}
		}
	}()
}

// Publish enqueues an event for async delivery. Never blocks.
func (d *Dispatcher) Publish(_ context.Context, e Event) {
	select {
	case d.queue <- e:
	default:
		d.log.Warn("event queue full, dropping event",
			"event", string(e.Type), "order_id", e.OrderID)
	}
}

// Wait blocks until the worker has stopped. Call after cancelling the Start
// context during shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) drain() {
	for {
		select {
		case e := <-d.queue:
			d.deliver(e)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	// Delivery uses a fresh context: the emitting request is long gone.
	ctx := context.Background()
	for _, s := range d.sinks {
		s.Publish(ctx, e)
	}
}
