package connectivity

import (
	"sync"
	"sync/atomic"
)

// defaultAsyncQueueSize bounds the events buffered for a slow observer.
const defaultAsyncQueueSize = 256

// AsyncObserver decouples a slow observer (MQTT, SQLite, InfluxDB) from the
// goroutine that changes connectivity state. Events are queued and
// delivered in order by one worker; when the queue is full the event is
// dropped and counted.
type AsyncObserver struct {
	next  Observer
	queue chan Event

	dropped atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewAsyncObserver wraps next with a queue of the given size.
// A size of 0 or less selects the default.
func NewAsyncObserver(next Observer, size int) *AsyncObserver {
	if size <= 0 {
		size = defaultAsyncQueueSize
	}
	return &AsyncObserver{
		next:  next,
		queue: make(chan Event, size),
		done:  make(chan struct{}),
	}
}

// Start launches the delivery worker. Calling Start more than once is a no-op.
func (a *AsyncObserver) Start() {
	a.startOnce.Do(func() {
		a.wg.Add(1)
		go a.run()
	})
}

// Stop delivers what is already queued and stops the worker.
func (a *AsyncObserver) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
}

// OnEvent enqueues ev without blocking.
func (a *AsyncObserver) OnEvent(ev Event) {
	select {
	case <-a.done:
		a.dropped.Add(1)
		return
	default:
	}

	select {
	case a.queue <- ev:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the queue was full
// or the observer was stopped.
func (a *AsyncObserver) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *AsyncObserver) run() {
	defer a.wg.Done()
	for {
		select {
		case ev := <-a.queue:
			a.next.OnEvent(ev)
		case <-a.done:
			a.drain()
			return
		}
	}
}

func (a *AsyncObserver) drain() {
	for {
		select {
		case ev := <-a.queue:
			a.next.OnEvent(ev)
		default:
			return
		}
	}
}
