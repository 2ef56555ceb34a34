package observer

import (
	"sync"
)

// Event is one observer call waiting for delivery
type Event func(Observer)

// Dispatcher delivers events to an Observer from a single goroutine in FIFO order.
// Post never blocks, the queue is unbounded.
type Dispatcher struct {
	observer Observer

	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewDispatcher starts the delivery goroutine for observer
func NewDispatcher(observer Observer) *Dispatcher {
	d := &Dispatcher{
		observer: observer,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go d.loop()
	return d
}

// Post queues an event. Events posted after Close are dropped.
func (d *Dispatcher) Post(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close delivers the events queued so far and stops the delivery goroutine
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				closed := d.closed
				d.mu.Unlock()
				if closed {
					return
				}
				break
			}
			batch := d.queue
			d.queue = nil
			d.mu.Unlock()

			for _, ev := range batch {
				ev(d.observer)
			}
		}
	}
}
