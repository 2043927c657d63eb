package camrec

import "sync"

// eventQueue is an unbounded FIFO between emit and the delivery
// goroutine. Only FrameAvailable events are bounded: at most maxFrames
// of them wait in the queue, later ones are dropped.
type eventQueue struct {
	mu        sync.Mutex
	items     []Event
	frames    int
	maxFrames int
	closed    bool
	ready     chan struct{}
}

func newEventQueue(maxFrames int) *eventQueue {
	return &eventQueue{maxFrames: maxFrames, ready: make(chan struct{}, 1)}
}

// push appends ev without blocking. It returns false if ev was dropped.
func (q *eventQueue) push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if ev.Kind == EventFrameAvailable {
		if q.frames >= q.maxFrames {
			return false
		}
		q.frames++
	}
	q.items = append(q.items, ev)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// pop removes the oldest event.
func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Event{}, false
	}
	ev := q.items[0]
	q.items[0] = Event{}
	q.items = q.items[1:]
	if ev.Kind == EventFrameAvailable {
		q.frames--
	}
	return ev, true
}

// close stops accepting events. Queued events stay available to pop.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// deliver moves queued events to the host channel until quit is closed.
// Events still queued then are delivered only if the channel has room,
// and the channel is closed.
func (e *Engine) deliver() {
	defer close(e.delivered)
	defer close(e.events)
	for {
		ev, ok := e.queue.pop()
		if !ok {
			select {
			case <-e.queue.ready:
				continue
			case <-e.quit:
				e.flush()
				return
			}
		}
		select {
		case e.events <- ev:
		case <-e.quit:
			e.offer(ev)
			e.flush()
			return
		}
	}
}

func (e *Engine) flush() {
	for {
		ev, ok := e.queue.pop()
		if !ok {
			return
		}
		e.offer(ev)
	}
}

func (e *Engine) offer(ev Event) {
	select {
	case e.events <- ev:
	default:
		if ev.Kind == EventFrameAvailable {
			e.droppedEvents.Add(1)
		} else {
			Logger().Debug("camrec: event not delivered on release", "kind", ev.Kind)
		}
	}
}
