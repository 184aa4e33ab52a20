package supervisor

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/core-tools/hsu-dash/pkg/logging"
	"github.com/core-tools/hsu-dash/pkg/state"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

const DefaultQueueSize = 4096

// DropFunc is called for every event the queue discards.
type DropFunc func(ev state.Event)

// Queue is the bounded event queue between producers and the coordinator.
// Push never blocks. When the queue is full the oldest droppable event is
// evicted; lifecycle events are always kept, even above capacity.
type Queue struct {
	capacity int
	now      func() time.Time
	onDrop   DropFunc
	logger   logging.Logger
	warn     *rate.Limiter

	mutex   sync.Mutex
	events  []state.Event
	seq     map[unit.ID]uint64
	dropped uint64
	notify  chan struct{}
}

func NewQueue(capacity int, onDrop DropFunc, logger logging.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	if onDrop == nil {
		onDrop = func(state.Event) {}
	}
	return &Queue{
		capacity: capacity,
		now:      time.Now,
		onDrop:   onDrop,
		logger:   logger,
		warn:     rate.NewLimiter(rate.Every(time.Second), 1),
		events:   make([]state.Event, 0, 64),
		seq:      make(map[unit.ID]uint64),
		notify:   make(chan struct{}, 1),
	}
}

// Push stamps the payload with the next sequence number of id and the
// current time. It returns false when the new event itself was dropped.
func (q *Queue) Push(id unit.ID, payload state.Payload) bool {
	q.mutex.Lock()
	q.seq[id]++
	ev := state.Event{UnitID: id, Seq: q.seq[id], At: q.now(), Payload: payload}

	var evicted *state.Event
	accepted := true
	if len(q.events) >= q.capacity {
		if i := q.oldestDroppable(); i >= 0 {
			old := q.events[i]
			evicted = &old
			q.events = append(q.events[:i], q.events[i+1:]...)
		} else if ev.Droppable() {
			evicted = &ev
			accepted = false
		}
	}
	if accepted {
		q.events = append(q.events, ev)
	}
	if evicted != nil {
		q.dropped++
	}
	dropped := q.dropped
	q.mutex.Unlock()

	if evicted != nil {
		q.onDrop(*evicted)
		if q.warn.Allow() {
			q.logger.Warnf("Event queue full, dropped %s event, unit: %s, total dropped: %d",
				evicted.Kind(), evicted.UnitID, dropped)
		}
	}
	if accepted {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return accepted
}

func (q *Queue) oldestDroppable() int {
	for i := range q.events {
		if q.events[i].Droppable() {
			return i
		}
	}
	return -1
}

// Drain moves every queued event into dst in arrival order.
func (q *Queue) Drain(dst []state.Event) []state.Event {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	dst = append(dst, q.events...)
	q.events = q.events[:0]
	return dst
}

// Notify is signalled after every push. Signals coalesce, so one receive
// may cover several events.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.events)
}

func (q *Queue) Dropped() uint64 {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.dropped
}
