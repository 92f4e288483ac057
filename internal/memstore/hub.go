package memstore

import (
	"context"
	"sync"

	"github.com/PaulBabatuyi/treechat/internal/feed"
)

// hub maps each query to its live subscribers so a write can be pushed to
// every subscription that watches the affected scope.
type hub struct {
	mu     sync.RWMutex
	subs   map[feed.Query]map[int64]*subscriber
	nextID int64
}

func newHub() *hub {
	return &hub{subs: make(map[feed.Query]map[int64]*subscriber)}
}

// register adds s under q and returns the id to unregister it with.
func (h *hub) register(q feed.Query, s *subscriber) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[q]; !ok {
		h.subs[q] = make(map[int64]*subscriber)
	}
	h.nextID++
	id := h.nextID
	h.subs[q][id] = s
	return id
}

func (h *hub) unregister(q feed.Query, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.subs[q]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(h.subs, q)
		}
	}
}

// publish queues events for every subscriber of q. It never blocks.
func (h *hub) publish(q feed.Query, events ...feed.Event) {
	if len(events) == 0 {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs[q] {
		s.push(delivery{batch: &feed.Batch{Query: q, Events: events}})
	}
}

// recovered queues an empty batch, the recovery signal, for every
// subscriber of q.
func (h *hub) recovered(q feed.Query) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs[q] {
		s.push(delivery{batch: &feed.Batch{Query: q}})
	}
}

// fail queues err for every subscriber of q.
func (h *hub) fail(q feed.Query, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs[q] {
		s.push(delivery{err: err})
	}
}

func (h *hub) count(q feed.Query) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[q])
}

type delivery struct {
	batch *feed.Batch
	err   error
}

// subscriber buffers deliveries for one subscription and hands them to the
// handler on its own goroutine, in order.
type subscriber struct {
	sub *feed.Subscription
	h   feed.Handler

	mu    sync.Mutex
	queue []delivery
	wake  chan struct{}
}

func newSubscriber(sub *feed.Subscription, h feed.Handler) *subscriber {
	return &subscriber{sub: sub, h: h, wake: make(chan struct{}, 1)}
}

func (s *subscriber) push(d delivery) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) next() (delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return delivery{}, false
	}
	d := s.queue[0]
	s.queue = s.queue[1:]
	return d, true
}

func (s *subscriber) run(ctx context.Context, done func()) {
	defer done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		for {
			d, ok := s.next()
			if !ok {
				break
			}
			if d.err != nil {
				err := d.err
				if !s.sub.Deliver(func() { s.h.OnError(err) }) || !feed.IsRecoverable(err) {
					return
				}
				continue
			}
			b := *d.batch
			if !s.sub.Deliver(func() { s.h.OnBatch(b) }) {
				return
			}
		}
	}
}
