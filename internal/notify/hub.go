package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Subscriber receives every published notification. Subscribers run on the
// publishing goroutine and must not block.
type Subscriber func(Notification)

// Hub is an in-memory pub/sub with a small ring buffer of recent notifications.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Notification
	start int
	size  int

	subs      map[int]Subscriber
	nextSubID int
}

// NewHub creates a hub that remembers up to capacity recent notifications.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Notification, capacity),
		subs: make(map[int]Subscriber),
	}
}

// Publish stamps n with an id and time, records it and fans it out.
func (h *Hub) Publish(n Notification) Notification {
	n.ID = h.nextID.Add(1)
	n.At = time.Now().UTC()

	h.mu.Lock()
	h.pushLocked(n)
	subs := make([]Subscriber, 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(n)
	}
	return n
}

// Broadcast publishes n in-process. It satisfies command.Broadcaster.
func (h *Hub) Broadcast(_ context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	h.Publish(n)
	return nil
}

// Subscribe registers fn and returns a function that removes it.
func (h *Hub) Subscribe(fn Subscriber) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	h.subs[id] = fn

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// SnapshotSince returns buffered notifications with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Notification, 0, h.size)
	for i := 0; i < h.size; i++ {
		n := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || n.ID > lastID {
			out = append(out, n)
		}
	}
	return out
}

func (h *Hub) pushLocked(n Notification) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = n
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = n
	h.start = (h.start + 1) % capacity
}
