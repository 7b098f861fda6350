package coordinator

import (
	"sync"

	"github.com/Iron-Ham/fanout/internal/queue"
)

// RequestQueue is the unbounded FIFO between the intake listener and the
// dispatcher. A request stays pending from Push until Done, so a submission
// redelivered while it waits or is being dispatched is not queued twice;
// its newer delivery token replaces the old one instead.
type RequestQueue struct {
	mu      sync.Mutex
	order   []string
	pending map[string]queue.Message
}

// NewRequestQueue creates an empty FIFO.
func NewRequestQueue() *RequestQueue {
	return &RequestQueue{pending: make(map[string]queue.Message)}
}

// Push appends msg. It returns false when a delivery of the same message is
// already pending.
func (r *RequestQueue) Push(msg queue.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[msg.ID]; ok {
		r.pending[msg.ID] = msg
		return false
	}
	r.pending[msg.ID] = msg
	r.order = append(r.order, msg.ID)
	return true
}

// Pop removes the oldest queued request. It stays pending until Done.
func (r *RequestQueue) Pop() (queue.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return queue.Message{}, false
	}
	id := r.order[0]
	r.order[0] = ""
	r.order = r.order[1:]
	return r.pending[id], true
}

// Done forgets the request and returns its latest delivery token.
func (r *RequestQueue) Done(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := r.pending[id]
	delete(r.pending, id)
	return msg.Token
}

// Len returns the number of requests waiting to be popped.
func (r *RequestQueue) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Pending returns the number of requests queued or being dispatched.
func (r *RequestQueue) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
