package gateway

import (
	"sync"

	"github.com/starbridge/observatoryd/internal/protocol"
)

// outQueue is the per-session outbound buffer. The writer goroutine drains
// it in order. Under backpressure, progress events coalesce so that only
// the latest snapshot per event name survives; terminal events are always
// appended and never dropped.
type outQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*protocol.Response
	limit  int
	closed bool
}

func newOutQueue(limit int) *outQueue {
	if limit <= 0 {
		limit = 64
	}
	q := &outQueue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues a response. Terminal responses always enter the queue,
// even when it is over limit. A progress response supersedes an already
// queued progress response for the same event: the stale entry is removed
// and the new one joins the tail, so delivery order always follows
// emission order. When the queue is full and nothing is supersedable, the
// new progress event is dropped.
func (q *outQueue) push(resp *protocol.Response) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if !resp.Terminal() {
		superseded := false
		for i := len(q.items) - 1; i >= 0; i-- {
			queued := q.items[i]
			if !queued.Terminal() && queued.Event == resp.Event {
				q.items = append(q.items[:i], q.items[i+1:]...)
				superseded = true
				break
			}
		}
		if !superseded && len(q.items) >= q.limit {
			return
		}
	}
	q.items = append(q.items, resp)
	q.cond.Signal()
}

// pop blocks until a response is available or the queue is closed.
func (q *outQueue) pop() (*protocol.Response, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	resp := q.items[0]
	q.items = q.items[1:]
	return resp, true
}

func (q *outQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}
