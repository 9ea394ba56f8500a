package broker

import "sync"

// notificationQueue is an unbounded FIFO of order snapshots. A nil entry is
// the tick sentinel deposited by Next.
type notificationQueue struct {
	mu    sync.Mutex
	items []*Order
}

func (q *notificationQueue) push(o *Order) {
	q.mu.Lock()
	q.items = append(q.items, o)
	q.mu.Unlock()
}

func (q *notificationQueue) pop() (*Order, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	o := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return o, true
}

func (q *notificationQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
