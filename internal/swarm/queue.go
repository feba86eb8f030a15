package swarm

import "sync"

// Item is one unit of work: a file and the digest it had when the pending
// set was built
type Item struct {
	Path string
	Hash string
}

// Queue is the shared FIFO work queue. Claim and Requeue are its only
// mutators.
type Queue struct {
	mu    sync.Mutex
	items []Item
}

// NewQueue returns a queue holding items in order
func NewQueue(items []Item) *Queue {
	return &Queue{items: append([]Item(nil), items...)}
}

// Claim pops the head of the queue. It returns false once the queue is empty.
func (q *Queue) Claim() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	return item, true
}

// Requeue returns an item to the tail of the queue
func (q *Queue) Requeue(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// Len returns the number of queued items
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
