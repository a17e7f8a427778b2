package engine

// fifo is a bounded FIFO of broadcast messages. When full, pushing evicts
// the oldest entry (the caller logs the eviction).
type fifo struct {
	items    []*message
	capacity int
}

func newFIFO(capacity int) *fifo {
	return &fifo{capacity: capacity}
}

// push appends a message, returning the evicted message if the queue was at
// capacity, nil otherwise.
func (q *fifo) push(m *message) *message {
	var dropped *message
	if len(q.items) >= q.capacity {
		dropped = q.items[0]
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
	}
	q.items = append(q.items, m)
	return dropped
}

// pop removes and returns the oldest message, or nil when empty.
func (q *fifo) pop() *message {
	if len(q.items) == 0 {
		return nil
	}
	m := q.items[0]
	copy(q.items, q.items[1:])
	q.items = q.items[:len(q.items)-1]
	return m
}

func (q *fifo) len() int {
	return len(q.items)
}
