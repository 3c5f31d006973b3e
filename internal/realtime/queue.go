package realtime

// sendQueue is a bounded FIFO of serialized outbound messages awaiting an
// open transport. Not safe for concurrent use; the Manager guards it.
type sendQueue struct {
	items [][]byte
	limit int
}

func newSendQueue(limit int) *sendQueue {
	return &sendQueue{limit: limit}
}

// Push appends a message. Returns ErrQueueFull when the cap is reached; the
// caller drops the new message so the already-queued prefix stays contiguous.
func (q *sendQueue) Push(data []byte) error {
	if len(q.items) >= q.limit {
		return ErrQueueFull
	}
	q.items = append(q.items, data)
	return nil
}

// Drain removes and returns all queued messages in enqueue order.
func (q *sendQueue) Drain() [][]byte {
	items := q.items
	q.items = nil
	return items
}

// Requeue puts unsent messages back at the front, preserving order.
func (q *sendQueue) Requeue(items [][]byte) {
	if len(items) == 0 {
		return
	}
	q.items = append(items, q.items...)
}

func (q *sendQueue) Len() int {
	return len(q.items)
}
