package connection

import "sync"

// LineQueue is an unbounded FIFO between the receive loop (single producer)
// and the dispatch loop (single consumer).
type LineQueue struct {
	mutex  sync.Mutex
	lines  []string
	notify chan struct{}
}

func NewLineQueue() *LineQueue {
	return &LineQueue{notify: make(chan struct{}, 1)}
}

// Push appends lines and wakes the consumer.
func (queue *LineQueue) Push(lines ...string) {
	if len(lines) == 0 {
		return
	}
	queue.mutex.Lock()
	queue.lines = append(queue.lines, lines...)
	queue.mutex.Unlock()

	select {
	case queue.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns all queued lines in arrival order.
func (queue *LineQueue) Drain() []string {
	queue.mutex.Lock()
	defer queue.mutex.Unlock()
	lines := queue.lines
	queue.lines = nil
	return lines
}

// Ready is signalled after a Push. A signal may cover several pushes.
func (queue *LineQueue) Ready() <-chan struct{} {
	return queue.notify
}

func (queue *LineQueue) Len() int {
	queue.mutex.Lock()
	defer queue.mutex.Unlock()
	return len(queue.lines)
}
