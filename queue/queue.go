package queue

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/refractionPOINT/syslog-generator/counters"
)

// LogQueue is the FIFO between the log source and the transport workers.
// It never blocks and never rejects.
type LogQueue interface {
	Enqueue(line string)
	TryDequeue() (string, bool)
	Len() int
}

type ReplayQueue struct {
	mu       sync.Mutex
	items    *queue.Queue
	produced *counters.Counter
}

// NewReplayQueue creates an empty queue counting every Enqueue on produced.
func NewReplayQueue(produced *counters.Counter) *ReplayQueue {
	return &ReplayQueue{
		items:    queue.New(),
		produced: produced,
	}
}

func (q *ReplayQueue) Enqueue(line string) {
	q.mu.Lock()
	q.items.Add(line)
	q.mu.Unlock()
	q.produced.Increment()
}

func (q *ReplayQueue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		return "", false
	}
	return q.items.Remove().(string), true
}

func (q *ReplayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}
