package propagate

import (
	"context"
	"sync"

	"fsqcal/internal/model"
)

type jobKind int

const (
	jobPush jobKind = iota + 1
	jobDelete
)

func (k jobKind) String() string {
	switch k {
	case jobPush:
		return "push"
	case jobDelete:
		return "delete"
	default:
		return "unknown"
	}
}

type job struct {
	kind      jobKind
	checkinID string
	record    model.CheckinRecord // set for jobPush
}

// jobQueue is an unbounded FIFO shared by all workers. Enqueue never
// blocks the caller, so the engine can hand off deltas right after its
// critical section.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{} // buffered, size 1; closed on Close
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]job, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends j. Returns false once the queue is closed.
func (q *jobQueue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)
	q.notifyLocked()
	return true
}

// Dequeue blocks until a job is available, the queue is closed and
// drained, or ctx is done.
func (q *jobQueue) Dequeue(ctx context.Context) (job, bool) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			j := q.jobs[0]
			q.jobs[0] = job{}
			q.jobs = q.jobs[1:]
			if len(q.jobs) > 0 {
				q.notifyLocked()
			}
			q.mu.Unlock()
			return j, true
		}
		if q.closed {
			q.mu.Unlock()
			return job{}, false
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return job{}, false
		}
	}
}

// Len returns the number of queued jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops accepting jobs; queued ones are still handed out.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// notifyLocked wakes one waiter. After Close the signal channel is closed
// and every waiter wakes on its own.
func (q *jobQueue) notifyLocked() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
