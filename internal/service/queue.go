package service

// JobQueue is the in-process wake-up channel layered over the durable queue
// (the queued rows in the jobs table). Enqueue never blocks: a dropped signal
// only delays pickup until the next worker poll, it never loses the job.
type JobQueue struct {
	ch chan string
}

// NewJobQueue creates a queue with the given signal buffer size.
func NewJobQueue(size int) *JobQueue {
	if size <= 0 {
		size = 64
	}
	return &JobQueue{ch: make(chan string, size)}
}

// Enqueue signals that a job is ready for pickup.
func (q *JobQueue) Enqueue(jobID string) {
	select {
	case q.ch <- jobID:
	default:
	}
}

// C returns the signal channel consumed by workers.
func (q *JobQueue) C() <-chan string {
	return q.ch
}
