package core

import "sync"

// taskQueue is the unbounded FIFO feeding the engine loop. Producers never
// block, which lets provider callbacks post work from any goroutine.
type taskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{tasks: make([]func(), 0)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *taskQueue) push(task func()) bool {
	if task == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, task)
	q.cond.Signal()
	return true
}

// close rejects further pushes and queues final as the last task. Tasks
// already queued still run.
func (q *taskQueue) close(final func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if final != nil {
		q.tasks = append(q.tasks, final)
	}
	q.closed = true
	q.cond.Broadcast()
}

// next blocks until a task is available. It reports false once the queue is
// closed and drained.
func (q *taskQueue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.tasks) == 0 {
		return nil, false
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task, true
}
