package soda

import "sync"

const (
	// DefaultAsyncWorkers is the async command pool worker count.
	DefaultAsyncWorkers = 8

	// DefaultAsyncQueueSize bounds the async command work queue. A full
	// queue pushes back on the submitter: the work runs on the caller's
	// goroutine instead of being dropped.
	DefaultAsyncQueueSize = 100
)

// pool is a fixed-size worker pool with a bounded queue and a caller-runs
// rejection policy.
type pool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

func newPool(workers, queueSize int) *pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &pool{tasks: make(chan func(), queueSize)}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}

	return p
}

// submit enqueues the task, or runs it on the caller when the queue is full.
// Back-pressure flows to the submitter; no task is silently dropped.
func (p *pool) submit(task func()) {
	select {
	case p.tasks <- task:
	default:
		task()
	}
}

// stop closes the queue and waits for workers to drain it.
func (p *pool) stop() {
	p.once.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
