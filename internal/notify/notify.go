// Package notify fans out fire-and-forget notifications to collaborator
// services: the activity tracker, the reputation engine, the workflow
// trigger evaluator, and the caption overlay.
//
// Deliveries run on a bounded worker pool. The queue has a fixed depth;
// when it is full new tasks are dropped and logged rather than blocking
// the dispatch path. A collaborator outage therefore slows nothing down
// and loses only its own notifications.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is a single unit of notification work.
type Task struct {
	Name string // collaborator name, for logs and metrics
	Run  func(ctx context.Context) error
}

// Pool is a bounded fire-and-forget worker pool.
type Pool struct {
	queue   chan Task
	timeout time.Duration
	log     zerolog.Logger

	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// NewPool constructs a Pool with the given worker count and queue depth.
// Call Start before enqueueing and Stop on shutdown.
func NewPool(workers, depth int, timeout time.Duration, log zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	p := &Pool{
		queue:   make(chan Task, depth),
		timeout: timeout,
		log:     log,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := task.Run(ctx); err != nil {
			p.log.Warn().Err(err).Str("collaborator", task.Name).
				Msg("notification delivery failed")
		}
		cancel()
	}
}

// Enqueue submits a task. It never blocks: when the queue is full the task
// is dropped, logged, and false is returned.
func (p *Pool) Enqueue(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.queue <- task:
		return true
	default:
		p.log.Warn().Str("collaborator", task.Name).Msg("notify queue full, dropping")
		return false
	}
}

// Stop closes the queue and waits for in-flight deliveries to finish.
// Enqueue after Stop returns false.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
