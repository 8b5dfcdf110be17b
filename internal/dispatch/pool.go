// Package dispatch runs producer jobs outside the request that created
// them: on an in-process worker pool, optionally fed by a RabbitMQ queue.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/branchchat/internal/producer"
)

var ErrPoolClosed = errors.New("dispatch pool closed")

type Runner interface {
	Run(ctx context.Context, job producer.Job) error
}

// Dispatcher hands a job off for asynchronous production.
type Dispatcher interface {
	Dispatch(ctx context.Context, job producer.Job) error
}

type task struct {
	job  producer.Job
	done func(error)
}

// Pool runs jobs on a fixed number of workers. Jobs run on the pool's own
// context with a per-job timeout, never on the submitter's.
type Pool struct {
	runner      Runner
	concurrency int
	timeout     time.Duration

	tasks chan task
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(runner Runner, concurrency int, timeout time.Duration) *Pool {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Pool{
		runner:      runner,
		concurrency: concurrency,
		timeout:     timeout,
		tasks:       make(chan task, concurrency*2),
	}
}

// Start launches the workers. Cancelling ctx aborts running jobs.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		go p.worker(ctx, i)
	}
	log.Info().Int("concurrency", p.concurrency).Dur("timeout", p.timeout).Msg("dispatch_pool_started")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for t := range p.tasks {
		jctx, cancel := ctx, context.CancelFunc(func() {})
		if p.timeout > 0 {
			jctx, cancel = context.WithTimeout(ctx, p.timeout)
		}
		start := time.Now()
		err := p.runner.Run(jctx, t.job)
		cancel()
		if err != nil {
			log.Warn().Err(err).Int("worker", id).Str("stream_id", t.job.StreamID).Dur("cost", time.Since(start)).Msg("job_failed")
		}
		if t.done != nil {
			t.done(err)
		}
	}
}

// Dispatch queues job for the pool.
func (p *Pool) Dispatch(ctx context.Context, job producer.Job) error {
	return p.Submit(ctx, job, nil)
}

// Submit queues job and calls done with its outcome once it ran.
func (p *Pool) Submit(ctx context.Context, job producer.Job, done func(error)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task{job: job, done: done}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new jobs and waits for queued ones to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	log.Info().Msg("dispatch_pool_stopped")
}
