package worker

import (
	"context"
	"sync"

	"github.com/baharkarakas/bank-ledger/internal/metrics"
)

type task func()

// Pool runs tasks on a fixed number of goroutines. Its size caps how many
// ledger units hit storage at once.
type Pool struct {
	wg      sync.WaitGroup
	pending sync.WaitGroup // Do calls still blocked in Submit
	jobs    chan task
}

func NewPool(n, queue int) *Pool {
	if n <= 0 {
		n = 1
	}
	if queue <= 0 {
		queue = 1024
	}
	p := &Pool{jobs: make(chan task, queue)}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				metrics.WorkerQueueDepth.Dec()
				job()
			}
		}()
	}
	return p
}

// Submit enqueues f without waiting for it. Must not be called after Stop.
func (p *Pool) Submit(f task) {
	metrics.WorkerQueueDepth.Inc()
	p.jobs <- f
}

// Do runs f on the pool and waits for it. If ctx ends first Do returns
// ctx.Err() and f still runs once a worker is free. A ctx that is already
// done when Do is called runs nothing.
func (p *Pool) Do(ctx context.Context, f func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		p.Submit(func() {
			defer close(done)
			f()
		})
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop waits for abandoned Do calls to enqueue, drains the queue and waits
// for the workers to exit.
func (p *Pool) Stop() {
	p.pending.Wait()
	close(p.jobs)
	p.wg.Wait()
}
