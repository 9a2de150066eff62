package worker

import (
	"context"
	"sync"

	"github.com/JakeFAU/scrape-engine-gateway/internal/jobs"
)

// Pool fans out queue work to a fixed set of workers.
type Pool struct {
	queue   jobs.Queue
	workers []*Worker
}

// NewPool creates a Pool.
func NewPool(queue jobs.Queue, workers []*Worker) *Pool {
	return &Pool{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until every one of them returns.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}
