package loadtest

import (
	"context"
	"sync"
)

// WorkerGroup allows us to encapsulate the management of a group of workers
// that share a message sink.
type WorkerGroup struct {
	workers []*Worker

	wg        sync.WaitGroup
	summaries []WorkerSummary
}

func NewWorkerGroup() *WorkerGroup {
	return &WorkerGroup{
		workers: make([]*Worker, 0),
	}
}

// Add appends the given worker to the group. Must be called before Start.
func (g *WorkerGroup) Add(w *Worker) {
	g.workers = append(g.workers, w)
}

// Len returns the number of workers in the group.
func (g *WorkerGroup) Len() int {
	return len(g.workers)
}

// Start will run each worker in its own goroutine.
func (g *WorkerGroup) Start(ctx context.Context) {
	g.summaries = make([]WorkerSummary, len(g.workers))
	for i, w := range g.workers {
		g.wg.Add(1)
		go func(idx int, _w *Worker) {
			defer g.wg.Done()
			// each goroutine writes to its own slot
			g.summaries[idx] = _w.Run(ctx)
		}(i, w)
	}
}

// Wait will block until all workers have terminated, returning their
// summaries in the order in which the workers were added.
func (g *WorkerGroup) Wait() []WorkerSummary {
	g.wg.Wait()
	return g.summaries
}
