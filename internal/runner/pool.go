package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/linkforge/harvester/internal/engine"
	"github.com/linkforge/harvester/internal/harvest"
)

// Pool drains the run queue with a fixed set of workers, each driving one
// combination at a time through the orchestrator.
type Pool struct {
	queue        harvest.RunQueue
	orchestrator *engine.Orchestrator
	size         int
	logger       *zap.Logger
}

// NewPool creates a worker pool of the given size.
func NewPool(queue harvest.RunQueue, orchestrator *engine.Orchestrator, size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		queue:        queue,
		orchestrator: orchestrator,
		size:         size,
		logger:       logger,
	}
}

// Run starts all workers and blocks until the context finishes and the
// workers drain.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	<-ctx.Done()
	wg.Wait()
}

func (p *Pool) work(ctx context.Context, workerID int) {
	log := p.logger.With(zap.Int("worker_id", workerID))
	for {
		req, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				log.Debug("worker stopping", zap.Error(err))
				return
			}
			log.Error("dequeue run request", zap.Error(err))
			return
		}
		summary := p.orchestrator.Run(ctx, req.CombinationID)
		log.Info("run drained",
			zap.String("combination_id", req.CombinationID.String()),
			zap.Int("pages_executed", summary.PagesExecuted),
			zap.Int("links_inserted", summary.LinksInserted),
			zap.String("final_status", string(summary.FinalStatus)))
	}
}

// Submit proxies to the underlying queue.
func (p *Pool) Submit(ctx context.Context, req harvest.RunRequest) error {
	if err := p.queue.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
