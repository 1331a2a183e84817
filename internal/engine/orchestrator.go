package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linkforge/harvester/internal/harvest"
	"github.com/linkforge/harvester/internal/metrics"
)

// Pinger verifies persistence connectivity before a run starts. Stores that
// hold no external connection may be wired as nil.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Orchestrator drives a combination page by page until it terminates,
// sleeping a courtesy delay between pages so the provider is not hammered.
type Orchestrator struct {
	executor *Executor
	combos   harvest.CombinationStore
	pinger   Pinger
	delay    time.Duration
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration)
}

// NewOrchestrator wires a run orchestrator. delay is the courtesy pause
// between consecutive pages of the same combination.
func NewOrchestrator(
	executor *Executor,
	combos harvest.CombinationStore,
	pinger Pinger,
	delay time.Duration,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		executor: executor,
		combos:   combos,
		pinger:   pinger,
		delay:    delay,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Run executes pages for the combination until a terminal condition: the
// result cap or end of provider results (completed), a failure, a pause, or
// context cancellation. The summary reports what this run did, not lifetime
// totals.
func (o *Orchestrator) Run(ctx context.Context, id uuid.UUID) harvest.RunSummary {
	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	summary := harvest.RunSummary{CombinationID: id}

	if o.pinger != nil {
		if err := o.pinger.Ping(ctx); err != nil {
			summary.Error = err.Error()
			summary.ErrorCode = harvest.CodeUnknown
			o.logger.Error("persistence unavailable, run aborted",
				zap.String("combination_id", id.String()), zap.Error(err))
			return o.finish(ctx, summary)
		}
	}

	for {
		res := o.executor.ExecutePage(ctx, id)
		if !res.Success {
			summary.Error = res.Error
			summary.ErrorCode = res.ErrorCode
			if res.ErrorCode == harvest.CodeAlreadyInProgress {
				o.logger.Info("combination busy, run skipped",
					zap.String("combination_id", id.String()))
			}
			return o.finish(ctx, summary)
		}

		summary.PagesExecuted++
		summary.LinksInserted += res.InsertedCount

		if !res.HasMore {
			return o.finish(ctx, summary)
		}
		if ctx.Err() != nil {
			summary.Error = ctx.Err().Error()
			return o.finish(ctx, summary)
		}

		metrics.ObserveCourtesyDelay(o.delay)
		o.sleep(ctx, o.delay)
	}
}

func (o *Orchestrator) finish(ctx context.Context, summary harvest.RunSummary) harvest.RunSummary {
	if c, err := o.combos.GetCombination(ctx, summary.CombinationID); err == nil {
		summary.FinalStatus = c.Status
	}
	o.logger.Info("run finished",
		zap.String("combination_id", summary.CombinationID.String()),
		zap.Int("pages_executed", summary.PagesExecuted),
		zap.Int("links_inserted", summary.LinksInserted),
		zap.String("final_status", string(summary.FinalStatus)),
		zap.String("error", summary.Error))
	return summary
}
