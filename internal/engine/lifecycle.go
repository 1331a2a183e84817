// Package engine implements combination lifecycle management, single page
// execution against the search provider, and the background run orchestrator.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linkforge/harvester/internal/harvest"
)

// Combination bounds accepted by CreateOrGet.
const (
	minAllowedResults = 1
	maxAllowedResults = 1000
)

// Lifecycle owns every operator-driven state transition of a combination.
// Page execution transitions (running, completed, failed) are applied by the
// Executor through the mark helpers below.
type Lifecycle struct {
	combos harvest.CombinationStore
	dorks  harvest.DorkStore
	lock   harvest.Locker
	clock  harvest.Clock
	ids    harvest.IDGenerator
	logger *zap.Logger
}

// NewLifecycle wires a lifecycle service.
func NewLifecycle(
	combos harvest.CombinationStore,
	dorks harvest.DorkStore,
	lock harvest.Locker,
	clock harvest.Clock,
	ids harvest.IDGenerator,
	logger *zap.Logger,
) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{
		combos: combos,
		dorks:  dorks,
		lock:   lock,
		clock:  clock,
		ids:    ids,
		logger: logger,
	}
}

// CreateOrGet returns the combination for the triple, creating it when absent.
// The boolean reports whether a new record was created. The dork reference is
// resolved eagerly so a dangling dork fails the request instead of the first
// page execution.
func (l *Lifecycle) CreateOrGet(ctx context.Context, p harvest.CreateParams) (harvest.Combination, bool, error) {
	if p.MaxAllowedResults < minAllowedResults || p.MaxAllowedResults > maxAllowedResults {
		return harvest.Combination{}, false, fmt.Errorf(
			"%w: max_allowed_results must be between %d and %d",
			harvest.ErrValidation, minAllowedResults, maxAllowedResults)
	}

	existing, err := l.combos.GetCombinationByTriple(ctx, p.Triple)
	if err == nil {
		return existing, false, nil
	}
	if !isNotFound(err) {
		return harvest.Combination{}, false, fmt.Errorf("lookup combination: %w", err)
	}

	dork, err := l.dorks.GetDork(ctx, p.Triple.DorkID)
	if err != nil {
		if isNotFound(err) {
			return harvest.Combination{}, false, fmt.Errorf("dork %s: %w", p.Triple.DorkID, harvest.ErrNotFound)
		}
		return harvest.Combination{}, false, fmt.Errorf("resolve dork: %w", err)
	}

	id, err := l.ids.NewRawID()
	if err != nil {
		return harvest.Combination{}, false, fmt.Errorf("generate combination id: %w", err)
	}

	now := l.clock.Now()
	c := harvest.Combination{
		ID:                id,
		Triple:            p.Triple,
		DorkString:        dork.Text,
		CredentialID:      p.CredentialID,
		TotalFetched:      0,
		LastStartIndex:    0,
		NextStartIndex:    1,
		MaxAllowedResults: p.MaxAllowedResults,
		Status:            harvest.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	created, err := l.combos.CreateCombination(ctx, c)
	if err != nil {
		return harvest.Combination{}, false, fmt.Errorf("create combination: %w", err)
	}
	if !created {
		// Lost a create race; the row that won is the one we return.
		existing, err := l.combos.GetCombinationByTriple(ctx, p.Triple)
		if err != nil {
			return harvest.Combination{}, false, fmt.Errorf("reload combination after conflict: %w", err)
		}
		return existing, false, nil
	}

	l.logger.Info("combination created",
		zap.String("combination_id", c.ID.String()),
		zap.String("dork_id", p.Triple.DorkID.String()),
		zap.Int("max_allowed_results", p.MaxAllowedResults))
	return c, true, nil
}

// Pause moves a pending or running combination to paused. Pausing is
// advisory: an in-flight page execution finishes its current page and the
// orchestrator observes the paused status before fetching the next one.
func (l *Lifecycle) Pause(ctx context.Context, id uuid.UUID) (harvest.Combination, error) {
	c, err := l.combos.GetCombination(ctx, id)
	if err != nil {
		return harvest.Combination{}, err
	}
	if c.Status != harvest.StatusPending && c.Status != harvest.StatusRunning {
		return harvest.Combination{}, fmt.Errorf("%w: cannot pause from %s", harvest.ErrInvalidTransition, c.Status)
	}
	c.Status = harvest.StatusPaused
	c.UpdatedAt = l.clock.Now()
	if err := l.combos.UpdateCombination(ctx, c); err != nil {
		return harvest.Combination{}, fmt.Errorf("pause combination: %w", err)
	}
	l.logger.Info("combination paused", zap.String("combination_id", id.String()))
	return c, nil
}

// Resume moves a paused combination back to pending, clearing any error left
// by a rate-limited run. Execution restarts from the stored cursor.
func (l *Lifecycle) Resume(ctx context.Context, id uuid.UUID) (harvest.Combination, error) {
	c, err := l.combos.GetCombination(ctx, id)
	if err != nil {
		return harvest.Combination{}, err
	}
	if c.Status != harvest.StatusPaused {
		return harvest.Combination{}, fmt.Errorf("%w: cannot resume from %s", harvest.ErrInvalidTransition, c.Status)
	}
	c.Status = harvest.StatusPending
	c.ErrorMessage = ""
	c.UpdatedAt = l.clock.Now()
	if err := l.combos.UpdateCombination(ctx, c); err != nil {
		return harvest.Combination{}, fmt.Errorf("resume combination: %w", err)
	}
	l.logger.Info("combination resumed", zap.String("combination_id", id.String()))
	return c, nil
}

// Reset deletes every harvested link and returns the combination to a fresh
// pending state. Reset takes the same execution lock as page execution so it
// can never interleave with an in-flight page.
func (l *Lifecycle) Reset(ctx context.Context, id uuid.UUID) (harvest.Combination, error) {
	if !l.lock.Acquire(id) {
		return harvest.Combination{}, harvest.ErrAlreadyInProgress
	}
	defer l.lock.Release(id)

	c, err := l.combos.GetCombination(ctx, id)
	if err != nil {
		return harvest.Combination{}, err
	}
	c.TotalFetched = 0
	c.LastStartIndex = 0
	c.NextStartIndex = 1
	c.Status = harvest.StatusPending
	c.ErrorMessage = ""
	c.LastRunAt = nil
	c.CompletedAt = nil
	c.UpdatedAt = l.clock.Now()
	if err := l.combos.ResetCombination(ctx, c); err != nil {
		return harvest.Combination{}, fmt.Errorf("reset combination: %w", err)
	}
	l.logger.Info("combination reset", zap.String("combination_id", id.String()))
	return c, nil
}

// markCompleted finalizes a combination whose result space is exhausted.
func (l *Lifecycle) markCompleted(ctx context.Context, c *harvest.Combination) error {
	now := l.clock.Now()
	c.Status = harvest.StatusCompleted
	c.CompletedAt = &now
	c.UpdatedAt = now
	if err := l.combos.UpdateCombination(ctx, *c); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	l.logger.Info("combination completed",
		zap.String("combination_id", c.ID.String()),
		zap.Int("total_fetched", c.TotalFetched))
	return nil
}

// markFailed records a non-recoverable failure on the combination.
func (l *Lifecycle) markFailed(ctx context.Context, id uuid.UUID, message string) {
	c, err := l.combos.GetCombination(ctx, id)
	if err != nil {
		l.logger.Error("load combination for failure mark",
			zap.String("combination_id", id.String()), zap.Error(err))
		return
	}
	c.Status = harvest.StatusFailed
	c.ErrorMessage = message
	c.UpdatedAt = l.clock.Now()
	if err := l.combos.UpdateCombination(ctx, c); err != nil {
		l.logger.Error("mark combination failed",
			zap.String("combination_id", id.String()), zap.Error(err))
		return
	}
	l.logger.Warn("combination failed",
		zap.String("combination_id", id.String()),
		zap.String("error", message))
}

func isNotFound(err error) bool {
	return errors.Is(err, harvest.ErrNotFound)
}
