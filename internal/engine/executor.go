package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linkforge/harvester/internal/harvest"
	"github.com/linkforge/harvester/internal/metrics"
)

// pageEventTopic names the Pub/Sub topic for page-completion events.
const pageEventTopic = "harvester.pages"

// pageEvent is the payload published after each successfully persisted page.
type pageEvent struct {
	CombinationID string `json:"combination_id"`
	PageNumber    int    `json:"page_number"`
	Inserted      int    `json:"inserted"`
	TotalFetched  int    `json:"total_fetched"`
	HasMore       bool   `json:"has_more"`
}

// Executor performs a single page execution: fetch one provider page for a
// combination, dedupe and persist the links, and advance the cursor. All
// provider failure classification and the retry loop for transport errors
// live here.
type Executor struct {
	combos    harvest.CombinationStore
	links     harvest.LinkStore
	creds     harvest.CredentialResolver
	search    harvest.SearchClient
	lifecycle *Lifecycle
	lock      harvest.Locker
	clock     harvest.Clock
	ids       harvest.IDGenerator
	publisher harvest.Publisher
	retry     harvest.RetryPolicy
	pageSize  int
	logger    *zap.Logger

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration)
}

// NewExecutor wires a page executor. pageSize must match the search client's
// effective page size so page numbers line up with provider start indexes.
func NewExecutor(
	combos harvest.CombinationStore,
	links harvest.LinkStore,
	creds harvest.CredentialResolver,
	search harvest.SearchClient,
	lifecycle *Lifecycle,
	lock harvest.Locker,
	clock harvest.Clock,
	ids harvest.IDGenerator,
	publisher harvest.Publisher,
	retry harvest.RetryPolicy,
	pageSize int,
	logger *zap.Logger,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Executor{
		combos:    combos,
		links:     links,
		creds:     creds,
		search:    search,
		lifecycle: lifecycle,
		lock:      lock,
		clock:     clock,
		ids:       ids,
		publisher: publisher,
		retry:     retry,
		pageSize:  pageSize,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// ExecutePage runs exactly one page for the combination under the execution
// lock. A held lock yields an ALREADY_IN_PROGRESS failure without touching
// the stored record.
func (e *Executor) ExecutePage(ctx context.Context, id uuid.UUID) harvest.PageResult {
	if !e.lock.Acquire(id) {
		return harvest.PageResult{
			Success:   false,
			Error:     harvest.ErrAlreadyInProgress.Error(),
			ErrorCode: harvest.CodeAlreadyInProgress,
		}
	}
	defer e.lock.Release(id)

	res := e.executeLocked(ctx, id)
	metrics.ObservePage(res.Success)
	return res
}

func (e *Executor) executeLocked(ctx context.Context, id uuid.UUID) (res harvest.PageResult) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("page execution panic: %v", r)
			e.logger.Error("page execution panicked",
				zap.String("combination_id", id.String()),
				zap.Any("panic", r))
			e.lifecycle.markFailed(ctx, id, msg)
			res = harvest.PageResult{Success: false, Error: msg, ErrorCode: harvest.CodeUnknown}
		}
	}()

	c, err := e.combos.GetCombination(ctx, id)
	if err != nil {
		return harvest.PageResult{Success: false, Error: err.Error()}
	}
	if c.Status.Terminal() || c.Status == harvest.StatusPaused {
		return harvest.PageResult{
			Success: false,
			Error:   fmt.Sprintf("combination is %s", c.Status),
		}
	}
	if c.TotalFetched >= c.MaxAllowedResults {
		if err := e.lifecycle.markCompleted(ctx, &c); err != nil {
			return harvest.PageResult{Success: false, Error: err.Error()}
		}
		return harvest.PageResult{Success: true, HasMore: false}
	}

	cred, err := e.creds.Resolve(ctx, c.CredentialID)
	if err != nil {
		msg := fmt.Sprintf("resolve credential: %v", err)
		e.lifecycle.markFailed(ctx, id, msg)
		return harvest.PageResult{Success: false, Error: msg, ErrorCode: harvest.CodeInvalidCredential}
	}

	page, err := e.fetchWithRetry(ctx, c.DorkString, cred, c.NextStartIndex)
	if err != nil {
		return e.handleFetchError(ctx, c, err)
	}

	if len(page.Items) == 0 {
		// The provider ran out of results before the cap was reached.
		if err := e.lifecycle.markCompleted(ctx, &c); err != nil {
			return harvest.PageResult{Success: false, Error: err.Error()}
		}
		return harvest.PageResult{Success: true, HasMore: false}
	}

	items := page.Items
	if remaining := c.MaxAllowedResults - c.TotalFetched; len(items) > remaining {
		items = items[:remaining]
	}

	now := e.clock.Now()
	pageNumber := ((c.NextStartIndex - 1) / e.pageSize) + 1
	links := make([]harvest.Link, 0, len(items))
	for i, item := range items {
		linkID, err := e.ids.NewRawID()
		if err != nil {
			msg := fmt.Sprintf("generate link id: %v", err)
			e.lifecycle.markFailed(ctx, id, msg)
			return harvest.PageResult{Success: false, Error: msg, ErrorCode: harvest.CodeUnknown}
		}
		links = append(links, harvest.Link{
			ID:            linkID,
			CombinationID: c.ID,
			URL:           item.URL,
			CanonicalURL:  harvest.CanonicalizeURL(item.URL),
			Title:         item.Title,
			Snippet:       item.Snippet,
			DisplayLink:   item.DisplayLink,
			FormattedURL:  item.FormattedURL,
			Rank:          c.NextStartIndex + i,
			PageNumber:    pageNumber,
			FetchedAt:     now,
		})
	}

	inserted, err := e.links.InsertLinks(ctx, links)
	if err != nil {
		msg := fmt.Sprintf("persist links: %v", err)
		e.lifecycle.markFailed(ctx, id, msg)
		return harvest.PageResult{Success: false, Error: msg, ErrorCode: harvest.CodeUnknown}
	}

	c.LastStartIndex = c.NextStartIndex
	if page.NextStartIndex > c.NextStartIndex {
		c.NextStartIndex = page.NextStartIndex
	} else {
		c.NextStartIndex += len(page.Items)
	}
	c.TotalFetched += inserted

	// An operator pause can land while the fetch is in flight. Re-read the
	// record before writing progress so the paused status survives and the
	// orchestrator stops before the next page.
	current, err := e.combos.GetCombination(ctx, id)
	if err != nil {
		return harvest.PageResult{Success: false, Error: err.Error()}
	}
	paused := current.Status == harvest.StatusPaused

	c.Status = harvest.StatusRunning
	c.ErrorMessage = ""
	if paused {
		c.Status = harvest.StatusPaused
		c.ErrorMessage = current.ErrorMessage
	}
	c.LastRunAt = &now
	c.UpdatedAt = now
	if err := e.combos.UpdateCombination(ctx, c); err != nil {
		msg := fmt.Sprintf("persist progress: %v", err)
		e.lifecycle.markFailed(ctx, id, msg)
		return harvest.PageResult{Success: false, Error: msg, ErrorCode: harvest.CodeUnknown}
	}

	hasMore := !paused && c.TotalFetched < c.MaxAllowedResults && page.NextStartIndex > 0
	if !hasMore && !paused {
		if err := e.lifecycle.markCompleted(ctx, &c); err != nil {
			return harvest.PageResult{Success: false, Error: err.Error()}
		}
	}

	if inserted > 0 {
		e.publishPage(ctx, c, pageNumber, inserted, hasMore)
	}
	metrics.ObserveLinks(inserted, len(links)-inserted)

	e.logger.Info("page executed",
		zap.String("combination_id", c.ID.String()),
		zap.Int("page_number", pageNumber),
		zap.Int("inserted", inserted),
		zap.Int("duplicates", len(links)-inserted),
		zap.Int("total_fetched", c.TotalFetched),
		zap.Bool("has_more", hasMore))

	return harvest.PageResult{Success: true, InsertedCount: inserted, HasMore: hasMore}
}

// fetchWithRetry retries transport-class failures with exponential backoff.
// Provider-classified errors are returned immediately for failure handling.
func (e *Executor) fetchWithRetry(ctx context.Context, query string, cred harvest.Credential, start int) (harvest.SearchPage, error) {
	for attempt := 0; ; attempt++ {
		page, err := e.search.Search(ctx, query, cred, start)
		if err == nil {
			return page, nil
		}
		if _, ok := harvest.AsProviderError(err); ok {
			return harvest.SearchPage{}, err
		}
		if !harvest.IsNetworkError(err) || attempt >= e.retry.MaxRetries {
			return harvest.SearchPage{}, err
		}
		delay := e.retry.Backoff(attempt)
		e.logger.Warn("transient search failure, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err))
		e.sleep(ctx, delay)
		if ctx.Err() != nil {
			return harvest.SearchPage{}, ctx.Err()
		}
	}
}

// handleFetchError maps a failed fetch onto a state transition: rate limits
// pause the combination so the cursor survives for a later resume, every
// other classified failure is terminal.
func (e *Executor) handleFetchError(ctx context.Context, c harvest.Combination, err error) harvest.PageResult {
	pe, ok := harvest.AsProviderError(err)
	if !ok {
		code := harvest.CodeUnknown
		if harvest.IsNetworkError(err) {
			code = harvest.CodeNetwork
		}
		msg := fmt.Sprintf("search request failed: %v", err)
		e.lifecycle.markFailed(ctx, c.ID, msg)
		return harvest.PageResult{Success: false, Error: msg, ErrorCode: code}
	}

	metrics.ObserveProviderError(string(pe.Code))

	if pe.Code == harvest.CodeRateLimit {
		c.Status = harvest.StatusPaused
		c.ErrorMessage = pe.Message
		c.UpdatedAt = e.clock.Now()
		if updateErr := e.combos.UpdateCombination(ctx, c); updateErr != nil {
			e.logger.Error("pause after rate limit",
				zap.String("combination_id", c.ID.String()),
				zap.Error(updateErr))
		}
		e.logger.Warn("provider rate limited, combination paused",
			zap.String("combination_id", c.ID.String()))
		return harvest.PageResult{Success: false, Error: pe.Message, ErrorCode: pe.Code}
	}

	e.lifecycle.markFailed(ctx, c.ID, pe.Message)
	return harvest.PageResult{Success: false, Error: pe.Message, ErrorCode: pe.Code}
}

// publishPage emits a page-completion event. Publishing is best effort and
// never affects the page result.
func (e *Executor) publishPage(ctx context.Context, c harvest.Combination, pageNumber, inserted int, hasMore bool) {
	if e.publisher == nil {
		return
	}
	_, err := e.publisher.Publish(ctx, pageEventTopic, pageEvent{
		CombinationID: c.ID.String(),
		PageNumber:    pageNumber,
		Inserted:      inserted,
		TotalFetched:  c.TotalFetched,
		HasMore:       hasMore,
	})
	if err != nil {
		e.logger.Warn("publish page event",
			zap.String("combination_id", c.ID.String()),
			zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
