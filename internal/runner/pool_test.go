package runner

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkforge/harvester/internal/engine"
	"github.com/linkforge/harvester/internal/harvest"
	"github.com/linkforge/harvester/internal/lock"
	"github.com/linkforge/harvester/internal/storage/memory"
)

type stubSearch struct{}

func (stubSearch) Search(_ context.Context, _ string, _ harvest.Credential, start int) (harvest.SearchPage, error) {
	items := make([]harvest.SearchItem, 10)
	for i := range items {
		items[i] = harvest.SearchItem{URL: "https://example.com/doc-" + uuid.NewString()}
	}
	return harvest.SearchPage{Items: items, NextStartIndex: start + len(items)}, nil
}

type stubResolver struct{}

func (stubResolver) Resolve(context.Context, uuid.UUID) (harvest.Credential, error) {
	return harvest.Credential{APIKey: "key", EngineID: "cx"}, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type uuidGen struct{}

func (uuidGen) NewRawID() (uuid.UUID, error) { return uuid.New(), nil }

func seedCombination(t *testing.T, store *memory.Store, lc *engine.Lifecycle, maxResults int) harvest.Combination {
	t.Helper()
	dork := harvest.Dork{ID: uuid.New(), Text: "inurl:admin"}
	store.SeedDork(dork)
	c, created, err := lc.CreateOrGet(context.Background(), harvest.CreateParams{
		Triple: harvest.Triple{
			LocationID: uuid.New(),
			CategoryID: uuid.New(),
			DorkID:     dork.ID,
		},
		CredentialID:      uuid.New(),
		MaxAllowedResults: maxResults,
	})
	require.NoError(t, err)
	require.True(t, created)
	return c
}

func TestPoolDrainsQueuedRuns(t *testing.T) {
	t.Parallel()

	store := memory.New()
	locks := lock.New()
	lc := engine.NewLifecycle(store, store, locks, systemClock{}, uuidGen{}, zap.NewNop())
	ex := engine.NewExecutor(store, store, stubResolver{}, stubSearch{}, lc, locks,
		systemClock{}, uuidGen{}, nil, harvest.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond}, 10, zap.NewNop())
	orch := engine.NewOrchestrator(ex, store, nil, 0, zap.NewNop())

	queue := NewQueue(8)
	pool := NewPool(queue, orch, 2, zap.NewNop())

	first := seedCombination(t, store, lc, 20)
	second := seedCombination(t, store, lc, 30)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	require.NoError(t, pool.Submit(ctx, harvest.RunRequest{CombinationID: first.ID}))
	require.NoError(t, pool.Submit(ctx, harvest.RunRequest{CombinationID: second.ID}))

	require.Eventually(t, func() bool {
		a, err := store.GetCombination(context.Background(), first.ID)
		if err != nil || a.Status != harvest.StatusCompleted {
			return false
		}
		b, err := store.GetCombination(context.Background(), second.ID)
		return err == nil && b.Status == harvest.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	a, err := store.GetCombination(context.Background(), first.ID)
	require.NoError(t, err)
	require.Equal(t, 20, a.TotalFetched)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancellation")
	}
}
