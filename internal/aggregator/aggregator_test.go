package aggregator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salerhq/optrack/internal/aggregator"
	"github.com/salerhq/optrack/internal/log"
	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/registry"
	"github.com/salerhq/optrack/internal/registry/memory"
)

func ptr[T any](v T) *T { return &v }

func setRunning(t *testing.T, store *memory.Store, key string, priority model.OperationPriority) {
	t.Helper()

	err := store.Set(key, registry.Patch{
		Status:   ptr(model.OperationStatusRunning),
		Priority: ptr(priority),
	})
	require.NoError(t, err)
}

func newTestAggregator(t *testing.T) (*aggregator.Aggregator, *memory.Store) {
	store, err := memory.NewStore(memory.StoreConfig{Logger: log.Noop})
	require.NoError(t, err)

	agg, err := aggregator.NewAggregator(aggregator.AggregatorConfig{Store: store, Logger: log.Noop})
	require.NoError(t, err)
	t.Cleanup(agg.Close)

	return agg, store
}

func TestAggregator(t *testing.T) {
	t.Run("Two high and one low priority running operations should load globally with three active", func(t *testing.T) {
		assert := assert.New(t)

		agg, store := newTestAggregator(t)

		setRunning(t, store, "op-high-1", model.OperationPriorityHigh)
		setRunning(t, store, "op-high-2", model.OperationPriorityHigh)
		setRunning(t, store, "op-low", model.OperationPriorityLow)

		assert.True(agg.GlobalLoading())
		assert.Len(agg.Active(), 3)

		// Completing the important ones stops the global loading, the low
		// priority one keeps running.
		require.NoError(t, store.Set("op-high-1", registry.Patch{Status: ptr(model.OperationStatusSucceeded)}))
		require.NoError(t, store.Set("op-high-2", registry.Patch{Status: ptr(model.OperationStatusSucceeded)}))

		assert.False(agg.GlobalLoading())
		assert.Len(agg.Active(), 1)
	})

	t.Run("Only low priority running operations should not load globally", func(t *testing.T) {
		assert := assert.New(t)

		agg, store := newTestAggregator(t)

		setRunning(t, store, "background.refresh", model.OperationPriorityLow)

		assert.False(agg.GlobalLoading())
		assert.Len(agg.Active(), 1)
	})

	t.Run("Operations started before the aggregator should count too", func(t *testing.T) {
		assert := assert.New(t)

		store, err := memory.NewStore(memory.StoreConfig{Logger: log.Noop})
		require.NoError(t, err)
		setRunning(t, store, "early", model.OperationPriorityHigh)

		agg, err := aggregator.NewAggregator(aggregator.AggregatorConfig{Store: store, Logger: log.Noop})
		require.NoError(t, err)
		defer agg.Close()

		assert.True(agg.GlobalLoading())
	})

	t.Run("The summary should expose sorted active operations and priority counts", func(t *testing.T) {
		assert := assert.New(t)

		agg, store := newTestAggregator(t)

		setRunning(t, store, "b-op", model.OperationPriorityMedium)
		setRunning(t, store, "a-op", model.OperationPriorityLow)
		setRunning(t, store, "c-op", model.OperationPriorityLow)

		s := agg.Summary()
		assert.True(s.GlobalLoading)

		keys := []string{}
		for _, op := range s.Active {
			keys = append(keys, op.Key)
		}
		assert.Equal([]string{"a-op", "b-op", "c-op"}, keys)
		assert.Equal(map[model.OperationPriority]int{
			model.OperationPriorityLow:    2,
			model.OperationPriorityMedium: 1,
		}, s.Counts)
	})

	t.Run("Removed records should drop out of the summary", func(t *testing.T) {
		assert := assert.New(t)

		agg, store := newTestAggregator(t)

		setRunning(t, store, "op-1", model.OperationPriorityHigh)
		store.Remove("op-1")

		assert.False(agg.GlobalLoading())
		assert.Empty(agg.Active())
	})

	t.Run("After close the aggregator should stop tracking changes", func(t *testing.T) {
		assert := assert.New(t)

		agg, store := newTestAggregator(t)

		setRunning(t, store, "op-1", model.OperationPriorityHigh)
		require.True(t, agg.GlobalLoading())

		agg.Close()
		require.NoError(t, store.Set("op-1", registry.Patch{Status: ptr(model.OperationStatusSucceeded)}))

		assert.True(agg.GlobalLoading())
	})
}
