package memory_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salerhq/optrack/internal/log"
	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/registry"
	"github.com/salerhq/optrack/internal/registry/memory"
)

func ptr[T any](v T) *T { return &v }

func TestStoreCRUD(t *testing.T) {
	tests := map[string]struct {
		actions func(t *testing.T, store *memory.Store) error
		expErr  bool
	}{
		"Setting a new operation should create it with defaults": {
			actions: func(t *testing.T, store *memory.Store) error {
				err := store.Set("leads.fetch", registry.Patch{
					Status: ptr(model.OperationStatusRunning),
				})
				require.NoError(t, err)

				op, ok := store.Get("leads.fetch")
				require.True(t, ok)
				assert.Equal(t, "leads.fetch", op.Key)
				assert.Equal(t, model.OperationStatusRunning, op.Status)
				assert.Equal(t, model.OperationPriorityMedium, op.Priority)
				assert.False(t, op.UpdatedAt.IsZero())

				return nil
			},
		},

		"Setting with an empty key should fail": {
			actions: func(t *testing.T, store *memory.Store) error {
				return store.Set("", registry.Patch{})
			},
			expErr: true,
		},

		"Merging a patch should only touch the set fields": {
			actions: func(t *testing.T, store *memory.Store) error {
				err := store.Set("leads.fetch", registry.Patch{
					Status:   ptr(model.OperationStatusRunning),
					Message:  ptr("Fetching leads"),
					Progress: ptr(10),
				})
				require.NoError(t, err)

				err = store.Set("leads.fetch", registry.Patch{Progress: ptr(40)})
				require.NoError(t, err)

				op, ok := store.Get("leads.fetch")
				require.True(t, ok)
				assert.Equal(t, 40, op.Progress)
				assert.Equal(t, "Fetching leads", op.Message)
				assert.Equal(t, model.OperationStatusRunning, op.Status)

				return nil
			},
		},

		"An invalid merge should fail and leave the record untouched": {
			actions: func(t *testing.T, store *memory.Store) error {
				err := store.Set("leads.fetch", registry.Patch{
					Status:   ptr(model.OperationStatusRunning),
					Progress: ptr(10),
				})
				require.NoError(t, err)

				err = store.Set("leads.fetch", registry.Patch{Progress: ptr(150)})
				require.Error(t, err)
				assert.ErrorIs(t, err, model.ErrNotValid)

				op, ok := store.Get("leads.fetch")
				require.True(t, ok)
				assert.Equal(t, 10, op.Progress)

				return nil
			},
		},

		"Getting a missing key should report it as not tracked": {
			actions: func(t *testing.T, store *memory.Store) error {
				op, ok := store.Get("missing")
				assert.False(t, ok)
				assert.Nil(t, op)

				return nil
			},
		},

		"IsActive should only report running operations": {
			actions: func(t *testing.T, store *memory.Store) error {
				err := store.Set("leads.fetch", registry.Patch{Status: ptr(model.OperationStatusRunning)})
				require.NoError(t, err)
				assert.True(t, store.IsActive("leads.fetch"))

				err = store.Set("leads.fetch", registry.Patch{Status: ptr(model.OperationStatusSucceeded)})
				require.NoError(t, err)
				assert.False(t, store.IsActive("leads.fetch"))

				assert.False(t, store.IsActive("missing"))

				return nil
			},
		},

		"Removing an operation should delete it, removing again is a no-op": {
			actions: func(t *testing.T, store *memory.Store) error {
				err := store.Set("leads.fetch", registry.Patch{Status: ptr(model.OperationStatusRunning)})
				require.NoError(t, err)

				store.Remove("leads.fetch")
				_, ok := store.Get("leads.fetch")
				assert.False(t, ok)

				store.Remove("leads.fetch")
				assert.Equal(t, 0, store.Len())

				return nil
			},
		},

		"Snapshot should return every tracked operation": {
			actions: func(t *testing.T, store *memory.Store) error {
				for i := 0; i < 3; i++ {
					err := store.Set(fmt.Sprintf("op-%d", i), registry.Patch{
						Status: ptr(model.OperationStatusRunning),
					})
					require.NoError(t, err)
				}

				assert.Equal(t, 3, store.Len())
				assert.Len(t, store.Snapshot(), 3)

				return nil
			},
		},

		"Mutating a returned record should not affect the store": {
			actions: func(t *testing.T, store *memory.Store) error {
				err := store.Set("leads.fetch", registry.Patch{
					Status:   ptr(model.OperationStatusRunning),
					Progress: ptr(10),
				})
				require.NoError(t, err)

				op, ok := store.Get("leads.fetch")
				require.True(t, ok)
				op.Progress = 99

				stored, ok := store.Get("leads.fetch")
				require.True(t, ok)
				assert.Equal(t, 10, stored.Progress)

				return nil
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			store, err := memory.NewStore(memory.StoreConfig{
				Logger: log.Noop,
			})
			require.NoError(t, err)

			err = test.actions(t, store)

			if test.expErr {
				assert.Error(err)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func TestStoreSubscribe(t *testing.T) {
	t.Run("Subscribers should receive events in mutation order", func(t *testing.T) {
		assert := assert.New(t)

		store, err := memory.NewStore(memory.StoreConfig{Logger: log.Noop})
		require.NoError(t, err)

		got := []string{}
		unsubscribe := store.Subscribe(func(ev registry.Event) {
			got = append(got, fmt.Sprintf("%s %s %s", ev.Kind, ev.Key, ev.Operation.Status))
		})
		defer unsubscribe()

		require.NoError(t, store.Set("a", registry.Patch{Status: ptr(model.OperationStatusRunning)}))
		require.NoError(t, store.Set("b", registry.Patch{Status: ptr(model.OperationStatusRunning)}))
		require.NoError(t, store.Set("a", registry.Patch{Status: ptr(model.OperationStatusSucceeded)}))
		store.Remove("a")

		exp := []string{
			"set a running",
			"set b running",
			"set a succeeded",
			"remove a succeeded",
		}
		assert.Equal(exp, got)
	})

	t.Run("Unsubscribed callbacks should not fire anymore", func(t *testing.T) {
		assert := assert.New(t)

		store, err := memory.NewStore(memory.StoreConfig{Logger: log.Noop})
		require.NoError(t, err)

		calls := 0
		unsubscribe := store.Subscribe(func(ev registry.Event) { calls++ })

		require.NoError(t, store.Set("a", registry.Patch{Status: ptr(model.OperationStatusRunning)}))
		unsubscribe()
		require.NoError(t, store.Set("a", registry.Patch{Status: ptr(model.OperationStatusSucceeded)}))

		assert.Equal(1, calls)
	})

	t.Run("A subscriber mutating the store should not deadlock and keeps delivery order", func(t *testing.T) {
		assert := assert.New(t)

		store, err := memory.NewStore(memory.StoreConfig{Logger: log.Noop})
		require.NoError(t, err)

		got := []string{}
		unsubscribe := store.Subscribe(func(ev registry.Event) {
			got = append(got, fmt.Sprintf("%s %s", ev.Key, ev.Operation.Status))

			// React to the first failure by marking a follow-up record.
			if ev.Operation.Status == model.OperationStatusFailed && ev.Key == "a" {
				require.NoError(t, store.Set("a.recovery", registry.Patch{
					Status: ptr(model.OperationStatusRunning),
				}))
			}
		})
		defer unsubscribe()

		require.NoError(t, store.Set("a", registry.Patch{Status: ptr(model.OperationStatusRunning)}))
		require.NoError(t, store.Set("a", registry.Patch{Status: ptr(model.OperationStatusFailed)}))

		exp := []string{
			"a running",
			"a failed",
			"a.recovery running",
		}
		assert.Equal(exp, got)
	})
}
