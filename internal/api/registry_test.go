package api

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/courier/internal/directory"
	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/models"
)

func newTestRegistry(t *testing.T, opts ...docstore.Option) *Registry {
	t.Helper()
	store := docstore.NewMemoryStore(opts...)
	ctx := context.Background()
	for id, data := range map[string]map[string]any{
		"A": {"name": "Alice", "role": "brandManager"},
		"B": {"name": "Bob", "role": "salesAgent"},
	} {
		require.NoError(t, store.Set(ctx, models.CollectionUsers, id, data))
	}
	source := directory.NewStoreSource(store)
	registry := NewRegistry(store, directory.NewResolver(source, source), nil, nil)
	t.Cleanup(func() {
		registry.Close()
		_ = store.Close()
	})
	return registry
}

func TestAcquireSharesOneSessionPerUser(t *testing.T) {
	registry := newTestRegistry(t)
	identities := []models.Identity{
		{ID: "A", Name: "Alice", Role: models.RoleBrandManager},
		{ID: "B", Name: "Bob", Role: models.RoleSalesAgent},
	}

	const callers = 8
	sessions := make([]*Session, callers*len(identities))
	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := registry.Acquire(context.Background(), identities[i%len(identities)])
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			sessions[i] = sess
		}(i)
	}
	wg.Wait()

	require.Equal(t, 2, registry.Len())
	for i, sess := range sessions {
		want, ok := registry.Get(identities[i%len(identities)].ID)
		require.True(t, ok)
		require.Same(t, want, sess)
	}
}

func TestAcquireDoesNotHoldRegistryDuringStart(t *testing.T) {
	var blocking atomic.Bool
	blocking.Store(true)
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	registry := newTestRegistry(t, docstore.WithFaults(func(op docstore.Operation, _, _ string) error {
		if op == docstore.OperationSubscribe && blocking.Load() {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
		}
		return nil
	}))

	acquired := make(chan error, 1)
	go func() {
		_, err := registry.Acquire(context.Background(), models.Identity{ID: "A", Name: "Alice", Role: models.RoleBrandManager})
		acquired <- err
	}()

	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("session start never reached the store")
	}

	lens := make(chan int, 1)
	go func() { lens <- registry.Len() }()
	select {
	case n := <-lens:
		require.Equal(t, 0, n)
	case <-time.After(waitFor):
		t.Fatal("registry locked while a session starts")
	}

	blocking.Store(false)
	close(release)
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Acquire did not finish")
	}
	require.Equal(t, 1, registry.Len())
}
