package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder collects snapshots delivered to a subscription.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
	errs  []error
}

func (r *recorder) onSnapshot(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) last() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Snapshot{}, false
	}
	return r.snaps[len(r.snaps)-1], true
}

func (r *recorder) lastIDs() []string {
	snap, ok := r.last()
	if !ok {
		return nil
	}
	return ids(snap.Docs)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) seqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = s.Seq
	}
	return out
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// testStoreContract exercises behavior every Store must share.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("create get update", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		id, err := store.Create(ctx, "messages", map[string]any{"content": "hi", "read": false})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		got, err := store.Get(ctx, "messages", id)
		require.NoError(t, err)
		require.Equal(t, "hi", got.Data["content"])
		require.Equal(t, false, got.Data["read"])

		require.NoError(t, store.Update(ctx, "messages", id, map[string]any{"read": true}))
		got, err = store.Get(ctx, "messages", id)
		require.NoError(t, err)
		require.Equal(t, true, got.Data["read"])
		require.Equal(t, "hi", got.Data["content"])
	})

	t.Run("missing documents", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.Get(ctx, "messages", "nope")
		require.True(t, errors.Is(err, ErrNotFound), "got %v", err)

		err = store.Update(ctx, "messages", "nope", map[string]any{"read": true})
		require.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})

	t.Run("set replaces", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Set(ctx, "users", "u1", map[string]any{"name": "Ann", "role": "admin"}))
		require.NoError(t, store.Set(ctx, "users", "u1", map[string]any{"name": "Ann B"}))

		got, err := store.Get(ctx, "users", "u1")
		require.NoError(t, err)
		require.Equal(t, map[string]any{"name": "Ann B"}, got.Data)
	})

	t.Run("list filters and orders", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Set(ctx, "messages", "m2", map[string]any{"conversationId": "c1", "timestamp": "2024-01-01T00:00:02Z"}))
		require.NoError(t, store.Set(ctx, "messages", "m1", map[string]any{"conversationId": "c1", "timestamp": "2024-01-01T00:00:01Z"}))
		require.NoError(t, store.Set(ctx, "messages", "m3", map[string]any{"conversationId": "c2", "timestamp": "2024-01-01T00:00:00Z"}))

		got, err := store.List(ctx, From("messages").Where("conversationId", OpEqual, "c1").OrderBy("timestamp", Asc))
		require.NoError(t, err)
		require.Equal(t, []string{"m1", "m2"}, ids(got))
	})

	t.Run("subscription sees writes", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		rec := &recorder{}

		h, err := store.Subscribe(ctx, From("conversations").Where("participants", OpArrayContains, "u1"), rec.onSnapshot, rec.onError)
		require.NoError(t, err)
		defer h.Unsubscribe()

		require.Eventually(t, func() bool {
			_, ok := rec.last()
			return ok
		}, waitFor, tick)
		require.Empty(t, rec.lastIDs())

		require.NoError(t, store.Set(ctx, "conversations", "c1", map[string]any{"participants": []string{"u1", "u2"}}))
		require.NoError(t, store.Set(ctx, "conversations", "c2", map[string]any{"participants": []string{"u2", "u3"}}))

		require.Eventually(t, func() bool {
			got := rec.lastIDs()
			return len(got) == 1 && got[0] == "c1"
		}, waitFor, tick)

		seqs := rec.seqs()
		for i := 1; i < len(seqs); i++ {
			require.GreaterOrEqual(t, seqs[i], seqs[i-1])
		}
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		rec := &recorder{}

		h, err := store.Subscribe(ctx, From("messages"), rec.onSnapshot, rec.onError)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			_, ok := rec.last()
			return ok
		}, waitFor, tick)

		h.Unsubscribe()
		h.Unsubscribe()

		_, err = store.Create(ctx, "messages", map[string]any{"content": "late"})
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
		require.Empty(t, rec.lastIDs())
	})
}
