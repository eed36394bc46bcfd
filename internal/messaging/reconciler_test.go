package messaging

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/courier/internal/config"
	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/models"
)

func TestReconcileMarksInboundOnce(t *testing.T) {
	mem := docstore.NewMemoryStore()
	store := newCountingStore(mem)
	ctx := context.Background()
	msgs := []models.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "BM1", RecipientID: "U1", Content: "a"},
		{ID: "m2", ConversationID: "c1", SenderID: "BM1", RecipientID: "U1", Content: "b"},
		{ID: "m3", ConversationID: "c1", SenderID: "U1", RecipientID: "BM1", Content: "c"},
		{ID: "m4", ConversationID: "c1", SenderID: "BM1", RecipientID: "U1", Content: "d", Read: true},
	}
	for _, m := range msgs {
		require.NoError(t, mem.Set(ctx, models.CollectionMessages, m.ID, m.Fields()))
	}

	rec := newReconciler(store, "U1", config.DefaultConfig().Messaging, nil, zerolog.Nop())
	require.Equal(t, 2, rec.reconcile(ctx, msgs))
	require.Equal(t, 0, rec.reconcile(ctx, msgs))
	require.Equal(t, 2, store.updateCount(models.CollectionMessages))

	for id, read := range map[string]bool{"m1": true, "m2": true, "m3": false} {
		doc, err := mem.Get(ctx, models.CollectionMessages, id)
		require.NoError(t, err)
		require.Equal(t, read, doc.Data[models.FieldRead], id)
	}
}

func TestReconcileWritesOnlyReadFlag(t *testing.T) {
	mem := docstore.NewMemoryStore()
	ctx := context.Background()
	msg := models.Message{ID: "m1", ConversationID: "c1", SenderID: "B", RecipientID: "A", Content: "hi"}
	require.NoError(t, mem.Set(ctx, models.CollectionMessages, "m1", msg.Fields()))

	// Local copy is stale; the write must not restore it.
	stale := msg
	stale.Content = "stale"
	rec := newReconciler(mem, "A", config.DefaultConfig().Messaging, nil, zerolog.Nop())
	require.Equal(t, 1, rec.reconcile(ctx, []models.Message{stale}))

	doc, err := mem.Get(ctx, models.CollectionMessages, "m1")
	require.NoError(t, err)
	require.Equal(t, "hi", doc.Data[models.FieldContent])
	require.Equal(t, true, doc.Data[models.FieldRead])
}

func TestReconcileRetriesFailedWrites(t *testing.T) {
	var failures atomic.Int32
	failures.Store(1)
	mem := docstore.NewMemoryStore(docstore.WithFaults(func(op docstore.Operation, _, id string) error {
		if op == docstore.OperationUpdate && id == "m1" && failures.Add(-1) >= 0 {
			return errors.New("transient")
		}
		return nil
	}))
	ctx := context.Background()
	msg := models.Message{ID: "m1", ConversationID: "c1", SenderID: "B", RecipientID: "A", Content: "hi"}
	require.NoError(t, mem.Set(ctx, models.CollectionMessages, "m1", msg.Fields()))

	rec := newReconciler(mem, "A", config.DefaultConfig().Messaging, nil, zerolog.Nop())
	require.Equal(t, 1, rec.reconcile(ctx, []models.Message{msg}))
	doc, err := mem.Get(ctx, models.CollectionMessages, "m1")
	require.NoError(t, err)
	require.Equal(t, false, doc.Data[models.FieldRead])

	require.Equal(t, 1, rec.reconcile(ctx, []models.Message{msg}))
	doc, err = mem.Get(ctx, models.CollectionMessages, "m1")
	require.NoError(t, err)
	require.Equal(t, true, doc.Data[models.FieldRead])
}

func TestReconcileFailureDoesNotBlockOthers(t *testing.T) {
	mem := docstore.NewMemoryStore(docstore.WithFaults(func(op docstore.Operation, _, id string) error {
		if op == docstore.OperationUpdate && id == "bad" {
			return errors.New("denied")
		}
		return nil
	}))
	ctx := context.Background()
	var msgs []models.Message
	for _, id := range []string{"bad", "ok1", "ok2"} {
		m := models.Message{ID: id, ConversationID: "c1", SenderID: "B", RecipientID: "A", Content: id}
		require.NoError(t, mem.Set(ctx, models.CollectionMessages, id, m.Fields()))
		msgs = append(msgs, m)
	}

	rec := newReconciler(mem, "A", config.DefaultConfig().Messaging, nil, zerolog.Nop())
	require.Equal(t, 3, rec.reconcile(ctx, msgs))
	for _, id := range []string{"ok1", "ok2"} {
		doc, err := mem.Get(ctx, models.CollectionMessages, id)
		require.NoError(t, err)
		require.Equal(t, true, doc.Data[models.FieldRead], id)
	}
}

func TestOpeningConversationMarksExactlyInboundUnread(t *testing.T) {
	h := newHarness(t)
	t0 := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	h.seedConversation("c1", "U1", "BM1", t0)
	h.seedMessage("m1", "c1", "BM1", "U1", t0.Add(time.Minute), false)
	h.seedMessage("m2", "c1", "BM1", "U1", t0.Add(2*time.Minute), false)
	h.seedMessage("m3", "c1", "U1", "BM1", t0.Add(3*time.Minute), false)

	h.init("U1")
	h.waitState(func(s State) bool { return len(s.Conversations) == 1 && s.UnreadTotal == 2 })
	require.NoError(t, h.svc.SelectConversation(context.Background(), "c1"))

	require.Eventually(t, func() bool {
		return h.message("m1").Read && h.message("m2").Read
	}, waitFor, tick)
	h.waitState(func(s State) bool {
		return s.UnreadTotal == 0 && len(s.Messages) == 3 && s.Messages[0].Read && s.Messages[1].Read
	})
	require.Equal(t, 2, h.store.updateCount(models.CollectionMessages))
	require.False(t, h.message("m3").Read, "outbound messages are never marked")

	// Further snapshots issue nothing new.
	h.seedMessage("m4", "c1", "U1", "BM1", t0.Add(4*time.Minute), false)
	h.waitState(func(s State) bool { return len(s.Messages) == 4 })
	require.Equal(t, 2, h.store.updateCount(models.CollectionMessages))
	require.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ReadMarks.WithLabelValues("ok")))
}

func TestReadMarkRetriedOnNextSnapshot(t *testing.T) {
	var failures atomic.Int32
	failures.Store(1)
	h := newHarness(t, withStoreOptions(docstore.WithFaults(func(op docstore.Operation, _, id string) error {
		if op == docstore.OperationUpdate && id == "m1" && failures.Add(-1) >= 0 {
			return errors.New("transient")
		}
		return nil
	})))
	t0 := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	h.seedConversation("c1", "A", "B", t0)
	h.seedMessage("m1", "c1", "B", "A", t0, false)

	h.init("A")
	h.waitState(func(s State) bool { return len(s.Conversations) == 1 })
	require.NoError(t, h.svc.SelectConversation(context.Background(), "c1"))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.ReadMarks.WithLabelValues("error")) == 1
	}, waitFor, tick)
	require.False(t, h.message("m1").Read)

	h.seedMessage("m2", "c1", "A", "B", t0.Add(time.Minute), false)
	require.Eventually(t, func() bool { return h.message("m1").Read }, waitFor, tick)
}
