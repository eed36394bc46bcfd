package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/courier/internal/config"
	"github.com/tOgg1/courier/internal/directory"
	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/metrics"
	"github.com/tOgg1/courier/internal/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// countingStore records calls and live subscriptions per stream.
type countingStore struct {
	docstore.Store

	// rejectOrdered makes Subscribe reject index-needing queries
	// synchronously.
	rejectOrdered bool

	mu      sync.Mutex
	subs    map[string]int
	unsubs  map[string]int
	updates map[string]int
	creates map[string]int
}

func newCountingStore(inner docstore.Store) *countingStore {
	return &countingStore{
		Store:   inner,
		subs:    make(map[string]int),
		unsubs:  make(map[string]int),
		updates: make(map[string]int),
		creates: make(map[string]int),
	}
}

// streamKey names the logical stream a query belongs to.
func streamKey(q docstore.Query) string {
	for _, f := range q.Filters {
		if f.Field == models.FieldConversationID {
			return q.Collection + ":active"
		}
	}
	return q.Collection
}

func (c *countingStore) Subscribe(ctx context.Context, q docstore.Query, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (docstore.Handle, error) {
	if c.rejectOrdered && q.NeedsIndex() {
		return nil, fmt.Errorf("%w: %s", docstore.ErrQueryUnsupported, q.IndexKey())
	}
	h, err := c.Store.Subscribe(ctx, q, onSnapshot, onError)
	if err != nil {
		return nil, err
	}
	key := streamKey(q)
	c.mu.Lock()
	c.subs[key]++
	c.mu.Unlock()
	return &countedHandle{Handle: h, store: c, key: key}, nil
}

func (c *countingStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	c.mu.Lock()
	c.updates[collection]++
	c.mu.Unlock()
	return c.Store.Update(ctx, collection, id, patch)
}

func (c *countingStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	c.mu.Lock()
	c.creates[collection]++
	c.mu.Unlock()
	return c.Store.Create(ctx, collection, data)
}

func (c *countingStore) live(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[key] - c.unsubs[key]
}

func (c *countingStore) updateCount(collection string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates[collection]
}

func (c *countingStore) createCount(collection string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates[collection]
}

type countedHandle struct {
	docstore.Handle
	store *countingStore
	key   string
	once  sync.Once
}

func (h *countedHandle) Unsubscribe() {
	h.once.Do(func() {
		h.store.mu.Lock()
		h.store.unsubs[h.key]++
		h.store.mu.Unlock()
	})
	h.Handle.Unsubscribe()
}

type harness struct {
	t       *testing.T
	mem     *docstore.MemoryStore
	store   *countingStore
	svc     *Service
	metrics *metrics.Metrics
	clock   *fakeClock
}

type fakeClock struct {
	base  time.Time
	ticks atomic.Int64
}

// Now advances one millisecond per call so timestamps are distinct.
func (c *fakeClock) Now() time.Time {
	return c.base.Add(time.Duration(c.ticks.Add(1)) * time.Millisecond)
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	storeOpts     []docstore.Option
	rejectOrdered bool
	messaging     config.MessagingConfig
}

func withStoreOptions(opts ...docstore.Option) harnessOption {
	return func(c *harnessConfig) { c.storeOpts = append(c.storeOpts, opts...) }
}

func withSyncRejection() harnessOption {
	return func(c *harnessConfig) { c.rejectOrdered = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{messaging: config.DefaultConfig().Messaging}
	cfg.messaging.WriteTimeout = time.Second
	for _, opt := range opts {
		opt(&cfg)
	}

	mem := docstore.NewMemoryStore(cfg.storeOpts...)
	store := newCountingStore(mem)
	store.rejectOrdered = cfg.rejectOrdered

	ctx := context.Background()
	users := map[string]map[string]any{
		"A":   {"name": "Alice", "role": "brandManager", "online": true},
		"B":   {"name": "Bob", "role": "salesAgent"},
		"BM1": {"name": "Beth", "role": "brandManager"},
		"U1":  {"name": "Uma", "role": "salesAgent"},
	}
	for id, data := range users {
		require.NoError(t, mem.Set(ctx, models.CollectionUsers, id, data))
	}
	require.NoError(t, mem.Set(ctx, models.CollectionCustomers, "cust-1", map[string]any{
		"firebase_uid": "C1", "salesAgentId": "U1", "name": "Carl",
	}))
	require.NoError(t, mem.Set(ctx, models.CollectionCustomers, "cust-2", map[string]any{
		"firebase_uid": "C2", "salesAgentId": "U9", "name": "Cleo",
	}))

	source := directory.NewStoreSource(mem)
	m := metrics.New(nil)
	clock := &fakeClock{base: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(store, directory.NewResolver(source, source),
		WithConfig(cfg.messaging),
		WithMetrics(m),
		WithClock(clock.Now),
	)

	t.Cleanup(func() {
		svc.Dispose()
		_ = mem.Close()
	})
	return &harness{t: t, mem: mem, store: store, svc: svc, metrics: m, clock: clock}
}

func (h *harness) identity(id string) models.Identity {
	h.t.Helper()
	doc, err := h.mem.Get(context.Background(), models.CollectionUsers, id)
	require.NoError(h.t, err)
	return models.UserFromDocument(doc.ID, doc.Data).Identity()
}

func (h *harness) init(id string) {
	h.t.Helper()
	require.NoError(h.t, h.svc.Init(context.Background(), h.identity(id)))
}

// seedConversation writes a conversation between a and b directly.
func (h *harness) seedConversation(id, a, b string, createdAt time.Time) {
	h.t.Helper()
	conv := models.Conversation{
		Participants:     []string{a, b},
		ParticipantNames: map[string]string{a: strings.ToLower(a), b: strings.ToLower(b)},
		ParticipantRoles: map[string]models.Role{},
		LastMessageTime:  createdAt,
		CreatedAt:        createdAt,
	}
	require.NoError(h.t, h.mem.Set(context.Background(), models.CollectionConversations, id, conv.Fields()))
}

// seedMessage writes a message directly.
func (h *harness) seedMessage(id, conversationID, sender, recipient string, ts time.Time, read bool) {
	h.t.Helper()
	msg := models.Message{
		ConversationID: conversationID,
		SenderID:       sender,
		RecipientID:    recipient,
		Content:        "seeded " + id,
		Timestamp:      ts,
		Read:           read,
	}
	require.NoError(h.t, h.mem.Set(context.Background(), models.CollectionMessages, id, msg.Fields()))
}

func (h *harness) message(id string) models.Message {
	h.t.Helper()
	doc, err := h.mem.Get(context.Background(), models.CollectionMessages, id)
	require.NoError(h.t, err)
	return models.MessageFromDocument(doc.ID, doc.Data)
}

func (h *harness) waitState(cond func(State) bool, msgAndArgs ...any) State {
	h.t.Helper()
	var last State
	require.Eventually(h.t, func() bool {
		last = h.svc.State()
		return cond(last)
	}, waitFor, tick, msgAndArgs...)
	return last
}

func conversationIDs(list []models.Conversation) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}

func messageIDs(list []models.Message) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}

func sumUnread(list []models.Conversation) int {
	total := 0
	for _, c := range list {
		total += c.UnreadCount
	}
	return total
}
