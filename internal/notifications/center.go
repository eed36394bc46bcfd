// Package notifications keeps a user's recent in-app notifications live and
// routes clicks on them.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/logging"
	"github.com/tOgg1/courier/internal/metrics"
	"github.com/tOgg1/courier/internal/models"
)

// ErrNotStarted is returned by operations that need a started center.
var ErrNotStarted = errors.New("notification center not started")

// Router opens conversations; the messaging service implements it.
type Router interface {
	OpenConversationWith(ctx context.Context, userID string) error
}

// Navigator moves the UI to a dashboard path.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// Center holds one user's recent notifications.
type Center struct {
	store     docstore.Store
	router    Router
	navigator Navigator
	limit     int
	timeout   time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    zerolog.Logger

	mu       sync.Mutex
	me       string
	gen      uint64
	handle   docstore.Handle
	items    []models.Notification
	watchers map[int]chan []models.Notification
	nextID   int
}

// Option configures a Center.
type Option func(*Center)

// WithLimit sets how many recent notifications are kept.
func WithLimit(n int) Option {
	return func(c *Center) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithWriteTimeout bounds mark-read writes.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Center) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Center) {
		c.metrics = m
	}
}

// WithClock overrides the clock used for readAt.
func WithClock(now func() time.Time) Option {
	return func(c *Center) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCenter creates a stopped center. router and navigator may be nil.
func NewCenter(store docstore.Store, router Router, navigator Navigator, opts ...Option) *Center {
	c := &Center{
		store:     store,
		router:    router,
		navigator: navigator,
		limit:     20,
		timeout:   10 * time.Second,
		now:       time.Now,
		logger:    logging.Component("notifications"),
		watchers:  make(map[int]chan []models.Notification),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Center) query(me string) docstore.Query {
	return docstore.From(models.CollectionNotifications).
		Where(models.FieldRecipientID, docstore.OpEqual, me).
		OrderBy(models.FieldCreatedAt, docstore.Desc).
		WithLimit(c.limit)
}

// Start subscribes to me's notifications, replacing any previous stream.
func (c *Center) Start(ctx context.Context, me string) error {
	if me == "" {
		return models.ErrInvalidUserID
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	old := c.handle
	c.handle = nil
	c.me = me
	c.items = nil
	c.mu.Unlock()
	if old != nil {
		old.Unsubscribe()
		c.metrics.StreamDown(metrics.StreamNotifications)
	}

	q := c.query(me)
	h, err := c.store.Subscribe(ctx, q, c.onSnapshot(gen, q, false), c.onError(gen, q))
	if errors.Is(err, docstore.ErrQueryUnsupported) {
		c.metrics.Fallback(metrics.StreamNotifications)
		h, err = c.store.Subscribe(ctx, q.Unordered(), c.onSnapshot(gen, q, true), c.onPlainError(gen))
	}
	if err != nil {
		c.metrics.StreamError(metrics.StreamNotifications)
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}

	c.mu.Lock()
	if gen != c.gen || c.handle != nil {
		c.mu.Unlock()
		h.Unsubscribe()
		return nil
	}
	c.handle = h
	c.mu.Unlock()
	c.metrics.StreamUp(metrics.StreamNotifications)
	return nil
}

// Stop tears down the stream and clears the list.
func (c *Center) Stop() {
	c.mu.Lock()
	c.gen++
	old := c.handle
	c.handle = nil
	c.me = ""
	c.items = nil
	c.publishLocked()
	c.mu.Unlock()
	if old != nil {
		old.Unsubscribe()
		c.metrics.StreamDown(metrics.StreamNotifications)
	}
}

func (c *Center) onSnapshot(gen uint64, q docstore.Query, arrange bool) docstore.SnapshotFunc {
	return func(snap docstore.Snapshot) {
		docs := snap.Docs
		if arrange {
			docs = q.Arrange(docs)
		}
		items := make([]models.Notification, 0, len(docs))
		for _, doc := range docs {
			items = append(items, models.NotificationFromDocument(doc.ID, doc.Data))
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen {
			return
		}
		c.items = items
		c.publishLocked()
	}
}

// onError re-subscribes unordered when the ordered query is rejected after
// the fact.
func (c *Center) onError(gen uint64, q docstore.Query) docstore.ErrorFunc {
	return func(err error) {
		if !errors.Is(err, docstore.ErrQueryUnsupported) {
			c.onPlainError(gen)(err)
			return
		}
		if !c.current(gen) {
			return
		}
		c.metrics.Fallback(metrics.StreamNotifications)
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		h, subErr := c.store.Subscribe(ctx, q.Unordered(), c.onSnapshot(gen, q, true), c.onPlainError(gen))
		if subErr != nil {
			c.onPlainError(gen)(subErr)
			return
		}

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			h.Unsubscribe()
			return
		}
		old := c.handle
		c.handle = h
		c.mu.Unlock()
		if old != nil {
			old.Unsubscribe()
		} else {
			c.metrics.StreamUp(metrics.StreamNotifications)
		}
	}
}

func (c *Center) onPlainError(gen uint64) docstore.ErrorFunc {
	return func(err error) {
		if !c.current(gen) {
			return
		}
		c.metrics.StreamError(metrics.StreamNotifications)
		c.logger.Warn().Err(err).Msg("notification subscription failed")
	}
}

func (c *Center) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

// Notifications returns the loaded notifications, newest first.
func (c *Center) Notifications() []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Notification{}, c.items...)
}

// UnreadCount counts unread loaded notifications.
func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, item := range c.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// Subscribe returns a channel that always holds the latest list.
func (c *Center) Subscribe() (<-chan []models.Notification, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan []models.Notification, 1)
	ch <- append([]models.Notification{}, c.items...)
	c.watchers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.watchers, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (c *Center) publishLocked() {
	for _, ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- append([]models.Notification{}, c.items...):
		default:
		}
	}
}

// MarkRead marks one notification read.
func (c *Center) MarkRead(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("notification id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	now := c.now().UTC()
	err := c.store.Update(ctx, models.CollectionNotifications, id, map[string]any{
		models.FieldRead:   true,
		models.FieldReadAt: models.FormatTime(now),
	})
	if err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	c.metrics.NotificationRead()
	return nil
}

// MarkAllRead marks every loaded unread notification read concurrently and
// returns the joined failures.
func (c *Center) MarkAllRead(ctx context.Context) error {
	c.mu.Lock()
	if c.me == "" {
		c.mu.Unlock()
		return ErrNotStarted
	}
	var ids []string
	for _, item := range c.items {
		if !item.Read {
			ids = append(ids, item.ID)
		}
	}
	c.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := c.MarkRead(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Route returns the dashboard path for a notification. New-message
// notifications have no path; they open a conversation instead.
func Route(n models.Notification) string {
	switch n.Type {
	case models.NotificationNewMessage:
		return ""
	case models.NotificationOrderCreated, models.NotificationOrderUpdated:
		if n.Data.OrderID != "" {
			return "/order/" + n.Data.OrderID
		}
		return "/orders"
	case models.NotificationCustomerSignupRequest:
		return "/customers/approvals"
	case models.NotificationInvoiceOverdue, models.NotificationPaymentReceived:
		return "/invoices"
	}
	if strings.HasPrefix(string(n.Type), "account_") {
		return "/customers"
	}
	return ""
}

// Click routes n and marks it read. It returns the path navigated to, if
// any.
func (c *Center) Click(ctx context.Context, n models.Notification) (string, error) {
	var errs []error
	path := Route(n)

	switch {
	case n.Type == models.NotificationNewMessage:
		if n.Data.SenderID != "" && c.router != nil {
			if err := c.router.OpenConversationWith(ctx, n.Data.SenderID); err != nil {
				errs = append(errs, fmt.Errorf("failed to open conversation: %w", err))
			}
		}
	case path != "" && c.navigator != nil:
		c.navigator.Navigate(path)
	}

	if !n.Read {
		if err := c.MarkRead(ctx, n.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return path, errors.Join(errs...)
}

// Find returns a loaded notification by id.
func (c *Center) Find(id string) (models.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range c.items {
		if item.ID == id {
			return item, true
		}
	}
	return models.Notification{}, false
}
