package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tOgg1/courier/internal/config"
	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/metrics"
	"github.com/tOgg1/courier/internal/models"
)

// reconciler marks inbound messages read as they are displayed. One is
// created per active conversation. A message id is written at most once
// unless its write fails, in which case the next snapshot tries again.
type reconciler struct {
	store   docstore.Store
	me      string
	limit   int
	timeout time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu     sync.Mutex
	issued map[string]bool
}

func newReconciler(store docstore.Store, me string, cfg config.MessagingConfig, m *metrics.Metrics, logger zerolog.Logger) *reconciler {
	limit := cfg.ReadMarkConcurrency
	if limit < 1 {
		limit = 1
	}
	return &reconciler{
		store:   store,
		me:      me,
		limit:   limit,
		timeout: cfg.WriteTimeout,
		metrics: m,
		logger:  logger,
		issued:  make(map[string]bool),
	}
}

// reconcile issues read-marks for the inbound unread messages in msgs that
// have not been issued yet and waits for them. It returns the number of
// writes issued.
func (r *reconciler) reconcile(ctx context.Context, msgs []models.Message) int {
	var todo []string
	r.mu.Lock()
	for _, msg := range msgs {
		if msg.ID == "" || !msg.InboundUnread(r.me) || r.issued[msg.ID] {
			continue
		}
		r.issued[msg.ID] = true
		todo = append(todo, msg.ID)
	}
	r.mu.Unlock()
	if len(todo) == 0 {
		return 0
	}

	var g errgroup.Group
	g.SetLimit(r.limit)
	for _, id := range todo {
		id := id
		g.Go(func() error {
			wctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			err := r.store.Update(wctx, models.CollectionMessages, id, map[string]any{models.FieldRead: true})
			r.metrics.ReadMark(err)
			if err != nil {
				r.logger.Warn().Err(err).Str("message_id", id).Msg("failed to mark message read")
				r.mu.Lock()
				delete(r.issued, id)
				r.mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(todo)
}
