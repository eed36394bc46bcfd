package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/tOgg1/courier/internal/events"
	"github.com/tOgg1/courier/internal/logging"
)

// Dialect selects SQL syntax differences.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore keeps documents as JSON rows in SQLite or PostgreSQL. Writes are
// announced on an events.Publisher and every subscription whose collection
// changed is re-queried, so several processes sharing a database and a
// Redis feed see each other's writes.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	opts    options
	logger  zerolog.Logger

	publisher     events.Publisher
	ownsPublisher bool
	listenerID    string

	subs   *registry
	seq    atomic.Uint64
	closed atomic.Bool
}

var _ Store = (*SQLStore)(nil)

// OpenSQLite opens (creating if needed) a SQLite document store at path.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", path, o.busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY between our own
	// goroutines; other processes are covered by busy_timeout and retries.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store, err := NewSQLStore(ctx, db, DialectSQLite, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenPostgres connects to PostgreSQL through the pgx driver.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*SQLStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres database: %w", err)
	}

	maxConns := o.maxConns
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewSQLStore(ctx, db, DialectPostgres, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database, creating the schema if needed. The
// store takes ownership of db.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*SQLStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s := &SQLStore{
		db:         db,
		dialect:    dialect,
		opts:       o,
		logger:     logging.Component("docstore").With().Str("dialect", string(dialect)).Logger(),
		publisher:  o.publisher,
		listenerID: "docstore-" + uuid.New().String(),
		subs:       newRegistry(),
	}
	if s.publisher == nil {
		s.publisher = events.NewInMemoryPublisher()
		s.ownsPublisher = true
	}

	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if err := s.publisher.Subscribe(s.listenerID, events.Filter{}, s.onChange); err != nil {
		return nil, fmt.Errorf("failed to subscribe to change feed: %w", err)
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS documents_updated_idx ON documents(collection, updated_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize document schema: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) timestamp() string {
	return s.opts.now().UTC().Format(time.RFC3339Nano)
}

// Get returns one document.
func (s *SQLStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if s.closed.Load() {
		return Document{}, ErrClosed
	}
	if err := s.opts.fault(OperationGet, collection, id); err != nil {
		return Document{}, err
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT data FROM documents WHERE collection = ? AND id = ?`),
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}
	data, err := decodeData(raw)
	if err != nil {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, err)
	}
	return Document{ID: id, Data: data}, nil
}

// List runs a one-shot query. Filtering and ordering happen in process over
// the collection's rows.
func (s *SQLStore) List(ctx context.Context, q Query) ([]Document, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := s.opts.fault(OperationList, q.Collection, ""); err != nil {
		return nil, err
	}
	return s.list(ctx, q)
}

func (s *SQLStore) list(ctx context.Context, q Query) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, data FROM documents WHERE collection = ?`),
		q.Collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", q.Collection, err)
		}
		data, err := decodeData(raw)
		if err != nil {
			s.logger.Warn().Err(err).Str("collection", q.Collection).Str("id", id).Msg("skipping undecodable document")
			continue
		}
		docs = append(docs, Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", q.Collection, err)
	}
	return q.Apply(docs), nil
}

// Create stores data under a generated id.
func (s *SQLStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	if collection == "" {
		return "", fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}
	if err := s.opts.fault(OperationCreate, collection, ""); err != nil {
		return "", err
	}
	raw, err := encodeData(data)
	if err != nil {
		return "", err
	}

	id := s.opts.newID()
	now := s.timestamp()
	err = withRetry(ctx, s.opts.retryAttempts, s.opts.retryBackoff, func() error {
		_, err := s.db.ExecContext(ctx,
			s.rebind(`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`),
			collection, id, raw, now, now,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to create %s document: %w", collection, err)
	}

	s.announce(ctx, collection, id, events.OpCreate)
	return id, nil
}

// Set creates or replaces a document.
func (s *SQLStore) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if collection == "" || id == "" {
		return fmt.Errorf("%w: collection and id are required", ErrInvalidQuery)
	}
	if err := s.opts.fault(OperationSet, collection, id); err != nil {
		return err
	}
	raw, err := encodeData(data)
	if err != nil {
		return err
	}

	now := s.timestamp()
	err = withRetry(ctx, s.opts.retryAttempts, s.opts.retryBackoff, func() error {
		_, err := s.db.ExecContext(ctx,
			s.rebind(`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`),
			collection, id, raw, now, now,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
	}
	s.logger.Debug().
		Str("collection", collection).
		Str("id", id).
		Interface("data", logging.RedactFields(data)).
		Msg("document set")

	s.announce(ctx, collection, id, events.OpUpdate)
	return nil
}

// Update merges patch into an existing document inside a transaction.
func (s *SQLStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.opts.fault(OperationUpdate, collection, id); err != nil {
		return err
	}
	normalized, err := normalizeData(patch)
	if err != nil {
		return err
	}

	selectQuery := `SELECT data FROM documents WHERE collection = ? AND id = ?`
	if s.dialect == DialectPostgres {
		selectQuery += ` FOR UPDATE`
	}

	err = withRetry(ctx, s.opts.retryAttempts, s.opts.retryBackoff, func() error {
		return s.transaction(ctx, func(tx *sql.Tx) error {
			var raw string
			err := tx.QueryRowContext(ctx, s.rebind(selectQuery), collection, id).Scan(&raw)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
			}
			if err != nil {
				return err
			}
			existing, err := decodeData(raw)
			if err != nil {
				return err
			}
			merged, err := encodeData(mergePatch(existing, normalized))
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				s.rebind(`UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`),
				merged, s.timestamp(), collection, id,
			)
			return err
		})
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}

	s.announce(ctx, collection, id, events.OpUpdate)
	return nil
}

func (s *SQLStore) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// announce publishes a committed write. A feed failure does not undo the
// write; local subscriptions are refreshed regardless.
func (s *SQLStore) announce(ctx context.Context, collection, id string, op events.Op) {
	change := &events.Change{Collection: collection, DocumentID: id, Op: op}
	if err := s.publisher.Publish(ctx, change); err != nil {
		s.logger.Warn().Err(err).Str("collection", collection).Str("id", id).Msg("failed to publish change")
		s.refreshCollection(collection)
	}
}

func (s *SQLStore) onChange(change *events.Change) {
	if change == nil || s.closed.Load() {
		return
	}
	s.refreshCollection(change.Collection)
}

func (s *SQLStore) refreshCollection(collection string) {
	for _, sub := range s.subs.matching(collection) {
		s.refresh(sub)
	}
}

// refresh re-queries sub and queues the result. Queries for one
// subscription are serialized and sequenced in execution order.
func (s *SQLStore) refresh(sub *subscription) {
	sub.refresh.Lock()
	defer sub.refresh.Unlock()
	if sub.isClosed() {
		return
	}

	seq := s.seq.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	docs, err := s.list(ctx, sub.query)
	if err != nil {
		s.logger.Warn().Err(err).Str("query", sub.query.String()).Msg("subscription refresh failed")
		return
	}
	sub.push(Snapshot{Docs: docs, Seq: seq})
}

// Subscribe registers q and queues its current result.
func (s *SQLStore) Subscribe(ctx context.Context, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) (Handle, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if onSnapshot == nil {
		return nil, fmt.Errorf("snapshot callback is required")
	}
	if err := s.opts.fault(OperationSubscribe, q.Collection, ""); err != nil {
		return nil, err
	}

	sub := newSubscription(q, onSnapshot, onError, s.subs.remove)
	s.subs.add(sub)

	sub.refresh.Lock()
	seq := s.seq.Add(1)
	docs, err := s.list(ctx, q)
	if err != nil {
		sub.refresh.Unlock()
		sub.close()
		return nil, err
	}
	sub.push(Snapshot{Docs: docs, Seq: seq})
	sub.refresh.Unlock()

	return sub, nil
}

// SubscriptionCount reports live subscriptions.
func (s *SQLStore) SubscriptionCount() int {
	return s.subs.count()
}

// DB returns the underlying database handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close cancels subscriptions, detaches from the change feed and closes
// the database.
func (s *SQLStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, sub := range s.subs.all() {
		sub.close()
	}
	_ = s.publisher.Unsubscribe(s.listenerID)
	if s.ownsPublisher {
		_ = s.publisher.Close()
	}
	return s.db.Close()
}

func encodeData(data map[string]any) (string, error) {
	normalized, err := normalizeData(data)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(raw), nil
}

func decodeData(raw string) (map[string]any, error) {
	data := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return data, nil
}
