package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"farmstall/pkg/logger"
	"farmstall/pkg/uid"
)

// sqlDialect captures what differs between the SQL backends.
type sqlDialect struct {
	name string
	// schema statements run one by one at startup.
	schema []string
	// upsert writes (node, child, body, updated_at).
	upsert string
	// lockSuffix is appended to single-child reads inside write transactions.
	lockSuffix string
	// numbered placeholders ($1, $2) instead of "?".
	numbered bool
}

func (d sqlDialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLOptions tunes the SQL-backed store.
type SQLOptions struct {
	// PollInterval re-reads subscribed nodes so writes from other processes are seen.
	// Zero disables polling; local writes are always delivered immediately.
	PollInterval time.Duration
	Logger       *logger.Logger
}

// SQLStore implements DocumentStore on a single table of (node, child) rows.
// Thread-safe: writes are serialized in-process and run in a transaction.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
	hub     *hub
	log     *logger.Logger

	writeMu  sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newSQLStore(db *sql.DB, dialect sqlDialect, opts SQLOptions) (*SQLStore, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent(dialect.name + "_store")

	for _, stmt := range dialect.schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	s := &SQLStore{
		db:      db,
		dialect: dialect,
		hub:     newHub(log),
		log:     log,
		stopCh:  make(chan struct{}),
	}

	if opts.PollInterval > 0 {
		s.wg.Add(1)
		go s.poll(opts.PollInterval)
	}

	return s, nil
}

// Subscribe registers fn on node and delivers the current value immediately.
func (s *SQLStore) Subscribe(ctx context.Context, node string, fn Listener) (CancelFunc, error) {
	p, err := parsePath(node)
	if err != nil || p.depth() != 1 {
		return nil, ErrInvalidPath
	}

	id := s.hub.add(p.Node, fn)
	if err := s.hub.deliverOne(ctx, p.Node, fn, s.load); err != nil {
		s.hub.remove(p.Node, id)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.hub.remove(p.Node, id) })
	}, nil
}

// Set replaces the value at path.
func (s *SQLStore) Set(ctx context.Context, path string, value any) error {
	ops, err := planWrite(path, value)
	if err != nil {
		return err
	}
	return s.apply(ctx, ops)
}

// Update applies all patches in one transaction.
func (s *SQLStore) Update(ctx context.Context, updates map[string]any) error {
	ops, err := planUpdate(updates)
	if err != nil {
		return err
	}
	return s.apply(ctx, ops)
}

// Push stores value under a new ordered key.
func (s *SQLStore) Push(ctx context.Context, node string, value any) (string, error) {
	key := uid.NewOrdered()
	if err := s.Set(ctx, node+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Remove deletes the value at path.
func (s *SQLStore) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Stats returns row counts per node, last write time and pool stats.
func (s *SQLStore) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"backend": s.dialect.name}

	rows, err := s.db.QueryContext(ctx, "SELECT node, COUNT(*) FROM store_documents GROUP BY node")
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for rows.Next() {
		var node string
		var count int64
		if err := rows.Scan(&node, &count); err != nil {
			rows.Close()
			return nil, err
		}
		counts[node] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats["nodes"] = counts

	var lastWrite sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM store_documents").Scan(&lastWrite); err == nil && lastWrite.Valid {
		stats["last_write"] = time.UnixMilli(lastWrite.Int64).UTC()
	}

	dbStats := s.db.Stats()
	stats["connections"] = map[string]interface{}{
		"open":     dbStats.OpenConnections,
		"in_use":   dbStats.InUse,
		"idle":     dbStats.Idle,
		"max_open": dbStats.MaxOpenConnections,
	}

	return stats, nil
}

// Close stops polling and closes the database connection.
func (s *SQLStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	return s.db.Close()
}

func (s *SQLStore) apply(ctx context.Context, ops []op) error {
	s.writeMu.Lock()
	touched, err := s.applyTx(ctx, ops)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}

	s.hub.publish(ctx, touched, s.load, false)
	return nil
}

func (s *SQLStore) applyTx(ctx context.Context, ops []op) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	touched, err := applyOps(&sqlTx{ctx: ctx, tx: tx, dialect: s.dialect}, ops)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return touched, nil
}

func (s *SQLStore) load(ctx context.Context, node string) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind("SELECT child, body FROM store_documents WHERE node = ?"), node)
	if err != nil {
		return nil, fmt.Errorf("failed to load node %s: %w", node, err)
	}
	defer rows.Close()

	snap := make(Snapshot)
	for rows.Next() {
		var child, body string
		if err := rows.Scan(&child, &body); err != nil {
			return nil, fmt.Errorf("failed to scan node %s: %w", node, err)
		}
		snap[child] = json.RawMessage(body)
	}
	return snap, rows.Err()
}

// poll re-publishes subscribed nodes whose stored value changed.
func (s *SQLStore) poll(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Infow("polling subscribed nodes", "interval", interval)
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			s.hub.publish(ctx, s.hub.nodes(), s.load, true)
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// sqlTx adapts a database transaction to childStore.
type sqlTx struct {
	ctx     context.Context
	tx      *sql.Tx
	dialect sqlDialect
}

func (t *sqlTx) loadChild(node, key string) (json.RawMessage, bool, error) {
	query := t.dialect.rebind("SELECT body FROM store_documents WHERE node = ? AND child = ?" + t.dialect.lockSuffix)

	var body string
	err := t.tx.QueryRowContext(t.ctx, query, node, key).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s/%s: %w", node, key, err)
	}
	return json.RawMessage(body), true, nil
}

func (t *sqlTx) putChild(node, key string, body json.RawMessage) error {
	_, err := t.tx.ExecContext(t.ctx, t.dialect.rebind(t.dialect.upsert),
		node, key, string(body), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", node, key, err)
	}
	return nil
}

func (t *sqlTx) deleteChild(node, key string) error {
	_, err := t.tx.ExecContext(t.ctx,
		t.dialect.rebind("DELETE FROM store_documents WHERE node = ? AND child = ?"), node, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", node, key, err)
	}
	return nil
}

func (t *sqlTx) clearNode(node string) error {
	_, err := t.tx.ExecContext(t.ctx,
		t.dialect.rebind("DELETE FROM store_documents WHERE node = ?"), node)
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", node, err)
	}
	return nil
}

var _ DocumentStore = (*SQLStore)(nil)
