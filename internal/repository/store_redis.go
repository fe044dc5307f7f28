package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"farmstall/pkg/logger"
	"farmstall/pkg/uid"

	"github.com/redis/go-redis/v9"
)

// maxTxAttempts bounds WATCH retries when another writer touches the same node.
const maxTxAttempts = 3

// RedisStoreConfig holds configuration for the Redis store.
type RedisStoreConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Logger    *logger.Logger
}

// RedisStore keeps each node in a hash and announces changes on a pub/sub channel,
// so every process subscribed to the same Redis sees every write.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	log       *logger.Logger

	mu     sync.Mutex
	subs   map[int]CancelFunc
	nextID int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 5,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return newRedisStore(client, cfg.KeyPrefix, cfg.Logger), nil
}

func newRedisStore(client *redis.Client, keyPrefix string, log *logger.Logger) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "farmstall"
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		log:       log.WithComponent("redis_store"),
		subs:      make(map[int]CancelFunc),
	}
	s.log.Infow("store initialized", "prefix", keyPrefix)
	return s
}

func (s *RedisStore) nodeKey(node string) string {
	return s.keyPrefix + ":node:" + node
}

func (s *RedisStore) changesChannel() string {
	return s.keyPrefix + ":changes"
}

// Subscribe delivers the current value of node and then every announced change.
func (s *RedisStore) Subscribe(ctx context.Context, node string, fn Listener) (CancelFunc, error) {
	p, err := parsePath(node)
	if err != nil || p.depth() != 1 {
		return nil, ErrInvalidPath
	}

	pubsub := s.client.Subscribe(ctx, s.changesChannel())
	// Wait for the subscription to be confirmed so no change slips between load and listen.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	snap, err := s.load(ctx, p.Node)
	if err != nil {
		pubsub.Close()
		return nil, err
	}
	fn(snap)

	feedCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload != p.Node {
					continue
				}
				snap, err := s.load(feedCtx, p.Node)
				if err != nil {
					s.log.Warnw("failed to reload node", "node", p.Node, "error", err)
					continue
				}
				fn(snap)
			case <-feedCtx.Done():
				return
			}
		}
	}()

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			pubsub.Close()
			<-done
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
	s.subs[id] = cancel
	s.mu.Unlock()

	return cancel, nil
}

// Set replaces the value at path.
func (s *RedisStore) Set(ctx context.Context, path string, value any) error {
	ops, err := planWrite(path, value)
	if err != nil {
		return err
	}
	return s.apply(ctx, ops)
}

// Update applies all patches in one MULTI/EXEC.
func (s *RedisStore) Update(ctx context.Context, updates map[string]any) error {
	ops, err := planUpdate(updates)
	if err != nil {
		return err
	}
	return s.apply(ctx, ops)
}

// Push stores value under a new ordered key.
func (s *RedisStore) Push(ctx context.Context, node string, value any) (string, error) {
	key := uid.NewOrdered()
	if err := s.Set(ctx, node+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Remove deletes the value at path.
func (s *RedisStore) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Stats returns the child count of every node under the prefix.
func (s *RedisStore) Stats(ctx context.Context) (map[string]interface{}, error) {
	prefix := s.nodeKey("")
	counts := make(map[string]int64)

	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		n, err := s.client.HLen(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		counts[strings.TrimPrefix(key, prefix)] = n
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	subscriptions := len(s.subs)
	s.mu.Unlock()

	return map[string]interface{}{
		"backend":       "redis",
		"prefix":        s.keyPrefix,
		"nodes":         counts,
		"subscriptions": subscriptions,
	}, nil
}

// Close stops all subscriptions and closes the client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	cancels := make([]CancelFunc, 0, len(s.subs))
	for _, cancel := range s.subs {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return s.client.Close()
}

func (s *RedisStore) apply(ctx context.Context, ops []op) error {
	keys := make([]string, 0, len(ops))
	seen := make(map[string]bool)
	for _, o := range ops {
		if !seen[o.node] {
			seen[o.node] = true
			keys = append(keys, s.nodeKey(o.node))
		}
	}

	var touched []string
	txf := func(tx *redis.Tx) error {
		w := &redisTx{ctx: ctx, tx: tx, store: s}
		nodes, err := applyOps(w, ops)
		if err != nil {
			return err
		}
		touched = nodes
		if len(w.queued) == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, queued := range w.queued {
				queued(pipe)
			}
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.client.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		s.log.Debugw("watched node changed, retrying", "attempt", attempt+1)
	}
	if err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}

	for _, node := range touched {
		if err := s.client.Publish(ctx, s.changesChannel(), node).Err(); err != nil {
			s.log.Warnw("failed to announce change", "node", node, "error", err)
		}
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, node string) (Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, s.nodeKey(node)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load node %s: %w", node, err)
	}

	snap := make(Snapshot, len(fields))
	for key, body := range fields {
		snap[key] = json.RawMessage(body)
	}
	return snap, nil
}

// redisTx reads through the watched connection and queues writes for EXEC.
type redisTx struct {
	ctx    context.Context
	tx     *redis.Tx
	store  *RedisStore
	queued []func(redis.Pipeliner)
}

func (t *redisTx) loadChild(node, key string) (json.RawMessage, bool, error) {
	body, err := t.tx.HGet(t.ctx, t.store.nodeKey(node), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func (t *redisTx) putChild(node, key string, body json.RawMessage) error {
	nodeKey := t.store.nodeKey(node)
	value := string(body)
	t.queued = append(t.queued, func(pipe redis.Pipeliner) {
		pipe.HSet(t.ctx, nodeKey, key, value)
	})
	return nil
}

func (t *redisTx) deleteChild(node, key string) error {
	nodeKey := t.store.nodeKey(node)
	t.queued = append(t.queued, func(pipe redis.Pipeliner) {
		pipe.HDel(t.ctx, nodeKey, key)
	})
	return nil
}

func (t *redisTx) clearNode(node string) error {
	nodeKey := t.store.nodeKey(node)
	t.queued = append(t.queued, func(pipe redis.Pipeliner) {
		pipe.Del(t.ctx, nodeKey)
	})
	return nil
}

var _ DocumentStore = (*RedisStore)(nil)
