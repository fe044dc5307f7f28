package repository

import (
	"context"
	"encoding/json"
	"sync"

	"farmstall/pkg/logger"
	"farmstall/pkg/uid"
)

// MemoryStore is an in-process DocumentStore.
// Use this for development/testing or single-instance deployments without durability needs.
type MemoryStore struct {
	mu     sync.RWMutex
	nodes  map[string]map[string]json.RawMessage
	hub    *hub
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(log *logger.Logger) *MemoryStore {
	if log == nil {
		log = logger.Nop()
	}
	return &MemoryStore{
		nodes: make(map[string]map[string]json.RawMessage),
		hub:   newHub(log.WithComponent("memory_store")),
	}
}

// Subscribe registers fn on node and delivers the current value immediately.
func (s *MemoryStore) Subscribe(ctx context.Context, node string, fn Listener) (CancelFunc, error) {
	p, err := parsePath(node)
	if err != nil || p.depth() != 1 {
		return nil, ErrInvalidPath
	}
	if s.isClosed() {
		return nil, ErrClosed
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
func (s *MemoryStore) Set(ctx context.Context, path string, value any) error {
	ops, err := planWrite(path, value)
	if err != nil {
		return err
	}
	return s.apply(ctx, ops)
}

// Update applies all patches under one lock.
func (s *MemoryStore) Update(ctx context.Context, updates map[string]any) error {
	ops, err := planUpdate(updates)
	if err != nil {
		return err
	}
	return s.apply(ctx, ops)
}

// Push stores value under a new ordered key.
func (s *MemoryStore) Push(ctx context.Context, node string, value any) (string, error) {
	key := uid.NewOrdered()
	if err := s.Set(ctx, node+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Remove deletes the value at path.
func (s *MemoryStore) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Stats returns child counts per node.
func (s *MemoryStore) Stats(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(s.nodes))
	for node, children := range s.nodes {
		counts[node] = len(children)
	}
	return map[string]interface{}{
		"backend": "memory",
		"nodes":   counts,
	}, nil
}

// Close marks the store closed. Existing data is dropped.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.nodes = make(map[string]map[string]json.RawMessage)
	return nil
}

func (s *MemoryStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *MemoryStore) apply(ctx context.Context, ops []op) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	tx := &memoryTx{nodes: s.nodes}
	touched, err := applyOps(tx, ops)
	if err == nil {
		tx.commit()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.hub.publish(ctx, touched, s.load, false)
	return nil
}

func (s *MemoryStore) load(_ context.Context, node string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSnapshot(s.nodes[node]), nil
}

// memoryTx reads the live node map and queues writes until commit; the caller holds the lock.
type memoryTx struct {
	nodes  map[string]map[string]json.RawMessage
	queued []func()
}

func (t *memoryTx) loadChild(node, key string) (json.RawMessage, bool, error) {
	body, ok := t.nodes[node][key]
	return body, ok, nil
}

func (t *memoryTx) putChild(node, key string, body json.RawMessage) error {
	body = append(json.RawMessage(nil), body...)
	t.queued = append(t.queued, func() {
		if t.nodes[node] == nil {
			t.nodes[node] = make(map[string]json.RawMessage)
		}
		t.nodes[node][key] = body
	})
	return nil
}

func (t *memoryTx) deleteChild(node, key string) error {
	t.queued = append(t.queued, func() {
		delete(t.nodes[node], key)
		if len(t.nodes[node]) == 0 {
			delete(t.nodes, node)
		}
	})
	return nil
}

func (t *memoryTx) clearNode(node string) error {
	t.queued = append(t.queued, func() { delete(t.nodes, node) })
	return nil
}

func (t *memoryTx) commit() {
	for _, fn := range t.queued {
		fn()
	}
}

var _ DocumentStore = (*MemoryStore)(nil)
