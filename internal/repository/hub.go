package repository

import (
	"context"
	"sync"

	"farmstall/pkg/logger"
)

// hub fans node changes out to in-process listeners.
// Deliveries are serialized so a listener never sees two snapshots at once.
type hub struct {
	mu      sync.Mutex
	deliver sync.Mutex
	nextID  int
	subs    map[string]map[int]Listener
	// last holds what each node last delivered, so polling can skip unchanged nodes.
	last map[string]Snapshot
	log  *logger.Logger
}

func newHub(log *logger.Logger) *hub {
	return &hub{
		subs: make(map[string]map[int]Listener),
		last: make(map[string]Snapshot),
		log:  log,
	}
}

func (h *hub) add(node string, fn Listener) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	if h.subs[node] == nil {
		h.subs[node] = make(map[int]Listener)
	}
	h.subs[node][h.nextID] = fn
	return h.nextID
}

func (h *hub) remove(node string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs[node], id)
	if len(h.subs[node]) == 0 {
		delete(h.subs, node)
		delete(h.last, node)
	}
}

func (h *hub) nodes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	nodes := make([]string, 0, len(h.subs))
	for node := range h.subs {
		nodes = append(nodes, node)
	}
	return nodes
}

func (h *hub) listeners(node string) []Listener {
	h.mu.Lock()
	defer h.mu.Unlock()

	fns := make([]Listener, 0, len(h.subs[node]))
	for _, fn := range h.subs[node] {
		fns = append(fns, fn)
	}
	return fns
}

// deliverOne sends the current value of node to a single fresh listener.
func (h *hub) deliverOne(ctx context.Context, node string, fn Listener, load func(context.Context, string) (Snapshot, error)) error {
	h.deliver.Lock()
	defer h.deliver.Unlock()

	snap, err := load(ctx, node)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.last[node] = snap
	h.mu.Unlock()

	fn(cloneSnapshot(snap))
	return nil
}

// publish loads each node once and hands the snapshot to its listeners.
// When onlyChanged is set, nodes equal to their last delivery are skipped.
func (h *hub) publish(ctx context.Context, nodes []string, load func(context.Context, string) (Snapshot, error), onlyChanged bool) {
	h.deliver.Lock()
	defer h.deliver.Unlock()

	for _, node := range nodes {
		fns := h.listeners(node)
		if len(fns) == 0 {
			continue
		}

		snap, err := load(ctx, node)
		if err != nil {
			h.log.Warnw("failed to load node for subscribers", "node", node, "error", err)
			continue
		}

		h.mu.Lock()
		unchanged := snapshotsEqual(h.last[node], snap)
		h.last[node] = snap
		h.mu.Unlock()
		if onlyChanged && unchanged {
			continue
		}

		for _, fn := range fns {
			fn(cloneSnapshot(snap))
		}
	}
}
