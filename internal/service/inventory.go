package service

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"farmstall/internal/model"
	"farmstall/internal/repository"
	"farmstall/pkg/logger"
)

// InventoryNode is the store node holding every inventory item, keyed by id.
const InventoryNode = "inventory"

// itemRecord is the stored shape of an item; the id is the record's key.
type itemRecord struct {
	Type              string     `json:"type"`
	Weight            float64    `json:"weight"`
	CostPrice         float64    `json:"costPrice"`
	SalePrice         float64    `json:"salePrice"`
	InFarmStall       bool       `json:"inFarmStall"`
	Sold              bool       `json:"sold"`
	Date              time.Time  `json:"date"`
	SoldDate          *time.Time `json:"soldDate,omitempty"`
	FromExternalBatch bool       `json:"fromExternalBatch"`
}

func (r itemRecord) item(id string) model.InventoryItem {
	return model.InventoryItem{
		ID:                id,
		Type:              r.Type,
		Weight:            r.Weight,
		CostPrice:         r.CostPrice,
		SalePrice:         r.SalePrice,
		InFarmStall:       r.InFarmStall,
		Sold:              r.Sold,
		Date:              r.Date,
		SoldDate:          r.SoldDate,
		FromExternalBatch: r.FromExternalBatch,
	}
}

// InventoryService mirrors the inventory node and is the only code path that mutates it.
//
// Mutations do not touch the mirror; it changes only when the store feed delivers,
// so callers observe their own writes the same way they observe anyone else's.
type InventoryService struct {
	store repository.DocumentStore
	log   *logger.Logger
	now   func() time.Time

	mu    sync.RWMutex
	items []model.InventoryItem
	ready bool

	watchMu   sync.Mutex
	watchers  map[int]func([]model.InventoryItem)
	nextWatch int
}

// NewInventoryService creates the store adapter. Call Subscribe to start the mirror.
func NewInventoryService(store repository.DocumentStore, log *logger.Logger) *InventoryService {
	if log == nil {
		log = logger.Nop()
	}
	return &InventoryService{
		store:    store,
		log:      log.WithComponent("inventory"),
		now:      time.Now,
		watchers: make(map[int]func([]model.InventoryItem)),
	}
}

// SetClock replaces the time source used for creation and sale timestamps.
func (s *InventoryService) SetClock(now func() time.Time) {
	s.now = now
}

// Subscribe starts the live feed. The returned func cancels it.
func (s *InventoryService) Subscribe(ctx context.Context) (repository.CancelFunc, error) {
	cancel, err := s.store.Subscribe(ctx, InventoryNode, s.applySnapshot)
	if err != nil {
		return nil, persistence("subscribe inventory", err)
	}
	s.log.Infow("inventory feed started")
	return cancel, nil
}

// Ready reports whether at least one snapshot has been delivered.
func (s *InventoryService) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *InventoryService) applySnapshot(snap repository.Snapshot) {
	items := make([]model.InventoryItem, 0, len(snap))
	for id, body := range snap {
		var rec itemRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			s.log.Warnw("skipping malformed inventory record", "id", id, "error", err)
			continue
		}
		items = append(items, rec.item(id))
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.Before(items[j].Date)
		}
		return items[i].ID < items[j].ID
	})

	s.mu.Lock()
	s.items = items
	s.ready = true
	s.mu.Unlock()

	s.watchMu.Lock()
	fns := make([]func([]model.InventoryItem), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		fn(cloneItems(items))
	}
}

// Watch calls fn with every new snapshot until the returned func is called.
func (s *InventoryService) Watch(fn func([]model.InventoryItem)) func() {
	s.watchMu.Lock()
	s.nextWatch++
	id := s.nextWatch
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

// WatcherCount returns how many Watch callbacks are registered.
func (s *InventoryService) WatcherCount() int {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return len(s.watchers)
}

// Items returns every item in the current snapshot, oldest first.
func (s *InventoryService) Items() []model.InventoryItem {
	return s.filter(func(model.InventoryItem) bool { return true })
}

// Sales returns every sold item.
func (s *InventoryService) Sales() []model.InventoryItem {
	return s.filter(func(i model.InventoryItem) bool { return i.Sold })
}

// ActiveInventory returns unsold items held in storage.
func (s *InventoryService) ActiveInventory() []model.InventoryItem {
	return s.filter(func(i model.InventoryItem) bool { return !i.Sold && !i.InFarmStall })
}

// FarmStall returns unsold items on display.
func (s *InventoryService) FarmStall() []model.InventoryItem {
	return s.filter(func(i model.InventoryItem) bool { return !i.Sold && i.InFarmStall })
}

// Get returns one item from the current snapshot.
func (s *InventoryService) Get(id string) (model.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.items {
		if item.ID == id {
			return item, nil
		}
	}
	return model.InventoryItem{}, ErrNotFound
}

func (s *InventoryService) filter(keep func(model.InventoryItem) bool) []model.InventoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.InventoryItem, 0, len(s.items))
	for _, item := range s.items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

// AddItem persists a new item in storage and returns it with its store-assigned id.
func (s *InventoryService) AddItem(ctx context.Context, candidate model.NewItem) (model.InventoryItem, error) {
	candidate.Type = strings.TrimSpace(candidate.Type)
	if candidate.Type == "" {
		return model.InventoryItem{}, invalid("type", "type is required")
	}
	if !positive(candidate.Weight) {
		return model.InventoryItem{}, invalid("weight", "weight must be greater than zero")
	}
	if !nonNegative(candidate.CostPrice) {
		return model.InventoryItem{}, invalid("costPrice", "cost price must not be negative")
	}
	if !nonNegative(candidate.SalePrice) {
		return model.InventoryItem{}, invalid("salePrice", "sale price must not be negative")
	}
	if candidate.Date.IsZero() {
		candidate.Date = s.now().UTC()
	}

	rec := itemRecord{
		Type:              candidate.Type,
		Weight:            candidate.Weight,
		CostPrice:         candidate.CostPrice,
		SalePrice:         candidate.SalePrice,
		Date:              candidate.Date,
		FromExternalBatch: candidate.FromExternalBatch,
	}

	id, err := s.store.Push(ctx, InventoryNode, rec)
	if err != nil {
		s.log.WithContext(ctx).Errorw("failed to add item", "type", rec.Type, "error", err)
		return model.InventoryItem{}, persistence("add item", err)
	}

	s.log.WithContext(ctx).Infow("item added", "id", id, "type", rec.Type, "weight", rec.Weight)
	return rec.item(id), nil
}

// MoveToFarmStall puts an item on display. Unknown ids are a silent no-op.
func (s *InventoryService) MoveToFarmStall(ctx context.Context, id string) error {
	return s.setStall(ctx, id, true)
}

// MoveToInventory returns an item to storage. Unknown ids are a silent no-op.
func (s *InventoryService) MoveToInventory(ctx context.Context, id string) error {
	return s.setStall(ctx, id, false)
}

func (s *InventoryService) setStall(ctx context.Context, id string, inStall bool) error {
	if err := validateID(id); err != nil {
		return err
	}
	if item, err := s.Get(id); err == nil && item.Sold {
		return invalid("id", "sold items cannot be moved")
	}

	err := s.store.Update(ctx, map[string]any{
		fieldPath(id, "inFarmStall"): inStall,
	})
	if err != nil {
		return persistence("move item", err)
	}
	return nil
}

// MarkAsSold records the sale and stamps soldDate. There is no reverse operation.
// Marking an item the snapshot already shows as sold leaves its soldDate alone.
func (s *InventoryService) MarkAsSold(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if item, err := s.Get(id); err == nil && item.Sold {
		return nil
	}

	err := s.store.Update(ctx, map[string]any{
		fieldPath(id, "sold"):     true,
		fieldPath(id, "soldDate"): s.now().UTC(),
	})
	if err != nil {
		return persistence("mark as sold", err)
	}

	s.log.WithContext(ctx).Infow("item sold", "id", id)
	return nil
}

// RemoveFromInventory deletes the record permanently.
func (s *InventoryService) RemoveFromInventory(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := s.store.Remove(ctx, InventoryNode+"/"+id); err != nil {
		return persistence("remove item", err)
	}

	s.log.WithContext(ctx).Infow("item removed", "id", id)
	return nil
}

// UpdateItem edits an unsold item. For produce, a weight change rescales costPrice
// so the unit cost stays the same; flowers carry no cost, so relabelling produce
// as flowers clears it.
func (s *InventoryService) UpdateItem(ctx context.Context, id string, edit model.ItemEdit) (model.InventoryItem, error) {
	if err := validateID(id); err != nil {
		return model.InventoryItem{}, err
	}
	item, err := s.Get(id)
	if err != nil {
		return model.InventoryItem{}, err
	}
	if item.Sold {
		return model.InventoryItem{}, invalid("id", "sold items cannot be edited")
	}

	updates := make(map[string]any)
	unitCost := item.UnitCost()

	if edit.Type != nil {
		t := strings.TrimSpace(*edit.Type)
		if t == "" {
			return model.InventoryItem{}, invalid("type", "type is required")
		}
		item.Type = t
		updates[fieldPath(id, "type")] = t
	}
	if edit.SalePrice != nil {
		if !positive(*edit.SalePrice) {
			return model.InventoryItem{}, invalid("salePrice", "sale price must be greater than zero")
		}
		item.SalePrice = *edit.SalePrice
		updates[fieldPath(id, "salePrice")] = item.SalePrice
	}
	if edit.Weight != nil {
		if !positive(*edit.Weight) {
			return model.InventoryItem{}, invalid("weight", "weight must be greater than zero")
		}
		item.Weight = *edit.Weight
		updates[fieldPath(id, "weight")] = item.Weight
		if !item.IsFlowers() {
			item.CostPrice = unitCost * item.Weight
			updates[fieldPath(id, "costPrice")] = item.CostPrice
		}
	}
	if edit.Type != nil && item.IsFlowers() && item.CostPrice != 0 {
		item.CostPrice = 0
		updates[fieldPath(id, "costPrice")] = 0.0
	}
	if len(updates) == 0 {
		return item, nil
	}

	if err := s.store.Update(ctx, updates); err != nil {
		return model.InventoryItem{}, persistence("update item", err)
	}
	return item, nil
}

func fieldPath(id, field string) string {
	return InventoryNode + "/" + id + "/" + field
}

func validateID(id string) error {
	if id == "" || strings.Contains(id, "/") {
		return invalid("id", "invalid item id")
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

func cloneItems(items []model.InventoryItem) []model.InventoryItem {
	return append([]model.InventoryItem(nil), items...)
}
