package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"farmstall/internal/model"
	"farmstall/internal/report"
	"farmstall/internal/repository"
	"farmstall/pkg/logger"
	"farmstall/pkg/uid"
)

// BatchNode is the store node holding the shared open-batch descriptor.
const BatchNode = "currentBatch"

// ItemAdder persists one item. *InventoryService implements it.
type ItemAdder interface {
	AddItem(ctx context.Context, candidate model.NewItem) (model.InventoryItem, error)
}

// BatchWorkflow drives batch intake: open a batch, stage weighed lines, then
// finish (persist every line) or cancel (discard them).
//
// The descriptor lives in the store so every client sees the open batch.
// Staged lines stay in this process until the batch is finished.
type BatchWorkflow struct {
	store repository.DocumentStore
	adder ItemAdder
	log   *logger.Logger
	now   func() time.Time

	// op serializes transitions. Store calls are made holding op, never state,
	// because memory-backed feeds deliver synchronously into onSlot.
	op sync.Mutex

	state   sync.Mutex
	batch   *model.Batch
	staged  []model.StagedItem
	closing bool // this process is clearing the slot
}

// NewBatchWorkflow creates the workflow. Call Subscribe to follow the shared slot.
func NewBatchWorkflow(store repository.DocumentStore, adder ItemAdder, log *logger.Logger) *BatchWorkflow {
	if log == nil {
		log = logger.Nop()
	}
	return &BatchWorkflow{
		store: store,
		adder: adder,
		log:   log.WithComponent("batch"),
		now:   time.Now,
	}
}

// SetClock replaces the time source used to date staged lines and flower entries.
func (w *BatchWorkflow) SetClock(now func() time.Time) {
	w.now = now
}

// Subscribe follows the shared batch slot until the returned func is called.
func (w *BatchWorkflow) Subscribe(ctx context.Context) (repository.CancelFunc, error) {
	cancel, err := w.store.Subscribe(ctx, BatchNode, w.onSlot)
	if err != nil {
		return nil, persistence("subscribe batch", err)
	}
	return cancel, nil
}

func (w *BatchWorkflow) onSlot(snap repository.Snapshot) {
	batch, err := decodeBatch(snap)
	if err != nil {
		w.log.Warnw("ignoring malformed batch slot", "error", err)
		return
	}

	w.state.Lock()
	defer w.state.Unlock()

	if batch == nil && len(w.staged) > 0 && !w.closing {
		w.log.Warnw("batch closed elsewhere, discarding staged items", "count", len(w.staged))
		w.staged = nil
	}
	w.batch = batch
}

func decodeBatch(snap repository.Snapshot) (*model.Batch, error) {
	if len(snap) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	var b model.Batch
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// View returns slot state, descriptor, staged lines and running totals.
func (w *BatchWorkflow) View() model.BatchView {
	w.state.Lock()
	defer w.state.Unlock()

	view := model.BatchView{
		State:   model.BatchIdle,
		Items:   append([]model.StagedItem{}, w.staged...),
		Summary: report.Summarize(w.staged),
	}
	if w.batch != nil {
		b := *w.batch
		view.State = model.BatchOpen
		view.Batch = &b
	}
	return view
}

// Summary returns the running totals over the staged lines.
func (w *BatchWorkflow) Summary() model.BatchSummary {
	w.state.Lock()
	defer w.state.Unlock()
	return report.Summarize(w.staged)
}

// StartBatch opens a batch of one produce type at a fixed cost per kilogram.
func (w *BatchWorkflow) StartBatch(ctx context.Context, produceType string, costPerKg float64, external bool) (model.Batch, error) {
	produceType = strings.TrimSpace(produceType)
	if produceType == "" {
		return model.Batch{}, invalid("type", "type is required")
	}
	if produceType == "Other" {
		return model.Batch{}, invalid("type", "enter the custom type instead of Other")
	}
	if !nonNegative(costPerKg) {
		return model.Batch{}, invalid("costPerKg", "cost per kg must be a number of zero or more")
	}

	w.op.Lock()
	defer w.op.Unlock()

	if w.current() != nil {
		return model.Batch{}, invalid("batch", "a batch is already in progress")
	}

	batch := model.Batch{Type: produceType, CostPerKg: costPerKg, FromExternalBatch: external}
	if err := w.store.Set(ctx, BatchNode, batch); err != nil {
		return model.Batch{}, persistence("start batch", err)
	}

	w.state.Lock()
	w.batch = &batch
	w.staged = nil
	w.state.Unlock()

	w.log.WithContext(ctx).Infow("batch started", "type", produceType, "cost_per_kg", costPerKg, "external", external)
	return batch, nil
}

// StageItem adds one weighed line to the open batch. Its cost is weight times the batch cost per kg.
func (w *BatchWorkflow) StageItem(weight, salePrice float64) (model.StagedItem, error) {
	if !positive(weight) {
		return model.StagedItem{}, invalid("weight", "weight must be greater than zero")
	}
	if !positive(salePrice) {
		return model.StagedItem{}, invalid("salePrice", "sale price must be greater than zero")
	}

	w.op.Lock()
	defer w.op.Unlock()
	w.state.Lock()
	defer w.state.Unlock()

	if w.batch == nil {
		return model.StagedItem{}, invalid("batch", "no batch in progress")
	}

	cost := weight * w.batch.CostPerKg
	if !nonNegative(cost) {
		return model.StagedItem{}, invalid("weight", "weight times cost per kg is out of range")
	}

	item := model.StagedItem{
		ID:                "temp-" + uid.New(),
		Type:              w.batch.Type,
		Weight:            weight,
		CostPrice:         cost,
		SalePrice:         salePrice,
		Date:              w.now().UTC(),
		FromExternalBatch: w.batch.FromExternalBatch,
	}
	w.staged = append(w.staged, item)
	return item, nil
}

// Staged returns the staged lines in staging order.
func (w *BatchWorkflow) Staged() []model.StagedItem {
	w.state.Lock()
	defer w.state.Unlock()
	return append([]model.StagedItem{}, w.staged...)
}

// RemoveStaged drops one staged line by its temporary id.
func (w *BatchWorkflow) RemoveStaged(tempID string) error {
	w.op.Lock()
	defer w.op.Unlock()
	w.state.Lock()
	defer w.state.Unlock()

	for i, item := range w.staged {
		if item.ID == tempID {
			w.staged = append(w.staged[:i:i], w.staged[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// FinishBatch persists every staged line in order, then clears the slot.
//
// If some lines fail, the written ones leave staging, the failed ones stay,
// the slot stays open and a *PersistenceError lists both sets. A line the
// adder rejects as invalid stops the finish and its ValidationError is returned.
func (w *BatchWorkflow) FinishBatch(ctx context.Context) ([]model.InventoryItem, error) {
	w.op.Lock()
	defer w.op.Unlock()

	w.state.Lock()
	batch := w.batch
	staged := append([]model.StagedItem(nil), w.staged...)
	w.state.Unlock()

	if batch == nil {
		return nil, invalid("batch", "no batch in progress")
	}
	if len(staged) == 0 {
		return nil, invalid("items", "add at least one item before finishing")
	}

	log := w.log.WithContext(ctx)
	written := make([]model.InventoryItem, 0, len(staged))
	writtenTemp := make(map[string]bool)
	var failed []int
	var firstErr error

	for i, line := range staged {
		item, err := w.adder.AddItem(ctx, line.Candidate())
		if IsValidation(err) {
			w.dropStaged(writtenTemp)
			return written, err
		}
		if err != nil {
			log.Errorw("failed to persist staged item", "index", i, "temp_id", line.ID, "error", err)
			failed = append(failed, i)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written = append(written, item)
		writtenTemp[line.ID] = true
	}

	w.dropStaged(writtenTemp)

	if len(failed) > 0 {
		return written, &PersistenceError{
			Op:      "finish batch",
			Err:     firstErr,
			Written: itemIDs(written),
			Failed:  failed,
		}
	}

	if err := w.store.Remove(ctx, BatchNode); err != nil {
		return written, &PersistenceError{
			Op:      "finish batch",
			Err:     fmt.Errorf("items saved but batch not closed: %w", err),
			Written: itemIDs(written),
		}
	}

	w.state.Lock()
	w.batch = nil
	w.staged = nil
	w.state.Unlock()

	log.Infow("batch finished", "type", batch.Type, "items", len(written))
	return written, nil
}

// CancelBatch discards staged lines and clears the slot. Staged lines are only
// discarded when confirmed is true.
func (w *BatchWorkflow) CancelBatch(ctx context.Context, confirmed bool) error {
	w.op.Lock()
	defer w.op.Unlock()

	w.state.Lock()
	open := w.batch != nil
	pending := len(w.staged)
	w.state.Unlock()

	if !open {
		return invalid("batch", "no batch in progress")
	}
	if pending > 0 && !confirmed {
		return invalid("confirm", fmt.Sprintf("cancelling discards %d staged items; confirm to continue", pending))
	}

	w.setClosing(true)
	err := w.store.Remove(ctx, BatchNode)
	w.setClosing(false)
	if err != nil {
		return persistence("cancel batch", err)
	}

	w.state.Lock()
	w.batch = nil
	w.staged = nil
	w.state.Unlock()

	w.log.WithContext(ctx).Infow("batch cancelled", "discarded", pending)
	return nil
}

// StartFlowerEntry records a flower intake directly, without staging.
// Weight holds the bunch count and flowers carry no cost.
func (w *BatchWorkflow) StartFlowerEntry(ctx context.Context, variety string, bunches int, pricePerBunch float64) (model.InventoryItem, error) {
	if bunches <= 0 {
		return model.InventoryItem{}, invalid("bunches", "bunches must be greater than zero")
	}
	if !positive(pricePerBunch) {
		return model.InventoryItem{}, invalid("pricePerBunch", "price per bunch must be greater than zero")
	}

	flowerType := model.FlowersPrefix
	if v := strings.TrimSpace(variety); v != "" {
		flowerType = model.FlowersPrefix + " - " + v
	}

	return w.adder.AddItem(ctx, model.NewItem{
		Type:      flowerType,
		Weight:    float64(bunches),
		CostPrice: 0,
		SalePrice: float64(bunches) * pricePerBunch,
		Date:      w.now().UTC(),
	})
}

func (w *BatchWorkflow) current() *model.Batch {
	w.state.Lock()
	defer w.state.Unlock()
	return w.batch
}

func (w *BatchWorkflow) setClosing(v bool) {
	w.state.Lock()
	w.closing = v
	w.state.Unlock()
}

func (w *BatchWorkflow) dropStaged(ids map[string]bool) {
	if len(ids) == 0 {
		return
	}

	w.state.Lock()
	defer w.state.Unlock()

	kept := w.staged[:0:0]
	for _, item := range w.staged {
		if !ids[item.ID] {
			kept = append(kept, item)
		}
	}
	w.staged = kept
}

func itemIDs(items []model.InventoryItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
