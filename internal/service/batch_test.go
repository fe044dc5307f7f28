package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"farmstall/internal/model"
	"farmstall/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyAdder fails the calls whose zero-based index is listed in failAt.
type flakyAdder struct {
	next   ItemAdder
	failAt map[int]bool
	calls  int
}

func (f *flakyAdder) AddItem(ctx context.Context, candidate model.NewItem) (model.InventoryItem, error) {
	n := f.calls
	f.calls++
	if f.failAt[n] {
		return model.InventoryItem{}, persistence("add item", errStoreDown)
	}
	return f.next.AddItem(ctx, candidate)
}

type batchFixture struct {
	store     repository.DocumentStore
	inventory *InventoryService
	workflow  *BatchWorkflow
}

func newBatchFixture(t *testing.T, adder func(*InventoryService) ItemAdder) *batchFixture {
	t.Helper()

	store := repository.NewMemoryStore(nil)
	inventory := newTestInventory(t, store)

	var a ItemAdder = inventory
	if adder != nil {
		a = adder(inventory)
	}
	return &batchFixture{
		store:     store,
		inventory: inventory,
		workflow:  newTestWorkflow(t, store, a),
	}
}

func newTestWorkflow(t *testing.T, store repository.DocumentStore, adder ItemAdder) *BatchWorkflow {
	t.Helper()

	w := NewBatchWorkflow(store, adder, nil)
	w.SetClock(func() time.Time { return testNow })
	cancel, err := w.Subscribe(context.Background())
	require.NoError(t, err)
	t.Cleanup(cancel)
	return w
}

func TestBatch_StageComputesCostAndSummary(t *testing.T) {
	f := newBatchFixture(t, nil)
	ctx := context.Background()

	_, err := f.workflow.StartBatch(ctx, "Carrot", 5, false)
	require.NoError(t, err)

	item, err := f.workflow.StageItem(2, 20)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(item.ID, "temp-"))
	assert.Equal(t, "Carrot", item.Type)
	assert.Equal(t, 10.0, item.CostPrice)

	assert.Equal(t, model.BatchSummary{
		Count:          1,
		TotalWeight:    2,
		TotalCost:      10,
		TotalSalePrice: 20,
		Profit:         10,
	}, f.workflow.Summary())

	view := f.workflow.View()
	assert.Equal(t, model.BatchOpen, view.State)
	require.NotNil(t, view.Batch)
	assert.Equal(t, 5.0, view.Batch.CostPerKg)
}

func TestBatch_StageRejectsInvalidInput(t *testing.T) {
	f := newBatchFixture(t, nil)

	_, err := f.workflow.StageItem(1, 1)
	assert.True(t, IsValidation(err), "no batch open")

	_, err = f.workflow.StartBatch(context.Background(), "Carrot", 5, false)
	require.NoError(t, err)

	_, err = f.workflow.StageItem(0, 20)
	assert.True(t, IsValidation(err))
	_, err = f.workflow.StageItem(2, 0)
	assert.True(t, IsValidation(err))

	assert.Empty(t, f.workflow.Staged())
}

func TestBatch_StartRules(t *testing.T) {
	f := newBatchFixture(t, nil)
	ctx := context.Background()

	_, err := f.workflow.StartBatch(ctx, "", 5, false)
	assert.True(t, IsValidation(err))
	_, err = f.workflow.StartBatch(ctx, "Other", 5, false)
	assert.True(t, IsValidation(err))
	_, err = f.workflow.StartBatch(ctx, "Carrot", -1, false)
	assert.True(t, IsValidation(err))

	_, err = f.workflow.StartBatch(ctx, "Heirloom Beans", 0, true)
	require.NoError(t, err)

	_, err = f.workflow.StartBatch(ctx, "Melon", 3, false)
	assert.True(t, IsValidation(err), "a batch is already open")
	assert.Equal(t, "Heirloom Beans", f.workflow.View().Batch.Type)
}

func TestBatch_FinishPersistsEveryLine(t *testing.T) {
	f := newBatchFixture(t, nil)
	ctx := context.Background()

	_, err := f.workflow.StartBatch(ctx, "Pumpkin", 2, true)
	require.NoError(t, err)
	for _, w := range []float64{1, 2.5, 4} {
		_, err := f.workflow.StageItem(w, w*6)
		require.NoError(t, err)
	}

	items, err := f.workflow.FinishBatch(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	stored := f.inventory.ActiveInventory()
	require.Len(t, stored, 3)
	for _, item := range stored {
		assert.Equal(t, "Pumpkin", item.Type)
		assert.True(t, item.FromExternalBatch)
		assert.Equal(t, item.Weight*2, item.CostPrice)
		assert.False(t, item.InFarmStall)
		assert.False(t, item.Sold)
	}

	view := f.workflow.View()
	assert.Equal(t, model.BatchIdle, view.State)
	assert.Empty(t, view.Items)
}

func TestBatch_FinishEmptyIsRejected(t *testing.T) {
	f := newBatchFixture(t, nil)
	ctx := context.Background()

	_, err := f.workflow.FinishBatch(ctx)
	assert.True(t, IsValidation(err))

	_, err = f.workflow.StartBatch(ctx, "Onion", 1, false)
	require.NoError(t, err)
	_, err = f.workflow.FinishBatch(ctx)
	assert.True(t, IsValidation(err))
	assert.Equal(t, model.BatchOpen, f.workflow.View().State)
}

func TestBatch_FinishPartialFailureKeepsFailedLines(t *testing.T) {
	var flaky *flakyAdder
	f := newBatchFixture(t, func(inv *InventoryService) ItemAdder {
		flaky = &flakyAdder{next: inv, failAt: map[int]bool{1: true}}
		return flaky
	})
	ctx := context.Background()

	_, err := f.workflow.StartBatch(ctx, "Tomato", 4, false)
	require.NoError(t, err)
	for _, w := range []float64{1, 2, 3} {
		_, err := f.workflow.StageItem(w, 10)
		require.NoError(t, err)
	}

	written, err := f.workflow.FinishBatch(ctx)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Partial())
	assert.Equal(t, []int{1}, perr.Failed)
	assert.Len(t, perr.Written, 2)
	assert.Len(t, written, 2)

	staged := f.workflow.Staged()
	require.Len(t, staged, 1)
	assert.Equal(t, 2.0, staged[0].Weight)
	assert.Equal(t, model.BatchOpen, f.workflow.View().State)
	assert.Len(t, f.inventory.ActiveInventory(), 2)

	// Retrying writes only the line that failed.
	written, err = f.workflow.FinishBatch(ctx)
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, 2.0, written[0].Weight)
	assert.Len(t, f.inventory.ActiveInventory(), 3)
	assert.Equal(t, model.BatchIdle, f.workflow.View().State)
}

func TestBatch_CancelNeedsConfirmationWhenStaged(t *testing.T) {
	f := newBatchFixture(t, nil)
	ctx := context.Background()

	assert.True(t, IsValidation(f.workflow.CancelBatch(ctx, true)), "nothing to cancel")

	_, err := f.workflow.StartBatch(ctx, "Cabbage", 1.5, false)
	require.NoError(t, err)
	_, err = f.workflow.StageItem(3, 9)
	require.NoError(t, err)

	assert.True(t, IsValidation(f.workflow.CancelBatch(ctx, false)))
	assert.Len(t, f.workflow.Staged(), 1)

	require.NoError(t, f.workflow.CancelBatch(ctx, true))
	assert.Equal(t, model.BatchIdle, f.workflow.View().State)
	assert.Empty(t, f.workflow.Staged())
	assert.Empty(t, f.inventory.Items())
}

func TestBatch_CancelEmptyBatchNeedsNoConfirmation(t *testing.T) {
	f := newBatchFixture(t, nil)
	ctx := context.Background()

	_, err := f.workflow.StartBatch(ctx, "Cucumber", 2, false)
	require.NoError(t, err)
	require.NoError(t, f.workflow.CancelBatch(ctx, false))
	assert.Equal(t, model.BatchIdle, f.workflow.View().State)
}

func TestBatch_RemoveStaged(t *testing.T) {
	f := newBatchFixture(t, nil)

	_, err := f.workflow.StartBatch(context.Background(), "Melon", 2, false)
	require.NoError(t, err)
	first, err := f.workflow.StageItem(1, 5)
	require.NoError(t, err)
	second, err := f.workflow.StageItem(2, 9)
	require.NoError(t, err)

	require.NoError(t, f.workflow.RemoveStaged(first.ID))
	assert.ErrorIs(t, f.workflow.RemoveStaged(first.ID), ErrNotFound)

	staged := f.workflow.Staged()
	require.Len(t, staged, 1)
	assert.Equal(t, second.ID, staged[0].ID)
	assert.Equal(t, 4.0, f.workflow.Summary().TotalCost)
}

func TestBatch_SlotIsSharedBetweenClients(t *testing.T) {
	f := newBatchFixture(t, nil)
	ctx := context.Background()
	other := newTestWorkflow(t, f.store, f.inventory)

	_, err := f.workflow.StartBatch(ctx, "Potato", 1, false)
	require.NoError(t, err)
	_, err = f.workflow.StageItem(5, 12)
	require.NoError(t, err)

	assert.Equal(t, model.BatchOpen, other.View().State)
	_, err = other.StartBatch(ctx, "Onion", 1, false)
	assert.True(t, IsValidation(err))

	// Another client closing the batch discards local staging.
	require.NoError(t, other.CancelBatch(ctx, false))
	assert.Equal(t, model.BatchIdle, f.workflow.View().State)
	assert.Empty(t, f.workflow.Staged())
}

func TestBatch_SlotWriteFailure(t *testing.T) {
	store := &failingStore{DocumentStore: repository.NewMemoryStore(nil)}
	inventory := newTestInventory(t, store)
	w := newTestWorkflow(t, store, inventory)
	ctx := context.Background()

	_, err := w.StartBatch(ctx, "Carrot", 5, false)
	require.NoError(t, err)

	store.failRemove = true
	assert.True(t, IsPersistence(w.CancelBatch(ctx, true)))
	assert.Equal(t, model.BatchOpen, w.View().State)
}

func TestBatch_FlowerEntry(t *testing.T) {
	f := newBatchFixture(t, nil)
	ctx := context.Background()

	item, err := f.workflow.StartFlowerEntry(ctx, "Roses", 3, 5)
	require.NoError(t, err)
	assert.Equal(t, "Flowers - Roses", item.Type)
	assert.Equal(t, 3.0, item.Weight)
	assert.Equal(t, 15.0, item.SalePrice)
	assert.Equal(t, 0.0, item.CostPrice)

	plain, err := f.workflow.StartFlowerEntry(ctx, " ", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, "Flowers", plain.Type)

	_, err = f.workflow.StartFlowerEntry(ctx, "Tulips", 0, 4)
	assert.True(t, IsValidation(err))
	_, err = f.workflow.StartFlowerEntry(ctx, "Tulips", 2, 0)
	assert.True(t, IsValidation(err))

	assert.Len(t, f.inventory.ActiveInventory(), 2)
	assert.Equal(t, model.BatchIdle, f.workflow.View().State, "flower entry does not open a batch")
}

func TestBatch_StageRejectsCostOverflow(t *testing.T) {
	f := newBatchFixture(t, nil)
	ctx := context.Background()

	_, err := f.workflow.StartBatch(ctx, "Carrot", 1e200, false)
	require.NoError(t, err)

	_, err = f.workflow.StageItem(1e200, 20)
	assert.True(t, IsValidation(err))
	assert.Empty(t, f.workflow.Staged())

	assert.NotPanics(t, func() {
		f.workflow.Summary()
		f.workflow.View()
	})
}

// rejectingAdder refuses every item as invalid.
type rejectingAdder struct{}

func (rejectingAdder) AddItem(context.Context, model.NewItem) (model.InventoryItem, error) {
	return model.InventoryItem{}, invalid("costPrice", "cost price must not be negative")
}

func TestBatch_FinishReturnsAdderValidationError(t *testing.T) {
	f := newBatchFixture(t, func(*InventoryService) ItemAdder { return rejectingAdder{} })
	ctx := context.Background()

	_, err := f.workflow.StartBatch(ctx, "Leek", 2, false)
	require.NoError(t, err)
	_, err = f.workflow.StageItem(1, 5)
	require.NoError(t, err)

	written, err := f.workflow.FinishBatch(ctx)
	assert.Empty(t, written)
	assert.True(t, IsValidation(err))
	assert.False(t, IsPersistence(err))

	assert.Len(t, f.workflow.Staged(), 1)
	assert.Equal(t, model.BatchOpen, f.workflow.View().State)
}
