package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"farmstall/internal/model"
	"farmstall/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store unavailable")

// failingStore rejects selected writes and passes everything else through.
type failingStore struct {
	repository.DocumentStore
	failPush   bool
	failUpdate bool
	failRemove bool
}

func (f *failingStore) Push(ctx context.Context, node string, value any) (string, error) {
	if f.failPush {
		return "", errStoreDown
	}
	return f.DocumentStore.Push(ctx, node, value)
}

func (f *failingStore) Update(ctx context.Context, updates map[string]any) error {
	if f.failUpdate {
		return errStoreDown
	}
	return f.DocumentStore.Update(ctx, updates)
}

func (f *failingStore) Remove(ctx context.Context, path string) error {
	if f.failRemove {
		return errStoreDown
	}
	return f.DocumentStore.Remove(ctx, path)
}

var testNow = time.Date(2024, 6, 14, 10, 30, 0, 0, time.UTC)

func newTestInventory(t *testing.T, store repository.DocumentStore) *InventoryService {
	t.Helper()

	svc := NewInventoryService(store, nil)
	svc.SetClock(func() time.Time { return testNow })

	cancel, err := svc.Subscribe(context.Background())
	require.NoError(t, err)
	t.Cleanup(cancel)
	return svc
}

func addCarrot(t *testing.T, svc *InventoryService) model.InventoryItem {
	t.Helper()
	item, err := svc.AddItem(context.Background(), model.NewItem{
		Type:      "Carrot",
		Weight:    2,
		CostPrice: 10,
		SalePrice: 20,
	})
	require.NoError(t, err)
	return item
}

func TestInventory_AddItemAppearsInStorage(t *testing.T) {
	svc := newTestInventory(t, repository.NewMemoryStore(nil))
	assert.True(t, svc.Ready())
	assert.Empty(t, svc.Items())

	item := addCarrot(t, svc)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, testNow, item.Date)
	assert.False(t, item.InFarmStall)
	assert.False(t, item.Sold)

	storage := svc.ActiveInventory()
	require.Len(t, storage, 1)
	assert.Equal(t, item.ID, storage[0].ID)
	assert.Equal(t, 10.0, storage[0].CostPrice)
	assert.Empty(t, svc.FarmStall())
	assert.Empty(t, svc.Sales())
}

func TestInventory_AddItemValidation(t *testing.T) {
	svc := newTestInventory(t, repository.NewMemoryStore(nil))
	ctx := context.Background()

	_, err := svc.AddItem(ctx, model.NewItem{Type: "  ", Weight: 1})
	assert.True(t, IsValidation(err))

	_, err = svc.AddItem(ctx, model.NewItem{Type: "Carrot", Weight: 0})
	assert.True(t, IsValidation(err))

	_, err = svc.AddItem(ctx, model.NewItem{Type: "Carrot", Weight: 1, SalePrice: -1})
	assert.True(t, IsValidation(err))

	assert.Empty(t, svc.Items())
}

func TestInventory_Lifecycle(t *testing.T) {
	svc := newTestInventory(t, repository.NewMemoryStore(nil))
	ctx := context.Background()
	item := addCarrot(t, svc)

	require.NoError(t, svc.MoveToFarmStall(ctx, item.ID))
	require.Len(t, svc.FarmStall(), 1)
	assert.Empty(t, svc.ActiveInventory())

	require.NoError(t, svc.MoveToInventory(ctx, item.ID))
	require.Len(t, svc.ActiveInventory(), 1)
	assert.Empty(t, svc.FarmStall())

	require.NoError(t, svc.MoveToFarmStall(ctx, item.ID))
	require.NoError(t, svc.MarkAsSold(ctx, item.ID))

	sales := svc.Sales()
	require.Len(t, sales, 1)
	require.NotNil(t, sales[0].SoldDate)
	assert.True(t, sales[0].SoldDate.Equal(testNow))
	assert.Empty(t, svc.FarmStall())
	assert.Empty(t, svc.ActiveInventory())
}

func TestInventory_MarkAsSoldKeepsFirstSoldDate(t *testing.T) {
	svc := newTestInventory(t, repository.NewMemoryStore(nil))
	ctx := context.Background()
	item := addCarrot(t, svc)

	require.NoError(t, svc.MarkAsSold(ctx, item.ID))

	svc.SetClock(func() time.Time { return testNow.Add(48 * time.Hour) })
	require.NoError(t, svc.MarkAsSold(ctx, item.ID))

	got, err := svc.Get(item.ID)
	require.NoError(t, err)
	assert.True(t, got.SoldDate.Equal(testNow))
}

func TestInventory_SoldItemsCannotMove(t *testing.T) {
	svc := newTestInventory(t, repository.NewMemoryStore(nil))
	ctx := context.Background()
	item := addCarrot(t, svc)
	require.NoError(t, svc.MarkAsSold(ctx, item.ID))

	assert.True(t, IsValidation(svc.MoveToFarmStall(ctx, item.ID)))
	assert.True(t, IsValidation(svc.MoveToInventory(ctx, item.ID)))
}

func TestInventory_UnknownIDIsNoOp(t *testing.T) {
	svc := newTestInventory(t, repository.NewMemoryStore(nil))
	ctx := context.Background()

	assert.NoError(t, svc.MoveToFarmStall(ctx, "missing"))
	assert.NoError(t, svc.MarkAsSold(ctx, "missing"))
	assert.Empty(t, svc.Items())

	_, err := svc.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInventory_RejectsPathLikeIDs(t *testing.T) {
	svc := newTestInventory(t, repository.NewMemoryStore(nil))

	err := svc.RemoveFromInventory(context.Background(), "a/b")
	assert.True(t, IsValidation(err))
	err = svc.MoveToFarmStall(context.Background(), "")
	assert.True(t, IsValidation(err))
}

func TestInventory_Remove(t *testing.T) {
	svc := newTestInventory(t, repository.NewMemoryStore(nil))
	item := addCarrot(t, svc)

	require.NoError(t, svc.RemoveFromInventory(context.Background(), item.ID))
	assert.Empty(t, svc.Items())
}

func TestInventory_UpdateItemRescalesProduceCost(t *testing.T) {
	svc := newTestInventory(t, repository.NewMemoryStore(nil))
	item := addCarrot(t, svc)

	weight := 3.0
	sale := 33.0
	updated, err := svc.UpdateItem(context.Background(), item.ID, model.ItemEdit{Weight: &weight, SalePrice: &sale})
	require.NoError(t, err)
	assert.Equal(t, 15.0, updated.CostPrice)

	got, err := svc.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.Weight)
	assert.Equal(t, 15.0, got.CostPrice)
	assert.Equal(t, 33.0, got.SalePrice)
}

func TestInventory_UpdateItemFlowersKeepCost(t *testing.T) {
	svc := newTestInventory(t, repository.NewMemoryStore(nil))
	item, err := svc.AddItem(context.Background(), model.NewItem{Type: "Flowers - Tulips", Weight: 4, SalePrice: 20})
	require.NoError(t, err)

	bunches := 6.0
	updated, err := svc.UpdateItem(context.Background(), item.ID, model.ItemEdit{Weight: &bunches})
	require.NoError(t, err)
	assert.Equal(t, 0.0, updated.CostPrice)
	assert.Equal(t, 6.0, updated.Weight)
}

func TestInventory_UpdateItemRejections(t *testing.T) {
	svc := newTestInventory(t, repository.NewMemoryStore(nil))
	ctx := context.Background()
	item := addCarrot(t, svc)

	zero := 0.0
	_, err := svc.UpdateItem(ctx, item.ID, model.ItemEdit{Weight: &zero})
	assert.True(t, IsValidation(err))

	_, err = svc.UpdateItem(ctx, "missing", model.ItemEdit{Weight: &zero})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.MarkAsSold(ctx, item.ID))
	weight := 1.0
	_, err = svc.UpdateItem(ctx, item.ID, model.ItemEdit{Weight: &weight})
	assert.True(t, IsValidation(err))
}

func TestInventory_StoreFailures(t *testing.T) {
	store := &failingStore{DocumentStore: repository.NewMemoryStore(nil)}
	svc := newTestInventory(t, store)
	ctx := context.Background()
	item := addCarrot(t, svc)

	store.failPush = true
	_, err := svc.AddItem(ctx, model.NewItem{Type: "Melon", Weight: 1})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, errStoreDown)
	assert.False(t, perr.Partial())

	store.failUpdate = true
	assert.True(t, IsPersistence(svc.MarkAsSold(ctx, item.ID)))
	assert.True(t, IsPersistence(svc.MoveToFarmStall(ctx, item.ID)))

	store.failRemove = true
	assert.True(t, IsPersistence(svc.RemoveFromInventory(ctx, item.ID)))

	// Nothing changed locally.
	require.Len(t, svc.ActiveInventory(), 1)
}

func TestInventory_WatchReceivesSnapshots(t *testing.T) {
	svc := newTestInventory(t, repository.NewMemoryStore(nil))

	var got [][]model.InventoryItem
	stop := svc.Watch(func(items []model.InventoryItem) { got = append(got, items) })

	addCarrot(t, svc)
	stop()
	addCarrot(t, svc)

	require.Len(t, got, 1)
	assert.Len(t, got[0], 1)
}

func TestInventory_SharedStoreMirrorsOtherClients(t *testing.T) {
	store := repository.NewMemoryStore(nil)
	a := newTestInventory(t, store)
	b := newTestInventory(t, store)

	item := addCarrot(t, a)
	require.NoError(t, b.MoveToFarmStall(context.Background(), item.ID))

	stall := a.FarmStall()
	require.Len(t, stall, 1)
	assert.Equal(t, item.ID, stall[0].ID)
}

func TestInventory_UpdateItemToFlowersClearsCost(t *testing.T) {
	svc := newTestInventory(t, repository.NewMemoryStore(nil))
	item := addCarrot(t, svc)

	flowers := "Flowers - Dahlias"
	updated, err := svc.UpdateItem(context.Background(), item.ID, model.ItemEdit{Type: &flowers})
	require.NoError(t, err)
	assert.Equal(t, 0.0, updated.CostPrice)

	got, err := svc.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, flowers, got.Type)
	assert.Equal(t, 0.0, got.CostPrice)
}
