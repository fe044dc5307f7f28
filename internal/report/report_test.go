package report

import (
	"testing"
	"time"

	"farmstall/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 14, 18, 0, 0, 0, time.UTC)

func sold(typ string, cost, sale float64, at time.Time) model.InventoryItem {
	return model.InventoryItem{
		ID:        typ + at.Format(time.RFC3339Nano),
		Type:      typ,
		Weight:    1,
		CostPrice: cost,
		SalePrice: sale,
		Sold:      true,
		Date:      at.Add(-24 * time.Hour),
		SoldDate:  &at,
	}
}

func TestCategoryRanking_OrdersByProfit(t *testing.T) {
	sales := []model.InventoryItem{
		sold("Carrot", 10, 50, now),
		sold("Flowers A", 0, 100, now),
	}

	rows := CategoryRanking(sales, DefaultTopN)

	require.Len(t, rows, 2)
	assert.Equal(t, model.Ranking{Name: "Flowers A", Sales: 100, Profit: 100, Count: 1}, rows[0])
	assert.Equal(t, model.Ranking{Name: "Carrot", Sales: 50, Profit: 40, Count: 1}, rows[1])
}

func TestCategoryRanking_KeepsTopN(t *testing.T) {
	var sales []model.InventoryItem
	for i, typ := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		sales = append(sales, sold(typ, 0, float64(i+1), now))
	}

	rows := CategoryRanking(sales, 5)
	require.Len(t, rows, 5)
	assert.Equal(t, "G", rows[0].Name)
	assert.Equal(t, "C", rows[4].Name)

	assert.Len(t, CategoryRanking(sales, 0), 7)
}

func TestSegmentRanking_PartitionsSales(t *testing.T) {
	external := sold("Melon", 5, 12, now)
	external.FromExternalBatch = true
	externalFlowers := sold("Flowers - Lilies", 0, 9, now)
	externalFlowers.FromExternalBatch = true

	sales := []model.InventoryItem{
		sold("Carrot", 2, 10, now),
		sold("Flowers", 0, 20, now),
		external,
		externalFlowers,
	}

	rows := SegmentRanking(sales)
	require.Len(t, rows, 3)

	bySegment := make(map[string]model.Ranking)
	var totalSales, totalProfit float64
	count := 0
	for _, r := range rows {
		bySegment[r.Name] = r
		totalSales += r.Sales
		totalProfit += r.Profit
		count += r.Count
	}

	assert.Equal(t, 2, bySegment[model.SegmentCutFlowers].Count)
	assert.Equal(t, 29.0, bySegment[model.SegmentCutFlowers].Sales)
	assert.Equal(t, 1, bySegment[model.SegmentExternalProduce].Count)
	assert.Equal(t, 1, bySegment[model.SegmentFeelGoodFarm].Count)

	totals := Totals(sales, sales)
	assert.Equal(t, len(sales), count)
	assert.InDelta(t, totals.TotalSales, totalSales, 1e-9)
	assert.InDelta(t, totals.Profit, totalProfit, 1e-9)

	assert.Equal(t, model.SegmentCutFlowers, rows[0].Name, "highest profit first")
}

func TestSegmentRanking_AlwaysHasThreeRows(t *testing.T) {
	rows := SegmentRanking(nil)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Zero(t, r.Count)
	}
	assert.Equal(t, model.SegmentCutFlowers, rows[0].Name)
}

func TestGroupByType(t *testing.T) {
	items := []model.InventoryItem{
		{Type: "Potato", Weight: 0.1, SalePrice: 0.1},
		{Type: "Potato", Weight: 0.2, SalePrice: 0.2},
		{Type: "Flowers - Roses", Weight: 3, SalePrice: 15},
	}

	rows := GroupByType(items)
	require.Len(t, rows, 2)

	assert.Equal(t, model.TypeSummary{Type: "Flowers - Roses", Count: 1, TotalWeight: 3, TotalValue: 15, Unit: "bunches"}, rows[0])
	assert.Equal(t, model.TypeSummary{Type: "Potato", Count: 2, TotalWeight: 0.3, TotalValue: 0.3, Unit: "kg"}, rows[1])
}

func TestTimeSeries_GroupsByDayInOrderOfFirstSale(t *testing.T) {
	day2 := time.Date(2024, 6, 13, 9, 0, 0, 0, time.UTC)
	day1 := time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC)

	sales := []model.InventoryItem{
		sold("Carrot", 1, 4, day2),
		sold("Onion", 2, 5, day1),
		sold("Melon", 3, 10, day2.Add(2*time.Hour)),
	}

	series := TimeSeries(sales, time.UTC)
	require.Len(t, series, 2)
	assert.Equal(t, model.DailySales{Date: "2024-06-13", Sales: 14, Profit: 10}, series[0])
	assert.Equal(t, model.DailySales{Date: "2024-06-12", Sales: 5, Profit: 3}, series[1])
}

func TestTimeSeries_UsesLocation(t *testing.T) {
	late := time.Date(2024, 6, 13, 23, 30, 0, 0, time.UTC)
	plus2 := time.FixedZone("UTC+2", 2*60*60)

	series := TimeSeries([]model.InventoryItem{sold("Carrot", 0, 4, late)}, plus2)
	require.Len(t, series, 1)
	assert.Equal(t, "2024-06-14", series[0].Date)
}

func TestFilterTimeframe(t *testing.T) {
	recent := sold("Carrot", 0, 1, now.Add(-2*24*time.Hour))
	twoWeeks := sold("Onion", 0, 1, now.Add(-14*24*time.Hour))
	old := sold("Melon", 0, 1, now.AddDate(0, -2, 0))

	legacy := model.InventoryItem{Type: "Potato", Sold: true, Date: now.Add(-time.Hour)}

	sales := []model.InventoryItem{recent, twoWeeks, old, legacy}

	week := FilterTimeframe(sales, model.TimeframeWeek, now)
	assert.ElementsMatch(t, []model.InventoryItem{recent, legacy}, week)

	month := FilterTimeframe(sales, model.TimeframeMonth, now)
	assert.ElementsMatch(t, []model.InventoryItem{recent, twoWeeks, legacy}, month)

	assert.Len(t, FilterTimeframe(sales, model.TimeframeAll, now), 4)
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("")
	require.NoError(t, err)
	assert.Equal(t, model.TimeframeWeek, tf)

	tf, err = ParseTimeframe("Month")
	require.NoError(t, err)
	assert.Equal(t, model.TimeframeMonth, tf)

	_, err = ParseTimeframe("year")
	assert.Error(t, err)
}

func TestTotals(t *testing.T) {
	stock := model.InventoryItem{Type: "Carrot", SalePrice: 7}
	onStall := model.InventoryItem{Type: "Onion", SalePrice: 3, InFarmStall: true}
	sale := sold("Melon", 4, 10, now)

	totals := Totals([]model.InventoryItem{sale}, []model.InventoryItem{stock, onStall, sale})

	assert.Equal(t, model.Totals{
		TotalSales:            10,
		TotalCost:             4,
		Profit:                6,
		ItemsSold:             1,
		CurrentInventoryCount: 2,
		CurrentInventoryValue: 10,
	}, totals)
}

func TestSummarize(t *testing.T) {
	summary := Summarize([]model.StagedItem{
		{Weight: 2, CostPrice: 10, SalePrice: 20},
		{Weight: 1.5, CostPrice: 7.5, SalePrice: 12},
	})

	assert.Equal(t, model.BatchSummary{
		Count:          2,
		TotalWeight:    3.5,
		TotalCost:      17.5,
		TotalSalePrice: 32,
		Profit:         14.5,
	}, summary)

	assert.Equal(t, model.BatchSummary{}, Summarize(nil))
}

func TestBuild(t *testing.T) {
	items := []model.InventoryItem{
		{ID: "s1", Type: "Carrot", Weight: 2, CostPrice: 10, SalePrice: 20},
		{ID: "f1", Type: "Flowers", Weight: 3, SalePrice: 15, InFarmStall: true},
		sold("Melon", 4, 10, now.Add(-time.Hour)),
		sold("Onion", 1, 3, now.AddDate(0, 0, -20)),
	}

	d := Build(items, model.TimeframeWeek, now, time.UTC)

	assert.Equal(t, model.TimeframeWeek, d.Timeframe)
	assert.Equal(t, 1, d.Totals.ItemsSold)
	assert.Equal(t, 10.0, d.Totals.TotalSales)
	assert.Equal(t, 2, d.Totals.CurrentInventoryCount)
	require.Len(t, d.Series, 1)
	require.Len(t, d.TopProducts, 1)
	assert.Equal(t, "Melon", d.TopProducts[0].Name)
	assert.Len(t, d.Segments, 3)
	require.Len(t, d.StorageByType, 1)
	assert.Equal(t, "kg", d.StorageByType[0].Unit)
	require.Len(t, d.StallByType, 1)
	assert.Equal(t, "bunches", d.StallByType[0].Unit)
	require.Len(t, d.FarmStallItems, 1)
	assert.Equal(t, "f1", d.FarmStallItems[0].ID)

	all := Build(items, model.TimeframeAll, now, time.UTC)
	assert.Equal(t, 2, all.Totals.ItemsSold)
}
