// Package report derives dashboard figures from inventory snapshots.
//
// Every function is pure: it reads the items it is given and never touches the store.
// Money is accumulated as decimals so long series of cents do not drift.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"farmstall/internal/model"
)

// DefaultTopN is the length of the top products leaderboard.
const DefaultTopN = 5

// total accumulates float amounts without binary rounding drift.
type total struct {
	d decimal.Decimal
}

func (t *total) add(v float64) {
	t.d = t.d.Add(decimal.NewFromFloat(v))
}

func (t *total) sub(v float64) {
	t.d = t.d.Sub(decimal.NewFromFloat(v))
}

func (t total) value() float64 {
	return t.d.InexactFloat64()
}

// ParseTimeframe reads a timeframe name. An empty string selects the week.
func ParseTimeframe(s string) (model.Timeframe, error) {
	switch model.Timeframe(strings.ToLower(strings.TrimSpace(s))) {
	case "", model.TimeframeWeek:
		return model.TimeframeWeek, nil
	case model.TimeframeMonth:
		return model.TimeframeMonth, nil
	case model.TimeframeAll:
		return model.TimeframeAll, nil
	default:
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
}

// SaleTime is when an item was sold. Records written before soldDate existed fall back to date.
func SaleTime(item model.InventoryItem) time.Time {
	if item.SoldDate != nil {
		return *item.SoldDate
	}
	return item.Date
}

// FilterTimeframe keeps the sales inside the window ending at now.
// The week is the last seven days; the month starts at local midnight one calendar month ago.
func FilterTimeframe(sales []model.InventoryItem, tf model.Timeframe, now time.Time) []model.InventoryItem {
	var since time.Time
	switch tf {
	case model.TimeframeWeek:
		since = now.Add(-7 * 24 * time.Hour)
	case model.TimeframeMonth:
		y, m, d := now.Date()
		since = time.Date(y, m-1, d, 0, 0, 0, 0, now.Location())
	default:
		return append([]model.InventoryItem(nil), sales...)
	}

	out := make([]model.InventoryItem, 0, len(sales))
	for _, item := range sales {
		if !SaleTime(item).Before(since) {
			out = append(out, item)
		}
	}
	return out
}

// GroupByType sums count, weight and sale value per type, sorted by type name.
// Flower rows are measured in bunches, everything else in kilograms.
func GroupByType(items []model.InventoryItem) []model.TypeSummary {
	type group struct {
		count  int
		weight total
		value  total
	}

	groups := make(map[string]*group)
	for _, item := range items {
		g, ok := groups[item.Type]
		if !ok {
			g = &group{}
			groups[item.Type] = g
		}
		g.count++
		g.weight.add(item.Weight)
		g.value.add(item.SalePrice)
	}

	out := make([]model.TypeSummary, 0, len(groups))
	for t, g := range groups {
		out = append(out, model.TypeSummary{
			Type:        t,
			Count:       g.count,
			TotalWeight: g.weight.value(),
			TotalValue:  g.value.value(),
			Unit:        model.Unit(t),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// TimeSeries sums sales and profit per calendar day of the sale time in loc.
// Days appear in order of their first sale in the input; days without sales are omitted.
func TimeSeries(sales []model.InventoryItem, loc *time.Location) []model.DailySales {
	if loc == nil {
		loc = time.Local
	}

	type day struct {
		sales  total
		profit total
	}

	var order []string
	days := make(map[string]*day)
	for _, item := range sales {
		key := SaleTime(item).In(loc).Format(time.DateOnly)
		d, ok := days[key]
		if !ok {
			d = &day{}
			days[key] = d
			order = append(order, key)
		}
		d.sales.add(item.SalePrice)
		d.profit.add(item.SalePrice)
		d.profit.sub(item.CostPrice)
	}

	out := make([]model.DailySales, 0, len(order))
	for _, key := range order {
		d := days[key]
		out = append(out, model.DailySales{Date: key, Sales: d.sales.value(), Profit: d.profit.value()})
	}
	return out
}

// CategoryRanking ranks sales by type on profit, highest first, and keeps the top n.
// A non-positive n keeps every type.
func CategoryRanking(sales []model.InventoryItem, n int) []model.Ranking {
	out := rank(sales, func(item model.InventoryItem) string { return item.Type }, nil)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Profit > out[j].Profit })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Segment names the market segment of a sale. Flowers take precedence over the
// external flag, so external flowers still count as cut flowers.
func Segment(item model.InventoryItem) string {
	switch {
	case item.IsFlowers():
		return model.SegmentCutFlowers
	case item.FromExternalBatch:
		return model.SegmentExternalProduce
	default:
		return model.SegmentFeelGoodFarm
	}
}

// SegmentRanking partitions sales into the three market segments, ranked by profit.
// All three rows are always present.
func SegmentRanking(sales []model.InventoryItem) []model.Ranking {
	seed := []string{model.SegmentCutFlowers, model.SegmentExternalProduce, model.SegmentFeelGoodFarm}
	out := rank(sales, Segment, seed)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Profit > out[j].Profit })
	return out
}

func rank(sales []model.InventoryItem, key func(model.InventoryItem) string, seed []string) []model.Ranking {
	type bucket struct {
		sales  total
		profit total
		count  int
	}

	var order []string
	buckets := make(map[string]*bucket)
	get := func(name string) *bucket {
		b, ok := buckets[name]
		if !ok {
			b = &bucket{}
			buckets[name] = b
			order = append(order, name)
		}
		return b
	}
	for _, name := range seed {
		get(name)
	}

	for _, item := range sales {
		b := get(key(item))
		b.sales.add(item.SalePrice)
		b.profit.add(item.SalePrice)
		b.profit.sub(item.CostPrice)
		b.count++
	}

	out := make([]model.Ranking, 0, len(order))
	for _, name := range order {
		b := buckets[name]
		out = append(out, model.Ranking{
			Name:   name,
			Sales:  b.sales.value(),
			Profit: b.profit.value(),
			Count:  b.count,
		})
	}
	return out
}

// Totals computes the headline figures: sale totals over sales and the
// current inventory over every unsold item in items.
func Totals(sales, items []model.InventoryItem) model.Totals {
	var salesTotal, costTotal, stock total
	for _, item := range sales {
		salesTotal.add(item.SalePrice)
		costTotal.add(item.CostPrice)
	}

	current := 0
	for _, item := range items {
		if item.Sold {
			continue
		}
		current++
		stock.add(item.SalePrice)
	}

	profit := total{d: salesTotal.d.Sub(costTotal.d)}
	return model.Totals{
		TotalSales:            salesTotal.value(),
		TotalCost:             costTotal.value(),
		Profit:                profit.value(),
		ItemsSold:             len(sales),
		CurrentInventoryCount: current,
		CurrentInventoryValue: stock.value(),
	}
}

// Summarize totals the staged lines of an open batch.
func Summarize(staged []model.StagedItem) model.BatchSummary {
	var weight, cost, sale total
	for _, item := range staged {
		weight.add(item.Weight)
		cost.add(item.CostPrice)
		sale.add(item.SalePrice)
	}

	profit := total{d: sale.d.Sub(cost.d)}
	return model.BatchSummary{
		Count:          len(staged),
		TotalWeight:    weight.value(),
		TotalCost:      cost.value(),
		TotalSalePrice: sale.value(),
		Profit:         profit.value(),
	}
}

// Build assembles the dashboard from a full snapshot of items.
func Build(items []model.InventoryItem, tf model.Timeframe, now time.Time, loc *time.Location) model.Dashboard {
	var sales, storage, stall []model.InventoryItem
	for _, item := range items {
		switch item.Location() {
		case model.LocationSold:
			sales = append(sales, item)
		case model.LocationFarmStall:
			stall = append(stall, item)
		default:
			storage = append(storage, item)
		}
	}

	windowed := FilterTimeframe(sales, tf, now)
	if stall == nil {
		stall = []model.InventoryItem{}
	}

	return model.Dashboard{
		Timeframe:      tf,
		Totals:         Totals(windowed, items),
		Series:         TimeSeries(windowed, loc),
		TopProducts:    CategoryRanking(windowed, DefaultTopN),
		Segments:       SegmentRanking(windowed),
		StorageByType:  GroupByType(storage),
		StallByType:    GroupByType(stall),
		FarmStallItems: stall,
	}
}
