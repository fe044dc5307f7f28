package model

// TypeSummary is one row of the group-by-type summary.
type TypeSummary struct {
	Type        string  `json:"type"`
	Count       int     `json:"count"`
	TotalWeight float64 `json:"totalWeight"`
	TotalValue  float64 `json:"totalValue"`
	Unit        string  `json:"unit"`
}

// DailySales is one point of the sales time series.
type DailySales struct {
	Date   string  `json:"date"`
	Sales  float64 `json:"sales"`
	Profit float64 `json:"profit"`
}

// Ranking is one row of a category or market-segment ranking.
type Ranking struct {
	Name   string  `json:"name"`
	Sales  float64 `json:"sales"`
	Profit float64 `json:"profit"`
	Count  int     `json:"count"`
}

// Totals are the headline dashboard figures.
type Totals struct {
	TotalSales            float64 `json:"totalSales"`
	TotalCost             float64 `json:"totalCost"`
	Profit                float64 `json:"profit"`
	ItemsSold             int     `json:"itemsSold"`
	CurrentInventoryCount int     `json:"currentInventoryCount"`
	CurrentInventoryValue float64 `json:"currentInventoryValue"`
}

// Timeframe selects the window of sales shown on the dashboard.
type Timeframe string

const (
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
	TimeframeAll   Timeframe = "all"
)

// Market segment names.
const (
	SegmentCutFlowers      = "Cut Flowers"
	SegmentExternalProduce = "External Produce"
	SegmentFeelGoodFarm    = "Feel Good Farm"
)

// Dashboard is the full dashboard view model.
type Dashboard struct {
	Timeframe      Timeframe       `json:"timeframe"`
	Totals         Totals          `json:"totals"`
	Series         []DailySales    `json:"series"`
	TopProducts    []Ranking       `json:"topProducts"`
	Segments       []Ranking       `json:"segments"`
	StorageByType  []TypeSummary   `json:"storageByType"`
	StallByType    []TypeSummary   `json:"stallByType"`
	FarmStallItems []InventoryItem `json:"farmStallItems"`
}
