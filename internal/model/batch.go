package model

import "time"

// BatchState tags the shared batch slot.
type BatchState string

const (
	BatchIdle BatchState = "idle"
	BatchOpen BatchState = "open"
)

// Batch is the descriptor stored in the shared batch slot while an intake is open.
type Batch struct {
	Type              string  `json:"type"`
	CostPerKg         float64 `json:"costPerKg"`
	FromExternalBatch bool    `json:"fromExternalBatch"`
}

// StagedItem is a batch line held locally until the batch is finished.
type StagedItem struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	Weight            float64   `json:"weight"`
	CostPrice         float64   `json:"costPrice"`
	SalePrice         float64   `json:"salePrice"`
	Date              time.Time `json:"date"`
	InFarmStall       bool      `json:"inFarmStall"`
	Sold              bool      `json:"sold"`
	FromExternalBatch bool      `json:"fromExternalBatch"`
}

// Candidate converts the staged line into an AddItem candidate.
func (s StagedItem) Candidate() NewItem {
	return NewItem{
		Type:              s.Type,
		Weight:            s.Weight,
		CostPrice:         s.CostPrice,
		SalePrice:         s.SalePrice,
		Date:              s.Date,
		FromExternalBatch: s.FromExternalBatch,
	}
}

// BatchSummary holds the running totals over the staged items.
type BatchSummary struct {
	Count          int     `json:"count"`
	TotalWeight    float64 `json:"totalWeight"`
	TotalCost      float64 `json:"totalCost"`
	TotalSalePrice float64 `json:"totalSalePrice"`
	Profit         float64 `json:"profit"`
}

// BatchView is the read model of the workflow: slot state, descriptor, staging and totals.
type BatchView struct {
	State   BatchState   `json:"state"`
	Batch   *Batch       `json:"batch,omitempty"`
	Items   []StagedItem `json:"items"`
	Summary BatchSummary `json:"summary"`
}
