package model

import (
	"strings"
	"time"
)

// FlowersPrefix marks floral types; their weight field counts bunches instead of kilograms.
const FlowersPrefix = "Flowers"

// ProduceTypes lists the produce labels offered when a batch is started.
// "Other" lets the operator type a custom label.
var ProduceTypes = []string{"Pumpkin", "Melon", "Potato", "Carrot", "Onion", "Tomato", "Cucumber", "Cabbage", "Other"}

// InventoryItem is one weighed and priced lot of produce, or one bunch count of flowers.
type InventoryItem struct {
	ID                string     `json:"id"`
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

// IsFlowers reports whether the item is measured in bunches.
func (i InventoryItem) IsFlowers() bool {
	return IsFlowerType(i.Type)
}

// Profit is the sale price less the cost price.
func (i InventoryItem) Profit() float64 {
	return i.SalePrice - i.CostPrice
}

// UnitCost returns costPrice per unit of weight, or zero for an empty weight.
func (i InventoryItem) UnitCost() float64 {
	if i.Weight == 0 {
		return 0
	}
	return i.CostPrice / i.Weight
}

// Location names where the item currently is in its lifecycle.
func (i InventoryItem) Location() Location {
	switch {
	case i.Sold:
		return LocationSold
	case i.InFarmStall:
		return LocationFarmStall
	default:
		return LocationStorage
	}
}

// NewItem is the candidate accepted by AddItem; the store assigns the id.
type NewItem struct {
	Type              string    `json:"type"`
	Weight            float64   `json:"weight"`
	CostPrice         float64   `json:"costPrice"`
	SalePrice         float64   `json:"salePrice"`
	Date              time.Time `json:"date"`
	FromExternalBatch bool      `json:"fromExternalBatch"`
}

// ItemEdit carries the editable fields of an unsold item. Nil fields are left unchanged.
type ItemEdit struct {
	Type      *string  `json:"type,omitempty"`
	Weight    *float64 `json:"weight,omitempty"`
	SalePrice *float64 `json:"salePrice,omitempty"`
}

// Location is one of the three lifecycle states of an item.
type Location string

const (
	LocationStorage   Location = "storage"
	LocationFarmStall Location = "stall"
	LocationSold      Location = "sold"
)

// IsFlowerType reports whether a type label switches units to bunches.
func IsFlowerType(t string) bool {
	return strings.HasPrefix(t, FlowersPrefix)
}

// Unit returns the measurement unit for a type label.
func Unit(t string) string {
	if IsFlowerType(t) {
		return "bunches"
	}
	return "kg"
}
