package models

import (
	"strings"
	"time"
)

// Product is the materialized stock state of a single sku. Its totals are a
// cache of the product's ledger and are only changed together with it.
type Product struct {
	ID             string    `json:"_id"`
	Name           string    `json:"name"`
	SKU            string    `json:"sku"`
	CurrentStock   int64     `json:"currentStock"`
	TotalIncreased int64     `json:"totalIncreased"`
	TotalDecreased int64     `json:"totalDecreased"`
	Version        int64     `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Consistent reports whether the stock figures agree with each other.
func (p Product) Consistent() bool {
	return p.CurrentStock >= 0 &&
		p.TotalIncreased >= 0 &&
		p.TotalDecreased >= 0 &&
		p.CurrentStock == p.TotalIncreased-p.TotalDecreased
}

// Summary projects the product into its read model.
func (p Product) Summary() ProductSummary {
	return ProductSummary{
		ID:             p.ID,
		Name:           p.Name,
		SKU:            p.SKU,
		CurrentStock:   p.CurrentStock,
		TotalIncreased: p.TotalIncreased,
		TotalDecreased: p.TotalDecreased,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// ProductSummary is the read-only view returned by the query side.
type ProductSummary struct {
	ID             string    `json:"_id"`
	Name           string    `json:"name"`
	SKU            string    `json:"sku"`
	CurrentStock   int64     `json:"currentStock"`
	TotalIncreased int64     `json:"totalIncreased"`
	TotalDecreased int64     `json:"totalDecreased"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NormalizeSKU returns the canonical form used for storage and uniqueness checks.
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}
