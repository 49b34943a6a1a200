package models

import "time"

// StockReport is the periodic snapshot of every product and its ledger check.
type StockReport struct {
	GeneratedAt        time.Time         `bson:"generated_at" json:"generated_at"`
	Lines              []StockReportLine `bson:"lines" json:"lines"`
	ProductCount       int               `bson:"product_count" json:"product_count"`
	InconsistentCount  int               `bson:"inconsistent_count" json:"inconsistent_count"`
	LowStockCount      int               `bson:"low_stock_count" json:"low_stock_count"`
	LowStockThreshold  int64             `bson:"low_stock_threshold" json:"low_stock_threshold"`
	TotalUnitsOnHand   int64             `bson:"total_units_on_hand" json:"total_units_on_hand"`
	TotalLedgerEntries int               `bson:"total_ledger_entries" json:"total_ledger_entries"`
}

// StockReportLine captures one product in a StockReport.
type StockReportLine struct {
	ProductID      string `bson:"product_id" json:"product_id"`
	Name           string `bson:"name" json:"name"`
	SKU            string `bson:"sku" json:"sku"`
	CurrentStock   int64  `bson:"current_stock" json:"current_stock"`
	TotalIncreased int64  `bson:"total_increased" json:"total_increased"`
	TotalDecreased int64  `bson:"total_decreased" json:"total_decreased"`
	LedgerIncrease int64  `bson:"ledger_increase" json:"ledger_increase"`
	LedgerDecrease int64  `bson:"ledger_decrease" json:"ledger_decrease"`
	LedgerEntries  int    `bson:"ledger_entries" json:"ledger_entries"`
	Consistent     bool   `bson:"consistent" json:"consistent"`
	LowStock       bool   `bson:"low_stock" json:"low_stock"`
}
