package models

import "time"

// MovementType enumerates the directions a stock movement can take.
type MovementType string

const (
	MovementIncrease MovementType = "INCREASE"
	MovementDecrease MovementType = "DECREASE"
)

// Valid reports whether t is one of the known directions.
func (t MovementType) Valid() bool {
	return t == MovementIncrease || t == MovementDecrease
}

// Transaction is an append-only ledger entry documenting one stock movement.
type Transaction struct {
	ID        string       `json:"-"`
	ProductID string       `json:"productId"`
	Type      MovementType `json:"type"`
	Quantity  int64        `json:"quantity"`
	Timestamp time.Time    `json:"timestamp"`
	// Sequence is the product version the entry was committed with.
	Sequence int64 `json:"-"`
}

// HistoryEntry is a transaction as exposed by the history endpoint.
type HistoryEntry struct {
	Type      MovementType `json:"type"`
	Quantity  int64        `json:"quantity"`
	Timestamp time.Time    `json:"timestamp"`
}

// Entry strips identifiers from the transaction.
func (t Transaction) Entry() HistoryEntry {
	return HistoryEntry{Type: t.Type, Quantity: t.Quantity, Timestamp: t.Timestamp}
}
