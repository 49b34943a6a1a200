package repository

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/mamadbah2/stockledger/internal/domain/models"
)

var (
	// ErrNotFound indicates the referenced product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrDuplicateSKU indicates another product already owns the normalized sku.
	ErrDuplicateSKU = errors.New("duplicate sku")
	// ErrVersionConflict indicates the product changed between read and write.
	ErrVersionConflict = errors.New("version conflict")
	// ErrCommitUnknown indicates the store could not confirm whether the write landed.
	ErrCommitUnknown = errors.New("commit outcome unknown")
)

// MutateFunc computes the next product state and the ledger entry documenting
// it from the current state. Stores may invoke it more than once, so it must
// not have side effects. Returning an error aborts the update.
type MutateFunc func(current models.Product) (models.Product, models.Transaction, error)

// Store is the persistence port used by the ledger and query services.
type Store interface {
	// CreateProduct inserts the product and, when opening is non-nil, its
	// first ledger entry as one unit. The store assigns identifiers.
	CreateProduct(ctx context.Context, product models.Product, opening *models.Transaction) (models.Product, error)
	// UpdateProduct applies mutate to the product and appends the returned
	// entry atomically. The store sets the entry's product id and sequence.
	UpdateProduct(ctx context.Context, id string, mutate MutateFunc) (models.Product, error)
	GetProduct(ctx context.Context, id string) (models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	// ListTransactions returns the product's ledger, newest first.
	ListTransactions(ctx context.Context, productID string) ([]models.Transaction, error)
	Close(ctx context.Context) error
}

// ReportArchive persists generated stock reports.
type ReportArchive interface {
	SaveStockReport(ctx context.Context, report models.StockReport) error
}

// SortNewestFirst orders a ledger by timestamp descending, breaking ties by
// sequence descending.
func SortNewestFirst(entries []models.Transaction) {
	slices.SortFunc(entries, func(a, b models.Transaction) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.Sequence, a.Sequence)
	})
}
