// Package memory provides an in-process Store. Every product carries its own
// lock, so mutations of one product never wait on another.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mamadbah2/stockledger/internal/domain/models"
	"github.com/mamadbah2/stockledger/internal/repository"
)

type productEntry struct {
	mu      sync.Mutex
	product models.Product
	ledger  []models.Transaction
}

// Repository implements repository.Store and repository.ReportArchive in memory.
type Repository struct {
	mu       sync.RWMutex
	products map[string]*productEntry
	skus     map[string]string
	reports  []models.StockReport
}

// New returns an empty repository.
func New() *Repository {
	return &Repository{
		products: make(map[string]*productEntry),
		skus:     make(map[string]string),
	}
}

// CreateProduct stores the product and its optional opening entry.
func (r *Repository) CreateProduct(_ context.Context, product models.Product, opening *models.Transaction) (models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.skus[product.SKU]; exists {
		return models.Product{}, repository.ErrDuplicateSKU
	}

	product.ID = uuid.NewString()
	entry := &productEntry{product: product}
	if opening != nil {
		tx := *opening
		tx.ID = uuid.NewString()
		tx.ProductID = product.ID
		tx.Sequence = product.Version
		entry.ledger = append(entry.ledger, tx)
	}

	r.products[product.ID] = entry
	r.skus[product.SKU] = product.ID
	return product, nil
}

// UpdateProduct runs mutate while holding the product's lock.
func (r *Repository) UpdateProduct(_ context.Context, id string, mutate repository.MutateFunc) (models.Product, error) {
	entry, ok := r.lookup(id)
	if !ok {
		return models.Product{}, repository.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	current := entry.product
	next, tx, err := mutate(current)
	if err != nil {
		return models.Product{}, err
	}

	next.ID = current.ID
	next.SKU = current.SKU
	next.CreatedAt = current.CreatedAt
	next.Version = current.Version + 1

	tx.ID = uuid.NewString()
	tx.ProductID = current.ID
	tx.Sequence = next.Version

	entry.product = next
	entry.ledger = append(entry.ledger, tx)
	return next, nil
}

// GetProduct returns a copy of the product.
func (r *Repository) GetProduct(_ context.Context, id string) (models.Product, error) {
	entry, ok := r.lookup(id)
	if !ok {
		return models.Product{}, repository.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.product, nil
}

// ListProducts returns every product ordered by sku.
func (r *Repository) ListProducts(_ context.Context) ([]models.Product, error) {
	r.mu.RLock()
	entries := make([]*productEntry, 0, len(r.products))
	for _, entry := range r.products {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	products := make([]models.Product, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		products = append(products, entry.product)
		entry.mu.Unlock()
	}

	slices.SortFunc(products, func(a, b models.Product) int {
		return strings.Compare(a.SKU, b.SKU)
	})
	return products, nil
}

// ListTransactions returns a copy of the product's ledger, newest first.
func (r *Repository) ListTransactions(_ context.Context, productID string) ([]models.Transaction, error) {
	entry, ok := r.lookup(productID)
	if !ok {
		return nil, repository.ErrNotFound
	}

	entry.mu.Lock()
	ledger := slices.Clone(entry.ledger)
	entry.mu.Unlock()

	if ledger == nil {
		ledger = []models.Transaction{}
	}
	repository.SortNewestFirst(ledger)
	return ledger, nil
}

// SaveStockReport keeps the report for later inspection.
func (r *Repository) SaveStockReport(_ context.Context, report models.StockReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

// Reports returns the archived reports in insertion order.
func (r *Repository) Reports() []models.StockReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.reports)
}

// Close is a no-op.
func (r *Repository) Close(context.Context) error {
	return nil
}

func (r *Repository) lookup(id string) (*productEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.products[id]
	return entry, ok
}
