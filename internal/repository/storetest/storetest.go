// Package storetest holds the behaviour every repository.Store backend must
// share, run against each backend from its own tests.
package storetest

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/stockledger/internal/domain/stockerr"
	"github.com/mamadbah2/stockledger/internal/repository"
	"github.com/mamadbah2/stockledger/internal/service/ledger"
	"github.com/mamadbah2/stockledger/internal/service/query"
)

const concurrentChanges = 20

// Run exercises store through the ledger and query services.
func Run(t *testing.T, store repository.Store) {
	t.Run("ConcurrentIncreases", func(t *testing.T) { concurrentIncreases(t, store) })
	t.Run("RejectedDecreaseWritesNothing", func(t *testing.T) { rejectedDecrease(t, store) })
	t.Run("DuplicateSKU", func(t *testing.T) { duplicateSKU(t, store) })
}

// uniqueSKU keeps reruns against a persistent database apart.
func uniqueSKU(prefix string) string {
	return prefix + "-" + strings.ToUpper(uuid.NewString()[:8])
}

func concurrentIncreases(t *testing.T, store repository.Store) {
	ctx := context.Background()
	svc := ledger.NewService(store, 10*concurrentChanges, nil)
	reader := query.NewService(store, nil)

	zero := int64(0)
	product, err := svc.CreateProduct(ctx, ledger.CreateProductInput{Name: "Bolt", SKU: uniqueSKU("bolt"), InitialStock: &zero})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, concurrentChanges)
	for i := 0; i < concurrentChanges; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.IncreaseStock(ctx, product.ID, 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	current, entries, err := reader.Snapshot(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(concurrentChanges), current.CurrentStock)
	assert.Equal(t, int64(concurrentChanges), current.TotalIncreased)
	assert.Equal(t, int64(concurrentChanges+1), current.Version)
	require.Len(t, entries, concurrentChanges)

	seen := make(map[int64]bool, len(entries))
	for _, entry := range entries {
		assert.False(t, seen[entry.Sequence], "sequence %d committed twice", entry.Sequence)
		seen[entry.Sequence] = true
		assert.Equal(t, product.ID, entry.ProductID)
	}
}

func rejectedDecrease(t *testing.T, store repository.Store) {
	ctx := context.Background()
	svc := ledger.NewService(store, 0, nil)
	reader := query.NewService(store, nil)

	three := int64(3)
	product, err := svc.CreateProduct(ctx, ledger.CreateProductInput{Name: "Nut", SKU: uniqueSKU("nut"), InitialStock: &three})
	require.NoError(t, err)

	_, err = svc.DecreaseStock(ctx, product.ID, 5)
	var insufficient *stockerr.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	current, entries, err := reader.Snapshot(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), current.CurrentStock)
	assert.Equal(t, int64(1), current.Version)
	assert.Len(t, entries, 1)
}

func duplicateSKU(t *testing.T, store repository.Store) {
	ctx := context.Background()
	svc := ledger.NewService(store, 0, nil)

	sku := uniqueSKU("washer")
	_, err := svc.CreateProduct(ctx, ledger.CreateProductInput{Name: "Washer", SKU: sku})
	require.NoError(t, err)

	_, err = svc.CreateProduct(ctx, ledger.CreateProductInput{Name: "Other washer", SKU: "  " + strings.ToLower(sku)})
	var conflict *stockerr.ConflictError
	assert.ErrorAs(t, err, &conflict)
}
