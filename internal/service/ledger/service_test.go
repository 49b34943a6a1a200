package ledger

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/stockledger/internal/domain/models"
	"github.com/mamadbah2/stockledger/internal/domain/stockerr"
	"github.com/mamadbah2/stockledger/internal/repository"
	"github.com/mamadbah2/stockledger/internal/repository/memory"
	"github.com/mamadbah2/stockledger/internal/service/query"
)

func stock(n int64) *int64 { return &n }

func newTestServices(t *testing.T) (*Service, *query.Service) {
	t.Helper()
	store := memory.New()
	return NewService(store, 0, nil), query.NewService(store, nil)
}

// assertLedgerConsistent checks the stock invariants against the ledger.
func assertLedgerConsistent(t *testing.T, q *query.Service, productID string) {
	t.Helper()
	ctx := context.Background()

	summary, err := q.GetSummary(ctx, productID)
	require.NoError(t, err)
	ledger, err := q.Ledger(ctx, productID)
	require.NoError(t, err)

	var increased, decreased int64
	for _, entry := range ledger {
		require.GreaterOrEqual(t, entry.Quantity, int64(1))
		switch entry.Type {
		case models.MovementIncrease:
			increased += entry.Quantity
		case models.MovementDecrease:
			decreased += entry.Quantity
		default:
			t.Fatalf("unexpected movement type %q", entry.Type)
		}
	}

	assert.GreaterOrEqual(t, summary.CurrentStock, int64(0))
	assert.Equal(t, summary.TotalIncreased-summary.TotalDecreased, summary.CurrentStock)
	assert.Equal(t, increased, summary.TotalIncreased)
	assert.Equal(t, decreased, summary.TotalDecreased)
}

func TestStockLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, q := newTestServices(t)

	// Create with an opening balance.
	created, err := svc.CreateProduct(ctx, CreateProductInput{Name: "Widget", SKU: "abc-1", InitialStock: stock(10)})
	require.NoError(t, err)
	assert.Equal(t, "ABC-1", created.SKU)

	summary, err := q.GetSummary(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), summary.CurrentStock)
	assert.Equal(t, int64(10), summary.TotalIncreased)
	assert.Equal(t, int64(0), summary.TotalDecreased)

	history, err := q.GetHistory(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.MovementIncrease, history[0].Type)
	assert.Equal(t, int64(10), history[0].Quantity)

	// Increase.
	updated, err := svc.IncreaseStock(ctx, created.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), updated.CurrentStock)
	assert.Equal(t, int64(15), updated.TotalIncreased)

	history, err = q.GetHistory(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.HistoryEntry{Type: models.MovementIncrease, Quantity: 5, Timestamp: history[0].Timestamp}, history[0])
	assert.Equal(t, int64(10), history[1].Quantity)

	// Decrease beyond stock is rejected without side effects.
	_, err = svc.DecreaseStock(ctx, created.ID, 20)
	var insufficient *stockerr.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(15), insufficient.Current)
	assert.Equal(t, int64(20), insufficient.Requested)

	after, err := q.GetSummary(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, summary.CreatedAt, after.CreatedAt)
	assert.Equal(t, int64(15), after.CurrentStock)
	unchanged, err := q.GetHistory(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, history, unchanged)

	// Draining to exactly zero is allowed, one more unit is not.
	drained, err := svc.DecreaseStock(ctx, created.ID, 15)
	require.NoError(t, err)
	assert.Equal(t, int64(0), drained.CurrentStock)
	assert.Equal(t, int64(15), drained.TotalDecreased)

	_, err = svc.DecreaseStock(ctx, created.ID, 1)
	assert.Equal(t, stockerr.KindInsufficientStock, stockerr.KindOf(err))

	assertLedgerConsistent(t, q, created.ID)
}

func TestCreateProductDuplicateSKUDifferentCase(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestServices(t)

	_, err := svc.CreateProduct(ctx, CreateProductInput{Name: "Widget", SKU: "abc-1", InitialStock: stock(10)})
	require.NoError(t, err)

	_, err = svc.CreateProduct(ctx, CreateProductInput{Name: "Other", SKU: "  ABC-1 "})
	var conflict *stockerr.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "ABC-1", conflict.SKU)
}

func TestCreateProductWithoutInitialStockHasNoLedgerEntry(t *testing.T) {
	ctx := context.Background()
	svc, q := newTestServices(t)

	for _, in := range []CreateProductInput{
		{Name: "Bolt", SKU: "b-1"},
		{Name: "Nut", SKU: "n-1", InitialStock: stock(0)},
	} {
		created, err := svc.CreateProduct(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, int64(0), created.CurrentStock)

		history, err := q.GetHistory(ctx, created.ID)
		require.NoError(t, err)
		assert.NotNil(t, history)
		assert.Empty(t, history)
	}
}

func TestCreateProductTrimsName(t *testing.T) {
	svc, _ := newTestServices(t)

	created, err := svc.CreateProduct(context.Background(), CreateProductInput{Name: "  Widget ", SKU: "w"})
	require.NoError(t, err)
	assert.Equal(t, "Widget", created.Name)
	assert.Equal(t, "W", created.SKU)
}

func TestCreateProductValidation(t *testing.T) {
	cases := map[string]struct {
		in    CreateProductInput
		field string
	}{
		"missing name":     {CreateProductInput{SKU: "abc"}, "name"},
		"blank name":       {CreateProductInput{Name: "   ", SKU: "abc"}, "name"},
		"missing sku":      {CreateProductInput{Name: "Widget"}, "sku"},
		"blank sku":        {CreateProductInput{Name: "Widget", SKU: " \t"}, "sku"},
		"negative initial": {CreateProductInput{Name: "Widget", SKU: "abc", InitialStock: stock(-1)}, "initialStock"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, q := newTestServices(t)
			_, err := svc.CreateProduct(context.Background(), tc.in)

			var invalid *stockerr.InvalidArgumentError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.field, invalid.Field)

			products, err := q.ListProducts(context.Background())
			require.NoError(t, err)
			assert.Empty(t, products)
		})
	}
}

func TestApplyStockChangeValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestServices(t)
	created, err := svc.CreateProduct(ctx, CreateProductInput{Name: "Widget", SKU: "abc", InitialStock: stock(3)})
	require.NoError(t, err)

	cases := map[string]struct {
		id        string
		direction models.MovementType
		quantity  int64
		field     string
	}{
		"zero quantity":     {created.ID, models.MovementIncrease, 0, "quantity"},
		"negative quantity": {created.ID, models.MovementDecrease, -4, "quantity"},
		"empty product id":  {"", models.MovementIncrease, 1, "productId"},
		"unknown direction": {created.ID, models.MovementType("MOVE"), 1, "type"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ApplyStockChange(ctx, tc.id, tc.direction, tc.quantity)
			var invalid *stockerr.InvalidArgumentError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.field, invalid.Field)
		})
	}
}

func TestApplyStockChangeUnknownProduct(t *testing.T) {
	ctx := context.Background()
	svc, q := newTestServices(t)

	_, err := svc.IncreaseStock(ctx, "does-not-exist", 1)
	var notFound *stockerr.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "does-not-exist", notFound.ProductID)

	_, err = q.GetSummary(ctx, "does-not-exist")
	assert.Equal(t, stockerr.KindNotFound, stockerr.KindOf(err))

	_, err = q.GetHistory(ctx, "does-not-exist")
	assert.Equal(t, stockerr.KindNotFound, stockerr.KindOf(err))
}

func TestIncreaseOverflowIsRejected(t *testing.T) {
	ctx := context.Background()
	svc, q := newTestServices(t)
	created, err := svc.CreateProduct(ctx, CreateProductInput{Name: "Widget", SKU: "abc", InitialStock: stock(math.MaxInt64 - 1)})
	require.NoError(t, err)

	_, err = svc.IncreaseStock(ctx, created.ID, 2)
	assert.Equal(t, stockerr.KindInvalidArgument, stockerr.KindOf(err))
	assertLedgerConsistent(t, q, created.ID)
}

func TestReadsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, q := newTestServices(t)
	created, err := svc.CreateProduct(ctx, CreateProductInput{Name: "Widget", SKU: "abc", InitialStock: stock(4)})
	require.NoError(t, err)
	_, err = svc.DecreaseStock(ctx, created.ID, 1)
	require.NoError(t, err)

	first, err := q.GetSummary(ctx, created.ID)
	require.NoError(t, err)
	second, err := q.GetSummary(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	h1, err := q.GetHistory(ctx, created.ID)
	require.NoError(t, err)
	h2, err := q.GetHistory(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHistoryOrderIsStableForEqualTimestamps(t *testing.T) {
	ctx := context.Background()
	svc, q := newTestServices(t)
	frozen := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return frozen }

	created, err := svc.CreateProduct(ctx, CreateProductInput{Name: "Widget", SKU: "abc", InitialStock: stock(1)})
	require.NoError(t, err)
	for _, qty := range []int64{2, 3, 4} {
		_, err := svc.IncreaseStock(ctx, created.ID, qty)
		require.NoError(t, err)
	}

	history, err := q.GetHistory(ctx, created.ID)
	require.NoError(t, err)
	got := make([]int64, 0, len(history))
	for _, entry := range history {
		got = append(got, entry.Quantity)
	}
	assert.Equal(t, []int64{4, 3, 2, 1}, got)
}

func TestTotalsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestServices(t)
	created, err := svc.CreateProduct(ctx, CreateProductInput{Name: "Widget", SKU: "abc", InitialStock: stock(5)})
	require.NoError(t, err)

	prev := created
	ops := []struct {
		direction models.MovementType
		quantity  int64
	}{
		{models.MovementDecrease, 2},
		{models.MovementIncrease, 7},
		{models.MovementDecrease, 100},
		{models.MovementDecrease, 10},
		{models.MovementIncrease, 1},
	}
	for _, op := range ops {
		next, err := svc.ApplyStockChange(ctx, created.ID, op.direction, op.quantity)
		if err != nil {
			continue
		}
		assert.GreaterOrEqual(t, next.TotalIncreased, prev.TotalIncreased)
		assert.GreaterOrEqual(t, next.TotalDecreased, prev.TotalDecreased)
		assert.Greater(t, next.Version, prev.Version)
		prev = next
	}
	assert.Equal(t, int64(1), prev.CurrentStock)
}

func TestConcurrentStockChangesOnOneProduct(t *testing.T) {
	ctx := context.Background()
	svc, q := newTestServices(t)
	const initial = 50
	created, err := svc.CreateProduct(ctx, CreateProductInput{Name: "Widget", SKU: "abc", InitialStock: stock(initial)})
	require.NoError(t, err)

	var (
		wg               sync.WaitGroup
		admitted         atomic.Int64
		increased        atomic.Int64
		decreased        atomic.Int64
		unexpectedErrors atomic.Int64
	)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		direction := models.MovementIncrease
		if i%2 == 0 {
			direction = models.MovementDecrease
		}
		quantity := int64(rng.Intn(10) + 1)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyStockChange(ctx, created.ID, direction, quantity)
			switch {
			case err == nil:
				admitted.Add(1)
				if direction == models.MovementIncrease {
					increased.Add(quantity)
				} else {
					decreased.Add(quantity)
				}
			case stockerr.KindOf(err) == stockerr.KindInsufficientStock:
			default:
				unexpectedErrors.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Zero(t, unexpectedErrors.Load())

	summary, err := q.GetSummary(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, initial+increased.Load()-decreased.Load(), summary.CurrentStock)

	history, err := q.GetHistory(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, history, int(admitted.Load())+1)

	assertLedgerConsistent(t, q, created.ID)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateProduct(ctx context.Context, product models.Product, opening *models.Transaction) (models.Product, error) {
	args := m.Called(ctx, product, opening)
	return args.Get(0).(models.Product), args.Error(1)
}

func (m *mockStore) UpdateProduct(ctx context.Context, id string, mutate repository.MutateFunc) (models.Product, error) {
	args := m.Called(ctx, id, mutate)
	return args.Get(0).(models.Product), args.Error(1)
}

func (m *mockStore) GetProduct(ctx context.Context, id string) (models.Product, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Product), args.Error(1)
}

func (m *mockStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Product), args.Error(1)
}

func (m *mockStore) ListTransactions(ctx context.Context, productID string) ([]models.Transaction, error) {
	args := m.Called(ctx, productID)
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *mockStore) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestVersionConflictIsRetried(t *testing.T) {
	// Arrange
	store := new(mockStore)
	updated := models.Product{ID: "p1", CurrentStock: 3, TotalIncreased: 3, Version: 3}
	store.On("UpdateProduct", mock.Anything, "p1", mock.Anything).Return(models.Product{}, repository.ErrVersionConflict).Once()
	store.On("UpdateProduct", mock.Anything, "p1", mock.Anything).Return(updated, nil).Once()
	svc := NewService(store, 3, nil)

	// Act
	got, err := svc.IncreaseStock(context.Background(), "p1", 1)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, updated, got)
	store.AssertNumberOfCalls(t, "UpdateProduct", 2)
}

func TestVersionConflictGivesUpAfterMaxAttempts(t *testing.T) {
	store := new(mockStore)
	store.On("UpdateProduct", mock.Anything, "p1", mock.Anything).Return(models.Product{}, repository.ErrVersionConflict)
	svc := NewService(store, 3, nil)

	_, err := svc.DecreaseStock(context.Background(), "p1", 1)

	var failure *stockerr.StoreFailureError
	require.ErrorAs(t, err, &failure)
	assert.False(t, failure.Ambiguous)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
	store.AssertNumberOfCalls(t, "UpdateProduct", 3)
}

func TestAmbiguousCommitIsNotRetried(t *testing.T) {
	store := new(mockStore)
	store.On("UpdateProduct", mock.Anything, "p1", mock.Anything).Return(models.Product{}, repository.ErrCommitUnknown)
	svc := NewService(store, 5, nil)

	_, err := svc.IncreaseStock(context.Background(), "p1", 1)

	var failure *stockerr.StoreFailureError
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.Ambiguous)
	store.AssertNumberOfCalls(t, "UpdateProduct", 1)
}

func TestCreateProductPassesOpeningEntryToStore(t *testing.T) {
	store := new(mockStore)
	store.On("CreateProduct", mock.Anything, mock.Anything, mock.Anything).Return(models.Product{ID: "p1", SKU: "ABC-1"}, nil)
	svc := NewService(store, 0, nil)
	frozen := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return frozen }

	_, err := svc.CreateProduct(context.Background(), CreateProductInput{Name: "Widget", SKU: "abc-1", InitialStock: stock(10)})
	require.NoError(t, err)

	call := store.Calls[0]
	product := call.Arguments.Get(1).(models.Product)
	opening := call.Arguments.Get(2).(*models.Transaction)
	assert.Equal(t, models.Product{
		Name:           "Widget",
		SKU:            "ABC-1",
		CurrentStock:   10,
		TotalIncreased: 10,
		Version:        1,
		CreatedAt:      frozen,
		UpdatedAt:      frozen,
	}, product)
	require.NotNil(t, opening)
	assert.Equal(t, models.Transaction{Type: models.MovementIncrease, Quantity: 10, Timestamp: frozen}, *opening)
}

func TestStoreErrorsAreNormalized(t *testing.T) {
	store := new(mockStore)
	store.On("CreateProduct", mock.Anything, mock.Anything, mock.Anything).Return(models.Product{}, repository.ErrDuplicateSKU).Once()
	store.On("UpdateProduct", mock.Anything, "gone", mock.Anything).Return(models.Product{}, repository.ErrNotFound).Once()
	svc := NewService(store, 0, nil)

	_, err := svc.CreateProduct(context.Background(), CreateProductInput{Name: "Widget", SKU: "abc"})
	assert.Equal(t, stockerr.KindConflict, stockerr.KindOf(err))

	_, err = svc.IncreaseStock(context.Background(), "gone", 1)
	assert.Equal(t, stockerr.KindNotFound, stockerr.KindOf(err))
}
