package mongodb

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mamadbah2/stockledger/internal/domain/models"
)

func TestProductDocumentRoundTrip(t *testing.T) {
	id := primitive.NewObjectID()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	product := models.Product{
		Name:           "Widget",
		SKU:            "ABC-1",
		CurrentStock:   7,
		TotalIncreased: 10,
		TotalDecreased: 3,
		Version:        4,
		CreatedAt:      now,
		UpdatedAt:      now.Add(time.Minute),
	}

	got := newProductDocument(id, product).toModel()

	product.ID = id.Hex()
	assert.Equal(t, product, got)
}

func TestTransactionDocumentCarriesSequence(t *testing.T) {
	productID := primitive.NewObjectID()
	entry := models.Transaction{
		Type:      models.MovementDecrease,
		Quantity:  2,
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Sequence:  9,
	}

	got := newTransactionDocument(productID, entry).toModel()

	assert.Equal(t, productID.Hex(), got.ProductID)
	assert.Equal(t, models.MovementDecrease, got.Type)
	assert.Equal(t, int64(2), got.Quantity)
	assert.Equal(t, int64(9), got.Sequence)
	assert.NotEmpty(t, got.ID)
}

func TestCommitUnknown(t *testing.T) {
	labeled := mongo.CommandError{Message: "commit failed", Labels: []string{unknownCommitLabel}}

	assert.True(t, commitUnknown(labeled, false))
	assert.True(t, commitUnknown(labeled, true))
	assert.True(t, commitUnknown(context.DeadlineExceeded, true))
	assert.True(t, commitUnknown(fmt.Errorf("commit: %w", context.Canceled), true))
	assert.False(t, commitUnknown(mongo.CommandError{Message: "write conflict", Labels: []string{"TransientTransactionError"}}, true))
	assert.False(t, commitUnknown(errors.New("boom"), true))
}

func TestTimeoutBeforeCommitIsNotAmbiguous(t *testing.T) {
	// A deadline hit while loading the product leaves nothing written.
	loadErr := fmt.Errorf("failed to load product: %w", context.DeadlineExceeded)

	assert.False(t, commitUnknown(loadErr, false))
	assert.False(t, commitUnknown(context.Canceled, false))
}
