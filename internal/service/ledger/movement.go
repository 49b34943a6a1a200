package ledger

import (
	"math"
	"strings"
	"time"

	"github.com/mamadbah2/stockledger/internal/domain/models"
	"github.com/mamadbah2/stockledger/internal/domain/stockerr"
)

// CreateProductInput carries the fields accepted when creating a product.
// A nil InitialStock means zero.
type CreateProductInput struct {
	Name         string
	SKU          string
	InitialStock *int64
}

func (in CreateProductInput) normalize() (name, sku string, initial int64, err error) {
	name = strings.TrimSpace(in.Name)
	sku = models.NormalizeSKU(in.SKU)

	if name == "" {
		return "", "", 0, stockerr.InvalidArgument("name", "name is required")
	}
	if sku == "" {
		return "", "", 0, stockerr.InvalidArgument("sku", "sku is required")
	}
	if in.InitialStock != nil {
		if *in.InitialStock < 0 {
			return "", "", 0, stockerr.InvalidArgument("initialStock", "initial stock must be greater than or equal to 0")
		}
		initial = *in.InitialStock
	}
	return name, sku, initial, nil
}

func validateChange(productID string, direction models.MovementType, quantity int64) error {
	if strings.TrimSpace(productID) == "" {
		return stockerr.InvalidArgument("productId", "product id is required")
	}
	if !direction.Valid() {
		return stockerr.InvalidArgument("type", "type must be INCREASE or DECREASE")
	}
	if quantity < 1 {
		return stockerr.InvalidArgument("quantity", "quantity must be greater than 0")
	}
	return nil
}

// nextState computes the product after a movement together with the ledger
// entry documenting it. It rejects a decrease below zero before anything is
// written.
func nextState(current models.Product, direction models.MovementType, quantity int64, at time.Time) (models.Product, models.Transaction, error) {
	next := current

	switch direction {
	case models.MovementIncrease:
		if quantity > math.MaxInt64-current.TotalIncreased {
			return models.Product{}, models.Transaction{}, stockerr.InvalidArgument("quantity", "quantity overflows the stock counters")
		}
		next.CurrentStock += quantity
		next.TotalIncreased += quantity
	case models.MovementDecrease:
		if current.CurrentStock-quantity < 0 {
			return models.Product{}, models.Transaction{}, &stockerr.InsufficientStockError{
				ProductID: current.ID,
				Current:   current.CurrentStock,
				Requested: quantity,
			}
		}
		if quantity > math.MaxInt64-current.TotalDecreased {
			return models.Product{}, models.Transaction{}, stockerr.InvalidArgument("quantity", "quantity overflows the stock counters")
		}
		next.CurrentStock -= quantity
		next.TotalDecreased += quantity
	default:
		return models.Product{}, models.Transaction{}, stockerr.InvalidArgument("type", "type must be INCREASE or DECREASE")
	}
	next.UpdatedAt = at

	entry := models.Transaction{
		ProductID: current.ID,
		Type:      direction,
		Quantity:  quantity,
		Timestamp: at,
	}
	return next, entry, nil
}
