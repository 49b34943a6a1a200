package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mamadbah2/stockledger/internal/domain/models"
	"github.com/mamadbah2/stockledger/internal/domain/stockerr"
	"github.com/mamadbah2/stockledger/internal/repository"
)

// Service exposes read-only projections over the store.
type Service struct {
	store  repository.Store
	logger *zap.Logger
	tracer trace.Tracer
}

// NewService wires a query service instance.
func NewService(store repository.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("github.com/mamadbah2/stockledger/internal/service/query"),
	}
}

// GetSummary returns the latest committed state of the product.
func (s *Service) GetSummary(ctx context.Context, productID string) (models.ProductSummary, error) {
	ctx, span := s.tracer.Start(ctx, "query.GetSummary", trace.WithAttributes(attribute.String("product_id", productID)))
	defer span.End()

	product, err := s.product(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return models.ProductSummary{}, err
	}
	return product.Summary(), nil
}

// GetHistory returns every movement of the product, newest first.
func (s *Service) GetHistory(ctx context.Context, productID string) ([]models.HistoryEntry, error) {
	ctx, span := s.tracer.Start(ctx, "query.GetHistory", trace.WithAttributes(attribute.String("product_id", productID)))
	defer span.End()

	ledger, err := s.Ledger(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	history := make([]models.HistoryEntry, 0, len(ledger))
	for _, entry := range ledger {
		history = append(history, entry.Entry())
	}
	span.SetAttributes(attribute.Int("entries", len(history)))
	return history, nil
}

// Ledger returns the full transactions of the product, newest first.
func (s *Service) Ledger(ctx context.Context, productID string) ([]models.Transaction, error) {
	if _, err := s.product(ctx, productID); err != nil {
		return nil, err
	}

	ledger, err := s.store.ListTransactions(ctx, productID)
	if err != nil {
		return nil, s.storeError("list transactions", productID, err)
	}
	repository.SortNewestFirst(ledger)
	return ledger, nil
}

// Snapshot returns the product with the ledger entries committed up to its
// version, newest first. Entries committed after the product was read are left
// out, so the totals and the ledger describe the same state.
func (s *Service) Snapshot(ctx context.Context, productID string) (models.Product, []models.Transaction, error) {
	product, err := s.product(ctx, productID)
	if err != nil {
		return models.Product{}, nil, err
	}

	ledger, err := s.store.ListTransactions(ctx, productID)
	if err != nil {
		return models.Product{}, nil, s.storeError("list transactions", productID, err)
	}

	committed := make([]models.Transaction, 0, len(ledger))
	for _, entry := range ledger {
		if entry.Sequence <= product.Version {
			committed = append(committed, entry)
		}
	}
	repository.SortNewestFirst(committed)
	return product, committed, nil
}

// ListProducts returns a summary of every product ordered by sku.
func (s *Service) ListProducts(ctx context.Context) ([]models.ProductSummary, error) {
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, s.storeError("list products", "", err)
	}

	summaries := make([]models.ProductSummary, 0, len(products))
	for _, p := range products {
		summaries = append(summaries, p.Summary())
	}
	return summaries, nil
}

func (s *Service) product(ctx context.Context, productID string) (models.Product, error) {
	if strings.TrimSpace(productID) == "" {
		return models.Product{}, stockerr.InvalidArgument("productId", "product id is required")
	}

	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return models.Product{}, s.storeError("get product", productID, err)
	}
	return product, nil
}

func (s *Service) storeError(op, productID string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return &stockerr.NotFoundError{ProductID: productID}
	}
	s.logger.Error("query store failure", zap.String("operation", op), zap.Error(err))
	return &stockerr.StoreFailureError{Op: op, Err: fmt.Errorf("failed to %s: %w", op, err)}
}
