package ledger

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mamadbah2/stockledger/internal/domain/models"
	"github.com/mamadbah2/stockledger/internal/domain/stockerr"
	"github.com/mamadbah2/stockledger/internal/repository"
)

const (
	instrumentationName = "github.com/mamadbah2/stockledger/internal/service/ledger"
	defaultMaxAttempts  = 5
)

// Service owns the rules for creating products and moving their stock.
type Service struct {
	store       repository.Store
	logger      *zap.Logger
	tracer      trace.Tracer
	movements   metric.Int64Counter
	rejections  metric.Int64Counter
	now         func() time.Time
	maxAttempts int
}

// NewService wires a ledger service. maxAttempts bounds how often a stock
// change is re-applied after an optimistic version conflict.
func NewService(store repository.Store, maxAttempts int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}

	meter := otel.Meter(instrumentationName)
	movements, err := meter.Int64Counter("stock.movements",
		metric.WithDescription("Stock movements committed to the ledger"))
	if err != nil {
		logger.Warn("failed to create movements counter", zap.Error(err))
		movements = noop.Int64Counter{}
	}
	rejections, err := meter.Int64Counter("stock.rejections",
		metric.WithDescription("Stock operations rejected or failed"))
	if err != nil {
		logger.Warn("failed to create rejections counter", zap.Error(err))
		rejections = noop.Int64Counter{}
	}

	return &Service{
		store:       store,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
		movements:   movements,
		rejections:  rejections,
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		maxAttempts: maxAttempts,
	}
}

// CreateProduct registers a new product. A positive initial stock is recorded
// as an opening INCREASE entry committed together with the product.
func (s *Service) CreateProduct(ctx context.Context, in CreateProductInput) (models.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.CreateProduct")
	defer span.End()

	name, sku, initial, err := in.normalize()
	if err != nil {
		return models.Product{}, s.reject(ctx, span, "create", err)
	}
	span.SetAttributes(attribute.String("sku", sku), attribute.Int64("initial_stock", initial))

	now := s.now()
	product := models.Product{
		Name:           name,
		SKU:            sku,
		CurrentStock:   initial,
		TotalIncreased: initial,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var opening *models.Transaction
	if initial > 0 {
		opening = &models.Transaction{
			Type:      models.MovementIncrease,
			Quantity:  initial,
			Timestamp: now,
		}
	}

	created, err := s.store.CreateProduct(ctx, product, opening)
	if err != nil {
		return models.Product{}, s.reject(ctx, span, "create", normalize("create product", "", sku, err))
	}

	if opening != nil {
		s.movements.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", string(models.MovementIncrease))))
	}
	span.SetAttributes(attribute.String("product_id", created.ID))
	s.logger.Info("product created",
		zap.String("product_id", created.ID),
		zap.String("sku", created.SKU),
		zap.Int64("initial_stock", initial))

	return created, nil
}

// IncreaseStock adds quantity units to the product.
func (s *Service) IncreaseStock(ctx context.Context, productID string, quantity int64) (models.Product, error) {
	return s.ApplyStockChange(ctx, productID, models.MovementIncrease, quantity)
}

// DecreaseStock removes quantity units from the product.
func (s *Service) DecreaseStock(ctx context.Context, productID string, quantity int64) (models.Product, error) {
	return s.ApplyStockChange(ctx, productID, models.MovementDecrease, quantity)
}

// ApplyStockChange moves the product's stock and appends the matching ledger
// entry as one atomic unit. Optimistic conflicts are retried; a commit with an
// unknown outcome is returned as an ambiguous StoreFailureError and never
// retried here.
func (s *Service) ApplyStockChange(ctx context.Context, productID string, direction models.MovementType, quantity int64) (models.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.ApplyStockChange", trace.WithAttributes(
		attribute.String("product_id", productID),
		attribute.String("direction", string(direction)),
		attribute.Int64("quantity", quantity),
	))
	defer span.End()

	op := string(direction)
	if err := validateChange(productID, direction, quantity); err != nil {
		return models.Product{}, s.reject(ctx, span, op, err)
	}

	mutate := func(current models.Product) (models.Product, models.Transaction, error) {
		return nextState(current, direction, quantity, s.now())
	}

	var (
		updated models.Product
		err     error
	)
	for attempt := 1; ; attempt++ {
		updated, err = s.store.UpdateProduct(ctx, productID, mutate)
		if !errors.Is(err, repository.ErrVersionConflict) || attempt >= s.maxAttempts {
			break
		}
		s.logger.Debug("version conflict, re-applying stock change",
			zap.String("product_id", productID),
			zap.Int("attempt", attempt))
	}
	if err != nil {
		return models.Product{}, s.reject(ctx, span, op, normalize("apply stock change", productID, "", err))
	}

	s.movements.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", op)))
	span.SetAttributes(attribute.Int64("current_stock", updated.CurrentStock))
	s.logger.Info("stock change applied",
		zap.String("product_id", updated.ID),
		zap.String("direction", op),
		zap.Int64("quantity", quantity),
		zap.Int64("current_stock", updated.CurrentStock))

	return updated, nil
}

func (s *Service) reject(ctx context.Context, span trace.Span, op string, err error) error {
	kind := stockerr.KindOf(err)
	s.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("kind", string(kind)),
	))
	span.RecordError(err)
	span.SetAttributes(attribute.String("error.kind", string(kind)))

	if kind == stockerr.KindStoreFailure {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("ledger store failure", zap.String("operation", op), zap.Error(err))
	} else {
		s.logger.Info("ledger operation rejected", zap.String("operation", op), zap.String("kind", string(kind)), zap.Error(err))
	}
	return err
}

// normalize maps store errors onto the ledger's error kinds. Errors that
// already carry a kind, such as those raised by nextState, pass through.
func normalize(op, productID, sku string, err error) error {
	var known stockerr.Error
	switch {
	case errors.As(err, &known):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return &stockerr.NotFoundError{ProductID: productID}
	case errors.Is(err, repository.ErrDuplicateSKU):
		return &stockerr.ConflictError{SKU: sku}
	case errors.Is(err, repository.ErrCommitUnknown):
		return &stockerr.StoreFailureError{Op: op, Ambiguous: true, Err: err}
	default:
		return &stockerr.StoreFailureError{Op: op, Err: err}
	}
}
