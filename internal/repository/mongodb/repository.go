package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/stockledger/internal/domain/models"
	"github.com/mamadbah2/stockledger/internal/repository"
)

const (
	productsCollection     = "products"
	transactionsCollection = "transactions"
	reportsCollection      = "stock_reports"

	unknownCommitLabel = "UnknownTransactionCommitResult"
)

// MongoDBRepository implements repository.Store on top of MongoDB. Product
// updates and their ledger entries are written in one multi-document
// transaction, so the deployment must be a replica set.
type MongoDBRepository struct {
	client *mongo.Client
	dbName string
}

// NewMongoDBRepository connects, verifies the connection and ensures indexes.
func NewMongoDBRepository(ctx context.Context, uri string, dbName string) (*MongoDBRepository, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	r := &MongoDBRepository{
		client: client,
		dbName: dbName,
	}
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *MongoDBRepository) products() *mongo.Collection {
	return r.client.Database(r.dbName).Collection(productsCollection)
}

func (r *MongoDBRepository) transactions() *mongo.Collection {
	return r.client.Database(r.dbName).Collection(transactionsCollection)
}

func (r *MongoDBRepository) ensureIndexes(ctx context.Context) error {
	_, err := r.products().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "sku", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create sku index: %w", err)
	}

	_, err = r.transactions().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "productId", Value: 1}, {Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create ledger index: %w", err)
	}
	return nil
}

// CreateProduct inserts the product and its opening entry in one transaction.
func (r *MongoDBRepository) CreateProduct(ctx context.Context, product models.Product, opening *models.Transaction) (models.Product, error) {
	doc := newProductDocument(primitive.NewObjectID(), product)

	err := r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		if _, err := r.products().InsertOne(sc, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return repository.ErrDuplicateSKU
			}
			return fmt.Errorf("failed to insert product: %w", err)
		}

		if opening == nil {
			return nil
		}

		entry := *opening
		entry.Sequence = product.Version
		if _, err := r.transactions().InsertOne(sc, newTransactionDocument(doc.ID, entry)); err != nil {
			return fmt.Errorf("failed to insert opening transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Product{}, err
	}

	return doc.toModel(), nil
}

// UpdateProduct reads the product, applies mutate and writes the result back
// guarded by the version it read, appending the ledger entry in the same
// transaction.
func (r *MongoDBRepository) UpdateProduct(ctx context.Context, id string, mutate repository.MutateFunc) (models.Product, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return models.Product{}, repository.ErrNotFound
	}

	var updated models.Product
	err = r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		var doc productDocument
		if err := r.products().FindOne(sc, bson.M{"_id": oid}).Decode(&doc); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("failed to load product: %w", err)
		}

		current := doc.toModel()
		next, entry, err := mutate(current)
		if err != nil {
			return err
		}
		next.Version = current.Version + 1

		res, err := r.products().UpdateOne(sc,
			bson.M{"_id": oid, "version": current.Version},
			bson.M{"$set": bson.M{
				"name":           next.Name,
				"currentStock":   next.CurrentStock,
				"totalIncreased": next.TotalIncreased,
				"totalDecreased": next.TotalDecreased,
				"version":        next.Version,
				"updatedAt":      next.UpdatedAt,
			}},
		)
		if err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}
		if res.MatchedCount == 0 {
			return repository.ErrVersionConflict
		}

		entry.Sequence = next.Version
		if _, err := r.transactions().InsertOne(sc, newTransactionDocument(oid, entry)); err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}

		doc.apply(next)
		updated = doc.toModel()
		return nil
	})
	if err != nil {
		return models.Product{}, err
	}

	return updated, nil
}

// GetProduct loads one product by id.
func (r *MongoDBRepository) GetProduct(ctx context.Context, id string) (models.Product, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return models.Product{}, repository.ErrNotFound
	}

	var doc productDocument
	if err := r.products().FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Product{}, repository.ErrNotFound
		}
		return models.Product{}, fmt.Errorf("failed to load product: %w", err)
	}
	return doc.toModel(), nil
}

// ListProducts returns every product ordered by sku.
func (r *MongoDBRepository) ListProducts(ctx context.Context) ([]models.Product, error) {
	cursor, err := r.products().Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "sku", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	var docs []productDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}

	products := make([]models.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, doc.toModel())
	}
	return products, nil
}

// ListTransactions returns the product's ledger, newest first.
func (r *MongoDBRepository) ListTransactions(ctx context.Context, productID string) ([]models.Transaction, error) {
	oid, err := primitive.ObjectIDFromHex(productID)
	if err != nil {
		return nil, repository.ErrNotFound
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}})
	cursor, err := r.transactions().Find(ctx, bson.M{"productId": oid}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	var docs []transactionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}

	entries := make([]models.Transaction, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.toModel())
	}
	return entries, nil
}

// SaveStockReport saves a stock report to the database.
func (r *MongoDBRepository) SaveStockReport(ctx context.Context, report models.StockReport) error {
	collection := r.client.Database(r.dbName).Collection(reportsCollection)
	_, err := collection.InsertOne(ctx, report)
	if err != nil {
		return fmt.Errorf("failed to insert stock report: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection.
func (r *MongoDBRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// withTransaction runs fn inside a session transaction. The driver retries
// transient errors itself; an unconfirmed commit is reported as
// repository.ErrCommitUnknown so callers do not blindly reapply it.
func (r *MongoDBRepository) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	// committing is set once the callback succeeded, so a timeout after it
	// happened while the driver was committing.
	committing := false
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		committing = false
		if err := fn(sc); err != nil {
			return nil, err
		}
		committing = true
		return nil, nil
	})
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrDuplicateSKU),
		errors.Is(err, repository.ErrVersionConflict):
		return err
	case commitUnknown(err, committing):
		return fmt.Errorf("%w: %v", repository.ErrCommitUnknown, err)
	default:
		return err
	}
}

// commitUnknown reports whether err leaves the transaction outcome open.
// Timeouts only do so once the commit was under way.
func commitUnknown(err error, committing bool) bool {
	var labeled mongo.LabeledError
	if errors.As(err, &labeled) && labeled.HasErrorLabel(unknownCommitLabel) {
		return true
	}
	if !committing {
		return false
	}
	return mongo.IsTimeout(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

type productDocument struct {
	ID             primitive.ObjectID `bson:"_id"`
	Name           string             `bson:"name"`
	SKU            string             `bson:"sku"`
	CurrentStock   int64              `bson:"currentStock"`
	TotalIncreased int64              `bson:"totalIncreased"`
	TotalDecreased int64              `bson:"totalDecreased"`
	Version        int64              `bson:"version"`
	CreatedAt      time.Time          `bson:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt"`
}

func newProductDocument(id primitive.ObjectID, p models.Product) productDocument {
	doc := productDocument{ID: id, SKU: p.SKU, CreatedAt: p.CreatedAt}
	doc.apply(p)
	return doc
}

func (d *productDocument) apply(p models.Product) {
	d.Name = p.Name
	d.CurrentStock = p.CurrentStock
	d.TotalIncreased = p.TotalIncreased
	d.TotalDecreased = p.TotalDecreased
	d.Version = p.Version
	d.UpdatedAt = p.UpdatedAt
}

func (d productDocument) toModel() models.Product {
	return models.Product{
		ID:             d.ID.Hex(),
		Name:           d.Name,
		SKU:            d.SKU,
		CurrentStock:   d.CurrentStock,
		TotalIncreased: d.TotalIncreased,
		TotalDecreased: d.TotalDecreased,
		Version:        d.Version,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}

type transactionDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	ProductID primitive.ObjectID `bson:"productId"`
	Type      string             `bson:"type"`
	Quantity  int64              `bson:"quantity"`
	Timestamp time.Time          `bson:"timestamp"`
	Sequence  int64              `bson:"seq"`
}

func newTransactionDocument(productID primitive.ObjectID, t models.Transaction) transactionDocument {
	return transactionDocument{
		ID:        primitive.NewObjectID(),
		ProductID: productID,
		Type:      string(t.Type),
		Quantity:  t.Quantity,
		Timestamp: t.Timestamp,
		Sequence:  t.Sequence,
	}
}

func (d transactionDocument) toModel() models.Transaction {
	return models.Transaction{
		ID:        d.ID.Hex(),
		ProductID: d.ProductID.Hex(),
		Type:      models.MovementType(d.Type),
		Quantity:  d.Quantity,
		Timestamp: d.Timestamp.UTC(),
		Sequence:  d.Sequence,
	}
}
