package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mamadbah2/stockledger/internal/domain/models"
	"github.com/mamadbah2/stockledger/internal/repository"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id              UUID PRIMARY KEY,
	name            TEXT NOT NULL,
	sku             TEXT NOT NULL UNIQUE,
	current_stock   BIGINT NOT NULL CHECK (current_stock >= 0),
	total_increased BIGINT NOT NULL CHECK (total_increased >= 0),
	total_decreased BIGINT NOT NULL CHECK (total_decreased >= 0),
	version         BIGINT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	CHECK (current_stock = total_increased - total_decreased)
);

CREATE TABLE IF NOT EXISTS stock_transactions (
	id         UUID PRIMARY KEY,
	product_id UUID NOT NULL REFERENCES products (id),
	seq        BIGINT NOT NULL,
	type       TEXT NOT NULL CHECK (type IN ('INCREASE', 'DECREASE')),
	quantity   BIGINT NOT NULL CHECK (quantity >= 1),
	timestamp  TIMESTAMPTZ NOT NULL,
	UNIQUE (product_id, seq)
);

CREATE INDEX IF NOT EXISTS stock_transactions_product_ts_idx
	ON stock_transactions (product_id, timestamp DESC, seq DESC);

CREATE TABLE IF NOT EXISTS stock_reports (
	id           BIGSERIAL PRIMARY KEY,
	generated_at TIMESTAMPTZ NOT NULL,
	report       JSONB NOT NULL
);
`

const productColumns = `id, name, sku, current_stock, total_increased, total_decreased, version, created_at, updated_at`

// PostgresRepository implements repository.Store with row locks: an update
// holds SELECT ... FOR UPDATE on the product until the ledger insert commits.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository opens a pool for dsn, pings it and ensures the schema.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	r := &PostgresRepository{db: pool}
	if err := r.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// EnsureSchema creates the tables and indexes when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateProduct inserts the product and its opening entry in one transaction.
func (r *PostgresRepository) CreateProduct(ctx context.Context, product models.Product, opening *models.Transaction) (models.Product, error) {
	product.ID = uuid.NewString()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return models.Product{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, product.ID, product.Name, product.SKU, product.CurrentStock, product.TotalIncreased,
		product.TotalDecreased, product.Version, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.Product{}, repository.ErrDuplicateSKU
		}
		return models.Product{}, fmt.Errorf("failed to insert product: %w", err)
	}

	if opening != nil {
		entry := *opening
		entry.ProductID = product.ID
		entry.Sequence = product.Version
		if err := insertTransaction(ctx, tx, entry); err != nil {
			return models.Product{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Product{}, fmt.Errorf("%w: %v", repository.ErrCommitUnknown, err)
	}
	return product, nil
}

// UpdateProduct locks the product row, applies mutate and appends the entry.
func (r *PostgresRepository) UpdateProduct(ctx context.Context, id string, mutate repository.MutateFunc) (models.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Product{}, repository.ErrNotFound
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return models.Product{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanProduct(tx.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return models.Product{}, err
	}

	next, entry, err := mutate(current)
	if err != nil {
		return models.Product{}, err
	}
	next.ID = current.ID
	next.SKU = current.SKU
	next.CreatedAt = current.CreatedAt
	next.Version = current.Version + 1

	tag, err := tx.Exec(ctx, `
		UPDATE products
		SET name = $2,
		    current_stock = $3,
		    total_increased = $4,
		    total_decreased = $5,
		    version = $6,
		    updated_at = $7
		WHERE id = $1 AND version = $8
	`, id, next.Name, next.CurrentStock, next.TotalIncreased, next.TotalDecreased,
		next.Version, next.UpdatedAt, current.Version)
	if err != nil {
		return models.Product{}, fmt.Errorf("failed to update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Product{}, repository.ErrVersionConflict
	}

	entry.ProductID = id
	entry.Sequence = next.Version
	if err := insertTransaction(ctx, tx, entry); err != nil {
		return models.Product{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Product{}, fmt.Errorf("%w: %v", repository.ErrCommitUnknown, err)
	}
	return next, nil
}

// GetProduct loads one product by id.
func (r *PostgresRepository) GetProduct(ctx context.Context, id string) (models.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Product{}, repository.ErrNotFound
	}

	return scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// ListProducts returns every product ordered by sku.
func (r *PostgresRepository) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := r.db.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// ListTransactions returns the product's ledger, newest first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, productID string) ([]models.Transaction, error) {
	if _, err := uuid.Parse(productID); err != nil {
		return nil, repository.ErrNotFound
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, product_id, seq, type, quantity, timestamp
		FROM stock_transactions
		WHERE product_id = $1
		ORDER BY timestamp DESC, seq DESC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	entries := []models.Transaction{}
	for rows.Next() {
		var (
			entry    models.Transaction
			movement string
		)
		if err := rows.Scan(&entry.ID, &entry.ProductID, &entry.Sequence, &movement, &entry.Quantity, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		entry.Type = models.MovementType(movement)
		entry.Timestamp = entry.Timestamp.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return entries, nil
}

// SaveStockReport archives the report as a JSONB document.
func (r *PostgresRepository) SaveStockReport(ctx context.Context, report models.StockReport) error {
	_, err := r.db.Exec(ctx, `INSERT INTO stock_reports (generated_at, report) VALUES ($1, $2)`,
		report.GeneratedAt, report)
	if err != nil {
		return fmt.Errorf("failed to save stock report: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *PostgresRepository) Close(context.Context) error {
	r.db.Close()
	return nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, entry models.Transaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_transactions (id, product_id, seq, type, quantity, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), entry.ProductID, entry.Sequence, string(entry.Type), entry.Quantity, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func scanProduct(row pgx.Row) (models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.CurrentStock, &p.TotalIncreased,
		&p.TotalDecreased, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Product{}, repository.ErrNotFound
		}
		return models.Product{}, fmt.Errorf("failed to scan product: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}
