package store

import (
	"context"
	"database/sql"
	"fmt"

	"checkout-service/internal/models"
)

// FindProductByID loads a product, or nil if it does not exist.
// Inside a transaction the row is locked until commit or rollback.
func (s *Store) FindProductByID(ctx context.Context, id int64) (*models.Product, error) {
	query := "SELECT * FROM products WHERE id = $1"
	if inTx(ctx) {
		query += " FOR UPDATE"
	}

	var product models.Product
	err := s.conn(ctx).GetContext(ctx, &product, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %d: %w", id, err)
	}
	return &product, nil
}

// DecrementStock atomically removes quantity units from a product.
// It never drives stock negative: ErrInsufficientStock is returned instead.
func (s *Store) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	result, err := s.conn(ctx).ExecContext(ctx,
		"UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1",
		quantity, productID)
	if err != nil {
		return classifyError(fmt.Errorf("failed to decrement stock for product %d: %w", productID, err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("product %d: %w", productID, ErrInsufficientStock)
	}
	return nil
}

// CreateProduct inserts a catalog product
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	if product.Status == "" {
		product.Status = models.ProductStatusActive
	}

	query := `
		INSERT INTO products (sku, name, price, stock, status, image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := s.conn(ctx).GetContext(ctx, product, query,
		product.SKU, product.Name, product.Price, product.Stock, product.Status, product.ImageURL)
	return classifyError(err)
}
