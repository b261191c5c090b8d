package core

import (
	"context"
	"errors"
	"fmt"

	"commodity-desk/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const productColumns = "id, name, cost_per_unit, waste_percentage, market_snapshot_id, created_at, updated_at"

func scanProduct(row pgx.Row) (*Product, error) {
	p := &Product{}
	if err := row.Scan(&p.ID, &p.Name, &p.CostPerUnit, &p.WastePercentage, &p.MarketSnapshotID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// CatalogStore persists products and their cost components. It performs no propagation;
// CatalogService wraps every write with a propagation pass.
type CatalogStore struct {
	pool *pgxpool.Pool
}

func NewCatalogStore(pool *pgxpool.Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

func (s *CatalogStore) CreateProductTx(ctx context.Context, tx pgx.Tx, input ProductInput) (*Product, error) {
	p, err := scanProduct(tx.QueryRow(ctx, `
		INSERT INTO products (name, cost_per_unit, waste_percentage)
		VALUES ($1, $2, $3)
		RETURNING `+productColumns,
		input.Name, input.CostPerUnit.Round(2), input.WastePercentage.Round(2)))
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, fmt.Errorf("%w: product %q already exists", ErrValidation, input.Name)
		}
		return nil, fmt.Errorf("create product %q: %w", input.Name, err)
	}
	return p, nil
}

func (s *CatalogStore) UpdateProductTx(ctx context.Context, tx pgx.Tx, id int, input ProductInput) (*Product, error) {
	p, err := scanProduct(tx.QueryRow(ctx, `
		UPDATE products SET name = $2, cost_per_unit = $3, waste_percentage = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns,
		id, input.Name, input.CostPerUnit.Round(2), input.WastePercentage.Round(2)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, id)
		}
		if db.IsUniqueViolation(err, "") {
			return nil, fmt.Errorf("%w: product %q already exists", ErrValidation, input.Name)
		}
		return nil, fmt.Errorf("update product %d: %w", id, err)
	}
	return p, nil
}

// LockProductTx takes the product's row lock for the rest of tx. Every write that
// ends in a propagation pass goes through here first, which serializes passes per product.
func (s *CatalogStore) LockProductTx(ctx context.Context, tx pgx.Tx, id int) (*Product, error) {
	p, err := scanProduct(tx.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, id)
		}
		return nil, fmt.Errorf("failed to lock product %d: %w", id, err)
	}
	return p, nil
}

func (s *CatalogStore) GetProduct(ctx context.Context, id int) (*Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch product %d: %w", id, err)
	}
	return p, nil
}

func (s *CatalogStore) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+productColumns+" FROM products ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// LinkedProductIDs pages through products that have a snapshot, in id order.
func (s *CatalogStore) LinkedProductIDs(ctx context.Context, afterID, limit int) ([]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM products
		WHERE market_snapshot_id IS NOT NULL AND id > $1
		ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked products: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan product id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ComponentsTx loads every cost input of a product inside tx.
func (s *CatalogStore) ComponentsTx(ctx context.Context, tx pgx.Tx, product Product) (CostComponents, error) {
	return s.components(ctx, tx, product)
}

func (s *CatalogStore) components(ctx context.Context, q dbtx, product Product) (CostComponents, error) {
	c := CostComponents{Product: product, Freight: make(map[Destination]InternationalTransport)}

	op := &OperationCost{ProductID: product.ID}
	err := q.QueryRow(ctx, `SELECT cleaning, empty_bags, printing, handling FROM operation_costs WHERE product_id = $1`,
		product.ID).Scan(&op.Cleaning, &op.EmptyBags, &op.Printing, &op.Handling)
	switch {
	case err == nil:
		c.Operation = op
	case !errors.Is(err, pgx.ErrNoRows):
		return c, fmt.Errorf("failed to fetch operation cost: %w", err)
	}

	gov := &GovernmentCost{ProductID: product.ID}
	err = q.QueryRow(ctx, `SELECT paperwork, customs_duty, clearance FROM government_costs WHERE product_id = $1`,
		product.ID).Scan(&gov.Paperwork, &gov.CustomsDuty, &gov.Clearance)
	switch {
	case err == nil:
		c.Government = gov
	case !errors.Is(err, pgx.ErrNoRows):
		return c, fmt.Errorf("failed to fetch government cost: %w", err)
	}

	lt := &LocalTransport{ProductID: product.ID}
	err = q.QueryRow(ctx, `SELECT transport_to_port FROM local_transports WHERE product_id = $1`,
		product.ID).Scan(&lt.TransportToPort)
	switch {
	case err == nil:
		c.Local = lt
	case !errors.Is(err, pgx.ErrNoRows):
		return c, fmt.Errorf("failed to fetch local transport: %w", err)
	}

	freight, err := s.freight(ctx, q, product.ID)
	if err != nil {
		return c, err
	}
	for _, f := range freight {
		c.Freight[f.Destination] = f
	}
	return c, nil
}

func (s *CatalogStore) freight(ctx context.Context, q dbtx, productID int) ([]InternationalTransport, error) {
	rows, err := q.Query(ctx, `
		SELECT id, product_id, destination, freight_cost FROM international_transports
		WHERE product_id = $1 ORDER BY destination`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query freight: %w", err)
	}
	defer rows.Close()

	var out []InternationalTransport
	for rows.Next() {
		var f InternationalTransport
		if err := rows.Scan(&f.ID, &f.ProductID, &f.Destination, &f.FreightCost); err != nil {
			return nil, fmt.Errorf("failed to scan freight: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Detail returns a product with all of its cost components.
func (s *CatalogStore) Detail(ctx context.Context, id int) (*ProductDetail, error) {
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := s.components(ctx, s.pool, *p)
	if err != nil {
		return nil, err
	}
	d := &ProductDetail{
		Product:      *p,
		Operation:    c.Operation,
		Government:   c.Government,
		Local:        c.Local,
		Freight:      []InternationalTransport{},
		Destinations: c.Destinations(),
	}
	for _, dest := range d.Destinations {
		if f, ok := c.Freight[dest]; ok {
			d.Freight = append(d.Freight, f)
		}
	}
	return d, nil
}

func (s *CatalogStore) UpsertOperationCostTx(ctx context.Context, tx pgx.Tx, productID int, in OperationCostInput) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO operation_costs (product_id, cleaning, empty_bags, printing, handling)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_id) DO UPDATE
		SET cleaning = EXCLUDED.cleaning, empty_bags = EXCLUDED.empty_bags,
		    printing = EXCLUDED.printing, handling = EXCLUDED.handling, updated_at = NOW()`,
		productID, in.Cleaning.Round(2), in.EmptyBags.Round(2), in.Printing.Round(2), in.Handling.Round(2))
	if err != nil {
		return fmt.Errorf("failed to save operation cost: %w", err)
	}
	return nil
}

func (s *CatalogStore) UpsertGovernmentCostTx(ctx context.Context, tx pgx.Tx, productID int, in GovernmentCostInput) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO government_costs (product_id, paperwork, customs_duty, clearance)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id) DO UPDATE
		SET paperwork = EXCLUDED.paperwork, customs_duty = EXCLUDED.customs_duty,
		    clearance = EXCLUDED.clearance, updated_at = NOW()`,
		productID, in.Paperwork.Round(2), in.CustomsDuty.Round(2), in.Clearance.Round(2))
	if err != nil {
		return fmt.Errorf("failed to save government cost: %w", err)
	}
	return nil
}

func (s *CatalogStore) UpsertLocalTransportTx(ctx context.Context, tx pgx.Tx, productID int, in LocalTransportInput) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO local_transports (product_id, transport_to_port)
		VALUES ($1, $2)
		ON CONFLICT (product_id) DO UPDATE
		SET transport_to_port = EXCLUDED.transport_to_port, updated_at = NOW()`,
		productID, in.TransportToPort.Round(2))
	if err != nil {
		return fmt.Errorf("failed to save local transport: %w", err)
	}
	return nil
}

func (s *CatalogStore) UpsertFreightTx(ctx context.Context, tx pgx.Tx, productID int, dest Destination, in FreightInput) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO international_transports (product_id, destination, freight_cost)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, destination) DO UPDATE
		SET freight_cost = EXCLUDED.freight_cost, updated_at = NOW()`,
		productID, dest, in.FreightCost.Round(2))
	if err != nil {
		return fmt.Errorf("failed to save freight to %s: %w", dest, err)
	}
	return nil
}

// DeleteFreightTx removes a freight row. It reports false when there was none.
func (s *CatalogStore) DeleteFreightTx(ctx context.Context, tx pgx.Tx, productID int, dest Destination) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM international_transports WHERE product_id = $1 AND destination = $2`, productID, dest)
	if err != nil {
		return false, fmt.Errorf("failed to delete freight to %s: %w", dest, err)
	}
	return tag.RowsAffected() > 0, nil
}

// LinkSnapshotTx points a product at a snapshot. A snapshot belongs to one product at most.
func (s *CatalogStore) LinkSnapshotTx(ctx context.Context, tx pgx.Tx, productID, snapshotID int) error {
	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM market_snapshots WHERE id = $1)", snapshotID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check snapshot %d: %w", snapshotID, err)
	}
	if !exists {
		return fmt.Errorf("%w: id %d", ErrSnapshotNotFound, snapshotID)
	}

	var owner int
	err := tx.QueryRow(ctx, "SELECT id FROM products WHERE market_snapshot_id = $1 AND id <> $2", snapshotID, productID).Scan(&owner)
	if err == nil {
		return fmt.Errorf("%w: snapshot %d belongs to product %d", ErrSnapshotAlreadyLinked, snapshotID, owner)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to check snapshot owner: %w", err)
	}

	_, err = tx.Exec(ctx, "UPDATE products SET market_snapshot_id = $2, updated_at = NOW() WHERE id = $1", productID, snapshotID)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return fmt.Errorf("%w: snapshot %d", ErrSnapshotAlreadyLinked, snapshotID)
		}
		return fmt.Errorf("failed to link snapshot: %w", err)
	}
	return nil
}

func (s *CatalogStore) UnlinkSnapshotTx(ctx context.Context, tx pgx.Tx, productID int) error {
	_, err := tx.Exec(ctx, "UPDATE products SET market_snapshot_id = NULL, updated_at = NOW() WHERE id = $1", productID)
	if err != nil {
		return fmt.Errorf("failed to unlink snapshot: %w", err)
	}
	return nil
}
