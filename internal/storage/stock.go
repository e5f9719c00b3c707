package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"remaininggoods/internal"
	"remaininggoods/internal/util"
)

// StockRows returns the current stock of one warehouse with its locations and
// composition flattened to text.
func (d *DB) StockRows(ctx context.Context, warehouse string) ([]internal.StockExportRow, error) {
	rows, err := d.conn.QueryContext(ctx, d.dialect.rebind(`
SELECT
  sp.id,
  p.id,
  w.name,
  p.barcode,
  p.article,
  p.product_name,
  p.unit,
  p.width,
  sp.price,
  sp.quantity,
  sp.stock,
  sp.updated_at
FROM storage_products sp
JOIN products p ON p.id = sp.product_id
JOIN warehouses w ON w.id = sp.warehouse_id
WHERE w.name = ?
ORDER BY p.product_name, p.barcode
`), warehouse)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out        []internal.StockExportRow
		stockIDs   []int64
		productIDs []int64
	)
	for rows.Next() {
		var (
			row              internal.StockExportRow
			stockID, prodID  int64
			article          sql.NullString
			width            sql.NullFloat64
			price, stockLeft decimal.NullDecimal
		)
		if err := rows.Scan(
			&stockID,
			&prodID,
			&row.Warehouse,
			&row.Barcode,
			&article,
			&row.ProductName,
			&row.Unit,
			&width,
			&price,
			&row.Quantity,
			&stockLeft,
			&row.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if article.Valid {
			row.Article = util.StringPtr(article.String)
		}
		if width.Valid {
			row.Width = &width.Float64
		}
		if price.Valid {
			row.Price = &price.Decimal
		}
		if stockLeft.Valid {
			row.Stock = &stockLeft.Decimal
		}
		out = append(out, row)
		stockIDs = append(stockIDs, stockID)
		productIDs = append(productIDs, prodID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	locations, err := d.locationsByStock(ctx, warehouse)
	if err != nil {
		return nil, fmt.Errorf("locations: %w", err)
	}
	composition, err := d.compositionByProduct(ctx, warehouse)
	if err != nil {
		return nil, fmt.Errorf("composition: %w", err)
	}
	for i := range out {
		out[i].StorageLocations = strings.Join(locations[stockIDs[i]], ", ")
		out[i].Composition = strings.Join(composition[productIDs[i]], ", ")
	}
	return out, nil
}

func (d *DB) locationsByStock(ctx context.Context, warehouse string) (map[int64][]string, error) {
	rows, err := d.conn.QueryContext(ctx, d.dialect.rebind(`
SELECT sl.storage_product_id, n.name
FROM storage_locations sl
JOIN storage_location_names n ON n.id = sl.location_name_id
JOIN storage_products sp ON sp.id = sl.storage_product_id
JOIN warehouses w ON w.id = sp.warehouse_id
WHERE w.name = ?
ORDER BY n.name
`), warehouse)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64][]string{}
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = append(out[id], name)
	}
	return out, rows.Err()
}

func (d *DB) compositionByProduct(ctx context.Context, warehouse string) (map[int64][]string, error) {
	rows, err := d.conn.QueryContext(ctx, d.dialect.rebind(`
SELECT pm.product_id, m.name, pm.proportion
FROM product_materials pm
JOIN materials m ON m.id = pm.material_id
JOIN storage_products sp ON sp.product_id = pm.product_id
JOIN warehouses w ON w.id = sp.warehouse_id
WHERE w.name = ?
ORDER BY pm.proportion DESC, m.name
`), warehouse)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64][]string{}
	for rows.Next() {
		var (
			id         int64
			name       string
			proportion float64
		)
		if err := rows.Scan(&id, &name, &proportion); err != nil {
			return nil, err
		}
		out[id] = append(out[id], name+" "+strconv.FormatFloat(proportion, 'f', -1, 64)+"%")
	}
	return out, rows.Err()
}
