package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"remaininggoods/internal"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Each dimension is written with an upsert returning its id; the lookup is
// used when the driver returns no row.
const (
	upsertWarehouse = `
INSERT INTO warehouses (name) VALUES (?)
ON CONFLICT (name) DO UPDATE SET name = excluded.name
RETURNING id`
	lookupWarehouse = `SELECT id FROM warehouses WHERE name = ?`

	upsertLocationName = `
INSERT INTO storage_location_names (name) VALUES (?)
ON CONFLICT (name) DO UPDATE SET name = excluded.name
RETURNING id`
	lookupLocationName = `SELECT id FROM storage_location_names WHERE name = ?`

	upsertProduct = `
INSERT INTO products (barcode, product_name, unit, width_key, width, article, manufacturer, country, checksum_valid, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (barcode, product_name, unit, width_key) DO UPDATE SET
  width = excluded.width,
  article = excluded.article,
  manufacturer = excluded.manufacturer,
  country = excluded.country,
  checksum_valid = excluded.checksum_valid,
  updated_at = CURRENT_TIMESTAMP
RETURNING id`
	lookupProduct = `SELECT id FROM products WHERE barcode = ? AND product_name = ? AND unit = ? AND width_key = ?`

	upsertStorageProduct = `
INSERT INTO storage_products (product_id, warehouse_id, price, quantity, stock, updated_at)
VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (product_id, warehouse_id) DO UPDATE SET
  price = excluded.price,
  quantity = excluded.quantity,
  stock = excluded.stock,
  updated_at = CURRENT_TIMESTAMP
RETURNING id`
	lookupStorageProduct = `SELECT id FROM storage_products WHERE product_id = ? AND warehouse_id = ?`

	upsertStorageLocation = `
INSERT INTO storage_locations (storage_product_id, location_name_id, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (storage_product_id, location_name_id) DO UPDATE SET
  updated_at = CURRENT_TIMESTAMP`

	upsertProductMaterial = `
INSERT INTO product_materials (product_id, material_id, proportion)
VALUES (?, ?, ?)
ON CONFLICT (product_id, material_id) DO UPDATE SET
  proportion = excluded.proportion`
)

// LoadMaterials reads the material dictionary keyed by lower-cased name.
func (d *DB) LoadMaterials(ctx context.Context) (map[string]int64, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT id, name FROM materials`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[materialKey(name)] = id
	}
	return out, rows.Err()
}

func materialKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// UpsertRecords stores every record of one site in its own transaction. A
// failed record is rolled back, logged and counted; the rest still run. The
// error is reserved for failures that stop the whole batch.
func (d *DB) UpsertRecords(ctx context.Context, site string, records []internal.ValidatedRecord) (internal.UpsertSummary, error) {
	var summary internal.UpsertSummary
	log := d.log.With("site", site)

	materials, err := d.LoadMaterials(ctx)
	if err != nil {
		return summary, fmt.Errorf("load materials: %w", err)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		skipped, err := d.UpsertRecord(ctx, site, rec, materials)
		if err != nil {
			summary.Failed++
			log.Error("record not stored", "barcode", rec.Barcode, "line", rec.Line, "err", err)
			continue
		}
		summary.Stored++
		summary.Skipped += skipped
	}

	log.Info("records stored", "stored", summary.Stored, "failed", summary.Failed, "unknown_materials", summary.Skipped)
	return summary, nil
}

// UpsertRecord writes one record and its links atomically, replaying the
// transaction on lock conflicts. It returns how many composition entries were
// skipped because the material is not in the dictionary.
func (d *DB) UpsertRecord(ctx context.Context, site string, rec internal.ValidatedRecord, materials map[string]int64) (int, error) {
	log := d.log.With("site", site, "barcode", rec.Barcode)

	var skipped int
	err := d.txPolicy(log).Do(ctx, func(ctx context.Context, _ int) error {
		tx, err := d.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		skipped, err = d.writeRecord(ctx, tx, site, rec, materials, log)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	return skipped, err
}

func (d *DB) writeRecord(ctx context.Context, tx execer, site string, rec internal.ValidatedRecord, materials map[string]int64, log *slog.Logger) (int, error) {
	locationIDs := make([]int64, 0, len(rec.StorageLocations))
	for _, name := range rec.StorageLocations {
		id, err := d.insertOrFetch(ctx, tx, upsertLocationName, lookupLocationName, []any{name}, []any{name})
		if err != nil {
			return 0, fmt.Errorf("location %q: %w", name, err)
		}
		locationIDs = append(locationIDs, id)
	}

	widthKey := productWidthKey(rec)
	productArgs := []any{
		rec.Barcode, rec.ProductName, string(rec.Unit), widthKey, nullFloat(rec.Width),
		nullString(rec.Article), nullString(rec.Manufacturer), nullString(rec.Country), rec.ChecksumValid,
	}
	productID, err := d.insertOrFetch(ctx, tx, upsertProduct, lookupProduct, productArgs,
		[]any{rec.Barcode, rec.ProductName, string(rec.Unit), widthKey})
	if err != nil {
		return 0, fmt.Errorf("product: %w", err)
	}

	warehouseID, err := d.insertOrFetch(ctx, tx, upsertWarehouse, lookupWarehouse, []any{site}, []any{site})
	if err != nil {
		return 0, fmt.Errorf("warehouse: %w", err)
	}

	storageProductID, err := d.insertOrFetch(ctx, tx, upsertStorageProduct, lookupStorageProduct,
		[]any{productID, warehouseID, nullDecimal(rec.Price), rec.Quantity, nullDecimal(rec.Stock)},
		[]any{productID, warehouseID})
	if err != nil {
		return 0, fmt.Errorf("stock: %w", err)
	}

	for _, id := range locationIDs {
		if _, err := tx.ExecContext(ctx, d.dialect.rebind(upsertStorageLocation), storageProductID, id); err != nil {
			return 0, fmt.Errorf("location link: %w", err)
		}
	}
	if err := d.pruneLinks(ctx, tx, "storage_locations", "storage_product_id", storageProductID, "location_name_id", locationIDs); err != nil {
		return 0, fmt.Errorf("prune locations: %w", err)
	}

	if rec.Composition == nil {
		return 0, nil
	}

	var (
		skipped     int
		materialIDs []int64
	)
	for _, name := range sortedMaterials(rec.Composition) {
		id, ok := materials[materialKey(name)]
		if !ok {
			skipped++
			log.Warn("material not in dictionary, link skipped", "material", name)
			continue
		}
		if _, err := tx.ExecContext(ctx, d.dialect.rebind(upsertProductMaterial), productID, id, rec.Composition[name]); err != nil {
			return 0, fmt.Errorf("material %q: %w", name, err)
		}
		materialIDs = append(materialIDs, id)
	}
	if err := d.pruneLinks(ctx, tx, "product_materials", "product_id", productID, "material_id", materialIDs); err != nil {
		return 0, fmt.Errorf("prune materials: %w", err)
	}
	return skipped, nil
}

// insertOrFetch runs an upsert returning the row id and falls back to a
// lookup by natural key when nothing was returned.
func (d *DB) insertOrFetch(ctx context.Context, tx execer, upsert, lookup string, args, key []any) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, d.dialect.rebind(upsert), args...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	err = tx.QueryRowContext(ctx, d.dialect.rebind(lookup), key...).Scan(&id)
	return id, err
}

// pruneLinks drops link rows of owner that are not in keep.
func (d *DB) pruneLinks(ctx context.Context, tx execer, table, ownerCol string, owner int64, linkCol string, keep []int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, ownerCol)
	args := []any{owner}
	if len(keep) > 0 {
		query += fmt.Sprintf(" AND %s NOT IN (%s)", linkCol, strings.TrimSuffix(strings.Repeat("?, ", len(keep)), ", "))
		for _, id := range keep {
			args = append(args, id)
		}
	}
	_, err := tx.ExecContext(ctx, d.dialect.rebind(query), args...)
	return err
}

// productWidthKey is the width part of product identity. Goods sold by
// length share one identity whatever the width.
func productWidthKey(rec internal.ValidatedRecord) float64 {
	if rec.Unit.LengthBased() || rec.Width == nil {
		return 0
	}
	return *rec.Width
}

func sortedMaterials(composition map[string]float64) []string {
	names := make([]string, 0, len(composition))
	for name := range composition {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullDecimal(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}
