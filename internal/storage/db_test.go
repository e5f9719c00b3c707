package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"remaininggoods/internal"
	"remaininggoods/internal/logger"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, Options{
		Driver:          DriverSQLite,
		Path:            filepath.Join(t.TempDir(), "stock.db"),
		ConnectAttempts: 1,
		TxAttempts:      2,
	}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Bootstrap(ctx, DefaultSchema(DriverSQLite)); err != nil {
		t.Fatal(err)
	}
	return db
}

func countRows(t *testing.T, db *DB, table string) int {
	t.Helper()
	var n int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func sampleRecord() internal.ValidatedRecord {
	width := 150.0
	price := decimal.RequireFromString("499.90")
	return internal.ValidatedRecord{
		Line:             2,
		Barcode:          "2103203216754",
		ChecksumValid:    true,
		Article:          "TR-150",
		ProductName:      "Трикотаж вискозный",
		Unit:             internal.UnitMeter,
		Quantity:         decimal.RequireFromString("7.3"),
		Price:            &price,
		Width:            &width,
		Composition:      map[string]float64{"Вискоза": 97, "Эластан": 3},
		StorageLocations: []string{"A-1", "B-2"},
	}
}

func TestBootstrapCreatesAndSeedsOnce(t *testing.T) {
	db := openTestDB(t)
	seeded := countRows(t, db, "materials")
	if seeded == 0 {
		t.Fatal("materials not seeded")
	}

	created, err := db.Bootstrap(context.Background(), DefaultSchema(DriverSQLite))
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 0 {
		t.Fatalf("created again: %v", created)
	}
	if got := countRows(t, db, "materials"); got != seeded {
		t.Fatalf("materials=%d want %d", got, seeded)
	}
}

func TestBootstrapScansWithoutManifest(t *testing.T) {
	db, err := Open(context.Background(), Options{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "scan.db")}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	src := SchemaSource{
		FS: fstest.MapFS{
			"table_b.sql":  {Data: []byte(`CREATE TABLE b (id INTEGER PRIMARY KEY);`)},
			"table_a.sql":  {Data: []byte(`CREATE TABLE a (id INTEGER PRIMARY KEY, name TEXT);`)},
			"data_a.json":  {Data: []byte(`[{"name": "first"}, {"name": "second"}]`)},
			"notes.sql":    {Data: []byte(`garbage`)},
			"table_c.json": {Data: []byte(`{}`)},
		},
		Manifest:    "schema.json",
		TablePrefix: "table",
		DataPrefix:  "data",
	}
	created, err := db.Bootstrap(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 2 || created[0] != "a" || created[1] != "b" {
		t.Fatalf("created=%v", created)
	}
	if got := countRows(t, db, "a"); got != 2 {
		t.Fatalf("seed rows=%d", got)
	}
}

func TestBootstrapManifestSeedOverride(t *testing.T) {
	db, err := Open(context.Background(), Options{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "m.db")}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	src := SchemaSource{
		FS: fstest.MapFS{
			"schema.json": {Data: []byte(`{"table": ["table_z.sql"], "data": {"z": "custom.json"}}`)},
			"table_z.sql": {Data: []byte(`CREATE TABLE z (id INTEGER PRIMARY KEY, name TEXT);`)},
			"table_y.sql": {Data: []byte(`CREATE TABLE y (id INTEGER PRIMARY KEY);`)},
			"custom.json": {Data: []byte(`[{"name": "one"}]`)},
			"data_z.json": {Data: []byte(`[{"name": "a"}, {"name": "b"}]`)},
		},
		Manifest:    "schema.json",
		TablePrefix: "table",
		DataPrefix:  "data",
	}
	created, err := db.Bootstrap(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 || created[0] != "z" {
		t.Fatalf("created=%v", created)
	}
	if got := countRows(t, db, "z"); got != 1 {
		t.Fatalf("rows=%d", got)
	}
}

func TestUpsertTwiceUpdatesInPlace(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rec := sampleRecord()
	if _, err := db.UpsertRecords(ctx, "TOM-01", []internal.ValidatedRecord{rec}); err != nil {
		t.Fatal(err)
	}
	rec.Quantity = decimal.RequireFromString("12")
	rec.StorageLocations = []string{"A-1"}
	summary, err := db.UpsertRecords(ctx, "TOM-01", []internal.ValidatedRecord{rec})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Stored != 1 || summary.Failed != 0 {
		t.Fatalf("summary=%+v", summary)
	}

	want := map[string]int{
		"warehouses":             1,
		"products":               1,
		"storage_products":       1,
		"storage_location_names": 2,
		"storage_locations":      1,
		"product_materials":      2,
	}
	for table, n := range want {
		if got := countRows(t, db, table); got != n {
			t.Fatalf("%s=%d want %d", table, got, n)
		}
	}

	var qty decimal.Decimal
	if err := db.conn.QueryRow(`SELECT quantity FROM storage_products`).Scan(&qty); err != nil {
		t.Fatal(err)
	}
	if qty.String() != "12" {
		t.Fatalf("quantity=%s", qty)
	}
}

func TestUpsertSeparatesWarehouses(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for _, site := range []string{"TOM-01", "NSK-02"} {
		if _, err := db.UpsertRecords(ctx, site, []internal.ValidatedRecord{sampleRecord()}); err != nil {
			t.Fatal(err)
		}
	}
	if got := countRows(t, db, "products"); got != 1 {
		t.Fatalf("products=%d", got)
	}
	if got := countRows(t, db, "storage_products"); got != 2 {
		t.Fatalf("storage_products=%d", got)
	}
}

func TestUpsertSkipsUnknownMaterial(t *testing.T) {
	db := openTestDB(t)
	rec := sampleRecord()
	rec.Composition = map[string]float64{"Вискоза": 97, "Паутина": 3}

	summary, err := db.UpsertRecords(context.Background(), "TOM-01", []internal.ValidatedRecord{rec})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Stored != 1 || summary.Skipped != 1 {
		t.Fatalf("summary=%+v", summary)
	}
	if got := countRows(t, db, "product_materials"); got != 1 {
		t.Fatalf("product_materials=%d", got)
	}
	if got := countRows(t, db, "materials WHERE name = 'Паутина'"); got != 0 {
		t.Fatal("unknown material was created")
	}
}

func TestProductWidthIdentity(t *testing.T) {
	cases := []struct {
		name string
		unit internal.Unit
		want int
	}{
		{name: "length unit ignores width", unit: internal.UnitMeter, want: 1},
		{name: "piece unit keeps width", unit: internal.UnitPiece, want: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := openTestDB(t)
			var records []internal.ValidatedRecord
			for _, w := range []float64{150, 140} {
				w := w
				rec := sampleRecord()
				rec.Unit = tc.unit
				rec.Width = &w
				records = append(records, rec)
			}
			if _, err := db.UpsertRecords(context.Background(), "TOM-01", records); err != nil {
				t.Fatal(err)
			}
			if got := countRows(t, db, "products"); got != tc.want {
				t.Fatalf("products=%d want %d", got, tc.want)
			}
		})
	}
}

func TestFailedRecordDoesNotAffectSiblings(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.conn.Exec(`
CREATE TRIGGER reject_product BEFORE INSERT ON products
WHEN NEW.barcode = '0000000000000'
BEGIN SELECT RAISE(ABORT, 'rejected'); END;`)
	if err != nil {
		t.Fatal(err)
	}

	good := sampleRecord()
	bad := sampleRecord()
	bad.Barcode = "0000000000000"
	bad.StorageLocations = []string{"BAD-1"}
	other := sampleRecord()
	other.Barcode = "4607001234562"

	summary, err := db.UpsertRecords(ctx, "TOM-01", []internal.ValidatedRecord{good, bad, other})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Stored != 2 || summary.Failed != 1 {
		t.Fatalf("summary=%+v", summary)
	}
	if got := countRows(t, db, "storage_location_names WHERE name = 'BAD-1'"); got != 0 {
		t.Fatal("rolled back location survived")
	}
	if got := countRows(t, db, "storage_products"); got != 2 {
		t.Fatalf("storage_products=%d", got)
	}
}

func TestStockRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.UpsertRecords(ctx, "TOM-01", []internal.ValidatedRecord{sampleRecord()}); err != nil {
		t.Fatal(err)
	}

	rows, err := db.StockRows(ctx, "TOM-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows=%d", len(rows))
	}
	row := rows[0]
	if row.Quantity.String() != "7.3" || row.Stock != nil {
		t.Fatalf("quantity=%s stock=%v", row.Quantity, row.Stock)
	}
	if row.StorageLocations != "A-1, B-2" {
		t.Fatalf("locations=%q", row.StorageLocations)
	}
	if row.Composition != "Вискоза 97%, Эластан 3%" {
		t.Fatalf("composition=%q", row.Composition)
	}
	if row.Article == nil || *row.Article != "TR-150" {
		t.Fatalf("article=%v", row.Article)
	}

	empty, err := db.StockRows(ctx, "NSK-02")
	if err != nil || len(empty) != 0 {
		t.Fatalf("rows=%v err=%v", empty, err)
	}
}

func TestRebind(t *testing.T) {
	pg, _ := dialectFor(DriverPostgres)
	if got := pg.rebind("SELECT id FROM t WHERE a = ? AND b = ?"); got != "SELECT id FROM t WHERE a = $1 AND b = $2" {
		t.Fatalf("got %q", got)
	}
	lite, _ := dialectFor(DriverSQLite)
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("got %q", got)
	}
	if _, err := dialectFor("mysql"); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: pgSerializationFailure}, true},
		{&pgconn.PgError{Code: pgDeadlockDetected}, true},
		{&pgconn.PgError{Code: "23505"}, false},
		{errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := isTransient(tc.err); got != tc.want {
			t.Fatalf("%v: got %v", tc.err, got)
		}
	}
}
