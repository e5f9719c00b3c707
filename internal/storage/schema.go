package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"remaininggoods/internal/config"
)

//go:embed schema
var embeddedSchema embed.FS

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SchemaSource locates table definitions and seed data. The manifest is a
// JSON object with an ordered file list under TablePrefix and a
// table -> seed file mapping under DataPrefix.
type SchemaSource struct {
	FS          fs.FS
	Manifest    string
	TablePrefix string
	DataPrefix  string
}

// DefaultSchema is the bundled schema for a driver.
func DefaultSchema(driver string) SchemaSource {
	if driver == "" {
		driver = DriverSQLite
	}
	sub, err := fs.Sub(embeddedSchema, path.Join("schema", driver))
	if err != nil {
		panic(err)
	}
	return SchemaSource{FS: sub, Manifest: "schema.json", TablePrefix: "table", DataPrefix: "data"}
}

func SchemaFromConfig(cfg config.Config) SchemaSource {
	src := DefaultSchema(cfg.DBDriver)
	if cfg.DBSchemaDir != "" {
		src.FS = os.DirFS(cfg.DBSchemaDir)
	}
	if cfg.DBSchemaManifest != "" {
		src.Manifest = cfg.DBSchemaManifest
	}
	if cfg.DBTablePrefix != "" {
		src.TablePrefix = cfg.DBTablePrefix
	}
	if cfg.DBInitDataPrefix != "" {
		src.DataPrefix = cfg.DBInitDataPrefix
	}
	return src
}

type tableDef struct {
	name     string
	file     string
	seedFile string
}

// Bootstrap creates every missing table in manifest order and seeds a table
// only on the run that created it. It returns the names of created tables.
func (d *DB) Bootstrap(ctx context.Context, src SchemaSource) ([]string, error) {
	defs, err := d.tableDefs(src)
	if err != nil {
		return nil, err
	}

	var created []string
	for _, def := range defs {
		exists, err := d.tableExists(ctx, def.name)
		if err != nil {
			return created, fmt.Errorf("check table %s: %w", def.name, err)
		}
		if exists {
			d.log.Debug("table exists", "table", def.name)
			continue
		}
		if err := d.createTable(ctx, src.FS, def); err != nil {
			return created, fmt.Errorf("create table %s: %w", def.name, err)
		}
		created = append(created, def.name)
	}
	return created, nil
}

func (d *DB) tableDefs(src SchemaSource) ([]tableDef, error) {
	files, seeds, err := readManifest(src)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		d.log.Warn("schema manifest not found, using files in lexical order", "manifest", src.Manifest, "prefix", src.TablePrefix)
		files, err = scanTableFiles(src)
		if err != nil {
			return nil, err
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no table files with prefix %q", src.TablePrefix)
	}

	defs := make([]tableDef, 0, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(path.Base(file), path.Ext(file))
		name = strings.TrimPrefix(name, src.TablePrefix+"_")
		if !identifier.MatchString(name) {
			return nil, fmt.Errorf("bad table name %q from %s", name, file)
		}
		seed, ok := seeds[name]
		if !ok {
			seed = fmt.Sprintf("%s_%s.json", src.DataPrefix, name)
		}
		defs = append(defs, tableDef{name: name, file: file, seedFile: seed})
	}
	return defs, nil
}

func readManifest(src SchemaSource) ([]string, map[string]string, error) {
	raw, err := fs.ReadFile(src.FS, src.Manifest)
	if err != nil {
		return nil, nil, err
	}

	var manifest map[string]json.RawMessage
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", src.Manifest, err)
	}

	tablesRaw, ok := manifest[src.TablePrefix]
	if !ok {
		return nil, nil, fmt.Errorf("%s has no %q list: %w", src.Manifest, src.TablePrefix, fs.ErrNotExist)
	}
	var files []string
	if err := json.Unmarshal(tablesRaw, &files); err != nil {
		return nil, nil, fmt.Errorf("parse %s[%q]: %w", src.Manifest, src.TablePrefix, err)
	}

	seeds := map[string]string{}
	if dataRaw, ok := manifest[src.DataPrefix]; ok {
		if err := json.Unmarshal(dataRaw, &seeds); err != nil {
			return nil, nil, fmt.Errorf("parse %s[%q]: %w", src.Manifest, src.DataPrefix, err)
		}
	}
	return files, seeds, nil
}

func scanTableFiles(src SchemaSource) ([]string, error) {
	entries, err := fs.ReadDir(src.FS, ".")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, src.TablePrefix) || !strings.HasSuffix(name, ".sql") {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

func (d *DB) tableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := d.conn.QueryRowContext(ctx, d.dialect.rebind(d.dialect.tableExists), name).Scan(&exists)
	return exists, err
}

func (d *DB) createTable(ctx context.Context, fsys fs.FS, def tableDef) error {
	ddl, err := fs.ReadFile(fsys, def.file)
	if err != nil {
		return err
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(ddl)); err != nil {
		return err
	}
	d.log.Warn("table created", "table", def.name, "file", def.file)

	rows, err := readSeed(fsys, def.seedFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		d.log.Debug("no seed data", "table", def.name, "file", def.seedFile)
	case err != nil:
		return fmt.Errorf("seed %s: %w", def.seedFile, err)
	default:
		for i, row := range rows {
			if err := d.insertSeedRow(ctx, tx, def.name, row); err != nil {
				return fmt.Errorf("seed %s row %d: %w", def.seedFile, i, err)
			}
		}
		d.log.Info("seed data loaded", "table", def.name, "rows", len(rows))
	}

	return tx.Commit()
}

func readSeed(fsys fs.FS, file string) ([]map[string]any, error) {
	raw, err := fs.ReadFile(fsys, file)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (d *DB) insertSeedRow(ctx context.Context, tx execer, table string, row map[string]any) error {
	columns := make([]string, 0, len(row))
	for col := range row {
		if !identifier.MatchString(col) {
			return fmt.Errorf("bad column name %q", col)
		}
		columns = append(columns, col)
	}
	if len(columns) == 0 {
		return nil
	}
	sort.Strings(columns)

	args := make([]any, len(columns))
	for i, col := range columns {
		args[i] = row[col]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))
	_, err := tx.ExecContext(ctx, d.dialect.rebind(query), args...)
	return err
}
