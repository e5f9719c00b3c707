package internal

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Unit string

const (
	UnitMeter    Unit = "м"
	UnitPiece    Unit = "шт"
	UnitKilogram Unit = "кг"
	UnitPack     Unit = "уп"
	UnitSet      Unit = "компл"
)

// LengthBased reports whether goods in this unit are cut to length, so width
// does not tell two products apart.
func (u Unit) LengthBased() bool {
	return u == UnitMeter
}

// RemoteTarget identifies one site's export on its file share.
type RemoteTarget struct {
	Site     string
	Host     string
	Share    string
	Dir      string
	Pattern  string
	User     string
	Password string
	Domain   string
}

// UNCPath renders the target as \\host\share\dir.
func (t RemoteTarget) UNCPath() string {
	parts := []string{strings.Trim(t.Host, `\/`), strings.Trim(t.Share, `\/`)}
	dir := strings.Trim(strings.ReplaceAll(t.Dir, "/", `\`), `\`)
	if dir != "" {
		parts = append(parts, dir)
	}
	return `\\` + strings.Join(parts, `\`)
}

type FetchResult struct {
	Site string
	Path string
}

func (r FetchResult) Found() bool {
	return r.Path != ""
}

// RawRecord is one decoded input row. Keys keeps header order.
type RawRecord struct {
	Line   int
	Keys   []string
	Fields map[string]string
}

func (r RawRecord) Get(key string) string {
	return strings.TrimSpace(r.Fields[key])
}

func (r RawRecord) Has(key string) bool {
	_, ok := r.Fields[key]
	return ok
}

type ValidatedRecord struct {
	Line             int
	Barcode          string
	ChecksumValid    bool
	Article          string
	ProductName      string
	Manufacturer     string
	Country          string
	Unit             Unit
	Quantity         decimal.Decimal
	Stock            *decimal.Decimal
	Price            *decimal.Decimal
	Width            *float64
	Composition      map[string]float64
	StorageLocations []string
}

type ValidationSummary struct {
	Total    int
	Accepted int
	Dropped  int
}

type UpsertSummary struct {
	Stored  int
	Failed  int
	Skipped int
}

type StockExportRow struct {
	Warehouse        string
	Barcode          string
	Article          *string
	ProductName      string
	Unit             string
	Width            *float64
	Price            *decimal.Decimal
	Quantity         decimal.Decimal
	Stock            *decimal.Decimal
	StorageLocations string
	Composition      string
	UpdatedAt        string
}
