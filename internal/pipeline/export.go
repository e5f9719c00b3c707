package pipeline

import (
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"remaininggoods/internal"
)

// ExportStockToXLSX writes the current stock rows of a warehouse as one sheet.
func ExportStockToXLSX(rows []internal.StockExportRow, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	headers := []string{
		"warehouse", "barcode", "article", "product_name", "unit", "width",
		"price", "quantity", "stock", "storage_locations", "composition", "updated_at",
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, row := range rows {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, row.Warehouse)
		set(2, row.Barcode)
		set(3, derefString(row.Article))
		set(4, row.ProductName)
		set(5, row.Unit)
		set(6, derefFloat(row.Width))
		set(7, derefDecimal(row.Price))
		set(8, row.Quantity.InexactFloat64())
		set(9, derefDecimal(row.Stock))
		set(10, row.StorageLocations)
		set(11, row.Composition)
		set(12, row.UpdatedAt)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func derefDecimal(v *decimal.Decimal) any {
	if v == nil {
		return ""
	}
	return v.InexactFloat64()
}
