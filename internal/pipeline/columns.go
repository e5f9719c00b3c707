package pipeline

import "remaininggoods/internal"

// Header names of the inventory export.
const (
	ColBarcode               = "Packing.Barcode"
	ColArticle               = "Артикул"
	ColUnit                  = "Packing.Name"
	ColQuantity              = "Packing.Колво"
	ColStock                 = "Packing.СвободныйОстаток"
	ColStorageLocation       = "Packing.МестоХранения"
	ColWidth                 = "Packing.Ширина"
	ColDensity               = "Packing.Плотность"
	ColComposition           = "Packing.Состав"
	ColPrice                 = "Packing.Цена"
	ColNewPrice              = "Packing.НоваяЦена"
	ColDiscount              = "Packing.Скидка"
	ColPromoPeriod           = "Packing.СрокАкции"
	ColOrganization          = "Packing.Организация"
	ColProductName           = "Наименование"
	ColDescription           = "Description"
	ColAdditionalDescription = "AdditionalDescription"
	ColFactory               = "Packing.Производитель"
	ColCode                  = "Код"
	ColFactoryCountry        = "Packing.СтранаПроизводства"
	ColFactoryAddress        = "Packing.АдресПроизводителя"
)

// strippedColumns never reach storage: marketing text, promotions, addresses.
var strippedColumns = []string{
	ColDescription,
	ColAdditionalDescription,
	ColNewPrice,
	ColDiscount,
	ColPromoPeriod,
	ColOrganization,
	ColFactoryAddress,
}

// StripIrrelevant returns a copy of r without the columns storage has no use for.
func StripIrrelevant(r internal.RawRecord) internal.RawRecord {
	drop := make(map[string]struct{}, len(strippedColumns))
	for _, c := range strippedColumns {
		drop[c] = struct{}{}
	}

	out := internal.RawRecord{Line: r.Line, Fields: make(map[string]string, len(r.Fields))}
	for _, k := range r.Keys {
		if _, ok := drop[k]; ok {
			continue
		}
		out.Keys = append(out.Keys, k)
		out.Fields[k] = r.Fields[k]
	}
	return out
}
