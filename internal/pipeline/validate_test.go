package pipeline

import (
	"errors"
	"testing"

	"remaininggoods/internal"
	"remaininggoods/internal/logger"
)

func rawRecord(fields map[string]string) internal.RawRecord {
	rec := internal.RawRecord{Line: 2, Fields: fields}
	for k := range fields {
		rec.Keys = append(rec.Keys, k)
	}
	return rec
}

func newTestValidator() *Validator {
	return NewValidator(ValidationOptions{MaxWidth: 200}, logger.Discard())
}

func TestValidateRecordEndToEnd(t *testing.T) {
	rec, err := newTestValidator().ValidateRecord(rawRecord(map[string]string{
		ColBarcode:     "2103203216754",
		ColUnit:        "м",
		ColQuantity:    "7.3",
		ColComposition: "Вискоза 97% Эластан 3%",
		ColWidth:       "Ширина 150см",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Quantity.String() != "7.3" {
		t.Fatalf("quantity=%s", rec.Quantity)
	}
	if rec.Width == nil || *rec.Width != 150 {
		t.Fatalf("width=%v", rec.Width)
	}
	if len(rec.Composition) != 2 || rec.Composition["Вискоза"] != 97 || rec.Composition["Эластан"] != 3 {
		t.Fatalf("composition=%v", rec.Composition)
	}
	if rec.Unit != internal.UnitMeter {
		t.Fatalf("unit=%s", rec.Unit)
	}
	if !rec.ChecksumValid {
		t.Fatal("checksum should be valid")
	}
}

func TestValidateRecordBarcodeGate(t *testing.T) {
	cases := []string{"", "210320321675", "21032032167541", "210320321675X", " 2103 203216754"}
	v := newTestValidator()
	for _, barcode := range cases {
		_, err := v.ValidateRecord(rawRecord(map[string]string{ColBarcode: barcode, ColQuantity: "1"}))
		if !errors.Is(err, ErrInvalidBarcode) {
			t.Fatalf("barcode %q: err=%v", barcode, err)
		}
	}
}

func TestValidateRecordKeepsBadChecksum(t *testing.T) {
	rec, err := newTestValidator().ValidateRecord(rawRecord(map[string]string{ColBarcode: "2103203216755", ColQuantity: "1"}))
	if err != nil {
		t.Fatal(err)
	}
	if rec.ChecksumValid {
		t.Fatal("checksum should be flagged invalid")
	}
}

func TestValidateRecordQuantityGate(t *testing.T) {
	v := newTestValidator()
	for _, qty := range []string{"", "много", "7 м"} {
		_, err := v.ValidateRecord(rawRecord(map[string]string{ColBarcode: "2103203216754", ColQuantity: qty}))
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("quantity %q: err=%v", qty, err)
		}
	}
	rec, err := v.ValidateRecord(rawRecord(map[string]string{ColBarcode: "2103203216754", ColQuantity: "12,5"}))
	if err != nil || rec.Quantity.String() != "12.5" {
		t.Fatalf("rec=%+v err=%v", rec, err)
	}
}

func TestValidateRecordWidth(t *testing.T) {
	cases := []struct {
		name        string
		width       string
		description string
		want        float64
		null        bool
	}{
		{name: "structured", width: "145", want: 145},
		{name: "comma decimal", width: "1,5 м", want: 1.5},
		{name: "over max", width: "250", null: true},
		{name: "over max falls back", width: "250", description: "Трикотаж, ширина: 180 см", want: 180},
		{name: "description only", description: "Ткань плательная. Ширина 140см", want: 140},
		{name: "description first number", description: "Ткань 150 см", want: 150},
		{name: "description first of several", description: "150см, плотность 200", want: 150},
		{name: "labelled beats first number", description: "Плотность 190, ширина 145", want: 145},
		{name: "description number over max", description: "Футер 320 г/м2", null: true},
		{name: "nothing", null: true},
	}

	v := newTestValidator()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := v.ValidateRecord(rawRecord(map[string]string{
				ColBarcode:     "2103203216754",
				ColQuantity:    "1",
				ColWidth:       tc.width,
				ColDescription: tc.description,
			}))
			if err != nil {
				t.Fatal(err)
			}
			if tc.null {
				if rec.Width != nil {
					t.Fatalf("width=%v want null", *rec.Width)
				}
				return
			}
			if rec.Width == nil || *rec.Width != tc.want {
				t.Fatalf("width=%v want %v", rec.Width, tc.want)
			}
		})
	}
}

func TestValidateRecordBadCompositionKeepsRecord(t *testing.T) {
	rec, err := newTestValidator().ValidateRecord(rawRecord(map[string]string{
		ColBarcode:     "2103203216754",
		ColQuantity:    "3",
		ColComposition: "хлопок 60% полиэстер 30%",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Composition != nil {
		t.Fatalf("composition=%v want nil", rec.Composition)
	}
}

func TestValidateRecordLocationsAndUnit(t *testing.T) {
	rec, err := newTestValidator().ValidateRecord(rawRecord(map[string]string{
		ColBarcode:         "2103203216754",
		ColQuantity:        "3",
		ColStorageLocation: " A-1,  B-2 ,,A-1",
		ColUnit:            "упаковка",
		ColPrice:           "1 299,90",
		ColStock:           "оформляется",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.StorageLocations) != 2 || rec.StorageLocations[0] != "A-1" || rec.StorageLocations[1] != "B-2" {
		t.Fatalf("locations=%v", rec.StorageLocations)
	}
	if rec.Unit != internal.UnitPack {
		t.Fatalf("unit=%s", rec.Unit)
	}
	if rec.Price == nil || rec.Price.String() != "1299.9" {
		t.Fatalf("price=%v", rec.Price)
	}
	if rec.Stock != nil {
		t.Fatalf("stock=%v want nil", rec.Stock)
	}

	empty, _ := newTestValidator().ValidateRecord(rawRecord(map[string]string{ColBarcode: "2103203216754", ColQuantity: "1"}))
	if empty.StorageLocations != nil {
		t.Fatalf("locations=%v want nil", empty.StorageLocations)
	}
	if empty.Unit != internal.UnitSet {
		t.Fatalf("unit=%s want default", empty.Unit)
	}
}

func TestValidateCountsDrops(t *testing.T) {
	records := []internal.RawRecord{
		rawRecord(map[string]string{ColBarcode: "2103203216754", ColQuantity: "1"}),
		rawRecord(map[string]string{ColBarcode: "123", ColQuantity: "1"}),
		rawRecord(map[string]string{ColBarcode: "2103203216754"}),
	}
	out, summary := newTestValidator().Validate(records)
	if len(out) != 1 || summary.Accepted != 1 || summary.Dropped != 2 || summary.Total != 3 {
		t.Fatalf("out=%d summary=%+v", len(out), summary)
	}
}

func TestStripIrrelevant(t *testing.T) {
	rec := internal.RawRecord{
		Keys:   []string{ColBarcode, ColDescription, ColDiscount, ColFactory},
		Fields: map[string]string{ColBarcode: "1", ColDescription: "Лучшая ткань", ColDiscount: "10%", ColFactory: "Текстиль"},
	}
	got := StripIrrelevant(rec)
	if len(got.Keys) != 2 || got.Has(ColDescription) || got.Has(ColDiscount) || !got.Has(ColFactory) {
		t.Fatalf("got %+v", got)
	}
	if !rec.Has(ColDescription) {
		t.Fatal("input record was modified")
	}
}

func TestNormalizeUnit(t *testing.T) {
	cases := map[string]internal.Unit{
		"м":      internal.UnitMeter,
		"пог. м": internal.UnitMeter,
		"ШТ.":    internal.UnitPiece,
		"кг":     internal.UnitKilogram,
		"компл":  internal.UnitSet,
		"рулон":  internal.UnitSet,
		"":       internal.UnitSet,
	}
	for input, want := range cases {
		if got := NormalizeUnit(input); got != want {
			t.Fatalf("%q: got %s want %s", input, got, want)
		}
	}
}
