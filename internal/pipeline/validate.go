package pipeline

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"remaininggoods/internal"
	"remaininggoods/internal/util"
)

var (
	ErrInvalidBarcode  = errors.New("barcode is not 13 digits")
	ErrInvalidQuantity = errors.New("quantity is not a number")
)

var widthKeyword = regexp.MustCompile(`(?i)ширин\p{L}*\.?\s*[:\-]?\s*(\d+(?:[.,]\d+)?)`)

type ValidationOptions struct {
	MaxWidth float64
	// AllowInvalidEAN silences the checksum notice for shops that print
	// internal 13-digit codes.
	AllowInvalidEAN bool
}

type Validator struct {
	opts ValidationOptions
	log  *slog.Logger
}

func NewValidator(opts ValidationOptions, log *slog.Logger) *Validator {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 200
	}
	return &Validator{opts: opts, log: log}
}

func (v *Validator) Validate(records []internal.RawRecord) ([]internal.ValidatedRecord, internal.ValidationSummary) {
	summary := internal.ValidationSummary{Total: len(records)}
	out := make([]internal.ValidatedRecord, 0, len(records))
	for _, raw := range records {
		rec, err := v.ValidateRecord(raw)
		if err != nil {
			summary.Dropped++
			v.log.Warn("record dropped", "line", raw.Line, "barcode", raw.Get(ColBarcode), "quantity", raw.Get(ColQuantity), "reason", err.Error())
			continue
		}
		out = append(out, rec)
	}
	summary.Accepted = len(out)
	return out, summary
}

// ValidateRecord applies the hard gates (barcode shape, quantity) and then the
// soft rules, which null a field instead of rejecting the row.
func (v *Validator) ValidateRecord(raw internal.RawRecord) (internal.ValidatedRecord, error) {
	barcode := raw.Get(ColBarcode)
	if len(barcode) != 13 || !util.IsDigits(barcode) {
		return internal.ValidatedRecord{}, ErrInvalidBarcode
	}
	qty, ok := util.ParseDecimal(raw.Get(ColQuantity))
	if !ok {
		return internal.ValidatedRecord{}, ErrInvalidQuantity
	}

	log := v.log.With("line", raw.Line, "barcode", barcode)
	out := internal.ValidatedRecord{
		Line:          raw.Line,
		Barcode:       barcode,
		ChecksumValid: ValidEAN13(barcode),
		Quantity:      qty,
		Width:         v.resolveWidth(raw),
	}
	if !out.ChecksumValid && !v.opts.AllowInvalidEAN {
		log.Info("barcode fails EAN-13 checksum, keeping it")
	}

	rec := StripIrrelevant(raw)
	out.Article = rec.Get(ColArticle)
	out.ProductName = util.CollapseSpaces(util.FirstNonEmpty(rec.Get(ColProductName), out.Article))
	out.Manufacturer = util.CollapseSpaces(rec.Get(ColFactory))
	out.Country = util.CollapseSpaces(rec.Get(ColFactoryCountry))
	out.Unit = NormalizeUnit(rec.Get(ColUnit))
	out.StorageLocations = util.SplitList(rec.Get(ColStorageLocation), ",")

	if stock, ok := util.ParseDecimal(rec.Get(ColStock)); ok {
		out.Stock = &stock
	}
	if price, ok := util.ParseDecimal(rec.Get(ColPrice)); ok {
		out.Price = &price
	}

	if text := rec.Get(ColComposition); text != "" {
		comp, ok := ParseComposition(text)
		if ok {
			out.Composition = comp
		} else {
			log.Warn("composition discarded", "text", text, "parsed", comp)
		}
	}

	return out, nil
}

// resolveWidth takes the first number of the width column, then the
// description: a number labelled "ширина" wins over its first number. Values
// outside (0, MaxWidth] count as absent.
func (v *Validator) resolveWidth(raw internal.RawRecord) *float64 {
	if w, ok := util.FirstNumber(raw.Get(ColWidth)); ok && v.widthInRange(w) {
		return util.FloatPtr(w)
	}
	description := raw.Get(ColDescription)
	if m := widthKeyword.FindStringSubmatch(description); m != nil {
		if w, ok := util.ParseNumber(m[1]); ok && v.widthInRange(w) {
			return util.FloatPtr(w)
		}
	}
	if w, ok := util.FirstNumber(description); ok && v.widthInRange(w) {
		return util.FloatPtr(w)
	}
	return nil
}

func (v *Validator) widthInRange(w float64) bool {
	return w > 0 && w <= v.opts.MaxWidth
}

// ValidEAN13 checks the mod-10 check digit of a 13-digit code.
func ValidEAN13(code string) bool {
	if len(code) != 13 || !util.IsDigits(code) {
		return false
	}
	sum := 0
	for i := 0; i < 12; i++ {
		d := int(code[i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return (10-sum%10)%10 == int(code[12]-'0')
}

func NormalizeUnit(value string) internal.Unit {
	u := strings.TrimSuffix(strings.ToLower(util.CollapseSpaces(value)), ".")
	switch u {
	case "м", "метр", "метры", "мп", "пог. м", "пог.м", "п.м", "m":
		return internal.UnitMeter
	case "шт", "штук", "штука", "pcs", "pc":
		return internal.UnitPiece
	case "кг", "kg", "килограмм":
		return internal.UnitKilogram
	case "уп", "упак", "упаковка":
		return internal.UnitPack
	default:
		return internal.UnitSet
	}
}
