package util

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	numberPattern    = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	thousandsComma   = regexp.MustCompile(`^-?\d{1,3}(?:,\d{3}){2,}$`)
	groupedDecimal   = regexp.MustCompile(`^-?\d{1,3}(?:\.\d{3})+,\d+$`)
	plainNumberToken = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
)

// ParseNumber parses a field that must hold a single number. Both comma and dot
// decimal separators are accepted, as are space-grouped thousands. A lone dot
// is always a decimal separator: "2.125" is two and a bit metres, not 2125.
func ParseNumber(input string) (float64, bool) {
	norm, ok := numericField(input)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(norm, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

// ParseDecimal is ParseNumber for money and stock amounts.
func ParseDecimal(input string) (decimal.Decimal, bool) {
	norm, ok := numericField(input)
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(norm)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// FirstNumber returns the first numeric token found anywhere in free text.
func FirstNumber(input string) (float64, bool) {
	token := numberPattern.FindString(input)
	if token == "" {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(strings.ReplaceAll(token, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func numericField(input string) (string, bool) {
	s := strings.ReplaceAll(input, "\u00A0", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	norm := normalizeNumericToken(s)
	if !plainNumberToken.MatchString(norm) {
		return "", false
	}
	return norm, true
}

func normalizeNumericToken(token string) string {
	compact := strings.ReplaceAll(token, " ", "")
	if groupedDecimal.MatchString(compact) {
		return strings.ReplaceAll(strings.ReplaceAll(compact, ".", ""), ",", ".")
	}
	if thousandsComma.MatchString(compact) {
		return strings.ReplaceAll(compact, ",", "")
	}
	if strings.Contains(compact, ",") && !strings.Contains(compact, ".") {
		return strings.ReplaceAll(compact, ",", ".")
	}
	return compact
}

func StringPtr(v string) *string { return &v }

func FloatPtr(v float64) *float64 { return &v }
