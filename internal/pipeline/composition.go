package pipeline

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"remaininggoods/internal/util"
)

var (
	percentToken     = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*%`)
	compositionLabel = regexp.MustCompile(`^(?:состав|composition)\s*:?\s*`)

	abbreviations = strings.NewReplacer(
		"п/э", "полиэстер",
		"п/а", "полиамид",
		"метанить", "металлизированная нить",
		"альпаки", "альпака",
	)
)

// ParseComposition reads "Вискоза 97% Эластан 3%" or "97% вискоза, 3% эластан"
// into material -> percent. The second result is false when the text has no
// percentages or they do not add up to exactly 100.
func ParseComposition(text string) (map[string]float64, bool) {
	s := abbreviations.Replace(strings.ToLower(util.CollapseSpaces(text)))
	locs := percentToken.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		return nil, false
	}

	numberFirst := cleanMaterial(s[:locs[0][0]]) == ""
	out := map[string]float64{}
	sum := 0.0
	for i, loc := range locs {
		value, ok := util.ParseNumber(s[loc[2]:loc[3]])
		if !ok {
			return nil, false
		}

		var segment string
		if numberFirst {
			end := len(s)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			segment = s[loc[1]:end]
		} else {
			start := 0
			if i > 0 {
				start = locs[i-1][1]
			}
			segment = s[start:loc[0]]
		}

		name := cleanMaterial(segment)
		if name == "" {
			return nil, false
		}
		out[util.CapitalizeFirst(name)] += value
		sum += value
	}

	if math.Abs(sum-100) > 1e-9 {
		return out, false
	}
	return out, true
}

func cleanMaterial(segment string) string {
	s := compositionLabel.ReplaceAllString(strings.TrimSpace(segment), "")
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || r == '+'
	})
	s = strings.TrimSuffix(s, " и")
	s = strings.TrimPrefix(s, "и ")
	return util.CollapseSpaces(s)
}
