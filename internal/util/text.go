package util

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var reSpaces = regexp.MustCompile(`\s+`)

func CollapseSpaces(input string) string {
	s := strings.ReplaceAll(input, "\u00A0", " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// CapitalizeFirst upper-cases the first rune only: "вискоза" -> "Вискоза".
func CapitalizeFirst(input string) string {
	if input == "" {
		return input
	}
	r, size := utf8.DecodeRuneInString(input)
	return string(unicode.ToUpper(r)) + input[size:]
}

// SplitList splits on sep, trims every part and drops empties and repeats,
// keeping first-seen order. Nil when nothing is left.
func SplitList(input, sep string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, part := range strings.Split(input, sep) {
		part = CollapseSpaces(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}

func IsDigits(input string) bool {
	if input == "" {
		return false
	}
	for i := 0; i < len(input); i++ {
		if input[i] < '0' || input[i] > '9' {
			return false
		}
	}
	return true
}

func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
