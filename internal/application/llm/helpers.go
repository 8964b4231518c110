package llm

import (
	"regexp"
	"strings"
)

// SuggestFieldName proposes a snake_case logical name from a human label.
// It is never called from the core mapping path; it exists for callers that
// want to pre-populate a field form from a column header.
func SuggestFieldName(label string) string {
	s := strings.TrimSpace(label)
	s = strings.ToLower(s)
	s = regexp.MustCompile(`[^a-z0-9]+`).ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// fieldTypeGuess maps common label substrings to a default field type,
// used only by SuggestFieldType below.
var fieldTypeGuess = []struct {
	contains string
	ftype    string
}{
	{"phone", "phone"},
	{"mobile", "phone"},
	{"email", "email"},
	{"mail", "email"},
	{"url", "url"},
	{"website", "url"},
	{"date", "date"},
	{"amount", "number"},
	{"price", "number"},
	{"count", "number"},
	{"qty", "number"},
}

// SuggestFieldType proposes a default field type from a label, used by the
// same non-core form-prefill path as SuggestFieldName.
func SuggestFieldType(label string) string {
	lower := strings.ToLower(label)
	for _, g := range fieldTypeGuess {
		if strings.Contains(lower, g.contains) {
			return g.ftype
		}
	}
	return "text"
}

// IsLikelyHeaderRow classifies a sample row as a probable header: it has at
// least one non-empty cell and no non-empty cell is purely numeric. Row
// length is not considered. This is a coarse, optional preview only —
// the authoritative header_row determination always comes from the mapping
// call itself.
func IsLikelyHeaderRow(row []string) bool {
	numericPattern := regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	nonEmpty := 0
	for _, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		nonEmpty++
		if numericPattern.MatchString(cell) {
			return false
		}
	}
	return nonEmpty > 0
}
