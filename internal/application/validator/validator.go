// Package validator implements field-level format validation and
// normalization, and the column-mapping confidence checks that decide
// whether a sheet's mapping can be trusted without manual review.
package validator

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/colmap/colmap/internal/domain"
)

var patterns = map[domain.FieldType]*regexp.Regexp{
	domain.FieldTypePhone:  regexp.MustCompile(`^1[3-9]\d{9}$`),
	domain.FieldTypeEmail:  regexp.MustCompile(`^[\w.-]+@[\w.-]+\.\w+$`),
	domain.FieldTypeURL:    regexp.MustCompile(`^https?://`),
	domain.FieldTypeDate:   regexp.MustCompile(`^\d{4}[-/]\d{1,2}[-/]\d{1,2}$`),
	domain.FieldTypeNumber: regexp.MustCompile(`^-?\d+(\.\d+)?$`),
}

var typeNames = map[domain.FieldType]string{
	domain.FieldTypePhone:  "phone number",
	domain.FieldTypeEmail:  "email address",
	domain.FieldTypeURL:    "URL",
	domain.FieldTypeDate:   "date",
	domain.FieldTypeNumber: "number",
}

// Validate checks one value against a field's required flag, built-in type
// pattern, and optional custom validation rule. It returns an empty string
// when the value is valid.
func Validate(value string, field *domain.Field) string {
	trimmed := strings.TrimSpace(value)

	if field.Required() && trimmed == "" {
		return "required field cannot be empty"
	}
	if trimmed == "" {
		return ""
	}

	if pattern, ok := patterns[field.Type()]; ok && !pattern.MatchString(trimmed) {
		name := typeNames[field.Type()]
		if name == "" {
			name = string(field.Type())
		}
		return "invalid format, expected " + name
	}

	if rule := field.ValidationRule(); rule != "" {
		if re, err := regexp.Compile(rule); err == nil {
			if !re.MatchString(trimmed) {
				return "does not match custom validation rule"
			}
		}
		// An invalid custom rule is treated as absent, mirroring the
		// original's tolerant re.error handling.
	}

	return ""
}

// ValidateRecord validates every field of a record, returning one
// "label: message" string per failing field.
func ValidateRecord(record map[string]string, fields []*domain.Field) []string {
	var errs []string
	for _, f := range fields {
		if msg := Validate(record[f.Name()], f); msg != "" {
			errs = append(errs, f.Label()+": "+msg)
		}
	}
	return errs
}

// Normalize applies the field-type-specific normalization rule to a single
// value. Unknown types and blank values pass through unchanged (after
// trimming).
func Normalize(value string, fieldType domain.FieldType) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return trimmed
	}
	switch fieldType {
	case domain.FieldTypePhone:
		return normalizePhone(trimmed)
	case domain.FieldTypeEmail:
		return strings.ToLower(trimmed)
	case domain.FieldTypeDate:
		return normalizeDate(trimmed)
	case domain.FieldTypeNumber:
		return normalizeNumber(trimmed)
	default:
		return trimmed
	}
}

// NormalizeRecord applies Normalize to every field the record declares a
// value for, leaving fields absent from the record as empty strings.
func NormalizeRecord(record map[string]string, fields []*domain.Field) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if v, ok := record[f.Name()]; ok {
			out[f.Name()] = Normalize(v, f.Type())
		} else {
			out[f.Name()] = ""
		}
	}
	return out
}

var nonDigits = regexp.MustCompile(`\D`)

func normalizePhone(value string) string {
	digits := nonDigits.ReplaceAllString(value, "")
	if strings.HasPrefix(digits, "86") && len(digits) == 13 {
		digits = digits[2:]
	}
	return digits
}

var dateRe = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})`)

func normalizeDate(value string) string {
	normalized := strings.ReplaceAll(value, "/", "-")
	m := dateRe.FindStringSubmatch(normalized)
	if m == nil {
		return normalized
	}
	year, month, day := m[1], m[2], m[3]
	if len(month) == 1 {
		month = "0" + month
	}
	if len(day) == 1 {
		day = "0" + day
	}
	return year + "-" + month + "-" + day
}

func normalizeNumber(value string) string {
	normalized := strings.ReplaceAll(value, ",", "")
	n, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return normalized
	}
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// HighConfidenceThreshold is the mapping confidence at or above which a sheet's
// column mapping is trusted without manual review.
const HighConfidenceThreshold = 0.8

// ValidateConfidence reports whether a mapping's confidence score is
// usable at all, and a human-readable note about the confidence tier.
func ValidateConfidence(confidence float64) (bool, string) {
	switch {
	case confidence >= HighConfidenceThreshold:
		return true, "high confidence, safe to auto-import"
	case confidence >= 0.5:
		return true, "medium confidence, recommend spot-checking"
	default:
		return false, "low confidence, recommend manual confirmation"
	}
}

// CheckRequiredFieldsMapped reports whether every required field in fields
// has a column mapped to it, returning the labels of any that do not.
func CheckRequiredFieldsMapped(mapping domain.ColumnMapping, fields []*domain.Field) (bool, []string) {
	mapped := make(map[string]bool, len(mapping.ColumnToField))
	for _, name := range mapping.ColumnToField {
		mapped[name] = true
	}

	var unmapped []string
	for _, f := range fields {
		if f.Required() && !mapped[f.Name()] {
			unmapped = append(unmapped, f.Label())
		}
	}
	return len(unmapped) == 0, unmapped
}
