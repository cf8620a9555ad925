package core

// convert.go provides type conversion for spreadsheet cells going to
// PostgreSQL types.
//
// These functions handle the messy reality of user-edited sheets:
//   - Multiple date formats (ISO, day-first dotted/slashed, Excel serials)
//   - Currency symbols and thousand separators in numbers
//   - Various boolean representations (yes/no, true/false, 1/0)
//   - Excel formula prefixes (="value")
//   - Common artifacts (BOM, stray quotes)
//
// All ToPg* functions return pgtype values with Valid=false for
// empty/invalid input, letting the database handle NULLs.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// numericRegex validates a numeric string after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// Date layouts in priority order. ISO forms are unambiguous; the
// day-first forms match how the sheets are filled in by hand.
// Unpadded layouts also accept zero-padded input.
var (
	isoLayouts = []string{
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006/01/02",
	}
	dayFirstLayouts = []string{
		"2.1.2006",
		"2/1/2006",
		"2-1-2006",
		"2.1.2006 15:04",
		"2.1.2006 15:04:05",
	}
)

// excelEpoch is day zero of Excel's serial date system.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ParseDate parses a cell into a date. Tries ISO layouts first, then
// day-first layouts, then Excel serial numbers (how xlsx stores date
// cells that lose their formatting).
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	// Excel serial dates. The range guard keeps plain numbers like "3"
	// or "2024" from being read as dates.
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial >= 10000 && serial <= 200000 {
			days := int(serial)
			frac := serial - float64(days)
			t := excelEpoch.AddDate(0, 0, days)
			if frac > 0 {
				t = t.Add(time.Duration(frac * 24 * float64(time.Hour)))
			}
			return t, true
		}
	}

	return time.Time{}, false
}

// ParseNumber parses a cell into a float. Handles currency symbols,
// thousands separators, and accounting format (parentheses for
// negative).
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseBool parses a cell into a bool.
// Accepts true/false, yes/no, t/f, y/n, 1/0 in any case.
func ParseBool(s string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	case "":
		return false, false
	default:
		return false, false
	}
}

// ParseOptionalNumber parses a cell into a *float64, nil when empty.
// The second return is false only for non-empty garbage.
func ParseOptionalNumber(s string) (*float64, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, true
	}
	f, ok := ParseNumber(s)
	if !ok {
		return nil, false
	}
	return &f, true
}

// CoerceValue converts a raw cell into a typed Value for the given data
// type. Empty cells produce a zero Value and no error. Link and image
// values are stored as text.
func CoerceValue(dt DataType, raw string) (Value, error) {
	raw = CleanCell(raw)
	if raw == "" {
		return Value{}, nil
	}

	switch dt {
	case TypeNumber:
		f, ok := ParseNumber(raw)
		if !ok {
			return Value{}, fmt.Errorf("%q is not a number", raw)
		}
		return Value{Number: &f}, nil
	case TypeDateTime:
		t, ok := ParseDate(raw)
		if !ok {
			return Value{}, fmt.Errorf("%q is not a date", raw)
		}
		return Value{DateTime: &t}, nil
	case TypeBoolean:
		b, ok := ParseBool(raw)
		if !ok {
			return Value{}, fmt.Errorf("%q is not a boolean", raw)
		}
		return Value{Bool: &b}, nil
	case TypeText, TypeLink, TypeImage:
		return Value{Text: &raw}, nil
	default:
		return Value{}, fmt.Errorf("unknown data type %q", dt)
	}
}

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgBool converts a *bool to pgtype.Bool.
func ToPgBool(b *bool) pgtype.Bool {
	if b == nil {
		return pgtype.Bool{Valid: false}
	}
	return pgtype.Bool{Bool: *b, Valid: true}
}

// ToPgFloat8 converts a *float64 to pgtype.Float8.
func ToPgFloat8(f *float64) pgtype.Float8 {
	if f == nil {
		return pgtype.Float8{Valid: false}
	}
	return pgtype.Float8{Float64: *f, Valid: true}
}

// ToPgTimestamp converts a *time.Time to pgtype.Timestamptz.
func ToPgTimestamp(t *time.Time) pgtype.Timestamptz {
	if t == nil || t.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

// ParseSheetUUID parses a uuid cell. Empty cells return uuid.Nil with
// ok=true; garbage returns ok=false.
func ParseSheetUUID(s string) (uuid.UUID, bool) {
	s = CleanCell(s)
	if s == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// HeaderIndex maps column names (lowercase) to their position in a row.
type HeaderIndex map[string]int

// Get returns the cell under the named column, "" when the column is
// missing or the row is short.
func (idx HeaderIndex) Get(row []string, name string) string {
	i, ok := idx[strings.ToLower(name)]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// MakeHeaderIndex creates a HeaderIndex from a header row.
// Keys are lowercased for case-insensitive matching.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if key == "" {
			continue
		}
		if _, exists := idx[key]; !exists {
			idx[key] = i
		}
	}
	return idx
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace and BOM
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)

	return strings.TrimSpace(s)
}
