package core

import (
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// ParseDate Tests
// ----------------------------------------------------------------------------

func TestParseDate(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantOK    bool
		wantYear  int
		wantMonth time.Month
		wantDay   int
	}{
		// Valid: ISO format (YYYY-MM-DD)
		{
			name:      "ISO format standard",
			input:     "2024-01-15",
			wantOK:    true,
			wantYear:  2024,
			wantMonth: time.January,
			wantDay:   15,
		},
		{
			name:      "ISO format end of year",
			input:     "2024-12-31",
			wantOK:    true,
			wantYear:  2024,
			wantMonth: time.December,
			wantDay:   31,
		},
		{
			name:      "ISO format leap year Feb 29",
			input:     "2024-02-29",
			wantOK:    true,
			wantYear:  2024,
			wantMonth: time.February,
			wantDay:   29,
		},
		{
			name:      "ISO with time",
			input:     "2024-01-15 08:30:00",
			wantOK:    true,
			wantYear:  2024,
			wantMonth: time.January,
			wantDay:   15,
		},
		{
			name:      "ISO with T separator",
			input:     "2024-01-15T08:30:00",
			wantOK:    true,
			wantYear:  2024,
			wantMonth: time.January,
			wantDay:   15,
		},
		{
			name:      "year first with slash",
			input:     "2024/01/15",
			wantOK:    true,
			wantYear:  2024,
			wantMonth: time.January,
			wantDay:   15,
		},

		// Valid: day-first formats
		{
			name:      "day-first dotted",
			input:     "15.01.2024",
			wantOK:    true,
			wantYear:  2024,
			wantMonth: time.January,
			wantDay:   15,
		},
		{
			name:      "day-first slashed",
			input:     "15/01/2024",
			wantOK:    true,
			wantYear:  2024,
			wantMonth: time.January,
			wantDay:   15,
		},
		{
			name:      "day-first single digits",
			input:     "5.1.2024",
			wantOK:    true,
			wantYear:  2024,
			wantMonth: time.January,
			wantDay:   5,
		},
		{
			name:      "ambiguous dotted read day-first",
			input:     "02.01.2026",
			wantOK:    true,
			wantYear:  2026,
			wantMonth: time.January,
			wantDay:   2,
		},
		{
			name:      "day-first dashed",
			input:     "15-01-2024",
			wantOK:    true,
			wantYear:  2024,
			wantMonth: time.January,
			wantDay:   15,
		},

		// Valid: Excel serial dates
		{
			name:      "excel serial",
			input:     "45306",
			wantOK:    true,
			wantYear:  2024,
			wantMonth: time.January,
			wantDay:   15,
		},

		// Valid: whitespace handling
		{
			name:      "surrounded by whitespace",
			input:     "  2024-01-15  ",
			wantOK:    true,
			wantYear:  2024,
			wantMonth: time.January,
			wantDay:   15,
		},

		// Invalid
		{
			name:   "empty string",
			input:  "",
			wantOK: false,
		},
		{
			name:   "only whitespace",
			input:  "   ",
			wantOK: false,
		},
		{
			name:   "not a date",
			input:  "hello world",
			wantOK: false,
		},
		{
			name:   "month 13",
			input:  "2024-13-01",
			wantOK: false,
		},
		{
			name:   "Feb 29 non-leap year",
			input:  "29.02.2023",
			wantOK: false,
		},
		{
			name:   "bare year below serial range",
			input:  "2024",
			wantOK: false,
		},
		{
			name:   "serial beyond range",
			input:  "9999999",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)

			if ok != tt.wantOK {
				t.Errorf("ParseDate(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
				return
			}

			if tt.wantOK {
				if got.Year() != tt.wantYear {
					t.Errorf("ParseDate(%q).Year = %d, want %d", tt.input, got.Year(), tt.wantYear)
				}
				if got.Month() != tt.wantMonth {
					t.Errorf("ParseDate(%q).Month = %v, want %v", tt.input, got.Month(), tt.wantMonth)
				}
				if got.Day() != tt.wantDay {
					t.Errorf("ParseDate(%q).Day = %d, want %d", tt.input, got.Day(), tt.wantDay)
				}
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseNumber Tests
// ----------------------------------------------------------------------------

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantOK bool
		want   float64
	}{
		// Valid: basic
		{
			name:   "positive integer",
			input:  "123",
			wantOK: true,
			want:   123,
		},
		{
			name:   "zero",
			input:  "0",
			wantOK: true,
			want:   0,
		},
		{
			name:   "negative integer",
			input:  "-456",
			wantOK: true,
			want:   -456,
		},
		{
			name:   "decimal number",
			input:  "123.45",
			wantOK: true,
			want:   123.45,
		},
		{
			name:   "leading decimal point",
			input:  ".99",
			wantOK: true,
			want:   0.99,
		},

		// Valid: currency and separators
		{
			name:   "dollar with thousands",
			input:  "$1,234.56",
			wantOK: true,
			want:   1234.56,
		},
		{
			name:   "euro sign",
			input:  "€1234.56",
			wantOK: true,
			want:   1234.56,
		},
		{
			name:   "millions with separators",
			input:  "1,000,000",
			wantOK: true,
			want:   1000000,
		},

		// Valid: accounting negatives
		{
			name:   "accounting negative parentheses",
			input:  "(123.45)",
			wantOK: true,
			want:   -123.45,
		},
		{
			name:   "accounting negative with currency",
			input:  "($1,234.56)",
			wantOK: true,
			want:   -1234.56,
		},

		// Valid: scientific notation
		{
			name:   "scientific notation",
			input:  "1.5e3",
			wantOK: true,
			want:   1500,
		},

		// Valid: whitespace
		{
			name:   "surrounded by whitespace",
			input:  "  123.45  ",
			wantOK: true,
			want:   123.45,
		},
		{
			name:   "explicit positive sign",
			input:  "+123",
			wantOK: true,
			want:   123,
		},

		// Invalid
		{
			name:   "empty string",
			input:  "",
			wantOK: false,
		},
		{
			name:   "only whitespace",
			input:  "   ",
			wantOK: false,
		},
		{
			name:   "alphabetic string",
			input:  "abc",
			wantOK: false,
		},
		{
			name:   "mixed alphanumeric",
			input:  "12abc34",
			wantOK: false,
		},
		{
			name:   "only currency symbol",
			input:  "$",
			wantOK: false,
		},
		{
			name:   "multiple decimal points",
			input:  "12.34.56",
			wantOK: false,
		},
		{
			name:   "double negative",
			input:  "--123",
			wantOK: false,
		},
		{
			name:   "NaN",
			input:  "NaN",
			wantOK: false,
		},
		{
			name:   "Infinity",
			input:  "Infinity",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumber(tt.input)

			if ok != tt.wantOK {
				t.Errorf("ParseNumber(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
				return
			}
			if tt.wantOK && got != tt.want {
				t.Errorf("ParseNumber(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseBool Tests
// ----------------------------------------------------------------------------

func TestParseBool(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantOK bool
		want   bool
	}{
		{name: "true lowercase", input: "true", wantOK: true, want: true},
		{name: "TRUE uppercase", input: "TRUE", wantOK: true, want: true},
		{name: "yes", input: "yes", wantOK: true, want: true},
		{name: "y", input: "y", wantOK: true, want: true},
		{name: "t", input: "t", wantOK: true, want: true},
		{name: "1 as true", input: "1", wantOK: true, want: true},
		{name: "false lowercase", input: "false", wantOK: true, want: false},
		{name: "No mixed case", input: "No", wantOK: true, want: false},
		{name: "n", input: "n", wantOK: true, want: false},
		{name: "f", input: "f", wantOK: true, want: false},
		{name: "0 as false", input: "0", wantOK: true, want: false},
		{name: "surrounded by whitespace", input: "  yes  ", wantOK: true, want: true},
		{name: "empty string", input: "", wantOK: false},
		{name: "maybe", input: "maybe", wantOK: false},
		{name: "number 2", input: "2", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseBool(tt.input)

			if ok != tt.wantOK {
				t.Errorf("ParseBool(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
				return
			}
			if tt.wantOK && got != tt.want {
				t.Errorf("ParseBool(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// CoerceValue Tests
// ----------------------------------------------------------------------------

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name     string
		dataType DataType
		input    string
		wantErr  bool
		wantCol  string // expected Value.Column(), "" for zero value
		wantDisp string // expected Value.Display()
	}{
		{
			name:     "number",
			dataType: TypeNumber,
			input:    "42.5",
			wantCol:  "value_number",
			wantDisp: "42.5",
		},
		{
			name:     "number with currency",
			dataType: TypeNumber,
			input:    "$1,200",
			wantCol:  "value_number",
			wantDisp: "1200",
		},
		{
			name:     "text",
			dataType: TypeText,
			input:    "morning run",
			wantCol:  "value_text",
			wantDisp: "morning run",
		},
		{
			name:     "datetime",
			dataType: TypeDateTime,
			input:    "2024-03-01",
			wantCol:  "value_datetime",
			wantDisp: "2024-03-01",
		},
		{
			name:     "datetime day-first",
			dataType: TypeDateTime,
			input:    "01.03.2024",
			wantCol:  "value_datetime",
			wantDisp: "2024-03-01",
		},
		{
			name:     "boolean yes",
			dataType: TypeBoolean,
			input:    "yes",
			wantCol:  "value_boolean",
			wantDisp: "true",
		},
		{
			name:     "link stored as text",
			dataType: TypeLink,
			input:    "https://example.com/run",
			wantCol:  "value_text",
			wantDisp: "https://example.com/run",
		},
		{
			name:     "image stored as text",
			dataType: TypeImage,
			input:    "https://example.com/pic.jpg",
			wantCol:  "value_text",
			wantDisp: "https://example.com/pic.jpg",
		},
		{
			name:     "empty cell is zero value",
			dataType: TypeNumber,
			input:    "",
			wantCol:  "",
			wantDisp: "",
		},
		{
			name:     "whitespace cell is zero value",
			dataType: TypeText,
			input:    "   ",
			wantCol:  "",
			wantDisp: "",
		},
		{
			name:     "excel formula prefix stripped",
			dataType: TypeText,
			input:    `="note"`,
			wantCol:  "value_text",
			wantDisp: "note",
		},
		{
			name:     "bad number",
			dataType: TypeNumber,
			input:    "fast",
			wantErr:  true,
		},
		{
			name:     "bad date",
			dataType: TypeDateTime,
			input:    "yesterday",
			wantErr:  true,
		},
		{
			name:     "bad boolean",
			dataType: TypeBoolean,
			input:    "maybe",
			wantErr:  true,
		},
		{
			name:     "unknown data type",
			dataType: DataType("bytes"),
			input:    "x",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceValue(tt.dataType, tt.input)

			if (err != nil) != tt.wantErr {
				t.Fatalf("CoerceValue(%v, %q) error = %v, wantErr %v", tt.dataType, tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Column() != tt.wantCol {
				t.Errorf("CoerceValue(%v, %q).Column() = %q, want %q", tt.dataType, tt.input, got.Column(), tt.wantCol)
			}
			if got.Display() != tt.wantDisp {
				t.Errorf("CoerceValue(%v, %q).Display() = %q, want %q", tt.dataType, tt.input, got.Display(), tt.wantDisp)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// CleanCell Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple string unchanged",
			input: "hello",
			want:  "hello",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "surrounded by whitespace",
			input: "  hello  ",
			want:  "hello",
		},
		{
			name:  "BOM stripped",
			input: "\uFEFFType",
			want:  "Type",
		},
		{
			name:  "Excel formula with quotes",
			input: `="hello"`,
			want:  "hello",
		},
		{
			name:  "bare equals sign",
			input: "=SUM(A1)",
			want:  "SUM(A1)",
		},
		{
			name:  "double quotes removed",
			input: `"hello"`,
			want:  "hello",
		},
		{
			name:  "leading single quote",
			input: "'12345",
			want:  "12345",
		},
		{
			name:  "whitespace and quotes",
			input: `  "hello"  `,
			want:  "hello",
		},
		{
			name:  "only quotes",
			input: `""`,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanCell(tt.input)
			if got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// MakeHeaderIndex Tests
// ----------------------------------------------------------------------------

func TestMakeHeaderIndex(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		checks map[string]int // key -> expected index
	}{
		{
			name:   "simple headers",
			header: []string{"Type", "Level", "Area"},
			checks: map[string]int{
				"type":  0,
				"level": 1,
				"area":  2,
			},
		},
		{
			name:   "case insensitive lookup",
			header: []string{"TYPE", "Level", "aReA"},
			checks: map[string]int{
				"type":  0,
				"level": 1,
				"area":  2,
			},
		},
		{
			name:   "headers with whitespace",
			header: []string{"  Type  ", " Level ", "Area"},
			checks: map[string]int{
				"type":  0,
				"level": 1,
				"area":  2,
			},
		},
		{
			name:   "empty header",
			header: []string{},
			checks: map[string]int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := MakeHeaderIndex(tt.header)

			for key, wantPos := range tt.checks {
				gotPos, ok := idx[key]
				if !ok {
					t.Errorf("MakeHeaderIndex(%v)[%q] not found, want index %d", tt.header, key, wantPos)
					continue
				}
				if gotPos != wantPos {
					t.Errorf("MakeHeaderIndex(%v)[%q] = %d, want %d", tt.header, key, gotPos, wantPos)
				}
			}
		})
	}
}

// TestMakeHeaderIndex_DuplicateHeaders verifies the first occurrence wins
// so a stray duplicate column cannot silently shift data.
func TestMakeHeaderIndex_DuplicateHeaders(t *testing.T) {
	header := []string{"Type", "Area", "Type"}
	idx := MakeHeaderIndex(header)

	if gotPos, ok := idx["type"]; !ok || gotPos != 0 {
		t.Errorf("MakeHeaderIndex with duplicates: type index = %d, want 0", gotPos)
	}
}

// TestMakeHeaderIndex_BlankColumns verifies blank headers are skipped.
func TestMakeHeaderIndex_BlankColumns(t *testing.T) {
	header := []string{"Type", "", "  ", "Area"}
	idx := MakeHeaderIndex(header)

	if len(idx) != 2 {
		t.Errorf("MakeHeaderIndex(%v) has %d keys, want 2", header, len(idx))
	}
	if gotPos := idx["area"]; gotPos != 3 {
		t.Errorf("MakeHeaderIndex(%v)[area] = %d, want 3", header, gotPos)
	}
}

// ----------------------------------------------------------------------------
// HeaderIndex.Get Tests
// ----------------------------------------------------------------------------

func TestHeaderIndexGet(t *testing.T) {
	idx := MakeHeaderIndex([]string{"Type", "Area", "Category"})
	row := []string{"category", "Health"}

	if got := idx.Get(row, "Type"); got != "category" {
		t.Errorf("Get(Type) = %q, want %q", got, "category")
	}
	if got := idx.Get(row, "Area"); got != "Health" {
		t.Errorf("Get(Area) = %q, want %q", got, "Health")
	}
	// Row shorter than header
	if got := idx.Get(row, "Category"); got != "" {
		t.Errorf("Get(Category) on short row = %q, want empty", got)
	}
	if got := idx.Get(row, "Missing"); got != "" {
		t.Errorf("Get(Missing) = %q, want empty", got)
	}
}
