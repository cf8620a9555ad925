package sheet

import (
	"io"
	"strings"
	"testing"
)

// chunkReader caps every Read at size bytes to exercise sequences cut
// at read boundaries.
type chunkReader struct {
	r    io.Reader
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > c.size {
		p = p[:c.size]
	}
	return c.r.Read(p)
}

// ----------------------------------------------------------------
// BOM Reader Tests
// ----------------------------------------------------------------

func TestBOMReader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"strips BOM", "\xEF\xBB\xBFCategory,Date", "Category,Date"},
		{"no BOM passthrough", "Category,Date", "Category,Date"},
		{"BOM only", "\xEF\xBB\xBF", ""},
		{"partial BOM kept", "\xEF\xBB", "\xEF\xBB"},
		{"short input", "ab", "ab"},
		{"empty input", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newBOMReader(strings.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("ReadAll() error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("read %q, want %q", got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------
// UTF-8 Reader Tests
// ----------------------------------------------------------------

func TestUTF8Reader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"valid passthrough", "héllo wörld", "héllo wörld"},
		{"invalid byte replaced", "bad\xFFbyte", "bad?byte"},
		{"latin1 byte at end", "caf\xE9", "caf?"},
		{"orphan lead byte mid-string", "a\xC3b", "a?b"},
		{"continuation byte alone", "a\x94b", "a?b"},
		{"emoji preserved", "done 🙂", "done 🙂"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newUTF8Reader(strings.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("ReadAll() error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("read %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUTF8ReaderSplitAcrossReads(t *testing.T) {
	// One byte per Read forces every multi-byte rune through the
	// pending buffer.
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"two-byte rune", "héllo", "héllo"},
		{"four-byte rune", "ok 🙂 end", "ok 🙂 end"},
		{"rune cut at EOF", "end\xF0\x9F", "end??"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newUTF8Reader(&chunkReader{r: strings.NewReader(tt.input), size: 1})
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll() error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("read %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapReader(t *testing.T) {
	got, err := io.ReadAll(wrapReader(strings.NewReader("\xEF\xBB\xBFname\xFF")))
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if string(got) != "name?" {
		t.Errorf("read %q, want %q", got, "name?")
	}
}
