package sheet

// CSV uploads arrive from spreadsheet tools that prepend byte order
// marks and from exports with broken encodings. The readers here fix
// both on the fly so csv.Reader sees clean UTF-8 without the file ever
// being buffered whole.

import (
	"io"
	"unicode/utf8"
)

// wrapReader stacks the CSV hygiene transforms: BOM stripping first,
// then UTF-8 sanitizing.
func wrapReader(r io.Reader) io.Reader {
	return newUTF8Reader(newBOMReader(r))
}

// bomReader strips a UTF-8 byte order mark from the start of a stream.
type bomReader struct {
	r       io.Reader
	checked bool
	buf     []byte
}

func newBOMReader(r io.Reader) *bomReader {
	return &bomReader{r: r}
}

func (b *bomReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true

		head := make([]byte, 3)
		n, err := io.ReadFull(b.r, head)
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		isBOM := n == 3 && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF
		if n > 0 && !isBOM {
			b.buf = head[:n]
		}
		if len(b.buf) == 0 && err == io.EOF {
			return 0, io.EOF
		}
	}

	if len(b.buf) > 0 {
		n := copy(p, b.buf)
		b.buf = b.buf[n:]
		return n, nil
	}
	return b.r.Read(p)
}

// utf8Reader replaces invalid UTF-8 with '?' on the fly. A multi-byte
// sequence cut at a read boundary is held back for the next call; the
// one-byte replacement keeps the transform from growing the buffer.
type utf8Reader struct {
	r       io.Reader
	pending []byte
}

func newUTF8Reader(r io.Reader) *utf8Reader {
	return &utf8Reader{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (u *utf8Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(u.pending) > 0 {
		offset = copy(p, u.pending)
		u.pending = u.pending[:0]
	}

	n, err := u.r.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}
	return u.sanitize(p[:n], err == io.EOF), err
}

// sanitize rewrites data in place and returns the number of bytes kept.
// Unless atEOF, an incomplete trailing sequence moves to pending.
func (u *utf8Reader) sanitize(data []byte, atEOF bool) int {
	if utf8.Valid(data) {
		return len(data)
	}

	write := 0
	for read := 0; read < len(data); {
		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			if !atEOF && runeLen(data[read]) > len(data)-read {
				u.pending = append(u.pending, data[read:]...)
				return write
			}
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// runeLen returns the encoded length implied by a leading byte, 0 for
// continuation bytes.
func runeLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}
