// Package layout walks declarative field lists over byte buffers.
//
// A Layout is an ordered list of fields. Each field has a width that is
// either a literal byte count, a little-endian integer encoding, the value
// of an earlier integer field, or the rest of the buffer. Parse never fails
// on short input: fields that do not fit are filled with empty defaults so
// that payloads from older senders, which omit newer trailing fields, still
// decode.
package layout

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Encoding selects how the bytes of a field are stored in a Record.
type Encoding int

const (
	// Binary keeps the raw bytes.
	Binary Encoding = iota
	// UTF8 decodes the bytes as text. Invalid sequences become U+FFFD.
	UTF8
)

type widthKind int

const (
	widthFixed widthKind = iota
	widthUint8
	widthUint16
	widthUint32
	widthInt32
	widthFromField
	widthRest
)

// Width describes how many bytes a field occupies.
type Width struct {
	kind widthKind
	n    int
	key  string
}

// Fixed is a literal byte count.
func Fixed(n int) Width { return Width{kind: widthFixed, n: n} }

// Uint8 is a one byte unsigned integer.
func Uint8() Width { return Width{kind: widthUint8, n: 1} }

// Uint16 is a little-endian unsigned 16-bit integer.
func Uint16() Width { return Width{kind: widthUint16, n: 2} }

// Uint32 is a little-endian unsigned 32-bit integer.
func Uint32() Width { return Width{kind: widthUint32, n: 4} }

// Int32 is a little-endian signed 32-bit integer.
func Int32() Width { return Width{kind: widthInt32, n: 4} }

// FromField takes its byte count from an integer field declared earlier in
// the same layout.
func FromField(key string) Width { return Width{kind: widthFromField, key: key} }

// Rest consumes every remaining byte, possibly none.
func Rest() Width { return Width{kind: widthRest} }

// Numeric reports whether the field value is a decoded integer.
func (w Width) Numeric() bool {
	switch w.kind {
	case widthUint8, widthUint16, widthUint32, widthInt32:
		return true
	}
	return false
}

func (w Width) String() string {
	switch w.kind {
	case widthFixed:
		return fmt.Sprintf("fixed(%d)", w.n)
	case widthUint8:
		return "uint8"
	case widthUint16:
		return "uint16le"
	case widthUint32:
		return "uint32le"
	case widthInt32:
		return "int32le"
	case widthFromField:
		return "from(" + w.key + ")"
	case widthRest:
		return "rest"
	}
	return "unknown"
}

// Field is one entry of a Layout.
type Field struct {
	Key      string
	Width    Width
	Encoding Encoding
}

// Layout is an ordered list of fields describing one message shape.
type Layout []Field

// Keys returns the declared keys in order.
func (l Layout) Keys() []string {
	keys := make([]string, len(l))
	for i, f := range l {
		keys[i] = f.Key
	}
	return keys
}

// Validate checks that keys are unique and that every FromField width
// references a numeric field declared strictly earlier.
func (l Layout) Validate() error {
	seen := make(map[string]Width, len(l))
	for i, f := range l {
		if f.Key == "" {
			return fmt.Errorf("field %d: empty key", i)
		}
		if _, dup := seen[f.Key]; dup {
			return fmt.Errorf("field %q: duplicate key", f.Key)
		}
		if f.Width.kind == widthFixed && f.Width.n < 0 {
			return fmt.Errorf("field %q: negative width %d", f.Key, f.Width.n)
		}
		if f.Width.kind == widthFromField {
			ref, ok := seen[f.Width.key]
			if !ok {
				return fmt.Errorf("field %q: width references %q which is not declared earlier", f.Key, f.Width.key)
			}
			if !ref.Numeric() {
				return fmt.Errorf("field %q: width references non-numeric field %q", f.Key, f.Width.key)
			}
		}
		seen[f.Key] = f.Width
	}
	return nil
}

// Must builds a Layout and panics if it is invalid. Meant for package-level
// layout tables.
func Must(fields ...Field) Layout {
	l := Layout(fields)
	if err := l.Validate(); err != nil {
		panic("layout: " + err.Error())
	}
	return l
}

// Parse decodes buf starting at offset according to l. The returned record
// always holds exactly the keys declared by l.
func Parse(buf []byte, l Layout, offset int) Record {
	record := make(Record, len(l))
	cursor := offset
	if cursor < 0 {
		cursor = 0
	}

	for _, f := range l {
		remaining := 0
		if cursor < len(buf) {
			remaining = len(buf) - cursor
		}

		width := resolveWidth(f, record, remaining)
		if width < 0 || width > remaining {
			break
		}

		raw := buf[cursor : cursor+width]
		record[f.Key] = decodeValue(f, raw)
		cursor += width
	}

	for _, f := range l {
		if _, ok := record[f.Key]; !ok {
			record[f.Key] = emptyValue(f)
		}
	}

	return record
}

func resolveWidth(f Field, record Record, remaining int) int {
	switch f.Width.kind {
	case widthFixed, widthUint8, widthUint16, widthUint32, widthInt32:
		return f.Width.n
	case widthRest:
		return remaining
	case widthFromField:
		value, ok := record[f.Width.key]
		if !ok {
			panic(fmt.Sprintf("layout: field %q width references unparsed field %q", f.Key, f.Width.key))
		}
		n, ok := value.(int)
		if !ok {
			panic(fmt.Sprintf("layout: field %q width references non-numeric field %q", f.Key, f.Width.key))
		}
		return n
	}
	panic(fmt.Sprintf("layout: field %q has unknown width kind %d", f.Key, f.Width.kind))
}

func decodeValue(f Field, raw []byte) any {
	switch f.Width.kind {
	case widthUint8:
		return int(raw[0])
	case widthUint16:
		return int(binary.LittleEndian.Uint16(raw))
	case widthUint32:
		return int(binary.LittleEndian.Uint32(raw))
	case widthInt32:
		return int(int32(binary.LittleEndian.Uint32(raw)))
	}

	if f.Encoding == UTF8 {
		return strings.ToValidUTF8(string(raw), "�")
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out
}

func emptyValue(f Field) any {
	if f.Width.Numeric() {
		return 0
	}
	if f.Encoding == UTF8 {
		return ""
	}
	return []byte{}
}
