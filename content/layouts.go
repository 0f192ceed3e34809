package content

import "github.com/dhcgn/sms-bridge/layout"

const (
	fieldImage      = "image"
	fieldBitmap     = "bitmap"
	fieldLenTo      = "len_to"
	fieldLenCc      = "len_cc"
	fieldLenBcc     = "len_bcc"
	fieldLenSubject = "len_subject"
	fieldLenBody    = "len_body"
	fieldTo         = "to"
	fieldCc         = "cc"
	fieldBcc        = "bcc"
	fieldSubject    = "subject"
	fieldBody       = "body"
)

// Bits of the bitmap form flags byte. The remaining bits are reserved.
const (
	flagCc  byte = 1 << 0
	flagBcc byte = 1 << 1
)

var fixedLayout = layout.Must(
	layout.Field{Key: fieldLenTo, Width: layout.Uint16()},
	layout.Field{Key: fieldLenCc, Width: layout.Uint16()},
	layout.Field{Key: fieldLenBcc, Width: layout.Uint16()},
	layout.Field{Key: fieldLenSubject, Width: layout.Uint8()},
	layout.Field{Key: fieldLenBody, Width: layout.Uint16()},
	layout.Field{Key: fieldTo, Width: layout.FromField(fieldLenTo), Encoding: layout.UTF8},
	layout.Field{Key: fieldCc, Width: layout.FromField(fieldLenCc), Encoding: layout.UTF8},
	layout.Field{Key: fieldBcc, Width: layout.FromField(fieldLenBcc), Encoding: layout.UTF8},
	layout.Field{Key: fieldSubject, Width: layout.FromField(fieldLenSubject), Encoding: layout.UTF8},
	layout.Field{Key: fieldBody, Width: layout.FromField(fieldLenBody), Encoding: layout.UTF8},
)

// bitmapLayouts is keyed by the cc/bcc bits of the flags byte and starts
// right after it.
var bitmapLayouts = map[byte]layout.Layout{
	0:                bitmapLayout(false, false),
	flagCc:           bitmapLayout(true, false),
	flagBcc:          bitmapLayout(false, true),
	flagCc | flagBcc: bitmapLayout(true, true),
}

func bitmapLayout(cc, bcc bool) layout.Layout {
	fields := []layout.Field{{Key: fieldLenTo, Width: layout.Uint16()}}
	if cc {
		fields = append(fields, layout.Field{Key: fieldLenCc, Width: layout.Uint16()})
	}
	if bcc {
		fields = append(fields, layout.Field{Key: fieldLenBcc, Width: layout.Uint16()})
	}
	fields = append(fields,
		layout.Field{Key: fieldLenSubject, Width: layout.Uint8()},
		layout.Field{Key: fieldLenBody, Width: layout.Uint16()},
		layout.Field{Key: fieldTo, Width: layout.FromField(fieldLenTo), Encoding: layout.UTF8},
	)
	if cc {
		fields = append(fields, layout.Field{Key: fieldCc, Width: layout.FromField(fieldLenCc), Encoding: layout.UTF8})
	}
	if bcc {
		fields = append(fields, layout.Field{Key: fieldBcc, Width: layout.FromField(fieldLenBcc), Encoding: layout.UTF8})
	}
	fields = append(fields,
		layout.Field{Key: fieldSubject, Width: layout.FromField(fieldLenSubject), Encoding: layout.UTF8},
		layout.Field{Key: fieldBody, Width: layout.FromField(fieldLenBody), Encoding: layout.UTF8},
	)
	return layout.Must(fields...)
}

// headLayout reads the optional image prefix and the flags byte.
func headLayout(imageLength int) layout.Layout {
	return layout.Must(
		layout.Field{Key: fieldImage, Width: layout.Fixed(imageLength)},
		layout.Field{Key: fieldBitmap, Width: layout.Uint8()},
	)
}

func withImage(imageLength int, rest layout.Layout) layout.Layout {
	fields := make([]layout.Field, 0, len(rest)+1)
	fields = append(fields, layout.Field{Key: fieldImage, Width: layout.Fixed(imageLength)})
	fields = append(fields, rest...)
	return layout.Must(fields...)
}
