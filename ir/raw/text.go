package raw

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
)

// pdfDocHigh maps the PDFDocEncoding code points that differ from Latin-1.
// Zero entries are undefined in the encoding.
var pdfDocHigh = map[byte]rune{
	0x18: 0x02D8, 0x19: 0x02C7, 0x1A: 0x02C6, 0x1B: 0x02D9,
	0x1C: 0x02DD, 0x1D: 0x02DB, 0x1E: 0x02DA, 0x1F: 0x02DC,
	0x80: 0x2022, 0x81: 0x2020, 0x82: 0x2021, 0x83: 0x2026,
	0x84: 0x2014, 0x85: 0x2013, 0x86: 0x0192, 0x87: 0x2044,
	0x88: 0x2039, 0x89: 0x203A, 0x8A: 0x2212, 0x8B: 0x2030,
	0x8C: 0x201E, 0x8D: 0x201C, 0x8E: 0x201D, 0x8F: 0x2018,
	0x90: 0x2019, 0x91: 0x201A, 0x92: 0x2122, 0x93: 0xFB01,
	0x94: 0xFB02, 0x95: 0x0141, 0x96: 0x0152, 0x97: 0x0160,
	0x98: 0x0178, 0x99: 0x017D, 0x9A: 0x0131, 0x9B: 0x0142,
	0x9C: 0x0153, 0x9D: 0x0161, 0x9E: 0x017E, 0xA0: 0x20AC,
}

var pdfDocReverse = func() map[rune]byte {
	m := make(map[rune]byte, len(pdfDocHigh))
	for b, r := range pdfDocHigh {
		m[r] = b
	}
	return m
}()

// DecodeText decodes a PDF text string: UTF-16BE with BOM, UTF-8 with BOM,
// or PDFDocEncoding.
func DecodeText(b []byte) string {
	switch {
	case bytes.HasPrefix(b, bomUTF16BE):
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		out, _, err := transform.Bytes(dec, b)
		if err != nil {
			return string(b)
		}
		return string(out)
	case bytes.HasPrefix(b, bomUTF8):
		return string(b[len(bomUTF8):])
	}
	runes := make([]rune, 0, len(b))
	for _, ch := range b {
		if r, ok := pdfDocHigh[ch]; ok {
			runes = append(runes, r)
			continue
		}
		runes = append(runes, rune(ch))
	}
	return string(runes)
}

// encodePDFDoc returns s in PDFDocEncoding, or false if some rune has no
// code point there.
func encodePDFDoc(s string) ([]byte, bool) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if b, ok := pdfDocReverse[r]; ok {
			out = append(out, b)
			continue
		}
		if r == utf8.RuneError || r > 0xFF || (r >= 0x18 && r <= 0x1F) || (r >= 0x80 && r <= 0xA0) || r == 0xAD {
			return nil, false
		}
		out = append(out, byte(r))
	}
	return out, true
}

// EncodeUTF16 returns s as UTF-16BE with a leading byte order mark.
func EncodeUTF16(s string) []byte {
	enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
	out, _, err := transform.Bytes(enc, []byte(s))
	if err != nil {
		return append(append([]byte(nil), bomUTF16BE...), []byte(s)...)
	}
	return out
}

// TextString builds a text string object: a literal string when s fits
// PDFDocEncoding, otherwise a UTF-16BE hex string.
func TextString(s string) Object {
	if b, ok := encodePDFDoc(s); ok {
		return StringObj{Bytes: b}
	}
	return HexStringObj{Bytes: EncodeUTF16(s)}
}

// Text decodes o if it is a string object.
func Text(o Object) (string, bool) {
	switch v := o.(type) {
	case StringObj:
		return v.Text(), true
	case HexStringObj:
		return v.Text(), true
	}
	return "", false
}
