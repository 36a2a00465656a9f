package raw

import (
	"math"
	"strconv"
)

const hexDigits = "0123456789ABCDEF"

// appendReal writes f without an exponent; PDF has no exponent syntax.
func appendReal(dst []byte, f float64) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(dst, '0')
	}
	if f == 0 {
		return append(dst, '0')
	}
	return strconv.AppendFloat(dst, f, 'f', -1, 64)
}

func appendLiteral(dst []byte, b []byte) []byte {
	dst = append(dst, '(')
	for _, ch := range b {
		switch ch {
		case '\\', '(', ')':
			dst = append(dst, '\\', ch)
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		default:
			if ch < 0x20 || ch >= 0x80 {
				dst = append(dst, '\\', '0'+(ch>>6), '0'+((ch>>3)&7), '0'+(ch&7))
			} else {
				dst = append(dst, ch)
			}
		}
	}
	return append(dst, ')')
}

func appendHex(dst []byte, b []byte) []byte {
	dst = append(dst, '<')
	for _, ch := range b {
		dst = append(dst, hexDigits[ch>>4], hexDigits[ch&0x0F])
	}
	return append(dst, '>')
}

// appendName escapes delimiters, '#', and anything outside the printable
// ASCII range as #XX.
func appendName(dst []byte, v string) []byte {
	dst = append(dst, '/')
	for i := 0; i < len(v); i++ {
		ch := v[i]
		if needsNameEscape(ch) {
			dst = append(dst, '#', hexDigits[ch>>4], hexDigits[ch&0x0F])
			continue
		}
		dst = append(dst, ch)
	}
	return dst
}

func needsNameEscape(ch byte) bool {
	if ch < '!' || ch > '~' {
		return true
	}
	switch ch {
	case '#', '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}
