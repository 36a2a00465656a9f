package raw

import (
	"strconv"
)

// Null is the single shared null value.
var Null Object = NullObj{}

// NullObj is the PDF null object.
type NullObj struct{}

func (NullObj) Kind() Kind                  { return KindNull }
func (NullObj) IsIndirect() bool            { return false }
func (n NullObj) Clone() Object             { return n }
func (NullObj) AppendPDF(dst []byte) []byte { return append(dst, "null"...) }
func (NullObj) String() string              { return "null" }

// BoolObj is a PDF boolean.
type BoolObj struct{ V bool }

func (BoolObj) Kind() Kind       { return KindBool }
func (BoolObj) IsIndirect() bool { return false }
func (b BoolObj) Clone() Object  { return b }
func (b BoolObj) Value() bool    { return b.V }
func (b BoolObj) AppendPDF(dst []byte) []byte {
	return strconv.AppendBool(dst, b.V)
}
func (b BoolObj) String() string { return strconv.FormatBool(b.V) }

// NumberObj is a PDF integer or real. Lit keeps the lexical form seen by the
// parser so that reals round-trip byte for byte; it is empty for numbers built
// in code.
type NumberObj struct {
	I     int64
	F     float64
	IsInt bool
	Lit   string
}

func (NumberObj) Kind() Kind       { return KindNumber }
func (NumberObj) IsIndirect() bool { return false }
func (n NumberObj) Clone() Object  { return n }
func (n NumberObj) Int() int64 {
	if n.IsInt {
		return n.I
	}
	return int64(n.F)
}
func (n NumberObj) Float() float64 {
	if n.IsInt {
		return float64(n.I)
	}
	return n.F
}
func (n NumberObj) IsInteger() bool { return n.IsInt }
func (n NumberObj) AppendPDF(dst []byte) []byte {
	if n.Lit != "" {
		return append(dst, n.Lit...)
	}
	if n.IsInt {
		return strconv.AppendInt(dst, n.I, 10)
	}
	return appendReal(dst, n.F)
}
func (n NumberObj) String() string { return string(n.AppendPDF(nil)) }

// StringObj is a literal string, written between parentheses.
type StringObj struct{ Bytes []byte }

func (StringObj) Kind() Kind       { return KindString }
func (StringObj) IsIndirect() bool { return false }
func (s StringObj) Clone() Object  { return StringObj{Bytes: append([]byte(nil), s.Bytes...)} }
func (s StringObj) Value() []byte  { return s.Bytes }
func (s StringObj) IsHex() bool    { return false }

// Text decodes the string as a PDF text string.
func (s StringObj) Text() string                { return DecodeText(s.Bytes) }
func (s StringObj) AppendPDF(dst []byte) []byte { return appendLiteral(dst, s.Bytes) }
func (s StringObj) String() string              { return string(s.AppendPDF(nil)) }

// HexStringObj is a string written as hex digits between angle brackets.
type HexStringObj struct{ Bytes []byte }

func (HexStringObj) Kind() Kind       { return KindHexString }
func (HexStringObj) IsIndirect() bool { return false }
func (s HexStringObj) Clone() Object  { return HexStringObj{Bytes: append([]byte(nil), s.Bytes...)} }
func (s HexStringObj) Value() []byte  { return s.Bytes }
func (s HexStringObj) IsHex() bool    { return true }

// Text decodes the string as a PDF text string.
func (s HexStringObj) Text() string                { return DecodeText(s.Bytes) }
func (s HexStringObj) AppendPDF(dst []byte) []byte { return appendHex(dst, s.Bytes) }
func (s HexStringObj) String() string              { return string(s.AppendPDF(nil)) }

// NameObj is a PDF name. Val holds the decoded bytes without the leading
// solidus.
type NameObj struct{ Val string }

func (NameObj) Kind() Kind                    { return KindName }
func (NameObj) IsIndirect() bool              { return false }
func (n NameObj) Clone() Object               { return n }
func (n NameObj) Value() string               { return n.Val }
func (n NameObj) AppendPDF(dst []byte) []byte { return appendName(dst, n.Val) }
func (n NameObj) String() string              { return string(n.AppendPDF(nil)) }

// ArrayObj is an ordered sequence of objects.
type ArrayObj struct{ Items []Object }

func (*ArrayObj) Kind() Kind       { return KindArray }
func (*ArrayObj) IsIndirect() bool { return false }
func (a *ArrayObj) Get(i int) (Object, bool) {
	if i < 0 || i >= len(a.Items) {
		return nil, false
	}
	return a.Items[i], true
}
func (a *ArrayObj) Len() int        { return len(a.Items) }
func (a *ArrayObj) Append(o Object) { a.Items = append(a.Items, o) }
func (a *ArrayObj) Clone() Object {
	out := &ArrayObj{Items: make([]Object, len(a.Items))}
	for i, it := range a.Items {
		out.Items[i] = cloneObject(it)
	}
	return out
}
func (a *ArrayObj) AppendPDF(dst []byte) []byte {
	dst = append(dst, '[')
	for i, it := range a.Items {
		if i > 0 {
			dst = append(dst, ' ')
		}
		dst = appendObject(dst, it)
	}
	return append(dst, ']')
}
func (a *ArrayObj) String() string { return string(a.AppendPDF(nil)) }

// DictObj maps names to objects. Keys keep insertion order so output is
// deterministic.
type DictObj struct {
	keys []string
	vals map[string]Object
}

func (*DictObj) Kind() Kind       { return KindDict }
func (*DictObj) IsIndirect() bool { return false }

func (d *DictObj) Get(key string) (Object, bool) {
	if d == nil || d.vals == nil {
		return nil, false
	}
	o, ok := d.vals[key]
	return o, ok
}

// Set replaces an existing entry in place or appends a new one.
func (d *DictObj) Set(key string, value Object) {
	if d.vals == nil {
		d.vals = make(map[string]Object)
	}
	if _, ok := d.vals[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.vals[key] = value
}

func (d *DictObj) Delete(key string) {
	if _, ok := d.vals[key]; !ok {
		return
	}
	delete(d.vals, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i:i], d.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (d *DictObj) Keys() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.keys...)
}

func (d *DictObj) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

func (d *DictObj) Clone() Object { return d.CloneDict() }

// CloneDict is Clone with the concrete type.
func (d *DictObj) CloneDict() *DictObj {
	out := &DictObj{keys: append([]string(nil), d.keys...), vals: make(map[string]Object, len(d.vals))}
	for k, v := range d.vals {
		out.vals[k] = cloneObject(v)
	}
	return out
}

func (d *DictObj) AppendPDF(dst []byte) []byte { return d.appendWithLength(dst, -1) }

func (d *DictObj) appendWithLength(dst []byte, length int) []byte {
	dst = append(dst, "<<\n"...)
	wroteLength := false
	for _, k := range d.keys {
		dst = appendName(dst, k)
		dst = append(dst, ' ')
		if k == "Length" && length >= 0 {
			dst = strconv.AppendInt(dst, int64(length), 10)
			wroteLength = true
		} else {
			dst = appendObject(dst, d.vals[k])
		}
		dst = append(dst, '\n')
	}
	if length >= 0 && !wroteLength {
		dst = append(dst, "/Length "...)
		dst = strconv.AppendInt(dst, int64(length), 10)
		dst = append(dst, '\n')
	}
	return append(dst, ">>"...)
}

func (d *DictObj) String() string { return string(d.AppendPDF(nil)) }

// StreamObj is a stream dictionary plus its payload exactly as stored in the
// file (still filter-encoded).
type StreamObj struct {
	Dict *DictObj
	Data []byte
}

func (*StreamObj) Kind() Kind             { return KindStream }
func (*StreamObj) IsIndirect() bool       { return false }
func (s *StreamObj) Dictionary() *DictObj { return s.Dict }
func (s *StreamObj) RawData() []byte      { return s.Data }
func (s *StreamObj) Length() int64        { return int64(len(s.Data)) }
func (s *StreamObj) Clone() Object {
	out := &StreamObj{Data: append([]byte(nil), s.Data...)}
	if s.Dict != nil {
		out.Dict = s.Dict.CloneDict()
	}
	return out
}

// AppendPDF always writes /Length as the payload's actual size.
func (s *StreamObj) AppendPDF(dst []byte) []byte {
	d := s.Dict
	if d == nil {
		d = Dict()
	}
	dst = d.appendWithLength(dst, len(s.Data))
	dst = append(dst, "\nstream\n"...)
	dst = append(dst, s.Data...)
	return append(dst, "\nendstream"...)
}
func (s *StreamObj) String() string {
	d := s.Dict
	if d == nil {
		d = Dict()
	}
	return string(d.appendWithLength(nil, len(s.Data))) + " stream(" + strconv.Itoa(len(s.Data)) + " bytes)"
}

// RefObj is an indirect reference. It does not own the referenced value.
type RefObj struct{ R ObjectRef }

func (RefObj) Kind() Kind       { return KindRef }
func (RefObj) IsIndirect() bool { return true }
func (r RefObj) Clone() Object  { return r }
func (r RefObj) Ref() ObjectRef { return r.R }
func (r RefObj) AppendPDF(dst []byte) []byte {
	dst = strconv.AppendInt(dst, int64(r.R.Num), 10)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(r.R.Gen), 10)
	return append(dst, " R"...)
}
func (r RefObj) String() string { return r.R.String() }

// InvalidObj holds the bytes of an object the parser could not make sense of
// in tolerant mode. It is written back verbatim.
type InvalidObj struct {
	Raw    []byte
	Reason string
}

func (InvalidObj) Kind() Kind       { return KindInvalid }
func (InvalidObj) IsIndirect() bool { return false }
func (o InvalidObj) Clone() Object {
	return InvalidObj{Raw: append([]byte(nil), o.Raw...), Reason: o.Reason}
}
func (o InvalidObj) AppendPDF(dst []byte) []byte { return append(dst, o.Raw...) }
func (o InvalidObj) String() string              { return "invalid(" + o.Reason + ")" }

func cloneObject(o Object) Object {
	if o == nil {
		return nil
	}
	return o.Clone()
}

func appendObject(dst []byte, o Object) []byte {
	if o == nil {
		return append(dst, "null"...)
	}
	return o.AppendPDF(dst)
}

// Helpers
func NameLiteral(v string) NameObj     { return NameObj{Val: v} }
func NumberInt(i int64) NumberObj      { return NumberObj{I: i, IsInt: true} }
func NumberFloat(f float64) NumberObj  { return NumberObj{F: f, IsInt: false} }
func Bool(v bool) BoolObj              { return BoolObj{V: v} }
func Str(bytes []byte) StringObj       { return StringObj{Bytes: bytes} }
func HexStr(bytes []byte) HexStringObj { return HexStringObj{Bytes: bytes} }
func NewArray(items ...Object) *ArrayObj {
	return &ArrayObj{Items: items}
}
func Dict() *DictObj { return &DictObj{vals: make(map[string]Object)} }
func NewStream(dict *DictObj, data []byte) *StreamObj {
	if dict == nil {
		dict = Dict()
	}
	return &StreamObj{Dict: dict, Data: data}
}
func Ref(num, gen int) RefObj { return RefObj{R: ObjectRef{Num: num, Gen: gen}} }
