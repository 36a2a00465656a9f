// Package raw is the in-memory model of PDF syntax: the closed set of object
// types a file can contain, their canonical serialization, structural
// equality and deep cloning.
package raw

import (
	"fmt"
	"strconv"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Less orders references by object number, then generation.
func (r ObjectRef) Less(o ObjectRef) bool {
	if r.Num != o.Num {
		return r.Num < o.Num
	}
	return r.Gen < o.Gen
}

// Kind tags the concrete variant of an Object.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindHexString
	KindName
	KindArray
	KindDict
	KindStream
	KindRef
	KindInvalid
)

var kindNames = [...]string{
	KindNull:      "null",
	KindBool:      "boolean",
	KindNumber:    "number",
	KindString:    "string",
	KindHexString: "hexstring",
	KindName:      "name",
	KindArray:     "array",
	KindDict:      "dict",
	KindStream:    "stream",
	KindRef:       "ref",
	KindInvalid:   "invalid",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Object is implemented by exactly the concrete types in this package.
type Object interface {
	Kind() Kind
	IsIndirect() bool
	// Clone deep-copies composite values. References are copied as
	// references; the referent is not touched.
	Clone() Object
	// AppendPDF appends the object's serialized form to dst.
	AppendPDF(dst []byte) []byte
	String() string
}

// SizeInBytes reports the exact length of o's serialized form.
func SizeInBytes(o Object) int {
	if o == nil {
		return len("null")
	}
	return len(o.AppendPDF(nil))
}

// Serialize returns o's serialized form.
func Serialize(o Object) []byte {
	if o == nil {
		return []byte("null")
	}
	return o.AppendPDF(nil)
}

// IsTextString reports whether o is a literal or hex string.
func IsTextString(o Object) bool {
	if o == nil {
		return false
	}
	k := o.Kind()
	return k == KindString || k == KindHexString
}

// KindOf returns o's kind, treating a nil interface as null.
func KindOf(o Object) Kind {
	if o == nil {
		return KindNull
	}
	return o.Kind()
}
