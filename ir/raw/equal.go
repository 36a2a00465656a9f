package raw

import "bytes"

// Equal reports structural equality. Dictionary key order is ignored; a
// nil Object equals null. References compare by number and generation only.
func Equal(a, b Object) bool {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return false
	}
	switch ka {
	case KindNull:
		return true
	case KindBool:
		return a.(BoolObj).V == b.(BoolObj).V
	case KindNumber:
		na, nb := a.(NumberObj), b.(NumberObj)
		if na.IsInt && nb.IsInt {
			return na.I == nb.I
		}
		return na.Float() == nb.Float()
	case KindString:
		return bytes.Equal(a.(StringObj).Bytes, b.(StringObj).Bytes)
	case KindHexString:
		return bytes.Equal(a.(HexStringObj).Bytes, b.(HexStringObj).Bytes)
	case KindName:
		return a.(NameObj).Val == b.(NameObj).Val
	case KindArray:
		aa, ab := a.(*ArrayObj), b.(*ArrayObj)
		if len(aa.Items) != len(ab.Items) {
			return false
		}
		for i := range aa.Items {
			if !Equal(aa.Items[i], ab.Items[i]) {
				return false
			}
		}
		return true
	case KindDict:
		return equalDict(a.(*DictObj), b.(*DictObj))
	case KindStream:
		sa, sb := a.(*StreamObj), b.(*StreamObj)
		return equalDictIgnoring(sa.Dict, sb.Dict, "Length") && bytes.Equal(sa.Data, sb.Data)
	case KindRef:
		return a.(RefObj).R == b.(RefObj).R
	case KindInvalid:
		return bytes.Equal(a.(InvalidObj).Raw, b.(InvalidObj).Raw)
	}
	return false
}

func equalDict(a, b *DictObj) bool { return equalDictIgnoring(a, b, "") }

func equalDictIgnoring(a, b *DictObj, skip string) bool {
	count := func(d *DictObj) int {
		n := 0
		for _, k := range d.Keys() {
			if k != skip {
				n++
			}
		}
		return n
	}
	if count(a) != count(b) {
		return false
	}
	for _, k := range a.Keys() {
		if k == skip {
			continue
		}
		va, _ := a.Get(k)
		vb, ok := b.Get(k)
		if !ok || !Equal(va, vb) {
			return false
		}
	}
	return true
}
