package optimize

import (
	"encoding/hex"
	"hash"
	"sort"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/wudi/pdfrev/ir/raw"
)

// fingerprint hashes the value of obj. Dictionary keys are sorted and a
// stream's /Length is ignored, so objects equal under raw.Equal share a
// fingerprint.
func fingerprint(obj raw.Object) string {
	h, _ := blake2b.New256(nil)
	writeHash(h, obj)
	return hex.EncodeToString(h.Sum(nil))
}

func writeHash(h hash.Hash, obj raw.Object) {
	if obj == nil {
		obj = raw.Null
	}
	h.Write([]byte(obj.Kind().String()))
	h.Write([]byte{':'})
	switch t := obj.(type) {
	case *raw.ArrayObj:
		h.Write([]byte{'['})
		for _, it := range t.Items {
			writeHash(h, it)
			h.Write([]byte{','})
		}
		h.Write([]byte{']'})
	case *raw.DictObj:
		writeDict(h, t, false)
	case *raw.StreamObj:
		writeDict(h, t.Dict, true)
		h.Write([]byte(strconv.Itoa(len(t.Data))))
		h.Write([]byte{':'})
		h.Write(t.Data)
	case raw.InvalidObj:
		h.Write(t.Raw)
	default:
		h.Write(obj.AppendPDF(nil))
	}
}

func writeDict(h hash.Hash, d *raw.DictObj, skipLength bool) {
	h.Write([]byte("<<"))
	if d != nil {
		keys := d.Keys()
		sort.Strings(keys)
		for _, k := range keys {
			if skipLength && k == "Length" {
				continue
			}
			v, _ := d.Get(k)
			h.Write(raw.NameLiteral(k).AppendPDF(nil))
			writeHash(h, v)
		}
	}
	h.Write([]byte(">>"))
}
