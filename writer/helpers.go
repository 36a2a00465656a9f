package writer

import (
	"bytes"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/security"
	"github.com/wudi/pdfrev/store"
)

// binaryMarker follows the header comment so transports treat the file as
// binary.
var binaryMarker = []byte{0x81, 0x81, 0x81, 0x81}

func writeHeader(buf *bytes.Buffer, v PDFVersion) {
	fmt.Fprintf(buf, "%%PDF-%s\n%%", v)
	buf.Write(binaryMarker)
	buf.WriteByte('\n')
}

// fileID keeps an /ID carried by the trailer. Otherwise both halves are
// derived from body, so identical content yields identical output.
func fileID(trailer *raw.DictObj, body []byte) *raw.ArrayObj {
	if trailer != nil {
		if v, ok := trailer.Get("ID"); ok {
			if arr, ok := v.(*raw.ArrayObj); ok && arr.Len() == 2 {
				return arr.Clone().(*raw.ArrayObj)
			}
		}
	}
	if body == nil {
		return nil
	}
	sum := blake2b.Sum256(body)
	id := sum[:16]
	return raw.NewArray(raw.HexStr(append([]byte(nil), id...)), raw.HexStr(append([]byte(nil), id...)))
}

// buildTrailer copies the document-level entries of src and sets /Size,
// /Prev and /ID. prev < 0 omits /Prev.
func buildTrailer(src *raw.DictObj, size int, prev int64, ids *raw.ArrayObj) *raw.DictObj {
	trailer := raw.Dict()
	trailer.Set("Size", raw.NumberInt(int64(size)))
	for _, k := range []string{"Root", "Info", "Encrypt"} {
		if src == nil {
			break
		}
		if v, ok := src.Get(k); ok {
			trailer.Set(k, v.Clone())
		}
	}
	if ids != nil {
		trailer.Set("ID", ids)
	}
	if prev >= 0 {
		trailer.Set("Prev", raw.NumberInt(prev))
	}
	return trailer
}

// encryptObject returns an encrypted copy of obj. The original is left
// untouched since it still belongs to the Context.
func encryptObject(obj raw.Object, ref raw.ObjectRef, cfg Config) (raw.Object, error) {
	h := cfg.Security
	if h == nil || !h.IsEncrypted() || ref == cfg.EncryptRef {
		return obj, nil
	}
	if st, ok := obj.(*raw.StreamObj); ok {
		if t, _ := st.Dict.Get("Type"); isName(t, "XRef") || (isName(t, "Metadata") && cfg.PlainMetadata) {
			return obj, nil
		}
	}
	return encryptValue(obj, ref, h)
}

func encryptValue(obj raw.Object, ref raw.ObjectRef, h security.Handler) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.StringObj:
		b, err := h.Encrypt(ref.Num, ref.Gen, v.Bytes, security.DataClassString)
		if err != nil {
			return nil, err
		}
		return raw.Str(b), nil
	case raw.HexStringObj:
		b, err := h.Encrypt(ref.Num, ref.Gen, v.Bytes, security.DataClassString)
		if err != nil {
			return nil, err
		}
		return raw.HexStr(b), nil
	case *raw.ArrayObj:
		arr := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, it := range v.Items {
			e, err := encryptValue(it, ref, h)
			if err != nil {
				return nil, err
			}
			arr.Items[i] = e
		}
		return arr, nil
	case *raw.DictObj:
		d := raw.Dict()
		for _, k := range v.Keys() {
			it, _ := v.Get(k)
			e, err := encryptValue(it, ref, h)
			if err != nil {
				return nil, err
			}
			d.Set(k, e)
		}
		return d, nil
	case *raw.StreamObj:
		d, err := encryptValue(v.Dict, ref, h)
		if err != nil {
			return nil, err
		}
		data, err := h.Encrypt(ref.Num, ref.Gen, v.Data, security.DataClassStream)
		if err != nil {
			return nil, err
		}
		return raw.NewStream(d.(*raw.DictObj), data), nil
	}
	return obj, nil
}

func isName(o raw.Object, v string) bool {
	n, ok := o.(raw.NameObj)
	return ok && n.Val == v
}

// addFreeEntries fills every number below size that has no entry with a
// free entry and links them into the free list headed by entry 0.
func addFreeEntries(entries map[int]xrefEntry, c *store.Context, size int) {
	var free []raw.ObjectRef
	for n := 1; n < size; n++ {
		if _, ok := entries[n]; ok {
			continue
		}
		gen, ok := c.FreeGeneration(n)
		if !ok {
			gen = 0
		}
		// Free entries carry the generation for the next use directly.
		free = append(free, raw.ObjectRef{Num: n, Gen: gen - 1})
	}
	linkFreeList(entries, free)
}

// linkFreeList adds entry 0 and one free entry per deleted reference. Each
// entry points at the next free number; the last points back at 0. The
// generation written is one above the deleted reference's.
func linkFreeList(entries map[int]xrefEntry, deleted []raw.ObjectRef) {
	head := 0
	if len(deleted) > 0 {
		head = deleted[0].Num
	}
	entries[0] = xrefEntry{typ: 0, f2: int64(head), f3: store.MaxGeneration}
	for i, r := range deleted {
		next := 0
		if i+1 < len(deleted) {
			next = deleted[i+1].Num
		}
		gen := r.Gen + 1
		if gen > store.MaxGeneration {
			gen = store.MaxGeneration
		}
		entries[r.Num] = xrefEntry{typ: 0, f2: int64(next), f3: gen}
	}
}
