package xref

import (
	"context"
	"fmt"
	"math"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/pdferr"
)

// readStream parses the cross-reference stream object at off.
func readStream(ctx context.Context, off int64, src ObjectSource) (Section, error) {
	ref, obj, err := src.ObjectAt(ctx, off)
	if err != nil {
		return Section{}, pdferr.New(pdferr.ErrMissingTrailer, "read xref stream", err).AtOffset(off)
	}
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return Section{}, streamErr(off, ref, "object is %s, not a stream", raw.KindOf(obj))
	}
	if t, _ := stm.Dict.Get("Type"); !isName(t, "XRef") {
		return Section{}, streamErr(off, ref, "stream is not /Type /XRef")
	}
	decoded, err := src.DecodeStream(ctx, stm)
	if err != nil {
		return Section{}, pdferr.New(pdferr.ErrInvalidXRefStream, "decode xref stream", err).AtOffset(off).ForObject(ref.Num, ref.Gen)
	}
	entries, err := DecodeStreamEntries(stm.Dict, decoded)
	if err != nil {
		var pe *pdferr.Error
		if e, ok := err.(*pdferr.Error); ok {
			pe = e
		} else {
			pe = pdferr.New(pdferr.ErrInvalidXRefStream, "decode xref stream", err)
		}
		return Section{}, pe.AtOffset(off).ForObject(ref.Num, ref.Gen)
	}
	trailer := stm.Dict.CloneDict()
	for _, k := range []string{"Length", "Filter", "DecodeParms", "W", "Index", "Type", "XRefStm"} {
		trailer.Delete(k)
	}
	sec := Section{Kind: SectionStream, Trailer: trailer, Entries: entries, Prev: -1, XRefStm: -1}
	if prev, ok := intEntry(stm.Dict, "Prev"); ok {
		sec.Prev = prev
	}
	return sec, nil
}

// DecodeStreamEntries splits a decoded xref stream payload into entries
// according to the /W and /Index arrays of dict.
func DecodeStreamEntries(dict *raw.DictObj, data []byte) (map[int]Entry, error) {
	wObj, _ := dict.Get("W")
	wArr, ok := wObj.(*raw.ArrayObj)
	if !ok || wArr.Len() < 3 {
		return nil, pdferr.New(pdferr.ErrInvalidXRefStream, "decode xref stream", fmt.Errorf("invalid /W %v", wObj))
	}
	var w [3]int
	total := 0
	for i := 0; i < 3; i++ {
		n, ok := wArr.Items[i].(raw.NumberObj)
		if !ok || !n.IsInt || n.I < 0 || n.I > 8 {
			return nil, pdferr.New(pdferr.ErrInvalidXRefStream, "decode xref stream", fmt.Errorf("invalid /W %v", wArr))
		}
		w[i] = int(n.I)
		total += w[i]
	}
	if total == 0 {
		return nil, pdferr.New(pdferr.ErrInvalidXRefStream, "decode xref stream", fmt.Errorf("zero-width /W %v", wArr))
	}

	var index []int64
	if iObj, ok := dict.Get("Index"); ok {
		arr, ok := iObj.(*raw.ArrayObj)
		if !ok || arr.Len()%2 != 0 {
			return nil, pdferr.New(pdferr.ErrInvalidXRefStream, "decode xref stream", fmt.Errorf("invalid /Index %v", iObj))
		}
		for _, it := range arr.Items {
			n, ok := it.(raw.NumberObj)
			if !ok || n.Int() < 0 {
				return nil, pdferr.New(pdferr.ErrInvalidXRefStream, "decode xref stream", fmt.Errorf("invalid /Index %v", iObj))
			}
			index = append(index, n.Int())
		}
	} else {
		size, ok := intEntry(dict, "Size")
		if !ok {
			return nil, pdferr.New(pdferr.ErrInvalidXRefStream, "decode xref stream", fmt.Errorf("missing /Size"))
		}
		index = []int64{0, size}
	}

	entries := make(map[int]Entry)
	pos := 0
	for len(index) > 0 {
		first, count := index[0], index[1]
		index = index[2:]
		// Compare by division; count comes straight from the file.
		if count > int64(len(data)-pos)/int64(total) {
			return nil, pdferr.New(pdferr.ErrInvalidXRefStream, "decode xref stream",
				fmt.Errorf("subsection %d %d needs %d-byte rows, have %d bytes", first, count, total, len(data)-pos))
		}
		if first > math.MaxInt32-count {
			return nil, pdferr.New(pdferr.ErrInvalidXRefStream, "decode xref stream",
				fmt.Errorf("subsection %d %d exceeds the object number range", first, count))
		}
		for i := int64(0); i < count; i++ {
			f1 := decodeInt(data[pos : pos+w[0]])
			f2 := decodeInt(data[pos+w[0] : pos+w[0]+w[1]])
			f3 := decodeInt(data[pos+w[0]+w[1] : pos+total])
			pos += total
			if w[0] == 0 {
				f1 = 1
			}
			num := int(first + i)
			if _, dup := entries[num]; dup {
				continue
			}
			switch f1 {
			case 0:
				entries[num] = Entry{Type: EntryFree, Offset: f2, Gen: int(f3)}
			case 1:
				entries[num] = Entry{Type: EntryInUse, Offset: f2, Gen: int(f3)}
			case 2:
				entries[num] = Entry{Type: EntryCompressed, StreamNum: int(f2), Index: int(f3)}
			default:
				// Unknown types are references to the null object.
			}
		}
	}
	return entries, nil
}

func decodeInt(b []byte) int64 {
	var x int64
	for _, c := range b {
		x = x<<8 | int64(c)
	}
	return x
}

func isName(o raw.Object, v string) bool {
	n, ok := o.(raw.NameObj)
	return ok && n.Val == v
}

func streamErr(off int64, ref raw.ObjectRef, format string, args ...any) error {
	return pdferr.Newf(pdferr.ErrInvalidXRefStream, "read xref stream", format, args...).AtOffset(off).ForObject(ref.Num, ref.Gen)
}
