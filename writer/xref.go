package writer

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/wudi/pdfrev/filters"
	"github.com/wudi/pdfrev/ir/raw"
)

// xrefEntry is one row of a cross-reference section: typ 0 (free: next
// free number, generation), 1 (in use: offset, generation) or 2 (compressed:
// container number, index).
type xrefEntry struct {
	typ int
	f2  int64
	f3  int
}

type subsection struct {
	first int
	nums  []int
}

// subsections groups consecutive object numbers. With isolateFree every
// free entry forms its own subsection.
func subsections(entries map[int]xrefEntry, isolateFree bool) []subsection {
	nums := make([]int, 0, len(entries))
	for n := range entries {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	var out []subsection
	for _, n := range nums {
		free := entries[n].typ == 0
		if len(out) > 0 {
			last := &out[len(out)-1]
			prev := last.nums[len(last.nums)-1]
			joinable := !isolateFree || (!free && entries[prev].typ != 0)
			if prev+1 == n && joinable {
				last.nums = append(last.nums, n)
				continue
			}
		}
		out = append(out, subsection{first: n, nums: []int{n}})
	}
	return out
}

// writeXRefTable writes a classic table. Every line is exactly 20 bytes.
func writeXRefTable(buf *bytes.Buffer, entries map[int]xrefEntry, isolateFree bool) {
	buf.WriteString("xref\n")
	for _, sub := range subsections(entries, isolateFree) {
		fmt.Fprintf(buf, "%d %d\n", sub.first, len(sub.nums))
		for _, n := range sub.nums {
			e := entries[n]
			kind := byte('n')
			if e.typ == 0 {
				kind = 'f'
			}
			fmt.Fprintf(buf, "%010d %05d %c \n", e.f2, e.f3, kind)
		}
	}
}

// xrefStream builds the /Type /XRef stream carrying entries and the
// trailer keys.
func xrefStream(entries map[int]xrefEntry, trailer *raw.DictObj) (*raw.StreamObj, error) {
	var max2 int64
	max3 := 0
	for _, e := range entries {
		if e.f2 > max2 {
			max2 = e.f2
		}
		if e.f3 > max3 {
			max3 = e.f3
		}
	}
	w := [3]int{1, byteWidth(uint64(max2)), byteWidth(uint64(max3))}

	index := raw.NewArray()
	var rows []byte
	subs := subsections(entries, false)
	for _, sub := range subs {
		index.Append(raw.NumberInt(int64(sub.first)))
		index.Append(raw.NumberInt(int64(len(sub.nums))))
		for _, n := range sub.nums {
			e := entries[n]
			rows = appendXRefStreamEntry(rows, w, e)
		}
	}
	packed, err := filters.FlateEncode(rows)
	if err != nil {
		return nil, err
	}

	d := trailer.CloneDict()
	d.Set("Type", raw.NameLiteral("XRef"))
	d.Set("W", raw.NewArray(raw.NumberInt(int64(w[0])), raw.NumberInt(int64(w[1])), raw.NumberInt(int64(w[2]))))
	size, _ := trailer.Get("Size")
	if !(len(subs) == 1 && subs[0].first == 0 && raw.Equal(size, raw.NumberInt(int64(len(subs[0].nums))))) {
		d.Set("Index", index)
	}
	d.Set("Filter", raw.NameLiteral("FlateDecode"))
	return raw.NewStream(d, packed), nil
}

func appendXRefStreamEntry(buf []byte, w [3]int, e xrefEntry) []byte {
	buf = appendBigEndian(buf, uint64(e.typ), w[0])
	buf = appendBigEndian(buf, uint64(e.f2), w[1])
	return appendBigEndian(buf, uint64(e.f3), w[2])
}

func appendBigEndian(buf []byte, v uint64, width int) []byte {
	for i := width - 1; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*uint(i))))
	}
	return buf
}

func byteWidth(v uint64) int {
	n := 1
	for v > 0xff {
		v >>= 8
		n++
	}
	return n
}
