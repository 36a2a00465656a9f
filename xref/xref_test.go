package xref_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/parser"
	"github.com/wudi/pdfrev/pdferr"
	"github.com/wudi/pdfrev/xref"
)

func resolve(t *testing.T, data []byte) *xref.Table {
	t.Helper()
	resolver := xref.NewResolver(xref.ResolverConfig{})
	table, err := resolver.Resolve(context.Background(), data, parser.NewObjectSource(data, parser.Config{}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return table
}

func buildSimplePDF() ([]byte, map[int]int64) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	offsets := make(map[int]int64)

	offsets[1] = int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")

	offsets[2] = int64(buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 3\n")
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 2; i++ {
		fmt.Fprintf(buf, "%010d 00000 n \n", offsets[i])
	}
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	return buf.Bytes(), offsets
}

func TestResolverParsesXRefTable(t *testing.T) {
	pdf, offsets := buildSimplePDF()
	table := resolve(t, pdf)

	for obj, off := range offsets {
		e, ok := table.Lookup(obj)
		if !ok {
			t.Fatalf("missing object %d", obj)
		}
		if e.Offset != off || e.Gen != 0 || e.Type != xref.EntryInUse {
			t.Fatalf("object %d: expected (%d,0), got %v", obj, off, e)
		}
	}
	if table.Type() != "table" || table.Repaired {
		t.Fatalf("unexpected table kind %s (repaired=%v)", table.Type(), table.Repaired)
	}
	if _, ok := table.Lookup(0); ok {
		t.Fatalf("object 0 must never be live")
	}
	if got := table.Objects(); len(got) != 2 {
		t.Fatalf("objects = %v", got)
	}
}

func buildXRefStreamPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	// Object stream with two objects (4 and 5)
	objStreamContent := "<< /Val 7 >> 5"
	header := "4 0 5 " + fmt.Sprintf("%d ", len("<< /Val 7 >>")+1)
	first := len(header)
	decoded := []byte(header + objStreamContent)
	off3 := buf.Len()
	fmt.Fprintf(buf, "3 0 obj\n<< /Type /ObjStm /N 2 /First %d /Length %d >>\nstream\n", first, len(decoded))
	buf.Write(decoded)
	buf.WriteString("\nendstream\nendobj\n")

	xrefOffset := buf.Len()
	entries := buildXRefStreamEntries(7, map[int]int{
		1: off1,
		2: off2,
		3: off3,
		6: xrefOffset,
	}, map[int]objStmSlot{
		4: {objstm: 3, idx: 0},
		5: {objstm: 3, idx: 1},
	})
	fmt.Fprintf(buf, "6 0 obj\n<< /Type /XRef /Size 7 /Root 1 0 R /W [1 4 1] /Index [0 7] /Length %d >>\nstream\n", len(entries))
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")

	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

type objStmSlot struct {
	objstm int
	idx    int
}

func buildXRefStreamEntries(size int, offsets map[int]int, objStreams map[int]objStmSlot) []byte {
	entrySize := 6 // w: [1 4 1]
	total := make([]byte, entrySize*size)
	for obj, off := range offsets {
		idx := obj * entrySize
		total[idx] = 1
		total[idx+1] = byte(off >> 24)
		total[idx+2] = byte(off >> 16)
		total[idx+3] = byte(off >> 8)
		total[idx+4] = byte(off)
	}
	for obj, meta := range objStreams {
		idx := obj * entrySize
		total[idx] = 2
		total[idx+1] = byte(meta.objstm >> 24)
		total[idx+2] = byte(meta.objstm >> 16)
		total[idx+3] = byte(meta.objstm >> 8)
		total[idx+4] = byte(meta.objstm)
		total[idx+5] = byte(meta.idx)
	}
	return total
}

func buildHybridXRefPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	xrefStreamOff := buf.Len()
	entries := buildXRefStreamEntries(6, map[int]int{
		1: off1,
		2: off2,
		4: xrefStreamOff,
	}, nil)
	fmt.Fprintf(buf, "4 0 obj\n<< /Type /XRef /Size 6 /Root 1 0 R /W [1 4 1] /Index [0 6] /Length %d >>\nstream\n", len(entries))
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")

	baseStart := xrefStreamOff
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", baseStart)

	// The update's table claims object 2 lives at offset 9; the hidden
	// stream entry must win.
	obj5Off := buf.Len()
	buf.WriteString("5 0 obj\n<< /Producer (inc) >>\nendobj\n")
	tableOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 1\n0000000000 65535 f \n2 1\n0000000009 00000 n \n5 1\n%010d 00000 n \n", obj5Off)
	fmt.Fprintf(buf, "trailer\n<< /Size 6 /Root 1 0 R /Prev %d /XRefStm %d >>\nstartxref\n%d\n%%%%EOF\n", baseStart, xrefStreamOff, tableOff)
	return buf.Bytes()
}

func TestResolverParsesXRefStreamAndObjStm(t *testing.T) {
	table := resolve(t, buildXRefStreamPDF())
	if table.Type() != "xref-stream" || !table.UsesXRefStreams() {
		t.Fatalf("expected xref-stream table, got %s", table.Type())
	}
	e, ok := table.Lookup(4)
	if !ok || e.Type != xref.EntryCompressed || e.StreamNum != 3 || e.Index != 0 {
		t.Fatalf("expected obj 4 in objstm 3 idx 0, got %v %v", e, ok)
	}
	e, ok = table.Lookup(5)
	if !ok || e.StreamNum != 3 || e.Index != 1 {
		t.Fatalf("expected obj 5 in objstm 3 idx 1, got %v", e)
	}
	if e, ok := table.Lookup(1); !ok || e.Offset == 0 {
		t.Fatalf("object 1 missing offset")
	}
	if _, ok := table.Trailer.Get("W"); ok {
		t.Fatalf("stream-only keys must not leak into the trailer")
	}
	if _, ok := table.Trailer.Get("Root"); !ok {
		t.Fatalf("trailer lost /Root")
	}
}

func TestResolverHybridStreamEntriesWin(t *testing.T) {
	data := buildHybridXRefPDF()
	table := resolve(t, data)
	if table.Type() != "table" {
		t.Fatalf("expected classic table as primary, got %s", table.Type())
	}
	e2, ok := table.Lookup(2)
	if !ok || e2.Offset == 9 {
		t.Fatalf("object 2 should come from the xref stream, got %v", e2)
	}
	e5, ok := table.Lookup(5)
	if !ok || e5.Type != xref.EntryInUse || e5.Offset == 0 {
		t.Fatalf("missing appended object 5: %v", e5)
	}
	if len(table.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(table.Sections))
	}
}

// buildThreeRevisionPDF writes a base revision and two updates. The second
// update frees object 3, the first replaces object 2.
func buildThreeRevisionPDF() ([]byte, int64) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")
	off3 := buf.Len()
	buf.WriteString("3 0 obj\n(three)\nendobj\n")
	x1 := buf.Len()
	fmt.Fprintf(buf, "xref\n0 4\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n%010d 00000 n \n", off1, off2, off3)
	fmt.Fprintf(buf, "trailer\n<< /Size 4 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", x1)

	off2b := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 1 >>\nendobj\n")
	x2 := buf.Len()
	fmt.Fprintf(buf, "xref\n0 1\n0000000000 65535 f \n2 1\n%010d 00000 n \n", off2b)
	fmt.Fprintf(buf, "trailer\n<< /Size 4 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", x1, x2)

	x3 := buf.Len()
	fmt.Fprintf(buf, "xref\n0 1\n0000000003 65535 f \n3 1\n0000000000 00001 f \n")
	fmt.Fprintf(buf, "trailer\n<< /Size 4 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", x2, x3)
	return buf.Bytes(), int64(off2b)
}

func TestResolverMergesPrevChainNewestFirst(t *testing.T) {
	data, off2b := buildThreeRevisionPDF()
	table := resolve(t, data)
	if len(table.Sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(table.Sections))
	}
	if e, _ := table.Lookup(2); e.Offset != off2b || e.Section != 1 {
		t.Fatalf("object 2 should come from the middle revision, got %v", e)
	}
	if _, ok := table.Lookup(3); ok {
		t.Fatalf("object 3 was freed by the newest revision")
	}
	if e, ok := table.Entry(3); !ok || e.Type != xref.EntryFree || e.Gen != 1 {
		t.Fatalf("free entry for 3 = %v %v", e, ok)
	}
	if got := table.FreeObjects(); got[3] != 1 {
		t.Fatalf("free objects = %v", got)
	}
	if e, _ := table.Lookup(1); e.Section != 2 {
		t.Fatalf("object 1 should come from the base revision, got section %d", e.Section)
	}
}

func TestResolverStopsOnPrevLoop(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.4\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	x := buf.Len()
	fmt.Fprintf(buf, "xref\n0 2\n0000000000 65535 f \n%010d 00000 n \n", off1)
	fmt.Fprintf(buf, "trailer\n<< /Size 2 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", x, x)

	table := resolve(t, buf.Bytes())
	if len(table.Sections) != 1 || table.Repaired {
		t.Fatalf("loop must stop after one section, got %d (repaired=%v)", len(table.Sections), table.Repaired)
	}
}

func TestResolverXRefDepthLimit(t *testing.T) {
	data, _ := buildThreeRevisionPDF()
	resolver := xref.NewResolver(xref.ResolverConfig{MaxXRefDepth: 2})
	_, err := resolver.Resolve(context.Background(), data, parser.NewObjectSource(data, parser.Config{}))
	if !errors.Is(err, pdferr.ErrAllocationLimit) {
		t.Fatalf("expected allocation limit, got %v", err)
	}
}

func TestMaxObjectNumberCountsFreeEntries(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	x1 := buf.Len()
	fmt.Fprintf(buf, "xref\n0 2\n0000000000 65535 f \n%010d 00000 n \n", off1)
	fmt.Fprintf(buf, "trailer\n<< /Size 2 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", x1)
	x2 := buf.Len()
	fmt.Fprintf(buf, "xref\n0 1\n0000000000 65535 f \n9 1\n0000000000 00001 f \n")
	fmt.Fprintf(buf, "trailer\n<< /Size 2 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", x1, x2)

	table := resolve(t, buf.Bytes())
	if got := table.MaxObjectNumber(); got != 9 {
		t.Fatalf("max object number = %d, want 9", got)
	}
	if got := table.Objects(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("live objects = %v", got)
	}
}

func TestFindStartXRefUsesLastKeyword(t *testing.T) {
	data := []byte("%PDF-1.7\nstartxref\n5\n%%EOF\nxxxxxxxxxx\nstartxref\n12\n%%EOF\n")
	off, err := xref.FindStartXRef(data)
	if err != nil || off != 12 {
		t.Fatalf("startxref = %d, %v", off, err)
	}
	if _, err := xref.FindStartXRef([]byte("%PDF-1.7\n")); !errors.Is(err, pdferr.ErrMissingTrailer) {
		t.Fatalf("expected missing trailer, got %v", err)
	}
}

func TestDecodeStreamEntries(t *testing.T) {
	t.Run("zero width type defaults to in use", func(t *testing.T) {
		d := raw.Dict()
		d.Set("W", raw.NewArray(raw.NumberInt(0), raw.NumberInt(2), raw.NumberInt(1)))
		d.Set("Index", raw.NewArray(raw.NumberInt(3), raw.NumberInt(2)))
		entries, err := xref.DecodeStreamEntries(d, []byte{0x01, 0x00, 0x00, 0x00, 0x20, 0x02})
		if err != nil {
			t.Fatal(err)
		}
		if e := entries[3]; e.Type != xref.EntryInUse || e.Offset != 256 {
			t.Fatalf("entry 3 = %v", e)
		}
		if e := entries[4]; e.Offset != 32 || e.Gen != 2 {
			t.Fatalf("entry 4 = %v", e)
		}
	})
	t.Run("index defaults to size", func(t *testing.T) {
		d := raw.Dict()
		d.Set("W", raw.NewArray(raw.NumberInt(1), raw.NumberInt(1), raw.NumberInt(1)))
		d.Set("Size", raw.NumberInt(2))
		entries, err := xref.DecodeStreamEntries(d, []byte{0, 0, 255, 2, 7, 3})
		if err != nil {
			t.Fatal(err)
		}
		if e := entries[1]; e.Type != xref.EntryCompressed || e.StreamNum != 7 || e.Index != 3 {
			t.Fatalf("entry 1 = %v", e)
		}
	})
	bad := []struct {
		name string
		w    []int64
		data []byte
	}{
		{"wide field", []int64{1, 9, 1}, make([]byte, 11)},
		{"all zero", []int64{0, 0, 0}, nil},
		{"short data", []int64{1, 2, 1}, []byte{1, 0}},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			d := raw.Dict()
			w := raw.NewArray()
			for _, v := range tc.w {
				w.Append(raw.NumberInt(v))
			}
			d.Set("W", w)
			d.Set("Size", raw.NumberInt(1))
			if _, err := xref.DecodeStreamEntries(d, tc.data); !errors.Is(err, pdferr.ErrInvalidXRefStream) {
				t.Fatalf("expected invalid xref stream, got %v", err)
			}
		})
	}
}

func TestDecodeStreamEntriesRejectsHostileCounts(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value *raw.ArrayObj
		size  int64
	}{
		{name: "size wraps row product", size: 1 << 61},
		{name: "index count wraps row product", key: "Index", value: raw.NewArray(raw.NumberInt(0), raw.NumberInt(1<<62))},
		{name: "second subsection overruns", key: "Index", value: raw.NewArray(raw.NumberInt(0), raw.NumberInt(1), raw.NumberInt(5), raw.NumberInt(2))},
		{name: "first beyond object range", key: "Index", value: raw.NewArray(raw.NumberInt(1<<40), raw.NumberInt(1))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := raw.Dict()
			d.Set("W", raw.NewArray(raw.NumberInt(1), raw.NumberInt(2), raw.NumberInt(1)))
			if tc.key != "" {
				d.Set(tc.key, tc.value)
			} else {
				d.Set("Size", raw.NumberInt(tc.size))
			}
			if _, err := xref.DecodeStreamEntries(d, make([]byte, 8)); !errors.Is(err, pdferr.ErrInvalidXRefStream) {
				t.Fatalf("expected invalid xref stream, got %v", err)
			}
		})
	}
}
