package xref_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/parser"
	"github.com/wudi/pdfrev/xref"
)

func TestResolverRepairsMissingStartXRef(t *testing.T) {
	// No xref table or startxref at all.
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	buf.WriteString("%%EOF\n")

	table := resolve(t, buf.Bytes())
	if !table.Repaired || table.RepairCause == nil {
		t.Fatalf("expected a repaired table")
	}
	if table.Type() != "repaired" {
		t.Fatalf("type = %s", table.Type())
	}
	if e, ok := table.Lookup(1); !ok || e.Offset != int64(off1) {
		t.Errorf("object 1 lookup failed or wrong offset: got %v, want %d, ok=%v", e, off1, ok)
	}
	if e, ok := table.Lookup(2); !ok || e.Offset != int64(off2) {
		t.Errorf("object 2 lookup failed or wrong offset: got %v, want %d, ok=%v", e, off2, ok)
	}
	root, _ := table.Trailer.Get("Root")
	if !raw.Equal(root, raw.RefObj{R: raw.ObjectRef{Num: 1}}) {
		t.Errorf("root = %v", root)
	}
}

func TestResolverRepairsGarbagePrefix(t *testing.T) {
	// "999 1 0 obj": the leading number is garbage.
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	buf.WriteString("999 ")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< >>\nendobj\n")

	buf.WriteString("trailer\n<< /Size 2 /Root 1 0 R >>\n%%EOF\n")

	table := resolve(t, buf.Bytes())
	if e, ok := table.Lookup(1); !ok || e.Offset != int64(off1) {
		t.Errorf("object 1 lookup failed: got %v, want %d", e, off1)
	}
}

func TestRepairSynthesisesTrailerFromCatalog(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.5\n")
	buf.WriteString("1 0 obj\n<< /Producer (scan) >>\nendobj\n")
	buf.WriteString("4 0 obj\n<< /Type /Catalog >>\nendobj\n")
	// Broken startxref pointing into the middle of an object.
	buf.WriteString("startxref\n12\n%%EOF\n")

	table := resolve(t, buf.Bytes())
	root, _ := table.Trailer.Get("Root")
	if !raw.Equal(root, raw.RefObj{R: raw.ObjectRef{Num: 4}}) {
		t.Fatalf("root = %v", root)
	}
	info, _ := table.Trailer.Get("Info")
	if !raw.Equal(info, raw.RefObj{R: raw.ObjectRef{Num: 1}}) {
		t.Fatalf("info = %v", info)
	}
	size, _ := table.Trailer.Get("Size")
	if !raw.Equal(size, raw.NumberInt(5)) {
		t.Fatalf("size = %v", size)
	}
}

func TestRepairLaterDefinitionWins(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	buf.WriteString("2 0 obj\n(old)\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n(new)\nendobj\n")
	buf.WriteString("2 0 obj")
	buf.WriteString("\n")

	data := buf.Bytes()
	table, err := xref.Repair(context.Background(), data, parser.NewObjectSource(data, parser.Config{}), nil)
	if err != nil {
		t.Fatal(err)
	}
	// The trailing header without a body still counts as the later one.
	if e, _ := table.Lookup(2); e.Offset <= int64(off2) {
		t.Fatalf("object 2 at %d, want after %d", e.Offset, off2)
	}
}

func TestRepairRegistersObjectStreamMembers(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	header := "5 0 6 3 "
	body := "(a) (b)"
	fmt.Fprintf(buf, "3 0 obj\n<< /Type /ObjStm /N 2 /First %d /Length %d >>\nstream\n%s%s\nendstream\nendobj\n",
		len(header), len(header)+len(body), header, body)
	buf.WriteString("6 0 obj\n(direct)\nendobj\n")

	data := buf.Bytes()
	table, err := xref.Repair(context.Background(), data, parser.NewObjectSource(data, parser.Config{}), nil)
	if err != nil {
		t.Fatal(err)
	}
	if e, ok := table.Lookup(5); !ok || e.Type != xref.EntryCompressed || e.StreamNum != 3 {
		t.Fatalf("object 5 = %v %v", e, ok)
	}
	if e, _ := table.Lookup(6); e.Type != xref.EntryInUse {
		t.Fatalf("direct definition of 6 must win, got %v", e)
	}
}

func TestRepairFailsWithoutObjects(t *testing.T) {
	data := []byte("%PDF-1.7\nnothing here\n")
	resolver := xref.NewResolver(xref.ResolverConfig{})
	if _, err := resolver.Resolve(context.Background(), data, parser.NewObjectSource(data, parser.Config{})); err == nil {
		t.Fatal("expected an error for a file without objects")
	}
}
