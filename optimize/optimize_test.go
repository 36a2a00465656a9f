package optimize

import (
	"context"
	"testing"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/store"
)

func TestCombineIdenticalIndirectObjects(t *testing.T) {
	c := store.New(store.Config{})
	r1 := c.MustRegister(raw.NewArray(raw.NumberInt(1), raw.NumberInt(2)))
	r2 := c.MustRegister(raw.NewArray(raw.NumberInt(1), raw.NumberInt(2)))
	c.MustRegister(raw.NewArray(raw.NumberInt(3)))
	holder := c.MustRegister(raw.NewArray(raw.RefObj{R: r1}, raw.RefObj{R: r2}))

	n, err := Deduplicate(context.Background(), c)
	if err != nil {
		t.Fatalf("Deduplicate: %v", err)
	}
	if n != 1 {
		t.Fatalf("merged %d objects, want 1", n)
	}
	if c.ObjectCount() != 3 {
		t.Errorf("Expected 3 objects, got %d", c.ObjectCount())
	}
	arr, err := c.LookupArray(raw.RefObj{R: holder})
	if err != nil {
		t.Fatal(err)
	}
	a := arr.Items[0].(raw.RefObj).R
	b := arr.Items[1].(raw.RefObj).R
	if a != b || a != r1 {
		t.Errorf("Expected both references to point at %v, got %v and %v", r1, a, b)
	}
}

func TestCombineCascades(t *testing.T) {
	c := store.New(store.Config{})
	font1 := c.MustRegister(raw.NameLiteral("Helvetica"))
	font2 := c.MustRegister(raw.NameLiteral("Helvetica"))
	// Different only through references that become equal once the fonts merge.
	d1 := raw.Dict()
	d1.Set("F", raw.RefObj{R: font1})
	d2 := raw.Dict()
	d2.Set("F", raw.RefObj{R: font2})
	r1 := c.MustRegister(d1)
	r2 := c.MustRegister(d2)
	c.SetRoot(r2)

	n, err := Deduplicate(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("merged %d, want 2", n)
	}
	if root, _ := c.Root(); root != r1 {
		t.Fatalf("trailer /Root = %v, want %v", root, r1)
	}
}

func TestStreamsIgnoreLengthButNotData(t *testing.T) {
	c := store.New(store.Config{})
	s1 := raw.NewStream(nil, []byte("abc"))
	s1.Dict.Set("Length", raw.NumberInt(99))
	c.MustRegister(s1)
	c.MustRegister(raw.NewStream(nil, []byte("abc")))
	c.MustRegister(raw.NewStream(nil, []byte("abd")))
	c.MustRegister(raw.NewArray(raw.NumberInt(7)))
	c.MustRegister(raw.NewArray(raw.NumberInt(7)))

	rep, err := New(Config{CombineDuplicateStreams: true}).Optimize(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Merged != 1 {
		t.Fatalf("merged %d, want 1 (arrays must be left alone)", rep.Merged)
	}
	if c.ObjectCount() != 4 {
		t.Fatalf("count = %d", c.ObjectCount())
	}
}

func TestCleanUnusedObjects(t *testing.T) {
	c := store.New(store.Config{})
	leaf := c.MustRegister(raw.NumberInt(1))
	cat := raw.Dict()
	cat.Set("Leaf", raw.RefObj{R: leaf})
	root := c.MustRegister(cat)
	cat.Set("Self", raw.RefObj{R: root})
	orphan := c.MustRegister(raw.NumberInt(2))
	c.SetRoot(root)

	rep, err := New(Config{CleanUnusedObjects: true}).Optimize(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Removed != 1 || c.Has(orphan) {
		t.Fatalf("removed %d, orphan live=%v", rep.Removed, c.Has(orphan))
	}
	if !c.Has(leaf) || !c.Has(root) {
		t.Fatalf("reachable objects were removed")
	}
}

func TestCompressStreams(t *testing.T) {
	c := store.New(store.Config{})
	plain := make([]byte, 512)
	for i := range plain {
		plain[i] = 'a'
	}
	ref := c.MustRegister(raw.NewStream(nil, plain))
	meta := raw.NewStream(nil, plain)
	meta.Dict.Set("Type", raw.NameLiteral("Metadata"))
	metaRef := c.MustRegister(meta)
	c.TakeSnapshot()

	rep, err := New(Config{CompressStreams: true}).Optimize(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Compressed != 1 {
		t.Fatalf("compressed %d, want 1", rep.Compressed)
	}
	st, _ := c.LookupStream(raw.RefObj{R: ref})
	if f, _ := st.Dict.Get("Filter"); f != raw.NameLiteral("FlateDecode") {
		t.Fatalf("filter = %v", f)
	}
	if !c.ActiveSnapshot().ShouldSave(ref.Num) {
		t.Fatalf("compressed stream must be marked for save")
	}
	m, _ := c.LookupStream(raw.RefObj{R: metaRef})
	if _, ok := m.Dict.Get("Filter"); ok {
		t.Fatalf("metadata must stay uncompressed")
	}
}
