package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/pdferr"
)

func TestRegisterAllocatesSequentialNumbers(t *testing.T) {
	c := New(Config{})
	a := c.MustRegister(raw.NumberInt(1))
	b := c.MustRegister(raw.NumberInt(2))
	if a != (raw.ObjectRef{Num: 1}) || b != (raw.ObjectRef{Num: 2}) {
		t.Fatalf("got %v %v", a, b)
	}
	if c.LargestObjectNumber() != 2 {
		t.Fatalf("largest = %d", c.LargestObjectNumber())
	}
}

func TestDeleteBumpsGenerationAndReusesSlot(t *testing.T) {
	c := New(Config{})
	ref := c.MustRegister(raw.Dict())
	c.MustRegister(raw.Dict())
	if !c.Delete(ref) {
		t.Fatalf("delete %v failed", ref)
	}
	if v, err := c.LookupRef(ref); v != nil || err != nil {
		t.Fatalf("lookup after delete = %v, %v", v, err)
	}
	if gen, _ := c.Generation(ref.Num); gen != 1 {
		t.Fatalf("free generation = %d, want 1", gen)
	}
	reused := c.MustRegister(raw.NumberInt(9))
	if reused != (raw.ObjectRef{Num: 1, Gen: 1}) {
		t.Fatalf("reused ref = %v", reused)
	}
	if c.Delete(ref) {
		t.Fatalf("stale generation must not delete the reused slot")
	}
}

func TestPreserveNumbersNeverReuses(t *testing.T) {
	c := New(Config{PreserveNumbers: true})
	ref := c.MustRegister(raw.Dict())
	c.Delete(ref)
	next := c.MustRegister(raw.Dict())
	if next.Num != 2 {
		t.Fatalf("expected fresh number 2, got %v", next)
	}
}

func TestLookupDirectAndTyped(t *testing.T) {
	c := New(Config{})
	d := raw.Dict()
	ref := c.MustRegister(d)

	got, err := c.Lookup(raw.NumberInt(7))
	if err != nil || !raw.Equal(got, raw.NumberInt(7)) {
		t.Fatalf("direct lookup = %v, %v", got, err)
	}
	if dict, err := c.LookupDict(raw.RefObj{R: ref}); err != nil || dict != d {
		t.Fatalf("dict lookup = %v, %v", dict, err)
	}
	_, err = c.LookupRef(ref, raw.KindArray)
	if !errors.Is(err, pdferr.ErrTypeMismatch) {
		t.Fatalf("expected TypeMismatch, got %v", err)
	}
	if v, err := c.LookupRef(raw.ObjectRef{Num: 99}, raw.KindDict); v != nil || err != nil {
		t.Fatalf("dangling ref = %v, %v", v, err)
	}
}

func TestCycleResolvesOneHop(t *testing.T) {
	c := New(Config{})
	parent := raw.Dict()
	pref := c.MustRegister(parent)
	child := raw.Dict()
	child.Set("Parent", raw.RefObj{R: pref})
	cref := c.MustRegister(child)
	parent.Set("Kids", raw.NewArray(raw.RefObj{R: cref}))

	p, _ := c.LookupDict(child)
	if p != child {
		t.Fatalf("direct dict should pass through")
	}
	back, _ := child.Get("Parent")
	got, err := c.LookupDict(back)
	if err != nil || got != parent {
		t.Fatalf("parent lookup = %v, %v", got, err)
	}
}

func TestAllocationCap(t *testing.T) {
	c := New(Config{MaxObjectNumber: 2})
	c.MustRegister(raw.Null)
	c.MustRegister(raw.Null)
	if _, err := c.Register(raw.Null); !errors.Is(err, pdferr.ErrAllocationLimit) {
		t.Fatalf("expected allocation limit, got %v", err)
	}
}

func TestSnapshotTracksChanges(t *testing.T) {
	c := New(Config{PreserveNumbers: true})
	a := c.MustRegister(raw.NumberInt(1))
	b := c.MustRegister(raw.NumberInt(2))
	d := raw.Dict()
	dref := c.MustRegister(d)

	snap := c.TakeSnapshot()
	if !snap.Empty() {
		t.Fatalf("fresh snapshot not empty")
	}
	if err := c.Assign(a, raw.NumberInt(10)); err != nil {
		t.Fatal(err)
	}
	c.Delete(b)
	if !c.MarkObjForSave(d) {
		t.Fatalf("MarkObjForSave did not find the dict")
	}
	n := c.MustRegister(raw.Null)

	if diff := cmp.Diff([]int{a.Num, dref.Num, n.Num}, snap.SavedNumbers()); diff != "" {
		t.Fatalf("saved numbers (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]raw.ObjectRef{b}, snap.DeletedRefs()); diff != "" {
		t.Fatalf("deleted refs (-want +got):\n%s", diff)
	}

	next := c.TakeSnapshot()
	if !next.Empty() || c.ActiveSnapshot() != next {
		t.Fatalf("TakeSnapshot must start an empty active snapshot")
	}
}

func TestSnapshotMarkDeletedRefWithoutContext(t *testing.T) {
	s := newSnapshot()
	s.MarkRefForSave(raw.ObjectRef{Num: 3})
	s.MarkDeletedRef(raw.ObjectRef{Num: 3})
	if s.ShouldSave(3) {
		t.Fatalf("deleted ref must not be saved")
	}
	s.MarkRefForSave(raw.ObjectRef{Num: 3})
	if s.ShouldSave(3) {
		t.Fatalf("marking a deleted ref must not resurrect it")
	}
}

type mapSource map[int]raw.Object

func (m mapSource) Load(_ context.Context, num int) (raw.ObjectRef, raw.Object, error) {
	o, ok := m[num]
	if !ok {
		return raw.ObjectRef{}, nil, errors.New("missing")
	}
	return raw.ObjectRef{Num: num}, o, nil
}

func TestLazySlotsLoadOnFirstLookup(t *testing.T) {
	src := mapSource{1: raw.NameLiteral("A")}
	c := New(Config{})
	c.Attach(src)
	c.Declare(raw.ObjectRef{Num: 1})
	c.Declare(raw.ObjectRef{Num: 2})
	if c.ObjectCount() != 2 {
		t.Fatalf("count = %d", c.ObjectCount())
	}
	v, err := c.LookupRef(raw.ObjectRef{Num: 1})
	if err != nil || !raw.Equal(v, raw.NameLiteral("A")) {
		t.Fatalf("lookup = %v, %v", v, err)
	}
	delete(src, 1)
	if v, _ := c.LookupRef(raw.ObjectRef{Num: 1}); v == nil {
		t.Fatalf("loaded value must be cached")
	}
	if _, err := c.LookupRef(raw.ObjectRef{Num: 2}); err == nil {
		t.Fatalf("expected source error")
	}
}

func TestCopyRemapsReferences(t *testing.T) {
	c := New(Config{})
	c.MustRegister(raw.Null) // keep numbering from lining up
	cat := raw.Dict()
	catRef := c.MustRegister(cat)
	pages := raw.Dict()
	pagesRef := c.MustRegister(pages)
	cat.Set("Pages", raw.RefObj{R: pagesRef})
	pages.Set("Parent", raw.RefObj{R: catRef})
	c.SetRoot(catRef)

	dst, table, err := c.Copy()
	if err != nil {
		t.Fatal(err)
	}
	root, ok := dst.Root()
	if !ok || root != table[catRef] {
		t.Fatalf("root = %v, table = %v", root, table)
	}
	gotCat, _ := dst.LookupDict(raw.RefObj{R: root})
	if gotCat == cat {
		t.Fatalf("copy must not alias source objects")
	}
	p, _ := gotCat.Get("Pages")
	gotPages, _ := dst.LookupDict(p)
	back, _ := gotPages.Get("Parent")
	if back.(raw.RefObj).R != root {
		t.Fatalf("cycle not remapped: %v", back)
	}
	if dst.ObjectCount() != c.ObjectCount() {
		t.Fatalf("count %d != %d", dst.ObjectCount(), c.ObjectCount())
	}
}

func TestEmbedIdentity(t *testing.T) {
	c := New(Config{})
	ref := c.MustRegister(raw.NewStream(nil, []byte("img")))
	c.RememberEmbed("logo", ref)
	if got, ok := c.EmbeddedRef("logo"); !ok || got != ref {
		t.Fatalf("embed = %v %v", got, ok)
	}
	c.Delete(ref)
	if _, ok := c.EmbeddedRef("logo"); ok {
		t.Fatalf("deleted embed must be forgotten")
	}
}
