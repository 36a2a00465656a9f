package resources

import (
	"errors"
	"strings"
	"testing"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/pdferr"
	"github.com/wudi/pdfrev/store"
)

func TestEmbedReusesKey(t *testing.T) {
	c := store.New(store.Config{})
	reg := NewRegistry(c)
	builds := 0
	build := func() (raw.Object, error) {
		builds++
		return raw.NewStream(nil, []byte("image bytes")), nil
	}
	key := ContentKey("image", []byte("image bytes"))

	first, added, err := reg.Embed(key, build)
	if err != nil || !added {
		t.Fatalf("first embed: %v added=%v", err, added)
	}
	c.TakeSnapshot()
	second, added, err := reg.Embed(key, build)
	if err != nil {
		t.Fatal(err)
	}
	if added || second != first || builds != 1 {
		t.Fatalf("second embed: ref %v (first %v) added=%v builds=%d", second, first, added, builds)
	}
	if !c.ActiveSnapshot().Empty() {
		t.Fatalf("reusing a resource must not dirty the snapshot")
	}
}

func TestEmbedAfterDeleteBuildsAgain(t *testing.T) {
	c := store.New(store.Config{})
	reg := NewRegistry(c)
	build := func() (raw.Object, error) { return raw.NumberInt(1), nil }
	ref, _, _ := reg.Embed("k", build)
	c.Delete(ref)
	if _, ok := reg.Lookup("k"); ok {
		t.Fatalf("deleted resource still found")
	}
	again, added, err := reg.Embed("k", build)
	if err != nil || !added || again == ref {
		t.Fatalf("re-embed: %v added=%v ref=%v", err, added, again)
	}
}

func TestEmbedErrors(t *testing.T) {
	reg := NewRegistry(store.New(store.Config{}))
	if _, _, err := reg.Embed("", nil); !errors.Is(err, pdferr.ErrUsage) {
		t.Fatalf("empty key: %v", err)
	}
	boom := errors.New("boom")
	_, _, err := reg.Embed("k", func() (raw.Object, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("build error not wrapped: %v", err)
	}
}

func TestContentKey(t *testing.T) {
	a := ContentKey("font", []byte("x"))
	if a != ContentKey("font", []byte("x")) {
		t.Fatalf("key not stable")
	}
	if a == ContentKey("image", []byte("x")) || a == ContentKey("font", []byte("y")) {
		t.Fatalf("keys collide")
	}
	if !strings.HasPrefix(a, "font:") || len(a) != len("font:")+64 {
		t.Fatalf("unexpected key %q", a)
	}
}

func TestResolveWithInheritance(t *testing.T) {
	c := store.New(store.Config{})
	fontRef := c.MustRegister(raw.Dict())
	fonts := raw.Dict()
	fonts.Set("F1", raw.RefObj{R: fontRef})
	res := raw.Dict()
	res.Set("Font", fonts)

	pages := raw.Dict()
	pages.Set("Type", raw.NameLiteral("Pages"))
	pages.Set("Resources", res)
	pagesRef := c.MustRegister(pages)
	page := raw.Dict()
	page.Set("Type", raw.NameLiteral("Page"))
	page.Set("Parent", raw.RefObj{R: pagesRef})
	pageRef := c.MustRegister(page)

	got, err := ResolveWithInheritance(c, CategoryFont, "F1", pageRef)
	if err != nil {
		t.Fatalf("ResolveWithInheritance failed: %v", err)
	}
	if r, ok := got.(raw.RefObj); !ok || r.R != fontRef {
		t.Fatalf("got %v, want %v", got, fontRef)
	}
	if _, err := ResolveWithInheritance(c, CategoryFont, "F2", pageRef); !errors.Is(err, pdferr.ErrNotFound) {
		t.Fatalf("missing font: %v", err)
	}

	pages.Set("Parent", raw.RefObj{R: pageRef})
	if _, err := ResolveWithInheritance(c, CategoryXObject, "Im0", pageRef); !errors.Is(err, pdferr.ErrMalformedSyntax) {
		t.Fatalf("loop: %v", err)
	}
}
