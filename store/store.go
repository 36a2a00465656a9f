// Package store owns the indirect objects of one document.
//
// A Context is an arena of slots keyed by object number. References are
// resolved one hop at a time, so cyclic object graphs need no special
// handling. Slots loaded from a file may stay unparsed until their first
// lookup; see Source.
package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/observability"
	"github.com/wudi/pdfrev/pdferr"
)

// MaxGeneration is the generation at which a slot can no longer be reused.
const MaxGeneration = 65535

// Source materialises objects of a parsed file on demand.
type Source interface {
	Load(ctx context.Context, num int) (raw.ObjectRef, raw.Object, error)
}

type slot struct {
	gen    int
	obj    raw.Object
	loaded bool
	free   bool
}

// Config tunes a Context.
type Config struct {
	// MaxObjectNumber caps allocation. Zero means unlimited.
	MaxObjectNumber int
	// PreserveNumbers stops freed object numbers from being reused. Documents
	// opened for incremental update set it so every revision keeps its
	// numbering.
	PreserveNumbers bool
	Logger          observability.Logger
}

// Context is not safe for concurrent use.
type Context struct {
	cfg     Config
	log     observability.Logger
	slots   map[int]*slot
	largest int
	free    []int // reusable numbers, ascending
	src     Source
	trailer *raw.DictObj
	active  *Snapshot
	embeds  map[string]raw.ObjectRef
}

func New(cfg Config) *Context {
	c := &Context{
		cfg:     cfg,
		log:     observability.OrNop(cfg.Logger),
		slots:   make(map[int]*slot),
		trailer: raw.Dict(),
		embeds:  make(map[string]raw.ObjectRef),
	}
	c.active = newSnapshot()
	return c
}

// Attach makes c resolve not-yet-loaded slots through src.
func (c *Context) Attach(src Source) { c.src = src }

// Declare creates an unloaded slot for an object present in a parsed file.
func (c *Context) Declare(ref raw.ObjectRef) {
	c.slots[ref.Num] = &slot{gen: ref.Gen}
	c.bumpLargest(ref.Num)
}

// DeclareFree records a free slot of a parsed file. gen is the generation the
// number gets if it is ever reused.
func (c *Context) DeclareFree(num, gen int) {
	if num <= 0 {
		return
	}
	if _, ok := c.slots[num]; ok {
		return
	}
	c.slots[num] = &slot{gen: gen, free: true, loaded: true}
	c.bumpLargest(num)
	if !c.cfg.PreserveNumbers && gen < MaxGeneration {
		c.pushFree(num)
	}
}

// Bind stores a parsed object without marking it dirty.
func (c *Context) Bind(ref raw.ObjectRef, obj raw.Object) {
	c.slots[ref.Num] = &slot{gen: ref.Gen, obj: obj, loaded: true}
	c.bumpLargest(ref.Num)
}

// ReserveNumbers raises LargestObjectNumber to at least n.
func (c *Context) ReserveNumbers(n int) { c.bumpLargest(n) }

func (c *Context) bumpLargest(n int) {
	if n > c.largest {
		c.largest = n
	}
}

func (c *Context) pushFree(num int) {
	i := sort.SearchInts(c.free, num)
	if i < len(c.free) && c.free[i] == num {
		return
	}
	c.free = append(c.free, 0)
	copy(c.free[i+1:], c.free[i:])
	c.free[i] = num
}

// Register allocates an object number for obj and marks it for saving.
// Freed numbers are reused with their bumped generation unless the Context
// preserves numbering.
func (c *Context) Register(obj raw.Object) (raw.ObjectRef, error) {
	if obj == nil {
		obj = raw.Null
	}
	if len(c.free) > 0 {
		num := c.free[0]
		c.free = c.free[1:]
		s := c.slots[num]
		s.obj, s.loaded, s.free = obj, true, false
		ref := raw.ObjectRef{Num: num, Gen: s.gen}
		c.active.onRegister(ref)
		return ref, nil
	}
	num := c.largest + 1
	if max := c.cfg.MaxObjectNumber; max > 0 && num > max {
		return raw.ObjectRef{}, pdferr.Newf(pdferr.ErrAllocationLimit, "register", "object number %d exceeds %d", num, max)
	}
	c.largest = num
	c.slots[num] = &slot{obj: obj, loaded: true}
	ref := raw.ObjectRef{Num: num}
	c.active.onRegister(ref)
	return ref, nil
}

// MustRegister is Register for callers that cannot hit the allocation cap.
func (c *Context) MustRegister(obj raw.Object) raw.ObjectRef {
	ref, err := c.Register(obj)
	if err != nil {
		panic(err)
	}
	return ref
}

// Assign binds obj to ref, replacing any previous value, and marks it dirty.
func (c *Context) Assign(ref raw.ObjectRef, obj raw.Object) error {
	if ref.Num <= 0 {
		return pdferr.Newf(pdferr.ErrUsage, "assign", "invalid object number %d", ref.Num)
	}
	if max := c.cfg.MaxObjectNumber; max > 0 && ref.Num > max {
		return pdferr.Newf(pdferr.ErrAllocationLimit, "assign", "object number %d exceeds %d", ref.Num, max)
	}
	if obj == nil {
		obj = raw.Null
	}
	if s, ok := c.slots[ref.Num]; ok && s.free {
		c.dropFree(ref.Num)
	}
	c.slots[ref.Num] = &slot{gen: ref.Gen, obj: obj, loaded: true}
	c.bumpLargest(ref.Num)
	c.active.onAssign(ref)
	return nil
}

func (c *Context) dropFree(num int) {
	i := sort.SearchInts(c.free, num)
	if i < len(c.free) && c.free[i] == num {
		c.free = append(c.free[:i], c.free[i+1:]...)
	}
}

// Delete frees the slot of ref. Later lookups of ref yield nothing, and the
// slot's generation is bumped for the free-list entry.
func (c *Context) Delete(ref raw.ObjectRef) bool {
	s, ok := c.slots[ref.Num]
	if !ok || s.free || s.gen != ref.Gen {
		return false
	}
	s.obj, s.loaded, s.free = nil, true, true
	if s.gen < MaxGeneration {
		s.gen++
	}
	if !c.cfg.PreserveNumbers && s.gen < MaxGeneration {
		c.pushFree(ref.Num)
	}
	c.active.onDelete(ref)
	return true
}

// resolve returns the value bound to ref, loading it from the source if
// needed. A missing, freed or mismatched slot yields nil.
func (c *Context) resolve(ref raw.ObjectRef) (raw.Object, error) {
	s, ok := c.slots[ref.Num]
	if !ok || s.free || s.gen != ref.Gen {
		return nil, nil
	}
	if !s.loaded {
		if err := c.load(ref.Num, s); err != nil {
			return nil, err
		}
	}
	return s.obj, nil
}

func (c *Context) load(num int, s *slot) error {
	if c.src == nil {
		s.loaded = true
		return nil
	}
	_, obj, err := c.src.Load(context.Background(), num)
	if err != nil {
		return err
	}
	s.obj, s.loaded = obj, true
	return nil
}

// Lookup dereferences o. A direct value is returned unchanged. Dangling
// references yield nil. When kinds are given, a present value of any other
// kind is a TypeMismatch error.
func (c *Context) Lookup(o raw.Object, kinds ...raw.Kind) (raw.Object, error) {
	v := o
	if r, ok := o.(raw.RefObj); ok {
		var err error
		if v, err = c.resolve(r.R); err != nil {
			return nil, err
		}
	}
	if v == nil || len(kinds) == 0 {
		return v, nil
	}
	k := raw.KindOf(v)
	for _, want := range kinds {
		if k == want {
			return v, nil
		}
	}
	err := pdferr.Newf(pdferr.ErrTypeMismatch, "lookup", "expected %v, found %s", kinds, k)
	if r, ok := o.(raw.RefObj); ok {
		err = err.ForObject(r.R.Num, r.R.Gen)
	}
	return nil, err
}

// LookupRef is Lookup for a bare reference.
func (c *Context) LookupRef(ref raw.ObjectRef, kinds ...raw.Kind) (raw.Object, error) {
	return c.Lookup(raw.RefObj{R: ref}, kinds...)
}

func (c *Context) LookupDict(o raw.Object) (*raw.DictObj, error) {
	v, err := c.Lookup(o, raw.KindDict)
	if v == nil || err != nil {
		return nil, err
	}
	return v.(*raw.DictObj), nil
}

func (c *Context) LookupArray(o raw.Object) (*raw.ArrayObj, error) {
	v, err := c.Lookup(o, raw.KindArray)
	if v == nil || err != nil {
		return nil, err
	}
	return v.(*raw.ArrayObj), nil
}

func (c *Context) LookupStream(o raw.Object) (*raw.StreamObj, error) {
	v, err := c.Lookup(o, raw.KindStream)
	if v == nil || err != nil {
		return nil, err
	}
	return v.(*raw.StreamObj), nil
}

// Has reports whether ref names a live slot.
func (c *Context) Has(ref raw.ObjectRef) bool {
	s, ok := c.slots[ref.Num]
	return ok && !s.free && s.gen == ref.Gen
}

// RefFor returns the live reference for num.
func (c *Context) RefFor(num int) (raw.ObjectRef, bool) {
	s, ok := c.slots[num]
	if !ok || s.free {
		return raw.ObjectRef{}, false
	}
	return raw.ObjectRef{Num: num, Gen: s.gen}, true
}

// Generation returns the current generation of num, for free slots the
// generation a reuse would get.
func (c *Context) Generation(num int) (int, bool) {
	s, ok := c.slots[num]
	if !ok {
		return 0, false
	}
	return s.gen, true
}

// FreeGeneration returns the generation of num if its slot is free.
func (c *Context) FreeGeneration(num int) (int, bool) {
	s, ok := c.slots[num]
	if !ok || !s.free {
		return 0, false
	}
	return s.gen, true
}

// LargestObjectNumber is the highest object number ever used or declared.
func (c *Context) LargestObjectNumber() int { return c.largest }

// ObjectCount is the number of live objects.
func (c *Context) ObjectCount() int {
	n := 0
	for _, s := range c.slots {
		if !s.free {
			n++
		}
	}
	return n
}

// Refs returns every live reference ordered by object number.
func (c *Context) Refs() []raw.ObjectRef {
	out := make([]raw.ObjectRef, 0, len(c.slots))
	for num, s := range c.slots {
		if !s.free {
			out = append(out, raw.ObjectRef{Num: num, Gen: s.gen})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// LoadAll materialises every slot through the source.
func (c *Context) LoadAll() error {
	for _, ref := range c.Refs() {
		s := c.slots[ref.Num]
		if s.loaded {
			continue
		}
		if err := c.load(ref.Num, s); err != nil {
			return err
		}
	}
	return nil
}

// FindRef returns the reference whose slot holds exactly o. Only composite
// values have an identity; scalars never match.
func (c *Context) FindRef(o raw.Object) (raw.ObjectRef, bool) {
	switch o.(type) {
	case *raw.DictObj, *raw.ArrayObj, *raw.StreamObj:
	default:
		return raw.ObjectRef{}, false
	}
	for num, s := range c.slots {
		if !s.free && s.loaded && s.obj == o {
			return raw.ObjectRef{Num: num, Gen: s.gen}, true
		}
	}
	return raw.ObjectRef{}, false
}

// Trailer holds the trailer entries carried between saves: /Root, /Info,
// /Encrypt and /ID. It is the caller's to modify.
func (c *Context) Trailer() *raw.DictObj { return c.trailer }

func (c *Context) SetTrailer(d *raw.DictObj) {
	if d == nil {
		d = raw.Dict()
	}
	c.trailer = d
}

// Root returns the catalog reference.
func (c *Context) Root() (raw.ObjectRef, bool) { return c.trailerRef("Root") }

func (c *Context) SetRoot(ref raw.ObjectRef) { c.trailer.Set("Root", raw.RefObj{R: ref}) }

// Info returns the document information dictionary reference.
func (c *Context) Info() (raw.ObjectRef, bool) { return c.trailerRef("Info") }

func (c *Context) SetInfo(ref raw.ObjectRef) { c.trailer.Set("Info", raw.RefObj{R: ref}) }

func (c *Context) trailerRef(key string) (raw.ObjectRef, bool) {
	o, ok := c.trailer.Get(key)
	if !ok {
		return raw.ObjectRef{}, false
	}
	r, ok := o.(raw.RefObj)
	return r.R, ok
}

// EmbeddedRef returns the object registered earlier for a caller key.
func (c *Context) EmbeddedRef(key string) (raw.ObjectRef, bool) {
	ref, ok := c.embeds[key]
	if ok && !c.Has(ref) {
		delete(c.embeds, key)
		return raw.ObjectRef{}, false
	}
	return ref, ok
}

// RememberEmbed associates key with ref for later EmbeddedRef calls.
func (c *Context) RememberEmbed(key string, ref raw.ObjectRef) { c.embeds[key] = ref }

func (c *Context) String() string {
	return fmt.Sprintf("store.Context{objects: %d, largest: %d}", c.ObjectCount(), c.largest)
}
