package store

import (
	"github.com/wudi/pdfrev/ir/raw"
)

// Copier copies object graphs from one Context into another. References
// are remapped through a translation table, so the two Contexts never share
// object numbers. A Copier remembers what it has copied: copying the same
// source object twice yields the same destination reference.
type Copier struct {
	src, dst *Context
	table    map[raw.ObjectRef]raw.ObjectRef
}

func NewCopier(src, dst *Context) *Copier {
	return &Copier{src: src, dst: dst, table: make(map[raw.ObjectRef]raw.ObjectRef)}
}

// Table returns the source-to-destination reference mapping built so far.
func (cp *Copier) Table() map[raw.ObjectRef]raw.ObjectRef { return cp.table }

// Copy returns a deep copy of o whose references point into the destination
// Context. Every object reachable from o is registered there.
func (cp *Copier) Copy(o raw.Object) (raw.Object, error) {
	switch v := o.(type) {
	case raw.RefObj:
		r, err := cp.CopyRef(v.R)
		if err != nil {
			return nil, err
		}
		return raw.RefObj{R: r}, nil
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, it := range v.Items {
			c, err := cp.Copy(it)
			if err != nil {
				return nil, err
			}
			out.Items[i] = c
		}
		return out, nil
	case *raw.DictObj:
		return cp.copyDict(v)
	case *raw.StreamObj:
		d, err := cp.copyDict(v.Dict)
		if err != nil {
			return nil, err
		}
		return &raw.StreamObj{Dict: d, Data: append([]byte(nil), v.Data...)}, nil
	case nil:
		return nil, nil
	}
	return o.Clone(), nil
}

func (cp *Copier) copyDict(d *raw.DictObj) (*raw.DictObj, error) {
	out := raw.Dict()
	if d == nil {
		return out, nil
	}
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		c, err := cp.Copy(v)
		if err != nil {
			return nil, err
		}
		out.Set(k, c)
	}
	return out, nil
}

// CopyRef copies the object behind ref and returns its destination
// reference. A dangling source reference maps to a new null object.
func (cp *Copier) CopyRef(ref raw.ObjectRef) (raw.ObjectRef, error) {
	if r, ok := cp.table[ref]; ok {
		return r, nil
	}
	// Reserve the destination slot first so cycles resolve to it.
	dstRef, err := cp.dst.Register(raw.Null)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	cp.table[ref] = dstRef
	v, err := cp.src.LookupRef(ref)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	c, err := cp.Copy(v)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	if c == nil {
		c = raw.Null
	}
	return dstRef, cp.dst.Assign(dstRef, c)
}

// Copy returns a new Context holding a deep copy of every live object of c,
// renumbered densely from 1, together with the translation
// table. The trailer entries are remapped as well.
func (c *Context) Copy() (*Context, map[raw.ObjectRef]raw.ObjectRef, error) {
	dst := New(Config{MaxObjectNumber: c.cfg.MaxObjectNumber, Logger: c.cfg.Logger})
	cp := NewCopier(c, dst)
	for _, ref := range c.Refs() {
		if _, err := cp.CopyRef(ref); err != nil {
			return nil, nil, err
		}
	}
	trailer, err := cp.copyDict(c.trailer)
	if err != nil {
		return nil, nil, err
	}
	dst.trailer = trailer
	for key, ref := range c.embeds {
		if r, ok := cp.table[ref]; ok {
			dst.embeds[key] = r
		}
	}
	dst.TakeSnapshot()
	return dst, cp.table, nil
}
