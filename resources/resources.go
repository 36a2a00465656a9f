// Package resources keeps the identity of embedded resources stable across
// commits and resolves page resources through the page tree.
package resources

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/pdferr"
	"github.com/wudi/pdfrev/store"
)

type ResourceCategory string

const (
	CategoryFont       ResourceCategory = "Font"
	CategoryXObject    ResourceCategory = "XObject"
	CategoryExtGState  ResourceCategory = "ExtGState"
	CategoryColorSpace ResourceCategory = "ColorSpace"
)

// ContentKey derives an embed key from a resource's bytes. Equal payloads of
// the same kind always map to the same key.
func ContentKey(kind string, payload []byte) string {
	sum := blake2b.Sum256(payload)
	return kind + ":" + hex.EncodeToString(sum[:])
}

// Registry maps caller keys to the indirect objects embedded for them. The
// mapping lives in the Context, so it survives commits and is carried by
// Context.Copy.
type Registry struct {
	c *store.Context
}

func NewRegistry(c *store.Context) *Registry { return &Registry{c: c} }

// Lookup returns the live object embedded under key.
func (r *Registry) Lookup(key string) (raw.ObjectRef, bool) {
	ref, ok := r.c.EmbeddedRef(key)
	if !ok || !r.c.Has(ref) {
		return raw.ObjectRef{}, false
	}
	return ref, true
}

// Embed returns the object embedded under key, calling build and
// registering its result only when there is none. The second result is true
// when a new object was registered.
func (r *Registry) Embed(key string, build func() (raw.Object, error)) (raw.ObjectRef, bool, error) {
	if key == "" {
		return raw.ObjectRef{}, false, pdferr.New(pdferr.ErrUsage, "embed", fmt.Errorf("empty resource key"))
	}
	if ref, ok := r.Lookup(key); ok {
		return ref, false, nil
	}
	obj, err := build()
	if err != nil {
		return raw.ObjectRef{}, false, fmt.Errorf("build resource %q: %w", key, err)
	}
	ref, err := r.c.Register(obj)
	if err != nil {
		return raw.ObjectRef{}, false, err
	}
	r.c.RememberEmbed(key, ref)
	return ref, true, nil
}

// ResolveWithInheritance looks name up in the category of page's
// /Resources, walking /Parent links when the page does not define it.
func ResolveWithInheritance(c *store.Context, category ResourceCategory, name string, page raw.ObjectRef) (raw.Object, error) {
	seen := make(map[raw.ObjectRef]bool)
	for ref, ok := page, true; ok; {
		if seen[ref] {
			return nil, pdferr.Newf(pdferr.ErrMalformedSyntax, "resolve resource", "page tree loop at %s", ref)
		}
		seen[ref] = true
		node, err := c.LookupDict(raw.RefObj{R: ref})
		if err != nil {
			return nil, err
		}
		if node == nil {
			break
		}
		if res, ok := node.Get("Resources"); ok {
			v, err := lookupIn(c, res, category, name)
			if err != nil || v != nil {
				return v, err
			}
		}
		var parent raw.Object
		parent, ok = node.Get("Parent")
		if !ok {
			break
		}
		pr, isRef := parent.(raw.RefObj)
		if !isRef {
			break
		}
		ref = pr.R
	}
	return nil, pdferr.Newf(pdferr.ErrNotFound, "resolve resource", "resource not found: %s/%s", category, name)
}

func lookupIn(c *store.Context, res raw.Object, category ResourceCategory, name string) (raw.Object, error) {
	dict, err := c.LookupDict(res)
	if dict == nil || err != nil {
		return nil, err
	}
	cat, ok := dict.Get(string(category))
	if !ok {
		return nil, nil
	}
	catDict, err := c.LookupDict(cat)
	if catDict == nil || err != nil {
		return nil, err
	}
	v, ok := catDict.Get(name)
	if !ok {
		return nil, nil
	}
	return v, nil
}
