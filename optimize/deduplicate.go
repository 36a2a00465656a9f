package optimize

import (
	"context"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/store"
)

// combineObjects repeats until a round finds nothing to merge: rewriting
// references can make two formerly different objects identical.
func (o *Optimizer) combineObjects(ctx context.Context, c *store.Context, streamsOnly bool) (int, error) {
	merged := 0
	changed := true
	for changed {
		if err := ctx.Err(); err != nil {
			return merged, err
		}
		changed = false
		seen := make(map[string]raw.ObjectRef)
		replacements := make(map[raw.ObjectRef]raw.ObjectRef)

		for _, ref := range c.Refs() {
			obj, err := c.LookupRef(ref)
			if err != nil {
				return merged, err
			}
			if _, isStream := obj.(*raw.StreamObj); streamsOnly && !isStream {
				continue
			}
			if _, bad := obj.(raw.InvalidObj); bad {
				continue
			}
			h := fingerprint(obj)
			if original, ok := seen[h]; ok {
				replacements[ref] = original
				changed = true
			} else {
				seen[h] = ref
			}
		}

		if len(replacements) > 0 {
			if err := applyReplacements(c, replacements); err != nil {
				return merged, err
			}
			for dup := range replacements {
				c.Delete(dup)
			}
			merged += len(replacements)
		}
	}
	return merged, nil
}

// applyReplacements rewrites every reference to a key of replacements in
// the live objects and the trailer. Objects that change are reassigned so
// the active snapshot sees them.
func applyReplacements(c *store.Context, replacements map[raw.ObjectRef]raw.ObjectRef) error {
	for _, ref := range c.Refs() {
		if _, dup := replacements[ref]; dup {
			continue
		}
		obj, err := c.LookupRef(ref)
		if err != nil {
			return err
		}
		if replaceRefs(obj, replacements) {
			if err := c.Assign(ref, obj); err != nil {
				return err
			}
		}
	}
	replaceRefs(c.Trailer(), replacements)
	return nil
}

func replaceRefs(obj raw.Object, replacements map[raw.ObjectRef]raw.ObjectRef) bool {
	changed := false
	switch t := obj.(type) {
	case *raw.ArrayObj:
		for i, val := range t.Items {
			if ref, ok := val.(raw.RefObj); ok {
				if newRef, found := replacements[ref.R]; found {
					t.Items[i] = raw.RefObj{R: newRef}
					changed = true
				}
			} else if replaceRefs(val, replacements) {
				changed = true
			}
		}
	case *raw.DictObj:
		for _, key := range t.Keys() {
			val, _ := t.Get(key)
			if ref, ok := val.(raw.RefObj); ok {
				if newRef, found := replacements[ref.R]; found {
					t.Set(key, raw.RefObj{R: newRef})
					changed = true
				}
			} else if replaceRefs(val, replacements) {
				changed = true
			}
		}
	case *raw.StreamObj:
		changed = replaceRefs(t.Dict, replacements)
	}
	return changed
}
