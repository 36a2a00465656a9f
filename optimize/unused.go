package optimize

import (
	"context"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/store"
)

// cleanUnusedObjects deletes every live object that cannot be reached from
// the trailer.
func (o *Optimizer) cleanUnusedObjects(ctx context.Context, c *store.Context) (int, error) {
	reachable := make(map[raw.ObjectRef]bool)
	if err := markReachable(c, c.Trailer(), reachable); err != nil {
		return 0, err
	}
	removed := 0
	for _, ref := range c.Refs() {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !reachable[ref] && c.Delete(ref) {
			removed++
		}
	}
	return removed, nil
}

// markReachable walks breadth first so deep page trees do not grow the
// stack.
func markReachable(c *store.Context, root raw.Object, reachable map[raw.ObjectRef]bool) error {
	queue := []raw.Object{root}
	for len(queue) > 0 {
		obj := queue[0]
		queue = queue[1:]
		switch t := obj.(type) {
		case raw.RefObj:
			if reachable[t.R] {
				continue
			}
			reachable[t.R] = true
			target, err := c.LookupRef(t.R)
			if err != nil {
				return err
			}
			if target != nil {
				queue = append(queue, target)
			}
		case *raw.ArrayObj:
			queue = append(queue, t.Items...)
		case *raw.DictObj:
			for _, k := range t.Keys() {
				v, _ := t.Get(k)
				queue = append(queue, v)
			}
		case *raw.StreamObj:
			queue = append(queue, t.Dict)
		}
	}
	return nil
}
