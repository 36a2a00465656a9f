package optimize

import (
	"context"
	"fmt"

	"github.com/wudi/pdfrev/filters"
	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/store"
)

// compressStreams Flate-encodes unfiltered streams whose payload shrinks.
func (o *Optimizer) compressStreams(ctx context.Context, c *store.Context) (int, error) {
	n := 0
	for _, ref := range c.Refs() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		obj, err := c.LookupRef(ref)
		if err != nil {
			return n, err
		}
		st, ok := obj.(*raw.StreamObj)
		if !ok || len(st.Data) == 0 {
			continue
		}
		if _, filtered := st.Dict.Get("Filter"); filtered {
			continue
		}
		if t, _ := st.Dict.Get("Type"); t == raw.NameLiteral("Metadata") {
			continue
		}
		compressed, err := filters.FlateEncode(st.Data)
		if err != nil {
			return n, fmt.Errorf("compress %s: %w", ref, err)
		}
		if len(compressed) >= len(st.Data) {
			continue
		}
		st.Data = compressed
		st.Dict.Set("Filter", raw.NameLiteral("FlateDecode"))
		st.Dict.Delete("DecodeParms")
		if err := c.Assign(ref, st); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
