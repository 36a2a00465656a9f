package writer

import (
	"bytes"
	"strconv"

	"github.com/wudi/pdfrev/filters"
	"github.com/wudi/pdfrev/ir/raw"
)

// objStmPack is one planned /Type /ObjStm container.
type objStmPack struct {
	members []raw.ObjectRef
}

// planObjectStreams chooses the objects that may live in object streams:
// generation 0, not a stream, not the encryption dictionary and not an
// object kept verbatim from a damaged file. They are grouped in number
// order, at most cfg.ObjectsPerStream per container.
func planObjectStreams(refs []raw.ObjectRef, objs map[int]raw.Object, cfg Config) []*objStmPack {
	var packs []*objStmPack
	var cur *objStmPack
	for _, ref := range refs {
		if ref.Gen != 0 || ref == cfg.EncryptRef {
			continue
		}
		switch objs[ref.Num].(type) {
		case *raw.StreamObj, raw.InvalidObj:
			continue
		}
		if cur == nil || len(cur.members) == cfg.ObjectsPerStream {
			cur = &objStmPack{}
			packs = append(packs, cur)
		}
		cur.members = append(cur.members, ref)
	}
	return packs
}

// build serializes the members: a header of "num offset" pairs followed by
// the objects, flate-compressed.
func (p *objStmPack) build(objs map[int]raw.Object) (*raw.StreamObj, error) {
	var header, body []byte
	for i, m := range p.members {
		if i > 0 {
			header = append(header, ' ')
			body = append(body, '\n')
		}
		header = strconv.AppendInt(header, int64(m.Num), 10)
		header = append(header, ' ')
		header = strconv.AppendInt(header, int64(len(body)), 10)
		body = objs[m.Num].AppendPDF(body)
	}
	header = append(header, '\n')
	data := bytes.Join([][]byte{header, body}, nil)
	packed, err := filters.FlateEncode(data)
	if err != nil {
		return nil, err
	}
	d := raw.Dict()
	d.Set("Type", raw.NameLiteral("ObjStm"))
	d.Set("N", raw.NumberInt(int64(len(p.members))))
	d.Set("First", raw.NumberInt(int64(len(header))))
	d.Set("Filter", raw.NameLiteral("FlateDecode"))
	return raw.NewStream(d, packed), nil
}
