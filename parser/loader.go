package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfrev/filters"
	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/observability"
	"github.com/wudi/pdfrev/pdferr"
	"github.com/wudi/pdfrev/recovery"
	"github.com/wudi/pdfrev/scanner"
	"github.com/wudi/pdfrev/security"
	"github.com/wudi/pdfrev/xref"
)

// loader parses individual objects. It serves the xref resolver while the
// table is being built and the store afterwards.
type loader struct {
	data     []byte
	cfg      Config
	log      observability.Logger
	pipeline *filters.Pipeline

	table      *xref.Table
	sec        security.Handler
	encryptRef raw.ObjectRef
	// plainMetadata is set when /EncryptMetadata is false.
	plainMetadata bool

	objstm      map[int]*objectStream
	repaired    *xref.Table
	repairTried bool
	// lengthDepth guards recursive indirect /Length resolution.
	lengthDepth int
}

func newLoader(data []byte, cfg Config) *loader {
	return &loader{
		data:     data,
		cfg:      cfg,
		log:      observability.OrNop(cfg.Logger),
		pipeline: filters.NewDefaultPipeline(filters.Limits{MaxDecompressedSize: cfg.Limits.MaxDecompressedSize}),
		objstm:   make(map[int]*objectStream),
	}
}

func (l *loader) newScanner(data []byte) scanner.Scanner {
	return scanner.New(data, scanner.Config{
		MaxStringLength: l.cfg.Limits.MaxStringLength,
		MaxStreamLength: l.cfg.Limits.MaxStreamLength,
		Recovery:        l.cfg.Recovery,
	})
}

// ObjectAt parses the indirect object whose header starts at offset.
func (l *loader) ObjectAt(ctx context.Context, offset int64) (raw.ObjectRef, raw.Object, error) {
	if err := ctx.Err(); err != nil {
		return raw.ObjectRef{}, nil, err
	}
	s := l.newScanner(l.data)
	if err := s.Seek(offset); err != nil {
		return raw.ObjectRef{}, nil, pdferr.New(pdferr.ErrMalformedSyntax, "load object", err).AtOffset(offset)
	}
	p := newObjectParser(s, l.cfg.Recovery, l.cfg.Limits, recovery.Location{ByteOffset: offset, Component: "object"})
	return p.parseIndirect(l.resolveLength)
}

// DirectAt parses one direct object starting at offset.
func (l *loader) DirectAt(ctx context.Context, offset int64) (raw.Object, error) {
	s := l.newScanner(l.data)
	if err := s.Seek(offset); err != nil {
		return nil, pdferr.New(pdferr.ErrMalformedSyntax, "load object", err).AtOffset(offset)
	}
	p := newObjectParser(s, l.cfg.Recovery, l.cfg.Limits, recovery.Location{ByteOffset: offset, Component: "direct"})
	return p.parseValue(0)
}

// DecodeStream runs the filter chain of s. Crypt filters are skipped:
// decryption already happened when the stream was loaded.
func (l *loader) DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	names, params := filters.ExtractFilters(s.Dict)
	var keepNames []string
	var keepParams []*raw.DictObj
	for i, n := range names {
		if n == "Crypt" {
			continue
		}
		keepNames = append(keepNames, n)
		if i < len(params) {
			keepParams = append(keepParams, params[i])
		} else {
			keepParams = append(keepParams, nil)
		}
	}
	if len(keepNames) == 0 {
		return s.Data, nil
	}
	return l.pipeline.Decode(ctx, s.Data, keepNames, keepParams)
}

// resolveLength looks up an indirect /Length. Unknown lengths fall back to
// scanning for endstream.
func (l *loader) resolveLength(ref raw.ObjectRef) int64 {
	if l.table == nil {
		return -1
	}
	max := l.cfg.Limits.MaxIndirectDepth
	if max <= 0 {
		max = security.DefaultLimits().MaxIndirectDepth
	}
	if l.lengthDepth >= max {
		return -1
	}
	l.lengthDepth++
	defer func() { l.lengthDepth-- }()

	_, obj, err := l.parse(context.Background(), ref.Num)
	if err != nil {
		return -1
	}
	if n, ok := obj.(raw.NumberObj); ok && n.IsInt && n.I >= 0 {
		return n.I
	}
	return -1
}

// Load is the one routine that turns an object number into a value. Lazy
// and eager parsing both reach objects through it.
func (l *loader) Load(ctx context.Context, num int) (raw.ObjectRef, raw.Object, error) {
	ref, obj, err := l.parse(ctx, num)
	if err == nil {
		return ref, obj, nil
	}
	if pdferr.KindOf(err) != pdferr.ErrMalformedSyntax {
		return ref, nil, err
	}
	loc := recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "parser:object"}
	var pe *pdferr.Error
	if errors.As(err, &pe) {
		loc.ByteOffset = pe.Offset
	}
	if !recovery.Decide(l.cfg.Recovery, ctx, err, loc).Continue() {
		return ref, nil, err
	}
	l.log.Warn("object recorded as invalid", observability.Int("num", num), observability.Error("error", err))
	var span []byte
	if e, ok := l.table.Lookup(num); ok && e.Type == xref.EntryInUse {
		span = invalidSpan(l.data, e.Offset)
	}
	return ref, raw.InvalidObj{Raw: span, Reason: err.Error()}, nil
}

func (l *loader) parse(ctx context.Context, num int) (raw.ObjectRef, raw.Object, error) {
	e, ok := l.table.Lookup(num)
	if !ok {
		return raw.ObjectRef{Num: num}, nil, pdferr.Newf(pdferr.ErrNotFound, "load object", "object %d not in xref", num)
	}
	switch e.Type {
	case xref.EntryCompressed:
		ref := raw.ObjectRef{Num: num}
		obj, err := l.fromObjectStream(ctx, e.StreamNum, e.Index, num, 0)
		return ref, obj, err
	default:
		ref := raw.ObjectRef{Num: num, Gen: e.Gen}
		obj, err := l.atOffset(ctx, ref, e.Offset)
		if err != nil {
			// A wrong offset is common in damaged files; try the scanned table.
			if alt, ok := l.repairedEntry(ctx, num); ok && alt.Offset != e.Offset {
				if obj2, err2 := l.atOffset(ctx, ref, alt.Offset); err2 == nil {
					l.log.Debug("object found by scanning", observability.Int("num", num))
					return ref, obj2, nil
				}
			}
			return ref, nil, err
		}
		return ref, obj, nil
	}
}

func (l *loader) atOffset(ctx context.Context, want raw.ObjectRef, offset int64) (raw.Object, error) {
	got, obj, err := l.ObjectAt(ctx, offset)
	if err != nil {
		return nil, err
	}
	if got.Num != want.Num {
		return nil, pdferr.Newf(pdferr.ErrMalformedSyntax, "load object", "offset holds object %d %d", got.Num, got.Gen).
			AtOffset(offset).ForObject(want.Num, want.Gen)
	}
	return l.decrypt(want, obj)
}

func (l *loader) repairedEntry(ctx context.Context, num int) (xref.Entry, bool) {
	if l.table.Repaired {
		return xref.Entry{}, false
	}
	if !l.repairTried {
		l.repairTried = true
		t, err := xref.Repair(ctx, l.data, l, l.log)
		if err != nil {
			return xref.Entry{}, false
		}
		l.repaired = t
	}
	if l.repaired == nil {
		return xref.Entry{}, false
	}
	e, ok := l.repaired.Lookup(num)
	return e, ok && e.Type == xref.EntryInUse
}

// objectStream is a decoded /Type /ObjStm container.
type objectStream struct {
	data    []byte
	first   int
	nums    []int
	offsets []int
	extends int
}

func (l *loader) objectStream(ctx context.Context, num int) (*objectStream, error) {
	if stm, ok := l.objstm[num]; ok {
		return stm, nil
	}
	fail := func(format string, args ...any) error {
		return pdferr.Newf(pdferr.ErrInvalidObjectStream, "load object stream", format, args...).ForObject(num, 0)
	}
	e, ok := l.table.Lookup(num)
	if !ok || e.Type != xref.EntryInUse {
		return nil, fail("object stream %d has no offset", num)
	}
	obj, err := l.atOffset(ctx, raw.ObjectRef{Num: num, Gen: e.Gen}, e.Offset)
	if err != nil {
		return nil, pdferr.New(pdferr.ErrInvalidObjectStream, "load object stream", err).ForObject(num, e.Gen)
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fail("object %d is %s, not a stream", num, raw.KindOf(obj))
	}
	data, err := l.DecodeStream(ctx, st)
	if err != nil {
		if pdferr.KindOf(err) == pdferr.ErrAllocationLimit {
			return nil, err
		}
		return nil, pdferr.New(pdferr.ErrInvalidObjectStream, "decode object stream", err).ForObject(num, e.Gen)
	}
	n := intOf(st.Dict, "N")
	first := intOf(st.Dict, "First")
	if n < 0 || first < 0 || first > len(data) {
		return nil, fail("bad /N %d or /First %d for %d bytes", n, first, len(data))
	}
	stm := &objectStream{data: data, first: first}
	if ext, ok := st.Dict.Get("Extends"); ok {
		if r, ok := ext.(raw.RefObj); ok {
			stm.extends = r.R.Num
		}
	}
	s := l.newScanner(data[:first])
	for i := 0; i < n; i++ {
		a, err1 := s.Next()
		b, err2 := s.Next()
		if err1 != nil || err2 != nil || a.Type != scanner.TokenNumber || b.Type != scanner.TokenNumber || !a.IsInt || !b.IsInt {
			return nil, fail("header pair %d unreadable", i)
		}
		if b.Int < 0 || first+int(b.Int) > len(data) {
			return nil, fail("member offset %d out of range", b.Int)
		}
		stm.nums = append(stm.nums, int(a.Int))
		stm.offsets = append(stm.offsets, int(b.Int))
	}
	l.objstm[num] = stm
	return stm, nil
}

func (l *loader) fromObjectStream(ctx context.Context, streamNum, index, num, depth int) (raw.Object, error) {
	stm, err := l.objectStream(ctx, streamNum)
	if err != nil {
		return nil, err
	}
	i := -1
	if index >= 0 && index < len(stm.nums) && stm.nums[index] == num {
		i = index
	} else {
		for k, n := range stm.nums {
			if n == num {
				i = k
				break
			}
		}
	}
	if i < 0 {
		if stm.extends > 0 && depth < 16 {
			return l.fromObjectStream(ctx, stm.extends, -1, num, depth+1)
		}
		return nil, pdferr.Newf(pdferr.ErrInvalidObjectStream, "load object stream", "object %d not in stream %d", num, streamNum).ForObject(num, 0)
	}
	s := l.newScanner(stm.data)
	if err := s.Seek(int64(stm.first + stm.offsets[i])); err != nil {
		return nil, err
	}
	p := newObjectParser(s, l.cfg.Recovery, l.cfg.Limits, recovery.Location{
		ObjectNum: num, Component: fmt.Sprintf("objstm %d", streamNum),
	})
	obj, err := p.parseValue(0)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// decrypt replaces strings and stream payloads of obj with their plaintext.
// Members of object streams are never passed here: the container already
// was decrypted as a whole.
func (l *loader) decrypt(ref raw.ObjectRef, obj raw.Object) (raw.Object, error) {
	if l.sec == nil || !l.sec.IsEncrypted() || ref == l.encryptRef {
		return obj, nil
	}
	if st, ok := obj.(*raw.StreamObj); ok {
		t, _ := st.Dict.Get("Type")
		if n, ok := t.(raw.NameObj); ok && (n.Val == "XRef" || (n.Val == "Metadata" && l.plainMetadata)) {
			return obj, nil
		}
	}
	return l.decryptValue(ref, obj)
}

func (l *loader) decryptValue(ref raw.ObjectRef, obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.StringObj:
		b, err := l.sec.Decrypt(ref.Num, ref.Gen, v.Bytes, security.DataClassString)
		if err != nil {
			return nil, err
		}
		return raw.StringObj{Bytes: b}, nil
	case raw.HexStringObj:
		b, err := l.sec.Decrypt(ref.Num, ref.Gen, v.Bytes, security.DataClassString)
		if err != nil {
			return nil, err
		}
		return raw.HexStringObj{Bytes: b}, nil
	case *raw.ArrayObj:
		for i, it := range v.Items {
			d, err := l.decryptValue(ref, it)
			if err != nil {
				return nil, err
			}
			v.Items[i] = d
		}
		return v, nil
	case *raw.DictObj:
		for _, k := range v.Keys() {
			it, _ := v.Get(k)
			d, err := l.decryptValue(ref, it)
			if err != nil {
				return nil, err
			}
			v.Set(k, d)
		}
		return v, nil
	case *raw.StreamObj:
		if _, err := l.decryptValue(ref, v.Dict); err != nil {
			return nil, err
		}
		b, err := l.sec.Decrypt(ref.Num, ref.Gen, v.Data, security.DataClassStream)
		if err != nil {
			return nil, err
		}
		v.Data = b
		return v, nil
	}
	return obj, nil
}

func intOf(d *raw.DictObj, key string) int {
	if v, ok := d.Get(key); ok {
		if n, ok := v.(raw.NumberObj); ok {
			return int(n.Int())
		}
	}
	return -1
}
