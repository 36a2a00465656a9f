package writer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/observability"
	"github.com/wudi/pdfrev/pdferr"
	"github.com/wudi/pdfrev/store"
)

type impl struct {
	interceptors []Interceptor
	log          observability.Logger
}

func (w *impl) SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	if ref.Num <= 0 {
		return nil, pdferr.Newf(pdferr.ErrUsage, "serialize", "invalid object number %d", ref.Num)
	}
	return appendIndirect(nil, ref, obj), nil
}

func appendIndirect(dst []byte, ref raw.ObjectRef, obj raw.Object) []byte {
	dst = strconv.AppendInt(dst, int64(ref.Num), 10)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(ref.Gen), 10)
	dst = append(dst, " obj\n"...)
	if obj == nil {
		obj = raw.Null
	}
	dst = obj.AppendPDF(dst)
	return append(dst, "\nendobj\n"...)
}

// emitter accumulates one output buffer and the xref entries for it.
type emitter struct {
	w       *impl
	cfg     Config
	base    int64
	buf     bytes.Buffer
	entries map[int]xrefEntry
	objects int
}

func newEmitter(w *impl, cfg Config, base int64) *emitter {
	return &emitter{w: w, cfg: cfg, base: base, entries: make(map[int]xrefEntry)}
}

func (e *emitter) offset() int64 { return e.base + int64(e.buf.Len()) }

// object writes one indirect object, encrypting it first if configured.
func (e *emitter) object(ctx context.Context, ref raw.ObjectRef, obj raw.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, ic := range e.w.interceptors {
		if err := ic.BeforeWrite(ctx, ref, obj); err != nil {
			return fmt.Errorf("before write %s: %w", ref, err)
		}
	}
	out, err := encryptObject(obj, ref, e.cfg)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", ref, err)
	}
	start := e.offset()
	e.entries[ref.Num] = xrefEntry{typ: 1, f2: start, f3: ref.Gen}
	e.buf.Write(appendIndirect(nil, ref, out))
	e.objects++
	n := e.offset() - start
	for _, ic := range e.w.interceptors {
		if err := ic.AfterWrite(ctx, ref, obj, n); err != nil {
			return fmt.Errorf("after write %s: %w", ref, err)
		}
	}
	return nil
}

// finish writes the cross-reference section and trailer. xrefNum is the
// object number of the xref stream, or 0 for a classic table.
func (e *emitter) finish(ctx context.Context, trailer *raw.DictObj, xrefNum int, isolateFree bool) (int64, error) {
	start := e.offset()
	if xrefNum > 0 {
		e.entries[xrefNum] = xrefEntry{typ: 1, f2: start}
		stm, err := xrefStream(e.entries, trailer)
		if err != nil {
			return 0, err
		}
		e.buf.Write(appendIndirect(nil, raw.ObjectRef{Num: xrefNum}, stm))
		e.objects++
	} else {
		writeXRefTable(&e.buf, e.entries, isolateFree)
		e.buf.WriteString("trailer\n")
		e.buf.Write(trailer.AppendPDF(nil))
		e.buf.WriteString("\n")
	}
	fmt.Fprintf(&e.buf, "startxref\n%d\n%%%%EOF\n", start)
	return start, nil
}

func (e *emitter) flush(out io.Writer) (int64, error) {
	n, err := out.Write(e.buf.Bytes())
	return int64(n), err
}

// Write emits a complete file for c. Live objects are written in ascending
// number order; object-stream containers and the xref stream follow them.
func (w *impl) Write(ctx context.Context, c *store.Context, out io.Writer, cfg Config) (Result, error) {
	cfg = withDefaults(cfg)
	root, ok := c.Root()
	if !ok {
		return Result{}, pdferr.New(pdferr.ErrMissingTrailer, "write", fmt.Errorf("no /Root in trailer"))
	}
	if has, _ := c.LookupRef(root); has == nil {
		return Result{}, pdferr.Newf(pdferr.ErrMissingTrailer, "write", "/Root %s is not a live object", root)
	}

	refs := c.Refs()
	objs := make(map[int]raw.Object, len(refs))
	for _, ref := range refs {
		o, err := c.LookupRef(ref)
		if err != nil {
			return Result{}, fmt.Errorf("load %s: %w", ref, err)
		}
		if o == nil {
			o = raw.Null
		}
		objs[ref.Num] = o
	}

	useStreams := cfg.XRef == XRefStream || (cfg.XRef == XRefAuto && cfg.ObjectStreams)
	version := cfg.Version
	if (useStreams || cfg.ObjectStreams) && version < PDF15 {
		version = PDF15
	}

	e := newEmitter(w, cfg, 0)
	writeHeader(&e.buf, version)

	var packs []*objStmPack
	packed := make(map[int]bool)
	if cfg.ObjectStreams {
		packs = planObjectStreams(refs, objs, cfg)
		for _, p := range packs {
			for _, m := range p.members {
				packed[m.Num] = true
			}
		}
	}
	for _, ref := range refs {
		if packed[ref.Num] {
			continue
		}
		if err := e.object(ctx, ref, objs[ref.Num]); err != nil {
			return Result{}, err
		}
	}

	next := c.LargestObjectNumber() + 1
	for _, p := range packs {
		ref := raw.ObjectRef{Num: next}
		next++
		stm, err := p.build(objs)
		if err != nil {
			return Result{}, fmt.Errorf("build object stream %s: %w", ref, err)
		}
		if err := e.object(ctx, ref, stm); err != nil {
			return Result{}, err
		}
		for i, m := range p.members {
			e.entries[m.Num] = xrefEntry{typ: 2, f2: int64(ref.Num), f3: i}
		}
	}

	xrefNum := 0
	if useStreams {
		xrefNum = next
		next++
	}
	size := next
	addFreeEntries(e.entries, c, size)

	ids := fileID(c.Trailer(), e.buf.Bytes())
	trailer := buildTrailer(c.Trailer(), size, -1, ids)
	start, err := e.finish(ctx, trailer, xrefNum, false)
	if err != nil {
		return Result{}, err
	}
	n, err := e.flush(out)
	if err != nil {
		return Result{}, err
	}
	w.log.Debug("full rewrite",
		observability.Int("objects", e.objects),
		observability.Int("object_streams", len(packs)),
		observability.String("xref", xrefKind(useStreams)),
		observability.Int64("bytes", n))
	return Result{StartXRef: start, Size: size, XRefStream: useStreams, Objects: e.objects, Bytes: n}, nil
}

// WriteIncremental emits the update section for snap. Saved objects are
// written with their current reference; deleted ones become free entries
// whose generation is one above the deleted reference.
func (w *impl) WriteIncremental(ctx context.Context, c *store.Context, snap *store.Snapshot, base Base, out io.Writer, cfg Config) (Result, error) {
	cfg = withDefaults(cfg)
	if snap == nil {
		return Result{}, pdferr.New(pdferr.ErrUsage, "write incremental", fmt.Errorf("no snapshot"))
	}
	if base.StartXRef < 0 {
		return Result{}, pdferr.New(pdferr.ErrUsage, "write incremental", fmt.Errorf("base has no cross-reference section"))
	}
	useStream := cfg.XRef == XRefStream || (cfg.XRef == XRefAuto && base.XRefStream)

	e := newEmitter(w, cfg, base.Length)
	if !base.EndsWithEOL {
		e.buf.WriteByte('\n')
	}
	for _, num := range snap.SavedNumbers() {
		ref, ok := c.RefFor(num)
		if !ok {
			continue
		}
		o, err := c.LookupRef(ref)
		if err != nil {
			return Result{}, fmt.Errorf("load %s: %w", ref, err)
		}
		if err := e.object(ctx, ref, o); err != nil {
			return Result{}, err
		}
	}
	deleted := snap.DeletedRefs()
	linkFreeList(e.entries, deleted)

	size := base.Size
	if n := c.LargestObjectNumber() + 1; n > size {
		size = n
	}
	for _, r := range deleted {
		if r.Num+1 > size {
			size = r.Num + 1
		}
	}
	xrefNum := 0
	if useStream {
		xrefNum = size
		size++
	}
	trailer := buildTrailer(c.Trailer(), size, base.StartXRef, fileID(c.Trailer(), nil))
	start, err := e.finish(ctx, trailer, xrefNum, true)
	if err != nil {
		return Result{}, err
	}
	n, err := e.flush(out)
	if err != nil {
		return Result{}, err
	}
	w.log.Debug("incremental update",
		observability.Int("objects", e.objects),
		observability.Int("deleted", len(deleted)),
		observability.String("xref", xrefKind(useStream)),
		observability.Int64("prev", base.StartXRef),
		observability.Int64("bytes", n))
	return Result{StartXRef: start, Size: size, XRefStream: useStream, Objects: e.objects, Bytes: n}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Version == "" {
		cfg.Version = PDF17
	}
	if cfg.ObjectsPerStream <= 0 {
		cfg.ObjectsPerStream = DefaultObjectsPerStream
	}
	return cfg
}

func xrefKind(stream bool) string {
	if stream {
		return "stream"
	}
	return "table"
}
