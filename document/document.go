// Package document is the handle callers load, edit and save PDFs through.
//
// A Document owns one store.Context. Loading runs the parser, saving runs
// the writer; with LoadOptions.ForIncrementalUpdate every Commit appends one
// update section to the bytes produced so far and never rewrites them.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/observability"
	"github.com/wudi/pdfrev/optimize"
	"github.com/wudi/pdfrev/parser"
	"github.com/wudi/pdfrev/pdferr"
	"github.com/wudi/pdfrev/recovery"
	"github.com/wudi/pdfrev/resources"
	"github.com/wudi/pdfrev/security"
	"github.com/wudi/pdfrev/store"
	"github.com/wudi/pdfrev/writer"
)

type LoadOptions struct {
	// ForIncrementalUpdate keeps the loaded bytes so Save and Commit can
	// append to them, and stops object numbers of any revision from being
	// reused.
	ForIncrementalUpdate bool
	// Strict fails on the first malformed object. Otherwise malformed
	// objects load as raw.InvalidObj and are reported by Diagnostics.
	Strict bool

	Password         string
	Key              []byte
	IgnoreEncryption bool

	Speed parser.ParseSpeed
	// Limits defaults to security.DefaultLimits().
	Limits security.Limits

	Logger observability.Logger
	Tracer observability.Tracer
}

type SaveOptions struct {
	// Rewrite forces a full rewrite of a document loaded for incremental
	// update.
	Rewrite bool
	// NoObjectStreams writes a full rewrite with a classic table and no
	// object streams.
	NoObjectStreams bool
	// XRef overrides the cross-reference format. For updates the default
	// follows the section being appended to.
	XRef writer.XRefFormat
	// Deduplicate merges identical objects before a full rewrite. It is
	// ignored for incremental output, as are the two passes below.
	Deduplicate bool
	// CleanUnused deletes objects the trailer cannot reach.
	CleanUnused bool
	// CompressStreams Flate-encodes unfiltered streams where that is smaller.
	CompressStreams bool
}

func (o SaveOptions) optimizer(log observability.Logger) *optimize.Optimizer {
	if !o.Deduplicate && !o.CleanUnused && !o.CompressStreams {
		return nil
	}
	return optimize.New(optimize.Config{
		CombineIdenticalIndirectObjects: o.Deduplicate,
		CleanUnusedObjects:              o.CleanUnused,
		CompressStreams:                 o.CompressStreams,
		Logger:                          log,
	})
}

type Document struct {
	ctx     *store.Context
	version writer.PDFVersion

	incremental bool
	// buf holds the bytes the next update is appended to: the loaded file
	// followed by every commit.
	buf  []byte
	base writer.Base

	sec           security.Handler
	encryptRef    raw.ObjectRef
	plainMetadata bool

	embeds  *resources.Registry
	lenient *recovery.LenientStrategy
	w       writer.Writer
	log     observability.Logger
	tracer  observability.Tracer
}

// Load parses data. The slice is kept, not copied, when the document is
// loaded for incremental update and must not be modified afterwards.
func Load(ctx context.Context, data []byte, opts LoadOptions) (*Document, error) {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	ctx, span := tracer.StartSpan(ctx, "pdf.load")
	defer span.Finish()
	span.SetTag("bytes", len(data))
	span.SetTag("incremental", opts.ForIncrementalUpdate)

	log := observability.OrNop(opts.Logger)
	limits := opts.Limits
	if limits == (security.Limits{}) {
		limits = security.DefaultLimits()
	}
	var strategy recovery.Strategy = recovery.NewStrictStrategy()
	var lenient *recovery.LenientStrategy
	if !opts.Strict {
		lenient = recovery.NewLenientStrategy()
		lenient.Logger = log
		strategy = lenient
	}

	p := parser.NewDocumentParser(parser.Config{
		Recovery:         strategy,
		Limits:           limits,
		Logger:           log,
		Speed:            opts.Speed,
		Key:              opts.Key,
		Password:         opts.Password,
		IgnoreEncryption: opts.IgnoreEncryption,
		PreserveNumbers:  opts.ForIncrementalUpdate,
	})
	pd, err := p.Parse(ctx, data)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("load: %w", err)
	}

	d := &Document{
		ctx:         pd.Context,
		version:     writer.PDFVersion(pd.Version),
		incremental: opts.ForIncrementalUpdate,
		buf:         data,
		base:        baseOf(data, pd),
		sec:         pd.Security,
		encryptRef:  pd.EncryptRef,
		lenient:     lenient,
		log:         log,
		tracer:      tracer,
	}
	if d.version == "" {
		d.version = writer.PDF17
	}
	if pd.Security != nil {
		d.plainMetadata = !encryptsMetadata(pd.Context, pd.Table.Trailer)
	}
	d.init()
	log.Info("document loaded",
		observability.String("version", string(d.version)),
		observability.String("xref", pd.Table.Type()),
		observability.Int("objects", d.ctx.ObjectCount()))
	return d, nil
}

// Create returns an empty document with a catalog and an empty page tree.
func Create() *Document {
	c := store.New(store.Config{MaxObjectNumber: security.DefaultLimits().MaxObjectNumber})
	pages := raw.Dict()
	pages.Set("Type", raw.NameLiteral("Pages"))
	pages.Set("Kids", raw.NewArray())
	pages.Set("Count", raw.NumberInt(0))
	cat := raw.Dict()
	cat.Set("Type", raw.NameLiteral("Catalog"))
	cat.Set("Pages", raw.RefObj{R: c.MustRegister(pages)})
	c.SetRoot(c.MustRegister(cat))
	d := &Document{
		ctx:     c,
		version: writer.PDF17,
		base:    writer.Base{StartXRef: -1},
		log:     observability.NopLogger{},
		tracer:  observability.NopTracer(),
	}
	d.init()
	return d
}

func (d *Document) init() {
	d.embeds = resources.NewRegistry(d.ctx)
	d.w = (&writer.WriterBuilder{}).WithLogger(d.log).Build()
}

// Context exposes the object store for register, assign, lookup and delete.
func (d *Document) Context() *store.Context { return d.ctx }

func (d *Document) Version() writer.PDFVersion { return d.version }

// ObjectCount returns the number of live object numbers.
func (d *Document) ObjectCount() int { return d.ctx.ObjectCount() }

// Incremental reports whether the document was loaded for incremental
// update.
func (d *Document) Incremental() bool { return d.incremental }

// Diagnostics returns what tolerant loading skipped over, in input order.
func (d *Document) Diagnostics() []recovery.Diagnostic {
	if d.lenient == nil {
		return nil
	}
	return append([]recovery.Diagnostic(nil), d.lenient.Diagnostics...)
}

// TakeSnapshot starts a new change set; see store.Context.TakeSnapshot.
func (d *Document) TakeSnapshot() *store.Snapshot { return d.ctx.TakeSnapshot() }

// Embed registers the object build returns under key unless an earlier call,
// in this or an earlier commit, already did.
func (d *Document) Embed(key string, build func() (raw.Object, error)) (raw.ObjectRef, error) {
	ref, _, err := d.embeds.Embed(key, build)
	return ref, err
}

// Resource finds name in the category of page's resources, inheriting from
// ancestor page-tree nodes.
func (d *Document) Resource(page raw.ObjectRef, category resources.ResourceCategory, name string) (raw.Object, error) {
	return resources.ResolveWithInheritance(d.ctx, category, name, page)
}

// Save returns a complete file. A document loaded for incremental update
// yields its current bytes plus one update for the active snapshot, unless
// opts.Rewrite is set. Save leaves the snapshot untouched.
func (d *Document) Save(ctx context.Context, opts SaveOptions) ([]byte, error) {
	ctx, span := d.tracer.StartSpan(ctx, "pdf.save")
	defer span.Finish()

	if d.incremental && !opts.Rewrite {
		span.SetTag("mode", "incremental")
		delta, _, err := d.update(ctx, d.ctx.ActiveSnapshot(), opts)
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		return concat(d.buf, delta), nil
	}

	span.SetTag("mode", "rewrite")
	if opt := opts.optimizer(d.log); opt != nil {
		rep, err := opt.Optimize(ctx, d.ctx)
		if err != nil {
			span.SetError(err)
			return nil, fmt.Errorf("optimize: %w", err)
		}
		span.SetTag("merged", rep.Merged)
		span.SetTag("removed", rep.Removed)
		span.SetTag("compressed", rep.Compressed)
	}
	var out bytes.Buffer
	_, err := d.w.Write(ctx, d.ctx, &out, writer.Config{
		Version:       d.version,
		ObjectStreams: !opts.NoObjectStreams,
		XRef:          opts.XRef,
		Security:      d.sec,
		EncryptRef:    d.encryptRef,
		PlainMetadata: d.plainMetadata,
	})
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("save: %w", err)
	}
	return out.Bytes(), nil
}

// SaveIncremental returns only the update section for snap, to be appended
// to the document's current bytes. It needs a document loaded from bytes
// but not necessarily for incremental update.
func (d *Document) SaveIncremental(ctx context.Context, snap *store.Snapshot, opts SaveOptions) ([]byte, error) {
	ctx, span := d.tracer.StartSpan(ctx, "pdf.save_incremental")
	defer span.Finish()
	delta, _, err := d.update(ctx, snap, opts)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return delta, nil
}

// Commit appends an update for every change since the previous commit (or
// load) and returns all bytes produced so far. Earlier output is an exact
// prefix of the result. The next commit starts from an empty change set.
// The returned slice is the caller's; the document keeps its own copy.
func (d *Document) Commit(ctx context.Context) ([]byte, error) {
	ctx, span := d.tracer.StartSpan(ctx, "pdf.commit")
	defer span.Finish()
	if !d.incremental {
		err := pdferr.New(pdferr.ErrUsage, "commit", errors.New("commit requires a document loaded with ForIncrementalUpdate"))
		span.SetError(err)
		return nil, err
	}
	delta, res, err := d.update(ctx, d.ctx.ActiveSnapshot(), SaveOptions{})
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	d.buf = concat(d.buf, delta)
	d.base = writer.Base{
		Length:      int64(len(d.buf)),
		StartXRef:   res.StartXRef,
		Size:        res.Size,
		XRefStream:  res.XRefStream,
		EndsWithEOL: true,
	}
	// The xref stream number, if any, now belongs to a revision.
	d.ctx.ReserveNumbers(res.Size - 1)
	d.ctx.TakeSnapshot()
	span.SetTag("objects", res.Objects)
	span.SetTag("bytes", len(d.buf))
	d.log.Debug("committed",
		observability.Int("objects", res.Objects),
		observability.Int64("startxref", res.StartXRef),
		observability.Int("length", len(d.buf)))
	return bytes.Clone(d.buf), nil
}

func (d *Document) update(ctx context.Context, snap *store.Snapshot, opts SaveOptions) ([]byte, writer.Result, error) {
	if d.buf == nil {
		return nil, writer.Result{}, pdferr.New(pdferr.ErrUsage, "save incremental", errors.New("document was not loaded from bytes"))
	}
	if d.base.StartXRef < 0 {
		return nil, writer.Result{}, pdferr.New(pdferr.ErrUsage, "save incremental",
			errors.New("cross-reference data was rebuilt by the repair scan; save with Rewrite"))
	}
	var out bytes.Buffer
	res, err := d.w.WriteIncremental(ctx, d.ctx, snap, d.base, &out, writer.Config{
		XRef:          opts.XRef,
		Security:      d.sec,
		EncryptRef:    d.encryptRef,
		PlainMetadata: d.plainMetadata,
	})
	if err != nil {
		return nil, res, fmt.Errorf("save incremental: %w", err)
	}
	return out.Bytes(), res, nil
}

// Copy returns an independent document holding a renumbered deep copy of
// every live object. The copy is not loaded from bytes, so only full
// rewrites apply to it.
func (d *Document) Copy() (*Document, error) {
	c, table, err := d.ctx.Copy()
	if err != nil {
		return nil, fmt.Errorf("copy: %w", err)
	}
	cp := &Document{
		ctx:           c,
		version:       d.version,
		base:          writer.Base{StartXRef: -1},
		sec:           d.sec,
		encryptRef:    table[d.encryptRef],
		plainMetadata: d.plainMetadata,
		log:           d.log,
		tracer:        d.tracer,
	}
	cp.init()
	return cp, nil
}

func baseOf(data []byte, pd *parser.Document) writer.Base {
	size := pd.Table.MaxObjectNumber() + 1
	if v, ok := pd.Table.Trailer.Get("Size"); ok {
		if n, ok := v.(raw.NumberObj); ok && int(n.Int()) > size {
			size = int(n.Int())
		}
	}
	start := pd.Table.StartXRef
	if pd.Table.Repaired {
		start = -1
	}
	return writer.Base{
		Length:      int64(len(data)),
		StartXRef:   start,
		Size:        size,
		XRefStream:  pd.Table.UsesXRefStreams(),
		EndsWithEOL: len(data) > 0 && (data[len(data)-1] == '\n' || data[len(data)-1] == '\r'),
	}
}

// encryptsMetadata reads /EncryptMetadata, which defaults to true.
func encryptsMetadata(c *store.Context, trailer *raw.DictObj) bool {
	v, ok := trailer.Get("Encrypt")
	if !ok {
		return true
	}
	enc, err := c.LookupDict(v)
	if enc == nil || err != nil {
		return true
	}
	if b, ok := enc.Get("EncryptMetadata"); ok {
		if bv, ok := b.(raw.BoolObj); ok {
			return bv.V
		}
	}
	return true
}

func concat(a, b []byte) []byte {
	out := make([]byte, len(a)+len(b))
	copy(out, a)
	copy(out[len(a):], b)
	return out
}
