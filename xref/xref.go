// Package xref locates every object of a PDF file across all of its
// revisions.
//
// The resolver starts at the last startxref, walks the /Prev chain through
// classic tables and cross-reference streams, and merges the sections so that
// an object number resolved by a newer revision is never overwritten by an
// older one. When the structure is unusable it rebuilds the table by scanning
// the file for object headers.
package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/observability"
	"github.com/wudi/pdfrev/pdferr"
	"github.com/wudi/pdfrev/recovery"
	"github.com/wudi/pdfrev/scanner"
)

// EntryType distinguishes the three kinds of cross-reference entries.
type EntryType int

const (
	EntryFree EntryType = iota
	EntryInUse
	EntryCompressed
)

func (t EntryType) String() string {
	switch t {
	case EntryFree:
		return "free"
	case EntryInUse:
		return "in-use"
	case EntryCompressed:
		return "compressed"
	}
	return "entry(" + strconv.Itoa(int(t)) + ")"
}

// Entry locates one object number. In-use entries carry a byte offset;
// compressed entries name the object stream and the index inside it; free
// entries carry the next free object number in Offset.
type Entry struct {
	Type      EntryType
	Offset    int64
	Gen       int
	StreamNum int
	Index     int
	// Section is the index into Table.Sections that supplied the entry.
	Section int
}

// SectionKind tells how a section was encoded.
type SectionKind int

const (
	SectionTable SectionKind = iota
	SectionStream
	SectionRepaired
)

func (k SectionKind) String() string {
	switch k {
	case SectionTable:
		return "table"
	case SectionStream:
		return "xref-stream"
	case SectionRepaired:
		return "repaired"
	}
	return "section(" + strconv.Itoa(int(k)) + ")"
}

// Section is one cross-reference section with its trailer.
type Section struct {
	Offset  int64
	Kind    SectionKind
	Trailer *raw.DictObj
	Entries map[int]Entry
	// Prev is the /Prev offset, or -1.
	Prev int64
	// XRefStm is the hybrid-file /XRefStm offset, or -1.
	XRefStm int64
}

// Table is the merged view of every section.
type Table struct {
	entries map[int]Entry
	// Sections are ordered newest first.
	Sections []Section
	// Trailer is the newest trailer dictionary.
	Trailer *raw.DictObj
	// StartXRef is the offset the final startxref points at.
	StartXRef int64
	// Repaired is set when the table was rebuilt by scanning.
	Repaired bool
	// RepairCause is the structural error that triggered the scan.
	RepairCause error
}

// Lookup returns the entry for an in-use or compressed object.
func (t *Table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Type == EntryFree {
		return Entry{}, false
	}
	return e, true
}

// Entry returns the merged entry for objNum including free entries.
func (t *Table) Entry(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	return e, ok
}

// Objects lists the live object numbers in ascending order.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Type != EntryFree && k > 0 {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

// FreeObjects maps each object number whose newest entry is free to the
// generation recorded there.
func (t *Table) FreeObjects() map[int]int {
	out := make(map[int]int)
	for k, e := range t.entries {
		if e.Type == EntryFree && k > 0 {
			out[k] = e.Gen
		}
	}
	return out
}

// MaxObjectNumber is the largest object number mentioned by any entry of any
// section, free entries included, or by the trailer /Size.
func (t *Table) MaxObjectNumber() int {
	max := 0
	for _, s := range t.Sections {
		for n := range s.Entries {
			if n > max {
				max = n
			}
		}
	}
	if size, ok := intEntry(t.Trailer, "Size"); ok && int(size)-1 > max {
		max = int(size) - 1
	}
	return max
}

// Type reports how the newest section was encoded.
func (t *Table) Type() string {
	if len(t.Sections) == 0 {
		return "empty"
	}
	return t.Sections[0].Kind.String()
}

// UsesXRefStreams reports whether the newest section is a stream.
func (t *Table) UsesXRefStreams() bool {
	return len(t.Sections) > 0 && t.Sections[0].Kind == SectionStream
}

// ObjectSource parses objects for the resolver. The parser package provides
// the implementation; the indirection keeps this package free of object
// materialisation.
type ObjectSource interface {
	// ObjectAt parses the indirect object whose header starts at offset.
	ObjectAt(ctx context.Context, offset int64) (raw.ObjectRef, raw.Object, error)
	// DirectAt parses one direct object starting at offset.
	DirectAt(ctx context.Context, offset int64) (raw.Object, error)
	// DecodeStream returns the filter-decoded payload of s.
	DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error)
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Logger       observability.Logger
}

type Resolver struct {
	cfg ResolverConfig
	log observability.Logger
}

func NewResolver(cfg ResolverConfig) *Resolver {
	return &Resolver{cfg: cfg, log: observability.OrNop(cfg.Logger)}
}

// Resolve builds the merged table for data. A structurally broken file is
// repaired by scanning; the error is returned only if that fails too.
func (r *Resolver) Resolve(ctx context.Context, data []byte, src ObjectSource) (*Table, error) {
	t, err := r.walk(ctx, data, src)
	if err == nil {
		return t, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if pdferr.KindOf(err) == pdferr.ErrAllocationLimit {
		return nil, err
	}
	r.log.Warn("xref unusable, scanning for objects", observability.Error("error", err))
	rt, rerr := Repair(ctx, data, src, r.log)
	if rerr != nil {
		return nil, pdferr.New(pdferr.ErrMissingTrailer, "resolve xref", errors.Join(err, rerr))
	}
	rt.RepairCause = err
	return rt, nil
}

func (r *Resolver) walk(ctx context.Context, data []byte, src ObjectSource) (*Table, error) {
	start, err := FindStartXRef(data)
	if err != nil {
		return nil, err
	}
	t := &Table{entries: make(map[int]Entry), StartXRef: start}
	visited := make(map[int64]bool)
	maxDepth := r.cfg.MaxXRefDepth
	if maxDepth <= 0 {
		maxDepth = 1 << 20
	}

	for off := start; off >= 0; {
		if visited[off] {
			r.log.Warn("xref /Prev loop", observability.Int64("offset", off))
			break
		}
		if len(t.Sections) >= maxDepth {
			return nil, pdferr.Newf(pdferr.ErrAllocationLimit, "resolve xref", "more than %d xref sections", maxDepth)
		}
		visited[off] = true
		sec, err := r.readSection(ctx, data, off, src)
		if err != nil {
			if len(t.Sections) == 0 {
				return nil, err
			}
			// An older revision is damaged; newer sections stay authoritative.
			loc := recovery.Location{ByteOffset: off, Component: "xref:prev"}
			if !recovery.Decide(r.cfg.Recovery, ctx, err, loc).Continue() {
				return nil, err
			}
			break
		}
		r.log.Debug("xref section",
			observability.Int64("offset", off),
			observability.String("kind", sec.Kind.String()),
			observability.Int("entries", len(sec.Entries)))
		t.addSection(sec)
		off = sec.Prev
	}
	t.Trailer = t.Sections[0].Trailer
	if _, ok := t.Trailer.Get("Root"); !ok {
		return nil, pdferr.New(pdferr.ErrMissingTrailer, "resolve xref", errors.New("trailer has no /Root"))
	}
	return t, nil
}

// addSection merges sec below every section already added.
func (t *Table) addSection(sec Section) {
	idx := len(t.Sections)
	t.Sections = append(t.Sections, sec)
	for n, e := range sec.Entries {
		if _, seen := t.entries[n]; seen {
			continue
		}
		e.Section = idx
		t.entries[n] = e
	}
}

func (r *Resolver) readSection(ctx context.Context, data []byte, off int64, src ObjectSource) (Section, error) {
	if off < 0 || off >= int64(len(data)) {
		return Section{}, pdferr.Newf(pdferr.ErrMissingTrailer, "read xref", "offset %d out of range", off).AtOffset(off)
	}
	p := skipSpace(data, off)
	if bytes.HasPrefix(data[p:], []byte("xref")) {
		sec, err := readTable(ctx, data, p, src)
		if err != nil {
			return Section{}, err
		}
		sec.Offset = off
		if sec.XRefStm >= 0 {
			hybrid, err := readStream(ctx, sec.XRefStm, src)
			if err != nil {
				loc := recovery.Location{ByteOffset: sec.XRefStm, Component: "xref:xrefstm"}
				if !recovery.Decide(r.cfg.Recovery, ctx, err, loc).Continue() {
					return Section{}, err
				}
			} else {
				// Entries of the hidden stream win over the table's own,
				// except that a free stream entry never hides a table entry.
				for n, e := range hybrid.Entries {
					if _, ok := sec.Entries[n]; ok && e.Type == EntryFree {
						continue
					}
					sec.Entries[n] = e
				}
			}
		}
		return sec, nil
	}
	sec, err := readStream(ctx, off, src)
	if err != nil {
		return Section{}, err
	}
	sec.Offset = off
	return sec, nil
}

// FindStartXRef returns the offset named by the last startxref keyword.
func FindStartXRef(data []byte) (int64, error) {
	i := bytes.LastIndex(data, []byte("startxref"))
	if i < 0 {
		return 0, pdferr.New(pdferr.ErrMissingTrailer, "find startxref", errors.New("startxref not found"))
	}
	p := skipSpace(data, int64(i+len("startxref")))
	q := p
	for q < int64(len(data)) && data[q] >= '0' && data[q] <= '9' {
		q++
	}
	if q == p {
		return 0, pdferr.New(pdferr.ErrMissingTrailer, "find startxref", errors.New("startxref has no offset")).AtOffset(int64(i))
	}
	v, err := strconv.ParseInt(string(data[p:q]), 10, 64)
	if err != nil || v >= int64(len(data)) {
		return 0, pdferr.Newf(pdferr.ErrMissingTrailer, "find startxref", "offset %s out of range", data[p:q]).AtOffset(int64(i))
	}
	return v, nil
}

// readTable parses a classic table beginning at the 'xref' keyword and the
// trailer dictionary that follows it.
func readTable(ctx context.Context, data []byte, off int64, src ObjectSource) (Section, error) {
	sec := Section{Kind: SectionTable, Entries: make(map[int]Entry), Prev: -1, XRefStm: -1}
	p := off + int64(len("xref"))
	fail := func(format string, args ...any) (Section, error) {
		return Section{}, pdferr.Newf(pdferr.ErrMissingTrailer, "read xref table", format, args...).AtOffset(p)
	}
	for {
		p = skipSpace(data, p)
		if p >= int64(len(data)) {
			return fail("unexpected end of xref table")
		}
		if bytes.HasPrefix(data[p:], []byte("trailer")) {
			p += int64(len("trailer"))
			break
		}
		first, next, ok := readUint(data, p)
		if !ok {
			return fail("invalid subsection header")
		}
		count, next, ok := readUint(data, skipInlineSpace(data, next))
		if !ok {
			return fail("invalid subsection count")
		}
		p = next
		for i := int64(0); i < count; i++ {
			p = skipSpace(data, p)
			offset, q, ok := readUint(data, p)
			if !ok {
				return fail("invalid entry %d of subsection %d", i, first)
			}
			gen, q, ok := readUint(data, skipInlineSpace(data, q))
			if !ok {
				return fail("invalid generation in entry %d of subsection %d", i, first)
			}
			q = skipInlineSpace(data, q)
			if q >= int64(len(data)) {
				return fail("truncated entry")
			}
			num := int(first + i)
			switch data[q] {
			case 'n':
				sec.Entries[num] = Entry{Type: EntryInUse, Offset: offset, Gen: int(gen)}
			case 'f':
				sec.Entries[num] = Entry{Type: EntryFree, Offset: offset, Gen: int(gen)}
			default:
				return fail("entry type %q", data[q])
			}
			p = q + 1
		}
	}
	obj, err := src.DirectAt(ctx, p)
	if err != nil {
		return Section{}, pdferr.New(pdferr.ErrMissingTrailer, "read trailer", err).AtOffset(p)
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return fail("trailer is %s, not a dictionary", raw.KindOf(obj))
	}
	sec.Trailer = trailer
	if prev, ok := intEntry(trailer, "Prev"); ok {
		sec.Prev = prev
	}
	if stm, ok := intEntry(trailer, "XRefStm"); ok {
		sec.XRefStm = stm
	}
	return sec, nil
}

func intEntry(d *raw.DictObj, key string) (int64, bool) {
	o, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := o.(raw.NumberObj)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

func skipSpace(data []byte, p int64) int64 {
	for p < int64(len(data)) {
		c := data[p]
		if scanner.IsWhitespace(c) {
			p++
			continue
		}
		if c == '%' {
			for p < int64(len(data)) && data[p] != '\n' && data[p] != '\r' {
				p++
			}
			continue
		}
		break
	}
	return p
}

func skipInlineSpace(data []byte, p int64) int64 {
	for p < int64(len(data)) && (data[p] == ' ' || data[p] == '\t') {
		p++
	}
	return p
}

func readUint(data []byte, p int64) (int64, int64, bool) {
	q := p
	for q < int64(len(data)) && data[q] >= '0' && data[q] <= '9' {
		q++
	}
	if q == p {
		return 0, p, false
	}
	v, err := strconv.ParseInt(string(data[p:q]), 10, 64)
	if err != nil {
		return 0, p, false
	}
	return v, q, true
}

func (e Entry) String() string {
	switch e.Type {
	case EntryCompressed:
		return fmt.Sprintf("compressed in %d[%d]", e.StreamNum, e.Index)
	case EntryFree:
		return fmt.Sprintf("free next=%d gen=%d", e.Offset, e.Gen)
	}
	return fmt.Sprintf("offset %d gen %d", e.Offset, e.Gen)
}
