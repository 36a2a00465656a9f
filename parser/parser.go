// Package parser materialises a PDF file into a store.Context.
//
// DocumentParser resolves the cross-reference chain, checks for encryption
// and then hands every object number to the Context. Objects are parsed by a
// single routine, either all at once (ParseEager) or on first lookup
// (ParseLazy).
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/observability"
	"github.com/wudi/pdfrev/pdferr"
	"github.com/wudi/pdfrev/recovery"
	"github.com/wudi/pdfrev/security"
	"github.com/wudi/pdfrev/store"
	"github.com/wudi/pdfrev/xref"
)

// ParseSpeed selects when objects are parsed.
type ParseSpeed int

const (
	// ParseLazy parses each object on its first lookup.
	ParseLazy ParseSpeed = iota
	// ParseEager parses every object while loading.
	ParseEager
)

func (s ParseSpeed) String() string {
	if s == ParseEager {
		return "eager"
	}
	return "lazy"
}

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	// Recovery decides whether malformed objects abort parsing. Nil is strict.
	Recovery recovery.Strategy
	Limits   security.Limits
	Logger   observability.Logger
	Speed    ParseSpeed

	// Key is the file encryption key for an encrypted document.
	Key []byte
	// Password is accepted only together with Key; deriving a key from a
	// password is left to the caller.
	Password string
	// IgnoreEncryption loads an encrypted document without decrypting it.
	IgnoreEncryption bool
	// PreserveNumbers keeps every object number used by any revision out of
	// reuse. Set for documents opened for incremental update.
	PreserveNumbers bool
}

// Document is the outcome of parsing.
type Document struct {
	Context *store.Context
	// Version is the header version, e.g. "1.7".
	Version string
	Table   *xref.Table
	// Security decrypts loaded objects; nil unless the file is encrypted and
	// a key was supplied.
	Security  security.Handler
	Encrypted bool
	// EncryptRef is the indirect /Encrypt dictionary, if any.
	EncryptRef raw.ObjectRef
}

// DocumentParser builds a Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
	log observability.Logger
}

func NewDocumentParser(cfg Config) *DocumentParser {
	return &DocumentParser{cfg: cfg, log: observability.OrNop(cfg.Logger)}
}

func (p *DocumentParser) Parse(ctx context.Context, data []byte) (*Document, error) {
	l := newLoader(data, p.cfg)
	resolver := xref.NewResolver(xref.ResolverConfig{
		MaxXRefDepth: p.cfg.Limits.MaxXRefDepth,
		Recovery:     p.cfg.Recovery,
		Logger:       p.log,
	})
	table, err := resolver.Resolve(ctx, data, l)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	l.table = table
	if max := p.cfg.Limits.MaxObjectNumber; max > 0 && table.MaxObjectNumber() > max {
		return nil, pdferr.Newf(pdferr.ErrAllocationLimit, "parse", "object number %d exceeds %d", table.MaxObjectNumber(), max)
	}

	doc := &Document{Table: table, Version: detectHeaderVersion(data)}
	if err := p.selectSecurity(ctx, l, doc); err != nil {
		return nil, err
	}

	c := store.New(store.Config{
		MaxObjectNumber: p.cfg.Limits.MaxObjectNumber,
		PreserveNumbers: p.cfg.PreserveNumbers,
		Logger:          p.log,
	})
	structural := structuralObjects(table)
	for num := range structural {
		// Compressed members of earlier revisions still point at these
		// numbers, so they are never handed out again.
		c.ReserveNumbers(num)
	}
	for _, num := range table.Objects() {
		if structural[num] {
			continue
		}
		e, _ := table.Lookup(num)
		gen := e.Gen
		if e.Type == xref.EntryCompressed {
			gen = 0
		}
		c.Declare(raw.ObjectRef{Num: num, Gen: gen})
	}
	for num, gen := range table.FreeObjects() {
		c.DeclareFree(num, gen)
	}
	if p.cfg.PreserveNumbers {
		c.ReserveNumbers(table.MaxObjectNumber())
	}
	c.SetTrailer(carriedTrailer(table.Trailer))
	c.Attach(l)
	c.TakeSnapshot()
	doc.Context = c

	p.log.Debug("document parsed",
		observability.String("version", doc.Version),
		observability.String("xref", table.Type()),
		observability.Int("objects", c.ObjectCount()),
		observability.String("speed", p.cfg.Speed.String()))

	if p.cfg.Speed == ParseEager {
		if err := c.LoadAll(); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// structuralObjects returns the numbers of object-stream containers and
// cross-reference streams. Their content already lives in the table, so
// they are not document objects; the writer produces fresh ones.
func structuralObjects(t *xref.Table) map[int]bool {
	offsets := make(map[int64]bool)
	for _, s := range t.Sections {
		if s.Kind == xref.SectionStream {
			offsets[s.Offset] = true
		}
		if s.XRefStm >= 0 {
			offsets[s.XRefStm] = true
		}
	}
	out := make(map[int]bool)
	for _, num := range t.Objects() {
		e, _ := t.Lookup(num)
		switch e.Type {
		case xref.EntryCompressed:
			out[e.StreamNum] = true
		case xref.EntryInUse:
			if offsets[e.Offset] {
				out[num] = true
			}
		}
	}
	return out
}

// carriedTrailer keeps the trailer entries that survive a save.
func carriedTrailer(t *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	for _, k := range []string{"Root", "Info", "Encrypt", "ID"} {
		if v, ok := t.Get(k); ok {
			out.Set(k, v.Clone())
		}
	}
	return out
}

func (p *DocumentParser) selectSecurity(ctx context.Context, l *loader, doc *Document) error {
	encObj, ok := doc.Table.Trailer.Get("Encrypt")
	if !ok {
		return nil
	}
	doc.Encrypted = true
	var encDict *raw.DictObj
	switch v := encObj.(type) {
	case *raw.DictObj:
		encDict = v
	case raw.RefObj:
		doc.EncryptRef = v.R
		l.encryptRef = v.R
		_, obj, err := l.Load(ctx, v.R.Num)
		if err != nil {
			return pdferr.New(pdferr.ErrEncryptedDocument, "load encryption dictionary", err)
		}
		encDict, _ = obj.(*raw.DictObj)
	}
	if encDict == nil {
		return pdferr.New(pdferr.ErrEncryptedDocument, "parse", errors.New("/Encrypt is not a dictionary"))
	}
	if p.cfg.IgnoreEncryption {
		p.log.Warn("encrypted document loaded without decryption")
		return nil
	}
	if len(p.cfg.Key) == 0 {
		msg := "document is encrypted; supply a key or ignore encryption"
		if p.cfg.Password != "" {
			msg = "document is encrypted; password-based key derivation is not supported, supply the file key"
		}
		return pdferr.New(pdferr.ErrEncryptedDocument, "parse", errors.New(msg))
	}
	h, err := security.NewKeyHandler(encDict, p.cfg.Key)
	if err != nil {
		return pdferr.New(pdferr.ErrEncryptedDocument, "parse", err)
	}
	if b, ok := encDict.Get("EncryptMetadata"); ok {
		if v, ok := b.(raw.BoolObj); ok {
			l.plainMetadata = !v.V
		}
	}
	doc.Security = h
	l.sec = h
	return nil
}

// detectHeaderVersion reads "%PDF-x.y" from the first kilobyte.
func detectHeaderVersion(data []byte) string {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	i := bytes.Index(head, []byte("%PDF-"))
	if i < 0 {
		return ""
	}
	line := string(head[i+5:])
	if j := strings.IndexAny(line, "\r\n \t%"); j >= 0 {
		line = line[:j]
	}
	return line
}

// NewObjectSource returns an object source over data for resolving
// cross-reference sections without building a Document.
func NewObjectSource(data []byte, cfg Config) xref.ObjectSource { return newLoader(data, cfg) }
