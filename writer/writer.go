// Package writer serializes a store.Context to PDF bytes, either as a
// complete file or as an incremental update section appended to an
// existing file.
package writer

import (
	"context"
	"io"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/observability"
	"github.com/wudi/pdfrev/security"
	"github.com/wudi/pdfrev/store"
)

type PDFVersion string

const (
	PDF14 PDFVersion = "1.4"
	PDF15 PDFVersion = "1.5"
	PDF17 PDFVersion = "1.7"
)

// XRefFormat selects how cross-reference data is written.
type XRefFormat int

const (
	// XRefAuto writes a stream when object streams are used, or when the
	// section an update follows was a stream; otherwise a classic table.
	XRefAuto XRefFormat = iota
	XRefTable
	XRefStream
)

// DefaultObjectsPerStream caps the members of one object stream.
const DefaultObjectsPerStream = 50

type Config struct {
	// Version goes into the header of a full rewrite. Object streams
	// require at least 1.5; the version is raised if needed.
	Version PDFVersion
	// ObjectStreams packs non-stream generation-0 objects into
	// /Type /ObjStm streams. Full rewrites only.
	ObjectStreams    bool
	ObjectsPerStream int
	XRef             XRefFormat

	// Security encrypts strings and stream payloads; nil writes plaintext.
	Security security.Handler
	// EncryptRef is the /Encrypt dictionary, which is never encrypted or
	// packed into an object stream.
	EncryptRef raw.ObjectRef
	// PlainMetadata leaves /Type /Metadata streams unencrypted.
	PlainMetadata bool
}

// Base describes the file an incremental section is appended to.
type Base struct {
	// Length is the number of bytes already in the file.
	Length int64
	// StartXRef is the offset of the file's newest cross-reference section.
	StartXRef int64
	// Size is the /Size of the file's newest trailer.
	Size int
	// XRefStream is set when the newest section is an xref stream.
	XRefStream bool
	// EndsWithEOL is set when the file's last byte is CR or LF.
	EndsWithEOL bool
}

// Result describes what a write produced.
type Result struct {
	// StartXRef is the absolute offset of the written xref section.
	StartXRef int64
	// Size is the /Size written to the trailer.
	Size       int
	XRefStream bool
	// Objects counts the indirect objects written, containers included.
	Objects int
	// Bytes is the length of the output.
	Bytes int64
}

type Writer interface {
	// Write emits every live object of c as a complete file.
	Write(ctx context.Context, c *store.Context, out io.Writer, cfg Config) (Result, error)
	// WriteIncremental emits the objects recorded in snap as an update
	// section for base. The output is meant to be appended to base.
	WriteIncremental(ctx context.Context, c *store.Context, snap *store.Snapshot, base Base, out io.Writer, cfg Config) (Result, error)
	SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error)
}

// Interceptor observes each indirect object as it is written.
type Interceptor interface {
	BeforeWrite(ctx context.Context, ref raw.ObjectRef, obj raw.Object) error
	AfterWrite(ctx context.Context, ref raw.ObjectRef, obj raw.Object, bytesWritten int64) error
}

type WriterBuilder struct {
	interceptors []Interceptor
	logger       observability.Logger
}

func (b *WriterBuilder) WithInterceptor(i Interceptor) *WriterBuilder {
	b.interceptors = append(b.interceptors, i)
	return b
}

func (b *WriterBuilder) WithLogger(l observability.Logger) *WriterBuilder {
	b.logger = l
	return b
}

func (b *WriterBuilder) Build() Writer {
	return &impl{interceptors: b.interceptors, log: observability.OrNop(b.logger)}
}

// New returns a Writer without interceptors.
func New() Writer { return (&WriterBuilder{}).Build() }
