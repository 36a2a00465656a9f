// Package filters decodes and encodes stream payloads.
package filters

import (
	"bytes"
	"compress/zlib"
	"context"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/pdferr"
	"golang.org/x/image/ccitt"
	"golang.org/x/image/tiff/lzw"
)

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params *raw.DictObj) ([]byte, error)
}

type Pipeline struct {
	decoders []Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	return &Pipeline{decoders: decoders, limits: limits}
}

// NewDefaultPipeline knows every filter this package implements.
func NewDefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(),
		NewLZWDecoder(),
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewRunLengthDecoder(),
		NewCCITTFaxDecoder(),
	}, limits)
}

type Limits struct {
	MaxDecompressedSize int64
}

// abbreviations used in inline images
var shortNames = map[string]string{
	"Fl":  "FlateDecode",
	"LZW": "LZWDecode",
	"A85": "ASCII85Decode",
	"AHx": "ASCIIHexDecode",
	"RL":  "RunLengthDecode",
	"CCF": "CCITTFaxDecode",
}

func (p *Pipeline) findDecoder(name string) Decoder {
	if full, ok := shortNames[name]; ok {
		name = full
	}
	for _, d := range p.decoders {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Supports reports whether every filter in names can be decoded.
func (p *Pipeline) Supports(names []string) bool {
	for _, n := range names {
		if p.findDecoder(n) == nil {
			return false
		}
	}
	return true
}

func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []*raw.DictObj) ([]byte, error) {
	data := input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dec := p.findDecoder(name)
		if dec == nil {
			return nil, errors.New("unknown filter: " + name)
		}
		var param *raw.DictObj
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(withLimit(ctx, p.limits.MaxDecompressedSize), data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, pdferr.Newf(pdferr.ErrAllocationLimit, "decode", "%s output exceeds %d bytes", name, p.limits.MaxDecompressedSize)
		}
		data = out
	}
	return data, nil
}

type limitKey struct{}

func withLimit(ctx context.Context, max int64) context.Context {
	if max <= 0 {
		return ctx
	}
	return context.WithValue(ctx, limitKey{}, max)
}

// readAll drains r, stopping one byte past the decompression cap carried in
// ctx so oversize output is detected without buffering all of it.
func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	max, _ := ctx.Value(limitKey{}).(int64)
	if max > 0 {
		r = io.LimitReader(r, max+1)
	}
	out, err := io.ReadAll(r)
	if max > 0 && int64(len(out)) > max {
		return nil, pdferr.Newf(pdferr.ErrAllocationLimit, "decode", "output exceeds %d bytes", max)
	}
	return out, err
}

type flateDecoder struct{}

func (flateDecoder) Name() string { return "FlateDecode" }
func NewFlateDecoder() Decoder    { return flateDecoder{} }

func (flateDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := readAll(ctx, r)
	if err != nil {
		// Truncated streams are common; keep what inflated cleanly.
		if errors.Is(err, io.ErrUnexpectedEOF) && len(out) > 0 {
			return applyPredictor(out, params)
		}
		return nil, err
	}
	return applyPredictor(out, params)
}

type lzwDecoder struct{}

func (lzwDecoder) Name() string { return "LZWDecode" }
func NewLZWDecoder() Decoder    { return lzwDecoder{} }

func (lzwDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	if intParam(params, "EarlyChange", 1) == 0 {
		return nil, errors.New("LZWDecode with EarlyChange 0 is not supported")
	}
	r := lzw.NewReader(bytes.NewReader(in), lzw.MSB, 8)
	defer r.Close()
	out, err := readAll(ctx, r)
	if err != nil {
		return nil, err
	}
	return applyPredictor(out, params)
}

type ascii85Decoder struct{}

func (ascii85Decoder) Name() string { return "ASCII85Decode" }
func (ascii85Decoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	trimmed = bytes.TrimPrefix(trimmed, []byte("<~"))
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, len(trimmed)*4+4)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}
func NewASCII85Decoder() Decoder { return ascii85Decoder{} }

type asciiHexDecoder struct{}

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }
func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	digits := make([]byte, 0, len(in))
	for _, c := range in {
		if c == '>' {
			break
		}
		switch c {
		case 0, '\t', '\n', '\f', '\r', ' ':
			continue
		}
		digits = append(digits, c)
	}
	// if odd length, pad with 0 per spec
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	result := make([]byte, hex.DecodedLen(len(digits)))
	n, err := hex.Decode(result, digits)
	if err != nil {
		return nil, err
	}
	return result[:n], nil
}
func NewASCIIHexDecoder() Decoder { return asciiHexDecoder{} }

type runLengthDecoder struct{}

func (runLengthDecoder) Name() string { return "RunLengthDecode" }
func NewRunLengthDecoder() Decoder    { return runLengthDecoder{} }

func (runLengthDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	max, _ := ctx.Value(limitKey{}).(int64)
	var out []byte
	for i := 0; i < len(in); {
		n := int(in[i])
		i++
		switch {
		case n == 128:
			return out, nil
		case n < 128:
			end := i + n + 1
			if end > len(in) {
				end = len(in)
			}
			out = append(out, in[i:end]...)
			i = end
		default:
			if i >= len(in) {
				return out, nil
			}
			out = append(out, bytes.Repeat(in[i:i+1], 257-n)...)
			i++
		}
		if max > 0 && int64(len(out)) > max {
			return nil, pdferr.Newf(pdferr.ErrAllocationLimit, "decode", "output exceeds %d bytes", max)
		}
	}
	return out, nil
}

type ccittFaxDecoder struct{}

func (ccittFaxDecoder) Name() string { return "CCITTFaxDecode" }
func NewCCITTFaxDecoder() Decoder    { return ccittFaxDecoder{} }

func (ccittFaxDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	columns := intParam(params, "Columns", 1728)
	rows := intParam(params, "Rows", 0)
	sf := ccitt.Group3
	if intParam(params, "K", 0) < 0 {
		sf = ccitt.Group4
	}
	if rows == 0 {
		rows = ccitt.AutoDetectHeight
	}
	opts := &ccitt.Options{Invert: boolParam(params, "BlackIs1", false)}
	r := ccitt.NewReader(bytes.NewReader(in), ccitt.MSB, sf, columns, rows, opts)
	return readAll(ctx, r)
}
