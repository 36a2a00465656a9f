package parser

import (
	"bytes"
	"errors"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/pdferr"
	"github.com/wudi/pdfrev/recovery"
	"github.com/wudi/pdfrev/scanner"
	"github.com/wudi/pdfrev/security"
)

// tokenReader adds pushback to a scanner.
type tokenReader struct {
	s   scanner.Scanner
	buf []scanner.Token
}

func newTokenReader(s scanner.Scanner) *tokenReader { return &tokenReader{s: s} }

func (r *tokenReader) next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *tokenReader) unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

// position is the offset of the next unread token.
func (r *tokenReader) position() int64 {
	if l := len(r.buf); l > 0 {
		return r.buf[l-1].Pos
	}
	return r.s.Position()
}

// objectParser turns tokens into objects. Syntax problems inside a value are
// handed to the recovery strategy; a strategy that continues gets a repaired
// value (garbage skipped, open containers closed).
type objectParser struct {
	tr     *tokenReader
	rec    recovery.Strategy
	limits security.Limits
	loc    recovery.Location
}

func newObjectParser(s scanner.Scanner, rec recovery.Strategy, limits security.Limits, loc recovery.Location) *objectParser {
	s.SetRecoveryLocation(loc)
	return &objectParser{tr: newTokenReader(s), rec: rec, limits: limits, loc: loc}
}

func (p *objectParser) syntaxError(offset int64, format string, args ...any) *pdferr.Error {
	e := pdferr.Newf(pdferr.ErrMalformedSyntax, "parse object", format, args...).AtOffset(offset)
	if p.loc.ObjectNum > 0 {
		e = e.ForObject(p.loc.ObjectNum, p.loc.ObjectGen)
	}
	return e
}

// tolerate reports whether parsing may continue past err.
func (p *objectParser) tolerate(err *pdferr.Error, component string) bool {
	loc := p.loc
	loc.ByteOffset = err.Offset
	loc.Component = "parser:" + component
	return recovery.Decide(p.rec, nil, err, loc).Continue()
}

// parseValue reads one complete direct object.
func (p *objectParser) parseValue(depth int) (raw.Object, error) {
	tok, err := p.tr.next()
	if err != nil {
		return nil, err
	}
	return p.valueFrom(tok, depth)
}

func (p *objectParser) valueFrom(tok scanner.Token, depth int) (raw.Object, error) {
	switch tok.Type {
	case scanner.TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return raw.NumberObj{I: tok.Int, IsInt: true}, nil
		}
		return raw.NumberObj{F: tok.Float, Lit: tok.Lit}, nil
	case scanner.TokenBoolean:
		return raw.BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return raw.Null, nil
	case scanner.TokenString:
		if tok.Hex {
			return raw.HexStringObj{Bytes: tok.Bytes}, nil
		}
		return raw.StringObj{Bytes: tok.Bytes}, nil
	case scanner.TokenRef:
		return raw.RefObj{R: raw.ObjectRef{Num: int(tok.Int), Gen: tok.Gen}}, nil
	case scanner.TokenArray:
		if err := p.checkDepth(depth, tok.Pos); err != nil {
			return nil, err
		}
		return p.parseArray(depth + 1)
	case scanner.TokenDict:
		if err := p.checkDepth(depth, tok.Pos); err != nil {
			return nil, err
		}
		return p.parseDict(depth + 1)
	case scanner.TokenEOF:
		return nil, p.syntaxError(tok.Pos, "unexpected end of data")
	}
	return nil, p.syntaxError(tok.Pos, "unexpected %s %q", tok.Type, tok.String())
}

func (p *objectParser) checkDepth(depth int, offset int64) error {
	if max := p.limits.MaxNestingDepth; max > 0 && depth >= max {
		return pdferr.Newf(pdferr.ErrAllocationLimit, "parse object", "nesting deeper than %d", max).AtOffset(offset)
	}
	return nil
}

func (p *objectParser) parseArray(depth int) (raw.Object, error) {
	arr := &raw.ArrayObj{}
	for {
		tok, err := p.tr.next()
		if err != nil {
			return nil, err
		}
		switch {
		case tok.IsKeyword("]"):
			return arr, nil
		case tok.Type == scanner.TokenEOF, tok.IsKeyword("endobj"), tok.Type == scanner.TokenStream:
			if !p.tolerate(p.syntaxError(tok.Pos, "unterminated array"), "array") {
				return nil, p.syntaxError(tok.Pos, "unterminated array")
			}
			p.tr.unread(tok)
			return arr, nil
		case tok.Type == scanner.TokenKeyword:
			e := p.syntaxError(tok.Pos, "unexpected %q in array", tok.Str)
			if !p.tolerate(e, "array") {
				return nil, e
			}
			continue
		}
		item, err := p.valueFrom(tok, depth)
		if err != nil {
			return nil, err
		}
		if max := p.limits.MaxArraySize; max > 0 && arr.Len() >= max {
			return nil, pdferr.Newf(pdferr.ErrAllocationLimit, "parse array", "more than %d elements", max).AtOffset(tok.Pos)
		}
		arr.Append(item)
	}
}

func (p *objectParser) parseDict(depth int) (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := p.tr.next()
		if err != nil {
			return nil, err
		}
		switch {
		case tok.IsKeyword(">>"):
			return d, nil
		case tok.Type == scanner.TokenEOF, tok.IsKeyword("endobj"), tok.Type == scanner.TokenStream:
			e := p.syntaxError(tok.Pos, "unterminated dictionary")
			if !p.tolerate(e, "dict") {
				return nil, e
			}
			p.tr.unread(tok)
			return d, nil
		case tok.Type != scanner.TokenName:
			e := p.syntaxError(tok.Pos, "dictionary key is %s, not a name", tok.Type)
			if !p.tolerate(e, "dict") {
				return nil, e
			}
			continue
		}
		key := tok.Str
		vt, err := p.tr.next()
		if err != nil {
			return nil, err
		}
		if vt.IsKeyword(">>") {
			// "/Key >>" : a key without a value is dropped.
			e := p.syntaxError(vt.Pos, "dictionary key /%s has no value", key)
			if !p.tolerate(e, "dict") {
				return nil, e
			}
			return d, nil
		}
		val, err := p.valueFrom(vt, depth)
		if err != nil {
			var pe *pdferr.Error
			if !errors.As(err, &pe) || pdferr.KindOf(err) != pdferr.ErrMalformedSyntax || !p.tolerate(pe, "dict") {
				return nil, err
			}
			continue
		}
		if max := p.limits.MaxDictSize; max > 0 && d.Len() >= max {
			return nil, pdferr.Newf(pdferr.ErrAllocationLimit, "parse dict", "more than %d entries", max).AtOffset(tok.Pos)
		}
		d.Set(key, val)
	}
}

// lengthResolver returns the value of an indirect /Length, or -1 when it is
// unknown.
type lengthResolver func(ref raw.ObjectRef) int64

// parseIndirect reads "N G obj value [stream] endobj" at the scanner's
// current position.
func (p *objectParser) parseIndirect(resolve lengthResolver) (raw.ObjectRef, raw.Object, error) {
	start := p.tr.position()
	num, err := p.tr.next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	gen, err := p.tr.next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	kw, err := p.tr.next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	if num.Type != scanner.TokenNumber || !num.IsInt || gen.Type != scanner.TokenNumber || !gen.IsInt || !kw.IsKeyword("obj") {
		return raw.ObjectRef{}, nil, p.syntaxError(start, "no object header (found %q %q %q)", num.String(), gen.String(), kw.String())
	}
	ref := raw.ObjectRef{Num: int(num.Int), Gen: int(gen.Int)}
	p.loc.ObjectNum, p.loc.ObjectGen = ref.Num, ref.Gen
	p.tr.s.SetRecoveryLocation(p.loc)

	tok, err := p.tr.next()
	if err != nil {
		return ref, nil, err
	}
	if tok.IsKeyword("endobj") {
		// "N G obj endobj" defines the null object.
		return ref, raw.Null, nil
	}
	val, err := p.valueFrom(tok, 0)
	if err != nil {
		return ref, nil, err
	}

	if dict, ok := val.(*raw.DictObj); ok && len(p.tr.buf) == 0 {
		p.tr.s.SetNextStreamLength(p.streamLength(dict, resolve))
	}
	next, err := p.tr.next()
	if err != nil {
		return ref, nil, err
	}
	if next.Type == scanner.TokenStream {
		dict, ok := val.(*raw.DictObj)
		if !ok {
			return ref, nil, p.syntaxError(next.Pos, "stream keyword after %s", raw.KindOf(val))
		}
		val = &raw.StreamObj{Dict: dict, Data: next.Bytes}
		next, err = p.tr.next()
		if err != nil {
			return ref, nil, err
		}
	}
	p.tr.s.SetNextStreamLength(-1)
	if !next.IsKeyword("endobj") {
		e := p.syntaxError(next.Pos, "missing endobj")
		if !p.tolerate(e, "endobj") {
			return ref, nil, e
		}
	}
	return ref, val, nil
}

func (p *objectParser) streamLength(dict *raw.DictObj, resolve lengthResolver) int64 {
	o, ok := dict.Get("Length")
	if !ok {
		return -1
	}
	switch v := o.(type) {
	case raw.NumberObj:
		if v.Int() >= 0 {
			return v.Int()
		}
	case raw.RefObj:
		if resolve != nil {
			return resolve(v.R)
		}
	}
	return -1
}

// invalidSpan returns the raw bytes from start up to the next endobj, for
// recording an unparsable object verbatim.
func invalidSpan(data []byte, start int64) []byte {
	if start < 0 || start >= int64(len(data)) {
		return nil
	}
	end := bytes.Index(data[start:], []byte("endobj"))
	if end < 0 {
		end = len(data) - int(start)
	}
	span := data[start : start+int64(end)]
	// Drop an intact "N G obj" header; the writer emits its own.
	s := scanner.New(span, scanner.Config{})
	num, err1 := s.Next()
	gen, err2 := s.Next()
	kw, err3 := s.Next()
	if err1 == nil && err2 == nil && err3 == nil && num.Type == scanner.TokenNumber && gen.Type == scanner.TokenNumber && kw.IsKeyword("obj") {
		span = bytes.TrimLeft(span[s.Position():], " \t\r\n")
	}
	return append([]byte(nil), span...)
}
