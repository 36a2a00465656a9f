// Package scanner tokenizes PDF syntax held in memory.
//
// The scanner never owns the input: it walks an immutable byte slice with a
// cursor that callers may move with Seek, which is how xref-directed reads
// jump straight to an object.
package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/wudi/pdfrev/pdferr"
	"github.com/wudi/pdfrev/recovery"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // indirect ref '5 0 R'
	TokenStream                   // 'stream' keyword plus payload
	TokenKeyword                  // other keywords (obj, endobj, >>, ], etc.)
	TokenEOF
)

var tokenNames = [...]string{
	TokenDict:    "dict",
	TokenArray:   "array",
	TokenName:    "name",
	TokenString:  "string",
	TokenNumber:  "number",
	TokenBoolean: "boolean",
	TokenNull:    "null",
	TokenRef:     "ref",
	TokenStream:  "stream",
	TokenKeyword: "keyword",
	TokenEOF:     "eof",
}

func (t TokenType) String() string {
	if t >= 0 && int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return "token(" + strconv.Itoa(int(t)) + ")"
}

// Token is one lexical unit. Which fields are meaningful depends on Type:
// names and keywords use Str; strings and stream payloads use Bytes; numbers
// use Int/Float/IsInt/Lit; refs use Int (object number) and Gen.
type Token struct {
	Type  TokenType
	Pos   int64
	Str   string
	Bytes []byte
	Int   int64
	Float float64
	IsInt bool
	Lit   string
	Bool  bool
	Gen   int
	Hex   bool
	// DataStart is the offset of the first payload byte of a stream.
	DataStart int64
}

func (t Token) String() string {
	switch t.Type {
	case TokenName:
		return "/" + t.Str
	case TokenKeyword:
		return t.Str
	case TokenString:
		if t.Hex {
			return fmt.Sprintf("<%x>", t.Bytes)
		}
		return fmt.Sprintf("(%s)", t.Bytes)
	case TokenNumber:
		return t.Lit
	case TokenBoolean:
		return strconv.FormatBool(t.Bool)
	case TokenRef:
		return fmt.Sprintf("%d %d R", t.Int, t.Gen)
	case TokenStream:
		return fmt.Sprintf("stream(%d bytes)", len(t.Bytes))
	case TokenDict:
		return "<<"
	case TokenArray:
		return "["
	}
	return t.Type.String()
}

// IsKeyword reports whether t is the keyword kw.
func (t Token) IsKeyword(kw string) bool { return t.Type == TokenKeyword && t.Str == kw }

type Scanner interface {
	Next() (Token, error)
	Position() int64
	Seek(offset int64) error
	SetNextStreamLength(n int64)
	SetRecoveryLocation(loc recovery.Location)
	Data() []byte
}

type Config struct {
	MaxStringLength int64
	MaxStreamLength int64
	// MaxStreamScan bounds the forward search for 'endstream'.
	MaxStreamScan int64
	Recovery      recovery.Strategy
}

type pdfScanner struct {
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	recLoc        recovery.Location
}

// New returns a scanner positioned at the start of data.
func New(data []byte, cfg Config) Scanner {
	return &pdfScanner{data: data, cfg: cfg, nextStreamLen: -1}
}

func (s *pdfScanner) Data() []byte    { return s.data }
func (s *pdfScanner) Position() int64 { return s.pos }
func (s *pdfScanner) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return fmt.Errorf("seek to %d out of range [0,%d]", offset, len(s.data))
	}
	s.pos = offset
	s.nextStreamLen = -1
	return nil
}

// SetNextStreamLength supplies the resolved /Length for the next stream
// keyword. A negative value means unknown.
func (s *pdfScanner) SetNextStreamLength(n int64)               { s.nextStreamLen = n }
func (s *pdfScanner) SetRecoveryLocation(loc recovery.Location) { s.recLoc = loc }

func (s *pdfScanner) Next() (Token, error) {
	s.skipWSAndComments()
	if s.pos >= int64(len(s.data)) {
		return Token{Type: TokenEOF, Pos: s.pos}, nil
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peekAhead(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Str: "<<", Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Str: ">>", Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArray, Str: "[", Pos: start}, nil
	case ']', '{', '}', ')':
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isDigitStart(c) {
		return s.scanNumberOrRef()
	}
	return s.scanKeyword()
}

func (s *pdfScanner) skipWSAndComments() {
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if IsWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && !isEOL(s.data[s.pos]) {
				s.pos++
			}
			continue
		}
		return
	}
}

func isDigitStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if IsDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) && isHex(s.data[s.pos+1]) && isHex(s.data[s.pos+2]) {
			out.WriteByte(fromHex(s.data[s.pos+1])<<4 | fromHex(s.data[s.pos+2]))
			s.pos += 3
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	n := int64(len(s.data))
	for s.pos < n {
		c := s.data[s.pos]
		if c == '\\' {
			s.pos++
			if s.pos >= n {
				break
			}
			esc := s.data[s.pos]
			// Line continuation: backslash followed by EOL is ignored
			if esc == '\r' {
				s.pos++
				if s.pos < n && s.data[s.pos] == '\n' {
					s.pos++
				}
				continue
			}
			if esc == '\n' {
				s.pos++
				continue
			}
			if esc >= '0' && esc <= '7' {
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2 && s.pos < n; k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = (val << 3) + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
				continue
			}
			buf.WriteByte(translateEscape(esc))
			s.pos++
			continue
		}
		if c == '(' {
			depth++
		} else if c == ')' {
			depth--
			if depth == 0 {
				s.pos++
				break
			}
		}
		buf.WriteByte(c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, s.limitError("literal string", s.cfg.MaxStringLength)
		}
	}
	if depth != 0 {
		if err := s.recover(errors.New("unterminated literal string"), "literal", start); err != nil {
			return Token{}, err
		}
	}
	return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	out := make([]byte, 0, 16)
	var hi byte
	half := false
	closed := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			closed = true
			break
		}
		if IsWhitespace(c) {
			continue
		}
		if !isHex(c) {
			if err := s.recover(fmt.Errorf("invalid hex digit %q", c), "hex", s.pos-1); err != nil {
				return Token{}, err
			}
			continue
		}
		if !half {
			hi = fromHex(c)
			half = true
			continue
		}
		out = append(out, hi<<4|fromHex(c))
		half = false
		if s.cfg.MaxStringLength > 0 && int64(len(out)) > s.cfg.MaxStringLength {
			return Token{}, s.limitError("hex string", s.cfg.MaxStringLength)
		}
	}
	// If odd number of nibbles, pad with 0
	if half {
		out = append(out, hi<<4)
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex", start); err != nil {
			return Token{}, err
		}
	}
	return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

var endstreamKW = []byte("endstream")

// scanStream reads the payload following the 'stream' keyword. A declared
// length is trusted only if 'endstream' follows it; otherwise the payload
// runs to the first 'endstream' marker.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	declared := s.nextStreamLen
	s.nextStreamLen = -1
	n := int64(len(s.data))
	// The keyword is followed by CRLF or LF; a lone CR is tolerated.
	if s.pos < n && s.data[s.pos] == '\r' {
		s.pos++
		if s.pos < n && s.data[s.pos] == '\n' {
			s.pos++
		}
	} else if s.pos < n && s.data[s.pos] == '\n' {
		s.pos++
	} else {
		for s.pos < n && (s.data[s.pos] == ' ' || s.data[s.pos] == '\t') {
			s.pos++
		}
		if s.pos < n && isEOL(s.data[s.pos]) {
			s.pos++
			if s.data[s.pos-1] == '\r' && s.pos < n && s.data[s.pos] == '\n' {
				s.pos++
			}
		}
	}
	dataStart := s.pos

	if declared >= 0 {
		if s.cfg.MaxStreamLength > 0 && declared > s.cfg.MaxStreamLength {
			return Token{}, s.limitError("stream", s.cfg.MaxStreamLength)
		}
		end := dataStart + declared
		if end <= n {
			p := skipEOL(s.data, end)
			if hasPrefixAt(s.data, p, endstreamKW) {
				s.pos = p + int64(len(endstreamKW))
				return Token{Type: TokenStream, Bytes: append([]byte(nil), s.data[dataStart:end]...), Pos: start, DataStart: dataStart}, nil
			}
		}
		if err := s.recover(fmt.Errorf("stream /Length %d does not end at endstream", declared), "stream", dataStart); err != nil {
			return Token{}, err
		}
	}

	idx := findEndstream(s.data, dataStart, s.cfg.MaxStreamScan)
	if idx < 0 {
		if err := s.recover(errors.New("unterminated stream"), "stream", dataStart); err != nil {
			return Token{}, err
		}
		s.pos = n
		return Token{Type: TokenStream, Bytes: append([]byte(nil), s.data[dataStart:n]...), Pos: start, DataStart: dataStart}, nil
	}
	// Trim EOL before marker
	end := idx
	if end > dataStart && s.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	if s.cfg.MaxStreamLength > 0 && end-dataStart > s.cfg.MaxStreamLength {
		return Token{}, s.limitError("stream", s.cfg.MaxStreamLength)
	}
	s.pos = idx + int64(len(endstreamKW))
	return Token{Type: TokenStream, Bytes: append([]byte(nil), s.data[dataStart:end]...), Pos: start, DataStart: dataStart}, nil
}

// findEndstream returns the offset of the first 'endstream' at or after from
// that sits on a token boundary, or -1. limit bounds the search when > 0.
func findEndstream(data []byte, from, limit int64) int64 {
	hay := data[from:]
	if limit > 0 && int64(len(hay)) > limit+int64(len(endstreamKW)) {
		hay = hay[:limit+int64(len(endstreamKW))]
	}
	base := from
	for {
		i := bytes.Index(hay, endstreamKW)
		if i < 0 {
			return -1
		}
		at := base + int64(i)
		after := at + int64(len(endstreamKW))
		if after >= int64(len(data)) || IsDelimiter(data[after]) {
			return at
		}
		hay = hay[i+1:]
		base = at + 1
	}
}

func skipEOL(data []byte, p int64) int64 {
	n := int64(len(data))
	if p < n && data[p] == '\r' {
		p++
	}
	if p < n && data[p] == '\n' {
		p++
	}
	return p
}

func hasPrefixAt(data []byte, p int64, prefix []byte) bool {
	return p >= 0 && p+int64(len(prefix)) <= int64(len(data)) && bytes.Equal(data[p:p+int64(len(prefix))], prefix)
}

// IsWhitespace reports the six PDF white-space characters.
func IsWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}
func isEOL(c byte) bool { return c == '\r' || c == '\n' }

// IsDelimiter reports delimiters and white space, the bytes that end a
// regular token.
func IsDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return IsWhitespace(c)
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}

func (s *pdfScanner) peekAhead(n int64) byte {
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	for s.pos < int64(len(s.data)) && !IsDelimiter(s.data[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		// lone delimiter not handled above, e.g. '<' at EOF
		s.pos++
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	num1Str := s.scanNumberString()
	if num1Str == "" {
		// sign or dot with no digits: treat as a keyword so callers can skip it
		return s.scanKeyword()
	}
	afterFirst := s.pos
	if isUnsigned(num1Str) {
		s.skipWSAndComments()
		num2Str := s.scanNumberString()
		if num2Str != "" && isUnsigned(num2Str) {
			s.skipWSAndComments()
			if s.pos < int64(len(s.data)) && s.data[s.pos] == 'R' &&
				(s.pos+1 >= int64(len(s.data)) || IsDelimiter(s.data[s.pos+1])) {
				s.pos++
				n1, err1 := strconv.ParseInt(num1Str, 10, 64)
				n2, err2 := strconv.Atoi(num2Str)
				if err1 == nil && err2 == nil {
					return Token{Type: TokenRef, Int: n1, Gen: n2, Pos: start}, nil
				}
			}
		}
		s.pos = afterFirst // parser will read second number later
	}
	return s.numberToken(num1Str, start)
}

func (s *pdfScanner) numberToken(lit string, start int64) (Token, error) {
	tok := Token{Type: TokenNumber, Lit: lit, Pos: start}
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		tok.Int, tok.Float, tok.IsInt = i, float64(i), true
		return tok, nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		if rerr := s.recover(fmt.Errorf("invalid number %q", lit), "number", start); rerr != nil {
			return Token{}, rerr
		}
		tok.Lit = "0"
		return tok, nil
	}
	tok.Float = f
	tok.Int = int64(f)
	return tok, nil
}

func isUnsigned(lit string) bool {
	for i := 0; i < len(lit); i++ {
		if lit[i] < '0' || lit[i] > '9' {
			return false
		}
	}
	return lit != ""
}

func (s *pdfScanner) scanNumberString() string {
	start := s.pos
	seenDigit := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			if c >= '0' && c <= '9' {
				seenDigit = true
			}
			s.pos++
			continue
		}
		break
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return string(s.data[start:s.pos])
}

// recover consults the recovery strategy. It returns nil when scanning may
// continue and a located MalformedSyntax error otherwise.
func (s *pdfScanner) recover(err error, component string, offset int64) error {
	location := s.recLoc
	location.ByteOffset = offset
	if location.Component != "" {
		location.Component += "->"
	}
	location.Component += "scanner:" + component
	if recovery.Decide(s.cfg.Recovery, nil, err, location).Continue() {
		return nil
	}
	perr := pdferr.New(pdferr.ErrMalformedSyntax, "scan "+component, err).AtOffset(offset)
	if s.recLoc.ObjectNum > 0 {
		perr = perr.ForObject(s.recLoc.ObjectNum, s.recLoc.ObjectGen)
	}
	return perr
}

func (s *pdfScanner) limitError(what string, max int64) error {
	return pdferr.Newf(pdferr.ErrAllocationLimit, "scan", "%s exceeds %d bytes", what, max).AtOffset(s.pos)
}
