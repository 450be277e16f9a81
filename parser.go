package imapconn

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/nyxmail/imapconn/internal/wire"
)

// Literal is a byte-counted blob captured by the parser when no
// LiteralHandler redirected it elsewhere.
type Literal []byte

// LiteralHandler is offered every literal encountered while parsing a
// response. Returning a non-nil io.Writer redirects the literal's n
// octets there instead of capturing them into the response tree; a nil
// writer (or a nil handler) means "capture in memory" (spec.md §4.3).
type LiteralHandler func(n int64) (io.Writer, error)

const ringLogSize = 256

// ringLog keeps the last ringLogSize bytes seen, for parse_error and
// connection_lost diagnostics (spec.md §4.3).
type ringLog struct {
	buf []byte
	pos int
	len int
}

func newRingLog() *ringLog {
	return &ringLog{buf: make([]byte, ringLogSize)}
}

func (r *ringLog) Write(p []byte) (int, error) {
	for _, b := range p {
		r.buf[r.pos] = b
		r.pos = (r.pos + 1) % len(r.buf)
		if r.len < len(r.buf) {
			r.len++
		}
	}
	return len(p), nil
}

func (r *ringLog) Bytes() []byte {
	if r.len < len(r.buf) {
		return append([]byte(nil), r.buf[:r.len]...)
	}
	out := make([]byte, len(r.buf))
	copy(out, r.buf[r.pos:])
	copy(out[len(r.buf)-r.pos:], r.buf[:r.pos])
	return out
}

// responseReader is the response parser (C3). It consumes bytes from an
// injected reader through a bufio.Reader, which may pull more bytes off
// the reader than the current response needs. A transport swap between
// responses (STARTTLS, a SASL security layer) therefore relies on the
// server having sent nothing beyond the last line read before the swap;
// any such extra bytes would stay in the old buffer and be discarded.
type responseReader struct {
	br  *bufio.Reader
	dec *wire.Decoder
	log *ringLog
}

func newResponseReader(r io.Reader) *responseReader {
	log := newRingLog()
	br := bufio.NewReader(io.TeeReader(r, log))
	return &responseReader{
		br:  br,
		dec: wire.NewDecoder(br),
		log: log,
	}
}

// setReader rebinds the parser to a new byte source. The caller must
// ensure no bytes from the old stream are still pending: STARTTLS OK is
// the last thing read before the swap, and the SASL loop reads exactly
// the tagged-OK line before installing a security layer, so there is
// never a partial line left in br (spec.md §3 invariant).
func (p *responseReader) setReader(r io.Reader) {
	p.br = bufio.NewReader(io.TeeReader(r, p.log))
	p.dec.Reset(p.br)
}

func (p *responseReader) parseErr(err error) error {
	return &ParseError{Err: err, Log: p.log.Bytes()}
}

// ReadGreeting parses the server's first unsolicited response.
func (p *responseReader) ReadGreeting() (*Greeting, error) {
	if !p.dec.ExpectSpecial('*') || !p.dec.ExpectSP() {
		return nil, p.parseErr(p.dec.Err())
	}
	var typ string
	if !p.dec.ExpectAtom(&typ) {
		return nil, p.parseErr(p.dec.Err())
	}
	g := &Greeting{Type: StatusRespType(strings.ToUpper(typ))}
	switch g.Type {
	case OK, PREAUTH, BYE:
	default:
		return nil, p.parseErr(errUnknownGreeting(typ))
	}
	if !p.dec.ExpectSP() {
		return nil, p.parseErr(p.dec.Err())
	}
	if err := p.readOptionalRespText(&g.Code, &g.Text); err != nil {
		return nil, p.parseErr(err)
	}
	if !p.dec.ExpectCRLF() {
		return nil, p.parseErr(p.dec.Err())
	}
	return g, nil
}

type errUnknownGreeting string

func (e errUnknownGreeting) Error() string { return "unknown greeting type: " + string(e) }

// ReadResponseStep reads response lines like ReadResponse, but returns as
// soon as it sees a continuation request rather than reading through it.
// It exists for the AUTHENTICATE exchange (spec.md §4.5.5): a server that
// has just sent "+ challenge" will not send anything more until the
// client replies, so the engine must get control back between rounds
// instead of blocking inside the parser.
func (p *responseReader) ReadResponseStep(tag string) (resp *Response, gotCont bool, err error) {
	resp = &Response{}
	for {
		line, err := p.readLine(nil)
		if err != nil {
			return resp, false, err
		}
		switch v := line.(type) {
		case *ContinuationReq:
			resp.Data = append(resp.Data, v)
			return resp, true, nil
		case *ResponseData:
			resp.Data = append(resp.Data, v)
		case *StatusResp:
			if v.Tag == tag {
				resp.Done = v
				return resp, false, nil
			}
			resp.Data = append(resp.Data, &ResponseData{Status: v})
		}
	}
}

// ReadResponse parses server responses until a tagged response-done
// matching tag. Untagged data and continuation requests seen along the
// way are accumulated into the returned Response (spec.md §4.3).
func (p *responseReader) ReadResponse(tag string, literalHandler LiteralHandler) (*Response, error) {
	resp := &Response{}
	for {
		line, err := p.readLine(literalHandler)
		if err != nil {
			return resp, err
		}
		switch v := line.(type) {
		case *ContinuationReq:
			resp.Data = append(resp.Data, v)
		case *ResponseData:
			resp.Data = append(resp.Data, v)
		case *StatusResp:
			if v.Tag == tag {
				resp.Done = v
				return resp, nil
			}
			// An untagged status is folded into ResponseData so
			// callers only look in one place for it.
			resp.Data = append(resp.Data, &ResponseData{Status: v})
		}
	}
}

// readLine parses one response line: a tagged/untagged status, generic
// response-data, or a continuation request.
func (p *responseReader) readLine(literalHandler LiteralHandler) (interface{}, error) {
	b, ok := p.dec.Peek()
	if !ok {
		if p.dec.Err() != nil {
			return nil, p.translateReadErr(p.dec.Err())
		}
		return nil, p.translateReadErr(io.ErrUnexpectedEOF)
	}

	switch b {
	case '+':
		p.dec.Special('+')
		p.dec.SP()
		var text string
		p.dec.Text(&text) // a bare "+\r\n" has no text; ignore failure
		if !p.dec.ExpectCRLF() {
			return nil, p.translateReadErr(p.dec.Err())
		}
		return &ContinuationReq{Text: text}, nil
	case '*':
		p.dec.Special('*')
		if !p.dec.ExpectSP() {
			return nil, p.translateReadErr(p.dec.Err())
		}
		return p.readResponseData(literalHandler)
	default:
		return p.readTaggedStatus()
	}
}

func (p *responseReader) readTaggedStatus() (*StatusResp, error) {
	var tag, typ string
	if !p.dec.ExpectAtom(&tag) || !p.dec.ExpectSP() || !p.dec.ExpectAtom(&typ) {
		return nil, p.translateReadErr(p.dec.Err())
	}
	s := &StatusResp{Tag: tag, Type: StatusRespType(strings.ToUpper(typ))}
	if !p.dec.ExpectSP() {
		return nil, p.translateReadErr(p.dec.Err())
	}
	if err := p.readOptionalRespText(&s.Code, &s.Text); err != nil {
		return nil, p.translateReadErr(err)
	}
	if !p.dec.ExpectCRLF() {
		return nil, p.translateReadErr(p.dec.Err())
	}
	return s, nil
}

// readResponseData parses the remainder of an untagged line: either an
// embedded status (OK/NO/BAD/BYE/PREAUTH), numbered message-data, or
// keyword-led mailbox-data / capability-data.
func (p *responseReader) readResponseData(literalHandler LiteralHandler) (interface{}, error) {
	b, ok := p.dec.Peek()
	if !ok {
		return nil, p.translateReadErr(p.dec.Err())
	}

	if b >= '0' && b <= '9' {
		n, ok := p.dec.Number64()
		if !ok {
			return nil, p.translateReadErr(p.dec.Err())
		}
		if !p.dec.ExpectSP() {
			return nil, p.translateReadErr(p.dec.Err())
		}
		var kw string
		if !p.dec.ExpectAtom(&kw) {
			return nil, p.translateReadErr(p.dec.Err())
		}
		rd := &ResponseData{Tag: strings.ToUpper(kw), Num: uint32(n), HasNum: true}
		if p.dec.SP() {
			fields, err := p.readFieldListUntil("\r", literalHandler)
			if err != nil {
				return nil, p.translateReadErr(err)
			}
			rd.Fields = fields
		}
		if !p.dec.ExpectCRLF() {
			return nil, p.translateReadErr(p.dec.Err())
		}
		return rd, nil
	}

	var kw string
	if !p.dec.ExpectAtom(&kw) {
		return nil, p.translateReadErr(p.dec.Err())
	}
	upper := strings.ToUpper(kw)
	switch StatusRespType(upper) {
	case OK, NO, BAD, BYE, PREAUTH:
		s := &StatusResp{Type: StatusRespType(upper)}
		if !p.dec.ExpectSP() {
			return nil, p.translateReadErr(p.dec.Err())
		}
		if err := p.readOptionalRespText(&s.Code, &s.Text); err != nil {
			return nil, p.translateReadErr(err)
		}
		if !p.dec.ExpectCRLF() {
			return nil, p.translateReadErr(p.dec.Err())
		}
		return &ResponseData{Status: s}, nil
	default:
		rd := &ResponseData{Tag: upper}
		if p.dec.SP() {
			fields, err := p.readFieldListUntil("\r", literalHandler)
			if err != nil {
				return nil, p.translateReadErr(err)
			}
			rd.Fields = fields
		}
		if !p.dec.ExpectCRLF() {
			return nil, p.translateReadErr(p.dec.Err())
		}
		return rd, nil
	}
}

// readOptionalRespText parses ["[" resp-text-code "]" SP] text, where
// text may be empty immediately before CRLF.
func (p *responseReader) readOptionalRespText(code **RespTextCode, text *string) error {
	if b, ok := p.dec.Peek(); ok && b == '[' {
		p.dec.Special('[')
		var name string
		if !p.dec.ExpectAtom(&name) {
			return p.dec.Err()
		}
		rtc := &RespTextCode{Code: strings.ToUpper(name)}
		if p.dec.SP() {
			fields, err := p.readFieldListUntil("]", nil)
			if err != nil {
				return err
			}
			rtc.Args = stringFields(fields)
		}
		if !p.dec.ExpectSpecial(']') {
			return p.dec.Err()
		}
		*code = rtc
		if p.dec.SP() {
			p.dec.Text(text) // may legitimately be empty
		}
		return nil
	}
	p.dec.Text(text)
	return nil
}

// readFieldListUntil reads SP-separated fields until the next byte is one
// of stop, CR, or (implicitly) EOF.
func (p *responseReader) readFieldListUntil(stop string, literalHandler LiteralHandler) ([]interface{}, error) {
	var fields []interface{}
	for {
		b, ok := p.dec.Peek()
		if !ok {
			return fields, p.dec.Err()
		}
		if b == '\r' || strings.IndexByte(stop, b) >= 0 {
			return fields, nil
		}
		f, err := p.readField(literalHandler)
		if err != nil {
			return fields, err
		}
		fields = append(fields, f)

		b, ok = p.dec.Peek()
		if !ok {
			return fields, p.dec.Err()
		}
		if b == ' ' {
			p.dec.SP()
			continue
		}
		return fields, nil
	}
}

func (p *responseReader) readField(literalHandler LiteralHandler) (interface{}, error) {
	b, ok := p.dec.Peek()
	if !ok {
		return nil, p.dec.Err()
	}
	switch b {
	case '(':
		p.dec.Special('(')
		fields, err := p.readFieldListUntil(")", literalHandler)
		if err != nil {
			return nil, err
		}
		if !p.dec.ExpectSpecial(')') {
			return nil, p.dec.Err()
		}
		return fields, nil
	case '"':
		var s string
		if !p.dec.ExpectQuotedString(&s) {
			return nil, p.dec.Err()
		}
		return s, nil
	case '{':
		return p.readLiteral(literalHandler)
	case '\\':
		// A flag or mailbox attribute such as \Seen or \HasNoChildren.
		p.dec.Special('\\')
		var atom string
		if !p.dec.ExpectAtom(&atom) {
			return nil, p.dec.Err()
		}
		return "\\" + atom, nil
	default:
		var atom string
		if !p.dec.ExpectAtom(&atom) {
			return nil, p.dec.Err()
		}
		// A section such as BODY[] or BODY[TEXT]: the atom stops at the
		// closing ']', which belongs to the same token.
		if strings.Contains(atom, "[") && p.dec.Special(']') {
			atom += "]"
		}
		if atom == "NIL" {
			return nil, nil
		}
		return atom, nil
	}
}

// readLiteral parses a "{n}" header, honoring a non-synchronizing literal
// the same as a synchronizing one on read (the client never needs to send
// a continuation to receive), then copies exactly n octets either into the
// LiteralHandler's writer or into memory.
func (p *responseReader) readLiteral(literalHandler LiteralHandler) (interface{}, error) {
	n, _, ok := p.dec.LiteralHeader()
	if !ok {
		return nil, p.dec.Err()
	}

	var w io.Writer
	if literalHandler != nil {
		hw, err := literalHandler(n)
		if err != nil {
			return nil, err
		}
		w = hw
	}
	if w != nil {
		if err := p.dec.ReadLiteral(n, w); err != nil {
			return nil, err
		}
		return Literal(nil), nil
	}

	buf := bytes.NewBuffer(make([]byte, 0, n))
	if err := p.dec.ReadLiteral(n, buf); err != nil {
		return nil, err
	}
	return Literal(buf.Bytes()), nil
}

// translateReadErr turns an unexpected-EOF into the connection_lost kind
// the engine is supposed to surface, and everything else into a
// parse_error carrying the trailing bytes log.
func (p *responseReader) translateReadErr(err error) error {
	if err == nil {
		return nil
	}
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return ErrConnectionLost
	}
	return &ParseError{Err: err, Log: p.log.Bytes()}
}
