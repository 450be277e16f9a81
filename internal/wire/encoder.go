package wire

import (
	"bufio"
	"strconv"
	"strings"
)

// Encoder composes outgoing IMAP grammar tokens onto a buffered writer.
// Like Decoder, it accumulates the first write error and every method
// after that becomes a no-op, so call chains can be written fluently and
// checked once via Err (or Flush, which surfaces it).
type Encoder struct {
	w   *bufio.Writer
	err error
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w *bufio.Writer) *Encoder {
	return &Encoder{w: w}
}

func (enc *Encoder) writeString(s string) *Encoder {
	if enc.err != nil {
		return enc
	}
	if _, err := enc.w.WriteString(s); err != nil {
		enc.err = err
	}
	return enc
}

// Err returns the first write error, if any.
func (enc *Encoder) Err() error {
	return enc.err
}

// Flush flushes the underlying writer and returns any pending error.
func (enc *Encoder) Flush() error {
	if enc.err != nil {
		return enc.err
	}
	return enc.w.Flush()
}

// Atom writes a bare atom, unquoted and unescaped.
func (enc *Encoder) Atom(s string) *Encoder { return enc.writeString(s) }

// SP writes a single space.
func (enc *Encoder) SP() *Encoder { return enc.writeString(" ") }

// CRLF writes a carriage return and a line feed.
func (enc *Encoder) CRLF() *Encoder { return enc.writeString("\r\n") }

// Special writes a single grammar byte such as '(' or ')'.
func (enc *Encoder) Special(b byte) *Encoder { return enc.writeString(string(b)) }

// Quoted writes s as a double-quoted string, escaping '\\' and '"'.
func (enc *Encoder) Quoted(s string) *Encoder {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		if r == '\\' || r == '"' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('"')
	return enc.writeString(sb.String())
}

// String writes s as an atom if it is safe to, or as a quoted string
// otherwise. NIL and the empty string are always quoted so they can't be
// confused with the literal atom NIL.
func (enc *Encoder) String(s string) *Encoder {
	if s == "" || s == "NIL" || strings.ContainsAny(s, " \"(){%*\\\r\n") {
		return enc.Quoted(s)
	}
	return enc.Atom(s)
}

// Number writes an unsigned decimal number.
func (enc *Encoder) Number(n uint32) *Encoder {
	return enc.writeString(strconv.FormatUint(uint64(n), 10))
}

// LiteralHeader writes a literal length marker. When nonSync is true and
// the peer has advertised LITERAL+ or LITERAL- (RFC 2088), the caller may
// follow immediately with the literal's octets without waiting for a "+"
// continuation.
func (enc *Encoder) LiteralHeader(n int, nonSync bool) *Encoder {
	enc.Special('{')
	enc.writeString(strconv.Itoa(n))
	if nonSync {
		enc.writeString("+")
	}
	enc.Special('}')
	return enc.CRLF()
}

// Literal writes a literal's raw octets. The caller is responsible for
// having written a matching LiteralHeader first.
func (enc *Encoder) Literal(b []byte) *Encoder {
	if enc.err != nil {
		return enc
	}
	if _, err := enc.w.Write(b); err != nil {
		enc.err = err
	}
	return enc
}
