// Package wire implements the low-level IMAP4rev1 token grammar: atoms,
// quoted strings, literals and field lists. It has no notion of commands,
// responses or connection state — that belongs to package imapconn.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// Decoder reads IMAP grammar tokens off a buffered reader.
//
// Decoder accumulates the first error it sees; once Err returns non-nil,
// every subsequent accept method returns false without touching the
// underlying reader, so callers can chain a sequence of accept calls and
// check the error once at the end.
type Decoder struct {
	r   *bufio.Reader
	err error
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r *bufio.Reader) *Decoder {
	return &Decoder{r: r}
}

// Reset rebinds the decoder to a new underlying reader, e.g. after a
// STARTTLS transport swap. The caller must guarantee there are no bytes
// buffered from the old stream that belong to the new one.
func (dec *Decoder) Reset(r *bufio.Reader) {
	dec.r = r
}

// Err returns the first error encountered, if any.
func (dec *Decoder) Err() error {
	return dec.err
}

func (dec *Decoder) returnErr(err error) bool {
	if err == nil {
		return true
	}
	if dec.err == nil {
		dec.err = err
	}
	return false
}

func (dec *Decoder) readByte() (byte, bool) {
	if dec.err != nil {
		return 0, false
	}
	b, err := dec.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return b, dec.returnErr(err)
	}
	return b, true
}

func (dec *Decoder) mustUnreadByte() {
	if err := dec.r.UnreadByte(); err != nil {
		panic(fmt.Errorf("wire: failed to unread byte: %v", err))
	}
}

func (dec *Decoder) acceptByte(want byte) bool {
	if dec.err != nil {
		return false
	}
	got, ok := dec.readByte()
	if !ok {
		return false
	} else if got != want {
		dec.mustUnreadByte()
		return false
	}
	return true
}

// Expect turns a failed accept into a recorded parse error naming what was
// expected.
func (dec *Decoder) Expect(ok bool, name string) bool {
	if !ok {
		if dec.err != nil {
			return false
		}
		err := fmt.Errorf("expected %v", name)
		if b, peekErr := dec.r.Peek(1); peekErr == nil {
			err = fmt.Errorf("%v, got %q", err, string(b))
		}
		return dec.returnErr(err)
	}
	return true
}

// EOF reports whether the stream is exhausted without consuming a byte.
func (dec *Decoder) EOF() bool {
	if dec.err != nil {
		return false
	}
	_, err := dec.r.ReadByte()
	if err == io.EOF {
		return true
	} else if err != nil {
		return dec.returnErr(err)
	}
	dec.mustUnreadByte()
	return false
}

// SP accepts a single space.
func (dec *Decoder) SP() bool { return dec.acceptByte(' ') }

// ExpectSP requires a single space.
func (dec *Decoder) ExpectSP() bool { return dec.Expect(dec.SP(), "SP") }

// CRLF accepts a carriage return followed by a line feed.
func (dec *Decoder) CRLF() bool { return dec.acceptByte('\r') && dec.acceptByte('\n') }

// ExpectCRLF requires CRLF.
func (dec *Decoder) ExpectCRLF() bool { return dec.Expect(dec.CRLF(), "CRLF") }

// Special accepts a single byte which is not part of an atom.
func (dec *Decoder) Special(b byte) bool { return dec.acceptByte(b) }

// ExpectSpecial requires a specific single byte.
func (dec *Decoder) ExpectSpecial(b byte) bool {
	return dec.Expect(dec.Special(b), fmt.Sprintf("%q", string(b)))
}

// Atom accepts an IMAP atom: one or more bytes excluding atom-specials,
// SP and control characters.
func (dec *Decoder) Atom(ptr *string) bool {
	if dec.err != nil {
		return false
	}
	var sb strings.Builder
	for {
		b, ok := dec.readByte()
		if !ok {
			if dec.err == io.ErrUnexpectedEOF && sb.Len() > 0 {
				dec.err = nil
				break
			}
			return false
		}

		var valid bool
		switch b {
		case '(', ')', '{', ' ', '%', '*', '"', '\\', ']':
			valid = false
		case '\r', '\n':
			valid = false
		default:
			valid = !unicode.IsControl(rune(b))
		}
		if !valid {
			dec.mustUnreadByte()
			break
		}
		sb.WriteByte(b)
	}
	if sb.Len() == 0 {
		return false
	}
	*ptr = sb.String()
	return true
}

// ExpectAtom requires an atom.
func (dec *Decoder) ExpectAtom(ptr *string) bool {
	return dec.Expect(dec.Atom(ptr), "atom")
}

// QuotedString accepts a double-quoted string, unescaping \" and \\.
func (dec *Decoder) QuotedString(ptr *string) bool {
	if !dec.acceptByte('"') {
		return false
	}
	var sb strings.Builder
	for {
		b, ok := dec.readByte()
		if !ok {
			return false
		}
		if b == '"' {
			break
		}
		if b == '\\' {
			next, ok := dec.readByte()
			if !ok {
				return false
			}
			b = next
		}
		sb.WriteByte(b)
	}
	*ptr = sb.String()
	return true
}

// ExpectQuotedString requires a quoted string.
func (dec *Decoder) ExpectQuotedString(ptr *string) bool {
	return dec.Expect(dec.QuotedString(ptr), "quoted string")
}

// Text accepts everything up to CRLF, used for response-text and trailing
// human-readable status info.
func (dec *Decoder) Text(ptr *string) bool {
	if dec.err != nil {
		return false
	}
	var sb strings.Builder
	for {
		b, ok := dec.readByte()
		if !ok {
			return false
		}
		if b == '\r' || b == '\n' {
			dec.mustUnreadByte()
			break
		}
		sb.WriteByte(b)
	}
	if sb.Len() == 0 {
		return false
	}
	*ptr = sb.String()
	return true
}

// ExpectText requires response-text.
func (dec *Decoder) ExpectText(ptr *string) bool {
	return dec.Expect(dec.Text(ptr), "text")
}

// Number accepts an unsigned 32-bit decimal number.
func (dec *Decoder) Number(ptr *uint32) bool {
	v, ok := dec.Number64()
	if !ok {
		return false
	}
	*ptr = uint32(v)
	return true
}

// ExpectNumber requires a number.
func (dec *Decoder) ExpectNumber(ptr *uint32) bool {
	return dec.Expect(dec.Number(ptr), "number")
}

// Number64 accepts an unsigned decimal number that fits in an int64; a
// longer digit run records a range error.
func (dec *Decoder) Number64() (int64, bool) {
	if dec.err != nil {
		return 0, false
	}
	var sb strings.Builder
	for {
		b, ok := dec.readByte()
		if !ok {
			break
		}
		if b < '0' || b > '9' {
			dec.mustUnreadByte()
			break
		}
		sb.WriteByte(b)
	}
	if sb.Len() == 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(sb.String(), 10, 64)
	if err != nil {
		dec.returnErr(err)
		return 0, false
	}
	return v, true
}

// LiteralHeader accepts a literal length marker `{n}` or the RFC 2088
// non-synchronizing form `{n+}`, immediately followed by CRLF as required
// by the grammar. It does not consume the literal's octets.
func (dec *Decoder) LiteralHeader() (n int64, nonSync bool, ok bool) {
	if !dec.acceptByte('{') {
		return 0, false, false
	}
	n, ok = dec.Number64()
	if !ok {
		dec.returnErr(fmt.Errorf("wire: malformed literal length"))
		return 0, false, false
	}
	if dec.acceptByte('+') {
		nonSync = true
	}
	if !dec.acceptByte('}') {
		dec.returnErr(fmt.Errorf("wire: literal length missing closing brace"))
		return 0, false, false
	}
	if !dec.ExpectCRLF() {
		return 0, false, false
	}
	return n, nonSync, true
}

// ReadLiteral reads exactly n octets of literal payload into w. Short reads
// off the underlying stream are retried until n bytes have been copied or
// an error occurs; the CRLF inside a literal (if any) is data, not framing.
func (dec *Decoder) ReadLiteral(n int64, w io.Writer) error {
	if dec.err != nil {
		return dec.err
	}
	if _, err := io.CopyN(w, dec.r, n); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		dec.returnErr(err)
		return err
	}
	return nil
}

// Peek reports the next unread byte without consuming it. ok is false at
// EOF or once an error has been recorded.
func (dec *Decoder) Peek() (b byte, ok bool) {
	if dec.err != nil {
		return 0, false
	}
	buf, err := dec.r.Peek(1)
	if err != nil {
		return 0, false
	}
	return buf[0], true
}
