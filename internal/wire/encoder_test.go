package wire_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/nyxmail/imapconn/internal/wire"
)

func encode(fn func(enc *wire.Encoder)) string {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	enc := wire.NewEncoder(bw)
	fn(enc)
	enc.Flush()
	return buf.String()
}

func TestEncoder_String_PlainAtomIsUnquoted(t *testing.T) {
	got := encode(func(enc *wire.Encoder) { enc.String("INBOX") })
	if got != "INBOX" {
		t.Errorf("got %q", got)
	}
}

func TestEncoder_String_QuotesSpecialsAndEmpty(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", `""`},
		{"NIL", `"NIL"`},
		{"has space", `"has space"`},
		{`quote"inside`, `"quote\"inside"`},
		{`back\slash`, `"back\\slash"`},
	}
	for _, test := range tests {
		got := encode(func(enc *wire.Encoder) { enc.String(test.in) })
		if got != test.want {
			t.Errorf("String(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}

func TestEncoder_LiteralHeader(t *testing.T) {
	got := encode(func(enc *wire.Encoder) { enc.LiteralHeader(7, false) })
	if got != "{7}\r\n" {
		t.Errorf("got %q", got)
	}

	got = encode(func(enc *wire.Encoder) { enc.LiteralHeader(512, true) })
	if got != "{512+}\r\n" {
		t.Errorf("got %q", got)
	}
}

func TestEncoder_ChainedTokens(t *testing.T) {
	got := encode(func(enc *wire.Encoder) {
		enc.Atom("LOGIN").SP().Quoted("alice").SP().Quoted("s3cret")
	})
	if got != `LOGIN "alice" "s3cret"` {
		t.Errorf("got %q", got)
	}
}

func TestEncoder_HappyPathHasNoError(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	enc := wire.NewEncoder(bw)
	if enc.Err() != nil {
		t.Fatalf("unexpected initial error: %v", enc.Err())
	}
	enc.Atom("NOOP").CRLF()
	if err := enc.Flush(); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if buf.String() != "NOOP\r\n" {
		t.Errorf("got %q", buf.String())
	}
}
