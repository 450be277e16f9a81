package wire_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/nyxmail/imapconn/internal/wire"
)

func newDecoder(s string) *wire.Decoder {
	return wire.NewDecoder(bufio.NewReader(bytes.NewBufferString(s)))
}

func TestDecoder_Atom(t *testing.T) {
	dec := newDecoder("IMAP4REV1 ")
	var atom string
	if !dec.ExpectAtom(&atom) {
		t.Fatal(dec.Err())
	}
	if atom != "IMAP4REV1" {
		t.Errorf("got %q, want IMAP4REV1", atom)
	}
	if !dec.SP() {
		t.Error("expected SP after atom")
	}
}

func TestDecoder_Atom_StopsAtSpecials(t *testing.T) {
	tests := []struct {
		in, atom, rest string
	}{
		{"a(b", "a", "(b"},
		{"a)b", "a", ")b"},
		{"a{1}", "a", "{1}"},
		{"a%b", "a", "%b"},
		{`a"b`, "a", `"b`},
		{`a\b`, "a", `\b`},
		{"a]b", "a", "]b"},
	}
	for _, test := range tests {
		dec := newDecoder(test.in)
		var atom string
		if !dec.ExpectAtom(&atom) {
			t.Fatalf("%q: %v", test.in, dec.Err())
		}
		if atom != test.atom {
			t.Errorf("%q: got %q, want %q", test.in, atom, test.atom)
		}
	}
}

func TestDecoder_QuotedString(t *testing.T) {
	dec := newDecoder(`"hello \"gopher\""`)
	var s string
	if !dec.ExpectQuotedString(&s) {
		t.Fatal(dec.Err())
	}
	if s != `hello "gopher"` {
		t.Errorf("got %q", s)
	}
}

func TestDecoder_Number64(t *testing.T) {
	dec := newDecoder("4294967296 ")
	n, ok := dec.Number64()
	if !ok {
		t.Fatal(dec.Err())
	}
	if n != 4294967296 {
		t.Errorf("got %d", n)
	}
}

func TestDecoder_LiteralHeader_Synchronizing(t *testing.T) {
	dec := newDecoder("{7}\r\n")
	n, nonSync, ok := dec.LiteralHeader()
	if !ok {
		t.Fatal(dec.Err())
	}
	if n != 7 || nonSync {
		t.Errorf("got n=%d nonSync=%v", n, nonSync)
	}
}

func TestDecoder_LiteralHeader_NonSynchronizing(t *testing.T) {
	dec := newDecoder("{512+}\r\n")
	n, nonSync, ok := dec.LiteralHeader()
	if !ok {
		t.Fatal(dec.Err())
	}
	if n != 512 || !nonSync {
		t.Errorf("got n=%d nonSync=%v", n, nonSync)
	}
}

// Literal framing must deliver exactly n bytes verbatim, including any
// embedded CRLFs (spec.md §8, property 8).
func TestDecoder_ReadLiteral_ExactBytesWithEmbeddedCRLF(t *testing.T) {
	payload := "Hello!\n"
	dec := newDecoder("{7}\r\n" + payload + "trailing garbage")
	n, _, ok := dec.LiteralHeader()
	if !ok {
		t.Fatal(dec.Err())
	}
	var buf bytes.Buffer
	if err := dec.ReadLiteral(n, &buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != payload {
		t.Errorf("got %q, want %q", buf.String(), payload)
	}
	// Everything after the literal's n bytes is still there, untouched.
	var atom string
	if !dec.ExpectAtom(&atom) {
		t.Fatal(dec.Err())
	}
	if atom != "trailing" {
		t.Errorf("got %q", atom)
	}
}

func TestDecoder_ReadLiteral_ShortRead(t *testing.T) {
	dec := newDecoder("{10}\r\nabc")
	var buf bytes.Buffer
	err := dec.ReadLiteral(10, &buf)
	if err == nil {
		t.Fatal("expected an error on a truncated literal")
	}
}

func TestDecoder_Peek_DoesNotConsume(t *testing.T) {
	dec := newDecoder("*OK")
	b, ok := dec.Peek()
	if !ok || b != '*' {
		t.Fatalf("got %q, %v", b, ok)
	}
	if !dec.ExpectSpecial('*') {
		t.Fatal(dec.Err())
	}
}

func TestDecoder_AccumulatesFirstError(t *testing.T) {
	dec := newDecoder("")
	var atom string
	if dec.ExpectAtom(&atom) {
		t.Fatal("expected failure on empty input")
	}
	firstErr := dec.Err()
	if firstErr == nil {
		t.Fatal("expected a recorded error")
	}
	// Every subsequent accept call is a no-op once err is set.
	if dec.SP() {
		t.Error("SP should fail once an error is recorded")
	}
	if dec.Err() != firstErr {
		t.Error("Err() must not change after the first failure")
	}
}
