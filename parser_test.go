package imapconn

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestReadGreeting_OKWithCapability(t *testing.T) {
	p := newResponseReader(strings.NewReader("* OK [CAPABILITY IMAP4rev1 STARTTLS] Server ready\r\n"))
	g, err := p.ReadGreeting()
	if err != nil {
		t.Fatal(err)
	}
	if g.Type != OK {
		t.Errorf("got type %v", g.Type)
	}
	if g.Code == nil || g.Code.Code != "CAPABILITY" {
		t.Fatalf("expected a CAPABILITY code, got %v", g.Code)
	}
	if got := strings.Join(g.Code.Args, ","); got != "IMAP4rev1,STARTTLS" {
		t.Errorf("got args %v", g.Code.Args)
	}
}

func TestReadGreeting_PREAUTH(t *testing.T) {
	p := newResponseReader(strings.NewReader("* PREAUTH already authenticated\r\n"))
	g, err := p.ReadGreeting()
	if err != nil {
		t.Fatal(err)
	}
	if g.Type != PREAUTH {
		t.Errorf("got %v", g.Type)
	}
}

func TestReadGreeting_BYE(t *testing.T) {
	p := newResponseReader(strings.NewReader("* BYE shutting down\r\n"))
	g, err := p.ReadGreeting()
	if err != nil {
		t.Fatal(err)
	}
	if g.Type != BYE {
		t.Errorf("got %v", g.Type)
	}
	if g.Text != "shutting down" {
		t.Errorf("got text %q", g.Text)
	}
}

func TestReadGreeting_UnknownType(t *testing.T) {
	p := newResponseReader(strings.NewReader("* WAT nonsense\r\n"))
	if _, err := p.ReadGreeting(); err == nil {
		t.Fatal("expected a parse error for an unrecognized greeting type")
	}
}

// Scenario F — literal in response: the parser must deliver exactly the
// literal's n bytes verbatim, independent of any embedded CRLF.
func TestReadResponse_LiteralInResponse(t *testing.T) {
	input := "* 1 FETCH (BODY[] {7}\r\nHello!\n)\r\na001 OK done\r\n"
	p := newResponseReader(strings.NewReader(input))
	resp, err := p.ReadResponse("a001", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Done == nil || resp.Done.Type != OK {
		t.Fatalf("expected tagged OK, got %v", resp.Done)
	}

	var fetch *ResponseData
	for _, d := range resp.Data {
		if rd, ok := d.(*ResponseData); ok && rd.Tag == "FETCH" {
			fetch = rd
		}
	}
	if fetch == nil {
		t.Fatal("no FETCH response-data found")
	}
	list, ok := fetch.Fields[0].([]interface{})
	if !ok {
		t.Fatalf("expected a parenthesized list, got %T", fetch.Fields[0])
	}
	lit, ok := list[1].(Literal)
	if !ok {
		t.Fatalf("expected a Literal, got %T", list[1])
	}
	if string(lit) != "Hello!\n" {
		t.Errorf("got %q, want %q", string(lit), "Hello!\n")
	}
}

func TestReadResponse_LiteralHandlerRedirectsBytes(t *testing.T) {
	input := "* 1 FETCH (BODY[] {7}\r\nHello!\n)\r\na001 OK done\r\n"
	p := newResponseReader(strings.NewReader(input))

	var captured bytes.Buffer
	handler := func(n int64) (io.Writer, error) { return &captured, nil }

	resp, err := p.ReadResponse("a001", handler)
	if err != nil {
		t.Fatal(err)
	}

	var fetch *ResponseData
	for _, d := range resp.Data {
		if rd, ok := d.(*ResponseData); ok && rd.Tag == "FETCH" {
			fetch = rd
		}
	}
	list := fetch.Fields[0].([]interface{})
	if _, ok := list[1].(Literal); !ok {
		t.Fatalf("expected a (possibly empty) Literal placeholder, got %T", list[1])
	}
	if captured.String() != "Hello!\n" {
		t.Errorf("handler captured %q, want %q", captured.String(), "Hello!\n")
	}
}

func TestReadResponse_UntaggedDataAccumulatesUntilTaggedDone(t *testing.T) {
	input := "* 2 EXISTS\r\n* 1 EXPUNGE\r\na001 OK NOOP completed\r\n"
	p := newResponseReader(strings.NewReader(input))
	resp, err := p.ReadResponse("a001", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("got %d untagged items, want 2", len(resp.Data))
	}
	if resp.Done.Text != "NOOP completed" {
		t.Errorf("got %q", resp.Done.Text)
	}
}

func TestReadResponseStep_ReturnsOnContinuation(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("+ PDEyMzQ1Njc4OUBob3N0Pg==\r\na001 OK welcome\r\n"))
	p := newResponseReader(br)
	resp, gotCont, err := p.ReadResponseStep("a001")
	if err != nil {
		t.Fatal(err)
	}
	if !gotCont {
		t.Fatal("expected gotCont=true on a continuation request")
	}
	conts := resp.ContinuationRequests()
	if len(conts) != 1 || conts[0].Text != "PDEyMzQ1Njc4OUBob3N0Pg==" {
		t.Fatalf("got %v", conts)
	}

	resp, gotCont, err = p.ReadResponseStep("a001")
	if err != nil {
		t.Fatal(err)
	}
	if gotCont {
		t.Fatal("expected gotCont=false on the tagged completion")
	}
	if resp.Done.Type != OK {
		t.Errorf("got %v", resp.Done.Type)
	}
}

func TestResponse_CapabilityData_FromUntaggedLine(t *testing.T) {
	input := "* CAPABILITY IMAP4rev1 STARTTLS AUTH=PLAIN\r\na001 OK done\r\n"
	p := newResponseReader(strings.NewReader(input))
	resp, err := p.ReadResponse("a001", nil)
	if err != nil {
		t.Fatal(err)
	}
	atoms, ok := resp.CapabilityData()
	if !ok {
		t.Fatal("expected capability data")
	}
	if len(atoms) != 3 {
		t.Errorf("got %v", atoms)
	}
}

func TestResponse_ListEntries(t *testing.T) {
	input := "* LIST (\\HasNoChildren) \"/\" INBOX\r\na001 OK done\r\n"
	p := newResponseReader(strings.NewReader(input))
	resp, err := p.ReadResponse("a001", nil)
	if err != nil {
		t.Fatal(err)
	}
	entries := resp.ListEntries("LIST")
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Delimiter != "/" || entries[0].Name != "INBOX" {
		t.Errorf("got %+v", entries[0])
	}
}
