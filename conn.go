// Package imapconn implements the IMAP4rev1 client connection core: a
// transport, a tag generator, a streaming response parser, a capability
// cache, and the connection engine that drives connect, STARTTLS,
// authentication and the protocol state machine on top of them.
//
// A Conn is not safe for concurrent use. Commands on a single connection
// are strictly serialized: Send must not be called again until the
// previous command's tagged response has been read.
package imapconn

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nyxmail/imapconn/internal/wire"
)

var nextConnID uint64

// Conn is an IMAP4rev1 client connection (spec.md §3, Connection; the
// connection engine, C5). It owns its transport, parser and tag
// generator outright; its Store is a back-reference it keeps but never
// owns, consulted for configuration and collaborators during Connect.
type Conn struct {
	id uint64

	store Store

	transport net.Conn
	bw        *bufio.Writer
	reader    *responseReader
	tags      *tagGen
	firstTag  bool
	lastTag   string

	state ConnState
	caps  capCache

	hierSep        rune
	hierSepKnown   bool
	secured        bool
	info           ConnectionInfo
	modseqDisabled bool

	ioTimeout time.Duration
	debug     io.Writer
}

// NewConn creates a Conn bound to store. No I/O happens until Connect.
func NewConn(store Store) *Conn {
	return &Conn{
		id:    atomic.AddUint64(&nextConnID, 1),
		store: store,
		state: NoneState,
	}
}

// State returns the current protocol state.
func (c *Conn) State() ConnState { return c.state }

// SetState lets a higher layer (SELECT/CLOSE logic) record that it has
// entered or left the selected state. The engine otherwise never visits
// SelectedState on its own (spec.md §4.5.9).
func (c *Conn) SetState(s ConnState) { c.state = s }

// IsConnected reports whether the transport is open and the protocol
// state is one the server considers "connected" (spec.md §3, property 1).
func (c *Conn) IsConnected() bool {
	return c.transport != nil && (c.state == AuthenticatedState || c.state == SelectedState)
}

// IsSecured reports whether the current transport is TLS, whether from
// implicit TLS at dial time or from a successful STARTTLS.
func (c *Conn) IsSecured() bool { return c.secured }

// ConnectionInfo describes the address and, if secured, TLS parameters of
// the current transport.
func (c *Conn) ConnectionInfo() ConnectionInfo { return c.info }

// HierarchySeparator returns the mailbox hierarchy separator discovered
// during Connect, defaulting to "/" per spec.md §4.5.6.
func (c *Conn) HierarchySeparator() string {
	if !c.hierSepKnown || c.hierSep == 0 {
		return "/"
	}
	return string(c.hierSep)
}

// DisableMODSEQ lets a higher layer opt out of RFC 7162 MODSEQ tracking.
// The engine attaches no behavior to the flag; it only remembers it.
func (c *Conn) DisableMODSEQ() { c.modseqDisabled = true }

// IsMODSEQDisabled reports whether DisableMODSEQ was called.
func (c *Conn) IsMODSEQDisabled() bool { return c.modseqDisabled }

func (c *Conn) trace(line string) {
	if c.debug == nil {
		return
	}
	fmt.Fprintf(c.debug, "imapconn[%d]: %s\n", c.id, line)
}

// Send composes and writes a command line. If tagged, the tag generator
// is advanced before every send except the very first tagged send of the
// connection's lifetime (spec.md §3, Tag invariant; §4.5.7). trace, when
// non-empty, is logged instead of what, so callers can elide secrets
// (e.g. a LOGIN password) from the debug trace.
func (c *Conn) Send(tagged bool, what string, terminateWithCRLF bool, trace string) (tag string, err error) {
	if c.transport == nil {
		return "", ErrConnectionLost
	}

	if tagged {
		if !c.firstTag {
			tag = c.tags.current()
		} else {
			tag = c.tags.next()
		}
	}

	var sb strings.Builder
	if tagged {
		sb.WriteString(tag)
		sb.WriteByte(' ')
	}
	sb.WriteString(what)
	if terminateWithCRLF {
		sb.WriteString("\r\n")
	}
	line := sb.String()

	c.applyDeadline()
	if _, err := c.bw.WriteString(line); err != nil {
		return tag, c.translateIOErr("send", err)
	}
	if err := c.bw.Flush(); err != nil {
		return tag, c.translateIOErr("send", err)
	}

	if trace != "" {
		c.trace(trace)
	} else {
		c.trace(strings.TrimRight(line, "\r\n"))
	}

	if tagged {
		c.firstTag = true
		c.lastTag = tag
	}
	return tag, nil
}

// ReadResponse delegates to the parser, reading until the tagged
// response-done matching the most recently sent tagged command.
func (c *Conn) ReadResponse(literalHandler LiteralHandler) (*Response, error) {
	c.applyDeadline()
	resp, err := c.reader.ReadResponse(c.lastTag, literalHandler)
	return resp, c.translateIOErr("read", err)
}

func (c *Conn) applyDeadline() {
	if c.ioTimeout > 0 && c.transport != nil {
		c.transport.SetDeadline(time.Now().Add(c.ioTimeout))
	}
}

func (c *Conn) translateIOErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return &TimeoutError{Op: op}
	}
	return err
}

// composeTokens builds a command line's argument tokens with the wire
// package's grammar encoder, so string/atom quoting follows exactly the
// same rules on the way out as the parser applies on the way in.
func composeTokens(fn func(enc *wire.Encoder)) string {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	enc := wire.NewEncoder(bw)
	fn(enc)
	enc.Flush()
	return buf.String()
}

// Capabilities returns the cached capability list, fetching it with a
// CAPABILITY command first if it has never been fetched (spec.md §4.4).
func (c *Conn) Capabilities() (CapSet, error) {
	if !c.caps.fetched {
		if err := c.fetchCapabilities(); err != nil {
			return nil, err
		}
	}
	return c.caps.set, nil
}

// HasCapability is a case-insensitive membership test, fetching
// capabilities first if necessary.
func (c *Conn) HasCapability(name Cap) (bool, error) {
	caps, err := c.Capabilities()
	if err != nil {
		return false, err
	}
	return caps.Has(name), nil
}

// InvalidateCapabilities clears the cache and marks it unfetched.
func (c *Conn) InvalidateCapabilities() { c.caps.invalidate() }

func (c *Conn) fetchCapabilities() error {
	_, err := c.Send(true, "CAPABILITY", true, "")
	if err != nil {
		return err
	}
	resp, err := c.ReadResponse(nil)
	if err != nil {
		return err
	}
	if resp.Done.Type != OK {
		return &CommandError{Cmd: "CAPABILITY", Text: resp.Done.Text}
	}
	if atoms, ok := resp.CapabilityData(); ok {
		c.caps.ingest(atoms)
		return nil
	}
	c.caps.markFetchedEmpty()
	return nil
}

// Connect drives full connection bring-up: dial, optional STARTTLS,
// authentication and hierarchy-separator discovery, returning once the
// connection reaches AuthenticatedState (spec.md §4.5.2).
func (c *Conn) Connect() error {
	if c.state != NoneState {
		return ErrAlreadyConnected
	}

	host, port := c.store.ServerAddr()
	c.ioTimeout = c.store.IOTimeout()
	c.debug = c.store.DebugWriter()

	var conn net.Conn
	var err error
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	if c.store.ImplicitTLS() {
		cfg := c.store.TLSConfig()
		tlsConn, derr := dialImplicitTLS("tcp", addr, cfg, c.store.DialTimeout())
		if derr != nil {
			return derr
		}
		conn = tlsConn
		c.secured = true
		c.info = connectionInfoFromTLS(host, port, tlsConn.(*tls.Conn))
	} else {
		conn, err = dialPlain("tcp", addr, c.store.DialTimeout())
		if err != nil {
			return err
		}
		c.info = ConnectionInfo{Host: host, Port: port}
	}

	c.transport = conn
	c.bw = bufio.NewWriter(conn)
	c.reader = newResponseReader(conn)
	c.tags = newTagGen()
	c.firstTag = false

	c.state = NotAuthenticatedState

	authNeeded, err := c.readGreetingAndDecideAuth()
	if err != nil {
		c.failConnect()
		return err
	}

	if c.store.UseTLS() && !c.store.ImplicitTLS() {
		if err := c.startTLS(); err != nil {
			var cmdErr *CommandError
			required := c.store.TLSRequired()
			if isCommandError(err, &cmdErr) && !required {
				// swallowed: continue in cleartext (scenario C)
			} else {
				c.state = NoneState
				c.failConnect()
				return err
			}
		}
	}

	if authNeeded {
		if err := c.authenticate(); err != nil {
			c.state = NoneState
			c.failConnect()
			return err
		}
	}

	if err := c.initHierarchySeparator(); err != nil {
		c.internalDisconnect()
		return err
	}

	c.state = AuthenticatedState
	return nil
}

func isCommandError(err error, target **CommandError) bool {
	if ce, ok := err.(*CommandError); ok {
		*target = ce
		return true
	}
	return false
}

// failConnect closes the transport after a fatal error during Connect,
// without sending LOGOUT (the connection never reached a state in which
// LOGOUT is meaningful).
func (c *Conn) failConnect() {
	if c.transport != nil {
		c.transport.Close()
	}
	c.transport = nil
	c.secured = false
	c.info = ConnectionInfo{}
}

func (c *Conn) readGreetingAndDecideAuth() (authNeeded bool, err error) {
	c.applyDeadline()
	greeting, err := c.reader.ReadGreeting()
	if err != nil {
		return false, c.translateIOErr("greeting", err)
	}
	switch greeting.Type {
	case BYE:
		return false, &GreetingError{Text: greeting.Text}
	case PREAUTH:
		authNeeded = false
	case OK:
		authNeeded = true
	}
	if greeting.Code != nil && greeting.Code.Code == "CAPABILITY" {
		c.caps.ingest(greeting.Code.Args)
	}
	return authNeeded, nil
}

// startTLS drives the STARTTLS exchange and, on success, swaps the
// transport and the parser's stream source for a TLS-wrapped one
// (spec.md §4.5.3).
func (c *Conn) startTLS() error {
	_, err := c.Send(true, "STARTTLS", true, "")
	if err != nil {
		return err
	}
	resp, err := c.ReadResponse(nil)
	if err != nil {
		return err
	}
	if resp.Done.Type != OK {
		return &CommandError{Cmd: "STARTTLS", Text: resp.Done.Text}
	}

	cfg := c.store.TLSConfig()
	tlsConn, err := upgradeTLS(c.transport, cfg, c.store.IOTimeout())
	if err != nil {
		return err
	}

	host := c.info.Host
	port := c.info.Port
	c.transport = tlsConn
	c.bw = bufio.NewWriter(tlsConn)
	c.reader.setReader(tlsConn)
	c.secured = true
	c.info = connectionInfoFromTLS(host, port, tlsConn)

	// RFC 2595: discard the pre-TLS capability list, it cannot be
	// trusted once a MITM could have tampered with it.
	c.caps.invalidate()
	return nil
}

// authenticate runs the SASL phase (if enabled) followed, if needed, by
// the LOGIN fallback phase (spec.md §4.5.4).
func (c *Conn) authenticate() error {
	var accumulated string

	if c.store.UseSASL() {
		ok, errText, err := c.saslAuthenticate()
		if err != nil {
			c.internalDisconnect()
			return err
		}
		if ok {
			return nil
		}
		if !c.store.SASLFallback() {
			c.internalDisconnect()
			return &AuthenticationError{Text: errText}
		}
		if c.transport == nil {
			return &AuthenticationError{Text: errText + "; connection closed"}
		}
		accumulated = errText
	}

	return c.loginAuthenticate(accumulated)
}

func (c *Conn) loginAuthenticate(accumulated string) error {
	auth := c.store.Authenticator()
	user := auth.Username()
	pass := auth.Password()

	line := composeTokens(func(enc *wire.Encoder) {
		enc.Atom("LOGIN").SP().Quoted(user).SP().Quoted(pass)
	})
	trace := composeTokens(func(enc *wire.Encoder) {
		enc.Atom("LOGIN").SP().Quoted(user).SP().Atom("****")
	})

	_, err := c.Send(true, line, true, trace)
	if err != nil {
		return err
	}
	resp, err := c.ReadResponse(nil)
	if err != nil {
		return err
	}

	switch resp.Done.Type {
	case BAD:
		c.internalDisconnect()
		return &CommandError{Cmd: "LOGIN", Text: resp.Done.Text}
	case NO:
		c.internalDisconnect()
		text := resp.Done.Text
		if accumulated != "" {
			text = accumulated + "; " + text
		}
		return &AuthenticationError{Text: text}
	default: // OK
		if atoms, ok := resp.CapabilityData(); ok {
			c.caps.ingest(atoms)
		} else {
			c.caps.invalidate()
		}
		return nil
	}
}

// initHierarchySeparator runs LIST "" "" and records the hierarchy
// separator of the first entry reporting a non-NUL one, defaulting to
// "/" (spec.md §4.5.6, property 7).
func (c *Conn) initHierarchySeparator() error {
	listCmd := composeTokens(func(enc *wire.Encoder) {
		enc.Atom("LIST").SP().String("").SP().String("")
	})
	_, err := c.Send(true, listCmd, true, "")
	if err != nil {
		return err
	}
	resp, err := c.ReadResponse(nil)
	if err != nil {
		return err
	}
	if resp.Done.Type != OK {
		return &CommandError{Cmd: "LIST", Text: resp.Done.Text}
	}

	for _, entry := range resp.ListEntries("LIST") {
		if entry.Delimiter != "" {
			r := []rune(entry.Delimiter)
			c.hierSep = r[0]
			c.hierSepKnown = true
			break
		}
	}
	if !c.hierSepKnown {
		c.hierSep = '/'
		c.hierSepKnown = true
	}
	return nil
}

// Disconnect is idempotent and never returns an error to the caller: a
// failure to send LOGOUT, or to read its response, is ignored, since the
// transport is being torn down regardless.
func (c *Conn) Disconnect() {
	if !c.IsConnected() {
		return
	}
	c.internalDisconnect()
}

// internalDisconnect sends LOGOUT best-effort, closes the transport, and
// transitions to LogoutState. Disconnect and the authentication and
// hierarchy-separator failure paths of Connect use it; a failed greeting
// or STARTTLS closes the transport through failConnect instead, without
// sending LOGOUT.
func (c *Conn) internalDisconnect() {
	if c.transport != nil {
		if tag, err := c.Send(true, "LOGOUT", true, ""); err == nil {
			c.ReadResponse(nil)
			_ = tag
		}
		c.transport.Close()
	}
	c.transport = nil
	c.ioTimeout = 0
	c.secured = false
	c.info = ConnectionInfo{}
	c.state = LogoutState
}
