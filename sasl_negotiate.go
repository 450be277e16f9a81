package imapconn

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
)

func encodeSASL(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decodeSASL(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// saslAuthenticate drives §4.5.5: it narrows the server's advertised
// AUTH=MECH list down to mechanisms the factory can instantiate, lets
// the Authenticator pick and order the candidates, and tries each in
// turn. ok is true only once a mechanism's tagged response is OK; err is
// reserved for failures that are not the SASL negotiation's to recover
// from (I/O errors, parse errors).
func (c *Conn) saslAuthenticate() (ok bool, errText string, err error) {
	caps, err := c.Capabilities()
	if err != nil {
		return false, "", err
	}
	serverMechs := caps.AuthMechanisms()
	if len(serverMechs) == 0 {
		return false, "no SASL mechanisms advertised", nil
	}

	factory := c.store.SASLFactory()
	auth := c.store.Authenticator()

	clients := make(map[string]sasl.Client, len(serverMechs))
	var available []string
	for _, m := range serverMechs {
		cl, ferr := factory(m, auth)
		if ferr != nil {
			continue // unknown mechanism: discard (no_such_mechanism)
		}
		clients[m] = cl
		available = append(available, m)
	}
	if len(available) == 0 {
		return false, "no SASL mechanisms could be instantiated", nil
	}

	suggested := suggestMechanismOrder(available)
	candidates := auth.AcceptableMechanisms(available, suggested)
	if len(candidates) == 0 {
		return false, "no acceptable SASL mechanisms", nil
	}

	var errs []string
	for _, mech := range candidates {
		success, mechErrText, err := c.trySASLMechanism(mech, clients[mech])
		if err != nil {
			return false, "", err
		}
		if success {
			return true, "", nil
		}
		if mechErrText != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", mech, mechErrText))
		}
	}
	return false, strings.Join(errs, "; "), nil
}

// readResponseStep is Conn's deadline- and error-translating wrapper
// around the parser's step reader.
func (c *Conn) readResponseStep(tag string) (*Response, bool, error) {
	c.applyDeadline()
	resp, gotCont, err := c.reader.ReadResponseStep(tag)
	return resp, gotCont, c.translateIOErr("read", err)
}

// trySASLMechanism runs one AUTHENTICATE exchange to completion: it sends
// AUTHENTICATE <mech>, optionally inlining an initial response when the
// server advertises SASL-IR, then loops on continuation requests,
// base64-decoding each challenge, feeding it to the mechanism and
// sending back the base64-encoded response, until the server's tagged
// completion arrives.
func (c *Conn) trySASLMechanism(mech string, cl sasl.Client) (ok bool, errText string, err error) {
	mechName, ir, startErr := cl.Start()
	if startErr != nil {
		return false, (&SASLError{Mechanism: mech, Err: startErr}).Error(), nil
	}

	sendIR := false
	if ir != nil {
		if caps, cerr := c.Capabilities(); cerr == nil && caps.Has(CapSASLIR) {
			sendIR = true
		}
	}

	line := "AUTHENTICATE " + mechName
	if sendIR {
		line += " " + encodeSASL(ir)
		ir = nil
	}
	tag, err := c.Send(true, line, true, "")
	if err != nil {
		return false, "", err
	}

	for {
		resp, gotCont, err := c.readResponseStep(tag)
		if err != nil {
			return false, "", err
		}

		if !gotCont {
			if resp.Done.Type == OK {
				c.installSecurityLayer(cl)
				c.caps.invalidate()
				return true, "", nil
			}
			return false, resp.Done.Text, nil
		}

		conts := resp.ContinuationRequests()
		cont := conts[len(conts)-1]

		var respBytes []byte
		if cont.Text == "" {
			// Empty challenge: either the server wants the initial
			// response we withheld, or a zero-length challenge the
			// mechanism itself must answer (RFC 2222 section 5.1).
			if ir != nil {
				respBytes = ir
				ir = nil
			} else if respBytes, err = cl.Next([]byte{}); err != nil {
				c.cancelSASL(tag)
				return false, (&SASLError{Mechanism: mech, Err: err}).Error(), nil
			}
		} else {
			challenge, derr := decodeSASL(cont.Text)
			if derr != nil {
				c.cancelSASL(tag)
				return false, fmt.Sprintf("invalid base64 challenge: %v", derr), nil
			}
			if respBytes, err = cl.Next(challenge); err != nil {
				c.cancelSASL(tag)
				return false, (&SASLError{Mechanism: mech, Err: err}).Error(), nil
			}
		}

		if _, err := c.Send(false, encodeSASL(respBytes), true, "<sasl-response>"); err != nil {
			return false, "", err
		}
		// Capabilities may change mid-exchange (e.g. a security layer
		// about to be installed); don't trust the pre-auth cache.
		c.caps.invalidate()
	}
}

// cancelSASL sends the SASL client-cancellation token "*" and drains the
// server's resulting tagged failure response so it doesn't get mistaken
// for the next command's completion.
func (c *Conn) cancelSASL(tag string) {
	if _, err := c.Send(false, "*", true, ""); err != nil {
		return
	}
	for {
		_, gotCont, err := c.readResponseStep(tag)
		if err != nil || !gotCont {
			return
		}
	}
}

// installSecurityLayer wraps the transport in the mechanism's negotiated
// confidentiality/integrity layer, if any (spec.md §4.5.5 step 5b). None
// of DefaultSASLFactory's mechanisms implement securedTransport; this is
// a hook for ones that do (e.g. a GSSAPI mechanism supplied by the
// caller).
func (c *Conn) installSecurityLayer(cl sasl.Client) {
	st, ok := cl.(securedTransport)
	if !ok {
		return
	}
	wrapped := st.SecuredConn(c.transport)
	c.transport = wrapped
	c.bw = bufio.NewWriter(wrapped)
	c.reader.setReader(wrapped)
}
