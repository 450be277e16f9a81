package imapconn

import (
	"fmt"
	"strings"

	"github.com/nyxmail/imapconn/internal/wire"
)

// SendLiteral sends a command whose final argument is a byte-counted
// literal (spec.md §6, "{n+} non-synchronising literals ... on send only
// if peer advertises LITERAL+"). prefix is everything before the literal,
// not yet CRLF-terminated (the tag, if tagged, is prepended the same way
// Send does it); suffix follows the literal's octets and is written
// verbatim, so callers terminate it with "\r\n" themselves.
//
// If the cached capabilities advertise LITERAL+, or LITERAL- and the
// literal is at most 4096 octets, the literal header is written as
// "{n+}" and the octets follow immediately. Otherwise the header is a
// synchronizing "{n}" and SendLiteral waits for the server's "+"
// continuation before writing the octets, exactly as a hand-typed client
// would.
func (c *Conn) SendLiteral(tagged bool, prefix string, literal []byte, suffix string, trace string) (tag string, err error) {
	if c.transport == nil {
		return "", ErrConnectionLost
	}

	nonSync := c.capHasLiteralPlus() || (c.capHasLiteralMinus() && len(literal) <= 4096)

	if tagged {
		if !c.firstTag {
			tag = c.tags.current()
		} else {
			tag = c.tags.next()
		}
	}

	var header strings.Builder
	if tagged {
		header.WriteString(tag)
		header.WriteByte(' ')
	}
	header.WriteString(prefix)
	header.WriteString(composeTokens(func(enc *wire.Encoder) {
		enc.LiteralHeader(len(literal), nonSync)
	}))
	headerLine := header.String()

	c.applyDeadline()
	if _, err := c.bw.WriteString(headerLine); err != nil {
		return tag, c.translateIOErr("send", err)
	}
	if err := c.bw.Flush(); err != nil {
		return tag, c.translateIOErr("send", err)
	}
	c.trace(strings.TrimRight(headerLine, "\r\n"))

	if !nonSync {
		waitTag := tag
		if !tagged {
			waitTag = c.lastTag
		}
		resp, gotCont, err := c.readResponseStep(waitTag)
		if err != nil {
			return tag, err
		}
		if !gotCont {
			return tag, &CommandError{Text: resp.Done.Text}
		}
	}

	c.applyDeadline()
	if _, err := c.bw.Write(literal); err != nil {
		return tag, c.translateIOErr("send", err)
	}
	if _, err := c.bw.WriteString(suffix); err != nil {
		return tag, c.translateIOErr("send", err)
	}
	if err := c.bw.Flush(); err != nil {
		return tag, c.translateIOErr("send", err)
	}
	if trace != "" {
		c.trace(trace)
	} else {
		c.trace(fmt.Sprintf("<%d-byte literal>%s", len(literal), strings.TrimRight(suffix, "\r\n")))
	}

	if tagged {
		c.firstTag = true
		c.lastTag = tag
	}
	return tag, nil
}

func (c *Conn) capHasLiteralPlus() bool {
	caps, err := c.Capabilities()
	if err != nil {
		return false
	}
	return caps.Has(CapLiteralPlus)
}

func (c *Conn) capHasLiteralMinus() bool {
	caps, err := c.Capabilities()
	if err != nil {
		return false
	}
	return caps.Has(CapLiteralMinus)
}
