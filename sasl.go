package imapconn

import (
	"net"

	"github.com/emersion/go-sasl"
)

// Authenticator supplies credentials and mechanism preferences to the
// authentication step (spec.md §6, Authenticator).
type Authenticator interface {
	Username() string
	Password() string

	// AcceptableMechanisms narrows and orders the mechanisms the engine
	// is willing to try, given the mechanisms it could actually
	// instantiate (available) and the SASL context's suggested
	// ordering over their intersection with the server's advertised
	// set (suggested). Returning an empty slice aborts SASL and, if
	// fallback is enabled, proceeds straight to LOGIN.
	AcceptableMechanisms(available, suggested []string) []string
}

// SimpleAuthenticator is an Authenticator that accepts the SASL context's
// suggested ordering verbatim.
type SimpleAuthenticator struct {
	User string
	Pass string
}

func (a *SimpleAuthenticator) Username() string { return a.User }
func (a *SimpleAuthenticator) Password() string { return a.Pass }

func (a *SimpleAuthenticator) AcceptableMechanisms(available, suggested []string) []string {
	if len(suggested) > 0 {
		return suggested
	}
	return available
}

// SASLFactory instantiates a go-sasl client for a mechanism name the
// server advertised, binding it to the given Authenticator's credentials.
// It returns a *NoSuchMechanismError for a name it doesn't recognize.
type SASLFactory func(mech string, auth Authenticator) (sasl.Client, error)

// mechPreference is the default ordering suggestMechanismOrder falls
// back to, strongest first, when the caller hasn't expressed a
// preference of its own.
var mechPreference = []string{
	"CRAM-MD5",
	"XOAUTH2",
	"OAUTHBEARER",
	"PLAIN",
	"LOGIN",
	"ANONYMOUS",
	"EXTERNAL",
}

// suggestMechanismOrder orders available by mechPreference, appending any
// mechanism not named there (unknown-but-offered) at the end in the order
// it has in available. The engine builds available from
// CapSet.AuthMechanisms, whose order is not defined. This is the
// SASLContext.suggestMechanism step of spec.md §4.5.5.
func suggestMechanismOrder(available []string) []string {
	seen := make(map[string]bool, len(available))
	var ordered []string
	for _, pref := range mechPreference {
		for _, m := range available {
			if m == pref && !seen[m] {
				ordered = append(ordered, m)
				seen[m] = true
			}
		}
	}
	for _, m := range available {
		if !seen[m] {
			ordered = append(ordered, m)
			seen[m] = true
		}
	}
	return ordered
}

// DefaultSASLFactory instantiates PLAIN, LOGIN, EXTERNAL and XOAUTH2 via
// go-sasl's client constructors, plus CRAM-MD5 (crammd5.go), which go-sasl
// does not implement on the client side. Any other name, including other
// mechanisms listed in mechPreference, yields a *NoSuchMechanismError.
func DefaultSASLFactory(mech string, auth Authenticator) (sasl.Client, error) {
	switch mech {
	case "PLAIN":
		return sasl.NewPlainClient("", auth.Username(), auth.Password()), nil
	case "LOGIN":
		return sasl.NewLoginClient(auth.Username(), auth.Password()), nil
	case "EXTERNAL":
		return sasl.NewExternalClient(auth.Username()), nil
	case "XOAUTH2":
		return sasl.NewXoauth2Client(auth.Username(), auth.Password()), nil
	case "CRAM-MD5":
		return newCRAMMD5Client(auth.Username(), auth.Password()), nil
	default:
		return nil, &NoSuchMechanismError{Mechanism: mech}
	}
}

// securedTransport is implemented by a sasl.Client whose negotiated
// mechanism installs a confidentiality/integrity layer over the raw
// transport once authentication succeeds (spec.md §4.5.5 step 5b). None
// of the mechanisms DefaultSASLFactory wires up need this; it exists so a
// caller plugging in e.g. a GSSAPI mechanism has somewhere to hook in.
type securedTransport interface {
	SecuredConn(raw net.Conn) net.Conn
}
