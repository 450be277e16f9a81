package imapconn

import (
	"crypto/tls"
	"io"
	"time"
)

// Store is the weak back-reference a Conn holds to its owning session
// (spec.md §3, §6). A Conn never owns its Store; it only borrows
// configuration and collaborators from it for the duration of a call.
type Store interface {
	// ServerAddr returns the host to dial and the port, already
	// defaulted (143, or 993 for implicit TLS) by the caller.
	ServerAddr() (host string, port uint16)

	// UseTLS reports whether STARTTLS should be attempted after
	// connecting in cleartext.
	UseTLS() bool
	// TLSRequired reports whether a failed STARTTLS negotiation is
	// fatal, rather than silently falling back to cleartext.
	TLSRequired() bool
	// ImplicitTLS reports whether the transport should be TLS from the
	// very first byte (IMAPS), bypassing STARTTLS entirely.
	ImplicitTLS() bool
	// TLSConfig returns the TLS configuration to use for both implicit
	// TLS and STARTTLS; it is also where a custom certificate verifier
	// is plugged in via tls.Config.VerifyPeerCertificate /
	// InsecureSkipVerify.
	TLSConfig() *tls.Config

	// UseSASL reports whether SASL authentication should be attempted
	// before falling back (or not) to plain LOGIN.
	UseSASL() bool
	// SASLFallback reports whether LOGIN may be attempted after SASL
	// authentication fails.
	SASLFallback() bool
	// SASLFactory returns the factory used to instantiate SASL
	// mechanisms by name.
	SASLFactory() SASLFactory

	// Authenticator supplies credentials and mechanism preferences.
	Authenticator() Authenticator

	// DialTimeout bounds opening the transport, including the handshake
	// of implicit TLS. Zero means no timeout.
	DialTimeout() time.Duration
	// IOTimeout bounds every subsequent read or write, and the STARTTLS
	// handshake. Zero means no timeout.
	IOTimeout() time.Duration

	// DebugWriter, if non-nil, receives a trace line for every command
	// sent (with secrets elided per Conn.Send's trace override).
	DebugWriter() io.Writer
}

// StaticStore is a Store backed by plain fields, for callers that already
// have their configuration in hand and don't need file/env loading (that
// belongs to the excluded CLI/config layer, spec.md §1).
type StaticStore struct {
	Host string
	Port uint16

	TLS           bool
	RequireTLS    bool
	Implicit      bool
	TLSConfigData *tls.Config

	SASL            bool
	SASLFallbackOpt bool
	Factory         SASLFactory
	Auth            Authenticator

	DialTimeoutDur time.Duration
	IOTimeoutDur   time.Duration

	Debug io.Writer
}

func (s *StaticStore) ServerAddr() (string, uint16) {
	port := s.Port
	if port == 0 {
		if s.Implicit {
			port = 993
		} else {
			port = 143
		}
	}
	return s.Host, port
}

func (s *StaticStore) UseTLS() bool              { return s.TLS }
func (s *StaticStore) TLSRequired() bool         { return s.RequireTLS }
func (s *StaticStore) ImplicitTLS() bool         { return s.Implicit }
func (s *StaticStore) UseSASL() bool             { return s.SASL }
func (s *StaticStore) SASLFallback() bool        { return s.SASLFallbackOpt }
func (s *StaticStore) Authenticator() Authenticator { return s.Auth }
func (s *StaticStore) DialTimeout() time.Duration { return s.DialTimeoutDur }
func (s *StaticStore) IOTimeout() time.Duration   { return s.IOTimeoutDur }
func (s *StaticStore) DebugWriter() io.Writer     { return s.Debug }

func (s *StaticStore) TLSConfig() *tls.Config {
	if s.TLSConfigData != nil {
		return s.TLSConfigData
	}
	return &tls.Config{ServerName: s.Host}
}

func (s *StaticStore) SASLFactory() SASLFactory {
	if s.Factory != nil {
		return s.Factory
	}
	return DefaultSASLFactory
}
