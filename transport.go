package imapconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// ConnectionInfo describes the transport a Conn is currently using: the
// address it dialed and, once secured, the negotiated TLS parameters.
type ConnectionInfo struct {
	Host string
	Port uint16
	// Secure is true once the transport is TLS, whether established by
	// implicit TLS at dial time or by a successful STARTTLS.
	Secure bool
	// TLSVersion and CipherSuite are only meaningful when Secure is
	// true.
	TLSVersion  uint16
	CipherSuite uint16
}

func dialPlain(network, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(context.Background(), network, addr)
}

func dialImplicitTLS(network, addr string, cfg *tls.Config, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return tls.DialWithDialer(&d, network, addr, cfg)
}

// upgradeTLS wraps an already-connected plaintext transport with TLS and
// performs the handshake, bounded by the given deadline. On failure the
// original conn is left untouched by the caller's ownership (the caller
// decides whether to close it); tlsConn itself is not yet returned on
// error so there is nothing extra for the caller to clean up.
func upgradeTLS(conn net.Conn, cfg *tls.Config, timeout time.Duration) (*tls.Conn, error) {
	tlsConn := tls.Client(conn, cfg)
	if timeout > 0 {
		deadline := time.Now().Add(timeout)
		if err := tlsConn.SetDeadline(deadline); err != nil {
			return nil, err
		}
		defer tlsConn.SetDeadline(time.Time{})
	}
	if err := tlsConn.Handshake(); err != nil {
		return nil, fmt.Errorf("imapconn: TLS handshake: %w", err)
	}
	return tlsConn, nil
}

func connectionInfoFromTLS(host string, port uint16, conn *tls.Conn) ConnectionInfo {
	state := conn.ConnectionState()
	return ConnectionInfo{
		Host:        host,
		Port:        port,
		Secure:      true,
		TLSVersion:  state.Version,
		CipherSuite: state.CipherSuite,
	}
}
