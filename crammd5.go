package imapconn

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"errors"

	"github.com/emersion/go-sasl"
)

// crammd5Client implements RFC 2195 CRAM-MD5. go-sasl only ships the
// server side of this mechanism, so the client side is written here
// directly against go-sasl's sasl.Client interface, following the same
// Start/Next shape
// as the teacher's sasl.Client implementations.
type crammd5Client struct {
	username string
	secret   string
}

func newCRAMMD5Client(username, secret string) sasl.Client {
	return &crammd5Client{username: username, secret: secret}
}

func (c *crammd5Client) Start() (mech string, ir []byte, err error) {
	return "CRAM-MD5", nil, nil
}

func (c *crammd5Client) Next(challenge []byte) ([]byte, error) {
	if challenge == nil {
		return nil, errors.New("imapconn: CRAM-MD5 server sent no challenge")
	}
	mac := hmac.New(md5.New, []byte(c.secret))
	mac.Write(challenge)
	digest := hex.EncodeToString(mac.Sum(nil))
	return []byte(c.username + " " + digest), nil
}
