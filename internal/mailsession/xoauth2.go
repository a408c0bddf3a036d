package mailsession

import (
	"fmt"

	"github.com/emersion/go-sasl"
)

// xoauth2Client implements the XOAUTH2 mechanism on top of go-sasl's Client
// interface. The initial response carries the login and bearer token; on a
// challenge (the server's error blob) it answers with an empty line so the
// server emits its final tagged NO.
type xoauth2Client struct {
	username string
	token    string
	done     bool
}

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	ir := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.username, c.token)
	return "XOAUTH2", []byte(ir), nil
}

func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	if c.done {
		return nil, fmt.Errorf("xoauth2: unexpected server challenge %q", challenge)
	}
	c.done = true
	return []byte{}, nil
}
