package mailsession

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ConnectionError covers DNS, timeout, TLS and protocol failures during
// connection establishment, after the local retry budget is exhausted.
type ConnectionError struct {
	Login string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Login, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SearchError is an isolated per-folder search failure; scanning continues
// with the next folder.
type SearchError struct {
	Folder string
	Err    error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search in %q: %v", e.Folder, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// FetchError is an isolated per-UID fetch failure; scanning continues with
// the next UID.
type FetchError struct {
	UID uint32
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch uid %d: %v", e.UID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DeleteError means a mark or expunge failed after a match was found. The
// folder scan for that mailbox stops; other mailboxes are unaffected.
type DeleteError struct {
	UID uint32
	Err error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete uid %d: %v", e.UID, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

// Backoff classes: DNS failures get the longest wait since they usually mean
// the resolver is throttling simultaneous lookups; protocol aborts get a
// medium wait; everything else retries quickly.
const (
	dnsBackoff     = 8 * time.Second
	protoBackoff   = 3 * time.Second
	genericBackoff = time.Second
)

func backoffFor(err error, attempt int) time.Duration {
	base := genericBackoff

	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.As(err, &dnsErr):
		base = dnsBackoff
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &opErr):
		base = protoBackoff
	}

	return base * time.Duration(attempt)
}
