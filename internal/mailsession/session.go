package mailsession

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/mailops/mailpurge/internal/foldercodec"
)

// Credentials carries what a session needs to authenticate. Token selects
// XOAUTH2; Password falls back to plain LOGIN (app passwords, test servers).
type Credentials struct {
	Login    string
	Token    string
	Password string
}

// SearchWindow scopes a UID search to [After, Before) at day granularity.
type SearchWindow struct {
	After  time.Time
	Before time.Time
}

// Dialer opens sessions against one IMAP endpoint. The mutex serializes only
// the establishment phase (dial + authenticate), not session lifetimes, so
// the remote endpoint never sees a burst of simultaneous TLS handshakes.
type Dialer struct {
	Addr           string
	TLSConfig      *tls.Config
	Attempts       int
	ConnectTimeout time.Duration
	AuthTimeout    time.Duration
	KeepaliveEvery int
	Log            *slog.Logger

	mu sync.Mutex
}

// Dial connects with retry: up to Attempts tries, backoff scaled by error
// class, plus a small random jitter before each establishment so staggered
// callers do not re-align.
func (d *Dialer) Dial(ctx context.Context, creds Credentials) (*Session, error) {
	attempts := d.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := backoffFor(lastErr, attempt-1)
			select {
			case <-ctx.Done():
				return nil, &ConnectionError{Login: creds.Login, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		session, err := d.dialOnce(ctx, creds)
		if err == nil {
			return session, nil
		}
		lastErr = err
		d.Log.Debug("connect attempt failed",
			"login", creds.Login, "attempt", attempt, "error", err)
	}

	return nil, &ConnectionError{Login: creds.Login, Err: lastErr}
}

func (d *Dialer) dialOnce(ctx context.Context, creds Credentials) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	jitter := time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(jitter):
	}

	conn, err := tls.DialWithDialer(
		&net.Dialer{Timeout: d.ConnectTimeout},
		"tcp", d.Addr, d.TLSConfig,
	)
	if err != nil {
		return nil, err
	}

	client := imapclient.New(conn, nil)

	if err := d.authenticate(client, creds); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Session{
		login:          creds.Login,
		client:         client,
		log:            d.Log,
		state:          StateAuthenticated,
		keepaliveEvery: d.KeepaliveEvery,
	}, nil
}

func (d *Dialer) authenticate(client *imapclient.Client, creds Credentials) error {
	timeout := d.AuthTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	done := make(chan error, 1)
	go func() {
		if creds.Token != "" {
			done <- client.Authenticate(newXOAuth2Client(creds.Login, creds.Token))
			return
		}
		done <- client.Login(creds.Login, creds.Password).Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.New("authentication timed out")
	}
}

// Session owns one authenticated protocol connection to one mailbox. It is
// not safe for concurrent use; each mailbox worker owns its sessions
// exclusively.
type Session struct {
	login          string
	client         *imapclient.Client
	log            *slog.Logger
	state          State
	selected       string
	keepaliveEvery int
	fetchOps       int
}

// State reports the session's lifecycle state.
func (s *Session) State() State { return s.state }

// Login reports the mailbox this session is bound to.
func (s *Session) Login() string { return s.login }

// ListFolders returns the selectable folders with display names decoded from
// the wire encoding.
func (s *Session) ListFolders() ([]foldercodec.Folder, error) {
	listed, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		s.state = StateFailed
		return nil, err
	}

	folders := make([]foldercodec.Folder, 0, len(listed))
	for _, mb := range listed {
		if hasAttr(mb.Attrs, imap.MailboxAttrNoSelect) {
			continue
		}
		folders = append(folders, foldercodec.Folder{
			Wire:    mb.Mailbox,
			Display: foldercodec.Decode(mb.Mailbox),
		})
	}
	return folders, nil
}

// Select opens a folder by its wire name.
func (s *Session) Select(wire string) error {
	if _, err := s.client.Select(wire, nil).Wait(); err != nil {
		return err
	}
	s.state = StateSelected
	s.selected = wire
	return nil
}

// SearchUIDRange returns the UIDs of messages whose internal date falls in
// the window, ascending.
func (s *Session) SearchUIDRange(window SearchWindow) ([]uint32, error) {
	criteria := &imap.SearchCriteria{
		Since:  window.After,
		Before: window.Before,
	}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &SearchError{Folder: s.selected, Err: err}
	}

	uids := data.AllUIDs()
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		out = append(out, uint32(uid))
	}
	return out, nil
}

// FetchMessageIDHeader fetches only the Message-ID header field of one
// message, issuing a NOOP keepalive every keepaliveEvery fetches so long
// scans do not idle out.
func (s *Session) FetchMessageIDHeader(uid uint32) ([]byte, error) {
	s.fetchOps++
	if s.keepaliveEvery > 0 && s.fetchOps%s.keepaliveEvery == 0 {
		if err := s.Keepalive(); err != nil {
			s.log.Debug("keepalive failed", "login", s.login, "error", err)
		}
	}

	section := &imap.FetchItemBodySection{
		Specifier:    imap.PartSpecifierHeader,
		HeaderFields: []string{"Message-Id"},
		Peek:         true,
	}
	options := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}

	cmd := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), options)
	defer cmd.Close()

	var header []byte
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			if data, ok := item.(imapclient.FetchItemDataBodySection); ok {
				body, err := io.ReadAll(data.Literal)
				if err != nil {
					return nil, &FetchError{UID: uid, Err: err}
				}
				header = body
			}
		}
	}

	if err := cmd.Close(); err != nil {
		return nil, &FetchError{UID: uid, Err: err}
	}
	return header, nil
}

// MarkDeleted sets \Deleted on one message.
func (s *Session) MarkDeleted(uid uint32) error {
	store := imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}
	if err := s.client.Store(imap.UIDSetNum(imap.UID(uid)), &store, nil).Close(); err != nil {
		return &DeleteError{UID: uid, Err: err}
	}
	return nil
}

// Expunge removes messages flagged \Deleted from the selected folder.
func (s *Session) Expunge() error {
	if err := s.client.Expunge().Close(); err != nil {
		return &DeleteError{Err: err}
	}
	return nil
}

// Keepalive issues a NOOP.
func (s *Session) Keepalive() error {
	return s.client.Noop().Wait()
}

// Close tears the session down best-effort: release the selected folder,
// logout under a short timeout, then force the transport shut. It never
// reports an error because a failed close must not fail the caller's
// overall result.
func (s *Session) Close() {
	if s.client == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		if s.selected != "" {
			_ = s.client.Unselect().Wait()
		}
		_ = s.client.Logout().Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}

	_ = s.client.Close()
	s.client = nil
	s.selected = ""
	s.state = StateClosed
}

func hasAttr(attrs []imap.MailboxAttr, want imap.MailboxAttr) bool {
	for _, attr := range attrs {
		if attr == want {
			return true
		}
	}
	return false
}
