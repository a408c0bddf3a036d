package engine

import (
	"context"

	"github.com/mailops/mailpurge/internal/auth"
	"github.com/mailops/mailpurge/internal/foldercodec"
	"github.com/mailops/mailpurge/internal/mailsession"
)

// Session is the slice of mailbox-session behavior the engine drives.
// *mailsession.Session satisfies it.
type Session interface {
	ListFolders() ([]foldercodec.Folder, error)
	Select(wire string) error
	SearchUIDRange(window mailsession.SearchWindow) ([]uint32, error)
	FetchMessageIDHeader(uid uint32) ([]byte, error)
	MarkDeleted(uid uint32) error
	Expunge() error
	Close()
}

// Dialer opens sessions. Wraps *mailsession.Dialer in production; tests
// substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, creds mailsession.Credentials) (Session, error)
}

// TokenSource supplies per-mailbox credentials. *auth.Broker satisfies it.
type TokenSource interface {
	Get(ctx context.Context, login string) (auth.Credential, error)
}

// DeletionRecorder receives one record per removed message.
// *report.Recorder satisfies it.
type DeletionRecorder interface {
	Deletion(mailbox, folder, messageID string) error
}

type imapDialer struct {
	inner *mailsession.Dialer
}

// NewIMAPDialer adapts a mailsession.Dialer to the engine's Dialer port.
func NewIMAPDialer(d *mailsession.Dialer) Dialer {
	return imapDialer{inner: d}
}

func (d imapDialer) Dial(ctx context.Context, creds mailsession.Credentials) (Session, error) {
	return d.inner.Dial(ctx, creds)
}
