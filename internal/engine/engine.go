package engine

import (
	"context"
	"log/slog"

	"github.com/mailops/mailpurge/internal/audit"
	"github.com/mailops/mailpurge/internal/foldercodec"
	"github.com/mailops/mailpurge/internal/mailsession"
)

// Engine runs the per-mailbox deletion pipeline: credential, session, folder
// discovery, priority-ordered chunked header scan, mark+expunge, record.
// One Engine is shared by all mailbox workers; it holds no per-mailbox state.
type Engine struct {
	Tokens   TokenSource
	Dialer   Dialer
	Recorder DeletionRecorder
	Log      *slog.Logger

	Mode               audit.Mode
	Window             mailsession.SearchWindow
	ChunkSize          int
	ReconnectThreshold int
	DryRun             bool
}

// Result is one mailbox's outcome. Err set means the mailbox failed as a
// whole; Deleted still counts what happened before the failure.
type Result struct {
	Login   string
	Deleted int
	Err     error
}

// ProcessMailbox hunts the target identifiers in one mailbox. Folder-level
// problems are skipped, UID-level problems are logged and scanned past; only
// credential, connect, and listing failures fail the mailbox.
func (e *Engine) ProcessMailbox(ctx context.Context, login string, ids []string) Result {
	res := Result{Login: login}

	cred, err := e.Tokens.Get(ctx, login)
	if err != nil {
		res.Err = err
		return res
	}
	creds := mailsession.Credentials{Login: login, Token: cred.Token}

	var session Session
	defer func() {
		if session != nil {
			session.Close()
		}
	}()

	session, err = e.Dialer.Dial(ctx, creds)
	if err != nil {
		res.Err = err
		return res
	}

	folders, err := session.ListFolders()
	if err != nil {
		res.Err = err
		return res
	}

	match := newMatcher(ids)
	for _, folder := range orderFolders(folders) {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		deleted, done, err := e.scanFolder(ctx, &session, creds, folder, match)
		res.Deleted += deleted
		if err != nil {
			res.Err = err
			return res
		}
		if done {
			return res
		}
	}
	return res
}

// scanFolder scans one folder in UID-ascending chunks. done means the
// mailbox is finished early (single-message mode found its match). A non-nil
// error means the mailbox can no longer be worked (reconnect failed).
func (e *Engine) scanFolder(ctx context.Context, session *Session, creds mailsession.Credentials, folder foldercodec.Folder, match *matcher) (deleted int, done bool, err error) {
	login := creds.Login

	if err := (*session).Select(folder.Wire); err != nil {
		e.Log.Warn("folder select failed, skipping",
			"login", login, "folder", folder.Display, "error", err)
		return 0, false, nil
	}

	uids, err := (*session).SearchUIDRange(e.Window)
	if err != nil {
		e.Log.Debug("search failed, skipping folder",
			"login", login, "folder", folder.Display, "error", err)
		return 0, false, nil
	}
	if len(uids) == 0 {
		return 0, false, nil
	}

	chunkSize := e.ChunkSize
	if chunkSize < 1 {
		chunkSize = 50
	}

	// Single-message mode reconnects before every chunk; bulk mode only when
	// the folder is large enough for session staleness to bite.
	reconnectPerChunk := e.Mode == audit.ModeMessageID || len(uids) > e.ReconnectThreshold

	for start := 0; start < len(uids); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return deleted, false, err
		}

		if start > 0 && reconnectPerChunk {
			if err := e.reconnect(ctx, session, creds); err != nil {
				return deleted, false, err
			}
			if err := (*session).Select(folder.Wire); err != nil {
				e.Log.Warn("re-select after reconnect failed, skipping rest of folder",
					"login", login, "folder", folder.Display, "error", err)
				return deleted, false, nil
			}
		}

		end := start + chunkSize
		if end > len(uids) {
			end = len(uids)
		}

		for _, uid := range uids[start:end] {
			header, err := (*session).FetchMessageIDHeader(uid)
			if err != nil {
				e.Log.Debug("header fetch failed, continuing",
					"login", login, "folder", folder.Display, "uid", uid, "error", err)
				continue
			}

			id, ok := match.Match(header)
			if !ok {
				continue
			}

			if e.DryRun {
				e.Log.Info("dry run: match found",
					"login", login, "folder", folder.Display, "uid", uid, "message_id", id)
				deleted++
				if e.Mode == audit.ModeMessageID {
					return deleted, true, nil
				}
				continue
			}

			if err := (*session).MarkDeleted(uid); err != nil {
				e.Log.Error("mark-deleted failed, aborting folder",
					"login", login, "folder", folder.Display, "uid", uid, "error", err)
				return deleted, false, nil
			}
			if err := (*session).Expunge(); err != nil {
				e.Log.Error("expunge failed, aborting folder",
					"login", login, "folder", folder.Display, "uid", uid, "error", err)
				return deleted, false, nil
			}

			deleted++
			if e.Recorder != nil {
				if err := e.Recorder.Deletion(login, folder.Display, id); err != nil {
					e.Log.Warn("deletion record write failed", "login", login, "error", err)
				}
			}
			e.Log.Info("message deleted",
				"login", login, "folder", folder.Display, "uid", uid, "message_id", id)

			if e.Mode == audit.ModeMessageID {
				return deleted, true, nil
			}
		}
	}

	return deleted, false, nil
}

func (e *Engine) reconnect(ctx context.Context, session *Session, creds mailsession.Credentials) error {
	(*session).Close()
	*session = nil

	fresh, err := e.Dialer.Dial(ctx, creds)
	if err != nil {
		return err
	}
	*session = fresh
	return nil
}
