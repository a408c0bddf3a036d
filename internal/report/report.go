package report

import (
	"bufio"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type Writer interface {
	Write(p []byte) (n int, err error)
	Flush() error
}

type FileManager interface {
	Close() error
	Create(name string) (Writer, error)
	MkdirAll(path string, perm os.FileMode) error
}

// OSFileManager backs Writers with buffered files on disk and flushes and
// closes all of them on Close.
type OSFileManager struct {
	files   []*os.File
	writers []*bufio.Writer
}

func (m *OSFileManager) Create(name string) (Writer, error) {
	outfile, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	writer := bufio.NewWriter(outfile)
	m.files = append(m.files, outfile)
	m.writers = append(m.writers, writer)
	return writer, nil
}

func (m *OSFileManager) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (m *OSFileManager) Close() error {
	var firstErr error
	for _, writer := range m.writers {
		if err := writer.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, file := range m.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Recorder writes the two run artifacts: a deleted-records file listing
// every removed message and a failed-mailboxes file listing mailboxes the
// run could not process, with reasons. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	manager FileManager
	deleted *csv.Writer
	failed  *csv.Writer
	now     func() time.Time

	deletedCount int
	failedCount  int
}

// NewRecorder creates the artifact files under dir, named after the run
// start time.
func NewRecorder(manager FileManager, dir string) (*Recorder, error) {
	return newRecorderAt(manager, dir, time.Now)
}

func newRecorderAt(manager FileManager, dir string, now func() time.Time) (*Recorder, error) {
	if err := manager.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create report directory")
	}

	stamp := now().UTC().Format("20060102T150405Z")

	deletedFile, err := manager.Create(filepath.Join(dir, "deleted_records_"+stamp+".csv"))
	if err != nil {
		return nil, errors.Wrap(err, "create deleted-records file")
	}
	failedFile, err := manager.Create(filepath.Join(dir, "failed_mailboxes_"+stamp+".csv"))
	if err != nil {
		return nil, errors.Wrap(err, "create failed-mailboxes file")
	}

	recorder := &Recorder{
		manager: manager,
		deleted: csv.NewWriter(deletedFile),
		failed:  csv.NewWriter(failedFile),
		now:     now,
	}
	if err := recorder.deleted.Write([]string{"timestamp", "mailbox", "folder", "message_id"}); err != nil {
		return nil, err
	}
	if err := recorder.failed.Write([]string{"timestamp", "mailbox", "reason"}); err != nil {
		return nil, err
	}
	return recorder, nil
}

// Deletion appends one deleted-message record.
func (r *Recorder) Deletion(mailbox, folder, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletedCount++
	return r.deleted.Write([]string{
		r.now().UTC().Format(time.RFC3339),
		mailbox,
		folder,
		messageID,
	})
}

// Failure appends one failed-mailbox record.
func (r *Recorder) Failure(mailbox, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedCount++
	return r.failed.Write([]string{
		r.now().UTC().Format(time.RFC3339),
		mailbox,
		reason,
	})
}

// Counts reports how many records of each kind were written.
func (r *Recorder) Counts() (deleted, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deletedCount, r.failedCount
}

// Close flushes both artifacts and closes the underlying files.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleted.Flush()
	r.failed.Flush()
	if err := r.deleted.Error(); err != nil {
		return err
	}
	if err := r.failed.Error(); err != nil {
		return err
	}
	return r.manager.Close()
}
