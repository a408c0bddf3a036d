package mock

import (
	"bytes"
	"os"
	"sync"

	"github.com/mailops/mailpurge/internal/report"
)

type MockWriter struct {
	Buffer *bytes.Buffer
	Err    error
}

func (m *MockWriter) Write(p []byte) (int, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Buffer.Write(p)
}

func (m *MockWriter) Flush() error {
	return m.Err
}

type MockFileManager struct {
	Err     error
	Writers map[string]*MockWriter
	Mkdirs  map[string]os.FileMode

	mu sync.Mutex
}

func (m *MockFileManager) Create(name string) (report.Writer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Writers == nil {
		m.Writers = make(map[string]*MockWriter)
	}
	writer := &MockWriter{Buffer: new(bytes.Buffer)}
	m.Writers[name] = writer
	return writer, m.Err
}

func (m *MockFileManager) Close() error {
	return m.Err
}

func (m *MockFileManager) MkdirAll(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Mkdirs == nil {
		m.Mkdirs = make(map[string]os.FileMode)
	}
	m.Mkdirs[path] = perm
	return m.Err
}

// Contents returns the bytes written to the single file whose name contains
// the given fragment, and whether exactly one such file exists.
func (m *MockFileManager) Contents(fragment string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *MockWriter
	count := 0
	for name, writer := range m.Writers {
		if bytes.Contains([]byte(name), []byte(fragment)) {
			found = writer
			count++
		}
	}
	if count != 1 {
		return "", false
	}
	return found.Buffer.String(), true
}
