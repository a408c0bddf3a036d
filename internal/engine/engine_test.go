package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailops/mailpurge/internal/audit"
	"github.com/mailops/mailpurge/internal/auth"
	"github.com/mailops/mailpurge/internal/foldercodec"
	"github.com/mailops/mailpurge/internal/mailsession"
	"github.com/mailops/mailpurge/pkg/mock"
)

type fakeTokens struct {
	err   error
	calls int
}

func (f *fakeTokens) Get(_ context.Context, login string) (auth.Credential, error) {
	f.calls++
	if f.err != nil {
		return auth.Credential{}, f.err
	}
	return auth.Credential{Login: login, Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// fakeSession serves folders out of an in-memory store shared across
// reconnects of the same fake dialer.
type fakeStore struct {
	folders   []foldercodec.Folder
	headers   map[string]map[uint32]string // folder wire -> uid -> header block
	selectErr map[string]error
	fetchErr  map[uint32]error
	markErr   map[uint32]error

	mu       sync.Mutex
	deleted  []string // "wire/uid"
	expunges int
	fetches  map[string]int // folder wire -> fetch count
}

func newFakeStore(folders ...string) *fakeStore {
	fs := &fakeStore{
		headers: map[string]map[uint32]string{},
		fetches: map[string]int{},
	}
	for _, name := range folders {
		fs.folders = append(fs.folders, foldercodec.Folder{Wire: name, Display: name})
		fs.headers[name] = map[uint32]string{}
	}
	return fs
}

func (fs *fakeStore) add(folder string, uid uint32, messageID string) {
	fs.headers[folder][uid] = fmt.Sprintf("Message-Id: %s\r\n\r\n", messageID)
}

type fakeSession struct {
	store    *fakeStore
	selected string
	closed   bool
}

func (s *fakeSession) ListFolders() ([]foldercodec.Folder, error) {
	return s.store.folders, nil
}

func (s *fakeSession) Select(wire string) error {
	if err := s.store.selectErr[wire]; err != nil {
		return err
	}
	s.selected = wire
	return nil
}

func (s *fakeSession) SearchUIDRange(mailsession.SearchWindow) ([]uint32, error) {
	uids := make([]uint32, 0, len(s.store.headers[s.selected]))
	for uid := range s.store.headers[s.selected] {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *fakeSession) FetchMessageIDHeader(uid uint32) ([]byte, error) {
	s.store.mu.Lock()
	s.store.fetches[s.selected]++
	s.store.mu.Unlock()
	if err := s.store.fetchErr[uid]; err != nil {
		return nil, err
	}
	return []byte(s.store.headers[s.selected][uid]), nil
}

func (s *fakeSession) MarkDeleted(uid uint32) error {
	if err := s.store.markErr[uid]; err != nil {
		return err
	}
	s.store.mu.Lock()
	s.store.deleted = append(s.store.deleted, fmt.Sprintf("%s/%d", s.selected, uid))
	s.store.mu.Unlock()
	delete(s.store.headers[s.selected], uid)
	return nil
}

func (s *fakeSession) Expunge() error {
	s.store.mu.Lock()
	s.store.expunges++
	s.store.mu.Unlock()
	return nil
}

func (s *fakeSession) Close() { s.closed = true }

type fakeDialer struct {
	store   *fakeStore
	dialErr error
	dials   int
}

func (d *fakeDialer) Dial(context.Context, mailsession.Credentials) (Session, error) {
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return &fakeSession{store: d.store}, nil
}

type recordedDeletion struct {
	Mailbox, Folder, MessageID string
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []recordedDeletion
}

func (r *fakeRecorder) Deletion(mailbox, folder, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, recordedDeletion{mailbox, folder, messageID})
	return nil
}

func newEngine(t *testing.T, dialer Dialer, mode audit.Mode) (*Engine, *fakeRecorder) {
	recorder := &fakeRecorder{}
	return &Engine{
		Tokens:             &fakeTokens{},
		Dialer:             dialer,
		Recorder:           recorder,
		Log:                mock.SetupLogger(t),
		Mode:               mode,
		ChunkSize:          50,
		ReconnectThreshold: 400,
	}, recorder
}

func TestAtMostOneDeletionInMessageIDMode(t *testing.T) {
	store := newFakeStore("INBOX", "Archive")
	store.add("INBOX", 1, "<target@x>")
	store.add("Archive", 7, "<target@x>")
	dialer := &fakeDialer{store: store}

	engine, recorder := newEngine(t, dialer, audit.ModeMessageID)
	res := engine.ProcessMailbox(context.Background(), "alice@x", []string{"target@x"})

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{"INBOX/1"}, store.deleted)
	assert.Zero(t, store.fetches["Archive"], "engine must stop scanning after the first match")
	require.Len(t, recorder.records, 1)
	assert.Equal(t, recordedDeletion{"alice@x", "INBOX", "target@x"}, recorder.records[0])
}

func TestBulkModeDeletesAllTargetsAcrossFolders(t *testing.T) {
	store := newFakeStore("INBOX", "Archive")
	store.add("INBOX", 1, "<m1@x>")
	store.add("INBOX", 2, "<other@x>")
	store.add("Archive", 3, "<m2@x>")
	dialer := &fakeDialer{store: store}

	engine, recorder := newEngine(t, dialer, audit.ModeSender)
	res := engine.ProcessMailbox(context.Background(), "alice@x", []string{"m1@x", "m2@x"})

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Deleted)
	assert.ElementsMatch(t, []string{"INBOX/1", "Archive/3"}, store.deleted)
	assert.Len(t, recorder.records, 2)
}

func TestPriorityFoldersScanFirst(t *testing.T) {
	folders := []foldercodec.Folder{
		{Display: "Archive"},
		{Display: "Входящие папка INBOX"},
		{Display: "Отправленные"},
		{Display: "Photos"},
		{Display: "Спам junk"},
	}
	ordered := orderFolders(folders)
	displays := make([]string, 0, len(ordered))
	for _, folder := range ordered {
		displays = append(displays, folder.Display)
	}
	assert.Equal(t, []string{
		"Входящие папка INBOX", "Отправленные", "Спам junk",
		"Archive", "Photos",
	}, displays)
}

func TestSelectFailureSkipsFolderNotMailbox(t *testing.T) {
	store := newFakeStore("Broken", "INBOX")
	store.add("INBOX", 4, "<m1@x>")
	store.selectErr = map[string]error{"Broken": errors.New("select refused")}
	dialer := &fakeDialer{store: store}

	engine, _ := newEngine(t, dialer, audit.ModeSender)
	res := engine.ProcessMailbox(context.Background(), "alice@x", []string{"m1@x"})

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Deleted)
}

func TestFetchFailureContinuesWithNextUID(t *testing.T) {
	store := newFakeStore("INBOX")
	store.add("INBOX", 1, "<m1@x>")
	store.add("INBOX", 2, "<m2@x>")
	store.fetchErr = map[uint32]error{1: errors.New("fetch timeout")}
	dialer := &fakeDialer{store: store}

	engine, _ := newEngine(t, dialer, audit.ModeSender)
	res := engine.ProcessMailbox(context.Background(), "alice@x", []string{"m1@x", "m2@x"})

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{"INBOX/2"}, store.deleted)
}

func TestMarkDeletedFailureAbortsFolderOnly(t *testing.T) {
	store := newFakeStore("INBOX", "Archive")
	store.add("INBOX", 1, "<m1@x>")
	store.add("INBOX", 2, "<m2@x>")
	store.add("Archive", 3, "<m3@x>")
	store.markErr = map[uint32]error{1: errors.New("store rejected")}
	dialer := &fakeDialer{store: store}

	engine, _ := newEngine(t, dialer, audit.ModeSender)
	res := engine.ProcessMailbox(context.Background(), "alice@x",
		[]string{"m1@x", "m2@x", "m3@x"})

	require.NoError(t, res.Err)
	// UID 2 is never reached: the folder aborts on the failed mark, but the
	// next folder still gets its scan.
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{"Archive/3"}, store.deleted)
}

func TestTokenFailureFailsMailbox(t *testing.T) {
	dialer := &fakeDialer{store: newFakeStore("INBOX")}
	engine, _ := newEngine(t, dialer, audit.ModeSender)
	engine.Tokens = &fakeTokens{err: &auth.TokenError{Login: "alice@x", Err: errors.New("401")}}

	res := engine.ProcessMailbox(context.Background(), "alice@x", []string{"m1@x"})
	require.Error(t, res.Err)

	var tokenErr *auth.TokenError
	assert.ErrorAs(t, res.Err, &tokenErr)
	assert.Zero(t, dialer.dials, "no connection may open without a credential")
}

func TestDialFailureFailsMailbox(t *testing.T) {
	dialer := &fakeDialer{store: newFakeStore("INBOX"), dialErr: errors.New("refused")}
	engine, _ := newEngine(t, dialer, audit.ModeSender)

	res := engine.ProcessMailbox(context.Background(), "alice@x", []string{"m1@x"})
	require.Error(t, res.Err)
	assert.Zero(t, res.Deleted)
}

func TestSingleMessageModeReconnectsPerChunk(t *testing.T) {
	store := newFakeStore("INBOX")
	store.add("INBOX", 1, "<miss1@x>")
	store.add("INBOX", 2, "<miss2@x>")
	store.add("INBOX", 3, "<target@x>")
	dialer := &fakeDialer{store: store}

	engine, _ := newEngine(t, dialer, audit.ModeMessageID)
	engine.ChunkSize = 1

	res := engine.ProcessMailbox(context.Background(), "alice@x", []string{"target@x"})
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 3, dialer.dials, "initial dial plus one reconnect per later chunk")
}

func TestBulkModeReconnectsOnlyAboveThreshold(t *testing.T) {
	store := newFakeStore("INBOX")
	for uid := uint32(1); uid <= 6; uid++ {
		store.add("INBOX", uid, fmt.Sprintf("<m%d@x>", uid))
	}
	dialer := &fakeDialer{store: store}

	engine, _ := newEngine(t, dialer, audit.ModeSender)
	engine.ChunkSize = 2
	engine.ReconnectThreshold = 10

	res := engine.ProcessMailbox(context.Background(), "alice@x", []string{"nomatch@x"})
	require.NoError(t, res.Err)
	assert.Equal(t, 1, dialer.dials, "below threshold bulk scans reuse one session")

	engine.ReconnectThreshold = 5
	res = engine.ProcessMailbox(context.Background(), "alice@x", []string{"nomatch@x"})
	require.NoError(t, res.Err)
	assert.Equal(t, 1+3, dialer.dials, "above threshold each later chunk reconnects")
}

func TestDryRunCountsWithoutDeleting(t *testing.T) {
	store := newFakeStore("INBOX")
	store.add("INBOX", 1, "<m1@x>")
	dialer := &fakeDialer{store: store}

	engine, recorder := newEngine(t, dialer, audit.ModeSender)
	engine.DryRun = true

	res := engine.ProcessMailbox(context.Background(), "alice@x", []string{"m1@x"})
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Deleted)
	assert.Empty(t, store.deleted)
	assert.Zero(t, store.expunges)
	assert.Empty(t, recorder.records)
}

func TestCancelledContextStopsScan(t *testing.T) {
	store := newFakeStore("INBOX")
	store.add("INBOX", 1, "<m1@x>")
	dialer := &fakeDialer{store: store}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine, _ := newEngine(t, dialer, audit.ModeSender)
	res := engine.ProcessMailbox(ctx, "alice@x", []string{"m1@x"})
	require.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, store.deleted)
}

func TestMatcherToleratesCasingAndBrackets(t *testing.T) {
	match := newMatcher([]string{"<id@x>"})

	headers := []string{
		"Message-ID: id@x\r\n\r\n",
		"Message-Id: <id@x>\r\n\r\n",
		"MESSAGE-ID: <ID@X>\r\n\r\n",
		"<id@x>",
		"id@x",
	}
	for _, header := range headers {
		id, ok := match.Match([]byte(header))
		assert.True(t, ok, "header %q must match", header)
		assert.Equal(t, "id@x", id)
	}

	_, ok := match.Match([]byte("Message-Id: <other@x>\r\n\r\n"))
	assert.False(t, ok)
	_, ok = match.Match(nil)
	assert.False(t, ok)
}
