package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailops/mailpurge/internal/engine"
	"github.com/mailops/mailpurge/pkg/mock"
)

type fakeTarget struct {
	perMailbox map[string][]string
}

func (t fakeTarget) Mailboxes() []string {
	logins := make([]string, 0, len(t.perMailbox))
	for login := range t.perMailbox {
		logins = append(logins, login)
	}
	sort.Strings(logins)
	return logins
}

func (t fakeTarget) IDsFor(login string) []string { return t.perMailbox[login] }

func targetOf(n int) fakeTarget {
	target := fakeTarget{perMailbox: map[string][]string{}}
	for i := 1; i <= n; i++ {
		login := fmt.Sprintf("user%02d@x", i)
		target.perMailbox[login] = []string{fmt.Sprintf("m%d@x", i)}
	}
	return target
}

type fakeProcessor struct {
	process func(ctx context.Context, login string, ids []string) engine.Result

	current atomic.Int64
	peak    atomic.Int64
}

func (p *fakeProcessor) ProcessMailbox(ctx context.Context, login string, ids []string) engine.Result {
	now := p.current.Add(1)
	for {
		peak := p.peak.Load()
		if now <= peak || p.peak.CompareAndSwap(peak, now) {
			break
		}
	}
	defer p.current.Add(-1)

	if p.process != nil {
		return p.process(ctx, login, ids)
	}
	return engine.Result{Login: login, Deleted: len(ids)}
}

func newScheduler(t *testing.T, processor Processor, concurrency, batchSize int) *Scheduler {
	return &Scheduler{
		Engine:      processor,
		Log:         mock.SetupLogger(t),
		Concurrency: concurrency,
		BatchSize:   batchSize,
	}
}

func TestConcurrencyNeverExceedsSemaphoreSize(t *testing.T) {
	const bound = 3
	processor := &fakeProcessor{
		process: func(_ context.Context, login string, ids []string) engine.Result {
			// Fuzzed mix of instant and slow tasks.
			if rand.Intn(2) == 0 {
				time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
			}
			return engine.Result{Login: login, Deleted: len(ids)}
		},
	}

	sched := newScheduler(t, processor, bound, 10)
	stats := sched.Run(context.Background(), targetOf(30))

	assert.Equal(t, 30, stats.Processed)
	assert.LessOrEqual(t, processor.peak.Load(), int64(bound),
		"open sessions must never exceed the configured bound")
}

func TestPartialFailureIsolation(t *testing.T) {
	const mailboxes = 8
	processor := &fakeProcessor{
		process: func(_ context.Context, login string, ids []string) engine.Result {
			if login == "user03@x" {
				return engine.Result{Login: login, Err: errors.New("connect: refused")}
			}
			return engine.Result{Login: login, Deleted: 1}
		},
	}

	sched := newScheduler(t, processor, 2, 4)
	stats := sched.Run(context.Background(), targetOf(mailboxes))

	assert.Equal(t, mailboxes, stats.Processed)
	assert.Equal(t, mailboxes-1, stats.WithDeletions)
	assert.Equal(t, mailboxes-1, stats.Deleted)
	assert.Equal(t, []string{"user03@x"}, stats.FailedLogins())
	assert.Equal(t, "connect: refused", stats.Failed["user03@x"])
}

func TestMailboxWithoutMatchesCountsSeparately(t *testing.T) {
	processor := &fakeProcessor{
		process: func(_ context.Context, login string, _ []string) engine.Result {
			if login == "user01@x" {
				return engine.Result{Login: login, Deleted: 2}
			}
			return engine.Result{Login: login}
		},
	}

	sched := newScheduler(t, processor, 2, 10)
	stats := sched.Run(context.Background(), targetOf(3))

	assert.Equal(t, 1, stats.WithDeletions)
	assert.Equal(t, 2, stats.WithoutDeletions)
	assert.Equal(t, 2, stats.Deleted)
	assert.Empty(t, stats.Failed)
}

func TestCancellationStopsNewBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var processed atomic.Int64
	processor := &fakeProcessor{
		process: func(_ context.Context, login string, _ []string) engine.Result {
			processed.Add(1)
			cancel() // cancel mid-run; later batches must not start
			return engine.Result{Login: login}
		},
	}

	sched := newScheduler(t, processor, 1, 2)
	stats := sched.Run(ctx, targetOf(10))

	require.LessOrEqual(t, stats.Processed, 2, "only the first batch may run")
	assert.Equal(t, int(processed.Load()), stats.Processed)
}

func TestEmptyTargetProducesEmptyStats(t *testing.T) {
	processor := &fakeProcessor{}
	sched := newScheduler(t, processor, 2, 5)

	stats := sched.Run(context.Background(), fakeTarget{perMailbox: map[string][]string{}})
	assert.Zero(t, stats.Processed)
	assert.Empty(t, stats.Failed)
}
