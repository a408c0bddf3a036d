package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mailops/mailpurge/internal/engine"
)

// Processor handles one mailbox end to end. *engine.Engine satisfies it.
type Processor interface {
	ProcessMailbox(ctx context.Context, login string, ids []string) engine.Result
}

// TargetSet is the read-only deletion target the run works from.
// *audit.Target satisfies it.
type TargetSet interface {
	Mailboxes() []string
	IDsFor(login string) []string
}

// Stats aggregates per-mailbox outcomes for the final summary. All fields
// are totals across the run; Failed maps login to a reason string.
type Stats struct {
	Processed        int
	Deleted          int
	WithDeletions    int
	WithoutDeletions int
	Failed           map[string]string
}

// FailedLogins returns the failed mailboxes in stable sorted order.
func (s *Stats) FailedLogins() []string {
	logins := make([]string, 0, len(s.Failed))
	for login := range s.Failed {
		logins = append(logins, login)
	}
	sort.Strings(logins)
	return logins
}

// Scheduler runs mailboxes in fixed-size batches. Within a batch each
// mailbox gets its own goroutine, admission-controlled by a weighted
// semaphore so no more than Concurrency sessions are open at once. A small
// startup stagger keeps connection attempts from landing together, and an
// inter-batch pause gives the remote service room to breathe.
type Scheduler struct {
	Engine      Processor
	Log         *slog.Logger
	Concurrency int
	BatchSize   int
	BatchPause  time.Duration
	Stagger     time.Duration
}

// Run processes every mailbox in the target and returns run-wide statistics.
// Cancellation stops new tasks from starting; tasks already running finish
// or fail on their own context checks.
func (s *Scheduler) Run(ctx context.Context, target TargetSet) Stats {
	logins := target.Mailboxes()
	stats := Stats{Failed: map[string]string{}}
	var mu sync.Mutex

	concurrency := s.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	batchSize := s.BatchSize
	if batchSize < 1 {
		batchSize = len(logins)
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	runStart := time.Now()

	for batchStart := 0; batchStart < len(logins); batchStart += batchSize {
		if ctx.Err() != nil {
			break
		}

		batchEnd := batchStart + batchSize
		if batchEnd > len(logins) {
			batchEnd = len(logins)
		}
		batch := logins[batchStart:batchEnd]
		batchNum := batchStart/batchSize + 1
		batchStartTime := time.Now()

		var wg sync.WaitGroup
		for i, login := range batch {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			go func(index int, login string) {
				defer wg.Done()

				stagger := s.Stagger * time.Duration(index%concurrency)
				if !sleepCtx(ctx, stagger) {
					return
				}
				if err := sem.Acquire(ctx, 1); err != nil {
					return
				}
				defer sem.Release(1)

				res := s.Engine.ProcessMailbox(ctx, login, target.IDsFor(login))

				mu.Lock()
				stats.Processed++
				stats.Deleted += res.Deleted
				switch {
				case res.Err != nil:
					stats.Failed[login] = res.Err.Error()
				case res.Deleted > 0:
					stats.WithDeletions++
				default:
					stats.WithoutDeletions++
				}
				mu.Unlock()
			}(i, login)
		}
		wg.Wait()

		mu.Lock()
		s.Log.Info("batch complete",
			"batch", batchNum,
			"mailboxes", len(batch),
			"batch_elapsed", time.Since(batchStartTime).Round(time.Millisecond),
			"run_elapsed", time.Since(runStart).Round(time.Millisecond),
			"deleted_total", stats.Deleted,
			"failed_total", len(stats.Failed),
		)
		mu.Unlock()

		if batchEnd < len(logins) && !sleepCtx(ctx, s.BatchPause) {
			break
		}
	}

	return stats
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
