package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mailops/mailpurge/internal/audit"
	"github.com/mailops/mailpurge/internal/auth"
	"github.com/mailops/mailpurge/internal/config"
	"github.com/mailops/mailpurge/internal/engine"
	"github.com/mailops/mailpurge/internal/mailsession"
	"github.com/mailops/mailpurge/internal/report"
	"github.com/mailops/mailpurge/internal/scheduler"
	"github.com/mailops/mailpurge/internal/telemetry"
)

const defaultEnvFile = ".env"

type runParams struct {
	mode      audit.Mode
	sender    string
	messageID string

	windowStart time.Time // UTC, inclusive
	windowEnd   time.Time // UTC, inclusive

	dryRun    bool
	reportDir string
}

func runPurge(cmd *cobra.Command, params runParams) error {
	if err := loadEnvFile(); err != nil {
		return err
	}
	env, err := config.FromEnv()
	if err != nil {
		return err
	}
	tun, err := config.LoadTunables()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger, shutdown, err := telemetry.Setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = shutdown(context.Background())
	}()

	correlator := &audit.Correlator{
		Client: audit.NewClient(env.AuditBaseURL, env.OrgID, env.AdminToken, tun.PageSize),
		Log:    logger,
	}

	var target *audit.Target
	switch params.mode {
	case audit.ModeMessageID:
		target, err = correlator.FetchByMessageID(ctx, audit.MessageIDFilter{
			MessageID:       params.messageID,
			After:           params.windowStart,
			Before:          params.windowEnd,
			SharedMailboxes: env.SharedMailboxes,
		})
	default:
		target, err = correlator.FetchBySender(ctx, audit.SenderFilter{
			Sender: params.sender,
			From:   params.windowStart,
			To:     params.windowEnd,
		})
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printScanSummary(out, params, target)

	if target.Empty() {
		fmt.Fprintln(out, "Nothing to delete.")
		return nil
	}

	if params.dryRun {
		fmt.Fprintln(out, "Dry run: scanning mailboxes without deleting.")
	} else if err := confirm(cmd.InOrStdin(), out); err != nil {
		// The statistics block is printed on every outcome, aborted runs
		// included, so operators always see that nothing was touched.
		printStats(out, params, scheduler.Stats{})
		return err
	}

	recorder, err := report.NewRecorder(&report.OSFileManager{}, params.reportDir)
	if err != nil {
		return err
	}

	chunkSize := tun.ChunkSizeBulk
	if params.mode == audit.ModeMessageID {
		chunkSize = tun.ChunkSizeSingle
	}

	eng := &engine.Engine{
		Tokens: auth.NewBroker(env.TokenURL, env.ClientID, env.ClientSecret, logger),
		Dialer: engine.NewIMAPDialer(&mailsession.Dialer{
			Addr:           env.IMAPAddr,
			Attempts:       tun.ConnectAttempts,
			ConnectTimeout: tun.ConnectTimeout,
			AuthTimeout:    tun.AuthTimeout,
			KeepaliveEvery: tun.KeepaliveEvery,
			Log:            logger,
		}),
		Recorder:           recorder,
		Log:                logger,
		Mode:               params.mode,
		Window:             searchWindow(params.windowStart, params.windowEnd),
		ChunkSize:          chunkSize,
		ReconnectThreshold: tun.ReconnectThreshold,
		DryRun:             params.dryRun,
	}

	sched := &scheduler.Scheduler{
		Engine:      eng,
		Log:         logger,
		Concurrency: tun.Concurrency,
		BatchSize:   tun.BatchSize,
		BatchPause:  tun.BatchPause,
		Stagger:     tun.Stagger,
	}

	stats := sched.Run(ctx, target)

	for _, login := range stats.FailedLogins() {
		if err := recorder.Failure(login, stats.Failed[login]); err != nil {
			logger.Warn("failure record write failed", "login", login, "error", err)
		}
	}
	if err := recorder.Close(); err != nil {
		logger.Warn("report close failed", "error", err)
	}

	printStats(out, params, stats)
	return nil
}

func printScanSummary(out io.Writer, params runParams, target *audit.Target) {
	fmt.Fprintln(out, "Scan summary")
	fmt.Fprintln(out, "------------")
	switch params.mode {
	case audit.ModeMessageID:
		fmt.Fprintf(out, "Message-ID:     %s\n", target.MessageID)
		if target.Subject != "" {
			fmt.Fprintf(out, "Subject:        %s\n", target.Subject)
		}
	default:
		fmt.Fprintf(out, "Sender:         %s\n", params.sender)
	}
	fmt.Fprintf(out, "Window (UTC):   %s .. %s\n",
		params.windowStart.Format(time.RFC3339), params.windowEnd.Format(time.RFC3339))
	fmt.Fprintf(out, "Audit events:   %d\n", target.EventCount())
	fmt.Fprintf(out, "Mailboxes:      %d\n", len(target.Mailboxes()))

	if subjects := target.SampleSubjects(); len(subjects) > 0 {
		fmt.Fprintln(out, "Sample subjects:")
		for _, subject := range subjects {
			fmt.Fprintf(out, "  - %s\n", subject)
		}
	}

	if logins := target.Mailboxes(); len(logins) > 0 {
		fmt.Fprintln(out, "Recipient distribution:")
		const maxShown = 10
		for i, login := range logins {
			if i == maxShown {
				fmt.Fprintf(out, "  ... and %d more\n", len(logins)-maxShown)
				break
			}
			fmt.Fprintf(out, "  %-40s %d message(s)\n", login, len(target.IDsFor(login)))
		}
	}
}

// confirm is the manual circuit-breaker in front of irreversible deletion:
// the operator must type exactly "yes".
func confirm(in io.Reader, out io.Writer) error {
	fmt.Fprint(out, "\nDeletion is irreversible. Type \"yes\" to proceed: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if strings.TrimSpace(line) != "yes" {
		return errors.New("aborted: confirmation not given")
	}
	return nil
}

func printStats(out io.Writer, params runParams, stats scheduler.Stats) {
	verb := "deleted"
	if params.dryRun {
		verb = "matched (dry run)"
	}
	fmt.Fprintln(out, "\nRun statistics")
	fmt.Fprintln(out, "--------------")
	fmt.Fprintf(out, "Mailboxes processed:  %d\n", stats.Processed)
	fmt.Fprintf(out, "Successful:           %d\n", stats.Processed-len(stats.Failed))
	fmt.Fprintf(out, "Failed:               %d\n", len(stats.Failed))
	fmt.Fprintf(out, "With matches:         %d\n", stats.WithDeletions)
	fmt.Fprintf(out, "Without matches:      %d\n", stats.WithoutDeletions)
	fmt.Fprintf(out, "Messages %s: %d\n", verb, stats.Deleted)

	for _, login := range stats.FailedLogins() {
		fmt.Fprintf(out, "  failed: %s: %s\n", login, stats.Failed[login])
	}
	if len(stats.Failed) > 0 {
		fmt.Fprintf(out, "Failed mailboxes saved under %s for retry.\n", params.reportDir)
	}
}

func loadEnvFile() error {
	if _, err := os.Stat(defaultEnvFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(defaultEnvFile)
}
