package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mailpurge",
	Short: "mailpurge removes a delivered message from every mailbox that received it",
	Long: `mailpurge correlates the organization's mail audit log against its mailboxes
and deletes matching messages. Two modes exist: purge-sender removes
everything one sender delivered inside a time window, purge-message removes
one specific message by its RFC Message-ID.`,
}

// signalContext returns a context cancelled on the first interrupt, so an
// in-flight run stops scheduling new mailboxes instead of being killed
// mid-expunge.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signalContext()
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(purgeSenderCmd)
	rootCmd.AddCommand(purgeMessageCmd)
}
