package cli

import (
	"github.com/spf13/cobra"

	"github.com/mailops/mailpurge/internal/audit"
)

var purgeMessageCmd = &cobra.Command{
	Use:   "purge-message",
	Short: "Delete one specific message everywhere by its RFC Message-ID",
	RunE: func(cmd *cobra.Command, _ []string) error {
		messageID, err := cmd.Flags().GetString("rfc-message-id")
		if err != nil {
			return err
		}
		date, err := cmd.Flags().GetString("date")
		if err != nil {
			return err
		}
		dryRun, err := cmd.Flags().GetBool("dry-run")
		if err != nil {
			return err
		}
		reportDir, err := cmd.Flags().GetString("report-dir")
		if err != nil {
			return err
		}

		start, end, err := dayWindow(date)
		if err != nil {
			return err
		}

		return runPurge(cmd, runParams{
			mode:        audit.ModeMessageID,
			messageID:   messageID,
			windowStart: start,
			windowEnd:   end,
			dryRun:      dryRun,
			reportDir:   reportDir,
		})
	},
}

func init() {
	purgeMessageCmd.Flags().String("rfc-message-id", "", "Message-ID of the message to purge")
	purgeMessageCmd.Flags().String("date", "", "Delivery date, DD-MM-YYYY (UTC+3)")
	purgeMessageCmd.Flags().Bool("dry-run", false, "Correlate and scan without deleting")
	purgeMessageCmd.Flags().String("report-dir", "reports", "Directory for run artifacts")

	for _, flag := range []string{"rfc-message-id", "date"} {
		_ = purgeMessageCmd.MarkFlagRequired(flag)
	}
}
