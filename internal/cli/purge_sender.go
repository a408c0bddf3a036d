package cli

import (
	"github.com/spf13/cobra"

	"github.com/mailops/mailpurge/internal/audit"
)

var purgeSenderCmd = &cobra.Command{
	Use:   "purge-sender",
	Short: "Delete every message one sender delivered inside a time window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sender, err := cmd.Flags().GetString("from")
		if err != nil {
			return err
		}
		date, err := cmd.Flags().GetString("date")
		if err != nil {
			return err
		}
		timeFrom, err := cmd.Flags().GetString("time-from")
		if err != nil {
			return err
		}
		timeTo, err := cmd.Flags().GetString("time-to")
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

		start, end, err := senderWindow(date, timeFrom, timeTo)
		if err != nil {
			return err
		}

		return runPurge(cmd, runParams{
			mode:        audit.ModeSender,
			sender:      sender,
			windowStart: start,
			windowEnd:   end,
			dryRun:      dryRun,
			reportDir:   reportDir,
		})
	},
}

func init() {
	purgeSenderCmd.Flags().String("from", "", "Sender email address to purge")
	purgeSenderCmd.Flags().String("date", "", "Delivery date, DD-MM-YYYY (UTC+3)")
	purgeSenderCmd.Flags().String("time-from", "", "Window start, HH:MM:SS (UTC+3)")
	purgeSenderCmd.Flags().String("time-to", "", "Window end, HH:MM:SS (UTC+3)")
	purgeSenderCmd.Flags().Bool("dry-run", false, "Correlate and scan without deleting")
	purgeSenderCmd.Flags().String("report-dir", "reports", "Directory for run artifacts")

	for _, flag := range []string{"from", "date", "time-from", "time-to"} {
		_ = purgeSenderCmd.MarkFlagRequired(flag)
	}
}
