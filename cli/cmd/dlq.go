package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/signalhawk/cli/pkg/output"
	"github.com/telhawk-systems/signalhawk/common/messaging"

	natsclient "github.com/telhawk-systems/signalhawk/common/messaging/nats"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect the dead letter stream",
	Long:  "List, summarise and purge messages that pipeline consumers gave up on",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letters",
	Example: `  sigctl dlq list --limit 20
  sigctl dlq list -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withDeadLetters(cmd, func(q *natsclient.DeadLetterQueue) error {
			letters, err := q.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return output.Render(cmd.OutOrStdout(), outputFormat, letters, deadLetterTable(letters))
		})
	},
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead letter stream statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeadLetters(cmd, func(q *natsclient.DeadLetterQueue) error {
			stats, err := q.Stats(cmd.Context())
			if err != nil {
				return err
			}
			table := output.NewTable("MESSAGES", "BYTES", "FIRST SEQ", "LAST SEQ")
			table.AddRow(
				strconv.FormatUint(stats.Messages, 10),
				strconv.FormatUint(stats.Bytes, 10),
				strconv.FormatUint(stats.FirstSeq, 10),
				strconv.FormatUint(stats.LastSeq, 10),
			)
			return output.Render(cmd.OutOrStdout(), outputFormat, stats, table)
		})
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove dead letters",
	Example: `  sigctl dlq purge --yes
  sigctl dlq purge --consumer dark-signal-decipherer --yes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		consumer, _ := cmd.Flags().GetString("consumer")
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to purge without --yes")
		}

		return withDeadLetters(cmd, func(q *natsclient.DeadLetterQueue) error {
			if err := q.Purge(cmd.Context(), consumer); err != nil {
				return err
			}
			if consumer == "" {
				output.Success("Purged all dead letters")
			} else {
				output.Success("Purged dead letters of %s", consumer)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqStatsCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)

	dlqListCmd.Flags().Int("limit", 100, "Maximum number of dead letters to show")
	dlqPurgeCmd.Flags().String("consumer", "", "Only purge dead letters of this consumer")
	dlqPurgeCmd.Flags().Bool("yes", false, "Confirm the purge")
}

func withDeadLetters(cmd *cobra.Command, fn func(q *natsclient.DeadLetterQueue) error) error {
	prefix := cfg.Pipeline.DeadLetterSubject
	if prefix == "" {
		prefix = messaging.SubjectDeadLetterPrefix
	}

	natsURL, _ := cmd.Flags().GetString("nats-url")
	js, err := connectJetStream(natsURL)
	if err != nil {
		return err
	}
	defer js.Close()

	q, err := js.OpenDeadLetters(cmd.Context(), prefix)
	if err != nil {
		return err
	}
	return fn(q)
}

func deadLetterTable(letters []messaging.DeadLetter) *output.Table {
	table := output.NewTable("TIME", "CONSUMER", "MESSAGE ID", "ATTEMPTS", "ERROR")
	for _, dl := range letters {
		table.AddRow(
			dl.Timestamp.Format(time.RFC3339),
			dl.Consumer,
			orDash(dl.MessageID),
			strconv.FormatUint(dl.Attempts, 10),
			dl.Error,
		)
	}
	return table
}
