package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/prwatch/prwatch/internal/eventlog"
)

var (
	eventsPR    string
	eventsLimit int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recorded monitor events",
	Long: `Display events from past monitor runs, newest first.

Events are recorded to a local SQLite database as runs progress.`,
	Example: `  prwatch events
  prwatch events --pr myorg/myrepo#42 --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := eventlog.Open(appConfig.EventLog.Path)
		if err != nil {
			return fmt.Errorf("opening event log: %w", err)
		}
		defer log.Close()

		entries, err := log.List(cmd.Context(), eventsPR, eventsLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events recorded. Run: prwatch monitor <pr>")
			return nil
		}

		headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
		cellStyle := lipgloss.NewStyle().Padding(0, 1)

		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				e.CreatedAt.Local().Format(time.DateTime),
				e.PR,
				e.Type.String(),
				e.Message,
			})
		}

		t := table.New().
			Border(lipgloss.RoundedBorder()).
			Headers("TIME", "PR", "TYPE", "MESSAGE").
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			}).
			Rows(rows...)

		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return nil
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsPR, "pr", "", "Filter to one pull request (owner/repo#number)")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "Maximum events to show")
	rootCmd.AddCommand(eventsCmd)
}
