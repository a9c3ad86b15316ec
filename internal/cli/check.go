package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prwatch/prwatch/internal/forge"
	"github.com/prwatch/prwatch/internal/monitor"
)

var checkPrevious []string

var checkCmd = &cobra.Command{
	Use:   "check <pr>",
	Short: "Inspect a pull request once without looping",
	Long: `Fetch the PR's state a single time and report merge readiness, CI
status, and outstanding automated reviewers.

Pass --previous with the reviewer list from an earlier check to detect
a review that errored between inspections.`,
	Example: `  prwatch check 42
  prwatch check myorg/myrepo#42 --previous Copilot`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pr, err := forge.ParsePR(args[0], appConfig.Forge.Owner, appConfig.Forge.Repo)
		if err != nil {
			return err
		}

		fg, err := buildForge()
		if err != nil {
			return err
		}

		m := monitor.New(fg, nil, monitorConfig())
		report, err := m.CheckOnce(ctx, pr, checkPrevious)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n", pr.String())
		fmt.Fprintf(out, "  merge:  %s\n", report.State.Merge.String())
		fmt.Fprintf(out, "  checks: %s\n", report.State.Checks.String())
		if len(report.Pending) > 0 {
			fmt.Fprintf(out, "  pending reviewers: %s\n", strings.Join(report.Pending, ", "))
		} else {
			fmt.Fprintln(out, "  pending reviewers: none")
		}
		if report.Event != nil {
			fmt.Fprintf(out, "  %s: %s\n", report.Event.Type.String(), report.Event.Message)
			if report.Event.SuggestedAction != "" {
				fmt.Fprintf(out, "  suggested: %s\n", report.Event.SuggestedAction)
			}
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringSliceVar(&checkPrevious, "previous", nil, "Reviewer list from the previous check")
	rootCmd.AddCommand(checkCmd)
}
