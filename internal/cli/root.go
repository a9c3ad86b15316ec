package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prwatch/prwatch/internal/config"
	"github.com/prwatch/prwatch/internal/logging"
)

var (
	verbose   bool
	appConfig *config.Config

	rootCmd = &cobra.Command{
		Use:   "prwatch",
		Short: "Pull request CI and automated review monitor",
		Long: `Prwatch polls a pull request until CI and automated review conclude.

It rebases behind branches, retries errored Copilot reviews, recreates
PRs with stuck reviewers, and reports a single terminal result.`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Setup(verbose)
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		appConfig = cfg
		return nil
	}
}

func Execute() error {
	return rootCmd.Execute()
}
