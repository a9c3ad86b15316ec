package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/prwatch/prwatch/internal/config"
	"github.com/prwatch/prwatch/internal/dashboard"
	"github.com/prwatch/prwatch/internal/eventlog"
	"github.com/prwatch/prwatch/internal/forge"
	ghbackend "github.com/prwatch/prwatch/internal/forge/github"
	"github.com/prwatch/prwatch/internal/monitor"
	"github.com/prwatch/prwatch/internal/notify"
	"github.com/prwatch/prwatch/internal/repo"
)

var (
	monitorTimeout   time.Duration
	monitorEarlyExit bool
	monitorDashboard bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor <pr>",
	Short: "Monitor a pull request until CI and review conclude",
	Long: `Poll a pull request until CI and automated review reach a terminal
state.

The PR may be a bare number (resolved against forge.owner and
forge.repo from config), owner/repo#number, or a full URL. Behind
branches are rebased from the local checkout; errored Copilot reviews
are re-requested up to the retry bound; a reviewer pending past the
timeout gets the PR recreated once.`,
	Example: `  prwatch monitor 42
  prwatch monitor myorg/myrepo#42 --early-exit
  prwatch monitor https://github.com/myorg/myrepo/pull/42 --timeout 2h`,
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

		var git monitor.GitClient
		if root := config.RepoRoot(); root != "" {
			git = repo.NewGit(root)
		} else {
			slog.Warn("not in a git repository, rebase support disabled")
		}

		m := monitor.New(fg, git, monitorConfig())
		m.Checkpoints = monitor.NewFileCheckpoints("")

		sinks := []monitor.EventSink{}
		log, err := eventlog.Open(appConfig.EventLog.Path)
		if err != nil {
			slog.Warn("event log unavailable", "error", err)
		} else {
			defer log.Close()
			sinks = append(sinks, log)
		}

		if monitorDashboard {
			var history dashboard.HistorySource
			if log != nil {
				history = historyAdapter{log: log}
			}
			bridge := dashboard.NewBridge(history)
			sinks = append(sinks, bridge)
			srv := dashboard.NewServer(bridge)
			go func() {
				if err := srv.Start(ctx, appConfig.Dashboard.Port); err != nil {
					slog.Warn("dashboard server stopped", "error", err)
				}
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "Dashboard: http://127.0.0.1:%d\n", appConfig.Dashboard.Port)
		}

		if len(sinks) > 0 {
			m.Events = monitor.MultiSink(sinks...)
		}

		result := m.Run(ctx, pr, monitor.Options{
			Timeout:   monitorTimeout,
			EarlyExit: monitorEarlyExit,
		})

		renderResult(cmd, pr, result)
		sendNotification(ctx, fg, pr, result)

		if next, ok := recreatedPR(pr, result); ok && confirmWatchReplacement(next) {
			result = m.Run(ctx, next, monitor.Options{
				Timeout:   monitorTimeout,
				EarlyExit: monitorEarlyExit,
			})
			renderResult(cmd, next, result)
			sendNotification(ctx, fg, next, result)
		}

		if !result.Success {
			return fmt.Errorf("monitoring failed: %s", result.Message)
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorTimeout, "timeout", 0, "Wall-clock budget for the run (default 45m)")
	monitorCmd.Flags().BoolVar(&monitorEarlyExit, "early-exit", false, "Stop as soon as review feedback exists")
	monitorCmd.Flags().BoolVar(&monitorDashboard, "dashboard", false, "Serve the live event dashboard while monitoring")
	rootCmd.AddCommand(monitorCmd)
}

// buildForge creates the GitHub backend, falling back to the gh CLI's token
// when neither config nor environment provides one.
func buildForge() (forge.Forge, error) {
	token := appConfig.Forge.Token
	if token == "" {
		if out, err := exec.Command("gh", "auth", "token").Output(); err == nil {
			token = strings.TrimSpace(string(out))
		}
	}
	if token == "" {
		return nil, fmt.Errorf("no GitHub token: set GITHUB_TOKEN, forge.token in config, or authenticate gh")
	}
	return ghbackend.NewBackend(token), nil
}

func monitorConfig() monitor.Config {
	mc := appConfig.Monitor
	return monitor.Config{
		PollInterval:          mc.ParsePollInterval(),
		RebaseRecheckDelay:    mc.ParseRebaseRecheckDelay(),
		CopilotPendingTimeout: mc.ParseCopilotPendingTimeout(),
		MaxCopilotRetries:     mc.MaxCopilotRetries,
		MaxRetryWaitPolls:     mc.MaxRetryWaitPolls,
		MaxRecreateAttempts:   mc.MaxRecreateAttempts,
		MaxRebaseAttempts:     mc.MaxRebaseAttempts,
		RateFloor:             mc.RateFloor,
	}
}

// historyAdapter exposes the event log as a dashboard history source.
type historyAdapter struct {
	log *eventlog.Log
}

func (h historyAdapter) Recent(ctx context.Context, limit int) ([]dashboard.EventPayload, error) {
	entries, err := h.log.List(ctx, "", limit)
	if err != nil {
		return nil, err
	}
	events := make([]dashboard.EventPayload, len(entries))
	for i, e := range entries {
		events[i] = dashboard.EventPayload{
			PR:              e.PR,
			Type:            e.Type.String(),
			Message:         e.Message,
			SuggestedAction: e.SuggestedAction,
			Timestamp:       e.CreatedAt,
		}
	}
	return events, nil
}

func renderResult(cmd *cobra.Command, pr forge.PR, result monitor.Result) {
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	status := "FAILED"
	if result.Success {
		status = "OK"
	}

	rows := [][]string{
		{"PR", pr.String()},
		{"Status", status},
		{"CI passed", yesNo(result.CIPassed)},
		{"Review completed", yesNo(result.ReviewCompleted)},
		{"Rebases", fmt.Sprintf("%d", result.RebaseCount)},
		{"Message", result.Message},
	}
	if n, ok := result.Details[monitor.DetailRecreatedPR].(int); ok {
		rows = append(rows, []string{"Recreated as", fmt.Sprintf("#%d", n)})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return headerStyle
			}
			return cellStyle
		}).
		Rows(rows...)

	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// recreatedPR extracts the replacement PR identity from a terminal result.
func recreatedPR(pr forge.PR, result monitor.Result) (forge.PR, bool) {
	n, ok := result.Details[monitor.DetailRecreatedPR].(int)
	if !ok || n == 0 {
		return forge.PR{}, false
	}
	return forge.PR{Owner: pr.Owner, Repo: pr.Repo, Number: n}, true
}

// confirmWatchReplacement asks whether to keep monitoring the replacement
// PR. Non-interactive runs decline.
func confirmWatchReplacement(next forge.PR) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	watch := true
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Watch the replacement PR %s now?", next.String())).
				Value(&watch),
		),
	)
	if err := form.Run(); err != nil {
		return false
	}
	return watch
}

func sendNotification(ctx context.Context, fg forge.Forge, pr forge.PR, result monitor.Result) {
	event := notify.EventRunFailed
	switch {
	case result.Success:
		event = notify.EventRunSucceeded
	case result.Details[monitor.DetailRecreatedPR] != nil:
		event = notify.EventPRRecreated
	}

	payload := notify.Payload{
		Event:       event,
		PR:          pr.String(),
		Message:     result.Message,
		CIPassed:    result.CIPassed,
		RebaseCount: result.RebaseCount,
	}
	if n, ok := result.Details[monitor.DetailRecreatedPR].(int); ok {
		payload.RecreatedAs = n
	}
	if info, err := fg.GetPR(ctx, pr); err == nil {
		payload.URL = info.URL
	}

	if err := notify.Notify(ctx, &appConfig.Notifications, payload); err != nil {
		slog.Warn("notification failed", "error", err)
	}
}
