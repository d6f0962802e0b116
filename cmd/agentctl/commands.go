package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mrg275/proof2pay-agents/internal/app"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/runner"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "agentctl",
		Short:         "Operate the agent runtime from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the config file")

	load := func() (*app.App, error) {
		path := configPath
		if path == "" {
			path = os.Getenv("AGENTS_CONFIG")
		}
		if path == "" {
			path = filepath.Join("configs", "agents.yaml")
		}
		return app.New(path)
	}

	root.AddCommand(
		newRunCmd(load),
		newChatCmd(load),
		newDailyCmd(load),
		newSummaryCmd(load),
		newListCmd(load),
		newUsageCmd(load),
	)
	return root
}

type loader func() (*app.App, error)

func newRunCmd(load loader) *cobra.Command {
	var (
		extraContext string
		includeFrom  []string
		modelTier    string
	)
	cmd := &cobra.Command{
		Use:   "run <worker> <task>",
		Short: "Run a single task on a worker",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := load()
			if err != nil {
				return err
			}
			defer application.Close()

			result, err := application.Runner.Run(cmd.Context(), runner.Request{
				WorkerID:         args[0],
				Task:             strings.Join(args[1:], " "),
				ExtraContext:     extraContext,
				IncludeSummaries: includeFrom,
				ModelOverride:    roster.Tier(modelTier),
			})
			if err != nil {
				return err
			}
			fmt.Println(result.Text)
			fmt.Fprintf(os.Stderr, "\n[tokens in=%d out=%d ref=%s]\n",
				result.InputTokens, result.OutputTokens, result.OutputRef)
			return nil
		},
	}
	cmd.Flags().StringVar(&extraContext, "context", "", "extra context appended to the payload")
	cmd.Flags().StringSliceVar(&includeFrom, "include-summaries", nil, "worker ids whose summaries to inject")
	cmd.Flags().StringVar(&modelTier, "model", "", "model tier override (opus/sonnet/haiku)")
	return cmd
}

func newChatCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <worker>",
		Short: "Start an interactive conversation with a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := load()
			if err != nil {
				return err
			}
			defer application.Close()

			workerID := args[0]
			conversationID := uuid.NewString()
			fmt.Printf("Chatting with %s (ctrl-d to exit)\n", workerID)

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					fmt.Println()
					return scanner.Err()
				}
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					continue
				}

				var reply string
				if workerID == roster.CoordinatorID {
					reply, err = application.Coordinator.RunInteractive(cmd.Context(), conversationID, text)
				} else {
					reply, err = application.Runner.RunInteractive(cmd.Context(), workerID, conversationID, text)
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					continue
				}
				fmt.Printf("\n%s\n\n", reply)
			}
		},
	}
}

func newDailyCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Run the daily cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := load()
			if err != nil {
				return err
			}
			defer application.Close()
			return application.Scheduler.RunDailyCycle(cmd.Context())
		},
	}
}

func newSummaryCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <worker>",
		Short: "Print a worker's running summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := load()
			if err != nil {
				return err
			}
			defer application.Close()

			summary, err := application.Store.GetSummary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if summary == "" {
				fmt.Println("(no summary yet)")
				return nil
			}
			fmt.Println(summary)
			return nil
		},
	}
}

func newListCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the worker roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := load()
			if err != nil {
				return err
			}
			defer application.Close()

			for _, id := range application.Roster.IDs() {
				worker, _ := application.Roster.Get(id)
				schedule := string(worker.Schedule)
				if schedule == "" {
					schedule = "-"
				}
				fmt.Printf("%-20s %-8s %-10s tools=%d\n", id, worker.Model, schedule, len(worker.Tools))
			}
			return nil
		},
	}
}

func newUsageCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show token usage and cost estimate for this invocation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := load()
			if err != nil {
				return err
			}
			defer application.Close()

			stats := application.Usage.Stats()
			fmt.Printf("calls: %d\ninput tokens: %d\noutput tokens: %d\nestimated cost: $%.4f\n",
				stats.Calls, stats.InputTokens, stats.OutputTokens, stats.EstimatedCostUSD())
			tokens, dispatches := application.Coordinator.Budget().Snapshot()
			fmt.Printf("daily budget: %d tokens, %d dispatches used\n", tokens, dispatches)
			return nil
		},
	}
}
